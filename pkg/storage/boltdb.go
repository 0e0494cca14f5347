package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"

	bolt "go.etcd.io/bbolt"

	"github.com/seastack/bosun/pkg/types"
)

var (
	// Bucket names
	bucketInstances = []byte("instances")
	bucketPlans     = []byte("plans")
	bucketMeta      = []byte("meta")

	keyGeneration = []byte("generation")
	keyAuthority  = []byte("authority")
)

// BoltStore implements Store using BoltDB.
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (or creates) the state database under dataDir.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "bosun.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, bucket := range [][]byte{bucketInstances, bucketPlans, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Instance operations

func (s *BoltStore) PutInstance(inst *types.PodInstance) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(inst)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketInstances).Put([]byte(inst.ID), data)
	})
}

func (s *BoltStore) GetInstance(id string) (*types.PodInstance, error) {
	var inst types.PodInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketInstances).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("instance %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &inst)
	})
	if err != nil {
		return nil, err
	}
	return &inst, nil
}

func (s *BoltStore) ListInstances() ([]*types.PodInstance, error) {
	var instances []*types.PodInstance
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).ForEach(func(k, v []byte) error {
			var inst types.PodInstance
			if err := json.Unmarshal(v, &inst); err != nil {
				return err
			}
			instances = append(instances, &inst)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sortInstances(instances)
	return instances, nil
}

func (s *BoltStore) ListInstancesByGroup(group string) ([]*types.PodInstance, error) {
	all, err := s.ListInstances()
	if err != nil {
		return nil, err
	}
	var out []*types.PodInstance
	for _, inst := range all {
		if inst.Group == group {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (s *BoltStore) DeleteInstance(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketInstances).Delete([]byte(id))
	})
}

// Plan operations

func (s *BoltStore) PutPlan(plan *types.Plan) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(plan)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketPlans).Put([]byte(plan.ID), data)
	})
}

func (s *BoltStore) GetPlan(id string) (*types.Plan, error) {
	var plan types.Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketPlans).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("plan %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &plan)
	})
	if err != nil {
		return nil, err
	}
	return &plan, nil
}

func (s *BoltStore) ListPlans() ([]*types.Plan, error) {
	var plans []*types.Plan
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPlans).ForEach(func(k, v []byte) error {
			var plan types.Plan
			if err := json.Unmarshal(v, &plan); err != nil {
				return err
			}
			plans = append(plans, &plan)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].StartedAt.Before(plans[j].StartedAt)
	})
	return plans, nil
}

// Generation

func (s *BoltStore) PutGeneration(gen uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		buf := make([]byte, 8)
		binary.BigEndian.PutUint64(buf, gen)
		return tx.Bucket(bucketMeta).Put(keyGeneration, buf)
	})
}

func (s *BoltStore) GetGeneration() (uint64, error) {
	var gen uint64
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyGeneration)
		if data == nil {
			return fmt.Errorf("generation: %w", ErrNotFound)
		}
		gen = binary.BigEndian.Uint64(data)
		return nil
	})
	return gen, err
}

// Authority

func (s *BoltStore) PutAuthority(data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyAuthority, data)
	})
}

func (s *BoltStore) GetAuthority() ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketMeta).Get(keyAuthority)
		if data == nil {
			return fmt.Errorf("authority: %w", ErrNotFound)
		}
		out = append([]byte(nil), data...)
		return nil
	})
	return out, err
}

// sortInstances orders instances by group, then ordinal. Serial phases and
// the reconciler both rely on ordinal order being stable.
func sortInstances(instances []*types.PodInstance) {
	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Group != instances[j].Group {
			return instances[i].Group < instances[j].Group
		}
		return instances[i].Ordinal < instances[j].Ordinal
	})
}
