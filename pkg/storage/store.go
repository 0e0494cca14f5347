package storage

import (
	"errors"

	"github.com/seastack/bosun/pkg/types"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// Store persists orchestrator state: pod instances, plan runs, and the
// current configuration generation. All writes are upserts.
type Store interface {
	// Instances
	PutInstance(inst *types.PodInstance) error
	GetInstance(id string) (*types.PodInstance, error)
	ListInstances() ([]*types.PodInstance, error)
	ListInstancesByGroup(group string) ([]*types.PodInstance, error)
	DeleteInstance(id string) error

	// Plans
	PutPlan(plan *types.Plan) error
	GetPlan(id string) (*types.Plan, error)
	ListPlans() ([]*types.Plan, error)

	// Generation
	PutGeneration(gen uint64) error
	GetGeneration() (uint64, error)

	// Transport certificate authority, sealed at rest.
	PutAuthority(data []byte) error
	GetAuthority() ([]byte, error)

	Close() error
}
