package instance

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seastack/bosun/pkg/events"
	"github.com/seastack/bosun/pkg/log"
	"github.com/seastack/bosun/pkg/provision"
	"github.com/seastack/bosun/pkg/readiness"
	"github.com/seastack/bosun/pkg/resman"
	"github.com/seastack/bosun/pkg/spec"
	"github.com/seastack/bosun/pkg/storage"
	"github.com/seastack/bosun/pkg/types"
)

// Policy is the configurable remediation and safety policy. It is an
// input, never hard-coded: which groups may shrink and how far is decided
// by whoever writes the configuration.
type Policy struct {
	// MinSafeCount is the floor of active instances per pod group below
	// which decommissioning is rejected (quorum preservation).
	MinSafeCount map[string]int

	// FailureThreshold is the consecutive readiness failures before an
	// instance is marked Failed.
	FailureThreshold int

	// DrainTimeout bounds how long a decommission waits for a clean drain.
	DrainTimeout time.Duration

	// LaunchRetries bounds resource-manager retries before a launch is
	// escalated as ErrResourceManagerUnavailable.
	LaunchRetries int

	// RollingOverlap is the allowed surplus over the desired count during
	// a rolling update. Zero means never exceed desired. Only zero is
	// supported; a non-zero value is rejected when a rolling replacement
	// would need it.
	RollingOverlap int
}

// DefaultPolicy returns the default safety policy.
func DefaultPolicy() Policy {
	return Policy{
		FailureThreshold: 3,
		DrainTimeout:     30 * time.Second,
		LaunchRetries:    5,
		RollingOverlap:   0,
	}
}

// Issuer mints per-instance transport certificates. Nil disables issuance;
// launches then carry sandbox paths only.
type Issuer interface {
	Issue(identity, instanceID string, dnsNames []string) (certPEM, keyPEM, caPEM []byte, err error)
}

// Config wires a Manager.
type Config struct {
	Store    storage.Store
	Driver   resman.Driver
	Gate     *readiness.Gate
	Broker   *events.Broker
	Topology func() *types.ClusterTopology
	Policy   Policy
	Issuer   Issuer
}

// Manager owns pod instances. It converges the running-instance count of
// every pod group toward its desired count and is the only component that
// mutates PodInstance records. Mutating operations on one pod group are
// serialized by a per-group exclusive lock shared with the plan engine and
// the reconciler.
type Manager struct {
	store    storage.Store
	driver   resman.Driver
	gate     *readiness.Gate
	broker   *events.Broker
	prov     *provision.Provisioner
	topology func() *types.ClusterTopology
	policy   Policy
	issuer   Issuer
	logger   zerolog.Logger

	mu    sync.Mutex
	model *spec.Model

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewManager creates a Manager around a loaded spec model.
func NewManager(model *spec.Model, cfg Config) *Manager {
	m := &Manager{
		store:    cfg.Store,
		driver:   cfg.Driver,
		gate:     cfg.Gate,
		broker:   cfg.Broker,
		topology: cfg.Topology,
		policy:   cfg.Policy,
		issuer:   cfg.Issuer,
		logger:   log.WithComponent("instance-manager"),
		model:    model,
		locks:    make(map[string]*sync.Mutex),
		stopCh:   make(chan struct{}),
	}
	if m.policy.FailureThreshold <= 0 {
		m.policy.FailureThreshold = DefaultPolicy().FailureThreshold
	}
	if m.policy.DrainTimeout <= 0 {
		m.policy.DrainTimeout = DefaultPolicy().DrainTimeout
	}
	if m.policy.LaunchRetries <= 0 {
		m.policy.LaunchRetries = DefaultPolicy().LaunchRetries
	}
	m.prov = &provision.Provisioner{Templates: func(name string) (string, bool) {
		return m.Model().Template(name)
	}}
	return m
}

// Start launches the status and readiness pumps.
func (m *Manager) Start() {
	m.wg.Add(2)
	go m.statusPump()
	go m.readinessPump()
}

// Stop halts the pumps. In-flight operations finish against the store.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}

// Model returns the current spec model.
func (m *Manager) Model() *spec.Model {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.model
}

// SetModel installs a revised spec model (a configuration update) and
// persists its generation. Running instances are untouched until a plan
// or the reconciler acts on the new desired state.
func (m *Manager) SetModel(model *spec.Model) error {
	m.mu.Lock()
	m.model = model
	m.mu.Unlock()
	return m.store.PutGeneration(model.Generation())
}

// Policy returns the active policy.
func (m *Manager) Policy() Policy {
	return m.policy
}

// LockGroup acquires the exclusive mutating lock for a pod group.
func (m *Manager) LockGroup(group string) {
	m.groupLock(group).Lock()
}

// TryLockGroup acquires the group lock without blocking. The reconciler
// uses this to skip groups with an in-flight plan phase.
func (m *Manager) TryLockGroup(group string) bool {
	return m.groupLock(group).TryLock()
}

// UnlockGroup releases the group lock.
func (m *Manager) UnlockGroup(group string) {
	m.groupLock(group).Unlock()
}

func (m *Manager) groupLock(group string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	lock, ok := m.locks[group]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[group] = lock
	}
	return lock
}

// Instances returns the stored instances of a pod group in ordinal order.
func (m *Manager) Instances(group string) ([]*types.PodInstance, error) {
	return m.store.ListInstancesByGroup(group)
}

// Instance returns one instance by ID.
func (m *Manager) Instance(id string) (*types.PodInstance, error) {
	return m.store.GetInstance(id)
}

// ActiveCount counts the group's instances in non-terminal states.
func (m *Manager) ActiveCount(group string) (int, error) {
	instances, err := m.store.ListInstancesByGroup(group)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, inst := range instances {
		if inst.State.Active() {
			count++
		}
	}
	return count, nil
}

// DesiredCounts reports desired counts per group for the metrics collector.
func (m *Manager) DesiredCounts() map[string]int {
	model := m.Model()
	out := make(map[string]int)
	for _, group := range model.PodGroups() {
		out[group.Name] = group.Count
	}
	return out
}

// NeedsUpdate reports whether an instance was launched from an older
// group configuration than the current model's. Count-only revisions do
// not change the group hash, so scaling never churns running instances.
func (m *Manager) NeedsUpdate(inst *types.PodInstance) bool {
	return inst.ConfigHash != m.Model().GroupHash(inst.Group)
}

func (m *Manager) putInstance(inst *types.PodInstance) error {
	inst.UpdatedAt = time.Now()
	return m.store.PutInstance(inst)
}
