package storage

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastack/bosun/pkg/types"
)

func testStore(t *testing.T) *BoltStore {
	t.Helper()
	store, err := NewBoltStore(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func instanceFixture(group string, ordinal int) *types.PodInstance {
	return &types.PodInstance{
		ID:         types.InstanceID(group, ordinal),
		Group:      group,
		Ordinal:    ordinal,
		State:      types.InstanceStateRunning,
		Readiness:  types.ReadinessHealthy,
		NodeID:     "node-0",
		Ports:      map[string]int{"PORT_HTTP": 20001},
		Generation: 1,
		ConfigHash: "abc123",
		CreatedAt:  time.Now().UTC(),
	}
}

func TestInstanceRoundtrip(t *testing.T) {
	store := testStore(t)

	inst := instanceFixture("data", 0)
	require.NoError(t, store.PutInstance(inst))

	got, err := store.GetInstance("data-0")
	require.NoError(t, err)
	assert.Equal(t, inst.ID, got.ID)
	assert.Equal(t, inst.State, got.State)
	assert.Equal(t, inst.Ports, got.Ports)
	assert.Equal(t, inst.ConfigHash, got.ConfigHash)
}

func TestGetInstanceNotFound(t *testing.T) {
	store := testStore(t)

	_, err := store.GetInstance("ghost-0")
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestPutInstanceUpsert(t *testing.T) {
	store := testStore(t)

	inst := instanceFixture("data", 0)
	require.NoError(t, store.PutInstance(inst))

	inst.State = types.InstanceStateFailed
	inst.Error = "task exited"
	require.NoError(t, store.PutInstance(inst))

	got, err := store.GetInstance("data-0")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateFailed, got.State)
	assert.Equal(t, "task exited", got.Error)
}

func TestListInstancesByGroup(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.PutInstance(instanceFixture("data", 1)))
	require.NoError(t, store.PutInstance(instanceFixture("data", 0)))
	require.NoError(t, store.PutInstance(instanceFixture("master", 0)))

	data, err := store.ListInstancesByGroup("data")
	require.NoError(t, err)
	require.Len(t, data, 2)
	// Ordinal order regardless of insertion order.
	assert.Equal(t, "data-0", data[0].ID)
	assert.Equal(t, "data-1", data[1].ID)

	all, err := store.ListInstances()
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestDeleteInstance(t *testing.T) {
	store := testStore(t)

	require.NoError(t, store.PutInstance(instanceFixture("data", 0)))
	require.NoError(t, store.DeleteInstance("data-0"))

	_, err := store.GetInstance("data-0")
	assert.True(t, errors.Is(err, ErrNotFound))

	// Deleting a missing record is not an error.
	assert.NoError(t, store.DeleteInstance("data-0"))
}

func TestPlanRoundtrip(t *testing.T) {
	store := testStore(t)

	plan := &types.Plan{
		ID:         "plan-1",
		Name:       "deploy",
		State:      types.PlanStateRunning,
		Generation: 1,
		StartedAt:  time.Now().UTC(),
		Phases: []*types.Phase{
			{Name: "master-deploy", PodGroup: "master", Strategy: types.StrategySerial, State: types.PhaseStateLaunching},
		},
	}
	require.NoError(t, store.PutPlan(plan))

	got, err := store.GetPlan("plan-1")
	require.NoError(t, err)
	assert.Equal(t, types.PlanStateRunning, got.State)
	require.Len(t, got.Phases, 1)
	assert.Equal(t, "master-deploy", got.Phases[0].Name)

	plans, err := store.ListPlans()
	require.NoError(t, err)
	assert.Len(t, plans, 1)
}

func TestGenerationRoundtrip(t *testing.T) {
	store := testStore(t)

	_, err := store.GetGeneration()
	assert.True(t, errors.Is(err, ErrNotFound))

	require.NoError(t, store.PutGeneration(7))
	gen, err := store.GetGeneration()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), gen)
}

func TestStateSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	store, err := NewBoltStore(dir)
	require.NoError(t, err)
	require.NoError(t, store.PutInstance(instanceFixture("data", 0)))
	require.NoError(t, store.PutGeneration(3))
	require.NoError(t, store.Close())

	reopened, err := NewBoltStore(dir)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.GetInstance("data-0")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateRunning, got.State)

	gen, err := reopened.GetGeneration()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), gen)
}
