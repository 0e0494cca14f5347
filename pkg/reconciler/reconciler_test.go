package reconciler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastack/bosun/pkg/events"
	"github.com/seastack/bosun/pkg/instance"
	"github.com/seastack/bosun/pkg/readiness"
	"github.com/seastack/bosun/pkg/resman"
	"github.com/seastack/bosun/pkg/spec"
	"github.com/seastack/bosun/pkg/storage"
	"github.com/seastack/bosun/pkg/types"
)

const testSpec = `
name: seastore
pods:
  data:
    count: 2
    tasks:
      server:
        cpus: 0.5
        memory: 512
        cmd: "./bin/server --role data"
`

type harness struct {
	recon  *Reconciler
	mgr    *instance.Manager
	driver *resman.Loopback
	store  storage.Store
}

func newHarness(t *testing.T, doc string) *harness {
	t.Helper()

	model, err := spec.Load([]byte(doc), nil, 1)
	require.NoError(t, err)

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)

	driver := resman.NewLoopback()
	gate := readiness.NewGate(&readiness.ExecProber{}, readiness.DefaultConfig())
	broker := events.NewBroker()
	broker.Start()

	mgr := instance.NewManager(model, instance.Config{
		Store:    store,
		Driver:   driver,
		Gate:     gate,
		Broker:   broker,
		Topology: func() *types.ClusterTopology { return resman.StaticTopology(3) },
		Policy:   instance.DefaultPolicy(),
	})
	mgr.Start()

	t.Cleanup(func() {
		mgr.Stop()
		gate.Stop()
		broker.Stop()
		driver.Close()
		store.Close()
	})
	return &harness{recon: New(mgr, time.Minute), mgr: mgr, driver: driver, store: store}
}

func (h *harness) awaitState(t *testing.T, id string, want types.InstanceState) *types.PodInstance {
	t.Helper()
	var inst *types.PodInstance
	require.Eventually(t, func() bool {
		got, err := h.mgr.Instance(id)
		if err != nil {
			return false
		}
		inst = got
		return got.State == want
	}, 10*time.Second, 20*time.Millisecond, "instance %s never reached %s", id, want)
	return inst
}

func TestReconcileProvisionsMissingInstances(t *testing.T) {
	h := newHarness(t, testSpec)

	h.recon.Reconcile(context.Background())

	for _, id := range []string{"data-0", "data-1"} {
		h.awaitState(t, id, types.InstanceStateReady)
	}
}

func TestReconcileReplacesFailedInstance(t *testing.T) {
	h := newHarness(t, testSpec)

	h.recon.Reconcile(context.Background())
	before := h.awaitState(t, "data-0", types.InstanceStateReady)

	h.driver.Fail("data-0", "oom killed")
	h.awaitState(t, "data-0", types.InstanceStateFailed)

	h.recon.Reconcile(context.Background())
	after := h.awaitState(t, "data-0", types.InstanceStateReady)
	assert.NotEqual(t, before.LaunchID, after.LaunchID)

	// The healthy sibling was left alone.
	sibling, err := h.mgr.Instance("data-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateReady, sibling.State)
}

func TestReconcileTrimsExcessInstances(t *testing.T) {
	h := newHarness(t, testSpec)

	h.recon.Reconcile(context.Background())
	h.awaitState(t, "data-1", types.InstanceStateReady)

	// Scale down to one.
	scaled := `
name: seastore
pods:
  data:
    count: 1
    tasks:
      server:
        cpus: 0.5
        memory: 512
        cmd: "./bin/server --role data"
`
	model, err := spec.Load([]byte(scaled), nil, 2)
	require.NoError(t, err)
	require.NoError(t, h.mgr.SetModel(model))

	h.recon.Reconcile(context.Background())
	h.awaitState(t, "data-1", types.InstanceStateDecommissioned)

	kept, err := h.mgr.Instance("data-0")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateReady, kept.State)
}

func TestReconcileSkipsLockedGroup(t *testing.T) {
	h := newHarness(t, testSpec)

	require.True(t, h.mgr.TryLockGroup("data"))
	defer h.mgr.UnlockGroup("data")

	h.recon.Reconcile(context.Background())

	// Nothing was provisioned while the group was owned elsewhere.
	instances, err := h.mgr.Instances("data")
	require.NoError(t, err)
	assert.Empty(t, instances)
}

func TestReconcileIgnoresFailedAboveCount(t *testing.T) {
	h := newHarness(t, testSpec)

	h.recon.Reconcile(context.Background())
	h.awaitState(t, "data-1", types.InstanceStateReady)

	h.driver.Fail("data-1", "disk gone")
	h.awaitState(t, "data-1", types.InstanceStateFailed)

	// With the count lowered the failed ordinal is out of range: it must
	// not be replaced, just left terminal.
	scaled := `
name: seastore
pods:
  data:
    count: 1
    tasks:
      server:
        cpus: 0.5
        memory: 512
        cmd: "./bin/server --role data"
`
	model, err := spec.Load([]byte(scaled), nil, 2)
	require.NoError(t, err)
	require.NoError(t, h.mgr.SetModel(model))

	h.recon.Reconcile(context.Background())

	inst, err := h.mgr.Instance("data-1")
	require.NoError(t, err)
	assert.Equal(t, types.InstanceStateFailed, inst.State)
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, testSpec)

	recon := New(h.mgr, 10*time.Millisecond)
	recon.Start()

	for _, id := range []string{"data-0", "data-1"} {
		h.awaitState(t, id, types.InstanceStateReady)
	}
	recon.Stop()
}
