package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastack/bosun/pkg/client"
	"github.com/seastack/bosun/pkg/events"
	"github.com/seastack/bosun/pkg/instance"
	"github.com/seastack/bosun/pkg/plan"
	"github.com/seastack/bosun/pkg/readiness"
	"github.com/seastack/bosun/pkg/resman"
	"github.com/seastack/bosun/pkg/spec"
	"github.com/seastack/bosun/pkg/storage"
	"github.com/seastack/bosun/pkg/types"
)

const serviceSpec = `
name: seastore
pods:
  master:
    count: 1
    tasks:
      server:
        cpus: 0.5
        memory: 512
        cmd: "./bin/server --role master"
  data:
    count: 2
    tasks:
      server:
        cpus: 0.5
        memory: 512
        cmd: "./bin/server --role data"
`

type harness struct {
	c   *client.Client
	mgr *instance.Manager
	srv *httptest.Server
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	model, err := spec.Load([]byte(serviceSpec), nil, 1)
	require.NoError(t, err)

	store, err := storage.NewBoltStore(t.TempDir())
	require.NoError(t, err)
	driver := resman.NewLoopback()
	gate := readiness.NewGate(readiness.NewProber(), readiness.DefaultConfig())
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

	engine := plan.NewEngine(mgr, store, broker, plan.Config{PollInterval: 20 * time.Millisecond})
	srv := httptest.NewServer(NewServer(mgr, engine, broker, nil).Router())

	t.Cleanup(func() {
		srv.Close()
		mgr.Stop()
		gate.Stop()
		broker.Stop()
		driver.Close()
		store.Close()
	})
	return &harness{
		c:   client.New(strings.TrimPrefix(srv.URL, "http://")),
		mgr: mgr,
		srv: srv,
	}
}

func (h *harness) deployAndWait(t *testing.T) *client.Plan {
	t.Helper()
	p, err := h.c.Deploy(context.Background())
	require.NoError(t, err)

	var got *client.Plan
	require.Eventually(t, func() bool {
		current, err := h.c.Plan(context.Background(), p.ID)
		if err != nil {
			return false
		}
		got = current
		return current.State == "complete"
	}, 15*time.Second, 50*time.Millisecond)
	return got
}

func TestHealthz(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.srv.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeployAndPodViews(t *testing.T) {
	h := newHarness(t)

	done := h.deployAndWait(t)
	require.Len(t, done.Phases, 2)
	assert.Equal(t, "complete", done.Phases[0].State)

	groups, err := h.c.PodGroups(context.Background())
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "master", groups[0].Name)
	assert.Equal(t, 1, groups[0].Desired)

	data, err := h.c.PodGroup(context.Background(), "data")
	require.NoError(t, err)
	assert.Equal(t, 2, data.Active)
	require.Len(t, data.Instances, 2)
	assert.Equal(t, "data-0", data.Instances[0].ID)
	assert.Equal(t, "ready", data.Instances[0].State)
}

func TestGetPlanByName(t *testing.T) {
	h := newHarness(t)
	h.deployAndWait(t)

	p, err := h.c.Plan(context.Background(), "deploy")
	require.NoError(t, err)
	assert.Equal(t, "deploy", p.Name)
	assert.Equal(t, "complete", p.State)
}

func TestUnknownPodGroup(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.PodGroup(context.Background(), "nope")
	assert.Error(t, err)
}

func TestSecondDeployWhileRunningConflicts(t *testing.T) {
	h := newHarness(t)

	_, err := h.c.Deploy(context.Background())
	require.NoError(t, err)
	_, err = h.c.Deploy(context.Background())
	assert.Error(t, err)
}

func TestUpdateRejectsRenamedService(t *testing.T) {
	h := newHarness(t)
	h.deployAndWait(t)

	renamed := strings.Replace(serviceSpec, "name: seastore", "name: other", 1)
	_, err := h.c.Update(context.Background(), []byte(renamed))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match")
}

func TestUpdateScalesGroup(t *testing.T) {
	h := newHarness(t)
	h.deployAndWait(t)

	scaled := strings.Replace(serviceSpec, "count: 2", "count: 3", 1)
	p, err := h.c.Update(context.Background(), []byte(scaled))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		current, err := h.c.Plan(context.Background(), p.ID)
		return err == nil && current.State == "complete"
	}, 15*time.Second, 50*time.Millisecond)

	data, err := h.c.PodGroup(context.Background(), "data")
	require.NoError(t, err)
	assert.Equal(t, 3, data.Active)
}

func TestRejectedUpdateKeepsDeployedGeneration(t *testing.T) {
	h := newHarness(t)
	h.deployAndWait(t)

	// First revision adds a group that can never place, keeping its
	// update plan live in a blocked phase.
	pinned := serviceSpec + `
  stuck:
    count: 1
    placement:
      attributes: {rack: "42"}
    tasks:
      server: {cpus: 0.5, memory: 512, cmd: run}
`
	p, err := h.c.Update(context.Background(), []byte(pinned))
	require.NoError(t, err)
	require.Equal(t, uint64(2), h.mgr.Model().Generation())

	// While it runs, a second revision is rejected and must not become
	// the deployed model for the reconciler to act on.
	scaled := strings.Replace(serviceSpec, "count: 2", "count: 5", 1)
	_, err = h.c.Update(context.Background(), []byte(scaled))
	require.Error(t, err)
	assert.Equal(t, uint64(2), h.mgr.Model().Generation())
	assert.Equal(t, 2, h.mgr.Model().PodGroup("data").Count)

	require.NoError(t, h.c.CancelPlan(context.Background(), p.ID))
}

func TestRestartInstance(t *testing.T) {
	h := newHarness(t)
	h.deployAndWait(t)

	before, err := h.mgr.Instance("data-0")
	require.NoError(t, err)

	require.NoError(t, h.c.RestartInstance(context.Background(), "data-0"))

	require.Eventually(t, func() bool {
		after, err := h.mgr.Instance("data-0")
		return err == nil && after.State == types.InstanceStateReady && after.LaunchID != before.LaunchID
	}, 10*time.Second, 50*time.Millisecond)
}

func TestRestartBusyGroupConflicts(t *testing.T) {
	h := newHarness(t)
	h.deployAndWait(t)

	h.mgr.LockGroup("data")
	defer h.mgr.UnlockGroup("data")

	err := h.c.RestartInstance(context.Background(), "data-0")
	assert.Error(t, err)
}

func TestEventsRecorded(t *testing.T) {
	h := newHarness(t)
	h.deployAndWait(t)

	require.Eventually(t, func() bool {
		evts, err := h.c.Events(context.Background())
		if err != nil {
			return false
		}
		for _, e := range evts {
			if e.Type == events.EventPlanCompleted {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)
}
