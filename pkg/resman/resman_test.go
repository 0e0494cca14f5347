package resman

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastack/bosun/pkg/types"
)

func TestBackoffSequence(t *testing.T) {
	b := &Backoff{Base: 100 * time.Millisecond, Cap: time.Second, Factor: 2}

	assert.Equal(t, 100*time.Millisecond, b.Next())
	assert.Equal(t, 200*time.Millisecond, b.Next())
	assert.Equal(t, 400*time.Millisecond, b.Next())
	assert.Equal(t, 800*time.Millisecond, b.Next())
	// Capped from here on.
	assert.Equal(t, time.Second, b.Next())
	assert.Equal(t, time.Second, b.Next())

	b.Reset()
	assert.Equal(t, 100*time.Millisecond, b.Next())
}

func TestDefaultBackoff(t *testing.T) {
	b := DefaultBackoff()
	assert.Equal(t, 500*time.Millisecond, b.Next())
	assert.Equal(t, time.Second, b.Next())
}

func launchRequest(id, instanceID string) *types.LaunchRequest {
	return &types.LaunchRequest{ID: id, InstanceID: instanceID, NodeID: "node-0", Command: "run"}
}

func awaitUpdate(t *testing.T, driver *Loopback, want types.RunState) types.StatusUpdate {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case update := <-driver.Updates():
			if update.State == want {
				return update
			}
		case <-deadline:
			t.Fatalf("no %s update", want)
		}
	}
}

func TestLoopbackLaunchLifecycle(t *testing.T) {
	driver := NewLoopback()
	defer driver.Close()

	require.NoError(t, driver.Launch(context.Background(), launchRequest("launch-1", "data-0")))

	staging := awaitUpdate(t, driver, types.RunStateStaging)
	assert.Equal(t, "data-0", staging.InstanceID)
	assert.Equal(t, "launch-1", staging.LaunchID)

	running := awaitUpdate(t, driver, types.RunStateRunning)
	assert.Equal(t, "launch-1", running.LaunchID)
	assert.True(t, driver.Running("data-0"))
}

func TestLoopbackMultiTaskInstance(t *testing.T) {
	driver := NewLoopback()
	defer driver.Close()

	require.NoError(t, driver.Launch(context.Background(), launchRequest("launch-1", "exporter-0")))
	require.NoError(t, driver.Launch(context.Background(), launchRequest("launch-2", "exporter-0")))

	// Both launches reach running independently.
	seen := map[string]bool{}
	deadline := time.After(time.Second)
	for len(seen) < 2 {
		select {
		case update := <-driver.Updates():
			if update.State == types.RunStateRunning {
				seen[update.LaunchID] = true
			}
		case <-deadline:
			t.Fatalf("running updates seen: %v", seen)
		}
	}
	assert.True(t, seen["launch-1"])
	assert.True(t, seen["launch-2"])
}

func TestLoopbackKill(t *testing.T) {
	driver := NewLoopback()
	defer driver.Close()

	require.NoError(t, driver.Launch(context.Background(), launchRequest("launch-1", "data-0")))
	awaitUpdate(t, driver, types.RunStateRunning)

	require.NoError(t, driver.Kill(context.Background(), "data-0", time.Second))
	finished := awaitUpdate(t, driver, types.RunStateFinished)
	assert.Equal(t, "launch-1", finished.LaunchID)
	assert.False(t, driver.Running("data-0"))
}

func TestLoopbackFail(t *testing.T) {
	driver := NewLoopback()
	defer driver.Close()

	require.NoError(t, driver.Launch(context.Background(), launchRequest("launch-1", "data-0")))
	awaitUpdate(t, driver, types.RunStateRunning)

	driver.Fail("data-0", "oom killed")
	failed := awaitUpdate(t, driver, types.RunStateFailed)
	assert.Equal(t, "oom killed", failed.Message)
	assert.False(t, driver.Running("data-0"))
}

func TestLoopbackLaunchErr(t *testing.T) {
	driver := NewLoopback()
	defer driver.Close()
	driver.LaunchErr = errors.New("unavailable")

	err := driver.Launch(context.Background(), launchRequest("launch-1", "data-0"))
	require.Error(t, err)
	assert.False(t, driver.Running("data-0"))
}

func TestLoopbackClose(t *testing.T) {
	driver := NewLoopback()
	require.NoError(t, driver.Close())
	require.NoError(t, driver.Close())

	err := driver.Launch(context.Background(), launchRequest("launch-1", "data-0"))
	assert.Error(t, err)
}

func TestStaticTopology(t *testing.T) {
	topo := StaticTopology(3)
	require.Len(t, topo.Nodes, 3)
	assert.Equal(t, "node-0", topo.Nodes[0].ID)
	assert.NotNil(t, topo.Nodes[0].Resources)
	assert.Greater(t, topo.Nodes[0].PortRange.End, topo.Nodes[0].PortRange.Begin)
}

func TestLoadTopology(t *testing.T) {
	doc := `
nodes:
  - id: rack1-node1
    hostname: rack1-node1.dc
    attributes:
      rack: "1"
    networks: [backend]
    cpus: 32
    memory: 131072
    disk: 2097152
    ports:
      begin: 30000
      end: 31000
  - id: rack2-node1
    cpus: 16
    memory: 65536
    disk: 1048576
`
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))

	topo, err := LoadTopology(path)
	require.NoError(t, err)
	require.Len(t, topo.Nodes, 2)

	first := topo.Nodes[0]
	assert.Equal(t, "rack1-node1", first.ID)
	assert.Equal(t, "rack1-node1.dc", first.Hostname)
	assert.Equal(t, "1", first.Attributes["rack"])
	assert.Equal(t, types.PortRange{Begin: 30000, End: 31000}, first.PortRange)

	// Defaults fill in when omitted.
	second := topo.Nodes[1]
	assert.Equal(t, "rack2-node1", second.Hostname)
	assert.Equal(t, 20000, second.PortRange.Begin)
}

func TestLoadTopologyRejectsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "topology.yaml")
	require.NoError(t, os.WriteFile(path, []byte("nodes: []\n"), 0o644))

	_, err := LoadTopology(path)
	assert.Error(t, err)
}
