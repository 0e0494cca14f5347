package readiness

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seastack/bosun/pkg/types"
)

// fakeProber replays a scripted sequence of results, repeating the last
// one once the script runs out.
type fakeProber struct {
	mu      sync.Mutex
	results []Result
	calls   int
}

func (f *fakeProber) Probe(ctx context.Context, inst *types.PodInstance, check *types.ReadinessCheck) Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	if i >= len(f.results) {
		i = len(f.results) - 1
	}
	f.calls++
	return f.results[i]
}

func testInstance() *types.PodInstance {
	return &types.PodInstance{ID: "data-0", Group: "data", Ordinal: 0}
}

func fastCheck() *types.ReadinessCheck {
	return &types.ReadinessCheck{
		Command:  "true",
		Interval: 10 * time.Millisecond,
		Timeout:  50 * time.Millisecond,
	}
}

func collect(t *testing.T, gate *Gate, timeout time.Duration, stop func(Report) bool) []Report {
	t.Helper()
	var got []Report
	deadline := time.After(timeout)
	for {
		select {
		case r := <-gate.Reports():
			got = append(got, r)
			if stop(r) {
				return got
			}
		case <-deadline:
			t.Fatalf("timed out, reports so far: %+v", got)
		}
	}
}

func TestWatchNilCheckReportsHealthy(t *testing.T) {
	gate := NewGate(&fakeProber{}, DefaultConfig())
	defer gate.Stop()

	gate.Watch(testInstance(), nil)

	select {
	case r := <-gate.Reports():
		assert.Equal(t, "data-0", r.InstanceID)
		assert.Equal(t, types.ReadinessHealthy, r.State)
		assert.False(t, r.Failed)
	case <-time.After(time.Second):
		t.Fatal("no report")
	}
}

func TestProbeBecomesHealthy(t *testing.T) {
	prober := &fakeProber{results: []Result{{Healthy: true}}}
	gate := NewGate(prober, DefaultConfig())
	defer gate.Stop()

	gate.Watch(testInstance(), fastCheck())

	reports := collect(t, gate, time.Second, func(r Report) bool {
		return r.State == types.ReadinessHealthy
	})
	last := reports[len(reports)-1]
	assert.False(t, last.Failed)
	assert.Zero(t, last.ConsecutiveFailures)
}

func TestConsecutiveFailuresReachThreshold(t *testing.T) {
	prober := &fakeProber{results: []Result{{Healthy: false, Message: "connection refused"}}}
	gate := NewGate(prober, Config{FailureThreshold: 3})
	defer gate.Stop()

	gate.Watch(testInstance(), fastCheck())

	reports := collect(t, gate, time.Second, func(r Report) bool { return r.Failed })
	last := reports[len(reports)-1]
	assert.Equal(t, types.ReadinessUnhealthy, last.State)
	assert.GreaterOrEqual(t, last.ConsecutiveFailures, 3)
	assert.Equal(t, "connection refused", last.Message)
}

func TestHealthyResetsFailureCount(t *testing.T) {
	// Two failures, then recovery: the threshold of three is never hit.
	prober := &fakeProber{results: []Result{
		{Healthy: false},
		{Healthy: false},
		{Healthy: true},
	}}
	gate := NewGate(prober, Config{FailureThreshold: 3})
	defer gate.Stop()

	gate.Watch(testInstance(), fastCheck())

	reports := collect(t, gate, time.Second, func(r Report) bool {
		return r.State == types.ReadinessHealthy
	})
	for _, r := range reports {
		assert.False(t, r.Failed, "no report should cross the threshold: %+v", r)
	}
}

func TestTimedOutProbeReportsUnknown(t *testing.T) {
	prober := &fakeProber{results: []Result{{TimedOut: true, Message: "probe timed out"}}}
	gate := NewGate(prober, Config{FailureThreshold: 2})
	defer gate.Stop()

	gate.Watch(testInstance(), fastCheck())

	reports := collect(t, gate, time.Second, func(r Report) bool { return r.Failed })
	// The state machine parks in Unknown, not Unhealthy, when probes
	// produce no answer; repeated timeouts still count toward the
	// threshold.
	assert.Equal(t, types.ReadinessUnknown, reports[0].State)
}

func TestUnwatchStopsProbing(t *testing.T) {
	prober := &fakeProber{results: []Result{{Healthy: true}}}
	gate := NewGate(prober, DefaultConfig())
	defer gate.Stop()

	inst := testInstance()
	gate.Watch(inst, fastCheck())
	collect(t, gate, time.Second, func(r Report) bool {
		return r.State == types.ReadinessHealthy
	})

	gate.Unwatch(inst.ID)
	time.Sleep(50 * time.Millisecond)

	prober.mu.Lock()
	calls := prober.calls
	prober.mu.Unlock()
	time.Sleep(50 * time.Millisecond)
	prober.mu.Lock()
	assert.Equal(t, calls, prober.calls, "prober still being called after Unwatch")
	prober.mu.Unlock()
}

func TestDelayPostponesFirstProbe(t *testing.T) {
	prober := &fakeProber{results: []Result{{Healthy: true}}}
	gate := NewGate(prober, DefaultConfig())
	defer gate.Stop()

	check := fastCheck()
	check.Delay = 100 * time.Millisecond
	start := time.Now()
	gate.Watch(testInstance(), check)

	collect(t, gate, time.Second, func(r Report) bool {
		return r.State == types.ReadinessHealthy
	})
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestReportsCarryLaunchID(t *testing.T) {
	prober := &fakeProber{results: []Result{{Healthy: true}}}
	gate := NewGate(prober, DefaultConfig())
	defer gate.Stop()

	inst := testInstance()
	inst.LaunchID = "launch-7"
	gate.Watch(inst, fastCheck())

	reports := collect(t, gate, time.Second, func(r Report) bool {
		return r.State == types.ReadinessHealthy
	})
	for _, r := range reports {
		assert.Equal(t, "launch-7", r.LaunchID)
	}
}

func TestGateNeverBlocksOnStalledConsumer(t *testing.T) {
	gate := NewGate(&fakeProber{}, DefaultConfig())
	defer gate.Stop()

	// Nothing drains the report channel; overflowing it must drop, not
	// wedge the caller.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 300; i++ {
			gate.Watch(&types.PodInstance{ID: fmt.Sprintf("node-%d", i)}, nil)
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("gate blocked while its report channel was full")
	}
}

func TestExecProberRunsCommand(t *testing.T) {
	prober := &ExecProber{}
	check := &types.ReadinessCheck{Command: "true", Timeout: 5 * time.Second}

	result := prober.Probe(context.Background(), testInstance(), check)
	assert.True(t, result.Healthy)

	check.Command = "false"
	result = prober.Probe(context.Background(), testInstance(), check)
	assert.False(t, result.Healthy)
	assert.False(t, result.TimedOut)
}

func TestExecProberExportsPorts(t *testing.T) {
	prober := &ExecProber{}
	inst := testInstance()
	inst.Ports = map[string]int{"PORT_HTTP": 20001}
	check := &types.ReadinessCheck{Command: `test "$PORT_HTTP" = 20001`, Timeout: 5 * time.Second}

	result := prober.Probe(context.Background(), inst, check)
	require.True(t, result.Healthy, result.Message)
}

func TestExecProberTimeout(t *testing.T) {
	prober := &ExecProber{}
	check := &types.ReadinessCheck{Command: "sleep 5", Timeout: 50 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	result := prober.Probe(ctx, testInstance(), check)
	assert.False(t, result.Healthy)
	assert.True(t, result.TimedOut)
}
