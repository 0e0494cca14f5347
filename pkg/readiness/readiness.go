package readiness

import (
	"context"
	"sync"
	"time"

	"github.com/seastack/bosun/pkg/log"
	"github.com/seastack/bosun/pkg/types"
)

// Result is the outcome of one probe.
type Result struct {
	Healthy   bool
	TimedOut  bool
	Message   string
	CheckedAt time.Time
	Duration  time.Duration
}

// Prober executes a readiness probe against one instance.
type Prober interface {
	Probe(ctx context.Context, inst *types.PodInstance, check *types.ReadinessCheck) Result
}

// Report is the gate's non-blocking notification to the instance manager.
// LaunchID identifies the provision the probe ran against, so a consumer
// can discard reports that outlived a replacement.
type Report struct {
	InstanceID          string
	LaunchID            string
	State               types.ReadinessState
	Failed              bool // consecutive failures reached the threshold
	ConsecutiveFailures int
	Message             string
}

// Config tunes gate behavior.
type Config struct {
	// FailureThreshold is the number of consecutive non-healthy probes
	// before an instance is reported Failed.
	FailureThreshold int
}

// DefaultConfig returns the gate defaults.
func DefaultConfig() Config {
	return Config{FailureThreshold: 3}
}

// Gate drives asynchronous readiness probing for pod instances. One timer
// goroutine per watched instance reports into a shared buffered channel;
// the gate never blocks its caller and never blocks on a slow consumer.
type Gate struct {
	prober    Prober
	threshold int

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	reports chan Report
	stopCh  chan struct{}
}

// NewGate creates a gate using the given prober.
func NewGate(prober Prober, cfg Config) *Gate {
	threshold := cfg.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultConfig().FailureThreshold
	}
	return &Gate{
		prober:    prober,
		threshold: threshold,
		cancels:   make(map[string]context.CancelFunc),
		reports:   make(chan Report, 256),
		stopCh:    make(chan struct{}),
	}
}

// Reports returns the gate's report stream.
func (g *Gate) Reports() <-chan Report {
	return g.reports
}

// Watch starts probing an instance. A nil check means the instance has no
// probe; it is reported Healthy immediately. Watching an already watched
// instance restarts its probe loop from scratch.
func (g *Gate) Watch(inst *types.PodInstance, check *types.ReadinessCheck) {
	g.mu.Lock()
	if cancel, ok := g.cancels[inst.ID]; ok {
		cancel()
	}
	if check == nil {
		delete(g.cancels, inst.ID)
		g.mu.Unlock()
		g.send(Report{InstanceID: inst.ID, LaunchID: inst.LaunchID, State: types.ReadinessHealthy})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	g.cancels[inst.ID] = cancel
	g.mu.Unlock()

	go g.probeLoop(ctx, inst, check)
}

// Unwatch stops probing an instance.
func (g *Gate) Unwatch(instanceID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if cancel, ok := g.cancels[instanceID]; ok {
		cancel()
		delete(g.cancels, instanceID)
	}
}

// Stop cancels every probe loop.
func (g *Gate) Stop() {
	close(g.stopCh)
	g.mu.Lock()
	defer g.mu.Unlock()
	for id, cancel := range g.cancels {
		cancel()
		delete(g.cancels, id)
	}
}

// probeLoop is the per-instance state machine:
//
//	Unknown -> (Healthy | Unhealthy)
//
// A probe that produces no answer within its timeout drops the state back
// to Unknown until the next interval. Healthy requires the configured
// initial delay to have elapsed before the first probe runs.
func (g *Gate) probeLoop(ctx context.Context, inst *types.PodInstance, check *types.ReadinessCheck) {
	logger := log.WithInstanceID(inst.ID)

	if check.Delay > 0 {
		select {
		case <-time.After(check.Delay):
		case <-ctx.Done():
			return
		}
	}

	ticker := time.NewTicker(check.Interval)
	defer ticker.Stop()

	state := types.ReadinessUnknown
	failures := 0
	reportedFailed := false

	probe := func() {
		probeCtx, cancel := context.WithTimeout(ctx, check.Timeout)
		result := g.prober.Probe(probeCtx, inst, check)
		cancel()

		prev := state
		switch {
		case result.Healthy:
			state = types.ReadinessHealthy
			failures = 0
			reportedFailed = false
		case result.TimedOut:
			state = types.ReadinessUnknown
			failures++
		default:
			state = types.ReadinessUnhealthy
			failures++
		}

		failed := failures >= g.threshold
		if state != prev || (failed && !reportedFailed) {
			if failed {
				reportedFailed = true
				logger.Warn().Int("consecutive_failures", failures).Msg("readiness threshold exceeded")
			}
			g.send(Report{
				InstanceID:          inst.ID,
				LaunchID:            inst.LaunchID,
				State:               state,
				Failed:              failed,
				ConsecutiveFailures: failures,
				Message:             result.Message,
			})
		}
	}

	probe()
	for {
		select {
		case <-ticker.C:
			probe()
		case <-ctx.Done():
			return
		case <-g.stopCh:
			return
		}
	}
}

// send delivers a report without ever blocking the probe loop. If the
// consumer has fallen 256 reports behind, the oldest information is stale
// anyway and the report is dropped.
func (g *Gate) send(r Report) {
	select {
	case g.reports <- r:
	default:
		logger := log.WithComponent("readiness")
		logger.Debug().Str("instance_id", r.InstanceID).Msg("report channel full, dropping")
	}
}
