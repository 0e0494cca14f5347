package reconciler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/seastack/bosun/pkg/instance"
	"github.com/seastack/bosun/pkg/log"
	"github.com/seastack/bosun/pkg/metrics"
	"github.com/seastack/bosun/pkg/types"
)

// Reconciler is the steady-state control loop. On every tick it compares
// each pod group's persisted instances against the spec model and
// converges the difference: failed instances are replaced, missing
// ordinals provisioned, excess ordinals decommissioned.
//
// Groups whose lock is held by a running plan phase are skipped for the
// tick; plan execution owns the group while it runs.
type Reconciler struct {
	mgr      *instance.Manager
	interval time.Duration
	logger   zerolog.Logger

	stopCh chan struct{}
	wg     sync.WaitGroup
}

const DefaultInterval = 10 * time.Second

// New creates a reconciler ticking at the given interval.
func New(mgr *instance.Manager, interval time.Duration) *Reconciler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Reconciler{
		mgr:      mgr,
		interval: interval,
		logger:   log.WithComponent("reconciler"),
		stopCh:   make(chan struct{}),
	}
}

// Start begins the reconcile loop in a background goroutine.
func (r *Reconciler) Start() {
	r.wg.Add(1)
	go r.loop()
	r.logger.Info().Dur("interval", r.interval).Msg("reconciler started")
}

// Stop halts the loop and waits for an in-flight cycle to finish.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	r.logger.Info().Msg("reconciler stopped")
}

func (r *Reconciler) loop() {
	defer r.wg.Done()
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.Reconcile(context.Background())
		case <-r.stopCh:
			return
		}
	}
}

// Reconcile runs one full cycle over every pod group.
func (r *Reconciler) Reconcile(ctx context.Context) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.ReconcileDuration)
	metrics.ReconcileCyclesTotal.Inc()

	model := r.mgr.Model()
	if model == nil {
		return
	}
	for _, group := range model.PodGroups() {
		select {
		case <-r.stopCh:
			return
		default:
		}
		r.reconcileGroup(ctx, group)
	}
}

func (r *Reconciler) reconcileGroup(ctx context.Context, group *types.PodGroupSpec) {
	if !r.mgr.TryLockGroup(group.Name) {
		// A plan phase owns the group right now.
		return
	}
	defer r.mgr.UnlockGroup(group.Name)

	logger := r.logger.With().Str("pod_group", group.Name).Logger()

	instances, err := r.mgr.Instances(group.Name)
	if err != nil {
		logger.Error().Err(err).Msg("listing instances")
		return
	}

	// Replace instances that died or failed readiness past the threshold.
	for _, inst := range instances {
		if inst.State != types.InstanceStateFailed || inst.Ordinal >= group.Count {
			continue
		}
		logger.Info().Str("instance", inst.ID).Msg("replacing failed instance")
		if err := r.mgr.Replace(ctx, inst.ID); err != nil {
			r.logConverge(logger, inst.ID, err)
		} else {
			metrics.ReplacementsTotal.WithLabelValues(group.Name).Inc()
		}
	}

	// Fill missing ordinals.
	for ordinal := 0; ordinal < group.Count; ordinal++ {
		_, launched, err := r.mgr.EnsureOrdinal(ctx, group.Name, ordinal)
		if err != nil {
			r.logConverge(logger, types.InstanceID(group.Name, ordinal), err)
			continue
		}
		if launched {
			logger.Info().Str("instance", types.InstanceID(group.Name, ordinal)).Msg("provisioned missing instance")
		}
	}

	// Trim ordinals above the desired count.
	if err := r.mgr.DecommissionAbove(ctx, group.Name, group.Count); err != nil {
		logger.Error().Err(err).Msg("trimming excess instances")
	}
}

// logConverge keeps retryable conditions at warn level; they are expected
// while the cluster is short on capacity and clear on a later tick.
func (r *Reconciler) logConverge(logger zerolog.Logger, id string, err error) {
	switch {
	case errors.Is(err, types.ErrPlacementUnsatisfiable),
		errors.Is(err, types.ErrResourceInsufficient),
		errors.Is(err, types.ErrResourceManagerUnavailable):
		logger.Warn().Err(err).Str("instance", id).Msg("converge deferred")
	default:
		logger.Error().Err(err).Str("instance", id).Msg("converge failed")
	}
}
