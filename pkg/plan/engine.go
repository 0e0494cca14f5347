package plan

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/seastack/bosun/pkg/events"
	"github.com/seastack/bosun/pkg/instance"
	"github.com/seastack/bosun/pkg/log"
	"github.com/seastack/bosun/pkg/metrics"
	"github.com/seastack/bosun/pkg/spec"
	"github.com/seastack/bosun/pkg/storage"
	"github.com/seastack/bosun/pkg/types"
)

// Config tunes plan execution.
type Config struct {
	// PollInterval is the cadence for re-evaluating a blocked phase.
	// Blocking respects this interval; a blocked phase never busy-spins.
	PollInterval time.Duration

	// AbortOnFailure turns an instance's terminal failure into a failed
	// plan instead of a blocked, operator-visible phase.
	AbortOnFailure bool
}

// DefaultConfig returns the engine defaults.
func DefaultConfig() Config {
	return Config{PollInterval: 2 * time.Second}
}

// Engine executes deploy and update plans: ordered phases over pod
// groups, each phase rolling out all instances of one group under its
// declared strategy, gated by application-level readiness.
type Engine struct {
	mgr    *instance.Manager
	store  storage.Store
	broker *events.Broker
	cfg    Config
	logger zerolog.Logger

	mu   sync.Mutex
	runs map[string]*run // plan ID -> live run

	// stateMu guards mutation and snapshotting of live plan structs.
	stateMu sync.Mutex
}

type run struct {
	plan   *types.Plan
	cancel context.CancelFunc

	mu     sync.Mutex
	paused bool
}

// NewEngine creates a plan engine.
func NewEngine(mgr *instance.Manager, store storage.Store, broker *events.Broker, cfg Config) *Engine {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Engine{
		mgr:    mgr,
		store:  store,
		broker: broker,
		cfg:    cfg,
		logger: log.WithComponent("plan-engine"),
		runs:   make(map[string]*run),
	}
}

// Run starts executing the named plan from the current spec model and
// returns immediately with the pending plan. Only one live run per plan
// name is allowed at a time.
func (e *Engine) Run(planName string) (*types.Plan, error) {
	return e.start(e.mgr.Model(), planName, nil)
}

// RunUpdate starts the update plan against a revised spec model. The
// model is installed only once the run is accepted, so a rejected update
// leaves the deployed generation untouched.
func (e *Engine) RunUpdate(model *spec.Model) (*types.Plan, error) {
	return e.start(model, "update", func() error {
		return e.mgr.SetModel(model)
	})
}

// start registers a run for the plan, invoking install (if any) after the
// duplicate-run check and before the executor can observe the model.
func (e *Engine) start(model *spec.Model, planName string, install func() error) (*types.Plan, error) {
	planSpec := model.Plan(planName)
	if planSpec == nil {
		return nil, fmt.Errorf("unknown plan %q", planName)
	}

	e.mu.Lock()
	for _, r := range e.runs {
		e.stateMu.Lock()
		live := r.plan.Name == planName && !r.plan.State.Terminal()
		e.stateMu.Unlock()
		if live {
			e.mu.Unlock()
			return nil, fmt.Errorf("plan %q is already running (%s)", planName, r.plan.ID)
		}
	}

	if install != nil {
		if err := install(); err != nil {
			e.mu.Unlock()
			return nil, err
		}
	}

	p := &types.Plan{
		ID:         uuid.New().String(),
		Name:       planName,
		State:      types.PlanStatePending,
		Generation: model.Generation(),
	}
	for _, phaseSpec := range planSpec.Phases {
		p.Phases = append(p.Phases, &types.Phase{
			Name:     phaseSpec.Name,
			PodGroup: phaseSpec.Pod,
			Strategy: phaseSpec.Strategy,
			State:    types.PhaseStatePending,
		})
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &run{plan: p, cancel: cancel}
	e.runs[p.ID] = r
	e.mu.Unlock()

	if err := e.store.PutPlan(p); err != nil {
		cancel()
		return nil, err
	}

	go e.execute(ctx, r)
	return e.snapshot(p), nil
}

// execute drives the plan state machine:
//
//	Pending -> Running -> (Complete | Failed | Cancelled)
//
// Phases run strictly in declaration order; a later phase never starts
// before its predecessor completes.
func (e *Engine) execute(ctx context.Context, r *run) {
	p := r.plan
	e.stateMu.Lock()
	p.State = types.PlanStateRunning
	p.StartedAt = time.Now()
	e.stateMu.Unlock()
	_ = e.store.PutPlan(p)
	e.broker.Emit(events.EventPlanStarted, "", map[string]string{"plan": p.Name, "plan_id": p.ID})
	e.logger.Info().Str("plan", p.Name).Str("plan_id", p.ID).Msg("plan started")

	for _, phase := range p.Phases {
		if err := e.runPhase(ctx, r, phase); err != nil {
			if errors.Is(err, context.Canceled) {
				e.finishPlan(p, types.PlanStateCancelled, "")
				e.broker.Emit(events.EventPlanCancelled, "", map[string]string{"plan": p.Name, "plan_id": p.ID})
				return
			}
			e.finishPlan(p, types.PlanStateFailed, err.Error())
			return
		}
	}

	e.finishPlan(p, types.PlanStateComplete, "")
	e.broker.Emit(events.EventPlanCompleted, "", map[string]string{"plan": p.Name, "plan_id": p.ID})
	e.logger.Info().Str("plan", p.Name).Str("plan_id", p.ID).Msg("plan complete")
}

// runPhase rolls out one pod group. The group's exclusive lock is held
// for the whole phase, which is what keeps the reconciler out.
func (e *Engine) runPhase(ctx context.Context, r *run, phase *types.Phase) error {
	group := phase.PodGroup
	desired := 0
	if groupSpec := e.mgr.Model().PodGroup(group); groupSpec != nil {
		desired = groupSpec.Count
	}

	e.mgr.LockGroup(group)
	defer e.mgr.UnlockGroup(group)

	e.setPhase(r.plan, phase, types.PhaseStateLaunching, "")

	// Shrink first so an update that lowers the count converges before
	// instances are touched.
	if err := e.mgr.DecommissionAbove(ctx, group, desired); err != nil {
		e.setPhase(r.plan, phase, types.PhaseStateFailed, err.Error())
		return err
	}

	// A zero-count group has nothing to launch: the phase completes
	// immediately.
	if desired > 0 {
		var err error
		switch phase.Strategy {
		case types.StrategyParallel:
			err = e.runParallel(ctx, r, phase, group, desired)
		default:
			err = e.runSerial(ctx, r, phase, group, desired)
		}
		if err != nil {
			return err
		}
	}

	e.setProgress(r.plan, phase, desired, desired)
	e.setPhase(r.plan, phase, types.PhaseStateComplete, "")
	e.broker.Emit(events.EventPhaseCompleted, "", map[string]string{
		"plan": r.plan.Name, "phase": phase.Name, "pod_group": group,
	})
	return nil
}

// runSerial provisions instances one at a time in ordinal order, each
// gated on readiness before the next starts.
func (e *Engine) runSerial(ctx context.Context, r *run, phase *types.Phase, group string, desired int) error {
	for ordinal := 0; ordinal < desired; ordinal++ {
		if err := e.ensureAndAwait(ctx, r, phase, group, ordinal); err != nil {
			return err
		}
		e.setProgress(r.plan, phase, ordinal+1, ordinal+1)
	}
	return nil
}

// runParallel provisions all instances together; the phase completes when
// every instance reports healthy.
func (e *Engine) runParallel(ctx context.Context, r *run, phase *types.Phase, group string, desired int) error {
	// Launch everything first.
	for ordinal := 0; ordinal < desired; ordinal++ {
		if err := e.ensureLaunched(ctx, r, phase, group, ordinal); err != nil {
			return err
		}
		e.setProgress(r.plan, phase, ordinal+1, phase.Ready)
	}

	e.setPhase(r.plan, phase, types.PhaseStateAwaitingReadiness, "")

	// Then gate on readiness. A failed instance blocks the phase and is
	// retried in place until it comes up or the plan is cancelled.
	for ordinal := 0; ordinal < desired; ordinal++ {
		if err := e.awaitOrdinal(ctx, r, phase, group, ordinal); err != nil {
			return err
		}
		e.setProgress(r.plan, phase, phase.Launched, ordinal+1)
	}
	return nil
}

func (e *Engine) setProgress(p *types.Plan, phase *types.Phase, launched, ready int) {
	e.stateMu.Lock()
	phase.Launched = launched
	phase.Ready = ready
	e.stateMu.Unlock()
	_ = e.store.PutPlan(p)
}

// ensureAndAwait converges one ordinal and waits for it to become ready.
func (e *Engine) ensureAndAwait(ctx context.Context, r *run, phase *types.Phase, group string, ordinal int) error {
	if err := e.ensureLaunched(ctx, r, phase, group, ordinal); err != nil {
		return err
	}
	e.setPhase(r.plan, phase, types.PhaseStateAwaitingReadiness, "")
	return e.awaitOrdinal(ctx, r, phase, group, ordinal)
}

// ensureLaunched retries EnsureOrdinal until the slot is launched.
// Retryable conditions (no feasible placement, insufficient resources,
// resource manager unavailable) park the phase in Blocked and re-evaluate
// on the poll interval; they clear automatically when the cluster changes.
func (e *Engine) ensureLaunched(ctx context.Context, r *run, phase *types.Phase, group string, ordinal int) error {
	for {
		if err := e.waitWhilePaused(ctx, r); err != nil {
			return err
		}

		_, _, err := e.mgr.EnsureOrdinal(ctx, group, ordinal)
		if err == nil {
			if phase.State == types.PhaseStateBlocked {
				e.setPhase(r.plan, phase, types.PhaseStateLaunching, "")
			}
			return nil
		}
		if !retryable(err) {
			e.setPhase(r.plan, phase, types.PhaseStateFailed, err.Error())
			return err
		}

		e.block(r.plan, phase, err.Error())
		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// awaitOrdinal waits for one instance to report healthy. A terminal
// instance failure blocks the phase (and retries the slot) unless the
// engine is configured to abort.
func (e *Engine) awaitOrdinal(ctx context.Context, r *run, phase *types.Phase, group string, ordinal int) error {
	id := types.InstanceID(group, ordinal)
	for {
		if err := e.waitWhilePaused(ctx, r); err != nil {
			return err
		}

		err := e.mgr.AwaitReady(ctx, id)
		if err == nil {
			if phase.State == types.PhaseStateBlocked {
				e.setPhase(r.plan, phase, types.PhaseStateAwaitingReadiness, "")
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if e.cfg.AbortOnFailure {
			e.setPhase(r.plan, phase, types.PhaseStateFailed, err.Error())
			return err
		}

		// Operator-visible block; retry the slot in place.
		e.block(r.plan, phase, err.Error())
		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := e.ensureLaunched(ctx, r, phase, group, ordinal); err != nil {
			return err
		}
	}
}

func retryable(err error) bool {
	return errors.Is(err, types.ErrPlacementUnsatisfiable) ||
		errors.Is(err, types.ErrResourceInsufficient) ||
		errors.Is(err, types.ErrResourceManagerUnavailable)
}

func (e *Engine) block(p *types.Plan, phase *types.Phase, message string) {
	if phase.State != types.PhaseStateBlocked {
		e.setPhase(p, phase, types.PhaseStateBlocked, message)
		e.broker.Emit(events.EventPhaseBlocked, message, map[string]string{
			"plan": p.Name, "phase": phase.Name, "pod_group": phase.PodGroup,
		})
		e.logger.Warn().Str("plan", p.Name).Str("phase", phase.Name).Str("reason", message).Msg("phase blocked")
	}
}

// waitWhilePaused parks the goroutine while the plan is paused.
func (e *Engine) waitWhilePaused(ctx context.Context, r *run) error {
	for {
		r.mu.Lock()
		paused := r.paused
		r.mu.Unlock()
		if !paused {
			return nil
		}
		select {
		case <-time.After(e.cfg.PollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (e *Engine) setPhase(p *types.Plan, phase *types.Phase, state types.PhaseState, message string) {
	e.stateMu.Lock()
	if phase.State != state {
		metrics.PhaseTransitionsTotal.WithLabelValues(phase.PodGroup, string(state)).Inc()
	}
	phase.State = state
	phase.Message = message
	phase.UpdatedAt = time.Now()
	e.stateMu.Unlock()
	_ = e.store.PutPlan(p)
}

func (e *Engine) transitionPlan(p *types.Plan, state types.PlanState) {
	e.stateMu.Lock()
	p.State = state
	e.stateMu.Unlock()
	_ = e.store.PutPlan(p)
}

func (e *Engine) finishPlan(p *types.Plan, state types.PlanState, message string) {
	e.stateMu.Lock()
	p.State = state
	p.Error = message
	p.FinishedAt = time.Now()
	e.stateMu.Unlock()
	_ = e.store.PutPlan(p)
	if state == types.PlanStateFailed {
		e.logger.Error().Str("plan", p.Name).Str("plan_id", p.ID).Str("error", message).Msg("plan failed")
	}
}
