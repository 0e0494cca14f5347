package plan

import (
	"fmt"
	"sort"

	"github.com/seastack/bosun/pkg/events"
	"github.com/seastack/bosun/pkg/types"
)

// Pause stops the plan from launching further instances. Instances already
// launched keep running and keep being awaited; the current phase simply
// stops making forward progress until Resume.
func (e *Engine) Pause(planID string) error {
	r, err := e.liveRun(planID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	already := r.paused
	r.paused = true
	r.mu.Unlock()
	if already {
		return nil
	}

	e.transitionPlan(r.plan, types.PlanStatePaused)
	e.broker.Emit(events.EventPlanPaused, "", map[string]string{"plan": r.plan.Name, "plan_id": r.plan.ID})
	return nil
}

// Resume continues a paused plan from where it stopped.
func (e *Engine) Resume(planID string) error {
	r, err := e.liveRun(planID)
	if err != nil {
		return err
	}
	r.mu.Lock()
	paused := r.paused
	r.paused = false
	r.mu.Unlock()
	if !paused {
		return nil
	}

	e.transitionPlan(r.plan, types.PlanStateRunning)
	e.broker.Emit(events.EventPlanResumed, "", map[string]string{"plan": r.plan.Name, "plan_id": r.plan.ID})
	return nil
}

// Cancel aborts the plan. Instances already launched are left running;
// the group lock is released so the reconciler takes back ownership.
func (e *Engine) Cancel(planID string) error {
	r, err := e.liveRun(planID)
	if err != nil {
		return err
	}
	// Unpark a paused run so the cancellation is observed promptly.
	r.mu.Lock()
	r.paused = false
	r.mu.Unlock()
	r.cancel()
	return nil
}

// Status returns a point-in-time copy of the plan, live or historical.
func (e *Engine) Status(planID string) (*types.Plan, error) {
	e.mu.Lock()
	r, ok := e.runs[planID]
	e.mu.Unlock()
	if ok {
		return e.snapshot(r.plan), nil
	}
	return e.store.GetPlan(planID)
}

// Latest returns the most recent run of the named plan, if any.
func (e *Engine) Latest(planName string) (*types.Plan, error) {
	plans, err := e.List()
	if err != nil {
		return nil, err
	}
	var latest *types.Plan
	for _, p := range plans {
		if p.Name != planName {
			continue
		}
		if latest == nil || p.StartedAt.After(latest.StartedAt) {
			latest = p
		}
	}
	if latest == nil {
		return nil, fmt.Errorf("no runs of plan %q", planName)
	}
	return latest, nil
}

// List returns all known plans, newest first.
func (e *Engine) List() ([]*types.Plan, error) {
	plans, err := e.store.ListPlans()
	if err != nil {
		return nil, err
	}
	sort.Slice(plans, func(i, j int) bool {
		return plans[i].StartedAt.After(plans[j].StartedAt)
	})
	return plans, nil
}

func (e *Engine) liveRun(planID string) (*run, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	r, ok := e.runs[planID]
	if !ok {
		return nil, fmt.Errorf("unknown plan %q", planID)
	}
	e.stateMu.Lock()
	state := r.plan.State
	e.stateMu.Unlock()
	if state.Terminal() {
		return nil, fmt.Errorf("plan %q already %s", planID, state)
	}
	return r, nil
}

func (e *Engine) snapshot(p *types.Plan) *types.Plan {
	e.stateMu.Lock()
	defer e.stateMu.Unlock()
	out := *p
	out.Phases = make([]*types.Phase, len(p.Phases))
	for i, ph := range p.Phases {
		cp := *ph
		out.Phases[i] = &cp
	}
	return &out
}
