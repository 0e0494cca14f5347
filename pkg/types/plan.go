package types

import "time"

// Strategy selects how a phase rolls out instances.
type Strategy string

const (
	StrategySerial   Strategy = "serial"   // one instance at a time, readiness-gated
	StrategyParallel Strategy = "parallel" // all instances together
)

// PlanState is the lifecycle state of a plan run.
type PlanState string

const (
	PlanStatePending   PlanState = "pending"
	PlanStateRunning   PlanState = "running"
	PlanStatePaused    PlanState = "paused"
	PlanStateComplete  PlanState = "complete"
	PlanStateFailed    PlanState = "failed"
	PlanStateCancelled PlanState = "cancelled"
)

// Terminal reports whether the plan run has finished.
func (s PlanState) Terminal() bool {
	return s == PlanStateComplete || s == PlanStateFailed || s == PlanStateCancelled
}

// PhaseState is the lifecycle state of one phase within a plan run.
type PhaseState string

const (
	PhaseStatePending           PhaseState = "pending"
	PhaseStateLaunching         PhaseState = "launching"
	PhaseStateAwaitingReadiness PhaseState = "awaiting-readiness"
	PhaseStateComplete          PhaseState = "complete"
	PhaseStateBlocked           PhaseState = "blocked"
	PhaseStateFailed            PhaseState = "failed"
)

// PlanSpec is the declarative shape of a plan: ordered phases, each
// referencing exactly one pod group.
type PlanSpec struct {
	Name     string
	Strategy Strategy // default strategy for phases that do not set one
	Phases   []*PhaseSpec
}

// PhaseSpec declares one phase of a plan.
type PhaseSpec struct {
	Name     string
	Pod      string
	Strategy Strategy
}

// Plan is one execution of a PlanSpec. Immutable once started except for
// cancellation; the plan engine owns all state transitions.
type Plan struct {
	ID         string
	Name       string
	State      PlanState
	Phases     []*Phase
	Generation uint64
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Phase is the runtime state of one declared phase.
type Phase struct {
	Name      string
	PodGroup  string
	Strategy  Strategy
	State     PhaseState
	Message   string // operator-visible context when blocked or failed
	Launched  int
	Ready     int
	UpdatedAt time.Time
}
