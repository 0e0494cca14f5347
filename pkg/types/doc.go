/*
Package types defines the core data structures shared across bosun.

The domain model mirrors the declarative service specification: pod groups
(PodGroupSpec) contain task templates (TaskSpec), plans (PlanSpec) order
phases over pod groups, and PodInstance tracks the live state of one group
member. All enums are typed string constants, optional configuration uses
pointers (nil = absent), and every type serializes to JSON for the storage
layer.

Ownership rules:

  - PodGroupSpec/TaskSpec/PlanSpec are immutable after load; a configuration
    update produces a new generation, never an in-place mutation.
  - PodInstance is owned exclusively by pkg/instance; the plan engine and
    reconciler only observe it.
  - Plan/Phase are owned by pkg/plan and immutable once started except for
    pause/resume/cancel.

Instance state machine:

	provisioning → staging → running → (ready | failed)
	ready/failed → draining → (replaced | decommissioned)

Sentinel errors in errors.go form the failure taxonomy; retryable conditions
(placement, resources, resource-manager availability) surface as blocked
phases rather than process failures.
*/
package types
