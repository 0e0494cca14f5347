package types

import "errors"

// Error taxonomy. Component-local failures are converted into phase and
// instance state transitions at the boundary where they occur; only
// ErrInvalidSpec (and internal invariant violations) abort the process.
var (
	// ErrInvalidSpec means the loaded specification is malformed. Fatal at load.
	ErrInvalidSpec = errors.New("invalid spec")

	// ErrResourceInsufficient means a location cannot satisfy the reserved
	// CPU/memory/disk/ports. Retryable; surfaces as a blocked phase.
	ErrResourceInsufficient = errors.New("resource insufficient")

	// ErrPlacementUnsatisfiable means no candidate location satisfies the
	// placement rule. Retryable; cleared automatically when topology changes.
	ErrPlacementUnsatisfiable = errors.New("placement unsatisfiable")

	// ErrReadinessTimeout means an instance never reached Healthy within the
	// configured threshold. The group's remediation policy decides what follows.
	ErrReadinessTimeout = errors.New("readiness timeout")

	// ErrResourceManagerUnavailable means the resource manager did not
	// acknowledge a request. Transient; retried with backoff.
	ErrResourceManagerUnavailable = errors.New("resource manager unavailable")

	// ErrPolicyViolation means an operation would break a configured safety
	// policy, such as decommissioning below a group's minimum safe count.
	ErrPolicyViolation = errors.New("policy violation")
)
