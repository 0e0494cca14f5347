/*
Package spec loads the declarative service specification into an immutable
in-memory model.

A document has a `pods` section (pod group name -> count, placement,
network, uris, rlimits, tasks) and a `plans` section (plan name ->
strategy, phases). Variable placeholders ({{KEY}}) in commands, env values,
and configuration templates are resolved once at load time by the pure
Resolve function; the orchestrator runtime never sees a template.

Load validates field rules (go-playground/validator struct tags) plus the
cross-section invariants: port env keys unique within a task, VIP
prefix/port pairs unique across pod groups sharing a network, configuration
artifacts referencing declared templates, and plan phases referencing
declared pods. Every violation wraps types.ErrInvalidSpec, which is fatal
at startup.

Pod group and phase declaration order is preserved (orderedMap) because
plans execute phases in that order.
*/
package spec
