/*
Package instance owns pod instance lifecycle.

The Manager is the single writer of PodInstance records. It converges
running counts toward desired counts (ScaleTo), replaces failed instances
(Replace), and gracefully drains instances out of the cluster
(Decommission), enforcing each group's configured minimum safe count so a
quorum is never shrunk by accident.

Two background pumps fold external signals into instance state: the
status pump consumes the resource manager's update stream
(staging/running/finished/failed/lost) and the readiness pump consumes
gate reports, promoting running instances to ready and demoting
probe-failed ones to failed.

All mutating operations on one pod group are serialized by a per-group
exclusive lock; the plan engine holds it for the duration of a phase and
the reconciler acquires it with TryLock so it never interferes with an
in-flight phase.
*/
package instance
