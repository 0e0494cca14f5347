/*
Package placement evaluates pod group placement rules against a cluster
topology snapshot.

The evaluator is stateless and reentrant: every call receives an explicit
*types.ClusterTopology and the current instance list, so no locking is
needed and the refresh cadence of the snapshot is entirely the caller's
concern. Candidates returns a deterministically ranked slice of feasible
nodes; an empty slice means "retry later", never a fatal condition.
*/
package placement
