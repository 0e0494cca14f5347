/*
Package provision maps task specs onto allocated locations.

Provision is a deterministic, side-effect-free derivation: given the same
group, task, instance, node, and reserved-port set it always produces the
same launch request. Capacity shortfalls surface as
types.ErrResourceInsufficient so the caller can treat them as placement
failures and retry elsewhere.
*/
package provision
