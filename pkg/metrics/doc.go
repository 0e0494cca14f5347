/*
Package metrics exposes Prometheus metrics for the orchestrator: instance
counts by group and state, plan and phase transitions, placement blocks,
and reconciliation cycle timing. The Collector refreshes gauge values from
the state store on a fixed cadence; counters are incremented inline by the
components that own the corresponding transitions.
*/
package metrics
