/*
Package storage persists orchestrator state to BoltDB.

One bucket per entity (instances, plans, meta), JSON values keyed by ID.
The store survives orchestrator restarts so reconciliation can resume from
the last observed state instead of relaunching the world.
*/
package storage
