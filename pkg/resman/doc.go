/*
Package resman defines the orchestrator's interface to the cluster
resource manager: launch and kill requests going out, a status-update
stream coming back.

The Loopback driver is a complete in-process implementation used for
local runs and tests. Backoff is the shared retry policy for transient
resource-manager failures.
*/
package resman
