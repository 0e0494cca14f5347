/*
Package readiness decides whether running pod instances are healthy enough
for plan execution to proceed.

Each watched instance gets one timer-driven probe goroutine with the
state machine Unknown -> (Healthy | Unhealthy); a probe that answers
nothing within its timeout falls back to Unknown. Reports flow through a
shared buffered channel and are never allowed to block a probe loop. An
instance that accumulates the configured number of consecutive non-healthy
results (default 3) is reported Failed; the instance manager's remediation
policy decides what happens next.
*/
package readiness
