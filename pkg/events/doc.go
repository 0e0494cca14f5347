/*
Package events distributes plan, phase, and instance lifecycle events to
in-process subscribers and keeps a bounded ring of recent events for the
operator API. Slow subscribers are skipped, never waited on.
*/
package events
