// Package reconciler drives pod groups back to their declared shape on a
// fixed cadence, outside of plan execution.
package reconciler
