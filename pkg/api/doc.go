// Package api serves the operator HTTP surface: plan control, pod group
// and instance status, the event feed, health, and metrics.
package api
