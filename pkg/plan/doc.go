// Package plan executes deploy and update plans as ordered phases over
// pod groups. Each phase holds its group's exclusive lock, rolls the
// group to the desired shape under a serial or parallel strategy, and
// gates completion on application-level readiness. Retryable conditions
// park a phase in Blocked until the cluster changes or an operator
// intervenes; plans can be paused, resumed, and cancelled mid-flight.
package plan
