// Package security provides the service-scoped certificate authority that
// backs transport encryption between pod instances.
package security
