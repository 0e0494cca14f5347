// Package client is the Go client for the operator API, used by the CLI.
package client
