// Package api
// Author: momentics <momentics@gmail.com>
//
// Shutdown contract.

package api

// GracefulShutdown is implemented by components that release hardware
// resources on exit.
type GracefulShutdown interface {
	// Shutdown releases every resource; further calls are no-ops.
	Shutdown() error
}
