// Package api
// Author: momentics
//
// Caller-driven completion pump abstraction.

package api

// Pumper drains hardware completions. Each call performs one bounded pass
// and never blocks waiting for hardware.
type Pumper interface {
	// Pump handles pending events; returns number processed and error.
	Pump() (handled int, err error)
}
