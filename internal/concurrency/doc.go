// File: internal/concurrency/doc.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Driver loops for caller-pumped engines. A PumpLoop keeps calling
// api.Pumper.Pump on one goroutine, backing off exponentially while the
// hardware is idle and resetting as soon as a pass handles an event.
package concurrency
