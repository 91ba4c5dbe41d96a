// File: engine/request.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package engine

// Request correlates one hardware send with the endpoint that issued it.
// The address of an endpoint's Request is the send cookie; exactly one of
// output and input is set. Fields are guarded by the owning port lock.
type Request struct {
	port     *Port
	output   *Output
	input    *Input
	inFlight bool
	status   error
}

// Status returns the hardware status of the last completed send.
func (r *Request) Status() error {
	r.port.mu.Lock()
	defer r.port.mu.Unlock()
	return r.status
}

// InFlight reports whether a send is awaiting its completion.
func (r *Request) InFlight() bool {
	r.port.mu.Lock()
	defer r.port.mu.Unlock()
	return r.inFlight
}

func (r *Request) begin() {
	r.inFlight = true
	r.status = nil
}

func (r *Request) finish(status error) {
	r.inFlight = false
	r.status = status
}
