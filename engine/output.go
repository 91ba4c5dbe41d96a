// File: engine/output.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sending endpoint and its rendezvous state machine.

package engine

import (
	"go.uber.org/multierr"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/core/memreg"
	"github.com/momentics/hioload-dma/core/protocol"
)

// OutputState is the position of an Output in its rendezvous cycle.
type OutputState int

const (
	OutputIdle      OutputState = iota // nothing in progress
	OutputRequested                    // send intent issued, not yet completed
	OutputReady                        // send intent completed
	OutputSending                      // data send issued
)

func (s OutputState) String() string {
	switch s {
	case OutputIdle:
		return "idle"
	case OutputRequested:
		return "requested"
	case OutputReady:
		return "ready"
	case OutputSending:
		return "sending"
	default:
		return "unknown"
	}
}

// Output sends buffers to one remote Input.
//
// A cycle is SendRequest, then SendBuffer once both SignalRequestSent and
// SignalCreditGranted were observed (in either order), then
// SignalSendComplete.
type Output struct {
	port     *Port
	mux      int
	notifyID int
	packet   []byte // DMA send-intent packet
	request  Request

	remote    api.Address
	remoteMux int
	connected bool
	state     OutputState
	buf       []byte // held until the data send completes
	block     *memreg.Block
	closed    bool
}

// Mux returns the local mux id.
func (o *Output) Mux() int { return o.mux }

// NotifyID returns the id passed to the Notifier for this output.
func (o *Output) NotifyID() int { return o.notifyID }

// NodeID returns the local node id.
func (o *Output) NodeID() api.NodeID { return o.port.node }

// PortID returns the local hardware port number.
func (o *Output) PortID() int { return o.port.id }

// Port returns the owning port.
func (o *Output) Port() *Port { return o.port }

// Request returns the correlation record of this output.
func (o *Output) Request() *Request { return &o.request }

// State returns the current state.
func (o *Output) State() OutputState {
	o.port.mu.Lock()
	defer o.port.mu.Unlock()
	return o.state
}

// Remote returns the bound peer address and mux.
func (o *Output) Remote() (api.Address, int, bool) {
	o.port.mu.Lock()
	defer o.port.mu.Unlock()
	return o.remote, o.remoteMux, o.connected
}

// Connect binds the output to the input mux on node:port. It may be called
// once. The send-intent packet carries the peer's mux so the receiving port
// can route it.
func (o *Output) Connect(node api.NodeID, port, mux int) error {
	p := o.port
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := o.usable(); err != nil {
		return err
	}
	if o.connected {
		return api.NewError(api.ErrCodeProtocolViolation, "output already connected").
			WithContext("mux", o.mux)
	}
	if mux < 0 || port < 0 {
		return api.Errorf(api.ErrCodeInvalidArgument, "connect to %d:%d mux %d", node, port, mux)
	}
	if err := protocol.Encode(o.packet, protocol.Packet{Code: protocol.CodeSendIntent, Mux: mux}); err != nil {
		return err
	}
	o.remote = api.Address{Node: node, Port: port}
	o.remoteMux = mux
	o.connected = true
	return nil
}

// SendRequest announces a transfer to the peer input.
func (o *Output) SendRequest() error {
	p := o.port
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := o.expect(OutputIdle); err != nil {
		return err
	}
	if err := p.needTokens(1, 0); err != nil {
		return err
	}
	o.state = OutputRequested
	o.request.begin()
	if err := p.hw.Send(o.packet, api.PriorityHigh, o.remote, &o.request); err != nil {
		o.state = OutputIdle
		o.request.finish(err)
		return hardwareError("send intent", err)
	}
	return nil
}

// SendBuffer transfers b to the peer's posted buffer. b must stay referenced
// and unmodified until SignalSendComplete.
func (o *Output) SendBuffer(b []byte) error {
	p := o.port
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := o.expect(OutputReady); err != nil {
		return err
	}
	if len(b) == 0 || len(b) > p.rt.cfg.MaxBlockLen {
		return api.Errorf(api.ErrCodeInvalidArgument, "send of %d bytes", len(b)).
			WithContext("max", p.rt.cfg.MaxBlockLen)
	}
	if err := p.needTokens(1, 0); err != nil {
		return err
	}
	blk, err := p.register(b)
	if err != nil {
		return err
	}
	o.state = OutputSending
	o.buf, o.block = b, blk
	o.request.begin()
	if err := p.hw.Send(b, api.PriorityLow, o.remote, &o.request); err != nil {
		o.request.finish(err)
		o.state = OutputReady
		o.buf, o.block = nil, nil
		return multierr.Combine(hardwareError("send buffer", err), p.deregister(blk))
	}
	return nil
}

// Close releases the output. An output with a send in flight cannot be
// closed.
func (o *Output) Close() error {
	p := o.port
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := o.usable(); err != nil {
		return err
	}
	if o.request.inFlight || o.state == OutputRequested || o.state == OutputSending {
		return api.Errorf(api.ErrCodeProtocolViolation, "close of output in state %s", o.state).
			WithContext("mux", o.mux)
	}
	o.release()
	p.outputs[o.mux] = nil
	p.live--
	p.log.Debug().Int("mux", o.mux).Msg("output closed")
	return nil
}

func (o *Output) release() {
	o.closed = true
	o.buf, o.block = nil, nil
	o.port.hw.DMAFree(o.packet)
}

func (o *Output) usable() error {
	if o.closed || o.port.closed {
		return api.NewError(api.ErrCodeClosed, "output closed").WithContext("mux", o.mux)
	}
	return nil
}

func (o *Output) expect(want OutputState) error {
	if err := o.usable(); err != nil {
		return err
	}
	if !o.connected {
		return api.NewError(api.ErrCodeProtocolViolation, "output not connected").
			WithContext("mux", o.mux)
	}
	if o.state != want {
		return api.Errorf(api.ErrCodeProtocolViolation, "output is %s, want %s", o.state, want).
			WithContext("mux", o.mux)
	}
	return nil
}

// complete handles the send completion of this output's request. Called
// with the port lock held.
func (o *Output) complete(status error) (api.Signal, error) {
	switch o.state {
	case OutputRequested:
		if status != nil {
			// the peer never saw the intent
			o.state = OutputIdle
		} else {
			o.state = OutputReady
		}
		return api.Signal{Reason: api.SignalRequestSent, Err: status}, nil
	case OutputSending:
		err := o.port.deregister(o.block)
		o.buf, o.block = nil, nil
		o.state = OutputIdle
		return api.Signal{Reason: api.SignalSendComplete, Err: status}, err
	default:
		return api.Signal{}, api.Errorf(api.ErrCodeProtocolViolation,
			"send completion for output in state %s", o.state).WithContext("mux", o.mux)
	}
}
