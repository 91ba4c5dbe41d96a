// File: engine/input.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Receiving endpoint.

package engine

import (
	"go.uber.org/multierr"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/core/memreg"
	"github.com/momentics/hioload-dma/core/protocol"
)

// Input receives buffers from one remote Output. After SignalSendIntent the
// application posts a buffer; SignalDataReceived reports it filled.
type Input struct {
	port     *Port
	mux      int
	notifyID int
	packet   []byte // DMA credit-grant packet
	request  Request

	remote    api.Address
	remoteMux int
	connected bool
	buf       []byte // posted buffer
	block     *memreg.Block
	length    int
	available bool
	closed    bool
}

// Mux returns the local mux id.
func (in *Input) Mux() int { return in.mux }

// NotifyID returns the id passed to the Notifier for this input.
func (in *Input) NotifyID() int { return in.notifyID }

// NodeID returns the local node id.
func (in *Input) NodeID() api.NodeID { return in.port.node }

// PortID returns the local hardware port number.
func (in *Input) PortID() int { return in.port.id }

// Port returns the owning port.
func (in *Input) Port() *Port { return in.port }

// Request returns the correlation record of this input.
func (in *Input) Request() *Request { return &in.request }

// Remote returns the bound peer address and mux.
func (in *Input) Remote() (api.Address, int, bool) {
	in.port.mu.Lock()
	defer in.port.mu.Unlock()
	return in.remote, in.remoteMux, in.connected
}

// Length returns the byte count of the last completed receive.
func (in *Input) Length() int {
	in.port.mu.Lock()
	defer in.port.mu.Unlock()
	return in.length
}

// DataAvailable reports whether the last posted buffer was filled.
func (in *Input) DataAvailable() bool {
	in.port.mu.Lock()
	defer in.port.mu.Unlock()
	return in.available
}

// Posted reports whether a buffer is posted and not yet filled.
func (in *Input) Posted() bool {
	in.port.mu.Lock()
	defer in.port.mu.Unlock()
	return in.buf != nil
}

// Connect binds the input to the output mux on node:port. It may be called
// once.
func (in *Input) Connect(node api.NodeID, port, mux int) error {
	p := in.port
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := in.usable(); err != nil {
		return err
	}
	if in.connected {
		return api.NewError(api.ErrCodeProtocolViolation, "input already connected").
			WithContext("mux", in.mux)
	}
	if mux < 0 || port < 0 {
		return api.Errorf(api.ErrCodeInvalidArgument, "connect to %d:%d mux %d", node, port, mux)
	}
	if err := protocol.Encode(in.packet, protocol.Packet{Code: protocol.CodeCreditGrant, Mux: mux}); err != nil {
		return err
	}
	in.remote = api.Address{Node: node, Port: port}
	in.remoteMux = mux
	in.connected = true
	return nil
}

// PostBuffer provides b for the next transfer and grants the peer one
// credit. b must stay referenced until SignalDataReceived. A port holds at
// most one posted buffer at a time. If the grant fails, synchronously or in
// SignalGrantSent.Err, the buffer stays posted until Close abandons it.
func (in *Input) PostBuffer(b []byte) error {
	p := in.port
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := in.usable(); err != nil {
		return err
	}
	switch {
	case !in.connected:
		return api.NewError(api.ErrCodeProtocolViolation, "input not connected").
			WithContext("mux", in.mux)
	case in.buf != nil:
		return api.NewError(api.ErrCodeProtocolViolation, "buffer already posted").
			WithContext("mux", in.mux)
	case in.request.inFlight:
		return api.NewError(api.ErrCodeProtocolViolation, "credit grant still in flight").
			WithContext("mux", in.mux)
	case p.active != nil:
		return api.NewError(api.ErrCodeProtocolViolation, "port already has an active input").
			WithContext("mux", in.mux).
			WithContext("active", p.active.mux)
	}
	if len(b) == 0 || len(b) > p.rt.cfg.MaxBlockLen {
		return api.Errorf(api.ErrCodeInvalidArgument, "post of %d bytes", len(b)).
			WithContext("max", p.rt.cfg.MaxBlockLen)
	}
	if err := p.needTokens(1, 1); err != nil {
		return err
	}
	blk, err := p.register(b)
	if err != nil {
		return err
	}
	if err := p.hw.ProvideReceiveBuffer(b, api.PriorityLow, protocol.TagData); err != nil {
		return multierr.Combine(hardwareError("provide data buffer", err), p.deregister(blk))
	}
	in.buf, in.block = b, blk
	in.length, in.available = 0, false
	p.active = in

	in.request.begin()
	if err := p.hw.Send(in.packet, api.PriorityHigh, in.remote, &in.request); err != nil {
		// the buffer stays with the hardware; only the grant is lost
		in.request.finish(err)
		return hardwareError("send credit grant", err)
	}
	return nil
}

// Close releases the input. An input with a grant in flight, or with a
// posted buffer whose grant succeeded, cannot be closed. A buffer whose grant
// failed is abandoned: it is deregistered and the port's active input is
// cleared, so another input may post.
func (in *Input) Close() error {
	p := in.port
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := in.usable(); err != nil {
		return err
	}
	if in.request.inFlight || (in.buf != nil && in.request.status == nil) {
		return api.NewError(api.ErrCodeProtocolViolation, "close of input with receive in progress").
			WithContext("mux", in.mux)
	}
	var err error
	if in.buf != nil {
		// the grant failed, so the peer will never fill the buffer
		err = p.deregister(in.block)
		if p.active == in {
			p.active = nil
		}
		p.log.Warn().Err(in.request.status).Int("mux", in.mux).Msg("posted buffer abandoned")
	}
	in.release()
	p.inputs[in.mux] = nil
	p.live--
	p.log.Debug().Int("mux", in.mux).Msg("input closed")
	return err
}

func (in *Input) release() {
	in.closed = true
	in.buf, in.block = nil, nil
	in.port.hw.DMAFree(in.packet)
}

func (in *Input) usable() error {
	if in.closed || in.port.closed {
		return api.NewError(api.ErrCodeClosed, "input closed").WithContext("mux", in.mux)
	}
	return nil
}

// grantSent handles the send completion of the credit grant.
func (in *Input) grantSent(status error) api.Signal {
	return api.Signal{Reason: api.SignalGrantSent, Err: status}
}

// received completes the posted buffer. Called with the port lock held.
func (in *Input) received(n int) error {
	err := in.port.deregister(in.block)
	in.buf, in.block = nil, nil
	in.length = n
	in.available = true
	in.port.active = nil
	return err
}
