// File: engine/port.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Port wraps one opened hardware port: its registration cache, the
// endpoint tables indexed by mux id and the control receive buffer.

package engine

import (
	"errors"
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/core/memreg"
	"github.com/momentics/hioload-dma/core/protocol"
)

// Port is owned by exactly one Device. mu guards everything below it and is
// never held while the Notifier runs.
type Port struct {
	rt     *Runtime
	device int
	hw     api.HardwarePort
	node   api.NodeID
	id     int
	log    zerolog.Logger

	mu      sync.Mutex
	cache   *memreg.Cache
	outputs []*Output
	inputs  []*Input
	active  *Input // input whose buffer is posted, if any
	ctrl    []byte // DMA control receive buffer
	live    int    // open endpoints
	closed  bool
}

// PortSnapshot is a point-in-time view of a port, for debug probes.
type PortSnapshot struct {
	Device        int          `json:"device"`
	Node          api.NodeID   `json:"node"`
	Port          int          `json:"port"`
	Outputs       int          `json:"outputs"`
	Inputs        int          `json:"inputs"`
	ActiveInput   int          `json:"active_input"` // mux of the active input or -1
	SendTokens    int          `json:"send_tokens"`
	ReceiveTokens int          `json:"receive_tokens"`
	Cache         memreg.Stats `json:"cache"`
}

// openPort claims the first free candidate port of device.
func openPort(rt *Runtime, device int) (*Port, error) {
	log := rt.log.With().Int("device", device).Logger()

	var hw api.HardwarePort
	for _, id := range rt.cfg.CandidatePorts {
		h, err := rt.cfg.Driver.Open(device, id)
		if err == nil {
			hw = h
			break
		}
		if errors.Is(err, api.ErrDeviceBusy) {
			log.Debug().Int("port", id).Msg("port busy, trying next")
			continue
		}
		return nil, api.Errorf(api.ErrCodeHardwareInit, "open device %d port %d", device, id).WithCause(err)
	}
	if hw == nil {
		return nil, api.Errorf(api.ErrCodeDeviceBusy, "device %d has no free port", device).
			WithContext("candidates", rt.cfg.CandidatePorts)
	}

	p := &Port{
		rt:     rt,
		device: device,
		hw:     hw,
		id:     hw.PortID(),
	}
	if err := p.init(); err != nil {
		if p.ctrl != nil {
			hw.DMAFree(p.ctrl)
		}
		return nil, multierr.Append(err, hw.Close())
	}
	p.log = log.With().Int("port", p.id).Uint32("node", uint32(p.node)).Logger()
	p.log.Debug().Msg("port opened")
	return p, nil
}

func (p *Port) init() error {
	node, err := p.hw.NodeID()
	if err != nil {
		return api.NewError(api.ErrCodeHardwareInit, "query node id").WithCause(err)
	}
	p.node = node

	if p.ctrl, err = p.hw.DMAAlloc(protocol.PacketLen); err != nil {
		p.ctrl = nil
		return api.NewError(api.ErrCodeHardwareInit, "allocate control buffer").WithCause(err)
	}
	if err := p.provideControl(); err != nil {
		return api.NewError(api.ErrCodeHardwareInit, "provide control buffer").WithCause(err)
	}
	// Extra provisions absorb bursts of control packets between pumps.
	for i := 0; i < p.rt.cfg.ControlBuffers && p.hw.ReceiveTokens() > 1; i++ {
		if err := p.provideControl(); err != nil {
			break
		}
	}
	p.cache = memreg.New(p.hw, p.rt.cfg.CacheCapacity, p.rt.cfg.CacheGranularity)
	return nil
}

// Device returns the index of the owning device.
func (p *Port) Device() int { return p.device }

// NodeID returns the local node id.
func (p *Port) NodeID() api.NodeID { return p.node }

// PortID returns the hardware port number.
func (p *Port) PortID() int { return p.id }

// Hardware returns the underlying hardware port.
func (p *Port) Hardware() api.HardwarePort { return p.hw }

// NewOutput creates an output endpoint with the next free output mux id.
func (p *Port) NewOutput() (*Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mux, err := p.nextMux(len(p.outputs))
	if err != nil {
		return nil, err
	}
	pkt, err := p.hw.DMAAlloc(protocol.PacketLen)
	if err != nil {
		return nil, hardwareError("allocate output packet", err)
	}
	o := &Output{
		port:     p,
		mux:      mux,
		notifyID: p.notifyBase() + 2*mux + 1,
		packet:   pkt,
	}
	o.request.port = p
	o.request.output = o
	p.outputs = append(p.outputs, o)
	p.live++
	p.log.Debug().Int("mux", mux).Msg("output created")
	return o, nil
}

// NewInput creates an input endpoint with the next free input mux id.
func (p *Port) NewInput() (*Input, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	mux, err := p.nextMux(len(p.inputs))
	if err != nil {
		return nil, err
	}
	pkt, err := p.hw.DMAAlloc(protocol.PacketLen)
	if err != nil {
		return nil, hardwareError("allocate input packet", err)
	}
	in := &Input{
		port:     p,
		mux:      mux,
		notifyID: p.notifyBase() + 2*mux + 2,
		packet:   pkt,
	}
	in.request.port = p
	in.request.input = in
	p.inputs = append(p.inputs, in)
	p.live++
	p.log.Debug().Int("mux", mux).Msg("input created")
	return in, nil
}

// Snapshot returns the current port state.
func (p *Port) Snapshot() PortSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := PortSnapshot{
		Device:      p.device,
		Node:        p.node,
		Port:        p.id,
		ActiveInput: -1,
	}
	for _, o := range p.outputs {
		if o != nil {
			s.Outputs++
		}
	}
	for _, in := range p.inputs {
		if in != nil {
			s.Inputs++
		}
	}
	if p.active != nil {
		s.ActiveInput = p.active.mux
	}
	if !p.closed {
		s.SendTokens = p.hw.SendTokens()
		s.ReceiveTokens = p.hw.ReceiveTokens()
		s.Cache = p.cache.Stats()
	}
	return s
}

func (p *Port) nextMux(n int) (int, error) {
	if p.closed {
		return 0, api.NewError(api.ErrCodeClosed, "port closed")
	}
	if n > MaxMux {
		return 0, api.NewError(api.ErrCodeInvalidArgument, "mux space exhausted").
			WithContext("device", p.device)
	}
	return n, nil
}

func (p *Port) notifyBase() int { return p.device * NotifyIDStride }

func (p *Port) outputAt(mux int) *Output {
	if mux < 0 || mux >= len(p.outputs) {
		return nil
	}
	return p.outputs[mux]
}

func (p *Port) inputAt(mux int) *Input {
	if mux < 0 || mux >= len(p.inputs) {
		return nil
	}
	return p.inputs[mux]
}

// needTokens checks the hardware credits before an operation is issued.
func (p *Port) needTokens(send, recv int) error {
	if send > 0 && p.hw.SendTokens() < send {
		return p.exhausted("send")
	}
	if recv > 0 && p.hw.ReceiveTokens() < recv {
		return p.exhausted("receive")
	}
	return nil
}

func (p *Port) exhausted(kind string) error {
	p.rt.metrics.TokenExhausted.WithLabelValues(kind).Inc()
	return api.Errorf(api.ErrCodeTokenExhausted, "no %s token", kind).
		WithContext("device", p.device).
		WithContext("port", p.id)
}

func (p *Port) provideControl() error {
	if err := p.needTokens(0, 1); err != nil {
		return err
	}
	if err := p.hw.ProvideReceiveBuffer(p.ctrl, api.PriorityHigh, protocol.TagControl); err != nil {
		return hardwareError("provide control buffer", err)
	}
	return nil
}

func (p *Port) register(b []byte) (*memreg.Block, error) {
	before := p.cache.Stats()
	blk, err := p.cache.Register(memreg.AddrOf(b), len(b))
	p.rt.metrics.observeCache(before, p.cache.Stats())
	return blk, err
}

func (p *Port) deregister(blk *memreg.Block) error {
	before := p.cache.Stats()
	err := p.cache.Deregister(blk)
	p.rt.metrics.observeCache(before, p.cache.Stats())
	return err
}

// close tears the port down. Without force, open endpoints are a
// protocol violation.
func (p *Port) close(force bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	if p.live > 0 && !force {
		return api.Errorf(api.ErrCodeProtocolViolation, "port has %d open endpoints", p.live).
			WithContext("device", p.device)
	}
	for _, o := range p.outputs {
		if o != nil {
			o.release()
		}
	}
	for _, in := range p.inputs {
		if in != nil {
			in.release()
		}
	}
	p.outputs, p.inputs, p.active = nil, nil, nil

	before := p.cache.Stats()
	errs := p.cache.Drain()
	p.rt.metrics.observeCache(before, p.cache.Stats())
	p.hw.DMAFree(p.ctrl)
	if err := p.hw.Close(); err != nil {
		errs = multierr.Append(errs, hardwareError("close port", err))
	}
	p.closed = true
	p.log.Debug().Msg("port closed")
	return errs
}

// hardwareError classifies an immediate hardware call failure.
func hardwareError(op string, err error) error {
	if errors.Is(err, api.ErrTokenExhausted) {
		return api.NewError(api.ErrCodeTokenExhausted, op).WithCause(err)
	}
	return api.NewError(api.ErrCodeHardware, op).WithCause(err)
}
