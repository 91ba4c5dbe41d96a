// File: facade/hioload.go
// Unified facade layer for hioload-dma library.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// This file defines the HioloadDMA struct, the handle-based boundary of the
// library. It owns an engine.Runtime, a page-aligned buffer pool and the
// debug probes, and hands out generation-checked handles for devices,
// outputs and inputs instead of raw pointers. A handle that was closed, or
// that names another kind of object, yields api.ErrStaleHandle.

package facade

import (
	"context"
	"sync"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/control"
	"github.com/momentics/hioload-dma/engine"
	"github.com/momentics/hioload-dma/internal/arena"
	"github.com/momentics/hioload-dma/internal/concurrency"
	"github.com/momentics/hioload-dma/pool"
)

// Handle names a device, output or input.
type Handle = arena.Handle

const (
	kindDevice arena.Kind = iota + 1
	kindOutput
	kindInput
)

// Config holds parameters immutable per run.
type Config struct {
	Engine      *engine.Config // Runtime parameters; Engine.Driver is required
	Pool        *pool.Pool     // Buffer pool; nil builds one from PoolMaxSize and PoolDepth
	PoolMaxSize int            // Largest pooled buffer in bytes
	PoolDepth   int            // Free buffers kept per size class
	EnableDebug bool           // Whether to register debug probes
}

// DefaultConfig returns default configuration values. The caller sets
// Engine.Driver.
func DefaultConfig() *Config {
	return &Config{
		Engine:      engine.DefaultConfig(),
		PoolMaxSize: pool.DefaultMaxSize,   // matches the engine transfer limit
		PoolDepth:   pool.DefaultClassDepth, // 64 free buffers per class
		EnableDebug: true,                   // Enable debug probes
	}
}

// EndpointInfo identifies an endpoint to its peer.
type EndpointInfo struct {
	Node     api.NodeID
	Port     int
	Mux      int
	NotifyID int
}

// HioloadDMA is the main facade type.
// It implements api.GracefulShutdown and api.Pumper.
type HioloadDMA struct {
	rt      *engine.Runtime
	buffers *pool.Pool
	debug   *control.DebugProbes
	loop    *concurrency.PumpLoop

	devices *arena.Arena[*engine.Device]
	outputs *arena.Arena[*engine.Output]
	inputs  *arena.Arena[*engine.Input]

	config *Config
	mu     sync.Mutex // serialises close paths
	closed bool
}

// Ensure compliance with api.GracefulShutdown and api.Pumper.
var (
	_ api.GracefulShutdown = (*HioloadDMA)(nil)
	_ api.Pumper           = (*HioloadDMA)(nil)
)

// New constructs HioloadDMA with the given configuration.
func New(cfg *Config) (*HioloadDMA, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Engine == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "facade config without engine config")
	}
	rt, err := engine.New(cfg.Engine)
	if err != nil {
		return nil, err
	}
	buffers := cfg.Pool
	if buffers == nil {
		buffers = pool.New(cfg.PoolMaxSize, cfg.PoolDepth)
	}
	h := &HioloadDMA{
		rt:      rt,
		buffers: buffers,
		debug:   control.NewDebugProbes(),
		devices: arena.New[*engine.Device](kindDevice),
		outputs: arena.New[*engine.Output](kindOutput),
		inputs:  arena.New[*engine.Input](kindInput),
		config:  cfg,
	}
	h.loop = concurrency.NewPumpLoop(rt, concurrency.WithLogger(rt.Config().Logger))
	if cfg.EnableDebug {
		control.RegisterPlatformProbes(h.debug)
		control.RegisterRuntimeProbes(h.debug, rt)
		h.debug.RegisterProbe("buffers", func() any { return h.buffers.Stats() })
		h.debug.RegisterProbe("pump", func() any { return h.loop.Stats() })
	}
	return h, nil
}

// OpenDevice opens NIC index and returns a handle to it. Each call returns a
// distinct handle that must be closed with CloseDevice.
func (h *HioloadDMA) OpenDevice(index int) (Handle, error) {
	d, err := h.rt.OpenDevice(index)
	if err != nil {
		return Handle{}, err
	}
	return h.devices.Insert(d), nil
}

// CloseDevice releases a device handle. The last handle of a device closes
// it, which fails while endpoints are open on it.
func (h *HioloadDMA) CloseDevice(dev Handle) error {
	d, err := h.device(dev)
	if err != nil {
		return err
	}
	if err := h.rt.CloseDevice(d); err != nil {
		return err
	}
	h.devices.Remove(dev)
	return nil
}

// InitOutput creates an output endpoint on dev.
func (h *HioloadDMA) InitOutput(dev Handle) (Handle, error) {
	d, err := h.device(dev)
	if err != nil {
		return Handle{}, err
	}
	o, err := d.NewOutput()
	if err != nil {
		return Handle{}, err
	}
	return h.outputs.Insert(o), nil
}

// InitInput creates an input endpoint on dev.
func (h *HioloadDMA) InitInput(dev Handle) (Handle, error) {
	d, err := h.device(dev)
	if err != nil {
		return Handle{}, err
	}
	in, err := d.NewInput()
	if err != nil {
		return Handle{}, err
	}
	return h.inputs.Insert(in), nil
}

// ConnectOutput binds an output to the input mux on node:port.
func (h *HioloadDMA) ConnectOutput(out Handle, node api.NodeID, port, mux int) error {
	o, err := h.output(out)
	if err != nil {
		return err
	}
	return o.Connect(node, port, mux)
}

// ConnectInput binds an input to the output mux on node:port.
func (h *HioloadDMA) ConnectInput(in Handle, node api.NodeID, port, mux int) error {
	i, err := h.input(in)
	if err != nil {
		return err
	}
	return i.Connect(node, port, mux)
}

// SendRequest announces a transfer on out.
func (h *HioloadDMA) SendRequest(out Handle) error {
	o, err := h.output(out)
	if err != nil {
		return err
	}
	return o.SendRequest()
}

// SendBuffer transfers b on out. b must stay referenced and unmodified until
// the send completes.
func (h *HioloadDMA) SendBuffer(out Handle, b []byte) error {
	o, err := h.output(out)
	if err != nil {
		return err
	}
	return o.SendBuffer(b)
}

// PostBuffer posts b on in and grants the peer one credit.
func (h *HioloadDMA) PostBuffer(in Handle, b []byte) error {
	i, err := h.input(in)
	if err != nil {
		return err
	}
	return i.PostBuffer(b)
}

// CloseOutput releases an output handle.
func (h *HioloadDMA) CloseOutput(out Handle) error {
	o, err := h.output(out)
	if err != nil {
		return err
	}
	if err := o.Close(); err != nil {
		return err
	}
	h.outputs.Remove(out)
	return nil
}

// CloseInput releases an input handle.
func (h *HioloadDMA) CloseInput(in Handle) error {
	i, err := h.input(in)
	if err != nil {
		return err
	}
	if err := i.Close(); err != nil {
		return err
	}
	h.inputs.Remove(in)
	return nil
}

// OutputInfo returns the identity of an output.
func (h *HioloadDMA) OutputInfo(out Handle) (EndpointInfo, error) {
	o, err := h.output(out)
	if err != nil {
		return EndpointInfo{}, err
	}
	return EndpointInfo{Node: o.NodeID(), Port: o.PortID(), Mux: o.Mux(), NotifyID: o.NotifyID()}, nil
}

// InputInfo returns the identity of an input.
func (h *HioloadDMA) InputInfo(in Handle) (EndpointInfo, error) {
	i, err := h.input(in)
	if err != nil {
		return EndpointInfo{}, err
	}
	return EndpointInfo{Node: i.NodeID(), Port: i.PortID(), Mux: i.Mux(), NotifyID: i.NotifyID()}, nil
}

// InputLength returns the byte count of the last receive on in and whether
// data is available.
func (h *HioloadDMA) InputLength(in Handle) (int, bool, error) {
	i, err := h.input(in)
	if err != nil {
		return 0, false, err
	}
	return i.Length(), i.DataAvailable(), nil
}

// PumpEvents makes one dispatcher pass.
func (h *HioloadDMA) PumpEvents() (int, error) {
	return h.rt.Pump()
}

// Pump implements api.Pumper.
func (h *HioloadDMA) Pump() (int, error) { return h.rt.Pump() }

// Run pumps events on the calling goroutine until ctx ends or the engine
// reports an unrecognized event. Notifications are delivered from this
// goroutine.
func (h *HioloadDMA) Run(ctx context.Context) error {
	return h.loop.Run(ctx)
}

// AcquireBuffer returns a page-aligned buffer of n bytes from the pool.
func (h *HioloadDMA) AcquireBuffer(n int) api.Buffer {
	return h.buffers.Get(n)
}

// GetBufferPool returns the buffer pool.
func (h *HioloadDMA) GetBufferPool() api.BufferPool {
	return h.buffers
}

// GetRuntime returns the underlying engine runtime.
func (h *HioloadDMA) GetRuntime() *engine.Runtime {
	return h.rt
}

// GetDebugAPI returns the debug probe registry.
func (h *HioloadDMA) GetDebugAPI() *control.DebugProbes {
	return h.debug
}

// Shutdown implements api.GracefulShutdown: it force-closes the runtime and
// invalidates every handle. Subsequent calls are no-ops. It waits for a
// running pump pass, so it must not be called from a Notifier.
func (h *HioloadDMA) Shutdown() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	err := h.rt.Close()
	h.outputs.Clear()
	h.inputs.Clear()
	h.devices.Clear()
	return err
}

func (h *HioloadDMA) device(k Handle) (*engine.Device, error) {
	d, ok := h.devices.Get(k)
	if !ok {
		return nil, stale("device", k)
	}
	return d, nil
}

func (h *HioloadDMA) output(k Handle) (*engine.Output, error) {
	o, ok := h.outputs.Get(k)
	if !ok {
		return nil, stale("output", k)
	}
	return o, nil
}

func (h *HioloadDMA) input(k Handle) (*engine.Input, error) {
	i, ok := h.inputs.Get(k)
	if !ok {
		return nil, stale("input", k)
	}
	return i, nil
}

func stale(kind string, k Handle) error {
	return api.Errorf(api.ErrCodeStaleHandle, "%s handle %s", kind, k).WithContext("kind", kind)
}
