// File: engine/runtime.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime is the root of the engine: it opens devices, owns their ports and
// drives the dispatcher. There is no package level state; several runtimes
// may coexist over different drivers.

package engine

import (
	"sync"

	"github.com/rs/zerolog"
	"go.uber.org/multierr"

	"github.com/momentics/hioload-dma/api"
)

// Device is one opened NIC. Devices are reference counted: every OpenDevice
// of the same index returns the same Device and must be paired with a
// CloseDevice.
type Device struct {
	index int
	refs  int // guarded by Runtime.mu
	port  *Port
}

// Index returns the device number.
func (d *Device) Index() int { return d.index }

// Port returns the port opened on the device.
func (d *Device) Port() *Port { return d.port }

// NodeID returns the NIC node id.
func (d *Device) NodeID() api.NodeID { return d.port.node }

// NewOutput creates an output on the device port.
func (d *Device) NewOutput() (*Output, error) { return d.port.NewOutput() }

// NewInput creates an input on the device port.
func (d *Device) NewInput() (*Input, error) { return d.port.NewInput() }

// Runtime owns every open device.
type Runtime struct {
	cfg     Config
	log     zerolog.Logger
	metrics *Metrics

	mu      sync.Mutex
	devices []*Device // indexed by device number, nil when closed
	closed  bool

	pumpMu sync.Mutex
}

// Ensure compliance with api.Pumper.
var _ api.Pumper = (*Runtime)(nil)

// New constructs a Runtime. cfg.Driver is required; zero fields take their
// DefaultConfig values.
func New(cfg *Config) (*Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.Driver == nil {
		return nil, api.NewError(api.ErrCodeInvalidArgument, "engine config without driver")
	}
	c := cfg.withDefaults()
	return &Runtime{
		cfg:     c,
		log:     c.Logger.With().Str("component", "engine").Logger(),
		metrics: NewMetrics(c.MetricsNamespace, c.Registerer),
	}, nil
}

// Config returns the effective configuration.
func (r *Runtime) Config() Config { return r.cfg }

// Metrics returns the runtime collectors.
func (r *Runtime) Metrics() *Metrics { return r.metrics }

// OpenDevice opens device index, or takes another reference on it if it is
// already open.
func (r *Runtime) OpenDevice(index int) (*Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, api.NewError(api.ErrCodeClosed, "open device on closed runtime")
	}
	if index < 0 {
		return nil, api.Errorf(api.ErrCodeInvalidArgument, "device index %d", index)
	}
	if index < len(r.devices) && r.devices[index] != nil {
		d := r.devices[index]
		d.refs++
		return d, nil
	}
	port, err := openPort(r, index)
	if err != nil {
		r.log.Error().Err(err).Int("device", index).Msg("device open failed")
		return nil, err
	}
	for len(r.devices) <= index {
		r.devices = append(r.devices, nil)
	}
	d := &Device{index: index, refs: 1, port: port}
	r.devices[index] = d
	r.log.Info().Int("device", index).Int("port", port.id).Uint32("node", uint32(port.node)).
		Msg("device opened")
	return d, nil
}

// CloseDevice drops one reference on d. The last reference closes the port,
// which must have no open endpoints. CloseDevice waits for a running Pump
// pass, so it must not be called from a Notifier.
func (r *Runtime) CloseDevice(d *Device) error {
	r.pumpMu.Lock()
	defer r.pumpMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if d == nil || d.index >= len(r.devices) || r.devices[d.index] != d {
		return api.NewError(api.ErrCodeStaleHandle, "close of unknown device")
	}
	if d.refs > 1 {
		d.refs--
		return nil
	}
	if err := d.port.close(false); err != nil {
		return err
	}
	d.refs = 0
	r.devices[d.index] = nil
	r.log.Info().Int("device", d.index).Msg("device closed")
	return nil
}

// Devices returns the open devices in index order.
func (r *Runtime) Devices() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Device, 0, len(r.devices))
	for _, d := range r.devices {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

// Snapshot returns the state of every open port.
func (r *Runtime) Snapshot() []PortSnapshot {
	devs := r.Devices()
	out := make([]PortSnapshot, 0, len(devs))
	for _, d := range devs {
		out = append(out, d.port.Snapshot())
	}
	return out
}

// Close force-closes every device, releasing endpoints and pins regardless
// of outstanding operations. Further calls are no-ops. Like CloseDevice it
// waits for a running Pump pass and must not be called from a Notifier.
func (r *Runtime) Close() error {
	r.pumpMu.Lock()
	defer r.pumpMu.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	var errs error
	for i, d := range r.devices {
		if d == nil {
			continue
		}
		errs = multierr.Append(errs, d.port.close(true))
		r.devices[i] = nil
	}
	r.devices = nil
	r.log.Info().Msg("runtime closed")
	return errs
}
