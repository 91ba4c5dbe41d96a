package engine_test

import (
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/engine"
	"github.com/momentics/hioload-dma/fake"
)

const (
	nodeA api.NodeID = 10
	nodeB api.NodeID = 20
)

// harness is one host with two NICs on the same fabric.
type harness struct {
	fabric   *fake.Fabric
	driver   *fake.Driver
	notes    *fake.Notifier
	rt       *engine.Runtime
	devA     *engine.Device
	devB     *engine.Device
	registry *prometheus.Registry
}

func newHarness(t *testing.T, opts ...fake.Option) *harness {
	t.Helper()
	h := &harness{
		fabric:   fake.NewFabric(opts...),
		notes:    fake.NewNotifier(),
		registry: prometheus.NewRegistry(),
	}
	h.driver = h.fabric.Driver(nodeA, nodeB)
	cfg := engine.DefaultConfig()
	cfg.Driver = h.driver
	cfg.Notifier = h.notes
	cfg.Registerer = h.registry
	rt, err := engine.New(cfg)
	require.NoError(t, err)
	h.rt = rt
	t.Cleanup(func() { _ = rt.Close() })
	return h
}

func (h *harness) open(t *testing.T) {
	t.Helper()
	var err error
	h.devA, err = h.rt.OpenDevice(0)
	require.NoError(t, err)
	h.devB, err = h.rt.OpenDevice(1)
	require.NoError(t, err)
}

// hw returns the fake port behind d.
func (h *harness) hw(d *engine.Device) *fake.Port {
	return h.fabric.Port(api.Address{Node: d.NodeID(), Port: d.Port().PortID()})
}

// link creates an output on A wired to an input on B.
func (h *harness) link(t *testing.T) (*engine.Output, *engine.Input) {
	t.Helper()
	out, err := h.devA.NewOutput()
	require.NoError(t, err)
	in, err := h.devB.NewInput()
	require.NoError(t, err)
	require.NoError(t, out.Connect(nodeB, h.devB.Port().PortID(), in.Mux()))
	require.NoError(t, in.Connect(nodeA, h.devA.Port().PortID(), out.Mux()))
	return out, in
}

// drain pumps until a pass handles nothing.
func (h *harness) drain(t *testing.T) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		n, err := h.rt.Pump()
		require.NoError(t, err)
		if n == 0 {
			return
		}
	}
	t.Fatal("pump did not go quiet")
}

// hookedPort wraps a hardware port so tests can intercept Receive and Send.
type hookedPort struct {
	api.HardwarePort
	device    int
	onReceive func(device int)

	mu       sync.Mutex
	closed   bool
	lateRecv int
	sendErr  error
}

func (p *hookedPort) Receive() api.Event {
	p.mu.Lock()
	if p.closed {
		p.lateRecv++
	}
	p.mu.Unlock()
	if p.onReceive != nil {
		p.onReceive(p.device)
	}
	return p.HardwarePort.Receive()
}

func (p *hookedPort) Send(msg []byte, prio api.Priority, dst api.Address, cookie any) error {
	p.mu.Lock()
	err := p.sendErr
	p.mu.Unlock()
	if err != nil {
		return err
	}
	return p.HardwarePort.Send(msg, prio, dst, cookie)
}

func (p *hookedPort) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.HardwarePort.Close()
}

func (p *hookedPort) failSends(err error) {
	p.mu.Lock()
	p.sendErr = err
	p.mu.Unlock()
}

// receivesAfterClose counts Receive calls made after Close.
func (p *hookedPort) receivesAfterClose() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lateRecv
}

// hookedDriver wraps every port it opens in a hookedPort.
type hookedDriver struct {
	inner     api.Driver
	onReceive func(device int)

	mu    sync.Mutex
	ports map[int]*hookedPort
}

func (d *hookedDriver) Open(device, port int) (api.HardwarePort, error) {
	hw, err := d.inner.Open(device, port)
	if err != nil {
		return nil, err
	}
	hp := &hookedPort{HardwarePort: hw, device: device, onReceive: d.onReceive}
	d.mu.Lock()
	d.ports[device] = hp
	d.mu.Unlock()
	return hp, nil
}

func (d *hookedDriver) port(device int) *hookedPort {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ports[device]
}

// newHookedRuntime builds a runtime over fabric whose ports call onReceive
// before every poll.
func newHookedRuntime(t *testing.T, fabric *fake.Fabric, onReceive func(int), nodes ...api.NodeID) (*engine.Runtime, *hookedDriver) {
	t.Helper()
	drv := &hookedDriver{
		inner:     fabric.Driver(nodes...),
		onReceive: onReceive,
		ports:     make(map[int]*hookedPort),
	}
	cfg := engine.DefaultConfig()
	cfg.Driver = drv
	rt, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = rt.Close() })
	return rt, drv
}
