package engine_test

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/engine"
	"github.com/momentics/hioload-dma/fake"
)

func TestNewRequiresDriver(t *testing.T) {
	_, err := engine.New(&engine.Config{})
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = engine.New(nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}

func TestOpenDeviceIsReferenceCounted(t *testing.T) {
	h := newHarness(t)
	d1, err := h.rt.OpenDevice(0)
	require.NoError(t, err)
	d2, err := h.rt.OpenDevice(0)
	require.NoError(t, err)
	assert.Same(t, d1, d2)
	addr := api.Address{Node: nodeA, Port: d1.Port().PortID()}

	require.NoError(t, h.rt.CloseDevice(d1))
	assert.NotNil(t, h.fabric.Port(addr), "one reference remains")

	out, err := d2.NewOutput()
	require.NoError(t, err)
	assert.ErrorIs(t, h.rt.CloseDevice(d2), api.ErrProtocolViolation)
	require.NoError(t, out.Close())
	require.NoError(t, h.rt.CloseDevice(d2))
	assert.Nil(t, h.fabric.Port(addr))
	assert.Empty(t, h.rt.Devices())

	assert.ErrorIs(t, h.rt.CloseDevice(d2), api.ErrStaleHandle)
}

func TestPortOpenSkipsBusyPorts(t *testing.T) {
	h := newHarness(t)
	h.fabric.MarkBusy(nodeA, 2)
	h.fabric.MarkBusy(nodeA, 4)

	d, err := h.rt.OpenDevice(0)
	require.NoError(t, err)
	assert.Equal(t, 5, d.Port().PortID())
	assert.Equal(t, nodeA, d.NodeID())
}

func TestPortOpenFailsWhenAllPortsBusy(t *testing.T) {
	h := newHarness(t)
	for _, p := range engine.DefaultConfig().CandidatePorts {
		h.fabric.MarkBusy(nodeB, p)
	}
	_, err := h.rt.OpenDevice(1)
	assert.ErrorIs(t, err, api.ErrDeviceBusy)
	assert.Empty(t, h.rt.Devices())
}

func TestPortOpenHardwareFailure(t *testing.T) {
	h := newHarness(t)
	h.driver.FailOpen(0, errors.New("no such NIC"))
	_, err := h.rt.OpenDevice(0)
	assert.ErrorIs(t, err, api.ErrHardwareInit)

	_, err = h.rt.OpenDevice(7)
	assert.ErrorIs(t, err, api.ErrHardwareInit)
	assert.ErrorIs(t, err, fake.ErrNoSuchDevice)
}

func TestPortOpenProvidesControlBuffers(t *testing.T) {
	h := newHarness(t)
	d, err := h.rt.OpenDevice(0)
	require.NoError(t, err)
	hw := h.hw(d)
	assert.Equal(t, 1+engine.DefaultConfig().ControlBuffers, hw.ProvidedBuffers(api.PriorityHigh))
	assert.Equal(t, fake.DefaultReceiveTokens-17, hw.ReceiveTokens())
}

func TestPortOpenWithScarceReceiveTokens(t *testing.T) {
	h := newHarness(t, fake.WithTokens(8, 4))
	d, err := h.rt.OpenDevice(0)
	require.NoError(t, err)
	// extra provisions stop while more than one token remains
	assert.Equal(t, 3, h.hw(d).ProvidedBuffers(api.PriorityHigh))
	assert.Equal(t, 1, h.hw(d).ReceiveTokens())

	h2 := newHarness(t, fake.WithTokens(8, 0))
	_, err = h2.rt.OpenDevice(0)
	assert.ErrorIs(t, err, api.ErrHardwareInit)
	assert.ErrorIs(t, err, api.ErrTokenExhausted)
	assert.Nil(t, h2.fabric.Port(api.Address{Node: nodeA, Port: 2}), "failed port is released")
}

func TestOutputPreconditions(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	lone, err := h.devA.NewOutput()
	require.NoError(t, err)
	assert.ErrorIs(t, lone.SendRequest(), api.ErrProtocolViolation, "not connected")
	_, _, ok := lone.Remote()
	assert.False(t, ok)

	out, in := h.link(t)
	assert.ErrorIs(t, out.Connect(nodeB, 7, 0), api.ErrProtocolViolation, "connect twice")
	rem, mux, ok := out.Remote()
	assert.True(t, ok)
	assert.Equal(t, api.Address{Node: nodeB, Port: h.devB.Port().PortID()}, rem)
	assert.Equal(t, in.Mux(), mux)

	assert.ErrorIs(t, out.SendBuffer([]byte("x")), api.ErrProtocolViolation, "idle")
	require.NoError(t, out.SendRequest())
	assert.ErrorIs(t, out.SendRequest(), api.ErrProtocolViolation, "requested")
	assert.ErrorIs(t, out.SendBuffer([]byte("x")), api.ErrProtocolViolation, "requested")
	assert.ErrorIs(t, out.Close(), api.ErrProtocolViolation, "in flight")

	h.drain(t)
	require.Equal(t, engine.OutputReady, out.State())
	assert.ErrorIs(t, out.SendRequest(), api.ErrProtocolViolation, "ready")
	assert.ErrorIs(t, out.SendBuffer(nil), api.ErrInvalidArgument)
	assert.ErrorIs(t, out.SendBuffer(make([]byte, engine.DefaultConfig().MaxBlockLen+1)), api.ErrInvalidArgument)
	assert.Equal(t, engine.OutputReady, out.State())
}

func TestTokenExhaustionLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	out, in := h.link(t)
	hwA, hwB := h.hw(h.devA), h.hw(h.devB)

	hwA.SetTokens(0, hwA.ReceiveTokens())
	assert.ErrorIs(t, out.SendRequest(), api.ErrTokenExhausted)
	assert.Equal(t, engine.OutputIdle, out.State())
	assert.False(t, out.Request().InFlight())

	recvTokens := hwB.ReceiveTokens()
	hwB.SetTokens(0, recvTokens)
	assert.ErrorIs(t, in.PostBuffer(make([]byte, 64)), api.ErrTokenExhausted)
	hwB.SetTokens(4, 0)
	assert.ErrorIs(t, in.PostBuffer(make([]byte, 64)), api.ErrTokenExhausted)
	assert.False(t, in.Posted())
	assert.Zero(t, hwB.PinCalls(), "no pin before the token check")
	assert.Equal(t, -1, h.rt.Snapshot()[1].ActiveInput)

	m := h.rt.Metrics()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.TokenExhausted.WithLabelValues("send")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.TokenExhausted.WithLabelValues("receive")))

	hwA.SetTokens(4, hwA.ReceiveTokens())
	assert.NoError(t, out.SendRequest())
}

func TestInputPreconditions(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	in, err := h.devB.NewInput()
	require.NoError(t, err)
	other, err := h.devB.NewInput()
	require.NoError(t, err)

	assert.ErrorIs(t, in.PostBuffer(make([]byte, 8)), api.ErrProtocolViolation, "not connected")
	require.NoError(t, in.Connect(nodeA, h.devA.Port().PortID(), 0))
	require.NoError(t, other.Connect(nodeA, h.devA.Port().PortID(), 1))
	assert.ErrorIs(t, in.Connect(nodeA, 2, 0), api.ErrProtocolViolation)
	assert.ErrorIs(t, in.PostBuffer(nil), api.ErrInvalidArgument)

	require.NoError(t, in.PostBuffer(make([]byte, 8)))
	assert.ErrorIs(t, in.PostBuffer(make([]byte, 8)), api.ErrProtocolViolation, "already posted")
	assert.ErrorIs(t, other.PostBuffer(make([]byte, 8)), api.ErrProtocolViolation, "port has an active input")
	assert.ErrorIs(t, in.Close(), api.ErrProtocolViolation, "posted")
	assert.Equal(t, in.Mux(), h.rt.Snapshot()[1].ActiveInput)
}

func TestFailedGrantCanBeAbandoned(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	in, err := h.devB.NewInput()
	require.NoError(t, err)
	require.NoError(t, in.Connect(nodeA, 99, 0))

	// the grant completes with an error: nobody listens on port 99
	require.NoError(t, in.PostBuffer(make([]byte, 64)))
	h.drain(t)
	last, ok := h.notes.Last()
	require.True(t, ok)
	assert.Equal(t, api.SignalGrantSent, last.Signal.Reason)
	assert.ErrorIs(t, last.Signal.Err, fake.ErrTargetPortClosed)
	assert.True(t, in.Posted())

	require.NoError(t, in.Close())
	assert.Equal(t, -1, h.rt.Snapshot()[1].ActiveInput)

	out, next := h.link(t)
	require.NoError(t, out.SendRequest())
	assert.NoError(t, next.PostBuffer(make([]byte, 64)), "port accepts a new post")
}

func TestSynchronousGrantFailureCanBeAbandoned(t *testing.T) {
	rt, drv := newHookedRuntime(t, fake.NewFabric(), nil, nodeA, nodeB)
	a, err := rt.OpenDevice(0)
	require.NoError(t, err)
	b, err := rt.OpenDevice(1)
	require.NoError(t, err)
	in, err := b.NewInput()
	require.NoError(t, err)
	require.NoError(t, in.Connect(nodeA, a.Port().PortID(), 0))

	boom := errors.New("link down")
	drv.port(1).failSends(boom)
	err = in.PostBuffer(make([]byte, 64))
	assert.ErrorIs(t, err, boom)
	assert.True(t, in.Posted())
	assert.False(t, in.Request().InFlight())
	assert.ErrorIs(t, in.PostBuffer(make([]byte, 64)), api.ErrProtocolViolation)

	require.NoError(t, in.Close())
	assert.Equal(t, -1, rt.Snapshot()[1].ActiveInput)

	drv.port(1).failSends(nil)
	other, err := b.NewInput()
	require.NoError(t, err)
	require.NoError(t, other.Connect(nodeA, a.Port().PortID(), 1))
	assert.NoError(t, other.PostBuffer(make([]byte, 64)))
}

func TestRegistrationFailureOnSend(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	out, in := h.link(t)
	require.NoError(t, out.SendRequest())
	require.NoError(t, in.PostBuffer(make([]byte, 64)))
	h.drain(t)

	h.hw(h.devA).FailRegistration(fake.ErrMemoryFault)
	err := out.SendBuffer(make([]byte, 64))
	assert.ErrorIs(t, err, api.ErrRegistrationFailure)
	assert.ErrorIs(t, err, fake.ErrMemoryFault)
	assert.Equal(t, engine.OutputReady, out.State())
}

func TestClosedEndpointsAreRejected(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	out, in := h.link(t)
	require.NoError(t, out.Close())
	require.NoError(t, in.Close())

	assert.ErrorIs(t, out.SendRequest(), api.ErrClosed)
	assert.ErrorIs(t, in.PostBuffer(make([]byte, 8)), api.ErrClosed)
	assert.ErrorIs(t, out.Close(), api.ErrClosed)

	// mux ids are not reused
	next, err := h.devA.NewOutput()
	require.NoError(t, err)
	assert.Equal(t, 1, next.Mux())
	assert.Equal(t, 1, h.rt.Snapshot()[0].Outputs)
}

func TestRuntimeCloseReleasesEverything(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	out, in := h.link(t)
	require.NoError(t, out.SendRequest())
	require.NoError(t, in.PostBuffer(make([]byte, 64)))
	h.drain(t)
	require.NoError(t, out.SendBuffer(make([]byte, 64)))
	hwA, hwB := h.hw(h.devA), h.hw(h.devB)
	require.Equal(t, 1, hwA.PinnedRanges())

	require.NoError(t, h.rt.Close())
	assert.Zero(t, hwA.PinnedRanges())
	assert.Zero(t, hwB.PinnedRanges())
	assert.Nil(t, h.fabric.Port(hwA.Address()))
	assert.Equal(t, float64(0), testutil.ToFloat64(h.rt.Metrics().ResidentBlocks))

	_, err := h.rt.OpenDevice(0)
	assert.ErrorIs(t, err, api.ErrClosed)
	assert.ErrorIs(t, out.SendRequest(), api.ErrClosed)
	n, err := h.rt.Pump()
	assert.NoError(t, err)
	assert.Zero(t, n)
	assert.NoError(t, h.rt.Close())
}
