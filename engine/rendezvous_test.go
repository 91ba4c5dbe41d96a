package engine_test

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/engine"
	"github.com/momentics/hioload-dma/fake"
)

func TestRendezvousEndToEnd(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	out, in := h.link(t)

	require.NoError(t, out.SendRequest())
	assert.Equal(t, engine.OutputRequested, out.State())
	h.drain(t)
	assert.Equal(t, engine.OutputReady, out.State())
	assert.Equal(t, []api.Reason{api.SignalRequestSent}, h.notes.For(out.NotifyID()))
	assert.Equal(t, []api.Reason{api.SignalSendIntent}, h.notes.For(in.NotifyID()))

	recv := make([]byte, 4096)
	require.NoError(t, in.PostBuffer(recv))
	assert.True(t, in.Posted())
	h.drain(t)
	assert.Equal(t, []api.Reason{api.SignalRequestSent, api.SignalCreditGranted}, h.notes.For(out.NotifyID()))
	assert.Equal(t, []api.Reason{api.SignalSendIntent, api.SignalGrantSent}, h.notes.For(in.NotifyID()))

	payload := bytes.Repeat([]byte("dma!"), 300)
	require.NoError(t, out.SendBuffer(payload))
	assert.Equal(t, engine.OutputSending, out.State())
	h.drain(t)

	assert.Equal(t, engine.OutputIdle, out.State())
	assert.Equal(t, api.SignalSendComplete, h.notes.For(out.NotifyID())[2])
	last, ok := h.notes.Last()
	require.True(t, ok)
	assert.Equal(t, in.NotifyID(), last.ID)
	assert.Equal(t, api.SignalDataReceived, last.Signal.Reason)
	assert.Equal(t, len(payload), last.Signal.Length)
	assert.NoError(t, last.Signal.Err)

	assert.Equal(t, payload, recv[:len(payload)])
	assert.Equal(t, len(payload), in.Length())
	assert.True(t, in.DataAvailable())
	assert.False(t, in.Posted())
	assert.Equal(t, -1, h.rt.Snapshot()[1].ActiveInput)
}

func TestRegistrationIsReusedAcrossCycles(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	out, in := h.link(t)
	payload := make([]byte, 512)
	recv := make([]byte, 512)

	for i := 0; i < 3; i++ {
		require.NoError(t, out.SendRequest())
		require.NoError(t, in.PostBuffer(recv))
		h.drain(t)
		require.NoError(t, out.SendBuffer(payload))
		h.drain(t)
		require.True(t, in.DataAvailable())
	}

	assert.Equal(t, 1, h.hw(h.devA).PinCalls())
	assert.Equal(t, 1, h.hw(h.devB).PinCalls())
	assert.Equal(t, 0, h.hw(h.devA).UnpinCalls(), "warm blocks stay pinned")
	m := h.rt.Metrics()
	assert.Equal(t, float64(2), testutil.ToFloat64(m.Pins))
	assert.Equal(t, float64(4), testutil.ToFloat64(m.CacheHits))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ResidentBlocks))
	assert.Equal(t, float64(3), testutil.ToFloat64(m.Notifications.WithLabelValues("data_received")))
}

func TestNotifyIDs(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	o0, err := h.devA.NewOutput()
	require.NoError(t, err)
	o1, err := h.devA.NewOutput()
	require.NoError(t, err)
	i0, err := h.devA.NewInput()
	require.NoError(t, err)
	i1, err := h.devA.NewInput()
	require.NoError(t, err)
	ob, err := h.devB.NewOutput()
	require.NoError(t, err)
	ib, err := h.devB.NewInput()
	require.NoError(t, err)

	assert.Equal(t, []int{0, 1, 0, 1}, []int{o0.Mux(), o1.Mux(), i0.Mux(), i1.Mux()})
	assert.Equal(t, 1, o0.NotifyID())
	assert.Equal(t, 3, o1.NotifyID())
	assert.Equal(t, 2, i0.NotifyID())
	assert.Equal(t, 4, i1.NotifyID())
	assert.Equal(t, engine.NotifyIDStride+1, ob.NotifyID())
	assert.Equal(t, engine.NotifyIDStride+2, ib.NotifyID())

	assert.Equal(t, nodeA, o0.NodeID())
	assert.Equal(t, h.devA.Port().PortID(), i1.PortID())
}

func TestPacketsAreRoutedByMux(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	// shift B's input mux ids away from A's output mux ids
	spare, err := h.devB.NewInput()
	require.NoError(t, err)
	out0, in0 := h.link(t)
	out1, in1 := h.link(t)
	require.Equal(t, 1, in0.Mux())
	require.Equal(t, 2, in1.Mux())

	require.NoError(t, out1.SendRequest())
	h.drain(t)
	assert.Equal(t, []api.Reason{api.SignalSendIntent}, h.notes.For(in1.NotifyID()))
	assert.Empty(t, h.notes.For(in0.NotifyID()))
	assert.Empty(t, h.notes.For(spare.NotifyID()))

	require.NoError(t, in1.PostBuffer(make([]byte, 64)))
	h.drain(t)
	assert.Contains(t, h.notes.For(out1.NotifyID()), api.SignalCreditGranted)
	assert.NotContains(t, h.notes.For(out0.NotifyID()), api.SignalCreditGranted)
}

func TestNotifierMayCallBackIntoEngine(t *testing.T) {
	var (
		out     *engine.Output
		in      *engine.Input
		payload = []byte("callback driven")
		recv    = make([]byte, 64)
		got     []api.Reason
		reacted error
	)
	react := func(err error) {
		if err != nil && reacted == nil {
			reacted = err
		}
	}
	rendezvous := api.NotifierFunc(func(id int, sig api.Signal) {
		got = append(got, sig.Reason)
		switch sig.Reason {
		case api.SignalSendIntent:
			react(in.PostBuffer(recv))
		case api.SignalCreditGranted:
			// the grant may overtake the local intent completion
			if out.State() == engine.OutputReady {
				react(out.SendBuffer(payload))
			}
		case api.SignalRequestSent:
			if containsReason(got, api.SignalCreditGranted) {
				react(out.SendBuffer(payload))
			}
		}
	})

	fabric := fake.NewFabric()
	cfg := engine.DefaultConfig()
	cfg.Driver = fabric.Driver(nodeA, nodeB)
	cfg.Notifier = rendezvous
	rt, err := engine.New(cfg)
	require.NoError(t, err)
	defer rt.Close()

	a, err := rt.OpenDevice(0)
	require.NoError(t, err)
	b, err := rt.OpenDevice(1)
	require.NoError(t, err)
	out, err = a.NewOutput()
	require.NoError(t, err)
	in, err = b.NewInput()
	require.NoError(t, err)
	require.NoError(t, out.Connect(nodeB, b.Port().PortID(), in.Mux()))
	require.NoError(t, in.Connect(nodeA, a.Port().PortID(), out.Mux()))

	require.NoError(t, out.SendRequest())
	for i := 0; i < 100 && !in.DataAvailable(); i++ {
		_, err := rt.Pump()
		require.NoError(t, err)
	}
	require.NoError(t, reacted)
	assert.True(t, in.DataAvailable())
	assert.Equal(t, payload, recv[:in.Length()])
}

func containsReason(rs []api.Reason, r api.Reason) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}

func TestSendFailureIsReportedInSignal(t *testing.T) {
	h := newHarness(t)
	h.open(t)
	out, err := h.devA.NewOutput()
	require.NoError(t, err)
	require.NoError(t, out.Connect(nodeB, 99, 0))

	require.NoError(t, out.SendRequest())
	h.drain(t)

	last, ok := h.notes.Last()
	require.True(t, ok)
	assert.Equal(t, out.NotifyID(), last.ID)
	assert.Equal(t, api.SignalRequestSent, last.Signal.Reason)
	assert.ErrorIs(t, last.Signal.Err, fake.ErrTargetPortClosed)
	assert.Equal(t, engine.OutputIdle, out.State())
	assert.ErrorIs(t, out.Request().Status(), fake.ErrTargetPortClosed)
}
