package control_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-dma/control"
	"github.com/momentics/hioload-dma/engine"
	"github.com/momentics/hioload-dma/fake"
)

func TestDebugProbes(t *testing.T) {
	dp := control.NewDebugProbes()
	dp.RegisterProbe("answer", func() any { return 42 })
	control.RegisterPlatformProbes(dp)

	state := dp.DumpState()
	assert.Equal(t, 42, state["answer"])
	assert.Contains(t, state, "platform.cpus")
	assert.Greater(t, state["platform.page_size"], 0)
}

func TestProbeRegistry(t *testing.T) {
	dp := control.NewDebugProbes()
	dp.RegisterProbe("b", func() any { return "x" })
	dp.RegisterProbe("a", func() any {
		dp.RegisterProbe("late", func() any { return nil })
		return 1
	})
	assert.Equal(t, []string{"a", "b"}, dp.Names())

	var buf bytes.Buffer
	require.NoError(t, dp.WriteJSON(&buf))
	var got map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, map[string]any{"a": float64(1), "b": "x"}, got)
	assert.Contains(t, dp.Names(), "late")

	dp.UnregisterProbe("b")
	assert.Equal(t, []string{"a", "late"}, dp.Names())
}

func TestRuntimeProbes(t *testing.T) {
	cfg := engine.DefaultConfig()
	cfg.Driver = fake.NewFabric().Driver(7)
	rt, err := engine.New(cfg)
	require.NoError(t, err)
	defer rt.Close()
	_, err = rt.OpenDevice(0)
	require.NoError(t, err)

	dp := control.NewDebugProbes()
	control.RegisterRuntimeProbes(dp, rt)
	state := dp.DumpState()
	assert.Equal(t, 1, state["engine.devices"])
	ports, ok := state["engine.ports"].([]engine.PortSnapshot)
	require.True(t, ok)
	require.Len(t, ports, 1)
	assert.EqualValues(t, 7, ports[0].Node)
	assert.Equal(t, 2, ports[0].Port)
}

func TestMetricsRegistry(t *testing.T) {
	reg := control.NewMetricsRegistry()
	cfg := engine.DefaultConfig()
	cfg.Driver = fake.NewFabric().Driver(1)
	cfg.Registerer = reg
	rt, err := engine.New(cfg)
	require.NoError(t, err)
	defer rt.Close()

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool, len(families))
	for _, f := range families {
		names[f.GetName()] = true
	}
	assert.True(t, names["hioload_dma_cache_resident_blocks"])
	assert.True(t, names["go_goroutines"])
	assert.NotNil(t, control.MetricsHandler(reg))
}
