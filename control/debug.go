// control/debug.go
// Author: momentics <momentics@gmail.com>
//
// Named probes over engine and platform state, dumped as one JSON document.

package control

import (
	"encoding/json"
	"io"
	"sort"
	"sync"

	"github.com/momentics/hioload-dma/engine"
)

// Probe returns a JSON-encodable view of some state at call time.
type Probe func() any

// DebugProbes is a registry of named probes.
type DebugProbes struct {
	mu     sync.RWMutex
	probes map[string]Probe
}

// NewDebugProbes returns an empty registry.
func NewDebugProbes() *DebugProbes {
	return &DebugProbes{probes: make(map[string]Probe)}
}

// RegisterProbe adds fn under name, replacing any previous probe.
func (dp *DebugProbes) RegisterProbe(name string, fn func() any) {
	dp.mu.Lock()
	dp.probes[name] = fn
	dp.mu.Unlock()
}

// UnregisterProbe removes name.
func (dp *DebugProbes) UnregisterProbe(name string) {
	dp.mu.Lock()
	delete(dp.probes, name)
	dp.mu.Unlock()
}

// Names lists registered probes in sorted order.
func (dp *DebugProbes) Names() []string {
	dp.mu.RLock()
	names := make([]string, 0, len(dp.probes))
	for k := range dp.probes {
		names = append(names, k)
	}
	dp.mu.RUnlock()
	sort.Strings(names)
	return names
}

// DumpState evaluates every probe. Probes run without the registry lock
// held, so a probe may itself register or remove probes.
func (dp *DebugProbes) DumpState() map[string]any {
	dp.mu.RLock()
	snapshot := make(map[string]Probe, len(dp.probes))
	for k, fn := range dp.probes {
		snapshot[k] = fn
	}
	dp.mu.RUnlock()

	out := make(map[string]any, len(snapshot))
	for k, fn := range snapshot {
		out[k] = fn()
	}
	return out
}

// WriteJSON writes DumpState to w as indented JSON.
func (dp *DebugProbes) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(dp.DumpState())
}

// RegisterRuntimeProbes exposes the port snapshots of rt.
func RegisterRuntimeProbes(dp *DebugProbes, rt *engine.Runtime) {
	dp.RegisterProbe("engine.ports", func() any { return rt.Snapshot() })
	dp.RegisterProbe("engine.devices", func() any { return len(rt.Devices()) })
}
