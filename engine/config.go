// File: engine/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime configuration.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/core/memreg"
)

// NotifyIDStride separates the notify id spaces of devices: an endpoint on
// device d gets d*NotifyIDStride plus its per-port id.
const NotifyIDStride = 1 << 16

// MaxMux is the largest mux id a port hands out per direction.
const MaxMux = NotifyIDStride/2 - 2

// Config holds parameters immutable per Runtime.
type Config struct {
	Driver           api.Driver            // Hardware binding, required
	Notifier         api.Notifier          // Completion sink, nil discards
	Logger           zerolog.Logger        // Zero value logs nothing
	Registerer       prometheus.Registerer // Metrics registry, nil disables registration
	MetricsNamespace string                // Prefix for every metric name
	CacheCapacity    int                   // Idle blocks kept pinned per port
	CacheGranularity int                   // Pin granularity in bytes, power of two
	CandidatePorts   []int                 // Hardware ports tried in order on open
	ControlBuffers   int                   // Extra control receive provisions per port
	MaxBlockLen      int                   // Largest single data transfer in bytes
}

// DefaultConfig returns defaults matching the classic NIC library setup.
func DefaultConfig() *Config {
	return &Config{
		Notifier:         api.NopNotifier{},
		Logger:           zerolog.Nop(),
		MetricsNamespace: "hioload_dma",
		CacheCapacity:    memreg.DefaultCapacity,    // 10 warm blocks
		CacheGranularity: memreg.DefaultGranularity, // 4 KiB pages
		CandidatePorts:   []int{2, 4, 5, 6, 7},      // public ports of the NIC
		ControlBuffers:   16,                        // extra control provisions
		MaxBlockLen:      2 << 20,                   // 2 MiB per transfer
	}
}

// withDefaults fills zero fields from DefaultConfig.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Notifier == nil {
		c.Notifier = d.Notifier
	}
	if c.MetricsNamespace == "" {
		c.MetricsNamespace = d.MetricsNamespace
	}
	if c.CacheCapacity <= 0 {
		c.CacheCapacity = d.CacheCapacity
	}
	if c.CacheGranularity <= 0 {
		c.CacheGranularity = d.CacheGranularity
	}
	if len(c.CandidatePorts) == 0 {
		c.CandidatePorts = d.CandidatePorts
	}
	if c.ControlBuffers < 0 {
		c.ControlBuffers = 0
	}
	if c.MaxBlockLen <= 0 {
		c.MaxBlockLen = d.MaxBlockLen
	}
	return c
}
