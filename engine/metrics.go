// File: engine/metrics.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Prometheus instrumentation of the runtime.

package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/momentics/hioload-dma/core/memreg"
)

// Metrics groups every collector the runtime updates.
type Metrics struct {
	Pins           prometheus.Counter
	Unpins         prometheus.Counter
	CacheHits      prometheus.Counter
	CacheMisses    prometheus.Counter
	ResidentBlocks prometheus.Gauge
	TokenExhausted *prometheus.CounterVec // label: kind (send, receive)
	Events         *prometheus.CounterVec // label: class
	Notifications  *prometheus.CounterVec // label: reason
	Errors         *prometheus.CounterVec // label: code
}

// NewMetrics creates the collectors and registers them on reg. A nil reg
// leaves them unregistered.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Pins: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "pins_total",
			Help: "Memory ranges pinned with the hardware.",
		}),
		Unpins: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "unpins_total",
			Help: "Memory ranges unpinned from the hardware.",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "hits_total",
			Help: "Registrations served by an already pinned block.",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "cache", Name: "misses_total",
			Help: "Registrations that required a hardware pin.",
		}),
		ResidentBlocks: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "cache", Name: "resident_blocks",
			Help: "Blocks currently pinned across all ports.",
		}),
		TokenExhausted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_exhausted_total",
			Help: "Operations rejected for lack of hardware tokens.",
		}, []string{"kind"}),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "events_total",
			Help: "Hardware events handled by the dispatcher.",
		}, []string{"class"}),
		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "notifications_total",
			Help: "Notifications delivered to the application.",
		}, []string{"reason"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "errors_total",
			Help: "Dispatcher errors by code.",
		}, []string{"code"}),
	}
}

// observeCache applies the delta between two cache snapshots.
func (m *Metrics) observeCache(before, after memreg.Stats) {
	m.Pins.Add(float64(after.Pins - before.Pins))
	m.Unpins.Add(float64(after.Unpins - before.Unpins))
	m.CacheHits.Add(float64(after.Hits - before.Hits))
	m.CacheMisses.Add(float64(after.Misses - before.Misses))
	m.ResidentBlocks.Add(float64(after.Resident - before.Resident))
}
