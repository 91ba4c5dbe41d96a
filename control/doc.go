// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration loading, metrics registry wiring and debug introspection for
// the DMA engine.
//
// Provides:
//   - viper-backed configuration (file, HIOLOAD_DMA_* environment) mapped
//     onto engine.Config
//   - a prometheus registry preloaded with runtime collectors
//   - named debug probes exposing port snapshots and platform facts
package control
