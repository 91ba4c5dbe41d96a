// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Layered configuration: defaults, optional YAML file, then environment.

package control

import (
	"fmt"
	"io"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/momentics/hioload-dma/api"
	"github.com/momentics/hioload-dma/engine"
	"github.com/momentics/hioload-dma/pool"
)

// EnvPrefix prefixes every environment override, e.g.
// HIOLOAD_DMA_CACHE_CAPACITY or HIOLOAD_DMA_POOL_DEPTH.
const EnvPrefix = "HIOLOAD_DMA"

// Config is the file/environment view of the engine settings.
type Config struct {
	CacheCapacity    int    `mapstructure:"cache_capacity" yaml:"cache_capacity"`
	CacheGranularity int    `mapstructure:"cache_granularity" yaml:"cache_granularity"`
	CandidatePorts   []int  `mapstructure:"candidate_ports" yaml:"candidate_ports"`
	ControlBuffers   int    `mapstructure:"control_buffers" yaml:"control_buffers"`
	MaxBlockLen      int    `mapstructure:"max_block_len" yaml:"max_block_len"`
	MetricsNamespace string `mapstructure:"metrics_namespace" yaml:"metrics_namespace"`
	LogLevel         string `mapstructure:"log_level" yaml:"log_level"`
	EnableDebug      bool   `mapstructure:"enable_debug" yaml:"enable_debug"`

	Pool PoolConfig `mapstructure:"pool" yaml:"pool"`
}

// PoolConfig sizes the buffer pool.
type PoolConfig struct {
	MaxSize int `mapstructure:"max_size" yaml:"max_size"`
	Depth   int `mapstructure:"depth" yaml:"depth"`
}

// Load reads configuration from path (empty: search ./hioload-dma.yaml and
// /etc/hioload-dma) and applies environment overrides.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	} else {
		v.SetConfigName("hioload-dma")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/hioload-dma")
		// a missing file leaves the defaults
		_ = v.ReadInConfig()
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration Load yields without file or environment.
func Default() *Config {
	d := engine.DefaultConfig()
	return &Config{
		CacheCapacity:    d.CacheCapacity,
		CacheGranularity: d.CacheGranularity,
		CandidatePorts:   append([]int(nil), d.CandidatePorts...),
		ControlBuffers:   d.ControlBuffers,
		MaxBlockLen:      d.MaxBlockLen,
		MetricsNamespace: d.MetricsNamespace,
		LogLevel:         "info",
		EnableDebug:      true,
		Pool: PoolConfig{
			MaxSize: pool.DefaultMaxSize,
			Depth:   pool.DefaultClassDepth,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("cache_capacity", d.CacheCapacity)
	v.SetDefault("cache_granularity", d.CacheGranularity)
	v.SetDefault("candidate_ports", d.CandidatePorts)
	v.SetDefault("control_buffers", d.ControlBuffers)
	v.SetDefault("max_block_len", d.MaxBlockLen)
	v.SetDefault("metrics_namespace", d.MetricsNamespace)
	v.SetDefault("log_level", d.LogLevel)
	v.SetDefault("enable_debug", d.EnableDebug)
	v.SetDefault("pool.max_size", d.Pool.MaxSize)
	v.SetDefault("pool.depth", d.Pool.Depth)
}

func (c *Config) validate() error {
	invalid := func(format string, args ...any) error {
		return api.Errorf(api.ErrCodeInvalidArgument, format, args...)
	}
	switch {
	case c.CacheCapacity <= 0:
		return invalid("cache_capacity must be positive, got %d", c.CacheCapacity)
	case c.CacheGranularity <= 0 || c.CacheGranularity&(c.CacheGranularity-1) != 0:
		return invalid("cache_granularity must be a power of two, got %d", c.CacheGranularity)
	case len(c.CandidatePorts) == 0:
		return invalid("candidate_ports is empty")
	case c.ControlBuffers < 0:
		return invalid("control_buffers must not be negative, got %d", c.ControlBuffers)
	case c.MaxBlockLen <= 0:
		return invalid("max_block_len must be positive, got %d", c.MaxBlockLen)
	case c.Pool.MaxSize < c.MaxBlockLen:
		return invalid("pool.max_size %d is below max_block_len %d", c.Pool.MaxSize, c.MaxBlockLen)
	}
	if _, err := zerolog.ParseLevel(c.LogLevel); err != nil {
		return invalid("log_level: %v", err)
	}
	return nil
}

// Level returns the configured log level.
func (c *Config) Level() zerolog.Level {
	lvl, err := zerolog.ParseLevel(c.LogLevel)
	if err != nil {
		return zerolog.InfoLevel
	}
	return lvl
}

// Logger builds a logger writing to w at the configured level.
func (c *Config) Logger(w io.Writer) zerolog.Logger {
	return zerolog.New(w).Level(c.Level()).With().Timestamp().Logger()
}

// Engine maps c onto an engine configuration.
func (c *Config) Engine(drv api.Driver, n api.Notifier, log zerolog.Logger, reg prometheus.Registerer) *engine.Config {
	return &engine.Config{
		Driver:           drv,
		Notifier:         n,
		Logger:           log,
		Registerer:       reg,
		MetricsNamespace: c.MetricsNamespace,
		CacheCapacity:    c.CacheCapacity,
		CacheGranularity: c.CacheGranularity,
		CandidatePorts:   append([]int(nil), c.CandidatePorts...),
		ControlBuffers:   c.ControlBuffers,
		MaxBlockLen:      c.MaxBlockLen,
	}
}

// BufferPool creates the buffer pool described by c.
func (c *Config) BufferPool() *pool.Pool {
	return pool.New(c.Pool.MaxSize, c.Pool.Depth)
}
