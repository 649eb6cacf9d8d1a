// Package config loads the TOML-configurable server settings, grounded on
// config.rs's Config struct, its field set, defaults and validate().
package config

import (
	"fmt"
	"runtime"

	"github.com/BurntSushi/toml"
)

// Config holds every knob the server reads at startup. AuthPassword is an
// addition this spec's AUTH command needs that the reference Config did
// not carry; everything else mirrors config.rs field for field.
type Config struct {
	BindAddr string `toml:"bind_addr"`
	Port     int    `toml:"port"`

	Threads int `toml:"threads"`

	MaxConnectionsPerThread int `toml:"max_connections_per_thread"`
	ConnectionBufferSize    int `toml:"connection_buffer_size"`
	TCPNoDelay              bool `toml:"tcp_nodelay"`
	MaxPipelineDepth        int  `toml:"max_pipeline_depth"`

	MaxMemoryPerShard int64 `toml:"max_memory_per_shard"`
	EnableTTL         bool  `toml:"enable_ttl"`

	LogLevel string `toml:"log_level"`

	// AuthPassword, when non-empty, requires AUTH before any other
	// command is accepted.
	AuthPassword string `toml:"auth_password"`

	// MetricsAddr, when non-empty, serves the Prometheus registry's
	// /metrics endpoint over plain HTTP on this address (e.g.
	// "127.0.0.1:9121", matching redis_exporter's default port).
	MetricsAddr string `toml:"metrics_addr"`
}

// Default returns the server's out-of-the-box configuration, mirroring
// config.rs's Default impl (thread count substitutes GOMAXPROCS for
// num_cpus::get()).
func Default() Config {
	return Config{
		BindAddr:                "127.0.0.1",
		Port:                    6379,
		Threads:                 runtime.GOMAXPROCS(0),
		MaxConnectionsPerThread: 10000,
		ConnectionBufferSize:    16 * 1024,
		TCPNoDelay:              true,
		MaxPipelineDepth:        1000,
		MaxMemoryPerShard:       1024 * 1024 * 1024,
		EnableTTL:               true,
		LogLevel:                "info",
		MetricsAddr:             "127.0.0.1:9121",
	}
}

// FromFile loads a TOML file on top of Default, so a config file only
// needs to specify the fields it wants to override.
func FromFile(path string) (Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("loading config %q: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate carries the same invariants as config.rs's Config::validate.
func (c Config) Validate() error {
	if c.Threads <= 0 {
		return fmt.Errorf("threads must be > 0")
	}
	if c.Port <= 0 {
		return fmt.Errorf("port must be > 0")
	}
	if c.ConnectionBufferSize < 1024 {
		return fmt.Errorf("connection_buffer_size must be >= 1024")
	}
	return nil
}
