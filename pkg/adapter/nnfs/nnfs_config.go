package nnfs

import (
	"fmt"
	"net"
	"time"

	protocol "github.com/marmos91/nnfs/internal/protocol/nnfs"
	"github.com/marmos91/nnfs/internal/transport"
)

// MaxWorkers is the largest worker pool an adapter accepts.
const MaxWorkers = 16

// Defaults applied by New for zero values.
const (
	DefaultAddress            = "0.0.0.0"
	DefaultPort               = 24004
	DefaultWorkers            = 4
	DefaultReadTimeout        = 30 * time.Second
	DefaultWriteTimeout       = 30 * time.Second
	DefaultIdleTimeout        = 5 * time.Minute
	DefaultShutdownTimeout    = 30 * time.Second
	DefaultMetricsLogInterval = 5 * time.Minute
)

// NNFSConfig holds configuration parameters for the NNFS server.
//
// Default values (applied by New if zero):
//   - Address: 0.0.0.0
//   - Port: 24004
//   - Workers: 4
//   - Backlog: equal to Workers
//   - MaxConnections: 0 (unlimited)
//   - MaxPayloadSize: 1MB
//   - ReadTimeout: 30s
//   - WriteTimeout: 30s
//   - IdleTimeout: 5m
//   - ShutdownTimeout: 30s
//   - MetricsLogInterval: 5m
type NNFSConfig struct {
	// Enabled controls whether the NNFS adapter is active.
	Enabled bool `mapstructure:"enabled"`

	// Address is the literal IPv4 or IPv6 address to bind.
	Address string `mapstructure:"address" validate:"omitempty,ip"`

	// Port is the TCP port to listen on. 0 picks a free port when
	// binding explicitly with Bind; through Serve it means DefaultPort.
	Port int `mapstructure:"port" validate:"min=0,max=65535"`

	// Workers is the fixed number of connections served concurrently.
	// Further accepted connections wait in the job queue.
	Workers int `mapstructure:"workers" validate:"min=0,max=16"`

	// Backlog bounds the OS queue of connections not yet accepted.
	Backlog int `mapstructure:"backlog" validate:"min=0"`

	// MaxConnections caps the number of accepted connections open at once,
	// counting both served and queued ones. 0 means unlimited.
	MaxConnections int `mapstructure:"max_connections" validate:"min=0"`

	// MaxPayloadSize is the largest request payload accepted, in bytes.
	MaxPayloadSize uint32 `mapstructure:"max_payload_size"`

	// ReadTimeout bounds reading a request payload once its header arrived.
	ReadTimeout time.Duration `mapstructure:"read_timeout" validate:"min=0"`

	// WriteTimeout bounds writing one reply.
	WriteTimeout time.Duration `mapstructure:"write_timeout" validate:"min=0"`

	// IdleTimeout closes connections that send no request for this long.
	IdleTimeout time.Duration `mapstructure:"idle_timeout" validate:"min=0"`

	// ShutdownTimeout is the maximum duration to wait for sessions to finish
	// during graceful shutdown. Remaining connections are then force-closed.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"min=0"`

	// MetricsLogInterval is the interval at which to log server load.
	// Negative disables periodic logging.
	MetricsLogInterval time.Duration `mapstructure:"metrics_log_interval"`

	// RateLimit throttles requests.
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
}

// RateLimitConfig configures request throttling. A zero RequestsPerSecond
// disables it.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained request rate allowed.
	RequestsPerSecond uint `mapstructure:"requests_per_second"`

	// Burst is the number of requests allowed above the sustained rate.
	Burst uint `mapstructure:"burst"`

	// PerClient gives every client IP its own budget instead of sharing one.
	PerClient bool `mapstructure:"per_client"`
}

// applyDefaults fills in zero values with sensible defaults.
func (c *NNFSConfig) applyDefaults() {
	// Enabled defaults are handled in pkg/config so that an explicit false
	// in a configuration file is preserved.

	if c.Address == "" {
		c.Address = DefaultAddress
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxPayloadSize == 0 {
		c.MaxPayloadSize = protocol.DefaultMaxPayloadSize
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = DefaultShutdownTimeout
	}
	if c.MetricsLogInterval == 0 {
		c.MetricsLogInterval = DefaultMetricsLogInterval
	}
}

// validate checks the configuration after defaults were applied.
func (c *NNFSConfig) validate() error {
	if net.ParseIP(c.Address) == nil {
		return fmt.Errorf("invalid address %q: must be a literal IPv4 or IPv6 address", c.Address)
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: must be 0-65535", c.Port)
	}
	if c.Workers < 1 || c.Workers > MaxWorkers {
		return fmt.Errorf("%w: %d (must be 1-%d)", ErrInvalidPoolSize, c.Workers, MaxWorkers)
	}
	if c.Backlog < 0 {
		return fmt.Errorf("invalid backlog %d: must be >= 0", c.Backlog)
	}
	if c.MaxConnections < 0 {
		return fmt.Errorf("invalid MaxConnections %d: must be >= 0", c.MaxConnections)
	}
	if c.ReadTimeout < 0 || c.WriteTimeout < 0 || c.IdleTimeout < 0 {
		return fmt.Errorf("invalid timeouts read=%v write=%v idle=%v: must be >= 0",
			c.ReadTimeout, c.WriteTimeout, c.IdleTimeout)
	}
	if c.ShutdownTimeout <= 0 {
		return fmt.Errorf("invalid ShutdownTimeout %v: must be > 0", c.ShutdownTimeout)
	}
	return nil
}

func (c *NNFSConfig) connOptions() transport.Options {
	return transport.Options{
		IdleTimeout:    c.IdleTimeout,
		ReadTimeout:    c.ReadTimeout,
		WriteTimeout:   c.WriteTimeout,
		MaxPayloadSize: c.MaxPayloadSize,
	}
}
