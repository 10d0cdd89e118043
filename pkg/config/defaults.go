package config

import (
	"strings"
	"time"

	protocol "github.com/marmos91/nnfs/internal/protocol/nnfs"
	"github.com/marmos91/nnfs/pkg/adapter/nnfs"
	"github.com/marmos91/nnfs/pkg/metrics"
)

// ApplyDefaults sets default values for any unspecified configuration fields.
//
// Zero values are replaced with defaults; explicit values are preserved.
// Enabled flags are not touched: their defaults come from Load, so an
// explicit false survives.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyNNFSDefaults(&cfg.Adapters.NNFS)
}

// applyLoggingDefaults sets logging defaults and normalizes values.
func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}
	if cfg.Metrics.Port == 0 {
		cfg.Metrics.Port = metrics.DefaultServerPort
	}
}

// applyNNFSDefaults mirrors the adapter's own defaults so that generated
// files and status output show effective values.
func applyNNFSDefaults(cfg *nnfs.NNFSConfig) {
	if cfg.Address == "" {
		cfg.Address = nnfs.DefaultAddress
	}
	if cfg.Port == 0 {
		cfg.Port = nnfs.DefaultPort
	}
	if cfg.Workers == 0 {
		cfg.Workers = nnfs.DefaultWorkers
	}

	// Backlog 0 means "same as Workers" and MaxConnections 0 means unlimited.

	if cfg.MaxPayloadSize == 0 {
		cfg.MaxPayloadSize = protocol.DefaultMaxPayloadSize
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = nnfs.DefaultReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = nnfs.DefaultWriteTimeout
	}
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = nnfs.DefaultIdleTimeout
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = nnfs.DefaultShutdownTimeout
	}
	if cfg.MetricsLogInterval == 0 {
		cfg.MetricsLogInterval = nnfs.DefaultMetricsLogInterval
	}
}

// GetDefaultConfig returns a Config struct with all default values applied.
//
// This is useful for:
//   - Generating sample configuration files
//   - Testing
//   - Documentation
func GetDefaultConfig() *Config {
	cfg := &Config{
		Adapters: AdaptersConfig{
			NNFS: nnfs.NNFSConfig{
				Enabled: true,
			},
		},
	}

	ApplyDefaults(cfg)
	return cfg
}
