package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marmos91/nnfs/pkg/adapter/nnfs"
)

// EnvPrefix prefixes every environment variable override.
const EnvPrefix = "NNFS"

// Config represents the complete NNFS server configuration.
//
// Configuration sources (in order of precedence):
//  1. CLI flags (highest priority)
//  2. Environment variables (NNFS_*)
//  3. Configuration file (YAML or TOML)
//  4. Default values (lowest priority)
type Config struct {
	// Logging controls log output behavior
	Logging LoggingConfig `mapstructure:"logging"`

	// Server contains server-wide settings
	Server ServerConfig `mapstructure:"server"`

	// Adapters contains protocol adapter configurations
	Adapters AdaptersConfig `mapstructure:"adapters"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error"`

	// Format specifies the log output format
	// Valid values: text, json
	Format string `mapstructure:"format" validate:"required,oneof=text json"`

	// Output specifies where logs are written
	// Valid values: stdout, stderr, or a file path
	Output string `mapstructure:"output" validate:"required"`
}

// ServerConfig contains server-wide settings.
type ServerConfig struct {
	// ShutdownTimeout is the maximum time to wait for graceful shutdown
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"required,gt=0"`

	// Metrics configures the Prometheus endpoint
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// MetricsConfig controls metrics collection and its HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns on collection and the HTTP endpoint
	Enabled bool `mapstructure:"enabled"`

	// Port is the HTTP port serving /metrics
	Port int `mapstructure:"port" validate:"min=0,max=65535"`
}

// AdaptersConfig contains all protocol adapter configurations.
type AdaptersConfig struct {
	// NNFS contains the NNFS server configuration.
	// Uses the nnfs.NNFSConfig type directly to avoid duplication.
	NNFS nnfs.NNFSConfig `mapstructure:"nnfs"`
}

// Load loads configuration from file, environment, and defaults.
//
// Parameters:
//   - configPath: Path to config file (empty string uses default location)
//
// Returns the loaded and validated configuration.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setupViper(v, configPath)
	setViperDefaults(v)

	if err := readConfigFile(v); err != nil {
		return nil, err
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setupViper configures viper with environment variables and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	// Example: NNFS_ADAPTERS_NNFS_PORT=24005
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		// $XDG_CONFIG_HOME/nnfs/config.{yaml,toml}
		v.AddConfigPath(getConfigDir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// setViperDefaults registers every key with viper. AutomaticEnv only
// overrides keys viper knows about, so each key gets its default here.
func setViperDefaults(v *viper.Viper) {
	d := GetDefaultConfig()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.output", d.Logging.Output)

	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)
	v.SetDefault("server.metrics.enabled", d.Server.Metrics.Enabled)
	v.SetDefault("server.metrics.port", d.Server.Metrics.Port)

	n := d.Adapters.NNFS
	v.SetDefault("adapters.nnfs.enabled", n.Enabled)
	v.SetDefault("adapters.nnfs.address", n.Address)
	v.SetDefault("adapters.nnfs.port", n.Port)
	v.SetDefault("adapters.nnfs.workers", n.Workers)
	v.SetDefault("adapters.nnfs.backlog", n.Backlog)
	v.SetDefault("adapters.nnfs.max_connections", n.MaxConnections)
	v.SetDefault("adapters.nnfs.max_payload_size", n.MaxPayloadSize)
	v.SetDefault("adapters.nnfs.read_timeout", n.ReadTimeout)
	v.SetDefault("adapters.nnfs.write_timeout", n.WriteTimeout)
	v.SetDefault("adapters.nnfs.idle_timeout", n.IdleTimeout)
	v.SetDefault("adapters.nnfs.shutdown_timeout", n.ShutdownTimeout)
	v.SetDefault("adapters.nnfs.metrics_log_interval", n.MetricsLogInterval)
	v.SetDefault("adapters.nnfs.rate_limit.requests_per_second", n.RateLimit.RequestsPerSecond)
	v.SetDefault("adapters.nnfs.rate_limit.burst", n.RateLimit.Burst)
	v.SetDefault("adapters.nnfs.rate_limit.per_client", n.RateLimit.PerClient)
}

// readConfigFile reads the configuration file if it exists.
func readConfigFile(v *viper.Viper) error {
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) || errors.Is(err, fs.ErrNotExist) {
			// Config file not found is acceptable - use defaults
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

// getConfigDir returns the configuration directory path.
//
// Uses XDG_CONFIG_HOME if set, otherwise ~/.config, or falls back to current
// directory (.) if home directory cannot be determined.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "nnfs")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}

	return filepath.Join(home, ".config", "nnfs")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// ConfigExists checks if a config file exists at the default location.
func ConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for init command).
func GetConfigDir() string {
	return getConfigDir()
}
