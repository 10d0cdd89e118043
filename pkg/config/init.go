package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

const configHeader = `NNFS Configuration File
Values shown are the defaults. Every key can be overridden with an
environment variable: NNFS_ followed by the key path in upper case with
dots replaced by underscores, e.g. NNFS_ADAPTERS_NNFS_PORT=24005.`

// InitConfig writes a default configuration file to the default location
// and returns its path. An existing file is only replaced when force is set.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if err := InitConfigToPath(path, force); err != nil {
		return "", err
	}
	return path, nil
}

// InitConfigToPath writes a default configuration file to path, creating
// parent directories as needed.
func InitConfigToPath(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file already exists at %s (use --force to overwrite)", path)
		}
	}

	content, err := generateYAMLWithComments(GetDefaultConfig())
	if err != nil {
		return fmt.Errorf("failed to generate config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// generateYAMLWithComments renders cfg as a commented YAML document.
func generateYAMLWithComments(cfg *Config) (string, error) {
	n := cfg.Adapters.NNFS

	root := mapping(
		section("logging", "Logging configuration",
			scalar("level", cfg.Logging.Level, "DEBUG, INFO, WARN or ERROR"),
			scalar("format", cfg.Logging.Format, "text or json"),
			scalar("output", cfg.Logging.Output, "stdout, stderr or a file path"),
		),
		section("server", "Server-wide settings",
			scalar("shutdown_timeout", duration(cfg.Server.ShutdownTimeout), "Maximum time to wait for adapters to stop"),
			section("metrics", "Prometheus metrics endpoint",
				scalar("enabled", strconv.FormatBool(cfg.Server.Metrics.Enabled), ""),
				scalar("port", strconv.Itoa(cfg.Server.Metrics.Port), "HTTP port serving /metrics"),
			),
		),
		section("adapters", "Protocol adapters",
			section("nnfs", "NNFS server",
				scalar("enabled", strconv.FormatBool(n.Enabled), ""),
				scalar("address", n.Address, "Literal IPv4 or IPv6 address to bind"),
				scalar("port", strconv.Itoa(n.Port), "TCP port, 0-65535"),
				scalar("workers", strconv.Itoa(n.Workers), "Connections served concurrently, 1-16"),
				scalar("backlog", strconv.Itoa(n.Backlog), "Pending connection queue length; 0 uses the worker count"),
				scalar("max_connections", strconv.Itoa(n.MaxConnections), "Accepted connections open at once; 0 is unlimited"),
				scalar("max_payload_size", strconv.FormatUint(uint64(n.MaxPayloadSize), 10), "Largest request payload in bytes"),
				scalar("read_timeout", duration(n.ReadTimeout), "Time allowed to receive a payload once its header arrived"),
				scalar("write_timeout", duration(n.WriteTimeout), "Time allowed to send one reply"),
				scalar("idle_timeout", duration(n.IdleTimeout), "Idle sessions are closed after this long"),
				scalar("shutdown_timeout", duration(n.ShutdownTimeout), "Sessions still running after this are force-closed"),
				scalar("metrics_log_interval", duration(n.MetricsLogInterval), "Period of load log lines; negative disables"),
				section("rate_limit", "Request throttling; requests_per_second 0 disables it",
					scalar("requests_per_second", strconv.FormatUint(uint64(n.RateLimit.RequestsPerSecond), 10), ""),
					scalar("burst", strconv.FormatUint(uint64(n.RateLimit.Burst), 10), "0 uses requests_per_second"),
					scalar("per_client", strconv.FormatBool(n.RateLimit.PerClient), "Separate budget per client IP"),
				),
			),
		),
	)

	doc := &yaml.Node{
		Kind:        yaml.DocumentNode,
		HeadComment: configHeader,
		Content:     []*yaml.Node{root},
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return "", err
	}
	if err := enc.Close(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// keyValue is one entry of a YAML mapping.
type keyValue struct {
	key   *yaml.Node
	value *yaml.Node
}

func mapping(entries ...keyValue) *yaml.Node {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, e := range entries {
		node.Content = append(node.Content, e.key, e.value)
	}
	return node
}

func section(key, comment string, entries ...keyValue) keyValue {
	return keyValue{
		key:   &yaml.Node{Kind: yaml.ScalarNode, Value: key, HeadComment: comment},
		value: mapping(entries...),
	}
}

func scalar(key, value, comment string) keyValue {
	return keyValue{
		key:   &yaml.Node{Kind: yaml.ScalarNode, Value: key},
		value: &yaml.Node{Kind: yaml.ScalarNode, Value: value, LineComment: comment},
	}
}

func duration(d time.Duration) string {
	return d.String()
}
