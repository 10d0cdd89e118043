package config

import (
	"github.com/marmos91/nnfs/pkg/metrics"
	promMetrics "github.com/marmos91/nnfs/pkg/metrics/prometheus"
)

// MetricsResult contains all metrics-related components created from configuration.
type MetricsResult struct {
	// Server is the HTTP server exposing Prometheus metrics (nil if disabled)
	Server *metrics.Server

	// NNFSMetrics is the metrics collector for the NNFS adapter (never nil, uses noop if disabled)
	NNFSMetrics metrics.NNFSMetrics
}

// InitializeMetrics creates and initializes all metrics components based on configuration.
//
// If metrics are enabled the global Prometheus registry is initialized and
// a metrics HTTP server is created. Otherwise the server is nil and the
// collectors are no-ops.
func InitializeMetrics(cfg *Config) *MetricsResult {
	if !cfg.Server.Metrics.Enabled {
		return &MetricsResult{
			NNFSMetrics: metrics.NewNoopNNFSMetrics(),
		}
	}

	metrics.InitRegistry()

	return &MetricsResult{
		Server: metrics.NewServer(metrics.ServerConfig{
			Port: cfg.Server.Metrics.Port,
		}),
		NNFSMetrics: promMetrics.NewNNFSMetrics(),
	}
}
