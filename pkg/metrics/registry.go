// Package metrics defines the metrics interfaces NNFS components record to
// and the HTTP endpoint that exposes them.
//
// Metrics are optional. Until InitRegistry is called every constructor in
// pkg/metrics/prometheus returns a no-op implementation, so the server runs
// the same way with or without collection:
//
//	metrics.InitRegistry()
//	nnfsMetrics := prometheus.NewNNFSMetrics()
//	adapter, err := nnfs.New(config, nnfsMetrics)
//
// Passing nil to nnfs.New disables metrics for that adapter.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var (
	// registry holds every NNFS collector. Written once by InitRegistry.
	registry     *prometheus.Registry
	registryOnce sync.Once
)

// InitRegistry creates the global registry, pre-populated with the Go
// runtime and process collectors. Subsequent calls are ignored.
func InitRegistry() {
	registryOnce.Do(func() {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		registry = reg
	})
}

// GetRegistry returns the global registry, or nil if InitRegistry has not
// been called.
func GetRegistry() *prometheus.Registry {
	return registry
}

// IsEnabled reports whether InitRegistry has been called.
func IsEnabled() bool {
	return GetRegistry() != nil
}
