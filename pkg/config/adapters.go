package config

import (
	"fmt"

	"github.com/marmos91/nnfs/pkg/adapter"
	"github.com/marmos91/nnfs/pkg/adapter/nnfs"
	"github.com/marmos91/nnfs/pkg/metrics"
)

// CreateAdapters creates all enabled protocol adapters from the configuration.
//
// Parameters:
//   - cfg: The complete NNFS configuration
//   - nnfsMetrics: Optional NNFS metrics collector (nil = no metrics)
//
// Returns the enabled adapters, ready to be added to the server.
func CreateAdapters(cfg *Config, nnfsMetrics metrics.NNFSMetrics) ([]adapter.Adapter, error) {
	var adapters []adapter.Adapter

	if cfg.Adapters.NNFS.Enabled {
		nnfsAdapter, err := nnfs.New(cfg.Adapters.NNFS, nnfsMetrics)
		if err != nil {
			return nil, fmt.Errorf("failed to create NNFS adapter: %w", err)
		}
		adapters = append(adapters, nnfsAdapter)
	}

	if len(adapters) == 0 {
		return nil, fmt.Errorf("no adapters enabled in configuration")
	}

	return adapters, nil
}
