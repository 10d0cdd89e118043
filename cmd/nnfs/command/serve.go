package command

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/nnfs/internal/logger"
	"github.com/marmos91/nnfs/pkg/config"
	"github.com/marmos91/nnfs/pkg/server"
)

// listenFlags override adapters.nnfs values from the command line.
type listenFlags struct {
	address string
	port    int
	workers int
}

func (f *listenFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.address, "address", "a", "", "override adapters.nnfs.address")
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "override adapters.nnfs.port")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 0, "override adapters.nnfs.workers")
}

func (f *listenFlags) apply(cmd *cobra.Command, cfg *config.Config) error {
	changed := false
	if cmd.Flags().Changed("address") {
		cfg.Adapters.NNFS.Address = f.address
		changed = true
	}
	if cmd.Flags().Changed("port") {
		cfg.Adapters.NNFS.Port = f.port
		changed = true
	}
	if cmd.Flags().Changed("workers") {
		cfg.Adapters.NNFS.Workers = f.workers
		changed = true
	}
	if !changed {
		return nil
	}
	return config.Validate(cfg)
}

func newServeCommand(opts *options) *cobra.Command {
	flags := &listenFlags{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the server until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if err := flags.apply(cmd, cfg); err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			return serve(cmd.Context(), cfg)
		},
	}

	flags.register(cmd)
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	metricsResult := config.InitializeMetrics(cfg)

	adapters, err := config.CreateAdapters(cfg, metricsResult.NNFSMetrics)
	if err != nil {
		return err
	}

	srv := server.New(server.Options{
		StopTimeout: cfg.Server.ShutdownTimeout,
		Metrics:     metricsResult.Server,
	})
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			return fmt.Errorf("failed to register %s adapter: %w", a.Protocol(), err)
		}
	}

	logger.Info("NNFS server starting. Press Ctrl+C to stop.")

	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	logger.Info("Server stopped gracefully")
	return nil
}
