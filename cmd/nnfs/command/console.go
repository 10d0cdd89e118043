package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/nnfs/internal/console"
	"github.com/marmos91/nnfs/internal/logger"
	"github.com/marmos91/nnfs/pkg/adapter/nnfs"
	"github.com/marmos91/nnfs/pkg/config"
)

func newConsoleCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "console",
		Short: "Drive the server interactively (bind, start, stop, status)",
		Long: `Reads operator commands from standard input:

  bind <ip>:<port>   bind the server socket
  start <workers>    start serving with 1-16 workers
  stop | status | help | quit

Adapter settings other than address, port and workers come from the
configuration file.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			defer func() { _ = logger.Sync() }()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			console.StopTimeout = cfg.Adapters.NNFS.ShutdownTimeout
			return runConsole(ctx, cfg)
		},
	}
}

func runConsole(ctx context.Context, cfg *config.Config) error {
	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		metricsCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := metricsResult.Server.Start(metricsCtx); err != nil {
				logger.Error("Metrics server failed: %v", err)
			}
		}()
	}

	// Every stop retires the adapter; the console asks for a fresh one on
	// the next bind or start.
	newAdapter := func() (console.Target, error) {
		a, err := nnfs.New(cfg.Adapters.NNFS, metricsResult.NNFSMetrics)
		if err != nil {
			return nil, err
		}
		return a, nil
	}

	return console.Run(ctx, os.Stdin, os.Stdout, newAdapter)
}
