// Package command holds the cobra commands of the nnfs binary.
package command

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/marmos91/nnfs/internal/logger"
	"github.com/marmos91/nnfs/pkg/config"
)

// Version is set at build time with -ldflags "-X ...command.Version=...".
var Version = "dev"

// options are the persistent flags shared by every command.
type options struct {
	configPath string
	envFile    string
	logLevel   string
}

// NewRootCommand builds the nnfs command tree.
func NewRootCommand() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "nnfs",
		Short:         "NNFS - multi-client TCP request/reply server",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "config file (default $XDG_CONFIG_HOME/nnfs/config.yaml)")
	root.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file with NNFS_* overrides; missing is ignored")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "override logging.level (DEBUG, INFO, WARN, ERROR)")

	root.AddCommand(
		newServeCommand(opts),
		newConsoleCommand(opts),
		newPingCommand(),
		newInitCommand(),
		newVersionCommand(),
	)

	return root
}

// load reads the .env file and the configuration, then configures logging.
func (o *options) load() (*config.Config, error) {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", o.envFile, err)
		}
	}

	cfg, err := config.Load(o.configPath)
	if err != nil {
		return nil, err
	}

	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
		config.ApplyDefaults(cfg)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}

	if err := logger.Configure(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return nil, fmt.Errorf("failed to configure logger: %w", err)
	}

	return cfg, nil
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the nnfs version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "nnfs %s\n", Version)
		},
	}
}
