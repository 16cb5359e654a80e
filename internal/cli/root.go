// Package cli implements the dust command line: the API server and the
// operator commands that run against its database.
package cli

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/sakif/dust/internal/config"
)

// options are the persistent flags shared by every subcommand.
type options struct {
	envFile string
	dbPath  string

	cfg    *config.Config
	logger *slog.Logger
	out    io.Writer
}

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	opts := &options{out: os.Stdout}

	rootCmd := &cobra.Command{
		Use:   "dust",
		Short: "Planets crowdfunding backend",
		Long: `dust runs the planets crowdfunding API and the operator commands that
work on its database.

Configuration comes from the environment, optionally seeded from a .env file.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Read(opts.envFile)
			if err != nil {
				return err
			}
			if opts.dbPath != "" {
				cfg.DBPath = opts.dbPath
			}

			logger, err := newLogger(cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			opts.cfg = cfg
			opts.logger = logger
			opts.out = cmd.OutOrStdout()
			return nil
		},
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&opts.envFile, "env-file", ".env", "dotenv file loaded before reading the environment")
	rootCmd.PersistentFlags().StringVar(&opts.dbPath, "db", "", "SQLite database path (env: DB_PATH)")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newGrantCmd(opts))

	return rootCmd
}

// Execute runs the root command
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// newLogger builds the process logger: text by default, JSON for log shippers.
func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.SlogLevel()
	if err != nil {
		return nil, err
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	switch cfg.LogFormat {
	case "", "text":
		return slog.New(slog.NewTextHandler(w, handlerOpts)), nil
	case "json":
		return slog.New(slog.NewJSONHandler(w, handlerOpts)), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", cfg.LogFormat)
	}
}
