package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/sakif/dust/internal/server"
	"github.com/sakif/dust/internal/telemetry"
)

const serviceName = "dust"

func newServeCmd(opts *options) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := opts.cfg
			if cmd.Flags().Changed("port") {
				cfg.Port = port
			}
			if err := cfg.Validate(); err != nil {
				return err
			}

			ctx := cmd.Context()
			shutdown, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
			if err != nil {
				return err
			}
			defer func() {
				if err := shutdown(context.Background()); err != nil {
					opts.logger.Warn("flushing traces", slog.String("error", err.Error()))
				}
			}()

			srv, err := server.New(cfg, server.Deps{}, opts.logger)
			if err != nil {
				return err
			}
			return srv.Start(ctx)
		},
	}

	cmd.Flags().IntVarP(&port, "port", "p", 8080, "listen port (env: PORT)")
	return cmd
}
