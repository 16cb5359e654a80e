package cli

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	sqliteRepo "github.com/sakif/dust/internal/repository/sqlite"
)

func newMigrateCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sqliteRepo.Open(opts.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			if err := db.Migrate(cmd.Context()); err != nil {
				return err
			}
			v, err := db.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}

			opts.logger.Info("migrations applied",
				slog.String("database", opts.cfg.DBPath),
				slog.Int64("version", v),
			)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Print the current schema version",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := sqliteRepo.Open(opts.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			v, err := db.SchemaVersion(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "schema version: %d\n", v)
			return nil
		},
	})

	return cmd
}
