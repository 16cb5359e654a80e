package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/sakif/dust/internal/clock"
	sqliteRepo "github.com/sakif/dust/internal/repository/sqlite"
	"github.com/sakif/dust/internal/service"
)

func newGrantCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <account-id> <amount>",
		Short: "Credit owned dust to an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseInt(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("amount %q is not an integer", args[1])
			}

			db, err := sqliteRepo.New(opts.cfg.DBPath)
			if err != nil {
				return err
			}
			defer db.Close()

			ledger := service.NewLedgerService(db, db, db, clock.New(), opts.logger)
			if err := ledger.Grant(cmd.Context(), args[0], amount); err != nil {
				return err
			}

			account, err := db.GetAccountByID(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(opts.out, "%s now owns %d dust\n", account.Username, account.OwnedDust)
			return nil
		},
	}
}
