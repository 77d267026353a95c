package balances

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github/chapool/chain-sweeper/internal/ledger"
	"github/chapool/chain-sweeper/internal/sweep"
	"github/chapool/chain-sweeper/internal/util/command"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const allFlag = "all"

func New() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "balances",
		Short: "Prints the balance of every account in the chain",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v, cmd.OutOrStdout())
		},
	}

	command.BindCommonFlags(cmd, v)
	cmd.Flags().Bool(allFlag, false, "also print empty accounts")
	command.BindFlags(v, cmd, allFlag)

	return cmd
}

func run(ctx context.Context, v *viper.Viper, out io.Writer) error {
	cfg, err := command.LoadConfig(v)
	if err != nil {
		return err
	}

	return command.WithRuntime(ctx, cfg, func(ctx context.Context, rt *command.Runtime) error {
		accounts, err := rt.Accounts()
		if err != nil {
			return errors.Wrap(err, "failed to load accounts")
		}

		report := rt.Scanner().Scan(ctx, accounts)
		printReport(out, report, cfg.Ledger.Decimals, v.GetBool(allFlag))

		if unknown := report.Unknown(); len(unknown) > 0 {
			return errors.Errorf("balance of %d accounts unknown", len(unknown))
		}

		return nil
	})
}

func printReport(w io.Writer, report sweep.ScanReport, decimals int32, all bool) {
	p := message.NewPrinter(language.English)

	for _, obs := range report.Observations {
		switch {
		case !obs.Known:
			p.Fprintf(w, "%4d  %s  unknown\n", obs.Account.Index, obs.Account.Address)
		case obs.Balance > 0 || all:
			p.Fprintf(w, "%4d  %s  %s (%d)\n",
				obs.Account.Index, obs.Account.Address, ledger.FormatAmount(obs.Balance, decimals), obs.Balance)
		}
	}

	p.Fprintf(w, "total %s (%d) across %d accounts\n",
		ledger.FormatAmount(report.Total, decimals), report.Total, len(report.Observations))
}
