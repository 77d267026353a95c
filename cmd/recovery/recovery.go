package recovery

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

func New() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Collects the balances of all accounts back into the first account",
		Long: `Collects the balances of all accounts back into the first account.

Used after an aborted sweep. An account that cannot be collected is reported
and the remaining accounts are still processed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v, cmd.OutOrStdout())
		},
	}

	command.BindCommonFlags(cmd, v)

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

		recoverer, err := rt.Recoverer()
		if err != nil {
			return errors.Wrap(err, "failed to create recoverer")
		}

		res, err := recoverer.Recover(ctx, accounts)
		if err != nil {
			return err
		}

		printResult(out, res, accounts[0], cfg.Ledger.Decimals)

		if len(res.Failed) > 0 {
			return errors.Errorf("%d accounts could not be recovered", len(res.Failed))
		}

		return nil
	})
}

func printResult(w io.Writer, res *sweep.RecoverResult, target ledger.Account, decimals int32) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "run %s\n", res.RunID)
	for _, hop := range res.Transfers {
		p.Fprintf(w, "  account %d %s: %s (%d)  %s\n",
			hop.From.Index, hop.From.Address, ledger.FormatAmount(hop.Amount, decimals), hop.Amount, hop.Outcome.ID)
	}
	for _, hop := range res.Failed {
		p.Fprintf(w, "  account %d %s failed: %s\n", hop.From.Index, hop.From.Address, hop.Outcome.Reason)
	}
	for _, acc := range res.Unreadable {
		p.Fprintf(w, "  account %d %s: balance unknown\n", acc.Index, acc.Address)
	}

	p.Fprintf(w, "recovered %s (%d) into %s\n", ledger.FormatAmount(res.Recovered, decimals), res.Recovered, target.Address)
	if res.FinalBalanceKnown {
		p.Fprintf(w, "balance of %s: %s (%d)\n", target.Address, ledger.FormatAmount(res.FinalBalance, decimals), res.FinalBalance)
	}
}
