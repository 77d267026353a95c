package sweep

import (
	"context"
	"io"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
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
		Use:   "sweep",
		Short: "Moves the funds of the first account hop by hop through the chain into the destination",
		Long: `Moves the funds of the first account hop by hop through the chain into the destination.

Each hop transfers the whole balance minus the fee to the next account and waits a random
delay before the next hop. An interrupt stops the sweep after the hop in flight.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), v, cmd.OutOrStdout())
		},
	}

	command.BindCommonFlags(cmd, v)
	command.BindDestinationFlag(cmd, v)

	return cmd
}

func run(ctx context.Context, v *viper.Viper, out io.Writer) error {
	cfg, err := command.LoadConfig(v)
	if err != nil {
		return err
	}

	if err := cfg.ValidateSweep(); err != nil {
		return err
	}

	return command.WithRuntime(ctx, cfg, func(ctx context.Context, rt *command.Runtime) error {
		accounts, err := rt.Accounts()
		if err != nil {
			return errors.Wrap(err, "failed to load accounts")
		}

		orchestrator, err := rt.Orchestrator()
		if err != nil {
			return errors.Wrap(err, "failed to create orchestrator")
		}

		log.Info().
			Int("accounts", len(accounts)).
			Str("destination", cfg.Destination).
			Str("endpoint", cfg.Ledger.RPCURLs[0]).
			Msg("Sweep: starting")

		res, err := orchestrator.Sweep(ctx, accounts)
		if err != nil {
			return err
		}

		printResult(out, res, cfg.Ledger.Decimals)

		if !res.Success() {
			return errors.Errorf("sweep aborted: %s", res.AbortReason)
		}

		return nil
	})
}

func printResult(w io.Writer, res *sweep.Result, decimals int32) {
	p := message.NewPrinter(language.English)

	p.Fprintf(w, "run %s\n", res.RunID)
	for _, hop := range res.CompletedHops {
		to := hop.To
		if hop.Final() {
			to = "destination " + hop.To
		}
		p.Fprintf(w, "  hop %d: %s -> %s  %s (%d)  %s\n",
			hop.Index, hop.From.Address, to, ledger.FormatAmount(hop.Amount, decimals), hop.Amount, hop.Outcome.ID)
	}

	if len(res.Skipped) > 0 {
		p.Fprintf(w, "  skipped hops: %v\n", res.Skipped)
	}

	if res.FailedHop != nil {
		p.Fprintf(w, "  hop %d failed after %d attempts: %s\n",
			res.FailedHop.Index, len(res.FailedHop.Outcome.Attempts), res.FailedHop.Outcome.Reason)
	}

	for _, obs := range res.Residuals() {
		p.Fprintf(w, "  residual: account %d %s holds %s (%d)\n",
			obs.Account.Index, obs.Account.Address, ledger.FormatAmount(obs.Balance, decimals), obs.Balance)
	}

	if res.DestinationBalanceKnown {
		p.Fprintf(w, "destination balance %s (%d)\n",
			ledger.FormatAmount(res.FinalDestinationBalance, decimals), res.FinalDestinationBalance)
	} else {
		p.Fprintf(w, "destination balance unknown\n")
	}

	switch {
	case res.Stopped:
		p.Fprintf(w, "stopped: %s\n", res.AbortReason)
	case res.Aborted:
		p.Fprintf(w, "aborted: %s\n", res.AbortReason)
	default:
		p.Fprintf(w, "completed %d hops\n", len(res.CompletedHops))
	}
}
