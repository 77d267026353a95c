package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/chain-sweeper/cmd/balances"
	"github/chapool/chain-sweeper/cmd/env"
	"github/chapool/chain-sweeper/cmd/keys"
	"github/chapool/chain-sweeper/cmd/recovery"
	"github/chapool/chain-sweeper/cmd/sweep"
	"github/chapool/chain-sweeper/internal/config"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     "app",
	Short:   config.ModuleName,
	Long: fmt.Sprintf(`%v

Sweeps the funds of a chain of accounts hop by hop into a destination address.
Requires configuration through ENV, an optional .env file or a TOML file.`, config.ModuleName),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// attach the subcommands
	rootCmd.AddCommand(
		balances.New(),
		env.New(),
		keys.New(),
		recovery.New(),
		sweep.New(),
	)

	// an interrupt asks a running sweep to stop after the hop in flight
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		stop()
		os.Exit(1)
	}
}
