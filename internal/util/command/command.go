package command

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github/chapool/chain-sweeper/internal/config"
	"github/chapool/chain-sweeper/internal/util"
)

// NewSubcommandGroup returns a command that only groups its subcommands.
func NewSubcommandGroup(name string, subCommands ...*cobra.Command) *cobra.Command {
	cmd := &cobra.Command{
		Use:   name,
		Short: fmt.Sprintf("%s related subcommands", name),
		Run: func(cmd *cobra.Command, _ []string) {
			if err := cmd.Help(); err != nil {
				log.Error().Err(err).Msg("Failed to print help")
			}
		},
	}

	cmd.AddCommand(subCommands...)

	return cmd
}

// WithRuntime configures logging, builds the runtime for cfg and runs f with it.
// Metrics are written to the configured textfile after f returns, even on error.
func WithRuntime(ctx context.Context, cfg config.Sweeper, f func(ctx context.Context, rt *Runtime) error) error {
	util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)

	rt, err := NewRuntime(ctx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("Failed to initialize runtime")
		return err
	}
	defer rt.Close()

	start := time.Now()
	resultErr := f(ctx, rt)

	if err := rt.WriteMetrics(); err != nil {
		log.Warn().Err(err).Str("path", cfg.Metrics.TextfilePath).Msg("Failed to write metrics textfile")
	}

	if resultErr != nil {
		log.Error().Err(resultErr).Dur("duration", time.Since(start)).Msg("Command failed")
		return resultErr
	}

	log.Debug().Dur("duration", time.Since(start)).Msg("Command succeeded")

	return nil
}
