package env

import (
	"encoding/json"
	"fmt"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github/chapool/chain-sweeper/internal/util/command"
)

func New() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "env",
		Short: "Prints the resolved config as JSON",
		Long: `Prints the resolved config as JSON.

ENV, the optional .env and TOML files and the given flags are applied.
The keys password is never printed.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := command.LoadConfig(v)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return errors.Wrap(err, "failed to marshal config")
			}

			fmt.Fprintln(cmd.OutOrStdout(), string(out))

			return nil
		},
	}

	command.BindCommonFlags(cmd, v)
	command.BindDestinationFlag(cmd, v)

	return cmd
}
