package keys

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github/chapool/chain-sweeper/internal/util"
	"github/chapool/chain-sweeper/internal/util/command"
	"github/chapool/chain-sweeper/internal/wallet/keystore"
)

func newList() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Prints the index and address of every account in the keys file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return list(v, cmd.OutOrStdout())
		},
	}

	command.BindCommonFlags(cmd, v)

	return cmd
}

func list(v *viper.Viper, out io.Writer) error {
	cfg, err := command.LoadConfig(v)
	if err != nil {
		return err
	}

	util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	keys, err := store.Load()
	if err != nil {
		return err
	}

	for _, acc := range keystore.Accounts(keys) {
		if err := command.ValidateAddress(cfg.Ledger.Kind, acc.Address); err != nil {
			fmt.Fprintf(out, "%4d  %s  (invalid: %v)\n", acc.Index, acc.Address, err)
			continue
		}
		fmt.Fprintf(out, "%4d  %s\n", acc.Index, acc.Address)
	}

	return nil
}
