package keys

import (
	"io"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github/chapool/chain-sweeper/internal/util"
	"github/chapool/chain-sweeper/internal/util/command"
	"github/chapool/chain-sweeper/internal/wallet/keystore"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	countFlag   = "count"
	encryptFlag = "encrypt"

	defaultKeyCount = 100
)

func newGenerate() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generates new key pairs and appends them to the keys file",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return generate(v, cmd.OutOrStdout())
		},
	}

	command.BindCommonFlags(cmd, v)
	cmd.Flags().Int(countFlag, defaultKeyCount, "number of key pairs to generate")
	cmd.Flags().Bool(encryptFlag, false, "encrypt the keys file, asking for a password if none is configured")
	command.BindFlags(v, cmd, countFlag, encryptFlag)

	return cmd
}

func generate(v *viper.Viper, out io.Writer) error {
	cfg, err := command.LoadConfig(v)
	if err != nil {
		return err
	}

	util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)

	gen, err := command.KeyGenerator(cfg.Ledger.Kind)
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	exists, err := store.Exists()
	if err != nil {
		return err
	}

	if !exists && v.GetBool(encryptFlag) && cfg.Keys.Password == "" {
		password, err := command.NewPassword(
			command.TerminalPassword("New keys password: "),
			command.TerminalPassword("Repeat password: "),
		)
		if err != nil {
			return errors.Wrap(err, "failed to read new keys password")
		}
		store = keystore.NewStore(cfg.Keys.Path, password)
	}

	count := v.GetInt(countFlag)
	all, err := store.Generate(count, gen)
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	for i := len(all) - count; i < len(all); i++ {
		p.Fprintf(out, "%4d  %s\n", i, all[i].PublicKey)
	}
	p.Fprintf(out, "generated %d key pairs, %d total in %s\n", count, len(all), store.Path())

	return nil
}
