package keys

import (
	"io"
	"math"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github/chapool/chain-sweeper/internal/config"
	"github/chapool/chain-sweeper/internal/util"
	"github/chapool/chain-sweeper/internal/util/command"
	"github/chapool/chain-sweeper/internal/wallet/hd"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

const (
	pathFlag = "path"

	defaultDeriveCount = 10
)

func newDerive() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "derive",
		Short: "Derives EVM key pairs from a BIP39 mnemonic and appends them to the keys file",
		Long: `Derives EVM key pairs from a BIP39 mnemonic and appends them to the keys file.

Account i of the keys file is derived at <path>/i, so a file built only by this
command can be restored from the mnemonic. The mnemonic is read from
SWEEPER_MNEMONIC or the terminal, the optional passphrase from SWEEPER_MNEMONIC_PASSPHRASE.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return derive(v, cmd.OutOrStdout())
		},
	}

	command.BindCommonFlags(cmd, v)
	cmd.Flags().Int(countFlag, defaultDeriveCount, "number of key pairs to derive")
	cmd.Flags().String(pathFlag, hd.DefaultBasePath, "BIP44 base path, the account index is appended")
	command.BindFlags(v, cmd, countFlag, pathFlag)

	return cmd
}

func derive(v *viper.Viper, out io.Writer) error {
	cfg, err := command.LoadConfig(v)
	if err != nil {
		return err
	}

	util.ConfigureLogger(cfg.Logger.Level, cfg.Logger.PrettyPrintConsole)

	if cfg.Ledger.Kind != config.LedgerKindEVM {
		return errors.Errorf("key derivation is only supported for the %s ledger", config.LedgerKindEVM)
	}

	mnemonic := util.GetEnv("SWEEPER_MNEMONIC", "")
	if mnemonic == "" {
		mnemonic, err = command.TerminalPassword("Mnemonic: ")()
		if err != nil {
			return errors.Wrap(err, "failed to read mnemonic")
		}
	}

	seed := hd.SeedFromMnemonic(mnemonic, util.GetEnv("SWEEPER_MNEMONIC_PASSPHRASE", ""))
	defer hd.Clear(seed)

	deriver, err := hd.NewDeriver(seed, v.GetString(pathFlag))
	if err != nil {
		return err
	}

	store, err := openStore(cfg)
	if err != nil {
		return err
	}

	start := 0
	exists, err := store.Exists()
	if err != nil {
		return err
	}
	if exists {
		existing, err := store.Load()
		if err != nil {
			return err
		}
		start = len(existing)
	}
	if start > math.MaxInt32 {
		return errors.New("keys file too large to derive further accounts")
	}

	count := v.GetInt(countFlag)
	all, err := store.Generate(count, deriver.Generator(uint32(start)))
	if err != nil {
		return err
	}

	p := message.NewPrinter(language.English)
	for i := len(all) - count; i < len(all); i++ {
		p.Fprintf(out, "%4d  %s  %s\n", i, all[i].PublicKey, deriver.Path(uint32(i))) //nolint:gosec // bounded above
	}
	p.Fprintf(out, "derived %d key pairs, %d total in %s\n", count, len(all), store.Path())

	return nil
}
