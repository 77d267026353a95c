package keys

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github/chapool/chain-sweeper/internal/config"
	"github/chapool/chain-sweeper/internal/util/command"
	"github/chapool/chain-sweeper/internal/wallet/keystore"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("keys",
		newDerive(),
		newGenerate(),
		newList(),
	)
}

// openStore returns a store for the configured keys file. When the file is
// encrypted and no password is configured, the password is read from the terminal.
func openStore(cfg config.Sweeper) (*keystore.Store, error) {
	store := keystore.NewStore(cfg.Keys.Path, cfg.Keys.Password)
	if cfg.Keys.Password != "" {
		return store, nil
	}

	exists, err := store.Exists()
	if err != nil || !exists {
		return store, err
	}

	encrypted, err := store.Encrypted()
	if err != nil || !encrypted {
		return store, err
	}

	password, err := command.TerminalPassword("Keys password: ")()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read keys password")
	}

	return keystore.NewStore(cfg.Keys.Path, password), nil
}
