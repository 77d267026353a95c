package keys_test

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/chain-sweeper/cmd/keys"
	"github/chapool/chain-sweeper/internal/wallet/keystore"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()

	var out bytes.Buffer
	cmd := keys.New()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())

	return out.String()
}

func TestGenerateAndList(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.json")
	t.Setenv("SWEEPER_KEYS_PATH", path)
	t.Setenv("SWEEPER_LEDGER_KIND", "solana")
	t.Setenv("SWEEPER_KEYS_PASSWORD", "")
	t.Setenv("LOG_PRETTY_PRINT_CONSOLE", "false")

	out := execute(t, "generate", "--count", "2")
	assert.Contains(t, out, "generated 2 key pairs, 2 total")

	out = execute(t, "generate", "--count", "1")
	assert.Contains(t, out, "generated 1 key pairs, 3 total")

	stored, err := keystore.NewStore(path, "").Load()
	require.NoError(t, err)
	require.Len(t, stored, 3)

	out = execute(t, "list")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[2], stored[2].PublicKey)
	assert.NotContains(t, out, stored[0].PrivateKey)
	assert.NotContains(t, out, "invalid")
}

func TestDeriveFromMnemonic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallets.json")
	t.Setenv("SWEEPER_KEYS_PATH", path)
	t.Setenv("SWEEPER_LEDGER_KIND", "evm")
	t.Setenv("SWEEPER_KEYS_PASSWORD", "")
	t.Setenv("LOG_PRETTY_PRINT_CONSOLE", "false")
	t.Setenv("SWEEPER_MNEMONIC", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about")
	t.Setenv("SWEEPER_MNEMONIC_PASSPHRASE", "")

	out := execute(t, "derive", "--count", "1")
	assert.Contains(t, out, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94  m/44'/60'/0'/0/0")

	out = execute(t, "derive", "--count", "2")
	assert.Contains(t, out, "m/44'/60'/0'/0/2")
	assert.Contains(t, out, "derived 2 key pairs, 3 total")

	stored, err := keystore.NewStore(path, "").Load()
	require.NoError(t, err)
	require.Len(t, stored, 3)
	assert.Equal(t, "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", stored[0].PublicKey)
}

func TestDeriveRequiresEVM(t *testing.T) {
	t.Setenv("SWEEPER_KEYS_PATH", filepath.Join(t.TempDir(), "wallets.json"))
	t.Setenv("SWEEPER_LEDGER_KIND", "solana")
	t.Setenv("LOG_PRETTY_PRINT_CONSOLE", "false")

	cmd := keys.New()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"derive"})
	require.Error(t, cmd.Execute())
}
