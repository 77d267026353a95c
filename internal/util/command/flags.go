package command

import (
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github/chapool/chain-sweeper/internal/config"
)

const (
	FlagConfig      = "config"
	FlagLedger      = "ledger"
	FlagRPCURL      = "rpc-url"
	FlagKeys        = "keys"
	FlagFee         = "fee"
	FlagDestination = "destination"
	FlagMetrics     = "metrics-textfile"
)

// BindCommonFlags registers the flags shared by every ledger command on cmd
// and binds them to v.
func BindCommonFlags(cmd *cobra.Command, v *viper.Viper) {
	flags := cmd.Flags()
	flags.String(FlagConfig, "", "TOML config file overlaying ENV")
	flags.String(FlagLedger, "", "ledger kind (solana, evm)")
	flags.StringSlice(FlagRPCURL, nil, "RPC endpoint, repeat for failover")
	flags.String(FlagKeys, "", "path of the keys file")
	flags.Uint64(FlagFee, 0, "flat fee per transfer in base units")
	flags.String(FlagMetrics, "", "write prometheus metrics to this textfile")

	BindFlags(v, cmd, FlagConfig, FlagLedger, FlagRPCURL, FlagKeys, FlagFee, FlagMetrics)
}

// BindDestinationFlag registers --destination on cmd.
func BindDestinationFlag(cmd *cobra.Command, v *viper.Viper) {
	cmd.Flags().String(FlagDestination, "", "address receiving the swept funds")
	BindFlags(v, cmd, FlagDestination)
}

// BindFlags binds the named flags of cmd to v.
func BindFlags(v *viper.Viper, cmd *cobra.Command, names ...string) {
	for _, name := range names {
		if err := v.BindPFlag(name, cmd.Flags().Lookup(name)); err != nil {
			panic(errors.Wrapf(err, "failed to bind flag %s", name))
		}
	}
}

// LoadConfig builds the config from ENV, the optional TOML file and the flags
// set on the command line, in that order of precedence.
func LoadConfig(v *viper.Viper) (config.Sweeper, error) {
	cfg := config.DefaultSweeperConfigFromEnv()

	if path := v.GetString(FlagConfig); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, err
		}
	}

	// the ledger kind picks the defaults of fee, decimals and endpoints
	if v.IsSet(FlagLedger) {
		kind := config.LedgerKind(v.GetString(FlagLedger))
		if kind != config.LedgerKindSolana && kind != config.LedgerKindEVM {
			return cfg, errors.Errorf("unsupported ledger kind %q", kind)
		}
		cfg.SetLedgerKind(kind)
	}

	if v.IsSet(FlagRPCURL) {
		cfg.Ledger.RPCURLs = v.GetStringSlice(FlagRPCURL)
	}
	if v.IsSet(FlagKeys) {
		cfg.Keys.Path = v.GetString(FlagKeys)
	}
	if v.IsSet(FlagFee) {
		cfg.Fee = v.GetUint64(FlagFee)
	}
	if v.IsSet(FlagMetrics) {
		cfg.Metrics.TextfilePath = v.GetString(FlagMetrics)
	}
	if v.IsSet(FlagDestination) {
		cfg.Destination = v.GetString(FlagDestination)
	}

	return cfg, nil
}
