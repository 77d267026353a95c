package config

import (
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github/chapool/chain-sweeper/internal/ledger"
	"github/chapool/chain-sweeper/internal/util"
)

type LedgerKind string

const (
	LedgerKindSolana LedgerKind = "solana"
	LedgerKindEVM    LedgerKind = "evm"
)

const (
	defaultSolanaFee     = 5000
	defaultSolanaRPCURL  = "https://api.mainnet-beta.solana.com"
	defaultEVMFee        = 21000 * 1_000_000_000 // 21000 gas at 1 gwei
	defaultKeysPath      = "wallets.json"
	defaultEnvFile       = ".env"
	defaultRetryAttempts = 6
)

// kindDefaults are the settings whose default depends on the ledger kind.
type kindDefaults struct {
	fee      uint64
	decimals int32
	rpcURLs  []string
}

func defaultsFor(kind LedgerKind) kindDefaults {
	if kind == LedgerKindEVM {
		return kindDefaults{fee: defaultEVMFee, decimals: ledger.EtherDecimals}
	}
	return kindDefaults{fee: defaultSolanaFee, decimals: ledger.SolanaDecimals, rpcURLs: []string{defaultSolanaRPCURL}}
}

// defaulted tracks which kind dependent settings were never set explicitly,
// so a later change of the ledger kind can swap their defaults.
type defaulted struct {
	fee      bool
	decimals bool
	rpcURLs  bool
}

type Ledger struct {
	Kind           LedgerKind    `json:"kind" toml:"kind"`
	RPCURLs        []string      `json:"rpcUrls" toml:"rpc_urls"`
	ChainID        int64         `json:"chainId" toml:"chain_id"`
	Commitment     string        `json:"commitment" toml:"commitment"`
	ConfirmTimeout time.Duration `json:"confirmTimeout" toml:"confirm_timeout"`
	PollInterval   time.Duration `json:"pollInterval" toml:"poll_interval"`
	// Decimals only affects how amounts are rendered.
	Decimals int32 `json:"decimals" toml:"decimals"`
}

type Hop struct {
	MinDelay time.Duration `json:"minDelay" toml:"min_delay"`
	MaxDelay time.Duration `json:"maxDelay" toml:"max_delay"`
}

type Retry struct {
	MaxAttempts     int           `json:"maxAttempts" toml:"max_attempts"`
	InitialDelay    time.Duration `json:"initialDelay" toml:"initial_delay"`
	MaxDelay        time.Duration `json:"maxDelay" toml:"max_delay"`
	RetryDelay      time.Duration `json:"retryDelay" toml:"retry_delay"`
	ConfirmPolls    int           `json:"confirmPolls" toml:"confirm_polls"`
	ConfirmInterval time.Duration `json:"confirmInterval" toml:"confirm_interval"`
}

type Scan struct {
	RetryDelay             time.Duration `json:"retryDelay" toml:"retry_delay"`
	InitialBalanceAttempts int           `json:"initialBalanceAttempts" toml:"initial_balance_attempts"`
}

type Keys struct {
	Path     string `json:"path" toml:"path"`
	Password string `json:"-" toml:"password"`
}

type Logger struct {
	Level              zerolog.Level `json:"level" toml:"level"`
	PrettyPrintConsole bool          `json:"prettyPrintConsole" toml:"pretty_print_console"`
}

type Metrics struct {
	// TextfilePath enables a node-exporter textfile dump after every command.
	TextfilePath string `json:"textfilePath" toml:"textfile_path"`
}

type Sweeper struct {
	Ledger      Ledger  `json:"ledger" toml:"ledger"`
	Destination string  `json:"destination" toml:"destination"`
	Fee         uint64  `json:"fee" toml:"fee"`
	Hop         Hop     `json:"hop" toml:"hop"`
	Retry       Retry   `json:"retry" toml:"retry"`
	Scan        Scan    `json:"scan" toml:"scan"`
	Keys        Keys    `json:"keys" toml:"keys"`
	Logger      Logger  `json:"logger" toml:"logger"`
	Metrics     Metrics `json:"metrics" toml:"metrics"`

	defaulted defaulted
}

// DefaultSweeperConfigFromEnv returns the sweeper config with values read
// from ENV. An optional .env file (SWEEPER_ENV_FILE) is loaded first.
func DefaultSweeperConfigFromEnv() Sweeper {
	DotEnvTryLoad(util.GetEnv("SWEEPER_ENV_FILE", defaultEnvFile), os.Setenv)

	kind := LedgerKind(util.GetEnvEnum("SWEEPER_LEDGER_KIND", string(LedgerKindSolana),
		[]string{string(LedgerKindSolana), string(LedgerKindEVM)}))
	defaults := defaultsFor(kind)

	return Sweeper{
		Ledger: Ledger{
			Kind:           kind,
			RPCURLs:        util.GetEnvAsStringArr("SWEEPER_RPC_URLS", defaults.rpcURLs),
			ChainID:        util.GetEnvAsInt64("SWEEPER_CHAIN_ID", 0),
			Commitment:     util.GetEnv("SWEEPER_COMMITMENT", "confirmed"),
			ConfirmTimeout: util.GetEnvAsDuration("SWEEPER_CONFIRM_TIMEOUT", 60*time.Second),
			PollInterval:   util.GetEnvAsDuration("SWEEPER_POLL_INTERVAL", time.Second),
			Decimals:       int32(util.GetEnvAsInt("SWEEPER_DECIMALS", int(defaults.decimals))), //nolint:gosec
		},
		Destination: util.GetEnv("SWEEPER_DESTINATION", ""),
		Fee:         util.GetEnvAsUint64("SWEEPER_FEE", defaults.fee),
		Hop: Hop{
			MinDelay: util.GetEnvAsDuration("SWEEPER_HOP_MIN_DELAY", 3*time.Second),
			MaxDelay: util.GetEnvAsDuration("SWEEPER_HOP_MAX_DELAY", 10*time.Second),
		},
		Retry: Retry{
			MaxAttempts:     util.GetEnvAsInt("SWEEPER_MAX_ATTEMPTS", 5),
			InitialDelay:    util.GetEnvAsDuration("SWEEPER_INITIAL_RETRY_DELAY", 3*time.Second),
			MaxDelay:        util.GetEnvAsDuration("SWEEPER_MAX_RETRY_DELAY", 9*time.Second),
			RetryDelay:      util.GetEnvAsDuration("SWEEPER_RETRY_DELAY", 3*time.Second),
			ConfirmPolls:    util.GetEnvAsInt("SWEEPER_CONFIRM_POLLS", 3),
			ConfirmInterval: util.GetEnvAsDuration("SWEEPER_CONFIRM_INTERVAL", 5*time.Second),
		},
		Scan: Scan{
			RetryDelay:             util.GetEnvAsDuration("SWEEPER_SCAN_RETRY_DELAY", time.Second),
			InitialBalanceAttempts: util.GetEnvAsInt("SWEEPER_INITIAL_BALANCE_ATTEMPTS", defaultRetryAttempts),
		},
		Keys: Keys{
			Path:     util.GetEnv("SWEEPER_KEYS_PATH", defaultKeysPath),
			Password: util.GetEnv("SWEEPER_KEYS_PASSWORD", ""),
		},
		Logger: Logger{
			Level:              util.LogLevelFromString(util.GetEnv("LOG_LEVEL", zerolog.InfoLevel.String())),
			PrettyPrintConsole: util.GetEnvAsBool("LOG_PRETTY_PRINT_CONSOLE", true),
		},
		Metrics: Metrics{
			TextfilePath: util.GetEnv("SWEEPER_METRICS_TEXTFILE", ""),
		},
		defaulted: defaulted{
			fee:      util.GetEnv("SWEEPER_FEE", "") == "",
			decimals: util.GetEnv("SWEEPER_DECIMALS", "") == "",
			rpcURLs:  util.GetEnv("SWEEPER_RPC_URLS", "") == "",
		},
	}
}

// SetLedgerKind switches the ledger kind. Fee, decimals and RPC URLs that
// were never set explicitly follow the defaults of the new kind.
func (c *Sweeper) SetLedgerKind(kind LedgerKind) {
	c.Ledger.Kind = kind
	c.applyKindDefaults()
}

func (c *Sweeper) applyKindDefaults() {
	defaults := defaultsFor(c.Ledger.Kind)
	if c.defaulted.fee {
		c.Fee = defaults.fee
	}
	if c.defaulted.decimals {
		c.Ledger.Decimals = defaults.decimals
	}
	if c.defaulted.rpcURLs {
		c.Ledger.RPCURLs = defaults.rpcURLs
	}
}

// LoadFile overlays the TOML file at path. Keys absent from the file keep their current value.
func (c *Sweeper) LoadFile(path string) error {
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return errors.Wrapf(err, "failed to decode config file %s", path)
	}

	if md.IsDefined("fee") {
		c.defaulted.fee = false
	}
	if md.IsDefined("ledger", "decimals") {
		c.defaulted.decimals = false
	}
	if md.IsDefined("ledger", "rpc_urls") {
		c.defaulted.rpcURLs = false
	}
	c.applyKindDefaults()

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		log.Warn().Str("path", path).Strs("keys", keys).Msg("Config: ignoring unknown keys")
	}

	return nil
}

// Validate checks everything a sweep needs before it touches the ledger.
func (c Sweeper) Validate() error {
	switch c.Ledger.Kind {
	case LedgerKindSolana, LedgerKindEVM:
	default:
		return errors.Errorf("unsupported ledger kind %q", c.Ledger.Kind)
	}

	if len(c.Ledger.RPCURLs) == 0 {
		return errors.New("at least one RPC URL is required")
	}

	if c.Keys.Path == "" {
		return errors.New("keys path is required")
	}

	if err := c.Retry.Validate(); err != nil {
		return errors.Wrap(err, "invalid retry config")
	}

	if c.Scan.RetryDelay < 0 {
		return errors.New("scan retry delay must not be negative")
	}

	return nil
}

// Validate rejects retry settings no transfer could run with.
func (r Retry) Validate() error {
	switch {
	case r.MaxAttempts < 1:
		return errors.New("retry ceiling must be at least 1")
	case r.ConfirmPolls < 1:
		return errors.New("confirmation polls must be at least 1")
	case r.InitialDelay < 0 || r.MaxDelay < 0 || r.RetryDelay < 0 || r.ConfirmInterval < 0:
		return errors.New("retry delays must not be negative")
	case r.MaxDelay < r.InitialDelay:
		return errors.New("max backoff delay is below the initial delay")
	}
	return nil
}

// ValidateSweep additionally checks the settings only a sweep needs.
func (c Sweeper) ValidateSweep() error {
	if err := c.Validate(); err != nil {
		return err
	}

	switch {
	case c.Destination == "":
		return errors.New("invalid sweep config: destination address is required")
	case c.Hop.MinDelay < 0 || c.Hop.MaxDelay < c.Hop.MinDelay:
		return errors.New("invalid sweep config: hop delay bounds are invalid")
	case c.Scan.InitialBalanceAttempts < 1:
		return errors.New("invalid sweep config: initial balance attempts must be at least 1")
	}

	return nil
}
