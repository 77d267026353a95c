package command

import (
	"context"

	"github.com/gagliardetto/solana-go/rpc"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"github/chapool/chain-sweeper/internal/config"
	"github/chapool/chain-sweeper/internal/ledger"
	"github/chapool/chain-sweeper/internal/ledger/evm"
	"github/chapool/chain-sweeper/internal/ledger/solana"
	"github/chapool/chain-sweeper/internal/sweep"
	"github/chapool/chain-sweeper/internal/wallet/keystore"
)

// Runtime holds everything a command needs to talk to the ledger.
type Runtime struct {
	Config   config.Sweeper
	Ledger   ledger.Client
	Keys     *keystore.Store
	Registry *prometheus.Registry
	Observer sweep.Observer
	Clock    sweep.Clock

	// PromptPassword is asked for the keys password when the file is
	// encrypted and none is configured. Nil disables prompting.
	PromptPassword func() (string, error)

	closeLedger func()
}

func NewRuntime(ctx context.Context, cfg config.Sweeper) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}

	client, closeLedger, err := NewLedgerClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())

	metrics, err := sweep.NewMetricsObserver(registry)
	if err != nil {
		closeLedger()
		return nil, errors.Wrap(err, "failed to register metrics")
	}

	return &Runtime{
		Config:         cfg,
		Ledger:         client,
		Keys:           keystore.NewStore(cfg.Keys.Path, cfg.Keys.Password),
		Registry:       registry,
		Observer:       sweep.Observers{sweep.NewLogObserver(log.Logger, cfg.Ledger.Decimals), metrics},
		Clock:          sweep.RealClock(),
		PromptPassword: TerminalPassword("Keys password: "),
		closeLedger:    closeLedger,
	}, nil
}

// NewLedgerClient builds the ledger client for the configured ledger kind.
//
//nolint:ireturn // the kind decides the implementation
func NewLedgerClient(ctx context.Context, cfg config.Sweeper) (ledger.Client, func(), error) {
	switch cfg.Ledger.Kind {
	case config.LedgerKindSolana:
		client, err := solana.New(solana.Config{
			Endpoints:      cfg.Ledger.RPCURLs,
			Commitment:     rpc.CommitmentType(cfg.Ledger.Commitment),
			ConfirmTimeout: cfg.Ledger.ConfirmTimeout,
			PollInterval:   cfg.Ledger.PollInterval,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create Solana client")
		}
		return client, client.Close, nil
	case config.LedgerKindEVM:
		client, err := evm.Dial(ctx, evm.Config{
			Endpoints:      cfg.Ledger.RPCURLs,
			ChainID:        cfg.Ledger.ChainID,
			Fee:            cfg.Fee,
			ConfirmTimeout: cfg.Ledger.ConfirmTimeout,
			PollInterval:   cfg.Ledger.PollInterval,
		})
		if err != nil {
			return nil, nil, errors.Wrap(err, "failed to create EVM client")
		}
		return client, client.Close, nil
	default:
		return nil, nil, errors.Errorf("unsupported ledger kind %q", cfg.Ledger.Kind)
	}
}

// RetryPolicy maps the retry settings of cfg onto the executor policy.
func RetryPolicy(cfg config.Sweeper) sweep.RetryPolicy {
	return sweep.RetryPolicy{
		MaxAttempts:     cfg.Retry.MaxAttempts,
		InitialDelay:    cfg.Retry.InitialDelay,
		MaxDelay:        cfg.Retry.MaxDelay,
		RetryDelay:      cfg.Retry.RetryDelay,
		ConfirmPolls:    cfg.Retry.ConfirmPolls,
		ConfirmInterval: cfg.Retry.ConfirmInterval,
	}
}

func SweepOptions(cfg config.Sweeper) sweep.Options {
	return sweep.Options{
		Destination:            cfg.Destination,
		Fee:                    cfg.Fee,
		MinHopDelay:            cfg.Hop.MinDelay,
		MaxHopDelay:            cfg.Hop.MaxDelay,
		InitialBalanceAttempts: cfg.Scan.InitialBalanceAttempts,
	}
}

// ValidateAddress checks address against the address format of kind.
func ValidateAddress(kind config.LedgerKind, address string) error {
	switch kind {
	case config.LedgerKindSolana:
		return solana.ValidateAddress(address)
	case config.LedgerKindEVM:
		return evm.ValidateAddress(address)
	default:
		return errors.Errorf("unsupported ledger kind %q", kind)
	}
}

// KeyGenerator returns the key generator of kind.
func KeyGenerator(kind config.LedgerKind) (keystore.GenerateFunc, error) {
	switch kind {
	case config.LedgerKindSolana:
		return solana.GenerateAccount, nil
	case config.LedgerKindEVM:
		return evm.GenerateAccount, nil
	default:
		return nil, errors.Errorf("unsupported ledger kind %q", kind)
	}
}

// Accounts loads the account chain, prompting for the password if needed.
func (r *Runtime) Accounts() ([]ledger.Account, error) {
	keys, err := r.Keys.Load()
	if errors.Is(err, keystore.ErrPasswordRequired) && r.PromptPassword != nil {
		password, perr := r.PromptPassword()
		if perr != nil {
			return nil, errors.Wrap(perr, "failed to read keys password")
		}
		r.Keys = keystore.NewStore(r.Config.Keys.Path, password)
		keys, err = r.Keys.Load()
	}
	if err != nil {
		return nil, err
	}

	accounts := keystore.Accounts(keys)
	for _, acc := range accounts {
		if err := ValidateAddress(r.Config.Ledger.Kind, acc.Address); err != nil {
			return nil, errors.Wrapf(err, "account %d", acc.Index)
		}
	}

	return accounts, nil
}

func (r *Runtime) Scanner() *sweep.Scanner {
	return sweep.NewScanner(r.Ledger, r.Config.Scan.RetryDelay, r.Clock, r.Observer)
}

func (r *Runtime) Executor() (*sweep.Executor, error) {
	return sweep.NewExecutor(r.Ledger, RetryPolicy(r.Config), r.Clock, r.Observer)
}

func (r *Runtime) Orchestrator() (*sweep.Orchestrator, error) {
	if err := ValidateAddress(r.Config.Ledger.Kind, r.Config.Destination); err != nil {
		return nil, errors.Wrap(err, "invalid destination")
	}

	executor, err := r.Executor()
	if err != nil {
		return nil, err
	}

	return sweep.NewOrchestrator(
		r.Scanner(),
		executor,
		SweepOptions(r.Config),
		r.Clock,
		sweep.UniformJitter,
		r.Observer,
	)
}

func (r *Runtime) Recoverer() (*sweep.Recoverer, error) {
	executor, err := r.Executor()
	if err != nil {
		return nil, err
	}

	return sweep.NewRecoverer(r.Scanner(), executor, r.Config.Fee, r.Clock, r.Observer), nil
}

// WriteMetrics dumps the registry to the configured textfile, if any.
func (r *Runtime) WriteMetrics() error {
	if r.Config.Metrics.TextfilePath == "" {
		return nil
	}

	if err := prometheus.WriteToTextfile(r.Config.Metrics.TextfilePath, r.Registry); err != nil {
		return errors.Wrap(err, "failed to write metrics textfile")
	}

	return nil
}

func (r *Runtime) Close() {
	if r.closeLedger != nil {
		r.closeLedger()
	}
}
