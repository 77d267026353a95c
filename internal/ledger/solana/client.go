// Package solana implements ledger.Client over Solana JSON-RPC.
package solana

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/chain-sweeper/internal/ledger"
)

const (
	defaultConfirmTimeout = 30 * time.Second
	defaultPollInterval   = 500 * time.Millisecond
)

// Config configures the Solana client.
type Config struct {
	// Endpoints are tried in order; a failing endpoint hands over to the next.
	Endpoints      []string
	Commitment     rpc.CommitmentType
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client wraps one RPC client per endpoint and fails over between them.
type Client struct {
	endpoints []string
	clients   []*rpc.Client
	cfg       Config

	mu      sync.Mutex
	current int
}

var _ ledger.Client = (*Client)(nil)

// New creates a client for the configured endpoints. No request is made.
func New(cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}
	if cfg.Commitment == "" {
		cfg.Commitment = rpc.CommitmentConfirmed
	}
	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	clients := make([]*rpc.Client, 0, len(cfg.Endpoints))
	for _, url := range cfg.Endpoints {
		clients = append(clients, rpc.New(url))
	}

	return &Client{
		endpoints: cfg.Endpoints,
		clients:   clients,
		cfg:       cfg,
	}, nil
}

// Close closes every underlying RPC client.
func (c *Client) Close() {
	for _, client := range c.clients {
		if err := client.Close(); err != nil {
			log.Debug().Err(err).Msg("SolanaClient: failed to close RPC client")
		}
	}
}

// Endpoint returns the endpoint the next call will use.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoints[c.current]
}

func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	pub, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return 0, errors.Wrap(err, "invalid account address")
	}

	client, idx := c.client()
	out, err := client.GetBalance(ctx, pub, c.cfg.Commitment)
	if err != nil {
		return 0, c.fail(idx, errors.Wrap(err, "failed to get balance"))
	}

	return out.Value, nil
}

func (c *Client) Submit(ctx context.Context, req *ledger.TransferRequest) (ledger.TransferID, error) {
	key, err := solana.PrivateKeyFromBase58(req.From.SigningKey)
	if err != nil {
		return "", errors.Wrap(err, "invalid signing key")
	}

	from := key.PublicKey()
	if from.String() != req.From.Address {
		return "", errors.New("from address does not match signing key")
	}

	to, err := solana.PublicKeyFromBase58(req.To)
	if err != nil {
		return "", errors.Wrap(err, "invalid recipient address")
	}

	client, idx := c.client()

	recent, err := client.GetLatestBlockhash(ctx, rpc.CommitmentFinalized)
	if err != nil {
		return "", c.fail(idx, errors.Wrap(err, "failed to get latest blockhash"))
	}

	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(req.Amount, from, to).Build(),
		},
		recent.Value.Blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return "", errors.Wrap(err, "failed to build transfer transaction")
	}

	if _, err := tx.Sign(func(pub solana.PublicKey) *solana.PrivateKey {
		if pub.Equals(from) {
			return &key
		}
		return nil
	}); err != nil {
		return "", errors.Wrap(err, "failed to sign transaction")
	}

	sig, err := client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: c.cfg.Commitment,
	})
	if err != nil {
		return "", c.fail(idx, errors.Wrap(err, "failed to send transaction"))
	}

	return ledger.TransferID(sig.String()), nil
}

// PollConfirmation polls the signature status until it settles, is rejected,
// or ConfirmTimeout elapses.
func (c *Client) PollConfirmation(ctx context.Context, id ledger.TransferID) (ledger.Status, error) {
	pollCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		status, err := c.GetStatus(pollCtx, id)
		if err == nil {
			switch {
			case status.Settled():
				return status, nil
			case status == ledger.StatusFailed:
				return status, errors.Wrapf(ledger.ErrRejected, "transaction %s failed", id)
			}
		} else if !ledger.IsTransient(err) && !ledger.IsRateLimited(err) {
			return ledger.StatusUnknown, err
		}

		select {
		case <-pollCtx.Done():
			return ledger.StatusPending, errors.Wrapf(ledger.ErrConfirmationTimeout, "transaction %s", id)
		case <-ticker.C:
		}
	}
}

func (c *Client) GetStatus(ctx context.Context, id ledger.TransferID) (ledger.Status, error) {
	sig, err := solana.SignatureFromBase58(string(id))
	if err != nil {
		return ledger.StatusUnknown, errors.Wrap(err, "invalid transaction signature")
	}

	client, idx := c.client()
	out, err := client.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return ledger.StatusUnknown, c.fail(idx, errors.Wrap(err, "failed to get signature status"))
	}

	if len(out.Value) == 0 {
		return ledger.StatusUnknown, nil
	}

	return statusOf(out.Value[0]), nil
}

func statusOf(res *rpc.SignatureStatusesResult) ledger.Status {
	if res == nil {
		return ledger.StatusUnknown
	}

	if res.Err != nil {
		return ledger.StatusFailed
	}

	switch res.ConfirmationStatus {
	case rpc.ConfirmationStatusFinalized:
		return ledger.StatusFinalized
	case rpc.ConfirmationStatusConfirmed:
		return ledger.StatusConfirmed
	default:
		return ledger.StatusPending
	}
}

func (c *Client) client() (*rpc.Client, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[c.current], c.current
}

// fail classifies err and moves to the next endpoint when the one at idx
// was unreachable or refused the request under load.
func (c *Client) fail(idx int, err error) error {
	err = classify(err)
	if !ledger.IsTransient(err) && !ledger.IsRateLimited(err) {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.clients) > 1 && c.current == idx {
		c.current = (idx + 1) % len(c.clients)
		log.Warn().
			Err(err).
			Str("failed_url", c.endpoints[idx]).
			Str("next_url", c.endpoints[c.current]).
			Msg("SolanaClient: RPC endpoint failed, switching endpoint")
	}

	return err
}

// classify reads the status code of typed JSON-RPC errors before falling
// back to the message based taxonomy.
func classify(err error) error {
	var httpErr *jsonrpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.Code == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", ledger.ErrRateLimited, err)
		case httpErr.Code >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
		}
	}

	var rpcErr *jsonrpc.RPCError
	if errors.As(err, &rpcErr) {
		if rpcErr.Code == http.StatusTooManyRequests {
			return fmt.Errorf("%w: %w", ledger.ErrRateLimited, err)
		}
		// Node side errors (preflight failure, blockhash not found, ...) carry
		// their own codes and are never rate limits.
		return err
	}

	return ledger.Classify(err)
}

// GenerateAccount creates a new keypair and returns the base58 address and secret.
func GenerateAccount() (string, string, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return "", "", errors.Wrap(err, "failed to generate keypair")
	}
	return key.PublicKey().String(), key.String(), nil
}

// ValidateAddress checks that address is a base58 public key.
func ValidateAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return errors.Wrap(err, "invalid Solana address")
	}
	return nil
}
