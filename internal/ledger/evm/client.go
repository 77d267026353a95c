// Package evm implements ledger.Client over an Ethereum-compatible JSON-RPC node.
//
// Transfers are legacy value transfers with a flat fee: gas price is fee / 21000
// so every transfer costs exactly the configured fee.
package evm

import (
	"context"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github/chapool/chain-sweeper/internal/ledger"
)

// TransferGas is the gas used by a plain value transfer.
const TransferGas uint64 = 21000

const (
	defaultConfirmTimeout = 2 * time.Minute
	defaultPollInterval   = 2 * time.Second
)

type Config struct {
	Endpoints      []string
	ChainID        int64
	Fee            uint64
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
}

// Client wraps an ethclient per endpoint and fails over between them.
type Client struct {
	urls     []string
	clients  []*ethclient.Client
	chainID  *big.Int
	gasPrice *big.Int
	cfg      Config

	mu      sync.Mutex
	current int
}

var _ ledger.Client = (*Client)(nil)

// GasPrice returns the gas price that makes a transfer cost exactly fee.
func GasPrice(fee uint64) (*big.Int, error) {
	if fee == 0 || fee%TransferGas != 0 {
		return nil, errors.Errorf("fee %d must be a positive multiple of %d", fee, TransferGas)
	}
	return new(big.Int).SetUint64(fee / TransferGas), nil
}

// Dial connects to every endpoint. The chain id is fetched when not configured.
func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if len(cfg.Endpoints) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	gasPrice, err := GasPrice(cfg.Fee)
	if err != nil {
		return nil, err
	}

	if cfg.ConfirmTimeout <= 0 {
		cfg.ConfirmTimeout = defaultConfirmTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}

	clients := make([]*ethclient.Client, 0, len(cfg.Endpoints))
	for _, url := range cfg.Endpoints {
		client, err := ethclient.DialContext(ctx, url)
		if err != nil {
			for _, c := range clients {
				c.Close()
			}
			return nil, errors.Wrapf(err, "failed to connect to RPC node %s", url)
		}
		clients = append(clients, client)
	}

	c := &Client{
		urls:     cfg.Endpoints,
		clients:  clients,
		gasPrice: gasPrice,
		cfg:      cfg,
	}

	if cfg.ChainID > 0 {
		c.chainID = big.NewInt(cfg.ChainID)
		return c, nil
	}

	client, idx := c.client()
	chainID, err := client.ChainID(ctx)
	if err != nil {
		c.Close()
		return nil, c.fail(idx, errors.Wrap(err, "failed to get chain ID"))
	}
	c.chainID = chainID

	return c, nil
}

func (c *Client) Close() {
	for _, client := range c.clients {
		client.Close()
	}
}

// Endpoint returns the endpoint the next call will use.
func (c *Client) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.urls[c.current]
}

func (c *Client) GetBalance(ctx context.Context, address string) (uint64, error) {
	if !common.IsHexAddress(address) {
		return 0, errors.Errorf("invalid account address %q", address)
	}

	client, idx := c.client()
	balance, err := client.BalanceAt(ctx, common.HexToAddress(address), nil)
	if err != nil {
		return 0, c.fail(idx, errors.Wrap(err, "failed to get balance"))
	}

	if !balance.IsUint64() {
		return 0, errors.Errorf("balance %s of %s exceeds uint64", balance, address)
	}

	return balance.Uint64(), nil
}

func (c *Client) Submit(ctx context.Context, req *ledger.TransferRequest) (ledger.TransferID, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(req.From.SigningKey, "0x"))
	if err != nil {
		return "", errors.Wrap(err, "failed to convert private key to ECDSA")
	}

	fromAddress := crypto.PubkeyToAddress(privateKey.PublicKey)
	if !common.IsHexAddress(req.From.Address) || fromAddress != common.HexToAddress(req.From.Address) {
		return "", errors.New("from address does not match private key")
	}

	if !common.IsHexAddress(req.To) {
		return "", errors.Errorf("invalid recipient address %q", req.To)
	}
	toAddress := common.HexToAddress(req.To)

	client, idx := c.client()

	nonce, err := client.PendingNonceAt(ctx, fromAddress)
	if err != nil {
		return "", c.fail(idx, errors.Wrap(err, "failed to fetch pending nonce"))
	}

	//nolint:varnamelen // tx is a common abbreviation for transaction
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: c.gasPrice,
		Gas:      TransferGas,
		To:       &toAddress,
		Value:    new(big.Int).SetUint64(req.Amount),
	})

	signedTx, err := types.SignTx(tx, types.LatestSignerForChainID(c.chainID), privateKey)
	if err != nil {
		return "", errors.Wrap(err, "failed to sign transaction")
	}

	if err := client.SendTransaction(ctx, signedTx); err != nil {
		return "", c.fail(idx, errors.Wrap(err, "failed to broadcast transaction"))
	}

	return ledger.TransferID(signedTx.Hash().Hex()), nil
}

// PollConfirmation waits for a receipt until ConfirmTimeout elapses.
func (c *Client) PollConfirmation(ctx context.Context, id ledger.TransferID) (ledger.Status, error) {
	localCtx, cancel := context.WithTimeout(ctx, c.cfg.ConfirmTimeout)
	defer cancel()

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.receipt(localCtx, id)
		if err == nil {
			if receipt.Status != types.ReceiptStatusSuccessful {
				return ledger.StatusFailed, errors.Wrapf(ledger.ErrRejected, "transaction %s reverted", id)
			}
			return ledger.StatusConfirmed, nil
		}

		if !errors.Is(err, ethereum.NotFound) && !ledger.IsTransient(err) && !ledger.IsRateLimited(err) {
			return ledger.StatusUnknown, err
		}

		select {
		case <-localCtx.Done():
			return ledger.StatusPending, errors.Wrapf(ledger.ErrConfirmationTimeout, "transaction %s", id)
		case <-ticker.C:
		}
	}
}

func (c *Client) GetStatus(ctx context.Context, id ledger.TransferID) (ledger.Status, error) {
	receipt, err := c.receipt(ctx, id)
	if err == nil {
		if receipt.Status != types.ReceiptStatusSuccessful {
			return ledger.StatusFailed, nil
		}
		return ledger.StatusConfirmed, nil
	}

	if !errors.Is(err, ethereum.NotFound) {
		return ledger.StatusUnknown, err
	}

	client, idx := c.client()
	_, _, err = client.TransactionByHash(ctx, common.HexToHash(string(id)))
	switch {
	case err == nil:
		return ledger.StatusPending, nil
	case errors.Is(err, ethereum.NotFound):
		return ledger.StatusUnknown, nil
	default:
		return ledger.StatusUnknown, c.fail(idx, errors.Wrap(err, "failed to get transaction"))
	}
}

func (c *Client) receipt(ctx context.Context, id ledger.TransferID) (*types.Receipt, error) {
	if !strings.HasPrefix(string(id), "0x") || len(id) != 2+2*common.HashLength {
		return nil, errors.Errorf("invalid transaction hash %q", id)
	}

	client, idx := c.client()
	receipt, err := client.TransactionReceipt(ctx, common.HexToHash(string(id)))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		return nil, c.fail(idx, errors.Wrap(err, "failed to get transaction receipt"))
	}

	return receipt, nil
}

func (c *Client) client() (*ethclient.Client, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clients[c.current], c.current
}

// fail classifies err and rotates away from the endpoint at idx when the
// failure was transport level.
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
			Str("failed_url", c.urls[idx]).
			Str("next_url", c.urls[c.current]).
			Msg("EVMClient: RPC endpoint failed, switching endpoint")
	}

	return err
}

func classify(err error) error {
	var httpErr rpc.HTTPError
	if errors.As(err, &httpErr) {
		switch {
		case httpErr.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("%w: %w", ledger.ErrRateLimited, err)
		case httpErr.StatusCode >= http.StatusInternalServerError:
			return fmt.Errorf("%w: %w", ledger.ErrTransient, err)
		}
	}
	return ledger.Classify(err)
}

// GenerateAccount creates a new key and returns the checksummed address and hex secret.
func GenerateAccount() (string, string, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return "", "", errors.Wrap(err, "failed to generate key")
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), common.Bytes2Hex(crypto.FromECDSA(key)), nil
}

// ValidateAddress checks that address is a hex account address.
func ValidateAddress(address string) error {
	if !common.IsHexAddress(address) {
		return errors.Errorf("invalid EVM address %q", address)
	}
	return nil
}
