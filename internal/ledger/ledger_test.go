package ledger_test

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/chain-sweeper/internal/ledger"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		rateLimit bool
		transient bool
	}{
		{name: "http 429", err: errors.New("rpc call getBalance: 429 Too Many Requests"), rateLimit: true},
		{name: "rate limit text", err: errors.New("server responded: rate limit exceeded"), rateLimit: true},
		{name: "connection refused", err: errors.New("dial tcp 127.0.0.1:8899: connect: connection refused"), transient: true},
		{name: "deadline", err: errors.Wrap(context.DeadlineExceeded, "send"), transient: true},
		{name: "service unavailable", err: errors.New("503 Service Unavailable"), transient: true},
		{name: "status code 429", err: errors.New("rpc call sendTransaction() on http://node status code: 429. rpc response missing"), rateLimit: true},
		{name: "gateway status", err: errors.New("rpc call getBalance() on http://node status code: 502. rpc response missing"), transient: true},
		{name: "other", err: errors.New("invalid signature")},
		{name: "digits in amount", err: errors.New("insufficient funds for gas * price + value: address 0x71C7656EC7ab88b098defB751B7401B5f6d8976F have 14290000 want 21000000")},
		{name: "digits in nonce", err: errors.New("nonce too low: address 0x71C7656EC7ab88b098defB751B7401B5f6d8976F, tx: 4290 state: 4291")},
		{name: "digits in slot", err: errors.New("Blockhash not found (slot 254290117)")},
		{name: "digits in lamports", err: errors.New("transfer of 5030 lamports below rent exemption")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ledger.Classify(tt.err)
			assert.Equal(t, tt.rateLimit, ledger.IsRateLimited(classified))
			assert.Equal(t, tt.transient, ledger.IsTransient(classified))
			assert.ErrorIs(t, classified, tt.err)
		})
	}

	assert.NoError(t, ledger.Classify(nil))

	already := errors.Wrap(ledger.ErrRejected, "status")
	assert.Equal(t, already, ledger.Classify(already))
}

func TestTransferRequestValidate(t *testing.T) {
	from := ledger.Account{Index: 0, Address: "from", SigningKey: "secret"}

	req := &ledger.TransferRequest{From: from, To: "to", ToIndex: 1, Amount: 995}
	require.NoError(t, req.Validate(5, 1000))

	req.Amount = 996
	require.Error(t, req.Validate(5, 1000))

	req.Amount = 0
	require.Error(t, req.Validate(5, 1000))

	req.Amount = 10
	req.To = ""
	require.Error(t, req.Validate(5, 1000))
}

func TestAccountStringHidesKey(t *testing.T) {
	acc := ledger.Account{Index: 3, Address: "addr", SigningKey: "do-not-print"}
	assert.Equal(t, "addr", acc.String())
}

func TestStatusSettled(t *testing.T) {
	assert.True(t, ledger.StatusConfirmed.Settled())
	assert.True(t, ledger.StatusFinalized.Settled())
	assert.False(t, ledger.StatusPending.Settled())
	assert.False(t, ledger.StatusUnknown.Settled())
	assert.False(t, ledger.StatusFailed.Settled())
	assert.Equal(t, "finalized", ledger.StatusFinalized.String())
}

func TestFormatAmount(t *testing.T) {
	assert.Equal(t, "1.5", ledger.FormatAmount(1_500_000_000, ledger.SolanaDecimals))
	assert.Equal(t, "0.000005", ledger.FormatAmount(5000, ledger.SolanaDecimals))
	assert.Equal(t, "0", ledger.FormatAmount(0, ledger.SolanaDecimals))
	assert.Equal(t, "0.001", ledger.FormatAmount(1_000_000_000_000_000, ledger.EtherDecimals))
}
