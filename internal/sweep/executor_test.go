package sweep_test

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/chain-sweeper/internal/ledger"
	"github/chapool/chain-sweeper/internal/sweep"
)

var errTooManyRequests = errors.New("429 Too Many Requests")

func hopRequest(chain []ledger.Account, amount uint64) *ledger.TransferRequest {
	return &ledger.TransferRequest{
		From:    chain[0],
		To:      chain[1].Address,
		ToIndex: chain[1].Index,
		Amount:  amount,
	}
}

func TestExecuteConfirmsOnFirstPoll(t *testing.T) {
	chain := makeChain(1000, 0)
	h := newHarness(t, newLedger(chain, 1000, 0))

	out := h.executor.Execute(context.Background(), 0, hopRequest(chain, 995))

	require.True(t, out.Confirmed())
	assert.Equal(t, ledger.TransferID("tx-1"), out.ID)
	require.Len(t, out.Attempts, 1)
	assert.Equal(t, sweep.OutcomeConfirmed, out.Attempts[0].Kind)
	assert.Empty(t, h.clock.Sleeps())
	assert.Equal(t, uint64(995), h.ledger.Balance(chain[1].Address))
	assert.Len(t, h.events.Of(sweep.EventConfirmed), 1)
}

func TestRetryPolicyBackoff(t *testing.T) {
	policy := sweep.DefaultRetryPolicy()

	assert.Equal(t, 3*time.Second, policy.Backoff(0))
	assert.Equal(t, 6*time.Second, policy.Backoff(1))
	assert.Equal(t, 9*time.Second, policy.Backoff(2))
	assert.Equal(t, 9*time.Second, policy.Backoff(3))
	assert.Equal(t, 9*time.Second, policy.Backoff(62))

	policy.InitialDelay = time.Second
	policy.MaxDelay = time.Minute
	assert.Equal(t, 16*time.Second, policy.Backoff(4))
	assert.Equal(t, time.Minute, policy.Backoff(6))
}

func TestRetryPolicyValidate(t *testing.T) {
	require.NoError(t, sweep.DefaultRetryPolicy().Validate())

	policy := sweep.DefaultRetryPolicy()
	policy.MaxAttempts = 0
	require.Error(t, policy.Validate())

	policy = sweep.DefaultRetryPolicy()
	policy.MaxDelay = time.Second
	require.Error(t, policy.Validate())

	policy = sweep.DefaultRetryPolicy()
	policy.ConfirmPolls = 0
	require.Error(t, policy.Validate())
}

func TestExecuteRateLimitBackoffShape(t *testing.T) {
	chain := makeChain(1000, 0)
	l := newLedger(chain, 1000, 0)
	l.FailSubmit(errTooManyRequests, errTooManyRequests, errTooManyRequests)
	h := newHarness(t, l)

	out := h.executor.Execute(context.Background(), 0, hopRequest(chain, 995))

	require.True(t, out.Confirmed())
	sleeps := h.clock.Sleeps()
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second}, sleeps)
	for i := 1; i < len(sleeps); i++ {
		assert.GreaterOrEqual(t, sleeps[i], sleeps[i-1])
		assert.LessOrEqual(t, sleeps[i], 9*time.Second)
	}
	assert.Equal(t, 4, l.SubmitCalls())
	assert.Len(t, h.events.Of(sweep.EventRateLimited), 3)
}

func TestExecuteNeverExceedsCeiling(t *testing.T) {
	chain := makeChain(1000, 0)
	l := newLedger(chain, 1000, 0)
	for i := 0; i < 10; i++ {
		l.FailSubmit(errUnreachable)
	}
	h := newHarness(t, l)

	out := h.executor.Execute(context.Background(), 0, hopRequest(chain, 995))

	assert.Equal(t, sweep.OutcomeFailed, out.Kind)
	assert.NotEmpty(t, out.Reason)
	assert.Equal(t, 5, l.SubmitCalls())
	assert.Len(t, out.Attempts, 5)
	assert.Equal(t, []time.Duration{3 * time.Second, 3 * time.Second, 3 * time.Second, 3 * time.Second}, h.clock.Sleeps())
	assert.Len(t, h.events.Of(sweep.EventHopFailed), 1)
	assert.Equal(t, uint64(1000), l.Balance(chain[0].Address))
}

func TestExecuteRateLimitExhaustsCeiling(t *testing.T) {
	chain := makeChain(1000, 0)
	l := newLedger(chain, 1000, 0)
	for i := 0; i < 6; i++ {
		l.FailSubmit(errTooManyRequests)
	}
	h := newHarness(t, l)

	out := h.executor.Execute(context.Background(), 0, hopRequest(chain, 995))

	assert.Equal(t, sweep.OutcomeFailed, out.Kind)
	assert.Equal(t, 5, l.SubmitCalls())
	assert.Equal(t, []time.Duration{3 * time.Second, 6 * time.Second, 9 * time.Second, 9 * time.Second}, h.clock.Sleeps())
}

func TestExecuteConfirmationTimeoutFallbackConfirms(t *testing.T) {
	chain := makeChain(1000, 0)
	l := newLedger(chain, 1000, 0)
	l.ScriptPolls(ledger.ErrConfirmationTimeout, ledger.ErrConfirmationTimeout, ledger.ErrConfirmationTimeout)
	h := newHarness(t, l)

	out := h.executor.Execute(context.Background(), 0, hopRequest(chain, 995))

	require.True(t, out.Confirmed())
	assert.Equal(t, ledger.TransferID("tx-1"), out.ID)
	assert.Equal(t, 1, l.SubmitCalls())
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second}, h.clock.Sleeps())
	assert.Len(t, h.events.Of(sweep.EventConfirmedByLookup), 1)
	assert.Len(t, h.events.Of(sweep.EventConfirmationPending), 2)
	assert.Contains(t, l.Calls(), "status tx-1")
}

func TestExecuteUnconfirmedStartsNewTransfer(t *testing.T) {
	chain := makeChain(1000, 0)
	l := newLedger(chain, 1000, 0)
	l.Drop(1)
	h := newHarness(t, l)

	out := h.executor.Execute(context.Background(), 0, hopRequest(chain, 995))

	require.True(t, out.Confirmed())
	assert.Equal(t, ledger.TransferID("tx-2"), out.ID)

	subs := l.Submissions()
	require.Len(t, subs, 2)
	assert.False(t, subs[0].Landed)
	assert.True(t, subs[1].Landed)
	assert.NotEqual(t, subs[0].ID, subs[1].ID)

	require.Len(t, out.Attempts, 2)
	assert.Equal(t, sweep.OutcomeUnconfirmed, out.Attempts[0].Kind)
	assert.Equal(t, ledger.TransferID("tx-1"), out.Attempts[0].ID)
	assert.Equal(t, []time.Duration{5 * time.Second, 5 * time.Second, 3 * time.Second}, h.clock.Sleeps())
	assert.Len(t, h.events.Of(sweep.EventUnconfirmed), 1)
}

func TestExecuteRejectedSkipsLookup(t *testing.T) {
	chain := makeChain(1000, 0)
	l := newLedger(chain, 1000, 0)
	l.Drop(1)
	l.ScriptPolls(errors.Wrap(ledger.ErrRejected, "blockhash not found"))
	h := newHarness(t, l)

	out := h.executor.Execute(context.Background(), 0, hopRequest(chain, 995))

	require.True(t, out.Confirmed())
	assert.NotContains(t, l.Calls(), "status tx-1")
	assert.Equal(t, sweep.OutcomeFailed, out.Attempts[0].Kind)
	assert.Equal(t, []time.Duration{3 * time.Second}, h.clock.Sleeps())
	assert.Len(t, h.events.Of(sweep.EventRejected), 1)
}

func TestExecuteIgnoresCancellation(t *testing.T) {
	chain := makeChain(1000, 0)
	l := newLedger(chain, 1000, 0)
	l.FailSubmit(errUnreachable)
	h := newHarness(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := h.executor.Execute(ctx, 0, hopRequest(chain, 995))

	require.True(t, out.Confirmed())
	assert.Zero(t, h.clock.canceled)
}
