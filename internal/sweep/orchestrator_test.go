package sweep_test

import (
	"context"
	"fmt"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github/chapool/chain-sweeper/internal/sweep"
)

func TestSweepThreeAccounts(t *testing.T) {
	chain := makeChain(1000, 0, 0)
	l := newLedger(chain, 1000, 0, 0)
	h := newHarness(t, l)

	res, err := h.orchestrator(t, 4*time.Second).Sweep(context.Background(), chain)
	require.NoError(t, err)

	assert.True(t, res.Success())
	assert.False(t, res.Aborted)
	assert.NotEmpty(t, res.RunID)

	subs := l.Submissions()
	require.Len(t, subs, 3)
	assert.Equal(t, "account-0", subs[0].From)
	assert.Equal(t, "account-1", subs[0].To)
	assert.Equal(t, uint64(995), subs[0].Amount)
	assert.Equal(t, "account-1", subs[1].From)
	assert.Equal(t, uint64(990), subs[1].Amount)
	assert.Equal(t, "account-2", subs[2].From)
	assert.Equal(t, testDestination, subs[2].To)
	assert.Equal(t, uint64(985), subs[2].Amount)

	require.Len(t, res.CompletedHops, 3)
	assert.True(t, res.CompletedHops[2].Final())
	assert.Nil(t, res.FailedHop)

	assert.True(t, res.DestinationBalanceKnown)
	assert.Equal(t, uint64(985), res.FinalDestinationBalance)
	assert.Empty(t, res.Residuals())
	assert.Zero(t, res.Verification.Total)

	// jitter after the two inner hops only
	assert.Equal(t, []time.Duration{4 * time.Second, 4 * time.Second}, h.clock.Sleeps())
	assert.Len(t, h.events.Of(sweep.EventHopDelay), 2)
}

func TestSweepConservation(t *testing.T) {
	for n := 2; n <= 7; n++ {
		t.Run(fmt.Sprintf("chain of %d", n), func(t *testing.T) {
			balances := make([]uint64, n)
			balances[0] = 1_000_000
			chain := makeChain(balances...)
			l := newLedger(chain, balances...)
			h := newHarness(t, l)

			res, err := h.orchestrator(t, time.Second).Sweep(context.Background(), chain)
			require.NoError(t, err)

			require.True(t, res.Success())
			assert.Len(t, res.CompletedHops, n)
			assert.Equal(t, uint64(1_000_000-n*testFee), l.Balance(testDestination))
			assert.Equal(t, l.Balance(testDestination), res.FinalDestinationBalance)
		})
	}
}

func TestSweepHopsInIndexOrder(t *testing.T) {
	chain := makeChain(5000, 0, 0, 0, 0)
	l := newLedger(chain, 5000, 0, 0, 0, 0)
	l.FailSubmit(nil, errTooManyRequests, nil, errUnreachable)
	l.Drop(1)
	h := newHarness(t, l)

	res, err := h.orchestrator(t, time.Second).Sweep(context.Background(), chain)
	require.NoError(t, err)
	require.True(t, res.Success())

	for i, hop := range res.CompletedHops {
		assert.Equal(t, i, hop.Index)
	}

	// hop i+1 is never submitted before hop i reached its terminal outcome
	settled := map[int]int{}
	for pos, ev := range h.events.All() {
		switch ev.Type {
		case sweep.EventConfirmed, sweep.EventConfirmedByLookup:
			settled[ev.Hop] = pos
		case sweep.EventSubmitted:
			if ev.Hop > 0 {
				prev, ok := settled[ev.Hop-1]
				require.True(t, ok, "hop %d submitted before hop %d settled", ev.Hop, ev.Hop-1)
				assert.Less(t, prev, pos)
			}
			_, done := settled[ev.Hop+1]
			assert.False(t, done)
		}
	}

	var from []string
	for _, sub := range l.Submissions() {
		from = append(from, sub.From)
	}
	assert.True(t, sort.StringsAreSorted(from), "submissions out of order: %v", from)
}

func TestSweepAbortsWhenFirstBalanceTooLow(t *testing.T) {
	chain := makeChain(3, 0, 0)
	l := newLedger(chain, 3, 0, 0)
	h := newHarness(t, l)

	res, err := h.orchestrator(t, time.Second).Sweep(context.Background(), chain)
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.False(t, res.Success())
	assert.NotEmpty(t, res.AbortReason)
	assert.Zero(t, l.SubmitCalls())
	assert.Empty(t, res.CompletedHops)
	assert.Empty(t, h.clock.Sleeps())

	finished := h.events.Of(sweep.EventSweepFinished)
	require.Len(t, finished, 1)
	assert.Error(t, finished[0].Err)
}

func TestSweepAbortsWhenHopExhaustsRetries(t *testing.T) {
	chain := makeChain(1000, 0, 0)
	l := newLedger(chain, 1000, 0, 0)
	l.FailSubmit(nil, errUnreachable, errUnreachable, errUnreachable, errUnreachable, errUnreachable)
	h := newHarness(t, l)

	res, err := h.orchestrator(t, time.Second).Sweep(context.Background(), chain)
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	require.Len(t, res.CompletedHops, 1)
	assert.Equal(t, 0, res.CompletedHops[0].Index)
	require.NotNil(t, res.FailedHop)
	assert.Equal(t, 1, res.FailedHop.Index)
	assert.Equal(t, sweep.OutcomeFailed, res.FailedHop.Outcome.Kind)

	assert.Equal(t, 6, l.SubmitCalls())
	require.Len(t, l.Submissions(), 1)
	for _, call := range l.Calls() {
		assert.NotContains(t, call, "submit account-2")
	}

	// funds rest in the account the chain reached
	assert.Equal(t, uint64(995), l.Balance(chain[1].Address))
	residuals := res.Residuals()
	require.Len(t, residuals, 1)
	assert.Equal(t, chain[1].Address, residuals[0].Account.Address)
}

func TestSweepAbortsWhenFinalTransferFails(t *testing.T) {
	chain := makeChain(1000, 0, 0)
	l := newLedger(chain, 1000, 0, 0)
	l.FailSubmit(nil, nil, errUnreachable, errUnreachable, errUnreachable, errUnreachable, errUnreachable)
	h := newHarness(t, l)

	res, err := h.orchestrator(t, time.Second).Sweep(context.Background(), chain)
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.False(t, res.Stopped)
	require.NotNil(t, res.FailedHop)
	assert.True(t, res.FailedHop.Final())
	assert.Equal(t, 2, res.FailedHop.Index)
	assert.Len(t, res.FailedHop.Outcome.Attempts, 5)

	require.Len(t, res.CompletedHops, 2)
	assert.Equal(t, 0, res.CompletedHops[0].Index)
	assert.Equal(t, 1, res.CompletedHops[1].Index)
	for _, hop := range res.CompletedHops {
		assert.False(t, hop.Final())
		assert.True(t, hop.Outcome.Confirmed())
	}

	assert.Equal(t, uint64(990), l.Balance(chain[2].Address))
	assert.True(t, res.DestinationBalanceKnown)
	assert.Zero(t, res.FinalDestinationBalance)

	residuals := res.Residuals()
	require.Len(t, residuals, 1)
	assert.Equal(t, chain[2].Address, residuals[0].Account.Address)
}

func TestSweepReportsResidualWithoutFailing(t *testing.T) {
	chain := makeChain(1000, 0, 0)
	l := newLedger(chain, 1000, 0, 0)
	h := newHarness(t, l)

	// funds arriving at an account the sweep already left
	deposit := sweep.ObserverFunc(func(ev sweep.Event) {
		if ev.Type == sweep.EventHopDelay && ev.Hop == 0 {
			l.SetBalance(chain[0].Address, 7)
		}
	})

	orch, err := sweep.NewOrchestrator(h.scanner, h.executor, sweep.Options{
		Destination:            testDestination,
		Fee:                    testFee,
		MinHopDelay:            time.Second,
		MaxHopDelay:            time.Second,
		InitialBalanceAttempts: 1,
	}, h.clock, fixedJitter(time.Second), sweep.Observers{h.events, deposit})
	require.NoError(t, err)

	res, err := orch.Sweep(context.Background(), chain)
	require.NoError(t, err)

	assert.True(t, res.Success())
	require.Len(t, res.CompletedHops, 3)
	assert.Equal(t, uint64(985), res.FinalDestinationBalance)

	residuals := res.Residuals()
	require.Len(t, residuals, 1)
	assert.Equal(t, chain[0].Address, residuals[0].Account.Address)
	assert.Equal(t, uint64(7), residuals[0].Balance)
	assert.Equal(t, uint64(7), res.Verification.Total)

	var reported []sweep.Event
	for _, ev := range h.events.Of(sweep.EventResidualBalance) {
		if ev.Hop == -1 {
			reported = append(reported, ev)
		}
	}
	require.Len(t, reported, 1)
	assert.Equal(t, chain[0].Address, reported[0].Address)
	assert.Equal(t, uint64(7), reported[0].Amount)

	finished := h.events.Of(sweep.EventSweepFinished)
	require.Len(t, finished, 1)
	assert.NoError(t, finished[0].Err)
}

func TestSweepAbortsWhenHopBalanceUnavailable(t *testing.T) {
	chain := makeChain(1000, 0, 0)
	l := newLedger(chain, 1000, 0, 0)
	// the initial scan reads account 1 fine, both reads before hop 1 fail
	l.FailBalance(chain[1].Address, nil, errUnreachable, errUnreachable)
	h := newHarness(t, l)

	res, err := h.orchestrator(t, time.Second).Sweep(context.Background(), chain)
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.False(t, res.Stopped)
	assert.Nil(t, res.FailedHop)
	assert.Contains(t, res.AbortReason, "balance of account 1 unavailable for hop 1")

	require.Len(t, res.CompletedHops, 1)
	assert.Equal(t, 0, res.CompletedHops[0].Index)
	assert.Equal(t, 1, l.SubmitCalls())
	for _, call := range l.Calls() {
		assert.NotContains(t, call, "submit account-1")
	}

	// funds rest in the account the chain reached
	assert.Equal(t, uint64(995), l.Balance(chain[1].Address))
	residuals := res.Residuals()
	require.Len(t, residuals, 1)
	assert.Equal(t, chain[1].Address, residuals[0].Account.Address)
	assert.Zero(t, res.FinalDestinationBalance)
}

func TestSweepSkipsEmptyHopWithoutDelay(t *testing.T) {
	chain := makeChain(8, 0, 0)
	l := newLedger(chain, 8, 0, 0)
	h := newHarness(t, l)

	res, err := h.orchestrator(t, 7*time.Second).Sweep(context.Background(), chain)
	require.NoError(t, err)

	assert.True(t, res.Success())
	require.Len(t, res.CompletedHops, 1)
	assert.Equal(t, []int{1, 2}, res.Skipped)
	assert.Equal(t, uint64(3), l.Balance(chain[1].Address))
	assert.Equal(t, []time.Duration{7 * time.Second}, h.clock.Sleeps())
	assert.Len(t, h.events.Of(sweep.EventHopSkipped), 2)
}

func TestSweepStopsBetweenHops(t *testing.T) {
	chain := makeChain(1000, 0, 0)
	l := newLedger(chain, 1000, 0, 0)
	h := newHarness(t, l)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stopper := sweep.ObserverFunc(func(ev sweep.Event) {
		if ev.Type == sweep.EventHopDelay {
			cancel()
		}
	})

	orch, err := sweep.NewOrchestrator(h.scanner, h.executor, sweep.Options{
		Destination:            testDestination,
		Fee:                    testFee,
		MinHopDelay:            time.Second,
		MaxHopDelay:            2 * time.Second,
		InitialBalanceAttempts: 1,
	}, h.clock, fixedJitter(time.Second), sweep.Observers{h.events, stopper})
	require.NoError(t, err)

	res, err := orch.Sweep(ctx, chain)
	require.NoError(t, err)

	assert.True(t, res.Stopped)
	assert.True(t, res.Aborted)
	require.Len(t, res.CompletedHops, 1)
	assert.Len(t, l.Submissions(), 1)
	assert.Equal(t, uint64(995), l.Balance(chain[1].Address))
	assert.Len(t, h.events.Of(sweep.EventSweepStopped), 1)
}

func TestSweepInitialBalanceUnavailable(t *testing.T) {
	chain := makeChain(1000, 0)
	l := newLedger(chain, 1000, 0)
	for i := 0; i < 8; i++ {
		l.FailBalance(chain[0].Address, errUnreachable)
	}
	h := newHarness(t, l)

	res, err := h.orchestrator(t, time.Second).Sweep(context.Background(), chain)
	require.NoError(t, err)

	assert.True(t, res.Aborted)
	assert.Contains(t, res.AbortReason, "initial balance unavailable")
	assert.Zero(t, l.SubmitCalls())
}

func TestSweepRejectsInvalidChain(t *testing.T) {
	h := newHarness(t, newLedger(makeChain(1), 1))
	orch := h.orchestrator(t, time.Second)

	_, err := orch.Sweep(context.Background(), makeChain(1))
	require.Error(t, err)

	chain := makeChain(1, 1)
	chain[1].Index = 0
	_, err = orch.Sweep(context.Background(), chain)
	require.Error(t, err)

	chain = makeChain(1, 1)
	chain[1].Address = ""
	_, err = orch.Sweep(context.Background(), chain)
	require.Error(t, err)
}

func TestSweepEventsCarryRunID(t *testing.T) {
	chain := makeChain(1000, 0)
	h := newHarness(t, newLedger(chain, 1000, 0))

	res, err := h.orchestrator(t, time.Second).Sweep(context.Background(), chain)
	require.NoError(t, err)

	events := h.events.All()
	require.NotEmpty(t, events)
	for _, ev := range events {
		assert.Equal(t, res.RunID, ev.RunID, "event %s", ev.Type)
	}
	assert.Equal(t, sweep.EventSweepFinished, events[len(events)-1].Type)
	assert.NoError(t, events[len(events)-1].Err)
}

func TestNewOrchestratorValidatesOptions(t *testing.T) {
	h := newHarness(t, newLedger(makeChain(0, 0), 0, 0))

	_, err := sweep.NewOrchestrator(h.scanner, h.executor, sweep.Options{
		Fee:                    testFee,
		InitialBalanceAttempts: 1,
	}, h.clock, nil, nil)
	require.Error(t, err)

	_, err = sweep.NewOrchestrator(h.scanner, h.executor, sweep.Options{
		Destination:            testDestination,
		MinHopDelay:            time.Minute,
		MaxHopDelay:            time.Second,
		InitialBalanceAttempts: 1,
	}, h.clock, nil, nil)
	require.Error(t, err)

	_, err = sweep.NewOrchestrator(h.scanner, h.executor, sweep.Options{
		Destination:            testDestination,
		InitialBalanceAttempts: 1,
	}, h.clock, nil, nil)
	require.NoError(t, err)
}

func TestUniformJitterBounds(t *testing.T) {
	for i := 0; i < 200; i++ {
		d := sweep.UniformJitter(3*time.Second, 10*time.Second)
		assert.GreaterOrEqual(t, d, 3*time.Second)
		assert.LessOrEqual(t, d, 10*time.Second)
	}
	assert.Equal(t, time.Second, sweep.UniformJitter(time.Second, time.Second))
}
