package sweep_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github/chapool/chain-sweeper/internal/ledger"
	"github/chapool/chain-sweeper/internal/ledger/ledgertest"
	"github/chapool/chain-sweeper/internal/sweep"
)

const (
	testFee         = 5
	testDestination = "destination"
)

type fakeClock struct {
	mu       sync.Mutex
	now      time.Time
	sleeps   []time.Duration
	canceled int
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sleeps = append(c.sleeps, d)
	if err := ctx.Err(); err != nil {
		c.canceled++
		return err
	}
	c.now = c.now.Add(d)
	return nil
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]time.Duration, len(c.sleeps))
	copy(out, c.sleeps)
	return out
}

type recorder struct {
	mu     sync.Mutex
	events []sweep.Event
}

func (r *recorder) Observe(ev sweep.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Of(t sweep.EventType) []sweep.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sweep.Event
	for _, ev := range r.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func (r *recorder) All() []sweep.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]sweep.Event, len(r.events))
	copy(out, r.events)
	return out
}

func makeChain(balances ...uint64) []ledger.Account {
	chain := make([]ledger.Account, len(balances))
	for i := range balances {
		chain[i] = ledger.Account{
			Index:      i,
			Address:    fmt.Sprintf("account-%d", i),
			SigningKey: fmt.Sprintf("secret-%d", i),
		}
	}
	return chain
}

func newLedger(chain []ledger.Account, balances ...uint64) *ledgertest.Ledger {
	l := ledgertest.New(testFee)
	for i, acc := range chain {
		l.SetBalance(acc.Address, balances[i])
	}
	return l
}

func fixedJitter(d time.Duration) sweep.JitterFunc {
	return func(_, _ time.Duration) time.Duration { return d }
}

type harness struct {
	ledger   *ledgertest.Ledger
	clock    *fakeClock
	events   *recorder
	scanner  *sweep.Scanner
	executor *sweep.Executor
}

func newHarness(t *testing.T, l *ledgertest.Ledger) *harness {
	t.Helper()

	clock := newFakeClock()
	events := &recorder{}

	executor, err := sweep.NewExecutor(l, sweep.DefaultRetryPolicy(), clock, events)
	require.NoError(t, err)

	return &harness{
		ledger:   l,
		clock:    clock,
		events:   events,
		scanner:  sweep.NewScanner(l, time.Second, clock, events),
		executor: executor,
	}
}

func (h *harness) orchestrator(t *testing.T, jitter time.Duration) *sweep.Orchestrator {
	t.Helper()

	orch, err := sweep.NewOrchestrator(h.scanner, h.executor, sweep.Options{
		Destination:            testDestination,
		Fee:                    testFee,
		MinHopDelay:            3 * time.Second,
		MaxHopDelay:            10 * time.Second,
		InitialBalanceAttempts: 6,
	}, h.clock, fixedJitter(jitter), h.events)
	require.NoError(t, err)

	return orch
}
