package sweep

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github/chapool/chain-sweeper/internal/ledger"
)

// Observation is one balance reading. Known is false when the ledger could
// not be queried.
type Observation struct {
	Account ledger.Account
	Balance uint64
	Known   bool
	Err     error
}

// ScanReport is the result of scanning a set of accounts.
type ScanReport struct {
	Observations []Observation
	Total        uint64
}

// Unknown returns the accounts whose balance could not be read.
func (r ScanReport) Unknown() []ledger.Account {
	var out []ledger.Account
	for _, obs := range r.Observations {
		if !obs.Known {
			out = append(out, obs.Account)
		}
	}
	return out
}

// NonEmpty returns the observations with a known, non-zero balance.
func (r ScanReport) NonEmpty() []Observation {
	var out []Observation
	for _, obs := range r.Observations {
		if obs.Known && obs.Balance > 0 {
			out = append(out, obs)
		}
	}
	return out
}

// scanAttempts is one query plus exactly one retry.
const scanAttempts = 2

// Scanner reads account balances with one bounded retry per account.
type Scanner struct {
	client     ledger.Client
	retryDelay time.Duration
	clock      Clock
	observer   Observer
	runID      string
}

// NewScanner returns a Scanner waiting retryDelay before its single retry.
func NewScanner(client ledger.Client, retryDelay time.Duration, clock Clock, observer Observer) *Scanner {
	if clock == nil {
		clock = RealClock()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Scanner{
		client:     client,
		retryDelay: retryDelay,
		clock:      clock,
		observer:   observer,
	}
}

func (s *Scanner) withRun(runID string) *Scanner {
	clone := *s
	clone.runID = runID
	return &clone
}

// Scan reads every account in order. A failing account is recorded as
// unknown and never stops the scan.
func (s *Scanner) Scan(ctx context.Context, accounts []ledger.Account) ScanReport {
	report := ScanReport{Observations: make([]Observation, 0, len(accounts))}

	for _, acc := range accounts {
		obs := s.observe(ctx, acc, scanAttempts)
		if obs.Known {
			report.Total += obs.Balance
		}
		report.Observations = append(report.Observations, obs)
	}

	return report
}

// Balance reads one account, trying up to attempts times.
func (s *Scanner) Balance(ctx context.Context, acc ledger.Account, attempts int) (uint64, error) {
	obs := s.observe(ctx, acc, attempts)
	if !obs.Known {
		return 0, obs.Err
	}
	return obs.Balance, nil
}

func (s *Scanner) observe(ctx context.Context, acc ledger.Account, attempts int) Observation {
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			s.emit(Event{
				Type:    EventBalanceRetry,
				Account: acc.Index,
				Address: acc.Address,
				Attempt: attempt - 1,
				Delay:   s.retryDelay,
				Err:     lastErr,
				Message: "balance query failed, retrying",
			})
			if err := s.clock.Sleep(ctx, s.retryDelay); err != nil {
				lastErr = errors.Wrap(err, "balance retry interrupted")
				break
			}
		}

		balance, err := s.client.GetBalance(ctx, acc.Address)
		if err == nil {
			s.emit(Event{
				Type:    EventBalanceObserved,
				Account: acc.Index,
				Address: acc.Address,
				Amount:  balance,
			})
			return Observation{Account: acc, Balance: balance, Known: true}
		}

		lastErr = errors.Wrapf(ledger.Classify(err), "failed to get balance of account %d", acc.Index)
	}

	s.emit(Event{
		Type:    EventBalanceUnknown,
		Account: acc.Index,
		Address: acc.Address,
		Err:     lastErr,
		Message: "balance unavailable after retry",
	})

	return Observation{Account: acc, Err: lastErr}
}

func (s *Scanner) emit(ev Event) {
	ev.RunID = s.runID
	ev.Hop = -1
	ev.Time = s.clock.Now()
	s.observer.Observe(ev)
}
