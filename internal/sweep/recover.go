package sweep

import (
	"context"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github/chapool/chain-sweeper/internal/ledger"
)

// RecoverResult describes a recovery run.
type RecoverResult struct {
	RunID     string
	Recovered uint64
	Transfers []Hop
	Failed    []Hop
	// Unreadable lists accounts whose balance could not be read.
	Unreadable []ledger.Account

	FinalBalance      uint64
	FinalBalanceKnown bool
}

// Recoverer collects the balances of accounts[1:] back into accounts[0].
// Unlike a sweep, a failing account does not stop the run.
type Recoverer struct {
	scanner  *Scanner
	executor *Executor
	fee      uint64
	clock    Clock
	observer Observer
}

// NewRecoverer returns a Recoverer charging fee per transfer.
func NewRecoverer(scanner *Scanner, executor *Executor, fee uint64, clock Clock, observer Observer) *Recoverer {
	if clock == nil {
		clock = RealClock()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Recoverer{
		scanner:  scanner,
		executor: executor,
		fee:      fee,
		clock:    clock,
		observer: observer,
	}
}

// Recover runs the collection. Only an invalid chain is returned as an error.
func (r *Recoverer) Recover(ctx context.Context, chain []ledger.Account) (*RecoverResult, error) {
	if err := ValidateChain(chain); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	scanner := r.scanner.withRun(runID)
	executor := r.executor.withRun(runID)
	res := &RecoverResult{RunID: runID}
	work := context.WithoutCancel(ctx)
	target := chain[0]

	for i := 1; i < len(chain); i++ {
		if ctx.Err() != nil {
			r.emit(runID, Event{Type: EventSweepStopped, Hop: i, Account: -1, Message: "stop requested, halting recovery"})
			break
		}

		src := chain[i]
		balance, err := scanner.Balance(work, src, scanAttempts)
		if err != nil {
			res.Unreadable = append(res.Unreadable, src)
			continue
		}

		if balance <= r.fee {
			continue
		}

		req := &ledger.TransferRequest{
			From:    src,
			To:      target.Address,
			ToIndex: target.Index,
			Amount:  balance - r.fee,
		}

		r.emit(runID, Event{
			Type:    EventHopStarted,
			Hop:     i,
			Account: src.Index,
			Address: src.Address,
			To:      target.Address,
			Amount:  req.Amount,
			Message: "recovering balance to first account",
		})

		hop := Hop{
			Index:   i,
			From:    src,
			To:      target.Address,
			ToIndex: target.Index,
			Amount:  req.Amount,
			Outcome: executor.Execute(work, i, req),
		}

		if hop.Outcome.Confirmed() {
			res.Transfers = append(res.Transfers, hop)
			res.Recovered += hop.Amount
		} else {
			res.Failed = append(res.Failed, hop)
		}
	}

	if balance, err := scanner.Balance(work, target, scanAttempts); err == nil {
		res.FinalBalance = balance
		res.FinalBalanceKnown = true
	}

	var err error
	if len(res.Failed) > 0 {
		err = errors.Errorf("%d recovery transfers failed", len(res.Failed))
	}
	r.emit(runID, Event{
		Type:    EventSweepFinished,
		Hop:     -1,
		Account: target.Index,
		Address: target.Address,
		Amount:  res.Recovered,
		Err:     err,
		Message: "recovery finished",
	})

	return res, nil
}

func (r *Recoverer) emit(runID string, ev Event) {
	ev.RunID = runID
	ev.Time = r.clock.Now()
	r.observer.Observe(ev)
}
