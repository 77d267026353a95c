package sweep

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github/chapool/chain-sweeper/internal/ledger"
)

// DestinationIndex marks a transfer to the external destination address.
const DestinationIndex = -1

// Hop is one transfer the sweep performed or attempted.
type Hop struct {
	Index   int
	From    ledger.Account
	To      string
	ToIndex int
	Amount  uint64
	Outcome Outcome
}

// Final reports whether the hop paid out to the external destination.
func (h Hop) Final() bool {
	return h.ToIndex == DestinationIndex
}

// Result describes a finished sweep. When Aborted is set the funds sit in
// the account of the last completed hop.
type Result struct {
	RunID         string
	CompletedHops []Hop
	// FailedHop is the hop that exhausted its retries, if any.
	FailedHop *Hop
	// Skipped lists the chain indexes whose balance did not cover the fee.
	Skipped     []int
	Aborted     bool
	Stopped     bool
	AbortReason string

	FinalDestinationBalance uint64
	DestinationBalanceKnown bool

	Initial      ScanReport
	Verification ScanReport
}

// Success is true when the sweep ran to the end without aborting.
func (r *Result) Success() bool {
	return !r.Aborted
}

// Residuals returns the verification observations that still hold funds.
func (r *Result) Residuals() []Observation {
	return r.Verification.NonEmpty()
}

// Options configure the orchestrator.
type Options struct {
	// Destination is the external address receiving the swept funds.
	Destination string
	// Fee is the flat network fee per transfer in base units.
	Fee uint64
	// MinHopDelay and MaxHopDelay bound the jitter slept after each confirmed hop.
	MinHopDelay time.Duration
	MaxHopDelay time.Duration
	// InitialBalanceAttempts bounds reads of the first account's balance.
	InitialBalanceAttempts int
}

// Validate checks the orchestrator options.
func (o Options) Validate() error {
	switch {
	case o.Destination == "":
		return errors.New("destination address is required")
	case o.MinHopDelay < 0 || o.MaxHopDelay < o.MinHopDelay:
		return errors.New("hop delay bounds are invalid")
	case o.InitialBalanceAttempts < 1:
		return errors.New("initial balance attempts must be at least 1")
	}
	return nil
}

// Orchestrator sweeps a chain of accounts hop by hop into the destination.
type Orchestrator struct {
	scanner  *Scanner
	executor *Executor
	opts     Options
	clock    Clock
	jitter   JitterFunc
	observer Observer
}

// NewOrchestrator wires the sweep from its collaborators. jitter may be nil
// for uniform sampling.
func NewOrchestrator(
	scanner *Scanner,
	executor *Executor,
	opts Options,
	clock Clock,
	jitter JitterFunc,
	observer Observer,
) (*Orchestrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid sweep options")
	}
	if clock == nil {
		clock = RealClock()
	}
	if jitter == nil {
		jitter = UniformJitter
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Orchestrator{
		scanner:  scanner,
		executor: executor,
		opts:     opts,
		clock:    clock,
		jitter:   jitter,
		observer: observer,
	}, nil
}

// ValidateChain checks the account chain a sweep or recovery runs on.
func ValidateChain(chain []ledger.Account) error {
	if len(chain) < 2 {
		return errors.Errorf("account chain needs at least 2 accounts, got %d", len(chain))
	}

	for i, acc := range chain {
		if acc.Address == "" {
			return errors.Errorf("account at position %d has no address", i)
		}
		if i > 0 && acc.Index <= chain[i-1].Index {
			return errors.Errorf("account indexes must be strictly increasing at position %d", i)
		}
	}

	return nil
}

// Sweep moves the balance of chain[0] through every account into the
// destination. Operational failures are reported through Result; an error
// is only returned for an invalid chain. Cancelling ctx stops the sweep
// between hops but never inside a transfer.
func (o *Orchestrator) Sweep(ctx context.Context, chain []ledger.Account) (*Result, error) {
	if err := ValidateChain(chain); err != nil {
		return nil, err
	}

	runID := uuid.New().String()
	scanner := o.scanner.withRun(runID)
	executor := o.executor.withRun(runID)
	res := &Result{RunID: runID}

	o.run(ctx, runID, scanner, executor, chain, res)

	// Funds may have moved, so the final state is read back even after an abort.
	if len(res.CompletedHops) > 0 || res.FailedHop != nil {
		o.verify(context.WithoutCancel(ctx), runID, scanner, chain, res)
	}

	var err error
	if res.Aborted {
		err = errors.New(res.AbortReason)
	}
	o.emit(runID, Event{
		Type:    EventSweepFinished,
		Hop:     -1,
		Account: -1,
		Amount:  res.FinalDestinationBalance,
		Err:     err,
		Message: "sweep finished",
	})

	return res, nil
}

func (o *Orchestrator) run(
	ctx context.Context,
	runID string,
	scanner *Scanner,
	executor *Executor,
	chain []ledger.Account,
	res *Result,
) {
	// Ledger calls never observe cancellation; ctx is only consulted between hops.
	work := context.WithoutCancel(ctx)

	res.Initial = scanner.Scan(work, chain)

	initial, err := scanner.Balance(work, chain[0], o.opts.InitialBalanceAttempts)
	if err != nil {
		abort(res, errors.Wrap(err, "initial balance unavailable"))
		return
	}

	if initial <= o.opts.Fee {
		abort(res, errors.Errorf("initial balance %d does not cover the fee %d", initial, o.opts.Fee))
		return
	}

	for i := 0; i < len(chain)-1; i++ {
		if o.stopRequested(ctx, runID, res, i) {
			return
		}

		next := chain[i+1]
		hop, ok := o.runHop(work, runID, scanner, executor, i, chain[i], next.Address, next.Index, res)
		if !ok {
			return
		}
		if hop == nil {
			continue
		}

		if err := o.hopDelay(ctx, runID, i); err != nil {
			o.stop(runID, res, i+1)
			return
		}
	}

	last := len(chain) - 1
	if o.stopRequested(ctx, runID, res, last) {
		return
	}

	o.runHop(work, runID, scanner, executor, last, chain[last], o.opts.Destination, DestinationIndex, res)
}

// runHop transfers everything above the fee from src to the recipient. It
// returns the completed hop, nil when the hop was skipped, and ok=false when
// the sweep has been aborted.
func (o *Orchestrator) runHop(
	ctx context.Context,
	runID string,
	scanner *Scanner,
	executor *Executor,
	index int,
	src ledger.Account,
	to string,
	toIndex int,
	res *Result,
) (*Hop, bool) {
	balance, err := scanner.Balance(ctx, src, scanAttempts)
	if err != nil {
		abort(res, errors.Wrapf(err, "balance of account %d unavailable for hop %d", src.Index, index))
		return nil, false
	}

	if balance <= o.opts.Fee {
		res.Skipped = append(res.Skipped, src.Index)
		o.emit(runID, Event{
			Type:    EventHopSkipped,
			Hop:     index,
			Account: src.Index,
			Address: src.Address,
			To:      to,
			Amount:  balance,
			Message: "insufficient balance for hop, skipping",
		})
		return nil, true
	}

	req := &ledger.TransferRequest{
		From:    src,
		To:      to,
		ToIndex: toIndex,
		Amount:  balance - o.opts.Fee,
	}
	if err := req.Validate(o.opts.Fee, balance); err != nil {
		abort(res, errors.Wrapf(err, "invalid transfer for hop %d", index))
		return nil, false
	}

	o.emit(runID, Event{
		Type:    EventHopStarted,
		Hop:     index,
		Account: src.Index,
		Address: src.Address,
		To:      to,
		Amount:  req.Amount,
	})

	outcome := executor.Execute(ctx, index, req)
	hop := Hop{
		Index:   index,
		From:    src,
		To:      to,
		ToIndex: toIndex,
		Amount:  req.Amount,
		Outcome: outcome,
	}

	if !outcome.Confirmed() {
		res.FailedHop = &hop
		abort(res, errors.Errorf("hop %d failed: %s", index, outcome.Reason))
		return nil, false
	}

	res.CompletedHops = append(res.CompletedHops, hop)

	if residual, err := scanner.Balance(ctx, src, 1); err == nil && residual > 0 {
		o.emit(runID, Event{
			Type:    EventResidualBalance,
			Hop:     index,
			Account: src.Index,
			Address: src.Address,
			Amount:  residual,
			Message: "source account still holds funds after hop",
		})
	}

	return &hop, true
}

func (o *Orchestrator) hopDelay(ctx context.Context, runID string, index int) error {
	delay := o.jitter(o.opts.MinHopDelay, o.opts.MaxHopDelay)
	o.emit(runID, Event{
		Type:    EventHopDelay,
		Hop:     index,
		Account: -1,
		Delay:   delay,
		Message: "waiting before next hop",
	})
	return o.clock.Sleep(ctx, delay)
}

// verify re-scans the chain and reads the destination. Findings are
// reported only and never change the outcome.
func (o *Orchestrator) verify(ctx context.Context, runID string, scanner *Scanner, chain []ledger.Account, res *Result) {
	res.Verification = scanner.Scan(ctx, chain)

	for _, obs := range res.Verification.NonEmpty() {
		o.emit(runID, Event{
			Type:    EventResidualBalance,
			Hop:     -1,
			Account: obs.Account.Index,
			Address: obs.Account.Address,
			Amount:  obs.Balance,
			Message: "account holds a residual balance after the sweep",
		})
	}

	dest := ledger.Account{Index: DestinationIndex, Address: o.opts.Destination}
	if balance, err := scanner.Balance(ctx, dest, scanAttempts); err == nil {
		res.FinalDestinationBalance = balance
		res.DestinationBalanceKnown = true
	}
}

func (o *Orchestrator) stopRequested(ctx context.Context, runID string, res *Result, index int) bool {
	if ctx.Err() == nil {
		return false
	}
	o.stop(runID, res, index)
	return true
}

func (o *Orchestrator) stop(runID string, res *Result, index int) {
	res.Stopped = true
	o.emit(runID, Event{
		Type:    EventSweepStopped,
		Hop:     index,
		Account: -1,
		Message: "stop requested, halting before next hop",
	})
	abort(res, errors.Errorf("stopped before hop %d", index))
}

func abort(res *Result, reason error) {
	res.Aborted = true
	res.AbortReason = reason.Error()
}

func (o *Orchestrator) emit(runID string, ev Event) {
	ev.RunID = runID
	ev.Time = o.clock.Now()
	o.observer.Observe(ev)
}
