package sweep

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github/chapool/chain-sweeper/internal/ledger"
)

// OutcomeKind classifies a transfer attempt or a whole transfer.
type OutcomeKind int

const (
	// OutcomeConfirmed means the ledger recorded the transfer.
	OutcomeConfirmed OutcomeKind = iota + 1
	// OutcomeUnconfirmed means neither polling nor the direct lookup could
	// tell whether the transfer landed.
	OutcomeUnconfirmed
	// OutcomeFailed means the transfer definitely did not take effect.
	OutcomeFailed
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeUnconfirmed:
		return "unconfirmed"
	case OutcomeFailed:
		return "failed"
	default:
		return "invalid"
	}
}

// Attempt records one submission of a transfer. ID is empty when the
// submission itself was refused.
type Attempt struct {
	Number int
	ID     ledger.TransferID
	Kind   OutcomeKind
	Err    error
}

// Outcome is the terminal result of TransferExecutor for one transfer:
// Confirmed with ID set, or Failed with Reason set. Attempts keeps every
// transfer id that was broadcast so unconfirmed ones can be reconciled.
type Outcome struct {
	Kind     OutcomeKind
	ID       ledger.TransferID
	Reason   string
	Attempts []Attempt
}

// Confirmed reports whether the transfer took effect.
func (o Outcome) Confirmed() bool {
	return o.Kind == OutcomeConfirmed
}

// RetryPolicy bounds the submit and confirm cycle of one transfer.
type RetryPolicy struct {
	// MaxAttempts is the ceiling of submissions per transfer.
	MaxAttempts int
	// InitialDelay and MaxDelay shape the exponential rate-limit backoff.
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// RetryDelay is the constant wait before a new attempt after any other failure.
	RetryDelay time.Duration
	// ConfirmPolls is the number of confirmation polls per attempt.
	ConfirmPolls int
	// ConfirmInterval is the wait between confirmation polls.
	ConfirmInterval time.Duration
}

// DefaultRetryPolicy returns the production defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:     5,
		InitialDelay:    3 * time.Second,
		MaxDelay:        9 * time.Second,
		RetryDelay:      3 * time.Second,
		ConfirmPolls:    3,
		ConfirmInterval: 5 * time.Second,
	}
}

// Validate rejects policies the executor cannot run.
func (p RetryPolicy) Validate() error {
	switch {
	case p.MaxAttempts < 1:
		return errors.New("retry ceiling must be at least 1")
	case p.ConfirmPolls < 1:
		return errors.New("confirmation polls must be at least 1")
	case p.InitialDelay < 0 || p.MaxDelay < 0 || p.RetryDelay < 0 || p.ConfirmInterval < 0:
		return errors.New("retry delays must not be negative")
	case p.MaxDelay < p.InitialDelay:
		return errors.New("max backoff delay is below the initial delay")
	}
	return nil
}

// Backoff returns min(InitialDelay * 2^attemptsUsed, MaxDelay).
func (p RetryPolicy) Backoff(attemptsUsed int) time.Duration {
	delay := p.InitialDelay
	for i := 0; i < attemptsUsed; i++ {
		if delay >= p.MaxDelay || delay > p.MaxDelay/2 {
			return p.MaxDelay
		}
		delay *= 2
	}
	return min(delay, p.MaxDelay)
}

// RetryState is scoped to one transfer and discarded with its outcome.
type RetryState struct {
	AttemptsUsed int
	NextDelay    time.Duration
}

type confirmResult int

const (
	confirmSettled confirmResult = iota
	confirmInconclusive
	confirmRejected
)

// Executor drives a single transfer to a terminal outcome.
type Executor struct {
	client   ledger.Client
	policy   RetryPolicy
	clock    Clock
	observer Observer
	runID    string
}

// NewExecutor returns an Executor submitting through client.
func NewExecutor(client ledger.Client, policy RetryPolicy, clock Clock, observer Observer) (*Executor, error) {
	if err := policy.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid retry policy")
	}
	if clock == nil {
		clock = RealClock()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Executor{
		client:   client,
		policy:   policy,
		clock:    clock,
		observer: observer,
	}, nil
}

func (e *Executor) withRun(runID string) *Executor {
	clone := *e
	clone.runID = runID
	return &clone
}

// Execute submits req and follows it until it is confirmed or the retry
// ceiling is reached. It is never interrupted by cancellation of ctx, so a
// transfer is not abandoned half way.
func (e *Executor) Execute(ctx context.Context, hop int, req *ledger.TransferRequest) Outcome {
	ctx = context.WithoutCancel(ctx)

	var (
		state   RetryState
		out     Outcome
		lastErr error
	)

	for state.AttemptsUsed < e.policy.MaxAttempts {
		number := state.AttemptsUsed + 1

		id, err := e.client.Submit(ctx, req)
		if err != nil {
			err = ledger.Classify(err)
			lastErr = errors.Wrapf(err, "submission attempt %d failed", number)
			out.Attempts = append(out.Attempts, Attempt{Number: number, Kind: OutcomeFailed, Err: err})

			rateLimited := ledger.IsRateLimited(err)
			if rateLimited {
				state.NextDelay = e.policy.Backoff(state.AttemptsUsed)
			} else {
				state.NextDelay = e.policy.RetryDelay
			}
			state.AttemptsUsed++

			evType := EventSubmitFailed
			if rateLimited {
				evType = EventRateLimited
			}
			e.emit(hop, req, Event{Type: evType, Attempt: number, Delay: state.NextDelay, Err: err})

			if state.AttemptsUsed >= e.policy.MaxAttempts {
				break
			}
			e.wait(ctx, hop, req, number, state.NextDelay)
			continue
		}

		e.emit(hop, req, Event{Type: EventSubmitted, Attempt: number, TransferID: id})

		result, err := e.confirm(ctx, hop, req, id, number)
		switch result {
		case confirmSettled:
			out.Attempts = append(out.Attempts, Attempt{Number: number, ID: id, Kind: OutcomeConfirmed})
			out.Kind = OutcomeConfirmed
			out.ID = id
			return out
		case confirmRejected:
			lastErr = errors.Wrapf(err, "transfer %s rejected", id)
			out.Attempts = append(out.Attempts, Attempt{Number: number, ID: id, Kind: OutcomeFailed, Err: err})
		default:
			lastErr = errors.Errorf("transfer %s not confirmed after %d polls and status lookup", id, e.policy.ConfirmPolls)
			out.Attempts = append(out.Attempts, Attempt{Number: number, ID: id, Kind: OutcomeUnconfirmed, Err: err})
			e.emit(hop, req, Event{Type: EventUnconfirmed, Attempt: number, TransferID: id, Err: err})
		}

		state.AttemptsUsed++
		if state.AttemptsUsed >= e.policy.MaxAttempts {
			break
		}
		state.NextDelay = e.policy.RetryDelay
		e.wait(ctx, hop, req, number, state.NextDelay)
	}

	out.Kind = OutcomeFailed
	if lastErr != nil {
		out.Reason = lastErr.Error()
	}
	e.emit(hop, req, Event{
		Type:    EventHopFailed,
		Attempt: state.AttemptsUsed,
		Err:     lastErr,
		Message: "transfer failed after reaching the retry ceiling",
	})

	return out
}

// confirm polls up to ConfirmPolls times and falls back to a direct status
// lookup when polling stays inconclusive.
func (e *Executor) confirm(
	ctx context.Context,
	hop int,
	req *ledger.TransferRequest,
	id ledger.TransferID,
	attempt int,
) (confirmResult, error) {
	var lastErr error

	for poll := 1; poll <= e.policy.ConfirmPolls; poll++ {
		status, err := e.client.PollConfirmation(ctx, id)
		if err == nil && status.Settled() {
			e.emit(hop, req, Event{Type: EventConfirmed, Attempt: attempt, TransferID: id, Status: status})
			return confirmSettled, nil
		}

		if errors.Is(err, ledger.ErrRejected) || status == ledger.StatusFailed {
			if err == nil {
				err = ledger.ErrRejected
			}
			e.emit(hop, req, Event{Type: EventRejected, Attempt: attempt, TransferID: id, Status: status, Err: err})
			return confirmRejected, err
		}

		if err == nil {
			err = errors.Wrapf(ledger.ErrConfirmationTimeout, "status still %s", status)
		}
		lastErr = ledger.Classify(err)

		if poll < e.policy.ConfirmPolls {
			e.emit(hop, req, Event{
				Type:       EventConfirmationPending,
				Attempt:    attempt,
				TransferID: id,
				Delay:      e.policy.ConfirmInterval,
				Err:        lastErr,
				Message:    "confirmation inconclusive, polling again",
			})
			_ = e.clock.Sleep(ctx, e.policy.ConfirmInterval)
		}
	}

	status, err := e.client.GetStatus(ctx, id)
	switch {
	case err != nil:
		return confirmInconclusive, errors.Wrap(ledger.Classify(err), "status lookup failed")
	case status.Settled():
		e.emit(hop, req, Event{
			Type:       EventConfirmedByLookup,
			Attempt:    attempt,
			TransferID: id,
			Status:     status,
			Message:    "transfer found settled after confirmation timeout",
		})
		return confirmSettled, nil
	case status == ledger.StatusFailed:
		e.emit(hop, req, Event{Type: EventRejected, Attempt: attempt, TransferID: id, Status: status})
		return confirmRejected, ledger.ErrRejected
	default:
		return confirmInconclusive, lastErr
	}
}

func (e *Executor) wait(ctx context.Context, hop int, req *ledger.TransferRequest, attempt int, delay time.Duration) {
	e.emit(hop, req, Event{
		Type:    EventRetryScheduled,
		Attempt: attempt,
		Delay:   delay,
		Message: "retrying transfer as a new attempt",
	})
	_ = e.clock.Sleep(ctx, delay)
}

func (e *Executor) emit(hop int, req *ledger.TransferRequest, ev Event) {
	ev.RunID = e.runID
	ev.Time = e.clock.Now()
	ev.Hop = hop
	ev.Account = req.From.Index
	ev.Address = req.From.Address
	ev.To = req.To
	ev.Amount = req.Amount
	e.observer.Observe(ev)
}
