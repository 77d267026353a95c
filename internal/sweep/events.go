package sweep

import (
	"time"

	"github.com/rs/zerolog"
	"github/chapool/chain-sweeper/internal/ledger"
)

// EventType names one entry of the audit stream.
type EventType string

const (
	EventBalanceObserved     EventType = "balance_observed"
	EventBalanceUnknown      EventType = "balance_unknown"
	EventBalanceRetry        EventType = "balance_retry"
	EventHopStarted          EventType = "hop_started"
	EventHopSkipped          EventType = "hop_skipped"
	EventSubmitted           EventType = "submitted"
	EventSubmitFailed        EventType = "submit_failed"
	EventRateLimited         EventType = "rate_limited"
	EventConfirmationPending EventType = "confirmation_pending"
	EventConfirmed           EventType = "confirmed"
	EventConfirmedByLookup   EventType = "confirmed_by_lookup"
	EventRejected            EventType = "rejected"
	EventUnconfirmed         EventType = "unconfirmed"
	EventRetryScheduled      EventType = "retry_scheduled"
	EventHopFailed           EventType = "hop_failed"
	EventHopDelay            EventType = "hop_delay"
	EventResidualBalance     EventType = "residual_balance"
	EventSweepStopped        EventType = "sweep_stopped"
	EventSweepFinished       EventType = "sweep_finished"
)

// Event is a single audit record. Fields that do not apply are left zero;
// Hop and Account are -1 when they do not apply.
type Event struct {
	RunID      string
	Type       EventType
	Time       time.Time
	Hop        int
	Account    int
	Address    string
	To         string
	Amount     uint64
	TransferID ledger.TransferID
	Attempt    int
	Delay      time.Duration
	Status     ledger.Status
	Err        error
	Message    string
}

// Observer receives the audit stream. Observe is called synchronously from
// the sweep's single thread of control.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Observers fans an event out to every member.
type Observers []Observer

func (o Observers) Observe(ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ev)
		}
	}
}

type nopObserver struct{}

func (nopObserver) Observe(Event) {}

// LogObserver writes every event as a structured zerolog entry.
type LogObserver struct {
	Logger   zerolog.Logger
	Decimals int32
}

// NewLogObserver logs events to logger, rendering amounts with decimals.
func NewLogObserver(logger zerolog.Logger, decimals int32) *LogObserver {
	return &LogObserver{Logger: logger, Decimals: decimals}
}

func (o *LogObserver) Observe(ev Event) {
	var entry *zerolog.Event
	switch ev.Type {
	case EventSubmitFailed, EventRateLimited, EventUnconfirmed, EventRejected,
		EventBalanceUnknown, EventResidualBalance, EventBalanceRetry, EventRetryScheduled:
		entry = o.Logger.Warn()
	case EventHopFailed:
		entry = o.Logger.Error()
	case EventConfirmationPending, EventHopDelay:
		entry = o.Logger.Debug()
	default:
		entry = o.Logger.Info()
	}

	entry = entry.
		Str("run_id", ev.RunID).
		Str("event", string(ev.Type))

	if ev.Hop >= 0 {
		entry = entry.Int("hop", ev.Hop)
	}
	if ev.Account >= 0 {
		entry = entry.Int("account", ev.Account)
	}
	if ev.Address != "" {
		entry = entry.Str("address", ev.Address)
	}
	if ev.To != "" {
		entry = entry.Str("to", ev.To)
	}
	if ev.Amount > 0 || ev.Type == EventBalanceObserved {
		entry = entry.
			Uint64("amount_base_units", ev.Amount).
			Str("amount", ledger.FormatAmount(ev.Amount, o.Decimals))
	}
	if ev.TransferID != "" {
		entry = entry.Str("transfer_id", string(ev.TransferID))
	}
	if ev.Attempt > 0 {
		entry = entry.Int("attempt", ev.Attempt)
	}
	if ev.Delay > 0 {
		entry = entry.Dur("delay", ev.Delay)
	}
	if ev.Status != ledger.StatusUnknown {
		entry = entry.Str("status", ev.Status.String())
	}
	if ev.Err != nil {
		entry = entry.Err(ev.Err)
	}

	msg := ev.Message
	if msg == "" {
		msg = string(ev.Type)
	}
	entry.Msg("Sweep: " + msg)
}
