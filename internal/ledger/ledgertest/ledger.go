// Package ledgertest provides a scripted in-memory ledger for tests.
package ledgertest

import (
	"context"
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github/chapool/chain-sweeper/internal/ledger"
)

// Submission is one accepted call to Submit.
type Submission struct {
	ID      ledger.TransferID
	From    string
	To      string
	ToIndex int
	Amount  uint64
	Landed  bool
}

type transfer struct {
	submission Submission
	status     ledger.Status
}

// Ledger is an account-based ledger kept in memory. Transfers that land take
// effect immediately at submission; everything else is scripted per call.
type Ledger struct {
	mu sync.Mutex

	fee         uint64
	balances    map[string]uint64
	transfers   map[ledger.TransferID]*transfer
	submissions []Submission
	calls       []string
	seq         int

	submitErrs  []error
	pollResults []error
	statuses    []ledger.Status
	balanceErrs map[string][]error
	drops       int
}

// New returns a ledger charging fee per landed transfer.
func New(fee uint64) *Ledger {
	return &Ledger{
		fee:         fee,
		balances:    make(map[string]uint64),
		transfers:   make(map[ledger.TransferID]*transfer),
		balanceErrs: make(map[string][]error),
	}
}

// SetBalance overwrites the balance of address.
func (l *Ledger) SetBalance(address string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[address] = amount
}

// Balance reads a balance without recording a call.
func (l *Ledger) Balance(address string) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[address]
}

// FailSubmit queues errors returned by subsequent Submit calls, one per call.
// A nil entry lets that call through.
func (l *Ledger) FailSubmit(errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.submitErrs = append(l.submitErrs, errs...)
}

// ScriptPolls queues results of subsequent PollConfirmation calls. A nil
// entry reports the real status of the transfer.
func (l *Ledger) ScriptPolls(results ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pollResults = append(l.pollResults, results...)
}

// ScriptStatus queues results of subsequent GetStatus calls.
func (l *Ledger) ScriptStatus(statuses ...ledger.Status) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.statuses = append(l.statuses, statuses...)
}

// FailBalance queues errors returned by GetBalance for address.
func (l *Ledger) FailBalance(address string, errs ...error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balanceErrs[address] = append(l.balanceErrs[address], errs...)
}

// Drop makes the next n accepted submissions vanish: they get an id but
// never land on the ledger.
func (l *Ledger) Drop(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.drops += n
}

// Submissions returns the accepted submissions in order.
func (l *Ledger) Submissions() []Submission {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Submission, len(l.submissions))
	copy(out, l.submissions)
	return out
}

// Calls returns a log of every client call in order.
func (l *Ledger) Calls() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, len(l.calls))
	copy(out, l.calls)
	return out
}

// SubmitCalls counts Submit calls including refused ones.
func (l *Ledger) SubmitCalls() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, c := range l.calls {
		if len(c) >= 6 && c[:6] == "submit" {
			n++
		}
	}
	return n
}

func (l *Ledger) GetBalance(_ context.Context, address string) (uint64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, "balance "+address)

	if queue := l.balanceErrs[address]; len(queue) > 0 {
		err := queue[0]
		l.balanceErrs[address] = queue[1:]
		if err != nil {
			return 0, err
		}
	}

	return l.balances[address], nil
}

func (l *Ledger) Submit(_ context.Context, req *ledger.TransferRequest) (ledger.TransferID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, fmt.Sprintf("submit %s->%s %d", req.From.Address, req.To, req.Amount))

	if len(l.submitErrs) > 0 {
		err := l.submitErrs[0]
		l.submitErrs = l.submitErrs[1:]
		if err != nil {
			return "", err
		}
	}

	l.seq++
	id := ledger.TransferID(fmt.Sprintf("tx-%d", l.seq))
	sub := Submission{
		ID:      id,
		From:    req.From.Address,
		To:      req.To,
		ToIndex: req.ToIndex,
		Amount:  req.Amount,
	}

	tr := &transfer{status: ledger.StatusUnknown}
	switch {
	case l.drops > 0:
		l.drops--
	case l.balances[req.From.Address] < req.Amount+l.fee:
		tr.status = ledger.StatusFailed
	default:
		l.balances[req.From.Address] -= req.Amount + l.fee
		l.balances[req.To] += req.Amount
		tr.status = ledger.StatusFinalized
		sub.Landed = true
	}

	tr.submission = sub
	l.transfers[id] = tr
	l.submissions = append(l.submissions, sub)

	return id, nil
}

func (l *Ledger) PollConfirmation(_ context.Context, id ledger.TransferID) (ledger.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, "poll "+string(id))

	if len(l.pollResults) > 0 {
		err := l.pollResults[0]
		l.pollResults = l.pollResults[1:]
		if err != nil {
			return ledger.StatusPending, err
		}
	}

	tr, ok := l.transfers[id]
	if !ok {
		return ledger.StatusUnknown, errors.Errorf("unknown transfer %s", id)
	}

	switch tr.status {
	case ledger.StatusFailed:
		return ledger.StatusFailed, errors.Wrap(ledger.ErrRejected, "insufficient funds")
	case ledger.StatusUnknown:
		return ledger.StatusPending, ledger.ErrConfirmationTimeout
	default:
		return tr.status, nil
	}
}

func (l *Ledger) GetStatus(_ context.Context, id ledger.TransferID) (ledger.Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.calls = append(l.calls, "status "+string(id))

	if len(l.statuses) > 0 {
		status := l.statuses[0]
		l.statuses = l.statuses[1:]
		return status, nil
	}

	tr, ok := l.transfers[id]
	if !ok {
		return ledger.StatusUnknown, nil
	}

	return tr.status, nil
}
