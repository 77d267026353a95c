package ledger

import (
	"context"

	"github.com/pkg/errors"
)

// Client is the network boundary of the sweeper. Implementations block until
// the endpoint answers and classify failures with the package error sentinels.
type Client interface {
	// GetBalance returns the balance of address in base units.
	GetBalance(ctx context.Context, address string) (uint64, error)

	// Submit signs and broadcasts a single transfer.
	Submit(ctx context.Context, req *TransferRequest) (TransferID, error)

	// PollConfirmation waits a bounded time for the transfer to be confirmed.
	// ErrConfirmationTimeout means the result is inconclusive, ErrRejected
	// means the ledger recorded the transfer as failed.
	PollConfirmation(ctx context.Context, id TransferID) (Status, error)

	// GetStatus looks the transfer up directly. StatusUnknown is returned when
	// the ledger has no record of it.
	GetStatus(ctx context.Context, id TransferID) (Status, error)
}

// TransferID identifies a submitted transfer (signature or tx hash).
type TransferID string

// Status is the ledger's view of a transfer.
type Status int

const (
	StatusUnknown Status = iota
	StatusPending
	StatusConfirmed
	StatusFinalized
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusConfirmed:
		return "confirmed"
	case StatusFinalized:
		return "finalized"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Settled reports whether the ledger has taken the transfer into effect.
func (s Status) Settled() bool {
	return s == StatusConfirmed || s == StatusFinalized
}

// Account is one entry of the sweep chain. It is loaded once by the key
// management layer and only ever read afterwards.
type Account struct {
	Index      int
	Address    string
	SigningKey string
}

// String never includes the signing key.
func (a Account) String() string {
	return a.Address
}

// TransferRequest moves Amount base units from From to the address To.
// ToIndex is the chain index of the recipient or -1 for an external address.
type TransferRequest struct {
	From    Account
	To      string
	ToIndex int
	Amount  uint64
}

// Validate checks the request against the source balance observed right
// before submission.
func (r *TransferRequest) Validate(fee uint64, balance uint64) error {
	if r.Amount == 0 {
		return errors.New("transfer amount must be positive")
	}

	if r.To == "" {
		return errors.New("transfer recipient is empty")
	}

	if r.Amount > balance || balance-r.Amount < fee {
		return errors.Errorf("transfer of %d plus fee %d exceeds balance %d", r.Amount, fee, balance)
	}

	return nil
}
