package ledger

import (
	"context"
	"fmt"
	"io"
	"net"
	"regexp"

	"github.com/pkg/errors"
)

var (
	// ErrRateLimited is returned when the endpoint refused the request under load.
	ErrRateLimited = errors.New("rate limited")
	// ErrTransient is returned when the endpoint could not be reached.
	ErrTransient = errors.New("transient network error")
	// ErrConfirmationTimeout is returned when confirmation could not be observed in time.
	ErrConfirmationTimeout = errors.New("confirmation timed out")
	// ErrRejected is returned when the ledger recorded the transfer as failed.
	ErrRejected = errors.New("transfer rejected")
)

// Status codes only count when they stand in an HTTP status position, so
// digits inside amounts, nonces or slots never match.
var (
	rateLimitPattern = regexp.MustCompile(
		`(?i)(status(?: code)?:? *429\b|\b429 too many requests|^429\b|\bhttp(?:/[\d.]+)? 429\b|too many requests|rate[ -]?limit)`)
	transientPattern = regexp.MustCompile(
		`(?i)(status(?: code)?:? *50[234]\b|\b50[234] (?:bad gateway|service unavailable|gateway time-?out)|^50[234]\b|` +
			`\bhttp(?:/[\d.]+)? 50[234]\b|bad gateway|service unavailable|connection refused|connection reset|` +
			`no such host|i/o timeout|\btimeout\b|\beof\b)`)
)

// Classify maps a raw transport error onto the package sentinels. Errors that
// already carry a sentinel and errors nothing matches are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	if IsRateLimited(err) || errors.Is(err, ErrTransient) ||
		errors.Is(err, ErrConfirmationTimeout) || errors.Is(err, ErrRejected) {
		return err
	}

	msg := err.Error()
	if rateLimitPattern.MatchString(msg) {
		return fmt.Errorf("%w: %w", ErrRateLimited, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	if transientPattern.MatchString(msg) {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}

	return err
}

// IsRateLimited reports whether err signals a rate-limit refusal.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsTransient reports whether err signals an unreachable endpoint.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}
