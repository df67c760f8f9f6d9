package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketwatcher/internal/settings"
	"marketwatcher/internal/watch"
)

// RawListing is one marketplace search hit before filtering and
// reconciliation.
type RawListing struct {
	ListingID string
	Title     string
	Price     decimal.Decimal
	Location  string
	URL       string
	ImageURL  string
}

// Collector retrieves raw listings for a watcher's search. One implementation
// exists per marketplace access mode.
type Collector interface {
	Collect(ctx context.Context, w watch.Watcher, creds settings.Credentials) ([]RawListing, error)
}

// FailureKind distinguishes why a collection failed. Callers only need
// "failed", but logs and retries care about the kind.
type FailureKind string

const (
	FailureAuth    FailureKind = "auth"
	FailureParse   FailureKind = "parse"
	FailureNetwork FailureKind = "network"
)

// Error wraps a collection failure with its kind.
type Error struct {
	Kind FailureKind
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("collect (%s): %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func authErr(err error) error    { return &Error{Kind: FailureAuth, Err: err} }
func parseErr(err error) error   { return &Error{Kind: FailureParse, Err: err} }
func networkErr(err error) error { return &Error{Kind: FailureNetwork, Err: err} }

// withRetry runs fn up to attempts times, sleeping with exponential backoff
// between failures. Only network failures are retried; auth and parse
// failures will not heal on their own.
func withRetry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	if base <= 0 {
		base = 500 * time.Millisecond
	}

	var err error
	delay := base
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if ce, ok := err.(*Error); ok && ce.Kind != FailureNetwork {
			return err
		}
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		delay *= 2
	}
	return err
}
