package provider

import (
	"context"
	"errors"
	"fmt"
)

// Error taxonomy shared by every provider and the aggregator. Adapters
// classify transport and payload failures into these sentinels; callers
// match with errors.Is and decide retry or backoff policy themselves.
var (
	// ErrInvalidSymbol rejects empty or malformed input before any I/O.
	ErrInvalidSymbol = errors.New("invalid symbol")
	// ErrRateLimited means the local budget or the vendor's quota is exhausted.
	ErrRateLimited = errors.New("rate limited")
	// ErrVendorDown covers network failures and non-2xx responses.
	ErrVendorDown = errors.New("vendor down")
	// ErrMalformedResponse covers unparseable or semantically invalid payloads.
	ErrMalformedResponse = errors.New("malformed response")
	// ErrTransient covers retryable failures that are neither of the above.
	ErrTransient = errors.New("transient failure")
	// ErrNoProviderAvailable means every candidate was open-circuit or failed.
	ErrNoProviderAvailable = errors.New("no provider available")
	// ErrCancelled means the caller gave up, not that a vendor failed.
	ErrCancelled = errors.New("request cancelled")
)

// Cancelled wraps a context error so callers can distinguish "I gave up"
// from a provider failure with errors.Is(err, ErrCancelled).
func Cancelled(err error) error {
	return fmt.Errorf("%w: %v", ErrCancelled, err)
}

// IsCancellation reports whether err stems from context cancellation,
// whichever layer it bubbled up from.
func IsCancellation(err error) bool {
	return errors.Is(err, ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
