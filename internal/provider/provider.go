package provider

import (
	"context"
	"time"

	"marketdata/internal/quote"
)

// Adapter is the vendor-specific half of a provider: request construction
// and payload mapping for one upstream market-data API. Everything above it
// (cache, rate limiting, validation, batching) is uniform and lives in Client.
type Adapter interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (quote.Quote, error)
	FetchHistory(ctx context.Context, symbol string, rng quote.Range) ([]quote.Bar, error)
	// TTL reports how long data of the given kind stays fresh for this vendor.
	TTL(kind quote.Kind) time.Duration
}

// FailedSymbol pairs a symbol with the error that sank it inside a batch.
type FailedSymbol struct {
	Symbol string `json:"symbol"`
	Err    error  `json:"-"`
	Reason string `json:"reason"`
}
