package provider

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"marketdata/internal/provider/cache"
	"marketdata/internal/provider/ratelimit"
	"marketdata/internal/quote"
)

// ClientConfig tunes the uniform pipeline around a vendor adapter.
type ClientConfig struct {
	// Limiter bounds outbound calls. Nil disables local rate limiting.
	Limiter *ratelimit.Limiter
	// Freshness is the staleness window applied to realtime quotes during
	// validation. 0 disables the check.
	Freshness time.Duration
	// BatchDelay is the pause between sequential fetches in FetchBatch,
	// for vendors without a native batch endpoint.
	BatchDelay time.Duration
	Logger     *slog.Logger
}

// Client wraps a vendor Adapter behind the uniform provider contract:
// cache lookup, rate-limit acquire, fetch, validate, cache store, in that
// order. A cache hit never consumes a rate-limit permit.
type Client struct {
	adapter Adapter
	cfg     ClientConfig
	quotes  *cache.Cache[quote.Quote]
	bars    *cache.Cache[[]quote.Bar]
	log     *slog.Logger
}

func NewClient(a Adapter, cfg ClientConfig) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		adapter: a,
		cfg:     cfg,
		quotes:  cache.New[quote.Quote](),
		bars:    cache.New[[]quote.Bar](),
		log:     log.With("vendor", a.Name()),
	}
}

func (c *Client) Name() string { return c.adapter.Name() }

// Remaining exposes the local rate budget for quota-aware batch routing.
func (c *Client) Remaining() int {
	if c.cfg.Limiter == nil {
		return int(^uint(0) >> 1)
	}
	return c.cfg.Limiter.Remaining()
}

// ResetAt reports when the next local permit becomes available.
func (c *Client) ResetAt() time.Time {
	if c.cfg.Limiter == nil {
		return time.Now()
	}
	return c.cfg.Limiter.ResetAt()
}

// CacheStats returns cumulative hit/miss counts across both data kinds.
func (c *Client) CacheStats() (hits, misses uint64) {
	qh, qm := c.quotes.Stats()
	bh, bm := c.bars.Stats()
	return qh + bh, qm + bm
}

// CheckSymbol rejects empty or malformed symbols before any I/O.
func CheckSymbol(symbol string) error {
	s := strings.TrimSpace(symbol)
	if s == "" || len(s) > 12 {
		return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	for _, r := range s {
		switch {
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-':
		default:
			return fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
		}
	}
	return nil
}

// FetchQuote returns a validated Quote for symbol, serving from cache while
// fresh. Errors are always one of the package sentinels (wrapped).
func (c *Client) FetchQuote(ctx context.Context, symbol string) (quote.Quote, error) {
	if err := CheckSymbol(symbol); err != nil {
		return quote.Quote{}, err
	}
	key := c.adapter.Name() + ":" + symbol + ":quote"
	if q, ok := c.quotes.Get(key); ok {
		return q, nil
	}

	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Acquire(ctx); err != nil {
			return quote.Quote{}, Cancelled(err)
		}
	}

	q, err := c.adapter.FetchQuote(ctx, symbol)
	if err != nil {
		if ctx.Err() != nil {
			return quote.Quote{}, Cancelled(ctx.Err())
		}
		return quote.Quote{}, err
	}

	now := time.Now().UTC()
	if vs := quote.Violations(q, quote.KindRealtime, c.cfg.Freshness, now); len(vs) > 0 {
		c.log.Warn("quote failed validation", "symbol", symbol, "violations", strings.Join(vs, "; "))
		return quote.Quote{}, fmt.Errorf("%w: %s", ErrMalformedResponse, strings.Join(vs, "; "))
	}

	c.quotes.Set(key, q, c.adapter.TTL(quote.KindRealtime))
	return q, nil
}

// FetchHistory returns bars for symbol, cached per (symbol, kind).
func (c *Client) FetchHistory(ctx context.Context, symbol string, rng quote.Range) ([]quote.Bar, error) {
	if err := CheckSymbol(symbol); err != nil {
		return nil, err
	}
	key := fmt.Sprintf("%s:%s:history:%s:%d", c.adapter.Name(), symbol, rng.Kind, rng.Bars)
	if bars, ok := c.bars.Get(key); ok {
		return bars, nil
	}

	if c.cfg.Limiter != nil {
		if err := c.cfg.Limiter.Acquire(ctx); err != nil {
			return nil, Cancelled(err)
		}
	}

	bars, err := c.adapter.FetchHistory(ctx, symbol, rng)
	if err != nil {
		if ctx.Err() != nil {
			return nil, Cancelled(ctx.Err())
		}
		return nil, err
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("%w: empty history for %s", ErrMalformedResponse, symbol)
	}

	c.bars.Set(key, bars, c.adapter.TTL(rng.Kind))
	return bars, nil
}

// FetchBatch fetches symbols sequentially with an inter-call delay, because
// neither reference vendor offers a batch endpoint. One symbol's failure
// never aborts the rest; cancellation fails the remainder explicitly.
func (c *Client) FetchBatch(ctx context.Context, symbols []string) ([]quote.Quote, []FailedSymbol) {
	quotes := make([]quote.Quote, 0, len(symbols))
	var failed []FailedSymbol

	for i, sym := range symbols {
		if i > 0 && c.cfg.BatchDelay > 0 {
			t := time.NewTimer(c.cfg.BatchDelay)
			select {
			case <-ctx.Done():
				t.Stop()
			case <-t.C:
			}
		}
		if ctx.Err() != nil {
			err := Cancelled(ctx.Err())
			for _, rest := range symbols[i:] {
				failed = append(failed, FailedSymbol{Symbol: rest, Err: err, Reason: err.Error()})
			}
			return quotes, failed
		}
		q, err := c.FetchQuote(ctx, sym)
		if err != nil {
			failed = append(failed, FailedSymbol{Symbol: sym, Err: err, Reason: err.Error()})
			continue
		}
		quotes = append(quotes, q)
	}
	return quotes, failed
}
