// Package aggregate orchestrates multiple provider clients behind one
// consumer-facing API: priority-ordered failover, circuit-breaker routing,
// cross-vendor reconciliation and running statistics.
package aggregate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"marketdata/internal/health"
	"marketdata/internal/provider"
	"marketdata/internal/quote"
)

// Provider is what the aggregator needs from each vendor client.
// *provider.Client satisfies it.
type Provider interface {
	Name() string
	FetchQuote(ctx context.Context, symbol string) (quote.Quote, error)
	FetchHistory(ctx context.Context, symbol string, rng quote.Range) ([]quote.Bar, error)
	FetchBatch(ctx context.Context, symbols []string) ([]quote.Quote, []provider.FailedSymbol)
	Remaining() int
	CacheStats() (hits, misses uint64)
}

// QualityObserver receives data-quality reports off the request path.
type QualityObserver func(symbol string, rep QualityReport)

type Config struct {
	// Providers in priority order; the first is the primary.
	Providers []Provider
	// Health is consulted before each candidate and updated after.
	Health *health.Tracker
	// Policy tunes reconciliation thresholds.
	Policy ReconcilePolicy
	// CrossCheckRate in (0,1] samples that fraction of successful quote
	// lookups for a secondary-vendor cross-check. 0 disables it.
	CrossCheckRate float64
	// MaxBatchConcurrency bounds parallel per-vendor batch groups.
	MaxBatchConcurrency int
	Logger              *slog.Logger
	// OnQuality observers are invoked fire-and-forget per report.
	OnQuality []QualityObserver
}

// Aggregator is the component consumers call. It never returns a
// partially validated quote: callers see either one valid Quote from some
// vendor or a typed error.
type Aggregator struct {
	providers []Provider
	health    *health.Tracker
	policy    ReconcilePolicy
	crossRate float64
	batchConc int
	log       *slog.Logger
	onQuality []QualityObserver
	stats     *counters
}

func New(cfg Config) (*Aggregator, error) {
	if len(cfg.Providers) == 0 {
		return nil, errors.New("aggregate: at least one provider required")
	}
	if cfg.Health == nil {
		return nil, errors.New("aggregate: health tracker required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	conc := cfg.MaxBatchConcurrency
	if conc <= 0 {
		conc = len(cfg.Providers)
	}
	return &Aggregator{
		providers: cfg.Providers,
		health:    cfg.Health,
		policy:    cfg.Policy.withDefaults(),
		crossRate: cfg.CrossCheckRate,
		batchConc: conc,
		log:       log,
		onQuality: cfg.OnQuality,
		stats:     newCounters(),
	}, nil
}

// GetQuote returns one validated quote for symbol, trying providers in
// priority order and skipping open circuits. Fallback depth is bounded by
// the provider list; there is no retry loop.
func (a *Aggregator) GetQuote(ctx context.Context, symbol string) (quote.Quote, error) {
	a.stats.request()
	q, used, err := a.fetchQuoteFailover(ctx, symbol)
	if err != nil {
		a.stats.failure()
		return quote.Quote{}, err
	}
	a.stats.success(q.Vendor, used > 0)

	if a.crossRate > 0 && rand.Float64() < a.crossRate {
		if alt, ok := a.crossCheck(ctx, symbol, q); ok {
			q = alt
		}
	}
	return q, nil
}

// fetchQuoteFailover walks the candidate list once. It returns the index
// of the provider that served, for failover accounting.
func (a *Aggregator) fetchQuoteFailover(ctx context.Context, symbol string) (quote.Quote, int, error) {
	if err := provider.CheckSymbol(symbol); err != nil {
		return quote.Quote{}, 0, err
	}
	var lastErr error
	for i, p := range a.providers {
		if ctx.Err() != nil {
			return quote.Quote{}, 0, provider.Cancelled(ctx.Err())
		}
		if a.health.IsOpen(p.Name()) {
			a.log.Debug("skipping open circuit", "vendor", p.Name(), "symbol", symbol)
			continue
		}
		q, err := p.FetchQuote(ctx, symbol)
		if err != nil {
			if provider.IsCancellation(err) {
				return quote.Quote{}, 0, provider.Cancelled(err)
			}
			a.health.RecordFailure(p.Name(), err)
			a.log.Warn("provider failed, falling through", "vendor", p.Name(), "symbol", symbol, "err", err)
			lastErr = err
			continue
		}
		a.health.RecordSuccess(p.Name())
		return q, i, nil
	}
	if lastErr != nil {
		return quote.Quote{}, 0, fmt.Errorf("%w: %v", provider.ErrNoProviderAvailable, lastErr)
	}
	return quote.Quote{}, 0, provider.ErrNoProviderAvailable
}

// crossCheck fetches the same symbol from the next healthy vendor and
// reconciles the two answers. The reconciled winner replaces the original
// on success; any discrepancy is reported, never surfaced as an error.
func (a *Aggregator) crossCheck(ctx context.Context, symbol string, got quote.Quote) (quote.Quote, bool) {
	for _, p := range a.providers {
		if p.Name() == got.Vendor || a.health.IsOpen(p.Name()) {
			continue
		}
		second, err := p.FetchQuote(ctx, symbol)
		if err != nil {
			a.health.RecordFailure(p.Name(), err)
			return quote.Quote{}, false
		}
		a.health.RecordSuccess(p.Name())

		winner, rep := Reconcile(got, second, a.providers[0].Name(), a.policy)
		if rep.HasDiscrepancies {
			a.stats.discrepancy()
			a.log.Warn("cross-vendor discrepancy",
				"symbol", symbol, "issues", rep.Issues, "recommended", rep.RecommendedVendor)
		}
		a.emitQuality(symbol, rep)
		return winner, true
	}
	return quote.Quote{}, false
}

func (a *Aggregator) emitQuality(symbol string, rep QualityReport) {
	for _, obs := range a.onQuality {
		obs(symbol, rep)
	}
}

// GetHistory returns bars for symbol with the same bounded failover as
// GetQuote.
func (a *Aggregator) GetHistory(ctx context.Context, symbol string, rng quote.Range) ([]quote.Bar, error) {
	a.stats.request()
	if err := provider.CheckSymbol(symbol); err != nil {
		a.stats.failure()
		return nil, err
	}
	var lastErr error
	for i, p := range a.providers {
		if ctx.Err() != nil {
			a.stats.failure()
			return nil, provider.Cancelled(ctx.Err())
		}
		if a.health.IsOpen(p.Name()) {
			continue
		}
		bars, err := p.FetchHistory(ctx, symbol, rng)
		if err != nil {
			if provider.IsCancellation(err) {
				a.stats.failure()
				return nil, provider.Cancelled(err)
			}
			a.health.RecordFailure(p.Name(), err)
			lastErr = err
			continue
		}
		a.health.RecordSuccess(p.Name())
		a.stats.success(p.Name(), i > 0)
		return bars, nil
	}
	a.stats.failure()
	if lastErr != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrNoProviderAvailable, lastErr)
	}
	return nil, provider.ErrNoProviderAvailable
}

// GetBatchQuotes partitions symbols across healthy vendors by remaining
// local quota, primary first with overflow routed onward, and fetches the
// groups concurrently. One symbol's failure never sinks the batch.
func (a *Aggregator) GetBatchQuotes(ctx context.Context, symbols []string) ([]quote.Quote, []provider.FailedSymbol) {
	groups := a.partition(symbols)
	if len(groups) == 0 {
		failed := make([]provider.FailedSymbol, 0, len(symbols))
		for _, s := range symbols {
			failed = append(failed, provider.FailedSymbol{
				Symbol: s,
				Err:    provider.ErrNoProviderAvailable,
				Reason: provider.ErrNoProviderAvailable.Error(),
			})
		}
		return nil, failed
	}

	var (
		mu     sync.Mutex
		quotes []quote.Quote
		failed []provider.FailedSymbol
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.batchConc)
	for p, syms := range groups {
		g.Go(func() error {
			qs, fails := a.fetchGroup(gctx, p, syms)
			mu.Lock()
			quotes = append(quotes, qs...)
			failed = append(failed, fails...)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return quotes, failed
}

// partition assigns each symbol to the first healthy provider with quota
// left, spilling overflow to the next candidate. When every healthy
// vendor is out of quota the symbol still goes to the lowest-priority
// healthy one; its limiter will pace the call.
func (a *Aggregator) partition(symbols []string) map[Provider][]string {
	type candidate struct {
		p     Provider
		quota int
	}
	var healthy []candidate
	for _, p := range a.providers {
		if !a.health.IsOpen(p.Name()) {
			healthy = append(healthy, candidate{p: p, quota: p.Remaining()})
		}
	}
	if len(healthy) == 0 {
		return nil
	}

	groups := make(map[Provider][]string, len(healthy))
	for _, sym := range symbols {
		assigned := false
		for i := range healthy {
			if healthy[i].quota > 0 {
				healthy[i].quota--
				groups[healthy[i].p] = append(groups[healthy[i].p], sym)
				assigned = true
				break
			}
		}
		if !assigned {
			last := healthy[len(healthy)-1]
			groups[last.p] = append(groups[last.p], sym)
		}
	}
	return groups
}

// fetchGroup runs one vendor's share of a batch, retrying each failed
// symbol once through the full failover path.
func (a *Aggregator) fetchGroup(ctx context.Context, p Provider, symbols []string) ([]quote.Quote, []provider.FailedSymbol) {
	a.stats.requestN(len(symbols))
	quotes, fails := p.FetchBatch(ctx, symbols)
	for _, q := range quotes {
		a.health.RecordSuccess(p.Name())
		a.stats.success(q.Vendor, false)
	}

	var failed []provider.FailedSymbol
	for _, f := range fails {
		if provider.IsCancellation(f.Err) || errors.Is(f.Err, provider.ErrInvalidSymbol) {
			a.stats.failure()
			failed = append(failed, f)
			continue
		}
		a.health.RecordFailure(p.Name(), f.Err)
		// One bounded retry via the normal failover path.
		q, _, err := a.fetchQuoteFailover(ctx, f.Symbol)
		if err != nil {
			a.stats.failure()
			failed = append(failed, provider.FailedSymbol{Symbol: f.Symbol, Err: err, Reason: err.Error()})
			continue
		}
		a.stats.success(q.Vendor, true)
		quotes = append(quotes, q)
	}
	return quotes, failed
}

// Validate applies the invariant checks the provider pipeline enforces,
// for callers holding quotes from elsewhere.
func (a *Aggregator) Validate(q quote.Quote) bool {
	return quote.Valid(q, quote.KindRealtime, 0, time.Now().UTC())
}

// Stats returns a snapshot safe to read concurrently with in-flight
// aggregations. Cache counters are summed across providers at snapshot
// time.
func (a *Aggregator) Stats() Stats {
	s := a.stats.snapshot()
	for _, p := range a.providers {
		h, m := p.CacheStats()
		s.CacheHits += h
		s.CacheMisses += m
	}
	return s
}

// Health exposes the tracker snapshot for observability surfaces.
func (a *Aggregator) Health() []health.VendorHealth {
	return a.health.Snapshot()
}
