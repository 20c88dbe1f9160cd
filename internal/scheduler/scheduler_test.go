package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/aggregate"
	"marketdata/internal/health"
	"marketdata/internal/provider"
	"marketdata/internal/quote"
)

type stubProvider struct{}

func (stubProvider) Name() string                 { return "stub" }
func (stubProvider) Remaining() int               { return 100 }
func (stubProvider) CacheStats() (uint64, uint64) { return 0, 0 }

func (stubProvider) FetchQuote(ctx context.Context, symbol string) (quote.Quote, error) {
	p := decimal.RequireFromString("10.00")
	return quote.Quote{
		Symbol: symbol, Price: p, Open: p, High: p, Low: p, PrevClose: p,
		Volume: 1, Timestamp: time.Now().UTC(), Vendor: "stub",
	}, nil
}

func (stubProvider) FetchHistory(ctx context.Context, symbol string, rng quote.Range) ([]quote.Bar, error) {
	return nil, provider.ErrMalformedResponse
}

func (s stubProvider) FetchBatch(ctx context.Context, symbols []string) ([]quote.Quote, []provider.FailedSymbol) {
	var qs []quote.Quote
	for _, sym := range symbols {
		q, _ := s.FetchQuote(ctx, sym)
		qs = append(qs, q)
	}
	return qs, nil
}

func newTestScheduler(t *testing.T, watchlist []string) *Scheduler {
	t.Helper()
	agg, err := aggregate.New(aggregate.Config{
		Providers: []aggregate.Provider{stubProvider{}},
		Health:    health.NewTracker(time.Minute),
	})
	if err != nil {
		t.Fatalf("aggregate.New: %v", err)
	}
	return New(context.Background(), agg, watchlist, nil)
}

func TestRegisterAll_BadSpec(t *testing.T) {
	s := newTestScheduler(t, nil)
	if err := s.RegisterAll("not a cron spec", ""); err == nil {
		t.Fatal("invalid cron spec must be rejected")
	}
}

func TestRegisterAll_EmptySpecsSkip(t *testing.T) {
	s := newTestScheduler(t, nil)
	if err := s.RegisterAll("", ""); err != nil {
		t.Fatalf("empty specs: %v", err)
	}
}

func TestRunWarmupNow_FetchesWatchlist(t *testing.T) {
	s := newTestScheduler(t, []string{"AAPL", "MSFT"})
	s.RunWarmupNow()

	if st := s.agg.Stats(); st.Successes != 2 {
		t.Fatalf("successes = %d, want 2", st.Successes)
	}
}
