package quote

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func validQuote(ts time.Time) Quote {
	return Quote{
		Symbol:    "AAPL",
		Price:     dec("150.00"),
		Open:      dec("149.80"),
		High:      dec("151.00"),
		Low:       dec("149.50"),
		PrevClose: dec("149.00"),
		Volume:    1000000,
		Timestamp: ts,
		Vendor:    "alphavantage",
	}
}

func TestViolations_ValidQuote(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	if vs := Violations(validQuote(now), KindRealtime, 5*time.Minute, now); len(vs) != 0 {
		t.Fatalf("expected no violations, got %v", vs)
	}
}

func TestViolations_Invariants(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	cases := []struct {
		name   string
		mutate func(*Quote)
		want   string
	}{
		{"empty symbol", func(q *Quote) { q.Symbol = "" }, "empty symbol"},
		{"zero price", func(q *Quote) { q.Price = decimal.Zero; q.Low = decimal.Zero }, "not positive"},
		{"negative volume", func(q *Quote) { q.Volume = -1 }, "negative"},
		{"high below low", func(q *Quote) { q.High = dec("149.00"); q.Price = dec("149.50") }, "below low"},
		{"price above high", func(q *Quote) { q.Price = dec("152.00") }, "outside"},
		{"price below low", func(q *Quote) { q.Price = dec("149.00") }, "outside"},
		{"future timestamp", func(q *Quote) { q.Timestamp = now.Add(10 * time.Minute) }, "future"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			q := validQuote(now)
			tc.mutate(&q)
			vs := Violations(q, KindRealtime, 5*time.Minute, now)
			if len(vs) == 0 {
				t.Fatalf("expected a violation")
			}
			found := false
			for _, v := range vs {
				if strings.Contains(v, tc.want) {
					found = true
				}
			}
			if !found {
				t.Fatalf("no violation containing %q in %v", tc.want, vs)
			}
		})
	}
}

func TestViolations_Staleness_RealtimeOnly(t *testing.T) {
	now := time.Date(2025, 6, 2, 15, 0, 0, 0, time.UTC)
	q := validQuote(now.Add(-10 * time.Minute))

	if vs := Violations(q, KindRealtime, 5*time.Minute, now); len(vs) == 0 {
		t.Fatal("stale realtime quote should be rejected")
	}
	// Historical data is exempt from the freshness window.
	if vs := Violations(q, KindDaily, 5*time.Minute, now); len(vs) != 0 {
		t.Fatalf("daily data should not be staleness-checked: %v", vs)
	}
	// Freshness 0 disables the check.
	if vs := Violations(q, KindRealtime, 0, now); len(vs) != 0 {
		t.Fatalf("freshness 0 should disable staleness: %v", vs)
	}
}
