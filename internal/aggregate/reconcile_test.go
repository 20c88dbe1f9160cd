package aggregate

import (
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/quote"
)

func reconQuote(vendor, price string, volume int64, ts time.Time) quote.Quote {
	p := decimal.RequireFromString(price)
	return quote.Quote{
		Symbol:    "AAPL",
		Price:     p,
		Open:      p,
		High:      p,
		Low:       p,
		PrevClose: p,
		Volume:    volume,
		Timestamp: ts,
		Vendor:    vendor,
	}
}

func TestReconcile_Agreement(t *testing.T) {
	now := time.Now().UTC()
	a := reconQuote("alpha", "150.00", 1000000, now)
	b := reconQuote("beta", "150.50", 1010000, now)

	winner, rep := Reconcile(a, b, "alpha", ReconcilePolicy{})
	if rep.HasDiscrepancies {
		t.Fatalf("unexpected issues: %v", rep.Issues)
	}
	if winner.Vendor != "alpha" {
		t.Fatalf("tie must go to the primary argument, got %s", winner.Vendor)
	}
	if rep.RecommendedVendor != "alpha" {
		t.Fatalf("recommended %s", rep.RecommendedVendor)
	}
}

func TestReconcile_PriceVarianceFlaggedNewerWins(t *testing.T) {
	t1 := time.Now().UTC().Add(-time.Minute)
	t2 := t1.Add(time.Minute)
	a := reconQuote("alpha", "150.00", 1000000, t1)
	b := reconQuote("beta", "141.00", 1000000, t2)

	winner, rep := Reconcile(a, b, "alpha", ReconcilePolicy{})
	if !rep.HasDiscrepancies {
		t.Fatal("6% price gap must be flagged")
	}
	found := false
	for _, issue := range rep.Issues {
		if strings.Contains(issue, "6.0") {
			found = true
		}
	}
	if !found {
		t.Fatalf("issues lack the variance figure: %v", rep.Issues)
	}
	// The disagreement is reported, but the fresher quote still wins.
	if winner.Vendor != "beta" {
		t.Fatalf("newer timestamp must win, got %s", winner.Vendor)
	}
}

func TestReconcile_VolumeVarianceFlagged(t *testing.T) {
	now := time.Now().UTC()
	a := reconQuote("alpha", "150.00", 1000000, now)
	b := reconQuote("beta", "150.00", 800000, now)

	_, rep := Reconcile(a, b, "alpha", ReconcilePolicy{})
	if !rep.HasDiscrepancies {
		t.Fatal("20% volume gap must be flagged")
	}
	if rep.VolumeVariance != 200000 {
		t.Fatalf("volume variance = %d", rep.VolumeVariance)
	}
}

func TestReconcile_UnreportedVolumeNotFlagged(t *testing.T) {
	now := time.Now().UTC()
	a := reconQuote("alpha", "150.00", 1000000, now)
	b := reconQuote("beta", "150.00", 0, now)

	_, rep := Reconcile(a, b, "alpha", ReconcilePolicy{})
	if rep.HasDiscrepancies {
		t.Fatalf("a vendor without volume data must not trip the volume check: %v", rep.Issues)
	}
	if rep.VolumeVariance != 1000000 {
		t.Fatalf("volume variance = %d", rep.VolumeVariance)
	}
}

func TestReconcile_TimestampSkewFlagged(t *testing.T) {
	now := time.Now().UTC()
	a := reconQuote("alpha", "150.00", 1000000, now)
	b := reconQuote("beta", "150.00", 1000000, now.Add(-6*time.Minute))

	winner, rep := Reconcile(a, b, "alpha", ReconcilePolicy{})
	if !rep.HasDiscrepancies {
		t.Fatal("6m skew must be flagged")
	}
	if rep.TimestampSkew != 6*time.Minute {
		t.Fatalf("skew = %s", rep.TimestampSkew)
	}
	if winner.Vendor != "alpha" {
		t.Fatalf("winner %s", winner.Vendor)
	}
}

func TestReconcile_CustomThresholds(t *testing.T) {
	now := time.Now().UTC()
	a := reconQuote("alpha", "150.00", 1000000, now)
	b := reconQuote("beta", "141.00", 1000000, now)

	_, rep := Reconcile(a, b, "alpha", ReconcilePolicy{PriceVariancePct: 10})
	if rep.HasDiscrepancies {
		t.Fatalf("6%% gap is inside a 10%% threshold: %v", rep.Issues)
	}
}

func TestReconcile_SymbolMismatchFlagged(t *testing.T) {
	now := time.Now().UTC()
	a := reconQuote("alpha", "150.00", 1000000, now)
	b := reconQuote("beta", "150.00", 1000000, now)
	b.Symbol = "MSFT"

	_, rep := Reconcile(a, b, "alpha", ReconcilePolicy{})
	if !rep.HasDiscrepancies {
		t.Fatal("symbol mismatch must be flagged")
	}
}
