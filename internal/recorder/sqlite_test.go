package recorder

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestRecorder(t *testing.T) *SQLiteRecorder {
	t.Helper()
	r, err := NewSQLiteRecorder(filepath.Join(t.TempDir(), "audit.db"), nil)
	if err != nil {
		t.Fatalf("NewSQLiteRecorder: %v", err)
	}
	t.Cleanup(func() { r.Close() })
	return r
}

func TestSQLiteRecorder_RoundTrip(t *testing.T) {
	r := openTestRecorder(t)

	err := r.RecordQuote(&QuoteEvent{
		Symbol:     "AAPL",
		Vendor:     "alphavantage",
		Price:      "150.25",
		Volume:     1000000,
		QuoteTime:  time.Now().UTC(),
		FailedOver: true,
	})
	if err != nil {
		t.Fatalf("RecordQuote: %v", err)
	}

	err = r.RecordFailure(&FailureEvent{
		Vendor:              "finnhub",
		Reason:              "vendor down",
		ConsecutiveFailures: 3,
	})
	if err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}

	err = r.RecordQuality(&QualityEvent{
		Symbol:            "AAPL",
		PriceVariancePct:  "6.0",
		VolumeVariance:    200000,
		TimestampSkew:     90 * time.Second,
		RecommendedVendor: "finnhub",
		Issues:            []string{"price variance 6.0% exceeds 5.0%"},
	})
	if err != nil {
		t.Fatalf("RecordQuality: %v", err)
	}

	for _, table := range []string{"quote_events", "failure_events", "quality_events"} {
		var n int
		if err := r.db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&n); err != nil {
			t.Fatalf("count %s: %v", table, err)
		}
		if n != 1 {
			t.Fatalf("%s has %d rows, want 1", table, n)
		}
	}
}

func TestSQLiteRecorder_MigrateIdempotent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit.db")

	r1, err := NewSQLiteRecorder(path, nil)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if err := r1.RecordQuote(&QuoteEvent{Symbol: "MSFT", Vendor: "finnhub"}); err != nil {
		t.Fatal(err)
	}
	if err := r1.Close(); err != nil {
		t.Fatal(err)
	}

	r2, err := NewSQLiteRecorder(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer r2.Close()

	var n int
	if err := r2.db.QueryRow("SELECT COUNT(*) FROM quote_events").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("rows after reopen = %d, want 1", n)
	}
}
