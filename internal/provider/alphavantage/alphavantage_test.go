package alphavantage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/quote"
)

const globalQuoteBody = `{
  "Global Quote": {
    "01. symbol": "AAPL",
    "02. open": "149.80",
    "03. high": "151.00",
    "04. low": "149.50",
    "05. price": "150.00",
    "06. volume": "1000000",
    "07. latest trading day": "2025-06-02",
    "08. previous close": "149.00",
    "09. change": "1.00",
    "10. change percent": "0.6711%"
  }
}`

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, APIKey: "test"}, httpx.New(5*time.Second))
}

func TestFetchQuote_MapsNumberedFields(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("function"); got != "GLOBAL_QUOTE" {
			t.Errorf("function = %q", got)
		}
		if got := r.URL.Query().Get("symbol"); got != "AAPL" {
			t.Errorf("symbol = %q", got)
		}
		w.Write([]byte(globalQuoteBody))
	})

	q, err := p.FetchQuote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if q.Symbol != "AAPL" || q.Vendor != "alphavantage" {
		t.Fatalf("identity: %+v", q)
	}
	if q.Price.String() != "150" || q.High.String() != "151" || q.Low.String() != "149.5" {
		t.Fatalf("prices: %+v", q)
	}
	if q.Volume != 1000000 {
		t.Fatalf("volume = %d", q.Volume)
	}
	if q.ChangePercent.String() != "0.6711" {
		t.Fatalf("change percent = %s", q.ChangePercent)
	}
	if q.Timestamp.IsZero() || q.Timestamp.Location() != time.UTC {
		t.Fatalf("timestamp: %v", q.Timestamp)
	}
}

func TestFetchQuote_ThrottleNoteIsRateLimited(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Note": "Thank you for using Alpha Vantage! Our standard API rate limit is 25 requests per day."}`))
	})
	_, err := p.FetchQuote(context.Background(), "AAPL")
	if !errors.Is(err, provider.ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
}

func TestFetchQuote_VendorErrorMessage(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"Error Message": "Invalid API call."}`))
	})
	_, err := p.FetchQuote(context.Background(), "NOPE")
	if !errors.Is(err, provider.ErrMalformedResponse) {
		t.Fatalf("got %v, want ErrMalformedResponse", err)
	}
}

func TestFetchQuote_Non2xxIsVendorDown(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream exploded", http.StatusBadGateway)
	})
	_, err := p.FetchQuote(context.Background(), "AAPL")
	if !errors.Is(err, provider.ErrVendorDown) {
		t.Fatalf("got %v, want ErrVendorDown", err)
	}
}

func TestFetchQuote_429IsRateLimited(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})
	_, err := p.FetchQuote(context.Background(), "AAPL")
	if !errors.Is(err, provider.ErrRateLimited) {
		t.Fatalf("got %v, want ErrRateLimited", err)
	}
}

func TestFetchQuote_GarbageBodyIsMalformed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>not json</html>"))
	})
	_, err := p.FetchQuote(context.Background(), "AAPL")
	if !errors.Is(err, provider.ErrMalformedResponse) {
		t.Fatalf("got %v, want ErrMalformedResponse", err)
	}
}

func TestFetchHistory_DailyBarsSortedAndTrimmed(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("function"); got != "TIME_SERIES_DAILY" {
			t.Errorf("function = %q", got)
		}
		w.Write([]byte(`{
  "Time Series (Daily)": {
    "2025-06-02": {"1. open": "150.00", "2. high": "151.00", "3. low": "149.50", "4. close": "150.50", "5. volume": "900000"},
    "2025-05-30": {"1. open": "148.00", "2. high": "150.00", "3. low": "147.50", "4. close": "149.80", "5. volume": "800000"},
    "2025-05-29": {"1. open": "147.00", "2. high": "148.50", "3. low": "146.80", "4. close": "148.10", "5. volume": "700000"}
  }
}`))
	})

	bars, err := p.FetchHistory(context.Background(), "AAPL", quote.Range{Kind: quote.KindDaily, Bars: 2})
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(bars) != 2 {
		t.Fatalf("got %d bars, want 2 most recent", len(bars))
	}
	if !bars[0].Time.Before(bars[1].Time) {
		t.Fatal("bars must be in ascending time order")
	}
	if bars[1].Close.String() != "150.5" || bars[1].Volume != 900000 {
		t.Fatalf("newest bar: %+v", bars[1])
	}
}
