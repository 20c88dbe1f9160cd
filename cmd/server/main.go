package main

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"marketdata/internal/aggregate"
	"marketdata/internal/config"
	"marketdata/internal/health"
	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/provider/alphavantage"
	"marketdata/internal/provider/finnhub"
	"marketdata/internal/provider/ratelimit"
	"marketdata/internal/quote"
	"marketdata/internal/recorder"
	"marketdata/internal/scheduler"
	"marketdata/internal/slogx"
)

func main() {
	cfgPath := os.Getenv("CONFIG_FILE")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("config", "err", err)
		os.Exit(1)
	}
	log := slogx.NewDefault(cfg.LogLevel)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rec := buildRecorder(cfg, log)
	defer rec.Close()

	agg, err := buildAggregator(cfg, rec, log)
	if err != nil {
		log.Error("wiring", "err", err)
		os.Exit(1)
	}

	sched := scheduler.New(ctx, agg, cfg.Watchlist, log)
	if err := sched.RegisterAll(cfg.Schedule.WarmupCron, cfg.Schedule.StatsCron); err != nil {
		log.Error("scheduler", "err", err)
		os.Exit(1)
	}
	sched.Start()
	defer sched.Stop()
	if len(cfg.Watchlist) > 0 {
		go sched.RunWarmupNow()
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/api/quote", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handleGetQuote(w, r, agg, rec)
	})
	mux.HandleFunc("/api/quotes", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			handleGetQuotes(w, r, agg)
		case http.MethodPost:
			handlePostQuotes(w, r, agg)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/history", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		handleGetHistory(w, r, agg)
	})
	mux.HandleFunc("/api/stats", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, agg.Stats())
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, agg.Health())
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           withJSONHeaders(withGzip(recoverPanic(limitBody(mux)))),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      20 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("server listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server", "err", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func buildRecorder(cfg config.Config, log *slog.Logger) recorder.Recorder {
	if cfg.Database.SQLitePath == "" {
		return recorder.NewNoopRecorder()
	}
	rec, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath, log)
	if err != nil {
		log.Warn("sqlite recorder unavailable, auditing disabled", "err", err)
		return recorder.NewNoopRecorder()
	}
	return rec
}

func buildAggregator(cfg config.Config, rec recorder.Recorder, log *slog.Logger) (*aggregate.Aggregator, error) {
	timeout := time.Duration(cfg.Server.RequestTimeoutSec) * time.Second
	httpClient := httpx.New(timeout)
	freshness := time.Duration(cfg.Aggregator.FreshnessSec) * time.Second
	batchDelay := time.Duration(cfg.Aggregator.BatchDelayMs) * time.Millisecond

	var providers []aggregate.Provider
	if cfg.AlphaVantage.Enabled {
		if cfg.AlphaVantage.APIKey == "" {
			log.Warn("alphavantage.enabled=true but ALPHAVANTAGE_API_KEY not set")
		}
		av := alphavantage.New(alphavantage.Config{
			BaseURL:          cfg.AlphaVantage.BaseURL,
			APIKey:           cfg.AlphaVantage.APIKey,
			IntradayInterval: cfg.AlphaVantage.IntradayInterval,
			TTLRealtime:      time.Duration(cfg.AlphaVantage.QuoteTTLSec) * time.Second,
			TTLDaily:         time.Duration(cfg.AlphaVantage.DailyTTLSec) * time.Second,
			TTLIntraday:      time.Duration(cfg.AlphaVantage.IntradayTTLSec) * time.Second,
		}, httpClient)
		providers = append(providers, provider.NewClient(av, provider.ClientConfig{
			Limiter:    ratelimit.New(cfg.AlphaVantage.MaxRequestsPerMinute, time.Minute),
			Freshness:  freshness,
			BatchDelay: batchDelay,
			Logger:     log,
		}))
	}
	if cfg.Finnhub.Enabled {
		if cfg.Finnhub.APIKey == "" {
			log.Warn("finnhub.enabled=true but FINNHUB_API_KEY not set")
		}
		fhClient, err := finnhub.NewClient(cfg.Finnhub.APIKey,
			finnhub.WithBaseURL(cfg.Finnhub.BaseURL),
			finnhub.WithHTTPClient(httpClient.HTTP),
		)
		if err != nil {
			return nil, err
		}
		fh := finnhub.NewProvider(finnhub.Config{
			IntradayResolution: cfg.Finnhub.IntradayResolution,
			TTLRealtime:        time.Duration(cfg.Finnhub.QuoteTTLSec) * time.Second,
			TTLDaily:           time.Duration(cfg.Finnhub.DailyTTLSec) * time.Second,
			TTLIntraday:        time.Duration(cfg.Finnhub.IntradayTTLSec) * time.Second,
		}, fhClient)
		providers = append(providers, provider.NewClient(fh, provider.ClientConfig{
			Limiter:    ratelimit.New(cfg.Finnhub.MaxRequestsPerMinute, time.Minute),
			Freshness:  freshness,
			BatchDelay: batchDelay,
			Logger:     log,
		}))
	}

	// The configured primary goes first; order is failover priority.
	for i, p := range providers {
		if i > 0 && strings.EqualFold(p.Name(), cfg.Aggregator.Primary) {
			providers[0], providers[i] = providers[i], providers[0]
		}
	}

	tracker := health.NewTracker(
		time.Duration(cfg.Aggregator.OpenTimeoutSec)*time.Second,
		func(evt health.FailureEvent) {
			if err := rec.RecordFailure(&recorder.FailureEvent{
				Vendor:              evt.Vendor,
				Reason:              evt.Err.Error(),
				ConsecutiveFailures: evt.ConsecutiveFailures,
			}); err != nil {
				log.Warn("record failure event", "err", err)
			}
		},
	)

	return aggregate.New(aggregate.Config{
		Providers: providers,
		Health:    tracker,
		Policy: aggregate.ReconcilePolicy{
			PriceVariancePct:  cfg.Aggregator.PriceVariancePct,
			VolumeVariancePct: cfg.Aggregator.VolumeVariancePct,
			MaxTimestampSkew:  time.Duration(cfg.Aggregator.MaxTimestampSkewSec) * time.Second,
		},
		CrossCheckRate:      cfg.Aggregator.CrossCheckRate,
		MaxBatchConcurrency: cfg.Aggregator.MaxBatchConcurrency,
		Logger:              log,
		OnQuality: []aggregate.QualityObserver{func(symbol string, rep aggregate.QualityReport) {
			if !rep.HasDiscrepancies {
				return
			}
			if err := rec.RecordQuality(&recorder.QualityEvent{
				Symbol:            symbol,
				PriceVariancePct:  rep.PriceVariancePct.StringFixed(2),
				VolumeVariance:    rep.VolumeVariance,
				TimestampSkew:     rep.TimestampSkew,
				RecommendedVendor: rep.RecommendedVendor,
				Issues:            rep.Issues,
			}); err != nil {
				log.Warn("record quality event", "err", err)
			}
		}},
	})
}

func handleGetQuote(w http.ResponseWriter, r *http.Request, agg *aggregate.Aggregator, rec recorder.Recorder) {
	symbol := r.URL.Query().Get("symbol")
	if strings.TrimSpace(symbol) == "" {
		http.Error(w, "missing symbol query param", http.StatusBadRequest)
		return
	}
	q, err := agg.GetQuote(r.Context(), symbol)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := rec.RecordQuote(&recorder.QuoteEvent{
		Symbol:    q.Symbol,
		Vendor:    q.Vendor,
		Price:     q.Price.String(),
		Volume:    q.Volume,
		QuoteTime: q.Timestamp,
	}); err != nil {
		slog.Warn("record quote event", "err", err)
	}
	writeJSON(w, http.StatusOK, q)
}

type batchResponse struct {
	Quotes []any `json:"quotes"`
	Failed []any `json:"failed"`
}

func handleGetQuotes(w http.ResponseWriter, r *http.Request, agg *aggregate.Aggregator) {
	raw := r.URL.Query().Get("symbols")
	if strings.TrimSpace(raw) == "" {
		http.Error(w, "missing symbols query param", http.StatusBadRequest)
		return
	}
	symbols := splitCSV(raw)
	if len(symbols) > 1000 {
		http.Error(w, "too many symbols (max 1000)", http.StatusBadRequest)
		return
	}
	writeBatch(w, r.Context(), agg, symbols)
}

type postBody struct {
	Symbols []string `json:"symbols"`
}

func handlePostQuotes(w http.ResponseWriter, r *http.Request, agg *aggregate.Aggregator) {
	var b postBody
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&b); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if len(b.Symbols) == 0 {
		http.Error(w, "symbols cannot be empty", http.StatusBadRequest)
		return
	}
	if len(b.Symbols) > 1000 {
		http.Error(w, "too many symbols (max 1000)", http.StatusBadRequest)
		return
	}
	writeBatch(w, r.Context(), agg, b.Symbols)
}

func writeBatch(w http.ResponseWriter, rctx context.Context, agg *aggregate.Aggregator, symbols []string) {
	ctx, cancel := context.WithTimeout(rctx, 60*time.Second)
	defer cancel()

	quotes, failed := agg.GetBatchQuotes(ctx, symbols)
	resp := batchResponse{Quotes: make([]any, 0, len(quotes)), Failed: make([]any, 0, len(failed))}
	for _, q := range quotes {
		resp.Quotes = append(resp.Quotes, q)
	}
	for _, f := range failed {
		resp.Failed = append(resp.Failed, f)
	}
	writeJSON(w, http.StatusOK, resp)
}

func handleGetHistory(w http.ResponseWriter, r *http.Request, agg *aggregate.Aggregator) {
	symbol := r.URL.Query().Get("symbol")
	if strings.TrimSpace(symbol) == "" {
		http.Error(w, "missing symbol query param", http.StatusBadRequest)
		return
	}
	rng, err := parseRange(r.URL.Query().Get("kind"), r.URL.Query().Get("bars"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	bars, err := agg.GetHistory(r.Context(), symbol, rng)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"symbol": symbol, "kind": rng.Kind.String(), "bars": bars})
}

func parseRange(kind, bars string) (quote.Range, error) {
	rng := quote.Range{Kind: quote.KindDaily, Bars: 30}
	switch strings.ToLower(kind) {
	case "", "daily":
	case "intraday":
		rng.Kind = quote.KindIntraday
	default:
		return quote.Range{}, errors.New("kind must be daily or intraday")
	}
	if bars != "" {
		n, err := strconv.Atoi(bars)
		if err != nil || n <= 0 || n > 5000 {
			return quote.Range{}, errors.New("bars must be a positive integer (max 5000)")
		}
		rng.Bars = n
	}
	return rng, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeError maps the provider error taxonomy onto HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provider.ErrInvalidSymbol):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, provider.ErrRateLimited):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
	case provider.IsCancellation(err):
		http.Error(w, err.Error(), 499) // client closed request
	case errors.Is(err, provider.ErrNoProviderAvailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusBadGateway)
	}
}

func withJSONHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withGzip compresses the response when the client supports gzip.
func withGzip(next http.Handler) http.Handler {
	var gzPool = sync.Pool{New: func() any {
		w, _ := gzip.NewWriterLevel(io.Discard, gzip.BestSpeed)
		return w
	}}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}
		gz := gzPool.Get().(*gzip.Writer)
		gz.Reset(w)
		defer func() {
			_ = gz.Close()
			gz.Reset(io.Discard)
			gzPool.Put(gz)
		}()
		w.Header().Set("Content-Encoding", "gzip")
		w.Header().Add("Vary", "Accept-Encoding")
		gw := gzipResponseWriter{ResponseWriter: w, Writer: gz}
		next.ServeHTTP(gw, r)
	})
}

type gzipResponseWriter struct {
	http.ResponseWriter
	Writer io.Writer
}

func (g gzipResponseWriter) Write(b []byte) (int, error) {
	return g.Writer.Write(b)
}

// limitBody caps request body size to avoid memory abuse.
func limitBody(next http.Handler) http.Handler {
	const maxBody = 1 << 20 // 1MB
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, maxBody)
		}
		next.ServeHTTP(w, r)
	})
}

// recoverPanic protects handlers from panics.
func recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
