package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"
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
	"marketdata/internal/slogx"
)

func main() {
	var symbolsCSV string
	var history bool
	var kind string
	var bars int
	var timeout int
	var configPath string

	flag.StringVar(&symbolsCSV, "symbols", os.Getenv("SYMBOLS"), "comma-separated ticker symbols")
	flag.BoolVar(&history, "history", false, "fetch historical bars instead of quotes")
	flag.StringVar(&kind, "kind", "daily", "history kind: daily or intraday")
	flag.IntVar(&bars, "bars", 30, "number of history bars")
	flag.IntVar(&timeout, "timeout", 30, "overall timeout seconds")
	flag.StringVar(&configPath, "config", os.Getenv("CONFIG_FILE"), "path to config.json (optional)")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		fatal("config: %v", err)
	}
	log := slogx.NewDefault(cfg.LogLevel)

	symbols := splitCSV(symbolsCSV)
	if len(symbols) == 0 {
		fatal("no symbols provided; use -symbols or SYMBOLS")
	}

	httpClient := httpx.New(time.Duration(cfg.Server.RequestTimeoutSec) * time.Second)
	freshness := time.Duration(cfg.Aggregator.FreshnessSec) * time.Second

	var providers []aggregate.Provider
	if cfg.AlphaVantage.Enabled && cfg.AlphaVantage.APIKey != "" {
		av := alphavantage.New(alphavantage.Config{
			BaseURL:          cfg.AlphaVantage.BaseURL,
			APIKey:           cfg.AlphaVantage.APIKey,
			IntradayInterval: cfg.AlphaVantage.IntradayInterval,
		}, httpClient)
		providers = append(providers, provider.NewClient(av, provider.ClientConfig{
			Limiter:   ratelimit.New(cfg.AlphaVantage.MaxRequestsPerMinute, time.Minute),
			Freshness: freshness,
			Logger:    log,
		}))
	}
	if cfg.Finnhub.Enabled && cfg.Finnhub.APIKey != "" {
		fhClient, err := finnhub.NewClient(cfg.Finnhub.APIKey,
			finnhub.WithBaseURL(cfg.Finnhub.BaseURL),
			finnhub.WithHTTPClient(httpClient.HTTP),
		)
		if err != nil {
			fatal("finnhub client: %v", err)
		}
		fh := finnhub.NewProvider(finnhub.Config{
			IntradayResolution: cfg.Finnhub.IntradayResolution,
		}, fhClient)
		providers = append(providers, provider.NewClient(fh, provider.ClientConfig{
			Limiter:   ratelimit.New(cfg.Finnhub.MaxRequestsPerMinute, time.Minute),
			Freshness: freshness,
			Logger:    log,
		}))
	}
	if len(providers) == 0 {
		fatal("no providers configured; set API keys in config.json or env")
	}
	for i, p := range providers {
		if i > 0 && strings.EqualFold(p.Name(), cfg.Aggregator.Primary) {
			providers[0], providers[i] = providers[i], providers[0]
		}
	}

	agg, err := aggregate.New(aggregate.Config{
		Providers: providers,
		Health:    health.NewTracker(time.Duration(cfg.Aggregator.OpenTimeoutSec) * time.Second),
		Logger:    log,
	})
	if err != nil {
		fatal("aggregate: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	if history {
		rng := quote.Range{Kind: quote.KindDaily, Bars: bars}
		if strings.EqualFold(kind, "intraday") {
			rng.Kind = quote.KindIntraday
		}
		out := make(map[string][]quote.Bar, len(symbols))
		for _, sym := range symbols {
			hist, err := agg.GetHistory(ctx, sym, rng)
			if err != nil {
				log.Error("history fetch failed", "symbol", sym, "err", err)
				continue
			}
			out[sym] = hist
		}
		if len(out) == 0 {
			fatal("no history received")
		}
		printJSON(out)
		return
	}

	quotes, failed := agg.GetBatchQuotes(ctx, symbols)
	for _, f := range failed {
		log.Error("fetch failed", "symbol", f.Symbol, "reason", f.Reason)
	}
	if len(quotes) == 0 {
		fatal("no quotes received")
	}
	printJSON(struct {
		Quotes []quote.Quote `json:"quotes"`
	}{Quotes: quotes})
}

func printJSON(v any) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
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
