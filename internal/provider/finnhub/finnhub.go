// Package finnhub adapts the Finnhub HTTP API to the canonical provider
// contract.
package finnhub

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/provider"
	"marketdata/internal/quote"
)

type Config struct {
	Name string
	// IntradayResolution is the candle resolution for intraday history
	// in Finnhub notation ("1", "5", "15", ...).
	IntradayResolution string

	TTLRealtime time.Duration
	TTLDaily    time.Duration
	TTLIntraday time.Duration
}

// Provider maps Finnhub payloads into canonical quotes and bars.
type Provider struct {
	cfg    Config
	client *Client
}

func NewProvider(cfg Config, client *Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "finnhub"
	}
	if cfg.IntradayResolution == "" {
		cfg.IntradayResolution = "5"
	}
	if cfg.TTLRealtime <= 0 {
		cfg.TTLRealtime = 60 * time.Second
	}
	if cfg.TTLDaily <= 0 {
		cfg.TTLDaily = time.Hour
	}
	if cfg.TTLIntraday <= 0 {
		cfg.TTLIntraday = 5 * time.Minute
	}
	return &Provider{cfg: cfg, client: client}
}

func (p *Provider) Name() string { return p.cfg.Name }

func (p *Provider) TTL(kind quote.Kind) time.Duration {
	switch kind {
	case quote.KindDaily:
		return p.cfg.TTLDaily
	case quote.KindIntraday:
		return p.cfg.TTLIntraday
	default:
		return p.cfg.TTLRealtime
	}
}

func (p *Provider) FetchQuote(ctx context.Context, symbol string) (quote.Quote, error) {
	raw, err := p.client.GetQuote(ctx, symbol)
	if err != nil {
		return quote.Quote{}, err
	}
	// Finnhub signals unknown symbols with an all-zero payload.
	if raw.Current == 0 && raw.Timestamp == 0 {
		return quote.Quote{}, fmt.Errorf("%w: empty quote for %s", provider.ErrMalformedResponse, symbol)
	}
	q := quote.Quote{
		Symbol:        symbol,
		Price:         decimal.NewFromFloat(raw.Current),
		Open:          decimal.NewFromFloat(raw.Open),
		High:          decimal.NewFromFloat(raw.High),
		Low:           decimal.NewFromFloat(raw.Low),
		PrevClose:     decimal.NewFromFloat(raw.PrevClose),
		Change:        decimal.NewFromFloat(raw.Change),
		ChangePercent: decimal.NewFromFloat(raw.ChangePercent),
		Timestamp:     time.Unix(raw.Timestamp, 0).UTC(),
		Vendor:        p.cfg.Name,
	}
	return q, nil
}

func (p *Provider) FetchHistory(ctx context.Context, symbol string, rng quote.Range) ([]quote.Bar, error) {
	resolution := "D"
	span := 24 * time.Hour
	if rng.Kind == quote.KindIntraday {
		resolution = p.cfg.IntradayResolution
		span = 5 * time.Minute
	}
	bars := rng.Bars
	if bars <= 0 {
		bars = 100
	}
	to := time.Now().UTC()
	from := to.Add(-time.Duration(bars) * span * 2) // weekends/holidays leave gaps

	raw, err := p.client.GetCandles(ctx, symbol, resolution, from.Unix(), to.Unix())
	if err != nil {
		return nil, err
	}
	n := len(raw.Timestamps)
	if n == 0 || len(raw.Close) != n || len(raw.Open) != n || len(raw.High) != n || len(raw.Low) != n || len(raw.Volume) != n {
		return nil, fmt.Errorf("%w: ragged candle arrays for %s", provider.ErrMalformedResponse, symbol)
	}

	out := make([]quote.Bar, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, quote.Bar{
			Time:   time.Unix(raw.Timestamps[i], 0).UTC(),
			Open:   decimal.NewFromFloat(raw.Open[i]),
			High:   decimal.NewFromFloat(raw.High[i]),
			Low:    decimal.NewFromFloat(raw.Low[i]),
			Close:  decimal.NewFromFloat(raw.Close[i]),
			Volume: raw.Volume[i],
		})
	}
	if rng.Bars > 0 && len(out) > rng.Bars {
		out = out[len(out)-rng.Bars:]
	}
	return out, nil
}
