// Package alphavantage adapts the AlphaVantage HTTP API to the canonical
// provider contract. The vendor's numbered JSON field names are isolated in
// the DTO structs here; nothing above this package sees them.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
	"marketdata/internal/quote"
)

type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	// IntradayInterval is the bar interval for intraday history, e.g. "5min".
	IntradayInterval string

	TTLRealtime time.Duration
	TTLDaily    time.Duration
	TTLIntraday time.Duration
}

type Provider struct {
	cfg    Config
	client *httpx.Client
}

func New(cfg Config, hc *httpx.Client) *Provider {
	if cfg.Name == "" {
		cfg.Name = "alphavantage"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.alphavantage.co/query"
	}
	if cfg.IntradayInterval == "" {
		cfg.IntradayInterval = "5min"
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
	return &Provider{cfg: cfg, client: hc}
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

// globalQuote carries AlphaVantage's GLOBAL_QUOTE payload with its numbered
// field names.
type globalQuote struct {
	Symbol           string `json:"01. symbol"`
	Open             string `json:"02. open"`
	High             string `json:"03. high"`
	Low              string `json:"04. low"`
	Price            string `json:"05. price"`
	Volume           string `json:"06. volume"`
	LatestTradingDay string `json:"07. latest trading day"`
	PrevClose        string `json:"08. previous close"`
	Change           string `json:"09. change"`
	ChangePercent    string `json:"10. change percent"`
}

type quoteResponse struct {
	GlobalQuote  globalQuote `json:"Global Quote"`
	Note         string      `json:"Note"`
	Information  string      `json:"Information"`
	ErrorMessage string      `json:"Error Message"`
}

func (p *Provider) FetchQuote(ctx context.Context, symbol string) (quote.Quote, error) {
	body, err := p.get(ctx, url.Values{
		"function": []string{"GLOBAL_QUOTE"},
		"symbol":   []string{symbol},
	})
	if err != nil {
		return quote.Quote{}, err
	}

	var resp quoteResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return quote.Quote{}, fmt.Errorf("%w: decode global quote: %v", provider.ErrMalformedResponse, err)
	}
	if err := vendorError(resp.Note, resp.Information, resp.ErrorMessage); err != nil {
		return quote.Quote{}, err
	}
	if resp.GlobalQuote.Symbol == "" {
		return quote.Quote{}, fmt.Errorf("%w: empty global quote for %s", provider.ErrMalformedResponse, symbol)
	}
	return p.mapQuote(resp.GlobalQuote)
}

// mapQuote converts the vendor payload to the canonical Quote. GLOBAL_QUOTE
// carries no intraday timestamp, only the trading day, so Timestamp is the
// receipt instant.
func (p *Provider) mapQuote(g globalQuote) (quote.Quote, error) {
	q := quote.Quote{
		Symbol:    g.Symbol,
		Timestamp: time.Now().UTC(),
		Vendor:    p.cfg.Name,
	}
	var err error
	fields := []struct {
		dst  *decimal.Decimal
		raw  string
		name string
	}{
		{&q.Price, g.Price, "price"},
		{&q.Open, g.Open, "open"},
		{&q.High, g.High, "high"},
		{&q.Low, g.Low, "low"},
		{&q.PrevClose, g.PrevClose, "previous close"},
		{&q.Change, g.Change, "change"},
		{&q.ChangePercent, strings.TrimSuffix(g.ChangePercent, "%"), "change percent"},
	}
	for _, f := range fields {
		if *f.dst, err = decimal.NewFromString(strings.TrimSpace(f.raw)); err != nil {
			return quote.Quote{}, fmt.Errorf("%w: bad %s %q", provider.ErrMalformedResponse, f.name, f.raw)
		}
	}
	if q.Volume, err = strconv.ParseInt(strings.TrimSpace(g.Volume), 10, 64); err != nil {
		return quote.Quote{}, fmt.Errorf("%w: bad volume %q", provider.ErrMalformedResponse, g.Volume)
	}
	return q, nil
}

// dailyBar carries one time-series entry with the vendor's numbered keys.
type dailyBar struct {
	Open   string `json:"1. open"`
	High   string `json:"2. high"`
	Low    string `json:"3. low"`
	Close  string `json:"4. close"`
	Volume string `json:"5. volume"`
}

type historyResponse struct {
	Daily        map[string]dailyBar `json:"Time Series (Daily)"`
	Intraday5min map[string]dailyBar `json:"Time Series (5min)"`
	Note         string              `json:"Note"`
	Information  string              `json:"Information"`
	ErrorMessage string              `json:"Error Message"`
}

func (p *Provider) FetchHistory(ctx context.Context, symbol string, rng quote.Range) ([]quote.Bar, error) {
	params := url.Values{"symbol": []string{symbol}}
	layout := "2006-01-02"
	if rng.Kind == quote.KindIntraday {
		params.Set("function", "TIME_SERIES_INTRADAY")
		params.Set("interval", p.cfg.IntradayInterval)
		layout = "2006-01-02 15:04:05"
	} else {
		params.Set("function", "TIME_SERIES_DAILY")
	}

	body, err := p.get(ctx, params)
	if err != nil {
		return nil, err
	}
	var resp historyResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode time series: %v", provider.ErrMalformedResponse, err)
	}
	if err := vendorError(resp.Note, resp.Information, resp.ErrorMessage); err != nil {
		return nil, err
	}

	series := resp.Daily
	if rng.Kind == quote.KindIntraday {
		series = resp.Intraday5min
	}
	if len(series) == 0 {
		return nil, fmt.Errorf("%w: empty time series for %s", provider.ErrMalformedResponse, symbol)
	}

	bars := make([]quote.Bar, 0, len(series))
	for stamp, d := range series {
		ts, err := time.ParseInLocation(layout, stamp, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("%w: bad bar timestamp %q", provider.ErrMalformedResponse, stamp)
		}
		b, err := mapBar(ts, d)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Time.Before(bars[j].Time) })
	if rng.Bars > 0 && len(bars) > rng.Bars {
		bars = bars[len(bars)-rng.Bars:]
	}
	return bars, nil
}

func mapBar(ts time.Time, d dailyBar) (quote.Bar, error) {
	b := quote.Bar{Time: ts}
	var err error
	if b.Open, err = decimal.NewFromString(d.Open); err != nil {
		return quote.Bar{}, fmt.Errorf("%w: bad bar open %q", provider.ErrMalformedResponse, d.Open)
	}
	if b.High, err = decimal.NewFromString(d.High); err != nil {
		return quote.Bar{}, fmt.Errorf("%w: bad bar high %q", provider.ErrMalformedResponse, d.High)
	}
	if b.Low, err = decimal.NewFromString(d.Low); err != nil {
		return quote.Bar{}, fmt.Errorf("%w: bad bar low %q", provider.ErrMalformedResponse, d.Low)
	}
	if b.Close, err = decimal.NewFromString(d.Close); err != nil {
		return quote.Bar{}, fmt.Errorf("%w: bad bar close %q", provider.ErrMalformedResponse, d.Close)
	}
	if b.Volume, err = strconv.ParseInt(d.Volume, 10, 64); err != nil {
		return quote.Bar{}, fmt.Errorf("%w: bad bar volume %q", provider.ErrMalformedResponse, d.Volume)
	}
	return b, nil
}

// get performs one GET against the vendor and classifies transport errors.
func (p *Provider) get(ctx context.Context, params url.Values) ([]byte, error) {
	params.Set("apikey", p.cfg.APIKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", provider.ErrTransient, err)
	}
	resp, err := p.client.Do(ctx, req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", provider.ErrVendorDown, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: http 429", provider.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return nil, fmt.Errorf("%w: http %d: %s", provider.ErrVendorDown, resp.StatusCode, string(b))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", provider.ErrTransient, err)
	}
	return body, nil
}

// vendorError classifies error strings AlphaVantage reports inside 200
// responses: throttle notes become ErrRateLimited, everything else
// ErrMalformedResponse.
func vendorError(note, info, errMsg string) error {
	if note != "" {
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, note)
	}
	if info != "" {
		return fmt.Errorf("%w: %s", provider.ErrRateLimited, info)
	}
	if errMsg != "" {
		return fmt.Errorf("%w: %s", provider.ErrMalformedResponse, errMsg)
	}
	return nil
}
