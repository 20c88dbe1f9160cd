package finnhub

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"marketdata/internal/provider"
)

const baseURL = "https://finnhub.io/api/v1"

// HTTPClient describes an HTTP client.
//
//go:generate mockgen -package=finnhub_test -destination=mock_http_client_test.go -source=client.go HTTPClient
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client is a client for the Finnhub API.
type Client struct {
	// baseURL is the base URL for the API.
	baseURL string
	// httpClient is the HTTP httpClient.
	httpClient HTTPClient
	// header contains additional headers to be sent with each request.
	header http.Header
	// query contains additional query parameters to be sent with each request.
	query url.Values
}

// ClientOption is a configuration option for the Finnhub API client.
type ClientOption func(*Client)

// WithBaseURL sets the base URL for the API.
func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithHTTPClient sets the HTTP client for the API.
func WithHTTPClient(httpClient HTTPClient) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithHeader sets additional headers to be sent with each request.
func WithHeader(header http.Header) ClientOption {
	return func(c *Client) {
		for key, values := range header {
			for _, value := range values {
				c.header.Add(key, value)
			}
		}
	}
}

// NewClient creates a new Finnhub API client.
func NewClient(token string, options ...ClientOption) (*Client, error) {
	var client = &Client{
		baseURL:    baseURL,
		httpClient: http.DefaultClient,
		header:     http.Header{},
		query:      url.Values{},
	}
	if token != "" {
		// Finnhub authenticates via the token query parameter.
		// https://finnhub.io/docs/api/authentication
		client.query.Add("token", token)
	}
	for _, option := range options {
		option(client)
	}
	return client, nil
}

// quoteResponse is the payload of GET /quote.
type quoteResponse struct {
	Current       float64 `json:"c"`
	Change        float64 `json:"d"`
	ChangePercent float64 `json:"dp"`
	High          float64 `json:"h"`
	Low           float64 `json:"l"`
	Open          float64 `json:"o"`
	PrevClose     float64 `json:"pc"`
	Timestamp     int64   `json:"t"`
}

// candleResponse is the payload of GET /stock/candle.
type candleResponse struct {
	Close      []float64 `json:"c"`
	High       []float64 `json:"h"`
	Low        []float64 `json:"l"`
	Open       []float64 `json:"o"`
	Volume     []int64   `json:"v"`
	Timestamps []int64   `json:"t"`
	Status     string    `json:"s"`
}

// GetQuote fetches the realtime quote for one symbol.
func (c *Client) GetQuote(ctx context.Context, symbol string) (quoteResponse, error) {
	var out quoteResponse
	err := c.get(ctx, "/quote", url.Values{"symbol": []string{symbol}}, &out)
	return out, err
}

// GetCandles fetches OHLCV history for one symbol between from and to
// (unix seconds) at the given resolution ("D", "5", ...).
func (c *Client) GetCandles(ctx context.Context, symbol, resolution string, from, to int64) (candleResponse, error) {
	var out candleResponse
	err := c.get(ctx, "/stock/candle", url.Values{
		"symbol":     []string{symbol},
		"resolution": []string{resolution},
		"from":       []string{strconv.FormatInt(from, 10)},
		"to":         []string{strconv.FormatInt(to, 10)},
	}, &out)
	if err != nil {
		return out, err
	}
	if out.Status == "no_data" {
		return out, fmt.Errorf("%w: no candle data for %s", provider.ErrMalformedResponse, symbol)
	}
	return out, nil
}

// get performs one request and classifies transport failures into the
// shared provider taxonomy.
func (c *Client) get(ctx context.Context, path string, params url.Values, out any) error {
	for key, values := range c.query {
		for _, value := range values {
			params.Add(key, value)
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", provider.ErrTransient, err)
	}
	for key, values := range c.header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %v", provider.ErrVendorDown, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: http 429", provider.ErrRateLimited)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<10))
		return fmt.Errorf("%w: http %d: %s", provider.ErrVendorDown, resp.StatusCode, string(b))
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode: %v", provider.ErrMalformedResponse, err)
	}
	return nil
}
