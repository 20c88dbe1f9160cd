// Package config loads the service configuration from JSON with
// environment-variable overrides for secrets and deploy-time knobs.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
)

type Server struct {
	Port              string `json:"port"`
	RequestTimeoutSec int    `json:"request_timeout_sec"`
}

type AlphaVantage struct {
	Enabled              bool   `json:"enabled"`
	APIKey               string `json:"api_key"`
	BaseURL              string `json:"base_url"`
	IntradayInterval     string `json:"intraday_interval"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	QuoteTTLSec          int    `json:"quote_ttl_sec"`
	DailyTTLSec          int    `json:"daily_ttl_sec"`
	IntradayTTLSec       int    `json:"intraday_ttl_sec"`
}

type Finnhub struct {
	Enabled              bool   `json:"enabled"`
	APIKey               string `json:"api_key"`
	BaseURL              string `json:"base_url"`
	IntradayResolution   string `json:"intraday_resolution"`
	MaxRequestsPerMinute int    `json:"max_requests_per_minute"`
	QuoteTTLSec          int    `json:"quote_ttl_sec"`
	DailyTTLSec          int    `json:"daily_ttl_sec"`
	IntradayTTLSec       int    `json:"intraday_ttl_sec"`
}

type Aggregator struct {
	// Primary names the vendor tried first; the other enabled vendor
	// becomes the fallback.
	Primary             string  `json:"primary"`
	OpenTimeoutSec      int     `json:"open_timeout_sec"`
	FreshnessSec        int     `json:"freshness_sec"`
	BatchDelayMs        int     `json:"batch_delay_ms"`
	CrossCheckRate      float64 `json:"cross_check_rate"`
	PriceVariancePct    float64 `json:"price_variance_pct"`
	VolumeVariancePct   float64 `json:"volume_variance_pct"`
	MaxTimestampSkewSec int     `json:"max_timestamp_skew_sec"`
	MaxBatchConcurrency int     `json:"max_batch_concurrency"`
}

type Database struct {
	SQLitePath string `json:"sqlite_path"`
}

type Schedule struct {
	WarmupCron string `json:"warmup_cron"`
	StatsCron  string `json:"stats_cron"`
}

type Config struct {
	Server       Server       `json:"server"`
	AlphaVantage AlphaVantage `json:"alphavantage"`
	Finnhub      Finnhub      `json:"finnhub"`
	Aggregator   Aggregator   `json:"aggregator"`
	Database     Database     `json:"database"`
	Schedule     Schedule     `json:"schedule"`
	Watchlist    []string     `json:"watchlist"`
	LogLevel     string       `json:"log_level"`
}

func Default() Config {
	return Config{
		Server: Server{Port: "8080", RequestTimeoutSec: 10},
		AlphaVantage: AlphaVantage{
			Enabled:              true,
			BaseURL:              "https://www.alphavantage.co/query",
			IntradayInterval:     "5min",
			MaxRequestsPerMinute: 5,
			QuoteTTLSec:          60,
			DailyTTLSec:          3600,
			IntradayTTLSec:       300,
		},
		Finnhub: Finnhub{
			Enabled:              true,
			BaseURL:              "https://finnhub.io/api/v1",
			IntradayResolution:   "5",
			MaxRequestsPerMinute: 60,
			QuoteTTLSec:          60,
			DailyTTLSec:          3600,
			IntradayTTLSec:       300,
		},
		Aggregator: Aggregator{
			Primary:             "alphavantage",
			OpenTimeoutSec:      60,
			FreshnessSec:        900,
			BatchDelayMs:        100,
			CrossCheckRate:      0,
			PriceVariancePct:    5,
			VolumeVariancePct:   10,
			MaxTimestampSkewSec: 300,
			MaxBatchConcurrency: 2,
		},
		Schedule: Schedule{
			WarmupCron: "",
			StatsCron:  "0 */5 * * * *",
		},
		LogLevel: "info",
	}
}

// Load reads JSON config from path. If path is empty or the file does not
// exist, it returns defaults. Environment variables override select
// fields for secrecy.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		if _, err := os.Stat("config.json"); err == nil {
			path = "config.json"
		}
	}
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := json.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config: %w", err)
			}
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("PORT"); v != "" {
		cfg.Server.Port = v
	}
	if v := os.Getenv("REQUEST_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Server.RequestTimeoutSec = x
		}
	}
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.AlphaVantage.APIKey = v
	}
	if v := os.Getenv("ALPHAVANTAGE_BASE_URL"); v != "" {
		cfg.AlphaVantage.BaseURL = v
	}
	if v := os.Getenv("ALPHAVANTAGE_ENABLED"); v != "" {
		cfg.AlphaVantage.Enabled = parseBool(v, cfg.AlphaVantage.Enabled)
	}
	if v := os.Getenv("ALPHAVANTAGE_MAX_RPM"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.AlphaVantage.MaxRequestsPerMinute = x
		}
	}
	if v := os.Getenv("FINNHUB_API_KEY"); v != "" {
		cfg.Finnhub.APIKey = v
	}
	if v := os.Getenv("FINNHUB_BASE_URL"); v != "" {
		cfg.Finnhub.BaseURL = v
	}
	if v := os.Getenv("FINNHUB_ENABLED"); v != "" {
		cfg.Finnhub.Enabled = parseBool(v, cfg.Finnhub.Enabled)
	}
	if v := os.Getenv("FINNHUB_MAX_RPM"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Finnhub.MaxRequestsPerMinute = x
		}
	}
	if v := os.Getenv("PRIMARY_VENDOR"); v != "" {
		cfg.Aggregator.Primary = strings.ToLower(v)
	}
	if v := os.Getenv("OPEN_TIMEOUT_SEC"); v != "" {
		if x := atoi(v); x > 0 {
			cfg.Aggregator.OpenTimeoutSec = x
		}
	}
	if v := os.Getenv("CROSS_CHECK_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			cfg.Aggregator.CrossCheckRate = f
		}
	}
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("WARMUP_CRON"); v != "" {
		cfg.Schedule.WarmupCron = v
	}
	if v := os.Getenv("WATCHLIST"); v != "" {
		cfg.Watchlist = splitCSV(v)
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func atoi(s string) int {
	var x int
	fmt.Sscanf(s, "%d", &x)
	return x
}

func parseBool(s string, def bool) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y":
		return true
	case "0", "false", "no", "n":
		return false
	}
	return def
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
