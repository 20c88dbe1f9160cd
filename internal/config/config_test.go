package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "8080" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if !cfg.AlphaVantage.Enabled || cfg.AlphaVantage.MaxRequestsPerMinute != 5 {
		t.Fatalf("alphavantage defaults: %+v", cfg.AlphaVantage)
	}
	if cfg.Aggregator.Primary != "alphavantage" {
		t.Fatalf("primary = %q", cfg.Aggregator.Primary)
	}
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{
		"server": {"port": "9090"},
		"finnhub": {"enabled": true, "api_key": "fh-key", "max_requests_per_minute": 30},
		"aggregator": {"primary": "finnhub", "cross_check_rate": 0.25},
		"watchlist": ["AAPL", "MSFT"]
	}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "9090" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.Finnhub.APIKey != "fh-key" || cfg.Finnhub.MaxRequestsPerMinute != 30 {
		t.Fatalf("finnhub: %+v", cfg.Finnhub)
	}
	if cfg.Aggregator.Primary != "finnhub" || cfg.Aggregator.CrossCheckRate != 0.25 {
		t.Fatalf("aggregator: %+v", cfg.Aggregator)
	}
	if len(cfg.Watchlist) != 2 {
		t.Fatalf("watchlist: %v", cfg.Watchlist)
	}
	// Untouched sections keep their defaults.
	if cfg.Aggregator.OpenTimeoutSec != 60 {
		t.Fatalf("open timeout = %d", cfg.Aggregator.OpenTimeoutSec)
	}
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	t.Setenv("PORT", "7070")
	t.Setenv("ALPHAVANTAGE_API_KEY", "av-secret")
	t.Setenv("PRIMARY_VENDOR", "Finnhub")
	t.Setenv("CROSS_CHECK_RATE", "0.5")
	t.Setenv("WATCHLIST", "AAPL, GOOG ,")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != "7070" {
		t.Fatalf("port = %q", cfg.Server.Port)
	}
	if cfg.AlphaVantage.APIKey != "av-secret" {
		t.Fatalf("api key = %q", cfg.AlphaVantage.APIKey)
	}
	if cfg.Aggregator.Primary != "finnhub" {
		t.Fatalf("primary = %q", cfg.Aggregator.Primary)
	}
	if cfg.Aggregator.CrossCheckRate != 0.5 {
		t.Fatalf("cross check rate = %g", cfg.Aggregator.CrossCheckRate)
	}
	if len(cfg.Watchlist) != 2 || cfg.Watchlist[1] != "GOOG" {
		t.Fatalf("watchlist: %v", cfg.Watchlist)
	}
}

func TestLoad_UnparseableCrossCheckRateKeepsFileValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	body := `{"aggregator": {"cross_check_rate": 0.25}}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CROSS_CHECK_RATE", "not-a-number")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Aggregator.CrossCheckRate != 0.25 {
		t.Fatalf("cross check rate = %g, want file value 0.25", cfg.Aggregator.CrossCheckRate)
	}

	t.Setenv("CROSS_CHECK_RATE", "1.5")
	cfg, err = Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Aggregator.CrossCheckRate != 0.25 {
		t.Fatalf("out-of-range rate overrode file value: %g", cfg.Aggregator.CrossCheckRate)
	}
}

func TestParseBool(t *testing.T) {
	if !parseBool("yes", false) || parseBool("0", true) {
		t.Fatal("parseBool")
	}
	if !parseBool("garbage", true) {
		t.Fatal("unparseable keeps the default")
	}
}
