package quote

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind classifies market data for TTL and staleness decisions.
type Kind int

const (
	KindRealtime Kind = iota
	KindDaily
	KindIntraday
)

func (k Kind) String() string {
	switch k {
	case KindRealtime:
		return "realtime"
	case KindDaily:
		return "daily"
	case KindIntraday:
		return "intraday"
	default:
		return "unknown"
	}
}

// Quote is the normalized shape all vendor payloads map into.
// Prices are fixed-point decimals to avoid float rounding drift in
// financial comparisons. Immutable once handed to a caller.
type Quote struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	Open          decimal.Decimal `json:"open"`
	High          decimal.Decimal `json:"high"`
	Low           decimal.Decimal `json:"low"`
	PrevClose     decimal.Decimal `json:"previous_close"`
	Volume        int64           `json:"volume"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	Timestamp     time.Time       `json:"timestamp"`
	Vendor        string          `json:"vendor"`
}

// Bar is one OHLCV bar of historical data.
type Bar struct {
	Time   time.Time       `json:"time"`
	Open   decimal.Decimal `json:"open"`
	High   decimal.Decimal `json:"high"`
	Low    decimal.Decimal `json:"low"`
	Close  decimal.Decimal `json:"close"`
	Volume int64           `json:"volume"`
}

// Range bounds a history request.
type Range struct {
	Kind Kind
	Bars int // most-recent bar count; 0 means vendor default
}
