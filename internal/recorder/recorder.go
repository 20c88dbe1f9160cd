// Package recorder persists an audit trail of aggregation activity:
// served quotes, vendor failures and cross-vendor quality reports.
package recorder

import "time"

// QuoteEvent records one quote served to a consumer.
type QuoteEvent struct {
	Symbol     string
	Vendor     string
	Price      string
	Volume     int64
	QuoteTime  time.Time
	FailedOver bool
}

// FailureEvent records one vendor fetch failure.
type FailureEvent struct {
	Vendor              string
	Reason              string
	ConsecutiveFailures int
}

// QualityEvent records one cross-vendor reconciliation with its verdict.
type QualityEvent struct {
	Symbol            string
	PriceVariancePct  string
	VolumeVariance    int64
	TimestampSkew     time.Duration
	RecommendedVendor string
	Issues            []string
}

// Recorder persists historical data for analysis.
type Recorder interface {
	RecordQuote(evt *QuoteEvent) error
	RecordFailure(evt *FailureEvent) error
	RecordQuality(evt *QualityEvent) error
	Close() error
}
