package aggregate

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"marketdata/internal/quote"
)

// ReconcilePolicy holds the discrepancy thresholds and tie-break rules.
// The numbers are operational policy, not law; each deployment can tune
// them via config.
type ReconcilePolicy struct {
	// PriceVariancePct flags a price disagreement above this percentage.
	PriceVariancePct float64
	// VolumeVariancePct flags a volume gap above this percentage of the
	// larger volume.
	VolumeVariancePct float64
	// MaxTimestampSkew flags quotes observed too far apart.
	MaxTimestampSkew time.Duration
}

func (p ReconcilePolicy) withDefaults() ReconcilePolicy {
	if p.PriceVariancePct <= 0 {
		p.PriceVariancePct = 5
	}
	if p.VolumeVariancePct <= 0 {
		p.VolumeVariancePct = 10
	}
	if p.MaxTimestampSkew <= 0 {
		p.MaxTimestampSkew = 5 * time.Minute
	}
	return p
}

// QualityReport describes how two vendors' answers for the same symbol
// compare. It is observational: a flagged report rides along with a still
// successful response and never blocks the decision.
type QualityReport struct {
	Symbol            string          `json:"symbol"`
	HasDiscrepancies  bool            `json:"has_discrepancies"`
	Issues            []string        `json:"issues,omitempty"`
	PriceVariancePct  decimal.Decimal `json:"price_variance_pct"`
	VolumeVariance    int64           `json:"volume_variance"`
	TimestampSkew     time.Duration   `json:"timestamp_skew_ns"`
	RecommendedVendor string          `json:"recommended_vendor"`
}

// Reconcile decides which of two vendors' quotes for the same symbol to
// trust. The quote with the more recent timestamp wins; ties go to
// primaryVendor. Disagreements above the policy thresholds are flagged in
// the report, never returned as errors.
func Reconcile(primary, secondary quote.Quote, primaryVendor string, pol ReconcilePolicy) (quote.Quote, QualityReport) {
	pol = pol.withDefaults()
	rep := QualityReport{Symbol: primary.Symbol}

	if primary.Symbol != secondary.Symbol {
		rep.Issues = append(rep.Issues, fmt.Sprintf("symbol mismatch: %q vs %q", primary.Symbol, secondary.Symbol))
	}

	// Price variance = |p1-p2| / max(p1,p2) * 100.
	if primary.Price.IsPositive() && secondary.Price.IsPositive() {
		max := decimal.Max(primary.Price, secondary.Price)
		rep.PriceVariancePct = primary.Price.Sub(secondary.Price).Abs().
			Div(max).Mul(decimal.NewFromInt(100))
		if rep.PriceVariancePct.GreaterThan(decimal.NewFromFloat(pol.PriceVariancePct)) {
			rep.Issues = append(rep.Issues, fmt.Sprintf(
				"price variance %s%% exceeds %.1f%% (%s vs %s)",
				rep.PriceVariancePct.StringFixed(1), pol.PriceVariancePct, primary.Price, secondary.Price))
		}
	}

	// Volume variance = |v1-v2|, flagged past a fraction of the larger.
	// A zero volume means the vendor does not report one (Finnhub's /quote
	// carries no volume field), so compare only when both sides have it.
	larger := primary.Volume
	if secondary.Volume > larger {
		larger = secondary.Volume
	}
	rep.VolumeVariance = primary.Volume - secondary.Volume
	if rep.VolumeVariance < 0 {
		rep.VolumeVariance = -rep.VolumeVariance
	}
	if primary.Volume > 0 && secondary.Volume > 0 &&
		float64(rep.VolumeVariance) > float64(larger)*pol.VolumeVariancePct/100 {
		rep.Issues = append(rep.Issues, fmt.Sprintf(
			"volume variance %d exceeds %.0f%% of %d", rep.VolumeVariance, pol.VolumeVariancePct, larger))
	}

	rep.TimestampSkew = primary.Timestamp.Sub(secondary.Timestamp)
	if rep.TimestampSkew < 0 {
		rep.TimestampSkew = -rep.TimestampSkew
	}
	if rep.TimestampSkew > pol.MaxTimestampSkew {
		rep.Issues = append(rep.Issues, fmt.Sprintf(
			"timestamp skew %s exceeds %s", rep.TimestampSkew.Round(time.Second), pol.MaxTimestampSkew))
	}

	rep.HasDiscrepancies = len(rep.Issues) > 0

	winner := primary
	if secondary.Timestamp.After(primary.Timestamp) {
		winner = secondary
	} else if secondary.Timestamp.Equal(primary.Timestamp) && secondary.Vendor == primaryVendor {
		winner = secondary
	}
	rep.RecommendedVendor = winner.Vendor
	return winner, rep
}
