package quote

import (
	"fmt"
	"time"
)

// MaxClockSkew is how far into the future a vendor timestamp may sit
// before the quote is rejected (consumer clock tolerance).
const MaxClockSkew = 5 * time.Minute

// Violations checks the Quote invariants and returns human-readable
// descriptions of every broken one. An empty slice means the quote is valid.
//
// freshness applies only to realtime data: a realtime quote older than the
// window is rejected for live use. Daily and intraday history is exempt.
// A freshness of 0 disables the staleness check.
func Violations(q Quote, kind Kind, freshness time.Duration, now time.Time) []string {
	var out []string
	if q.Symbol == "" {
		out = append(out, "empty symbol")
	}
	if !q.Price.IsPositive() {
		out = append(out, fmt.Sprintf("price %s is not positive", q.Price))
	}
	if q.Volume < 0 {
		out = append(out, fmt.Sprintf("volume %d is negative", q.Volume))
	}
	if q.High.LessThan(q.Low) {
		out = append(out, fmt.Sprintf("high %s below low %s", q.High, q.Low))
	}
	if q.Price.GreaterThan(q.High) || q.Price.LessThan(q.Low) {
		out = append(out, fmt.Sprintf("price %s outside [%s, %s]", q.Price, q.Low, q.High))
	}
	if q.Timestamp.After(now.Add(MaxClockSkew)) {
		out = append(out, fmt.Sprintf("timestamp %s is in the future", q.Timestamp.Format(time.RFC3339)))
	}
	if kind == KindRealtime && freshness > 0 && !q.Timestamp.IsZero() && now.Sub(q.Timestamp) > freshness {
		out = append(out, fmt.Sprintf("realtime quote is stale: %s old", now.Sub(q.Timestamp).Round(time.Second)))
	}
	return out
}

// Valid reports whether the quote satisfies every invariant.
func Valid(q Quote, kind Kind, freshness time.Duration, now time.Time) bool {
	return len(Violations(q, kind, freshness, now)) == 0
}
