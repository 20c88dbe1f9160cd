// Package health tracks per-vendor failure state and drives the circuit
// breaker the aggregator consults before routing a request.
package health

import (
	"sync"
	"time"
)

// State is the circuit state for one vendor.
type State int

const (
	Closed State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "closed"
}

// VendorHealth is a read-only snapshot of one vendor's bookkeeping.
type VendorHealth struct {
	Vendor              string    `json:"vendor"`
	ConsecutiveFailures int       `json:"consecutive_failures"`
	LastFailure         time.Time `json:"last_failure,omitzero"`
	State               State     `json:"-"`
	CircuitState        string    `json:"circuit_state"`
}

// FailureEvent is emitted to observers on every recorded failure.
type FailureEvent struct {
	Vendor              string
	Err                 error
	ConsecutiveFailures int
	At                  time.Time
}

type vendorEntry struct {
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
}

// Tracker owns one entry per vendor. Entries carry their own mutex so
// concurrent lookups for unrelated vendors never serialize on a global
// lock. State lives for the process lifetime and resets to Closed on
// restart; nothing is persisted.
type Tracker struct {
	openTimeout time.Duration
	observers   []func(FailureEvent)

	mu      sync.RWMutex // guards the map, not the entries
	vendors map[string]*vendorEntry
}

// NewTracker builds a tracker whose circuits stay open for openTimeout
// after the last recorded failure. Observers are invoked synchronously on
// each failure, outside any lock.
func NewTracker(openTimeout time.Duration, observers ...func(FailureEvent)) *Tracker {
	if openTimeout <= 0 {
		openTimeout = time.Minute
	}
	return &Tracker{
		openTimeout: openTimeout,
		observers:   observers,
		vendors:     make(map[string]*vendorEntry),
	}
}

func (t *Tracker) entry(vendor string) *vendorEntry {
	t.mu.RLock()
	e, ok := t.vendors[vendor]
	t.mu.RUnlock()
	if ok {
		return e
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok = t.vendors[vendor]; ok {
		return e
	}
	e = &vendorEntry{}
	t.vendors[vendor] = e
	return e
}

// RecordFailure bumps the vendor's consecutive-failure count and restarts
// the open window.
func (t *Tracker) RecordFailure(vendor string, err error) {
	e := t.entry(vendor)
	e.mu.Lock()
	e.failures++
	e.lastFailure = time.Now()
	ev := FailureEvent{
		Vendor:              vendor,
		Err:                 err,
		ConsecutiveFailures: e.failures,
		At:                  e.lastFailure,
	}
	e.mu.Unlock()

	for _, obs := range t.observers {
		obs(ev)
	}
}

// RecordSuccess clears the failure counter and closes the circuit
// immediately. The first caller after the open window is the probe; there
// is no separate half-open timer.
func (t *Tracker) RecordSuccess(vendor string) {
	e := t.entry(vendor)
	e.mu.Lock()
	e.failures = 0
	e.lastFailure = time.Time{}
	e.mu.Unlock()
}

// IsOpen reports whether the vendor's circuit is open: at least one
// recorded failure, and the open window since the last one has not elapsed.
func (t *Tracker) IsOpen(vendor string) bool {
	e := t.entry(vendor)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.failures > 0 && time.Since(e.lastFailure) < t.openTimeout
}

// Snapshot returns the current bookkeeping for every known vendor.
func (t *Tracker) Snapshot() []VendorHealth {
	t.mu.RLock()
	names := make([]string, 0, len(t.vendors))
	for name := range t.vendors {
		names = append(names, name)
	}
	t.mu.RUnlock()

	out := make([]VendorHealth, 0, len(names))
	for _, name := range names {
		e := t.entry(name)
		e.mu.Lock()
		st := Closed
		if e.failures > 0 && time.Since(e.lastFailure) < t.openTimeout {
			st = Open
		}
		out = append(out, VendorHealth{
			Vendor:              name,
			ConsecutiveFailures: e.failures,
			LastFailure:         e.lastFailure,
			State:               st,
			CircuitState:        st.String(),
		})
		e.mu.Unlock()
	}
	return out
}
