package aggregate

import (
	"sync"
	"time"
)

// Stats is a read-only snapshot of the aggregator's counters.
type Stats struct {
	StartedAt      time.Time         `json:"started_at"`
	TotalRequests  uint64            `json:"total_requests"`
	Successes      uint64            `json:"successes"`
	Failures       uint64            `json:"failures"`
	ProviderUsage  map[string]uint64 `json:"provider_usage"`
	CacheHits      uint64            `json:"cache_hits"`
	CacheMisses    uint64            `json:"cache_misses"`
	FailoverEvents uint64            `json:"failover_events"`
	Discrepancies  uint64            `json:"discrepancies"`
}

// counters is the mutable half, owned by the Aggregator and mutated under
// its own small mutex so stat updates never serialize provider calls.
type counters struct {
	mu        sync.Mutex
	startedAt time.Time
	total     uint64
	successes uint64
	failures  uint64
	usage     map[string]uint64
	failovers uint64
	quality   uint64
}

func newCounters() *counters {
	return &counters{startedAt: time.Now().UTC(), usage: make(map[string]uint64)}
}

func (c *counters) request() {
	c.mu.Lock()
	c.total++
	c.mu.Unlock()
}

func (c *counters) requestN(n int) {
	c.mu.Lock()
	c.total += uint64(n)
	c.mu.Unlock()
}

func (c *counters) success(vendor string, failedOver bool) {
	c.mu.Lock()
	c.successes++
	c.usage[vendor]++
	if failedOver {
		c.failovers++
	}
	c.mu.Unlock()
}

func (c *counters) failure() {
	c.mu.Lock()
	c.failures++
	c.mu.Unlock()
}

func (c *counters) discrepancy() {
	c.mu.Lock()
	c.quality++
	c.mu.Unlock()
}

// snapshot copies the counters into an immutable Stats value.
func (c *counters) snapshot() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	usage := make(map[string]uint64, len(c.usage))
	for k, v := range c.usage {
		usage[k] = v
	}
	return Stats{
		StartedAt:      c.startedAt,
		TotalRequests:  c.total,
		Successes:      c.successes,
		Failures:       c.failures,
		ProviderUsage:  usage,
		FailoverEvents: c.failovers,
		Discrepancies:  c.quality,
	}
}
