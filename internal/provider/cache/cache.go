package cache

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 16

type entry[V any] struct {
	value     V
	expiresAt time.Time
}

type shard[V any] struct {
	mu    sync.RWMutex
	items map[string]entry[V]
}

// Cache is a generic key->value store with per-entry expiry. Entries expire
// lazily on Get; the optional sweeper only reclaims memory and is not
// load-bearing for correctness. The map is sharded so concurrent lookups
// for unrelated symbols never contend on one lock.
//
// The cache is not authoritative: a miss must always be resolvable by a
// fresh fetch, and writes are last-wins.
type Cache[V any] struct {
	shards [shardCount]shard[V]

	hits   atomic.Uint64
	misses atomic.Uint64
}

func New[V any]() *Cache[V] {
	c := &Cache[V]{}
	for i := range c.shards {
		c.shards[i].items = make(map[string]entry[V])
	}
	return c
}

func (c *Cache[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return &c.shards[h.Sum32()%shardCount]
}

// Get returns the live value for key. A stale entry counts as a miss and is
// removed.
func (c *Cache[V]) Get(key string) (V, bool) {
	s := c.shardFor(key)
	s.mu.RLock()
	e, ok := s.items[key]
	s.mu.RUnlock()
	if ok && time.Now().Before(e.expiresAt) {
		c.hits.Add(1)
		return e.value, true
	}
	if ok {
		s.mu.Lock()
		// Re-check: a fresh Set may have raced the removal.
		if cur, still := s.items[key]; still && !time.Now().Before(cur.expiresAt) {
			delete(s.items, key)
		}
		s.mu.Unlock()
	}
	c.misses.Add(1)
	var zero V
	return zero, false
}

// Set stores value under key for ttl. A non-positive ttl stores nothing.
func (c *Cache[V]) Set(key string, value V, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	s := c.shardFor(key)
	s.mu.Lock()
	s.items[key] = entry[V]{value: value, expiresAt: time.Now().Add(ttl)}
	s.mu.Unlock()
}

// Len counts live and not-yet-swept entries.
func (c *Cache[V]) Len() int {
	n := 0
	for i := range c.shards {
		c.shards[i].mu.RLock()
		n += len(c.shards[i].items)
		c.shards[i].mu.RUnlock()
	}
	return n
}

// Stats returns cumulative hit and miss counts.
func (c *Cache[V]) Stats() (hits, misses uint64) {
	return c.hits.Load(), c.misses.Load()
}

// StartSweeper removes expired entries every interval until ctx is done.
func (c *Cache[V]) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				c.sweep(time.Now())
			}
		}
	}()
}

func (c *Cache[V]) sweep(now time.Time) {
	for i := range c.shards {
		s := &c.shards[i]
		s.mu.Lock()
		for k, e := range s.items {
			if !now.Before(e.expiresAt) {
				delete(s.items, k)
			}
		}
		s.mu.Unlock()
	}
}
