package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter is a lazily refilled token bucket bounding outbound calls to one
// vendor. Refill happens on access, never via a background timer. Safe for
// concurrent callers; Acquire suspends until a permit is available or the
// caller's context fires.
type Limiter struct {
	rate     float64 // tokens per second
	capacity float64

	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// New builds a limiter allowing requests permits per window, with a burst of
// the full window budget. A non-positive requests or window yields a limiter
// that effectively never grants more than a trickle.
func New(requests int, window time.Duration) *Limiter {
	if requests <= 0 {
		requests = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &Limiter{
		rate:     float64(requests) / window.Seconds(),
		capacity: float64(requests),
		tokens:   float64(requests), // start full to allow an initial burst
		last:     time.Now(),
	}
}

// refillLocked advances the bucket to now. Caller holds mu.
func (l *Limiter) refillLocked(now time.Time) {
	elapsed := now.Sub(l.last).Seconds()
	if elapsed <= 0 {
		return
	}
	l.tokens += elapsed * l.rate
	if l.tokens > l.capacity {
		l.tokens = l.capacity
	}
	l.last = now
}

// Acquire blocks until one permit is available or ctx is cancelled.
// It never fails for "no permit yet"; the only error is the context's.
func (l *Limiter) Acquire(ctx context.Context) error {
	for {
		l.mu.Lock()
		l.refillLocked(time.Now())
		if l.tokens >= 1 {
			l.tokens--
			l.mu.Unlock()
			return nil
		}
		deficit := 1 - l.tokens
		l.mu.Unlock()

		wait := time.Duration(deficit / l.rate * float64(time.Second))
		if wait <= 0 {
			wait = time.Millisecond
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Remaining reports how many whole permits are available right now.
func (l *Limiter) Remaining() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refillLocked(time.Now())
	return int(l.tokens)
}

// ResetAt reports when the next permit becomes available. If one is
// available already it returns the current time.
func (l *Limiter) ResetAt() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := time.Now()
	l.refillLocked(now)
	if l.tokens >= 1 {
		return now
	}
	deficit := 1 - l.tokens
	return now.Add(time.Duration(deficit / l.rate * float64(time.Second)))
}
