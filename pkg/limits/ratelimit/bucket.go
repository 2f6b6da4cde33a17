// Package ratelimit implements per-identity token bucket rate limiting
// for connection admission.
package ratelimit

import (
	"sync"
	"time"
)

// bucket is the token bucket for a single identity.
//
// Tokens are refilled lazily at admission time from the elapsed wall
// time: elapsed * rate, capped at capacity. Tokens are tracked as a
// float64 so fractional refill is never lost to truncation. Admission
// reads, refills, and decrements under one lock, so concurrent callers
// on the same identity never lose a decrement.
type bucket struct {
	mu         sync.Mutex
	tokens     float64
	capacity   float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	lastUsed   time.Time
}

func newBucket(capacity float64, refillRate float64, now time.Time) *bucket {
	return &bucket{
		tokens:     capacity, // start full: a new identity gets its burst
		capacity:   capacity,
		refillRate: refillRate,
		lastRefill: now,
		lastUsed:   now,
	}
}

// take refills from elapsed time, then consumes one token if available.
// It returns false, leaving only the refill applied, when the bucket is
// empty.
func (b *bucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed > 0 {
		b.tokens += elapsed * b.refillRate
		if b.tokens > b.capacity {
			b.tokens = b.capacity
		}
		b.lastRefill = now
	}
	b.lastUsed = now

	if b.tokens >= 1 {
		b.tokens--
		return true
	}
	return false
}

// idleSince reports whether the bucket has been unused since before
// cutoff.
func (b *bucket) idleSince(cutoff time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastUsed.Before(cutoff)
}
