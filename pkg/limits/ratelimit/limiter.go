package ratelimit

import (
	"sync"
	"time"
)

// Recorder receives rate limiting events for the metrics surface.
type Recorder interface {
	RateLimitDenied()
}

type nopRecorder struct{}

func (nopRecorder) RateLimitDenied() {}

// Limiter admits or denies requests per identity using lazily created
// token buckets. capacity (burst) and refill rate are shared by all
// identities; each identity gets its own bucket on first sight.
//
// The identity map is guarded by a read-write mutex while each bucket
// carries its own lock, so admissions for different identities do not
// serialize on a global lock.
type Limiter struct {
	capacity   float64
	refillRate float64
	recorder   Recorder

	mu      sync.RWMutex
	buckets map[string]*bucket

	// now is the clock, replaceable in tests.
	now func() time.Time
}

// NewLimiter creates a limiter admitting requestsPerMinute sustained with
// bursts up to burst. recorder may be nil.
func NewLimiter(requestsPerMinute int, burst int, recorder Recorder) *Limiter {
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Limiter{
		capacity:   float64(burst),
		refillRate: float64(requestsPerMinute) / 60.0,
		recorder:   recorder,
		buckets:    make(map[string]*bucket),
		now:        time.Now,
	}
}

// Admit consumes one token from identity's bucket, creating the bucket on
// first sight. It returns false without consuming when the bucket is
// empty.
func (l *Limiter) Admit(identity string) bool {
	now := l.now()

	l.mu.RLock()
	b, ok := l.buckets[identity]
	l.mu.RUnlock()

	if !ok {
		l.mu.Lock()
		// Another caller may have created it between the locks.
		b, ok = l.buckets[identity]
		if !ok {
			b = newBucket(l.capacity, l.refillRate, now)
			l.buckets[identity] = b
		}
		l.mu.Unlock()
	}

	allowed := b.take(now)
	if !allowed {
		l.recorder.RateLimitDenied()
	}
	return allowed
}

// Reap discards buckets idle longer than maxIdle, bounding memory when
// identity cardinality is high. It returns the number of buckets
// discarded. The retention job calls this on a schedule.
func (l *Limiter) Reap(maxIdle time.Duration) int {
	cutoff := l.now().Add(-maxIdle)

	l.mu.Lock()
	defer l.mu.Unlock()

	reaped := 0
	for identity, b := range l.buckets {
		if b.idleSince(cutoff) {
			delete(l.buckets, identity)
			reaped++
		}
	}
	return reaped
}

// Len returns the number of tracked identities.
func (l *Limiter) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.buckets)
}
