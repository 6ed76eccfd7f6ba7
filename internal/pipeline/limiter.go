package pipeline

import (
	"sync/atomic"
	"time"
)

// RateLimiter admits at most one event per interval. It is safe to call
// from the frame callback: Admit performs a single atomic compare-and-swap
// and never blocks or allocates.
type RateLimiter struct {
	interval int64 // nanoseconds
	last     atomic.Int64
}

// NewRateLimiter creates a limiter with the given minimum spacing.
// A non-positive interval falls back to TargetSampleInterval.
func NewRateLimiter(interval time.Duration) *RateLimiter {
	if interval <= 0 {
		interval = TargetSampleInterval
	}
	return &RateLimiter{interval: int64(interval)}
}

// Admit reports whether an event at the given time may proceed. It returns
// true and records the timestamp iff at least one interval has elapsed
// since the last admitted event. The first call always admits. On a false
// return the limiter state is unchanged.
func (r *RateLimiter) Admit(now time.Time) bool {
	ts := now.UnixNano()
	last := r.last.Load()
	if last != 0 && ts-last < r.interval {
		return false
	}
	// CAS rather than a plain store so a concurrent admit cannot double
	// count; the loser of the race is simply not admitted.
	return r.last.CompareAndSwap(last, ts)
}

// Reset forgets the last admitted timestamp; the next Admit call succeeds.
func (r *RateLimiter) Reset() {
	r.last.Store(0)
}
