// Package server implements a leaky bucket rate limiter for per-session
// throttling that protects the service from abusive senders.
package server

import (
	"math"
	"time"

	"golang.org/x/time/rate"
)

// LeakyBucket admits sends while its fill level stays within capacity. The
// level drains continuously at leakRate units per second and is evaluated
// lazily on each call.
//
// The level is kept as capacity minus the tokens of a rate.Limiter with
// limit leakRate and burst capacity; the two models admit exactly the same
// sequences.
type LeakyBucket struct {
	limiter  *rate.Limiter
	capacity int
	leakRate float64
	now      func() time.Time
}

// NewLeakyBucket creates an empty bucket.
func NewLeakyBucket(capacity int, leakRate float64) *LeakyBucket {
	return newLeakyBucketWithClock(capacity, leakRate, time.Now)
}

func newLeakyBucketWithClock(capacity int, leakRate float64, now func() time.Time) *LeakyBucket {
	if capacity <= 0 {
		capacity = 1
	}
	if leakRate <= 0 {
		leakRate = 1
	}

	return &LeakyBucket{
		limiter:  rate.NewLimiter(rate.Limit(leakRate), capacity),
		capacity: capacity,
		leakRate: leakRate,
		now:      now,
	}
}

// Admit adds cost to the bucket if it fits. When it does not, the level is
// left untouched and wait estimates how long until the same cost would fit.
func (b *LeakyBucket) Admit(cost int) (ok bool, wait time.Duration) {
	if cost <= 0 {
		cost = 1
	}

	now := b.now()
	if b.limiter.AllowN(now, cost) {
		return true, 0
	}

	level := b.levelAt(now)
	seconds := math.Ceil((level + float64(cost) - float64(b.capacity)) / b.leakRate)
	if seconds < 1 {
		seconds = 1
	}
	return false, time.Duration(seconds) * time.Second
}

// Level reports the current fill level in [0, capacity].
func (b *LeakyBucket) Level() float64 {
	return b.levelAt(b.now())
}

func (b *LeakyBucket) levelAt(now time.Time) float64 {
	level := float64(b.capacity) - b.limiter.TokensAt(now)
	return math.Min(math.Max(level, 0), float64(b.capacity))
}

// Capacity returns the bucket size.
func (b *LeakyBucket) Capacity() int {
	return b.capacity
}
