package ratelimit

import (
	"math"
	"sync"
	"time"
)

// WaitForever is the sentinel wait reported when a bucket can never refill
// (non-positive refill rate). Kept finite so it stays printable.
const WaitForever = 9999

// Bucket is a lazily-refilled token bucket. Tokens are recomputed from the
// elapsed monotonic time on every operation; no background timer touches it.
type Bucket struct {
	mu       sync.Mutex
	capacity float64
	rate     float64 // tokens per second
	tokens   float64
	last     time.Time
	now      func() time.Time
}

// NewBucket returns a full bucket with the given burst capacity and refill
// rate in tokens per second.
func NewBucket(capacity, rate float64) *Bucket {
	return newBucket(capacity, rate, time.Now)
}

func newBucket(capacity, rate float64, now func() time.Time) *Bucket {
	return &Bucket{
		capacity: capacity,
		rate:     rate,
		tokens:   capacity,
		last:     now(),
		now:      now,
	}
}

// refill recomputes the balance; callers must hold mu.
// time.Time carries Go's monotonic clock reading, so Sub is immune to
// wall-clock adjustments.
func (b *Bucket) refill(now time.Time) {
	if b.rate > 0 {
		if elapsed := now.Sub(b.last).Seconds(); elapsed > 0 {
			b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
		}
	}
	b.last = now
}

// Allow tries to consume cost tokens. When denied, the second return value
// estimates the seconds until the deficit refills.
func (b *Bucket) Allow(cost float64) (bool, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	if b.tokens >= cost {
		b.tokens -= cost
		return true, 0
	}
	if b.rate <= 0 {
		return false, WaitForever
	}
	return false, (cost - b.tokens) / b.rate
}

// Status reports the current balance and refill rate without consuming.
func (b *Bucket) Status() (float64, float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	return b.tokens, b.rate
}

// Refund returns cost tokens to the bucket, clamped at capacity.
func (b *Bucket) Refund(cost float64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.refill(b.now())
	b.tokens = math.Min(b.capacity, b.tokens+cost)
}
