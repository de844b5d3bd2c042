package ratelimit

import (
	"sync"
	"time"
)

type keyedEntry struct {
	bucket    *Bucket
	lastTouch time.Time
}

// KeyedBuckets maps user ids to independent buckets sharing one
// capacity/rate policy. Entries are created lazily and always seeded full,
// whether the first touch is an allow or a refund, and evicted by SweepIdle
// so the map stays bounded under sustained unique-user traffic.
type KeyedBuckets struct {
	mu       sync.Mutex
	capacity float64
	rate     float64
	entries  map[int64]*keyedEntry
	now      func() time.Time
}

func NewKeyedBuckets(capacity, rate float64) *KeyedBuckets {
	return &KeyedBuckets{
		capacity: capacity,
		rate:     rate,
		entries:  make(map[int64]*keyedEntry),
		now:      time.Now,
	}
}

// get returns the key's entry, creating a full bucket on first touch.
func (k *KeyedBuckets) get(id int64) *keyedEntry {
	k.mu.Lock()
	defer k.mu.Unlock()

	e, ok := k.entries[id]
	if !ok {
		e = &keyedEntry{bucket: newBucket(k.capacity, k.rate, k.now)}
		k.entries[id] = e
	}
	e.lastTouch = k.now()
	return e
}

// Allow consumes cost tokens from the key's bucket.
func (k *KeyedBuckets) Allow(id int64, cost float64) (bool, float64) {
	return k.get(id).bucket.Allow(cost)
}

// Refund returns cost tokens to the key's bucket, clamped at capacity.
func (k *KeyedBuckets) Refund(id int64, cost float64) {
	k.get(id).bucket.Refund(cost)
}

// Status reports the key's current balance and refill rate.
func (k *KeyedBuckets) Status(id int64) (float64, float64) {
	return k.get(id).bucket.Status()
}

// Len reports the number of buckets currently held.
func (k *KeyedBuckets) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// SweepIdle evicts buckets untouched for longer than olderThan and returns
// the number evicted. An evicted user simply reappears later with a full
// bucket, which is what an idle period earns anyway.
func (k *KeyedBuckets) SweepIdle(olderThan time.Duration) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	cutoff := k.now().Add(-olderThan)
	evicted := 0
	for id, e := range k.entries {
		if e.lastTouch.Before(cutoff) {
			delete(k.entries, id)
			evicted++
		}
	}
	return evicted
}
