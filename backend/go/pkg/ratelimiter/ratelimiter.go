package ratelimiter

import (
	"sync"
	"time"
)

// RateLimiter is the interface for rate limiting.
type RateLimiter interface {
	// Allow returns true if the request is allowed, otherwise returns false.
	Allow() bool
}

// Keyed keeps one TokenBucket per key (e.g. per user) so one caller cannot
// exhaust the chat budget of everyone else.
type Keyed struct {
	rate     float64
	capacity int
	now      func() time.Time

	mu      sync.Mutex
	buckets map[string]*TokenBucket
}

// NewKeyed creates a per-key token bucket limiter.
func NewKeyed(rate float64, capacity int) *Keyed {
	return &Keyed{
		rate:     rate,
		capacity: capacity,
		now:      time.Now,
		buckets:  make(map[string]*TokenBucket),
	}
}

// Allow consumes a token from key's bucket.
func (k *Keyed) Allow(key string) bool {
	k.mu.Lock()
	b, ok := k.buckets[key]
	if !ok {
		b = newTokenBucket(k.rate, k.capacity, k.now)
		k.buckets[key] = b
	}
	k.mu.Unlock()
	return b.Allow()
}

// Prune drops buckets untouched for at least idleFor and returns how many were removed.
func (k *Keyed) Prune(idleFor time.Duration) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	removed := 0
	for key, b := range k.buckets {
		if b.idle(idleFor) {
			delete(k.buckets, key)
			removed++
		}
	}
	return removed
}
