// Package ratelimit provides a deterministic token bucket used to cap the
// per-connection signaling message rate.
package ratelimit

import (
	"sync"
	"time"
)

// One token is 1e9 nano-tokens, so a rate of X tokens/sec adds exactly X
// nano-tokens per elapsed nanosecond. Fixed point avoids float drift.
const nanosPerToken int64 = int64(time.Second)

const maxInt64 = int64(^uint64(0) >> 1)

// TokenBucket refills at an integer rate (tokens/sec) using the provided
// Clock. It is safe for concurrent use.
type TokenBucket struct {
	mu sync.Mutex

	clock Clock

	capacity int64 // tokens
	rate     int64 // tokens/sec

	available int64 // nano-tokens
	last      time.Time
}

// NewTokenBucket returns a bucket that starts full. A nil clock means the
// wall clock.
func NewTokenBucket(clock Clock, capacity, rate int64) *TokenBucket {
	if clock == nil {
		clock = RealClock{}
	}
	if capacity < 0 {
		capacity = 0
	}
	if rate < 0 {
		rate = 0
	}
	return &TokenBucket{
		clock:     clock,
		capacity:  capacity,
		rate:      rate,
		available: tokensToNanos(capacity),
		last:      clock.Now(),
	}
}

// Allow consumes n tokens if available. n <= 0 always succeeds.
func (b *TokenBucket) Allow(n int64) bool {
	if n <= 0 {
		return true
	}
	cost := tokensToNanos(n)

	b.mu.Lock()
	defer b.mu.Unlock()

	b.refillLocked()

	if b.available < cost {
		return false
	}
	b.available -= cost
	return true
}

func (b *TokenBucket) refillLocked() {
	now := b.clock.Now()
	if now.Before(b.last) {
		// Time went backwards; re-anchor without refilling.
		b.last = now
		return
	}
	elapsed := now.Sub(b.last)
	if elapsed <= 0 {
		return
	}
	b.last = now

	if b.rate <= 0 || b.capacity <= 0 {
		return
	}

	capNanos := tokensToNanos(b.capacity)
	if b.available >= capNanos {
		b.available = capNanos
		return
	}

	// elapsed*rate can overflow for long idle periods; if the elapsed time is
	// enough to fill the bucket, clamp instead of multiplying.
	need := capNanos - b.available
	nanos := elapsed.Nanoseconds()
	if fillTime := need / b.rate; fillTime <= 0 || nanos >= fillTime {
		b.available = capNanos
		return
	}

	b.available += nanos * b.rate
	if b.available > capNanos {
		b.available = capNanos
	}
}

func tokensToNanos(tokens int64) int64 {
	if tokens <= 0 {
		return 0
	}
	if tokens > maxInt64/nanosPerToken {
		return maxInt64
	}
	return tokens * nanosPerToken
}
