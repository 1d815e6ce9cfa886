// Package venue holds the shared REST/WS plumbing both concrete Venue
// Adapters (binance, bybit) build on: HMAC request signing, a client-side
// REST deadline, and per-category rate limiting. Adapted from the
// teacher's internal/exchange/{ratelimit,auth}.go — continuous-refill
// token buckets and an HMAC-over-canonical-string signer — generalized
// from Polymarket's single signing scheme to the spec's two conventions
// (sorted-query vs insertion-order) and grounded further by
// _examples/original_source/src/backend/bybit/rate_limits.rs, which
// tracks IP-wide and per-endpoint limits as distinct buckets.
package venue

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is a continuous-refill rate limiter (teacher's
// internal/exchange/ratelimit.go TokenBucket, unchanged in shape).
type TokenBucket struct {
	mu       sync.Mutex
	tokens   float64
	capacity float64
	rate     float64
	lastTime time.Time
}

// NewTokenBucket creates a bucket with the given burst capacity and
// steady-state refill rate (tokens per second).
func NewTokenBucket(capacity, ratePerSecond float64) *TokenBucket {
	return &TokenBucket{tokens: capacity, capacity: capacity, rate: ratePerSecond, lastTime: time.Now()}
}

// Wait blocks until a token is available or ctx is cancelled.
func (tb *TokenBucket) Wait(ctx context.Context) error {
	for {
		tb.mu.Lock()
		now := time.Now()
		elapsed := now.Sub(tb.lastTime).Seconds()
		tb.tokens += elapsed * tb.rate
		if tb.tokens > tb.capacity {
			tb.tokens = tb.capacity
		}
		tb.lastTime = now

		if tb.tokens >= 1 {
			tb.tokens--
			tb.mu.Unlock()
			return nil
		}

		wait := time.Duration((1 - tb.tokens) / tb.rate * float64(time.Second))
		tb.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// RateLimiter groups the IP-wide and per-endpoint-category buckets a venue
// adapter enforces before issuing a REST call (spec.md §5 "Venue Adapters
// are shared... their client pool is internally concurrent-safe").
type RateLimiter struct {
	IP     *TokenBucket // whole-adapter ceiling, mirrors original_source's IPLimits
	Order  *TokenBucket
	Cancel *TokenBucket
	Query  *TokenBucket
}

// NewRateLimiter returns conservative defaults; call sites override per
// venue if the wire docs specify tighter limits.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		IP:     NewTokenBucket(1200, 20),
		Order:  NewTokenBucket(100, 10),
		Cancel: NewTokenBucket(100, 10),
		Query:  NewTokenBucket(600, 10),
	}
}

// Wait acquires both the IP-wide and the category-specific bucket.
func (r *RateLimiter) Wait(ctx context.Context, bucket *TokenBucket) error {
	if err := r.IP.Wait(ctx); err != nil {
		return err
	}
	return bucket.Wait(ctx)
}
