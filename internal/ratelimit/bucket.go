package ratelimit

import (
	"context"
	"math"
	"time"
)

// Result of a rate limit check
type Result struct {
	Allowed    bool  `json:"allowed"`
	Remaining  int   `json:"remaining"`
	ResetTime  int64 `json:"reset_time"`
	RetryAfter int   `json:"retry_after,omitempty"`
}

// Limiter is the uniform check/reset/usage contract shared by the
// Redis-backed and in-process implementations.
type Limiter interface {
	// Check consumes one token for the identifier if available
	Check(ctx context.Context, identifier string) (Result, error)
	// Reset clears accumulated state for the identifier
	Reset(ctx context.Context, identifier string) error
	// Usage returns (used, available) token counts for the identifier
	Usage(ctx context.Context, identifier string) (int, int, error)
}

// Bucket holds the token bucket parameters and implements the
// continuous-refill accounting math. It performs no I/O; both limiter
// variants delegate their decisions to it so that identical
// (tokens, lastRefill, now) inputs produce identical results.
type Bucket struct {
	Rate       int     // requests per minute
	BurstSize  int     // maximum tokens that can accumulate
	RefillRate float64 // tokens per second
}

// NewBucket creates token bucket parameters
func NewBucket(requestsPerMinute, burstSize int) Bucket {
	return Bucket{
		Rate:       requestsPerMinute,
		BurstSize:  burstSize,
		RefillRate: float64(requestsPerMinute) / 60.0,
	}
}

// Refill returns the token count after continuous refill, capped at
// the burst size. Timestamps are unix seconds with fractional part.
func (b Bucket) Refill(tokens, lastRefill, now float64) float64 {
	elapsed := now - lastRefill
	if elapsed < 0 {
		elapsed = 0
	}
	return math.Min(tokens+elapsed*b.RefillRate, float64(b.BurstSize))
}

// Consume attempts to take one token. When denied, retryAfter always
// rounds up so a caller never retries too early.
func (b Bucket) Consume(tokens float64) (allowed bool, newTokens float64, retryAfter int) {
	if tokens >= 1 {
		return true, tokens - 1, 0
	}

	timeForToken := (1 - tokens) / b.RefillRate
	return false, tokens, int(timeForToken) + 1
}

// ResetTime returns the unix timestamp at which the bucket would be
// full again, given the post-decision token count.
func (b Bucket) ResetTime(tokens, now float64) int64 {
	tokensUntilFull := float64(b.BurstSize) - tokens
	return int64(now + tokensUntilFull/b.RefillRate)
}

// nowSeconds returns the current time as fractional unix seconds
func nowSeconds() float64 {
	return float64(time.Now().UnixMicro()) / 1e6
}
