package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/logger"
	"go.uber.org/zap"
)

// bucketState is the per-identifier (tokens, last_refill) pair
type bucketState struct {
	mu         sync.Mutex
	tokens     float64
	lastRefill float64
}

// MemoryLimiter keeps bucket state in a process-local map. It produces
// decisions numerically identical to RedisLimiter for the same inputs,
// but state is not shared across instances, so it is unsuitable for
// multi-instance deployments. It serves as the designated fallback
// when the shared store is unreachable.
type MemoryLimiter struct {
	bucket  Bucket
	mu      sync.RWMutex
	buckets map[string]*bucketState
	logger  *logger.Logger
}

// NewMemoryLimiter creates an in-process rate limiter
func NewMemoryLimiter(cfg config.RateLimitConfig, log *logger.Logger) *MemoryLimiter {
	log.Info("In-memory rate limiter initialized",
		zap.Int("requests_per_minute", cfg.RequestsPerMinute),
		zap.Int("burst_size", cfg.BurstSize),
	)

	return &MemoryLimiter{
		bucket:  NewBucket(cfg.RequestsPerMinute, cfg.BurstSize),
		buckets: make(map[string]*bucketState),
		logger:  log,
	}
}

// getBucket gets or creates the bucket state for an identifier.
// First use initializes a full bucket, so a fresh caller always gets
// the full burst allowance.
func (m *MemoryLimiter) getBucket(identifier string, now float64) *bucketState {
	m.mu.RLock()
	st, exists := m.buckets[identifier]
	m.mu.RUnlock()

	if exists {
		return st
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock
	if st, exists := m.buckets[identifier]; exists {
		return st
	}

	st = &bucketState{
		tokens:     float64(m.bucket.BurstSize),
		lastRefill: now,
	}
	m.buckets[identifier] = st
	return st
}

// Check consumes one token for the identifier if available
func (m *MemoryLimiter) Check(ctx context.Context, identifier string) (Result, error) {
	now := nowSeconds()
	st := m.getBucket(identifier, now)

	st.mu.Lock()
	defer st.mu.Unlock()

	tokens := m.bucket.Refill(st.tokens, st.lastRefill, now)
	allowed, tokens, retryAfter := m.bucket.Consume(tokens)

	st.tokens = tokens
	st.lastRefill = now

	result := Result{
		Allowed:   allowed,
		Remaining: int(tokens),
		ResetTime: m.bucket.ResetTime(tokens, now),
	}
	if !allowed {
		result.RetryAfter = retryAfter
	}

	return result, nil
}

// Reset clears accumulated state for the identifier
func (m *MemoryLimiter) Reset(ctx context.Context, identifier string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets, identifier)
	return nil
}

// Usage returns (used, available) token counts for the identifier
func (m *MemoryLimiter) Usage(ctx context.Context, identifier string) (int, int, error) {
	m.mu.RLock()
	st, exists := m.buckets[identifier]
	m.mu.RUnlock()

	if !exists {
		return 0, m.bucket.BurstSize, nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	available := int(st.tokens)
	return m.bucket.BurstSize - available, available, nil
}

// CleanupStale removes buckets idle longer than the state TTL to
// prevent unbounded growth. Eviction is safe because a missing bucket
// is equivalent to a full one.
func (m *MemoryLimiter) CleanupStale() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := nowSeconds() - stateTTL.Seconds()
	for identifier, st := range m.buckets {
		st.mu.Lock()
		if st.lastRefill < cutoff {
			delete(m.buckets, identifier)
		}
		st.mu.Unlock()
	}
}

// StartCleanupRoutine starts a background routine that periodically
// evicts stale buckets until the context is cancelled.
func (m *MemoryLimiter) StartCleanupRoutine(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.CleanupStale()
			}
		}
	}()
}
