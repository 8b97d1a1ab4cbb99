package ratelimit

import (
	"context"
	"testing"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/logger"
)

func limitConfig(rpm, burst int) config.RateLimitConfig {
	return config.RateLimitConfig{
		Enabled:           true,
		RequestsPerMinute: rpm,
		BurstSize:         burst,
	}
}

func TestMemoryLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("BurstThenDeny", func(t *testing.T) {
		limiter := NewMemoryLimiter(limitConfig(60, 5), logger.NewNop())

		for i := 0; i < 5; i++ {
			result, err := limiter.Check(ctx, "client-1")
			if err != nil {
				t.Fatalf("Check failed: %v", err)
			}
			if !result.Allowed {
				t.Fatalf("Request %d within burst was denied", i+1)
			}
			if result.Remaining != 4-i {
				t.Errorf("Remaining after request %d = %d, want %d", i+1, result.Remaining, 4-i)
			}
		}

		result, err := limiter.Check(ctx, "client-1")
		if err != nil {
			t.Fatalf("Check failed: %v", err)
		}
		if result.Allowed {
			t.Fatal("Request beyond burst was allowed")
		}
		if result.RetryAfter < 1 {
			t.Errorf("RetryAfter = %d, want >= 1", result.RetryAfter)
		}
		if result.ResetTime <= 0 {
			t.Errorf("ResetTime = %d, want positive unix timestamp", result.ResetTime)
		}
	})

	t.Run("IdentifiersAreIndependent", func(t *testing.T) {
		limiter := NewMemoryLimiter(limitConfig(60, 1), logger.NewNop())

		if result, _ := limiter.Check(ctx, "client-a"); !result.Allowed {
			t.Fatal("First request for client-a denied")
		}
		if result, _ := limiter.Check(ctx, "client-a"); result.Allowed {
			t.Fatal("Second request for client-a allowed past burst")
		}
		if result, _ := limiter.Check(ctx, "client-b"); !result.Allowed {
			t.Fatal("client-b affected by client-a's bucket")
		}
	})

	t.Run("Reset", func(t *testing.T) {
		limiter := NewMemoryLimiter(limitConfig(60, 1), logger.NewNop())

		limiter.Check(ctx, "client-1")
		if result, _ := limiter.Check(ctx, "client-1"); result.Allowed {
			t.Fatal("Bucket not drained before reset")
		}

		if err := limiter.Reset(ctx, "client-1"); err != nil {
			t.Fatalf("Reset failed: %v", err)
		}

		if result, _ := limiter.Check(ctx, "client-1"); !result.Allowed {
			t.Error("Request after reset was denied")
		}
	})

	t.Run("UsageUnknownIdentifier", func(t *testing.T) {
		limiter := NewMemoryLimiter(limitConfig(60, 10), logger.NewNop())

		used, available, err := limiter.Usage(ctx, "never-seen")
		if err != nil {
			t.Fatalf("Usage failed: %v", err)
		}
		if used != 0 || available != 10 {
			t.Errorf("Usage = (%d, %d), want (0, 10)", used, available)
		}
	})

	t.Run("UsageAfterChecks", func(t *testing.T) {
		limiter := NewMemoryLimiter(limitConfig(60, 10), logger.NewNop())

		limiter.Check(ctx, "client-1")
		limiter.Check(ctx, "client-1")
		limiter.Check(ctx, "client-1")

		used, available, err := limiter.Usage(ctx, "client-1")
		if err != nil {
			t.Fatalf("Usage failed: %v", err)
		}
		if used != 3 || available != 7 {
			t.Errorf("Usage = (%d, %d), want (3, 7)", used, available)
		}
	})

	t.Run("CleanupKeepsActiveBuckets", func(t *testing.T) {
		limiter := NewMemoryLimiter(limitConfig(60, 10), logger.NewNop())

		limiter.Check(ctx, "active")
		limiter.CleanupStale()

		limiter.mu.RLock()
		_, exists := limiter.buckets["active"]
		limiter.mu.RUnlock()
		if !exists {
			t.Error("Recently used bucket was evicted")
		}
	})

	t.Run("CleanupEvictsStaleBuckets", func(t *testing.T) {
		limiter := NewMemoryLimiter(limitConfig(60, 10), logger.NewNop())

		limiter.Check(ctx, "stale")
		limiter.mu.Lock()
		limiter.buckets["stale"].lastRefill = nowSeconds() - stateTTL.Seconds() - 1
		limiter.mu.Unlock()

		limiter.CleanupStale()

		limiter.mu.RLock()
		_, exists := limiter.buckets["stale"]
		limiter.mu.RUnlock()
		if exists {
			t.Error("Stale bucket survived cleanup")
		}
	})
}

func TestMemoryLimiterConcurrent(t *testing.T) {
	ctx := context.Background()
	limiter := NewMemoryLimiter(limitConfig(60, 50), logger.NewNop())

	done := make(chan int)
	for g := 0; g < 10; g++ {
		go func() {
			allowed := 0
			for i := 0; i < 10; i++ {
				result, err := limiter.Check(ctx, "shared")
				if err == nil && result.Allowed {
					allowed++
				}
			}
			done <- allowed
		}()
	}

	total := 0
	for g := 0; g < 10; g++ {
		total += <-done
	}

	// 100 concurrent requests against a burst of 50; refill during the
	// test can admit at most a token or two beyond the burst.
	if total < 50 || total > 52 {
		t.Errorf("Allowed %d of 100 requests, want ~50", total)
	}
}
