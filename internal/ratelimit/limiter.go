package ratelimit

import (
	"context"

	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/logger"
	"go.uber.org/zap"
)

// New builds the rate limiter for a deployment. It prefers the shared
// Redis store; when the store is unreachable at startup the in-process
// limiter is substituted so the gateway degrades instead of failing
// closed on its own limiter. A reachable store is still shadowed by an
// in-process fallback for mid-flight store outages.
func New(cfg config.RateLimitConfig, redisCfg config.RedisConfig, log *logger.Logger) Limiter {
	redisLimiter, err := NewRedisLimiter(cfg, redisCfg, log)
	if err != nil {
		log.Warn("Rate limit store unreachable, using in-memory limiter",
			zap.Error(err),
		)
		return NewMemoryLimiter(cfg, log)
	}

	return &failoverLimiter{
		primary:  redisLimiter,
		fallback: NewMemoryLimiter(cfg, log),
		logger:   log,
	}
}

// failoverLimiter delegates to the shared-store limiter and falls back
// to the in-process one when a store round trip fails or times out.
// The request pipeline never blocks indefinitely on limiter I/O and is
// never failed closed by store errors.
type failoverLimiter struct {
	primary  *RedisLimiter
	fallback *MemoryLimiter
	logger   *logger.Logger
}

func (f *failoverLimiter) Check(ctx context.Context, identifier string) (Result, error) {
	result, err := f.primary.Check(ctx, identifier)
	if err != nil {
		f.logger.Warn("Rate limit store check failed, using in-memory fallback",
			zap.Error(err),
		)
		return f.fallback.Check(ctx, identifier)
	}
	return result, nil
}

func (f *failoverLimiter) Reset(ctx context.Context, identifier string) error {
	if err := f.primary.Reset(ctx, identifier); err != nil {
		return f.fallback.Reset(ctx, identifier)
	}
	return f.fallback.Reset(ctx, identifier)
}

func (f *failoverLimiter) Usage(ctx context.Context, identifier string) (int, int, error) {
	used, available, err := f.primary.Usage(ctx, identifier)
	if err != nil {
		return f.fallback.Usage(ctx, identifier)
	}
	return used, available, nil
}
