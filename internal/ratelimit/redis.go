package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/promptgate/promptgate/internal/config"
	"github.com/promptgate/promptgate/internal/logger"
	"go.uber.org/zap"
)

// stateTTL bounds how long silent identifiers keep bucket state. A
// reclaimed key is equivalent to a full bucket, so expiry is safe.
const stateTTL = time.Hour

// tokenBucketScript runs the refill-and-consume step as a single
// atomic transaction on the store. Separate GET/SET round trips would
// lose updates under concurrent checks for the same identifier.
//
// KEYS[1] bucket hash key
// ARGV[1] refill rate (tokens/second)
// ARGV[2] burst size
// ARGV[3] now (unix seconds, fractional)
// ARGV[4] state TTL (seconds)
//
// Returns {allowed, remaining, retry_after, reset_time} with the
// timestamp as a string to survive Redis integer conversion.
const tokenBucketScript = `
local rate = tonumber(ARGV[1])
local burst = tonumber(ARGV[2])
local now = tonumber(ARGV[3])
local ttl = tonumber(ARGV[4])

local state = redis.call('HMGET', KEYS[1], 'tokens', 'last_refill')
local tokens = burst
local last_refill = now
if state[1] then
  tokens = tonumber(state[1])
  last_refill = tonumber(state[2])
end

local elapsed = now - last_refill
if elapsed < 0 then
  elapsed = 0
end
tokens = math.min(tokens + elapsed * rate, burst)

local allowed = 0
local retry_after = 0
if tokens >= 1 then
  allowed = 1
  tokens = tokens - 1
else
  retry_after = math.floor((1 - tokens) / rate) + 1
end

redis.call('HMSET', KEYS[1], 'tokens', tokens, 'last_refill', now)
redis.call('EXPIRE', KEYS[1], ttl)

local reset_time = now + (burst - tokens) / rate
return {allowed, math.floor(tokens), retry_after, tostring(reset_time)}
`

// RedisLimiter persists per-identifier bucket state in Redis so that
// limits hold across gateway instances. Decisions are made by a Lua
// script, keeping the read-modify-write atomic per identifier.
type RedisLimiter struct {
	client       *redis.Client
	bucket       Bucket
	scriptSHA    string
	storeTimeout time.Duration
	logger       *logger.Logger
}

// NewRedisLimiter creates a Redis-backed rate limiter. Connectivity is
// verified eagerly so the caller can decide on the in-process fallback
// once, at construction, rather than per request.
func NewRedisLimiter(cfg config.RateLimitConfig, redisCfg config.RedisConfig, log *logger.Logger) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisCfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opts.PoolSize = redisCfg.MaxConnections
	opts.MinIdleConns = redisCfg.MinIdleConns

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	sha, err := client.ScriptLoad(ctx, tokenBucketScript).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to load token bucket script: %w", err)
	}

	log.Info("Redis rate limiter initialized",
		zap.String("redis_url", maskRedisURL(redisCfg.URL)),
		zap.Int("requests_per_minute", cfg.RequestsPerMinute),
		zap.Int("burst_size", cfg.BurstSize),
	)

	return &RedisLimiter{
		client:       client,
		bucket:       NewBucket(cfg.RequestsPerMinute, cfg.BurstSize),
		scriptSHA:    sha,
		storeTimeout: cfg.StoreTimeout,
		logger:       log,
	}, nil
}

func (r *RedisLimiter) key(identifier string) string {
	return "ratelimit:" + identifier
}

// Check consumes one token for the identifier if available
func (r *RedisLimiter) Check(ctx context.Context, identifier string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	args := []interface{}{
		r.bucket.RefillRate,
		r.bucket.BurstSize,
		nowSeconds(),
		int(stateTTL.Seconds()),
	}

	raw, err := r.client.EvalSha(ctx, r.scriptSHA, []string{r.key(identifier)}, args...).Result()
	if err != nil && strings.HasPrefix(err.Error(), "NOSCRIPT") {
		// Script cache flushed, e.g. after a Redis restart
		raw, err = r.client.Eval(ctx, tokenBucketScript, []string{r.key(identifier)}, args...).Result()
	}
	if err != nil {
		return Result{}, fmt.Errorf("rate limit store check failed: %w", err)
	}

	values, ok := raw.([]interface{})
	if !ok || len(values) != 4 {
		return Result{}, errors.New("unexpected token bucket script response")
	}

	allowed, _ := values[0].(int64)
	remaining, _ := values[1].(int64)
	retryAfter, _ := values[2].(int64)
	resetTime := parseScriptFloat(values[3])

	result := Result{
		Allowed:   allowed == 1,
		Remaining: int(remaining),
		ResetTime: int64(resetTime),
	}
	if !result.Allowed {
		result.RetryAfter = int(retryAfter)
	}

	return result, nil
}

// Reset clears accumulated state for the identifier
func (r *RedisLimiter) Reset(ctx context.Context, identifier string) error {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	if err := r.client.Del(ctx, r.key(identifier)).Err(); err != nil {
		return fmt.Errorf("rate limit reset failed: %w", err)
	}
	return nil
}

// Usage returns (used, available) token counts for the identifier
func (r *RedisLimiter) Usage(ctx context.Context, identifier string) (int, int, error) {
	ctx, cancel := context.WithTimeout(ctx, r.storeTimeout)
	defer cancel()

	tokens, err := r.client.HGet(ctx, r.key(identifier), "tokens").Result()
	if err == redis.Nil {
		// Missing key is equivalent to a full bucket
		return 0, r.bucket.BurstSize, nil
	} else if err != nil {
		return 0, 0, fmt.Errorf("rate limit usage lookup failed: %w", err)
	}

	value, err := strconv.ParseFloat(tokens, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("corrupt bucket state for identifier: %w", err)
	}

	available := int(value)
	return r.bucket.BurstSize - available, available, nil
}

// Close closes the Redis connection
func (r *RedisLimiter) Close() error {
	return r.client.Close()
}

// parseScriptFloat handles the type Redis hands back for script
// results, which varies between integer and string replies.
func parseScriptFloat(val interface{}) float64 {
	switch v := val.(type) {
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

// maskRedisURL masks credentials in a Redis URL for logging
func maskRedisURL(url string) string {
	if strings.Contains(url, "@") {
		parts := strings.Split(url, "@")
		if len(parts) >= 2 {
			userPart := parts[0]
			if strings.Contains(userPart, ":") {
				userParts := strings.Split(userPart, ":")
				if len(userParts) >= 3 {
					userParts[len(userParts)-1] = "***"
					parts[0] = strings.Join(userParts, ":")
				}
			}
			return strings.Join(parts, "@")
		}
	}
	return url
}
