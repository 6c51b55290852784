package gateway

import (
	"context"
	"fmt"
	"time"

	"github.com/aimerfeng/PoolGate/internal/cache"
	"github.com/aimerfeng/PoolGate/internal/config"
	"github.com/aimerfeng/PoolGate/internal/monitoring"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// RateLimiter implements sliding window rate limiting using Redis
type RateLimiter struct {
	redis  *cache.Redis
	config *config.RateLimitConfig
}

// RateLimitResult contains the result of a rate limit check
type RateLimitResult struct {
	Allowed    bool
	Remaining  int64
	Limit      int
	RetryAfter time.Duration
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(r *cache.Redis, cfg *config.RateLimitConfig) *RateLimiter {
	return &RateLimiter{redis: r, config: cfg}
}

// Check checks if a request is allowed under the per-user rate limit.
// On redis failure it fails open: the storage invariants live in
// postgres, the limiter is load shedding only.
func (r *RateLimiter) Check(ctx context.Context, userID uuid.UUID) (*RateLimitResult, error) {
	limit := r.config.RequestsPerWindow
	if r.redis == nil {
		return &RateLimitResult{Allowed: true, Remaining: int64(limit), Limit: limit}, nil
	}
	windowSeconds := r.config.WindowSeconds
	if windowSeconds <= 0 {
		windowSeconds = 60
	}

	now := time.Now()
	windowDuration := time.Duration(windowSeconds) * time.Second
	windowStart := now.Add(-windowDuration)
	key := fmt.Sprintf("ratelimit:sliding:%s", userID.String())

	pipe := r.redis.Client.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", fmt.Sprintf("%d", windowStart.UnixNano()))
	countCmd := pipe.ZCard(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Error().Err(err).Str("user_id", userID.String()).Msg("Failed to check rate limit")
		return &RateLimitResult{Allowed: true, Remaining: int64(limit), Limit: limit}, nil
	}

	currentCount := countCmd.Val()
	result := &RateLimitResult{Limit: limit}

	if currentCount >= int64(limit) {
		monitoring.Get().RateLimitHits.Inc()
		result.Allowed = false
		result.Remaining = 0

		oldest, err := r.redis.Client.ZRangeWithScores(ctx, key, 0, 0).Result()
		if err == nil && len(oldest) > 0 {
			oldestTime := time.Unix(0, int64(oldest[0].Score))
			result.RetryAfter = oldestTime.Add(windowDuration).Sub(now)
		} else {
			result.RetryAfter = windowDuration
		}
		return result, nil
	}

	// Admit the request and record it in the window
	member := fmt.Sprintf("%d:%s", now.UnixNano(), uuid.NewString()[:8])
	pipe = r.redis.Client.Pipeline()
	pipe.ZAdd(ctx, key, redis.Z{Score: float64(now.UnixNano()), Member: member})
	pipe.Expire(ctx, key, windowDuration)
	if _, err := pipe.Exec(ctx); err != nil {
		log.Warn().Err(err).Str("user_id", userID.String()).Msg("Failed to record rate limit entry")
	}

	result.Allowed = true
	result.Remaining = int64(limit) - currentCount - 1
	return result, nil
}
