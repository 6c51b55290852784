package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aimerfeng/PoolGate/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Redis wraps a go-redis client with gateway-specific helpers
type Redis struct {
	Client *redis.Client
}

// New creates a new Redis cache from a connection URL
func New(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Info().Msg("Redis connection established")
	return &Redis{Client: client}, nil
}

// Close closes the redis connection
func (r *Redis) Close() error {
	return r.Client.Close()
}

// Health checks if redis is reachable
func (r *Redis) Health(ctx context.Context) error {
	return r.Client.Ping(ctx).Err()
}

const authCacheTTL = 5 * time.Minute

func authKey(tokenHash string) string {
	return "auth:token:" + tokenHash
}

// GetUserByTokenHash returns a cached user for a personal token hash.
// A cache miss returns (nil, nil); lookups fall through to the database.
func (r *Redis) GetUserByTokenHash(ctx context.Context, tokenHash string) (*models.User, error) {
	data, err := r.Client.Get(ctx, authKey(tokenHash)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		// Stale or corrupt entry, drop it
		_ = r.Client.Del(ctx, authKey(tokenHash)).Err()
		return nil, nil
	}
	return &user, nil
}

// SetUserByTokenHash caches a user under its personal token hash
func (r *Redis) SetUserByTokenHash(ctx context.Context, tokenHash string, user *models.User) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, authKey(tokenHash), data, authCacheTTL).Err()
}

// InvalidateTokenHash drops a cached auth entry. Called on token rotation
// and on user status changes so revocation takes effect immediately.
func (r *Redis) InvalidateTokenHash(ctx context.Context, tokenHash string) error {
	return r.Client.Del(ctx, authKey(tokenHash)).Err()
}
