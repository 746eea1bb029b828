// Package reportcache stores the last sync report per scope in Redis. Each
// scope has its own key and TTL, so refreshing one scope's report never
// invalidates or races with another's.
package reportcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"vaultd/syncd/internal/engine"
)

const keyPrefix = "syncreport:"

// Redis implements the engine's ReportCache.
type Redis struct {
	client *redis.Client
}

// New connects to Redis and verifies the connection.
func New(redisURL string) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	return &Redis{client: client}, nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client) *Redis {
	return &Redis{client: client}
}

func cacheKey(scope engine.Scope) string {
	return keyPrefix + scope.Key()
}

// Get returns the cached report for a scope. The second return value is
// false when no report is stored.
func (r *Redis) Get(ctx context.Context, scope engine.Scope) (*engine.GlobalReport, bool, error) {
	payload, err := r.client.Get(ctx, cacheKey(scope)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get cached report %s: %w", scope, err)
	}

	var report engine.GlobalReport
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, false, fmt.Errorf("unmarshal cached report %s: %w", scope, err)
	}
	return &report, true, nil
}

// Put stores a scope's report with its own expiry.
func (r *Redis) Put(ctx context.Context, scope engine.Scope, report *engine.GlobalReport, ttl time.Duration) error {
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("marshal report %s: %w", scope, err)
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if err := r.client.Set(ctx, cacheKey(scope), payload, ttl).Err(); err != nil {
		return fmt.Errorf("cache report %s: %w", scope, err)
	}
	return nil
}

// Ping checks if Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

// Close closes the Redis connection.
func (r *Redis) Close() error {
	return r.client.Close()
}
