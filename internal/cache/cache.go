// Package cache is the optional Redis layer in front of standings queries.
// Pages are cached for a short TTL; a cold or unreachable cache only costs
// recomputation, never correctness.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultTTL bounds staleness of a cached standings page. Snapshot cadence
// makes pages immutable in practice, but a short TTL keeps memory flat.
const DefaultTTL = 15 * time.Second

// StandingsCache stores marshaled standings pages in Redis.
type StandingsCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to redisURL (redis://host:port/db) and verifies the
// connection with a ping.
func New(ctx context.Context, redisURL string, ttl time.Duration) (*StandingsCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", err)
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("cache: ping: %w", err)
	}
	return &StandingsCache{client: client, ttl: ttl}, nil
}

// Get returns the cached page and whether it was present.
func (c *StandingsCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Set stores a page under the cache TTL.
func (c *StandingsCache) Set(ctx context.Context, key string, value []byte) error {
	return c.client.Set(ctx, key, value, c.ttl).Err()
}

// Close releases the client.
func (c *StandingsCache) Close() error { return c.client.Close() }
