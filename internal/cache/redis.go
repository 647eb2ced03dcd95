// Package cache wraps go-redis as an optional, non-authoritative
// performance layer: a read-through cache for challenge lookups and a
// SETNX soft lease for webhook worker batch claiming. Every caller
// falls back to Postgres on a miss or Redis outage, so correctness
// never depends on this package.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client wraps a go-redis client with the handful of operations this
// service needs, grounded on the teacher's pkg/redis wrapper shape.
type Client struct {
	rdb *redis.Client
}

// Config mirrors config.RedisConfig's fields needed to dial.
type Config struct {
	Addr     string
	Password string
	DB       int
}

// NewClient dials Redis and verifies connectivity.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := rdb.Ping(dialCtx).Err(); err != nil {
		return nil, fmt.Errorf("cache: connect to redis: %w", err)
	}
	return &Client{rdb: rdb}, nil
}

// Close closes the underlying connection pool.
func (c *Client) Close() error { return c.rdb.Close() }

// HealthCheck pings Redis with a bounded timeout.
func (c *Client) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return c.rdb.Ping(ctx).Err()
}

// SetJSON stores a JSON-serialized value with expiration.
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache: marshal json: %w", err)
	}
	return c.rdb.Set(ctx, key, data, expiration).Err()
}

// GetJSON retrieves and unmarshals a JSON value. Returns
// redis.Nil-wrapping error on a cache miss; callers should treat any
// error here as "fall back to the store", not as a hard failure.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	data, err := c.rdb.Get(ctx, key).Result()
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(data), dest)
}

// Delete removes a key; ChallengeCache.Invalidate uses it.
func (c *Client) Delete(ctx context.Context, key string) error {
	return c.rdb.Del(ctx, key).Err()
}

// SetNX acquires a soft lease (for locking), returning false without
// error if another holder already owns the key.
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, key, value, expiration).Result()
}

// IsMiss reports whether err is a plain cache miss (vs. a connectivity problem).
func IsMiss(err error) bool {
	return err == redis.Nil
}
