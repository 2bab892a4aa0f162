// Package redisstore provides the Redis-backed webhook dedup ledger and a
// shared client for ephemeral billing state.
package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nimbushost/billing/pkg/payments"
)

// Config holds Redis connection configuration.
type Config struct {
	URL        string
	Password   string
	DB         int
	MaxRetries int
	PoolSize   int

	// DedupTTL bounds how long processed webhook event ids are remembered.
	// Zero means keep forever.
	DedupTTL time.Duration
}

// Client wraps a Redis connection for billing-side use.
type Client struct {
	client   *redis.Client
	dedupTTL time.Duration
}

// NewClient parses the URL, applies overrides and verifies connectivity.
func NewClient(config Config) (*Client, error) {
	opts, err := redis.ParseURL(config.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	if config.Password != "" {
		opts.Password = config.Password
	}
	if config.DB > 0 {
		opts.DB = config.DB
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}
	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}

	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second
	opts.PoolTimeout = 4 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &Client{client: client, dedupTTL: config.DedupTTL}, nil
}

// NewClientFromRedis wraps an existing connection. Used by tests.
func NewClientFromRedis(client *redis.Client, dedupTTL time.Duration) *Client {
	return &Client{client: client, dedupTTL: dedupTTL}
}

func dedupKey(provider, eventID string) string {
	return fmt.Sprintf("webhook:%s:%s", provider, eventID)
}

// Seen reports whether the event id was already recorded.
func (c *Client) Seen(ctx context.Context, provider, eventID string) (bool, error) {
	n, err := c.client.Exists(ctx, dedupKey(provider, eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("redis exists failed: %w", err)
	}
	return n > 0, nil
}

// MarkProcessed claims a webhook event id via SETNX. Returns true only for
// the first record; concurrent writers lose the race atomically.
func (c *Client) MarkProcessed(ctx context.Context, provider, eventID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, dedupKey(provider, eventID), time.Now().UTC().Format(time.RFC3339), c.dedupTTL).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// HealthCheck pings the server.
func (c *Client) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis unhealthy: %w", err)
	}
	return nil
}

// Redis exposes the underlying client for health checking.
func (c *Client) Redis() *redis.Client {
	return c.client
}

// PoolStats returns connection pool statistics for metrics export.
func (c *Client) PoolStats() *redis.PoolStats {
	return c.client.PoolStats()
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.client.Close()
}

var _ payments.DedupStore = (*Client)(nil)
