package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"

	"rolodex/internal/platform/config"
)

// Client is the shared go-redis connection plus the key namespace every
// rolodex key lives under, so several deployments can share one server.
type Client struct {
	*redis.Client
	prefix string
}

// New connects using cfg and pings once. It returns nil, nil when no URL is
// configured, which callers treat as "stay in process".
func New(ctx context.Context, cfg config.RedisConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, nil
	}

	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}
	applyPool(opts, cfg)

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{Client: client, prefix: cfg.KeyPrefix}, nil
}

// applyPool overrides the URL's pool settings with the non-zero config values.
func applyPool(opts *redis.Options, cfg config.RedisConfig) {
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MinIdleConns > 0 {
		opts.MinIdleConns = cfg.MinIdleConns
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	if cfg.ReadTimeout > 0 {
		opts.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		opts.WriteTimeout = cfg.WriteTimeout
	}
}

// Prefix is the configured key namespace, e.g. "rolodex:".
func (c *Client) Prefix() string {
	return c.prefix
}

// Key joins name onto the namespace.
func (c *Client) Key(name string) string {
	return c.prefix + name
}

// Health reports whether the server answers a ping.
func (c *Client) Health(ctx context.Context) error {
	return c.Ping(ctx).Err()
}
