// Package redis holds the keeper's cross-instance lease on go-redis/v9.
package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// ClientConfig selects the Redis server shared by keeper instances.
type ClientConfig struct {
	Addr     string
	Password string
	DB       int
}

// Client is a connected go-redis client.
type Client struct {
	rdb *redis.Client
}

// New dials cfg.Addr and fails fast if the server does not answer.
func New(ctx context.Context, cfg ClientConfig) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("keeper lock redis %s: %w", cfg.Addr, err)
	}
	return &Client{rdb: rdb}, nil
}

func (c *Client) Close() error {
	return c.rdb.Close()
}
