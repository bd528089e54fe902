// Package rediscache keeps the latest output of each pipeline node in
// Redis under a stable key, so dashboards and other services can read the
// current value without subscribing to the bus.
package rediscache

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
)

const defaultTTL = 24 * time.Hour

// Cache writes latest-output keys with a TTL.
type Cache struct {
	rdb *goredis.Client
	ttl time.Duration
}

// Connect creates the client and verifies connectivity.
func Connect(ctx context.Context, addr, password string) (*Cache, error) {
	rdb := goredis.NewClient(&goredis.Options{
		Addr:     addr,
		Password: password,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &Cache{rdb: rdb, ttl: defaultTTL}, nil
}

// SetLatest stores payload under latest:{symbol}:{nodeID}.
func (c *Cache) SetLatest(ctx context.Context, symbol, nodeID string, payload []byte) error {
	key := fmt.Sprintf("latest:%s:%s", symbol, nodeID)
	if err := c.rdb.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

// Ping probes connectivity (liveness checks).
func (c *Cache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close releases the client.
func (c *Cache) Close() error {
	return c.rdb.Close()
}
