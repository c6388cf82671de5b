// Package querycache caches rendered query responses in Redis so repeated
// map viewport fetches skip InfluxDB. All methods are safe on a nil *Cache,
// which is how caching is disabled.
package querycache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	maintnotifications "github.com/redis/go-redis/v9/maintnotifications"

	obs "github.com/ozanyurt/airgrid/internal/core/observability"
)

const defaultTTL = 30 * time.Second

type Cache struct {
	rdb *redis.Client
	ttl time.Duration
}

// New connects to Redis at addr and verifies it with a ping. Entries expire
// after ttl; responses are small JSON bodies, so the client keeps timeouts
// tight and falls through to the store rather than queue behind a slow Redis.
func New(ctx context.Context, addr string, ttl time.Duration) (*Cache, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	if ttl <= 0 {
		ttl = defaultTTL
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		PoolSize:     32,
		MinIdleConns: 2,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
		MaintNotificationsConfig: &maintnotifications.Config{
			Mode: maintnotifications.ModeDisabled,
		},
	})

	if err := observe("ping", func() error { return rdb.Ping(ctx).Err() }); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Cache{rdb: rdb, ttl: ttl}, nil
}

// observe times op and records it on the shared Redis metrics.
func observe(op string, fn func() error) error {
	start := time.Now()
	err := fn()
	obs.ObserveCacheOp(op, err, time.Since(start).Seconds())
	return err
}

// Get returns the cached body for key. A miss reads as (nil, false, nil);
// Redis errors also count as a miss so callers can fall through to the store.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if c == nil {
		return nil, false, nil
	}
	var (
		body []byte
		hit  bool
	)
	err := observe("get", func() error {
		b, err := c.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		body, hit = b, true
		return nil
	})
	if err != nil {
		obs.IncCacheMiss("")
		return nil, false, fmt.Errorf("redis GET %q: %w", key, err)
	}
	if !hit {
		obs.IncCacheMiss("")
		return nil, false, nil
	}
	obs.IncCacheHit("")
	return body, true, nil
}

// Set stores body under key for the configured TTL.
func (c *Cache) Set(ctx context.Context, key string, body []byte) error {
	if c == nil {
		return nil
	}
	err := observe("set", func() error { return c.rdb.Set(ctx, key, body, c.ttl).Err() })
	if err != nil {
		return fmt.Errorf("redis SET %q: %w", key, err)
	}
	return nil
}

func (c *Cache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	err := observe("ping", func() error { return c.rdb.Ping(ctx).Err() })
	if err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func (c *Cache) Close() error {
	if c == nil {
		return nil
	}
	if err := c.rdb.Close(); err != nil {
		return fmt.Errorf("redis close: %w", err)
	}
	return nil
}
