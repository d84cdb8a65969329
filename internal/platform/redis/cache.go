package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/headless-lms/internal/observability"
	"github.com/yungbote/headless-lms/internal/platform/envutil"
	"github.com/yungbote/headless-lms/internal/platform/logger"
)

// Cache is a JSON value cache with TTLs. Redis failures degrade to misses
// and are logged, never returned to the caller.
type Cache interface {
	GetJSON(ctx context.Context, key string, dst any) bool
	SetJSON(ctx context.Context, key string, v any, ttl time.Duration)
	Delete(ctx context.Context, keys ...string)
	Client() *goredis.Client
	Close() error
}

type Config struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
}

func ConfigFromEnv() Config {
	return Config{
		Addr:     envutil.String("REDIS_ADDR", ""),
		Password: envutil.String("REDIS_PASSWORD", ""),
		DB:       envutil.Int("REDIS_DB", 0),
		Prefix:   envutil.String("REDIS_KEY_PREFIX", "lms:"),
	}
}

type cache struct {
	log     *logger.Logger
	rdb     *goredis.Client
	prefix  string
	metrics *observability.Metrics
}

// New connects and pings. A failed ping is logged; the cache still works
// and every lookup misses until redis comes back.
func New(log *logger.Logger, cfg Config) (Cache, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if cfg.Addr == "" {
		return nil, fmt.Errorf("missing REDIS_ADDR")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
	c := &cache{
		log:     log.With("service", "RedisCache"),
		rdb:     rdb,
		prefix:  cfg.Prefix,
		metrics: observability.Current(),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		c.log.Warn("redis ping failed; cache will miss until reachable", "addr", cfg.Addr, "error", err)
	}
	return c, nil
}

func (c *cache) key(k string) string { return c.prefix + k }

func (c *cache) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if err != nil {
		if !errors.Is(err, goredis.Nil) {
			c.log.Warn("cache get failed", "key", key, "error", err)
		}
		c.metrics.IncCacheLookup(cacheName(key), false)
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		c.log.Warn("cache value undecodable; dropping", "key", key, "error", err)
		_ = c.rdb.Del(ctx, c.key(key)).Err()
		c.metrics.IncCacheLookup(cacheName(key), false)
		return false
	}
	c.metrics.IncCacheLookup(cacheName(key), true)
	return true
}

func (c *cache) SetJSON(ctx context.Context, key string, v any, ttl time.Duration) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.log.Warn("cache value unencodable", "key", key, "error", err)
		return
	}
	if err := c.rdb.Set(ctx, c.key(key), raw, ttl).Err(); err != nil {
		c.log.Warn("cache set failed", "key", key, "error", err)
	}
}

func (c *cache) Delete(ctx context.Context, keys ...string) {
	if len(keys) == 0 {
		return
	}
	full := make([]string, 0, len(keys))
	for _, k := range keys {
		full = append(full, c.key(k))
	}
	if err := c.rdb.Del(ctx, full...).Err(); err != nil {
		c.log.Warn("cache delete failed", "keys", keys, "error", err)
	}
}

func (c *cache) Client() *goredis.Client { return c.rdb }

func (c *cache) Close() error { return c.rdb.Close() }

// cacheName is the key's first segment, used as a metrics label.
func cacheName(key string) string {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i]
		}
	}
	return key
}

// GetOrLoad returns the cached value for key or calls load and caches its result.
func GetOrLoad[T any](ctx context.Context, c Cache, key string, ttl time.Duration, load func(ctx context.Context) (T, error)) (T, error) {
	var out T
	if c != nil && c.GetJSON(ctx, key, &out) {
		return out, nil
	}
	out, err := load(ctx)
	if err != nil {
		return out, err
	}
	if c != nil {
		c.SetJSON(ctx, key, out, ttl)
	}
	return out, nil
}

// Nop is a cache that always misses.
type Nop struct{}

func (Nop) GetJSON(context.Context, string, any) bool         { return false }
func (Nop) SetJSON(context.Context, string, any, time.Duration) {}
func (Nop) Delete(context.Context, ...string)                  {}
func (Nop) Client() *goredis.Client                            { return nil }
func (Nop) Close() error                                       { return nil }
