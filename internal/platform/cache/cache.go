// Package cache is a Redis-backed JSON read cache with a disabled mode for
// deployments that run without Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ehr/claims/internal/platform/db"
)

// ErrMiss is returned by Get when the key is absent or caching is disabled.
var ErrMiss = errors.New("cache miss")

type Cache struct {
	client    *redis.Client
	keyPrefix string
	enabled   bool
}

// New connects to redisURL. An empty URL yields a disabled cache.
func New(ctx context.Context, redisURL, keyPrefix string) (*Cache, error) {
	if redisURL == "" {
		return Disabled(), nil
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	if keyPrefix == "" {
		keyPrefix = "claims"
	}
	return &Cache{client: client, keyPrefix: keyPrefix, enabled: true}, nil
}

// Disabled returns a cache where every read misses and every write is a no-op.
func Disabled() *Cache {
	return &Cache{keyPrefix: "claims"}
}

func (c *Cache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

func (c *Cache) IsEnabled() bool {
	return c.enabled
}

// Key joins parts under the cache prefix.
func (c *Cache) Key(parts ...string) string {
	key := c.keyPrefix
	for _, part := range parts {
		key += ":" + part
	}
	return key
}

func (c *Cache) Get(ctx context.Context, key string, dest interface{}) error {
	if !c.enabled {
		return ErrMiss
	}

	data, err := c.client.Get(ctx, c.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dest)
}

func (c *Cache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}

	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.Key(key), data, ttl).Err()
}

// releaseScript deletes the lease only if this holder still owns it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Lease takes an exclusive, expiring lock on key. acquired is false when
// another holder has it. With caching disabled the lease is always granted,
// which is correct for a single replica.
func (c *Cache) Lease(ctx context.Context, key string, ttl time.Duration) (acquired bool, release func(context.Context) error, err error) {
	noop := func(context.Context) error { return nil }
	if !c.enabled {
		return true, noop, nil
	}

	token := uuid.NewString()
	full := c.Key("lease", key)
	ok, err := c.client.SetNX(ctx, full, token, ttl).Result()
	if err != nil {
		return false, noop, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return false, noop, nil
	}
	return true, func(ctx context.Context) error {
		return releaseScript.Run(ctx, c.client, []string{full}, token).Err()
	}, nil
}

// Name and Ping let the health endpoint report on Redis.
func (c *Cache) Name() string { return "redis" }

func (c *Cache) Ping(ctx context.Context) error {
	if !c.enabled {
		return nil
	}
	return c.client.Ping(ctx).Err()
}

// generationTTL outlives any in-flight load; an expired generation only
// makes the next write-back a no-op.
const generationTTL = 24 * time.Hour

var errStale = errors.New("cache generation changed")

func generationKey(full string) string { return full + ":gen" }

// Invalidate deletes keys and bumps their generation, so a read that loaded
// before the change cannot write its value back afterwards.
func (c *Cache) Invalidate(ctx context.Context, keys ...string) error {
	if !c.enabled || len(keys) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, k := range keys {
			full := c.Key(k)
			p.Incr(ctx, generationKey(full))
			p.Expire(ctx, generationKey(full), generationTTL)
			p.Del(ctx, full)
		}
		return nil
	})
	return err
}

// generation reads the current generation of key. ok is false when it cannot
// be read, in which case nothing should be written back.
func (c *Cache) generation(ctx context.Context, key string) (gen int64, ok bool) {
	if !c.enabled {
		return 0, false
	}
	gen, err := c.client.Get(ctx, generationKey(c.Key(key))).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, true
	}
	return gen, err == nil
}

// setAtGeneration stores value only while key is still at gen.
func (c *Cache) setAtGeneration(ctx context.Context, key string, gen int64, value interface{}, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	full := c.Key(key)
	gk := generationKey(full)
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return errStale
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, full, data, ttl)
			return nil
		})
		return err
	}, gk)
	if errors.Is(err, errStale) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

// GetOrLoad reads key, falling back to load and populating the cache on a
// miss. The loaded value is written back only if key was not invalidated
// while it loaded. Cache failures never fail the read.
func GetOrLoad[T any](ctx context.Context, c *Cache, key string, ttl time.Duration, load func(context.Context) (T, error)) (T, error) {
	var v T
	if c == nil {
		return load(ctx)
	}
	if err := c.Get(ctx, key, &v); err == nil {
		return v, nil
	}

	gen, ok := c.generation(ctx, key)
	v, err := load(ctx)
	if err != nil {
		return v, err
	}
	if ok {
		_ = c.setAtGeneration(ctx, key, gen, v, ttl)
	}
	return v, nil
}

// TenantKey scopes parts to the tenant carried by ctx. Pass the result to
// Get, Set or Invalidate, which add the cache prefix.
func TenantKey(ctx context.Context, parts ...string) string {
	tenant := db.TenantFromContext(ctx)
	if tenant == "" {
		tenant = "default"
	}
	return strings.Join(append([]string{tenant}, parts...), ":")
}
