// Package redis implements cache.Cache against Redis, for multi-node
// deployments where the L2 tier and its distributed lock must be shared
// across broker processes.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/gcp-broker/tokenbroker/internal/broker/cache"
)

// Cache is a cache.Cache backed by a go-redis client. Keys are namespaced
// under KeyPrefix so the broker can share a Redis instance with unrelated
// consumers.
type Cache struct {
	client    *goredis.Client
	keyPrefix string
	lockTTL   time.Duration
	pollEvery time.Duration
}

// Config configures the Redis backend.
type Config struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	// LockTTL bounds how long a held lock survives if Release is never
	// called (crashed holder), so a fingerprint can never be starved
	// permanently.
	LockTTL time.Duration
	// PollEvery is how often AcquireLock retries while blocked.
	PollEvery time.Duration
}

func (c Config) withDefaults() Config {
	if c.KeyPrefix == "" {
		c.KeyPrefix = "tokenbroker:"
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 30 * time.Second
	}
	if c.PollEvery <= 0 {
		c.PollEvery = 50 * time.Millisecond
	}
	return c
}

// New connects to Redis per cfg.
func New(cfg Config) *Cache {
	cfg = cfg.withDefaults()
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	return NewWithClient(client, cfg)
}

// NewWithClient wraps an already-constructed client, used by tests against
// miniredis.
func NewWithClient(client *goredis.Client, cfg Config) *Cache {
	cfg = cfg.withDefaults()
	return &Cache{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		lockTTL:   cfg.LockTTL,
		pollEvery: cfg.PollEvery,
	}
}

var _ cache.Cache = (*Cache)(nil)

func (c *Cache) namespacedKey(key string) string {
	return c.keyPrefix + key
}

func (c *Cache) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.namespacedKey(key)).Bytes()
	if err == goredis.Nil {
		return nil, cache.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis cache: get %q: %w", key, err)
	}
	return val, nil
}

func (c *Cache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.namespacedKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis cache: set %q: %w", key, err)
	}
	return nil
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.namespacedKey(key)).Err(); err != nil {
		return fmt.Errorf("redis cache: delete %q: %w", key, err)
	}
	return nil
}

type lock struct {
	client *goredis.Client
	key    string
	token  string
}

// releaseScript deletes the lock key only if its value still matches the
// token this holder set, so a lock that already expired and was reacquired
// by someone else is never released out from under them.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)

func (l *lock) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, l.token).Err(); err != nil {
		return fmt.Errorf("redis cache: release lock %q: %w", l.key, err)
	}
	return nil
}

// AcquireLock implements the classic Redis single-instance lock: SET key
// token NX PX ttl, retried until acquired or ctx is done. ttl, if zero,
// falls back to the backend's configured LockTTL so a crashed holder can
// never starve the fingerprint.
func (c *Cache) AcquireLock(ctx context.Context, name string, ttl time.Duration) (cache.Lock, error) {
	if ttl <= 0 {
		ttl = c.lockTTL
	}
	key := c.namespacedKey(name)
	token := uuid.NewString()

	ticker := time.NewTicker(c.pollEvery)
	defer ticker.Stop()

	for {
		ok, err := c.client.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis cache: acquire lock %q: %w", name, err)
		}
		if ok {
			return &lock{client: c.client, key: key, token: token}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
