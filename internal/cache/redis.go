package cache

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions configures a RedisCache.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
	PoolSize int
}

// RedisCache implements Cache on a single Redis instance.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(opts RedisOptions) *RedisCache {
	if opts.Addr == "" {
		opts.Addr = "localhost:6379"
	}
	ro := &redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	}
	if opts.Timeout > 0 {
		ro.DialTimeout = opts.Timeout
		ro.ReadTimeout = opts.Timeout
		ro.WriteTimeout = opts.Timeout
	}
	return &RedisCache{client: redis.NewClient(ro)}
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache.Get. redis.Nil is a miss.
func (c *RedisCache) Get(ctx context.Context, key string) (float64, bool, error) {
	raw, err := c.client.Get(ctx, keyPrefix+key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, false, nil
		}
		return 0, false, err
	}
	v, err := decodeValue(raw)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set.
func (c *RedisCache) Set(ctx context.Context, key string, value float64, ttl time.Duration) error {
	return c.client.Set(ctx, keyPrefix+key, encodeValue(value), ttl).Err()
}

// Ping checks if redis is reachable. Used for health checks.
func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close releases the connection pool. Call during shutdown.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
