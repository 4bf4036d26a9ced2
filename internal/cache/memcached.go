package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"
)

const keyPrefix = "fare:"

// MemcachedCache implements Cache using memcached.
type MemcachedCache struct {
	client *memcache.Client
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero.
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int) *MemcachedCache {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client}
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (float64, bool, error) {
	if ctx.Err() != nil {
		return 0, false, ctx.Err()
	}
	item, err := c.client.Get(keyPrefix + key)
	if err != nil {
		if errors.Is(err, memcache.ErrCacheMiss) {
			return 0, false, nil
		}
		return 0, false, err
	}
	v, err := decodeValue(item.Value)
	if err != nil {
		return 0, false, err
	}
	return v, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value float64, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return c.client.Set(&memcache.Item{
		Key:        keyPrefix + key,
		Value:      encodeValue(value),
		Expiration: memcachedExpiration(ttl),
	})
}

// memcachedExpiration converts ttl to relative seconds. Values past 30 days
// would be read as a unix timestamp, so those and non-positive TTLs fall back to 1h.
func memcachedExpiration(ttl time.Duration) int32 {
	const maxRelativeExp = 30 * 24 * 60 * 60
	secs := int64(ttl / time.Second)
	if secs <= 0 || secs > maxRelativeExp {
		return 3600
	}
	return int32(secs)
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping(ctx context.Context) error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}

// encodeValue uses the shortest decimal form that parses back to the same float64.
func encodeValue(v float64) []byte {
	return strconv.AppendFloat(nil, v, 'g', -1, 64)
}

func decodeValue(raw []byte) (float64, error) {
	v, err := strconv.ParseFloat(string(raw), 64)
	if err != nil {
		return 0, fmt.Errorf("decode cached prediction: %w", err)
	}
	return v, nil
}
