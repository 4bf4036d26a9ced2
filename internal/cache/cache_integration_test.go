//go:build integration
// +build integration

package cache

import (
	"context"
	"os"
	"testing"
	"time"
)

func backends(t *testing.T) map[string]Cache {
	t.Helper()
	memcachedAddr := os.Getenv("MEMCACHED_ADDRS")
	if memcachedAddr == "" {
		memcachedAddr = "localhost:11211"
	}
	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	mc := NewMemcachedCache(memcachedAddr, 500*time.Millisecond, 2)
	rc := NewRedisCache(RedisOptions{Addr: redisAddr, Timeout: 500 * time.Millisecond})
	t.Cleanup(func() {
		_ = mc.Close()
		_ = rc.Close()
	})
	return map[string]Cache{"memcached": mc, "redis": rc}
}

// TestBackends_GetSet_Integration verifies each network backend stores and
// returns the exact prediction, and reports a miss for unknown keys.
func TestBackends_GetSet_Integration(t *testing.T) {
	ctx := context.Background()
	for name, c := range backends(t) {
		t.Run(name, func(t *testing.T) {
			if p, ok := c.(Pinger); ok {
				if err := p.Ping(ctx); err != nil {
					t.Skipf("%s not reachable: %v", name, err)
				}
			}
			key := Key(features)
			if err := c.Set(ctx, key, 21.7734, time.Minute); err != nil {
				t.Fatalf("Set() error = %v", err)
			}
			got, ok, err := c.Get(ctx, key)
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}
			if !ok || got != 21.7734 {
				t.Errorf("Get() = (%v, %v), want (21.7734, true)", got, ok)
			}

			_, ok, err = c.Get(ctx, "v1:nonexistent")
			if err != nil {
				t.Fatalf("Get(miss) error = %v", err)
			}
			if ok {
				t.Error("Get() ok = true, want false for miss")
			}
		})
	}
}
