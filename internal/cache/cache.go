package cache

import (
	"context"
	"sync"
	"time"
)

// Cache stores model predictions keyed by canonical feature vector.
// Get returns (value, true, nil) on a hit and (0, false, nil) on a miss;
// a non-nil error means the backend could not answer.
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, value float64, ttl time.Duration) error
}

// Pinger is implemented by backends that can report reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DefaultMaxEntries bounds an InMemoryCache built with a non-positive size.
const DefaultMaxEntries = 10000

// InMemoryCache implements Cache using a mutex-guarded map with TTL-based expiration.
// Expired entries are removed on access and swept when the map is full.
type InMemoryCache struct {
	mu         sync.Mutex
	data       map[string]cacheEntry
	maxEntries int
	now        func() time.Time
}

type cacheEntry struct {
	value     float64
	expiresAt time.Time
}

// NewInMemoryCache creates an in-memory cache holding at most maxEntries values.
func NewInMemoryCache(maxEntries int) *InMemoryCache {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &InMemoryCache{
		data:       make(map[string]cacheEntry),
		maxEntries: maxEntries,
		now:        time.Now,
	}
}

// Get returns the cached prediction for key if present and not expired.
func (c *InMemoryCache) Get(ctx context.Context, key string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.data[key]
	if !ok {
		return 0, false, nil
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.data, key)
		return 0, false, nil
	}
	return entry.value, true, nil
}

// Set stores value for ttl. When full, expired entries are swept first and
// then an arbitrary entry is evicted.
func (c *InMemoryCache) Set(ctx context.Context, key string, value float64, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if _, exists := c.data[key]; !exists && len(c.data) >= c.maxEntries {
		c.sweepLocked(now)
		if len(c.data) >= c.maxEntries {
			for k := range c.data {
				delete(c.data, k)
				break
			}
		}
	}
	c.data[key] = cacheEntry{value: value, expiresAt: now.Add(ttl)}
	return nil
}

// Len returns the number of stored entries, expired or not.
func (c *InMemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.data)
}

func (c *InMemoryCache) sweepLocked(now time.Time) {
	for k, e := range c.data {
		if !now.Before(e.expiresAt) {
			delete(c.data, k)
		}
	}
}
