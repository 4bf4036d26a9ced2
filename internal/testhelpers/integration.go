//go:build integration
// +build integration

// Package testhelpers builds the quote stack against live dependencies for
// integration tests.
package testhelpers

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/cab-fare-service/internal/cache"
	"github.com/kjstillabower/cab-fare-service/internal/client"
	"github.com/kjstillabower/cab-fare-service/internal/location"
	"github.com/kjstillabower/cab-fare-service/internal/service"
)

// IntegrationTestConfig holds configuration for integration tests.
type IntegrationTestConfig struct {
	PredictorURL   string
	PredictorToken string
	CacheBackend   string // "in_memory", "memcached" or "redis"
	MemcachedAddr  string
	RedisAddr      string
}

// GetIntegrationConfig loads integration test configuration from environment.
// Skips the test when PREDICTOR_URL is not set.
func GetIntegrationConfig(t *testing.T) IntegrationTestConfig {
	t.Helper()
	url := os.Getenv("PREDICTOR_URL")
	if url == "" {
		t.Skip("PREDICTOR_URL not set, skipping integration test")
	}
	cfg := IntegrationTestConfig{
		PredictorURL:   url,
		PredictorToken: os.Getenv("PREDICTOR_TOKEN"),
		CacheBackend:   os.Getenv("INTEGRATION_CACHE_BACKEND"),
		MemcachedAddr:  os.Getenv("MEMCACHED_ADDRS"),
		RedisAddr:      os.Getenv("REDIS_ADDR"),
	}
	if cfg.MemcachedAddr == "" {
		cfg.MemcachedAddr = "localhost:11211"
	}
	if cfg.RedisAddr == "" {
		cfg.RedisAddr = "localhost:6379"
	}
	return cfg
}

// SetupIntegrationPredictor returns an HTTP predictor for the configured URL.
func SetupIntegrationPredictor(t *testing.T, cfg IntegrationTestConfig) *client.HTTPPredictor {
	t.Helper()
	p, err := client.NewHTTPPredictor(client.Options{
		URL:           cfg.PredictorURL,
		Token:         cfg.PredictorToken,
		Timeout:       5 * time.Second,
		RetryAttempts: 2,
	})
	if err != nil {
		t.Fatalf("NewHTTPPredictor() error = %v", err)
	}
	return p
}

// SetupIntegrationService builds a QuoteService over the live predictor, the
// configured cache backend and the NYC table. A network cache that does not
// answer a ping falls back to in-memory.
func SetupIntegrationService(t *testing.T, cfg IntegrationTestConfig, logger *zap.Logger) (*service.QuoteService, cache.Cache) {
	t.Helper()
	var c cache.Cache = cache.NewInMemoryCache(0)
	switch cfg.CacheBackend {
	case "memcached":
		mc := cache.NewMemcachedCache(cfg.MemcachedAddr, 500*time.Millisecond, 2)
		if err := mc.Ping(context.Background()); err != nil {
			t.Logf("memcached not available (%v), using in-memory cache", err)
			break
		}
		t.Cleanup(func() { _ = mc.Close() })
		c = mc
	case "redis":
		rc := cache.NewRedisCache(cache.RedisOptions{Addr: cfg.RedisAddr, Timeout: 500 * time.Millisecond})
		if err := rc.Ping(context.Background()); err != nil {
			t.Logf("redis not available (%v), using in-memory cache", err)
			_ = rc.Close()
			break
		}
		t.Cleanup(func() { _ = rc.Close() })
		c = rc
	}
	predictor := cache.NewCachingPredictor(SetupIntegrationPredictor(t, cfg), c, 5*time.Minute, "prediction", logger)
	return service.NewQuoteService(predictor, location.DefaultNYC(), nil, logger), c
}
