package cache

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/kjstillabower/cab-fare-service/internal/client"
	"github.com/kjstillabower/cab-fare-service/internal/models"
	"github.com/kjstillabower/cab-fare-service/internal/observability"
)

const keyVersion = "v1"

// Key returns the canonical cache key for a feature vector. Each value uses
// the shortest decimal form that round-trips, so equal vectors share a key and
// different vectors never collide.
func Key(f models.Features) string {
	var b strings.Builder
	b.WriteString(keyVersion)
	for _, v := range f {
		b.WriteByte(':')
		b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
	}
	return b.String()
}

// CachingPredictor is a cache-aside decorator over a Predictor. Backend
// failures fall through to the wrapped predictor. Concurrent misses on the same
// key share one upstream call. Errors are never cached and no stale value is
// ever returned in place of a failed prediction.
type CachingPredictor struct {
	next      client.Predictor
	cache     Cache
	ttl       time.Duration
	cacheType string
	logger    *zap.Logger
	group     singleflight.Group
	misses    *missTracker
}

// NewCachingPredictor wraps next. cacheType labels metrics with the backend
// name (in_memory, memcached, redis).
func NewCachingPredictor(next client.Predictor, c Cache, ttl time.Duration, cacheType string, logger *zap.Logger) *CachingPredictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CachingPredictor{
		next:      next,
		cache:     c,
		ttl:       ttl,
		cacheType: cacheType,
		logger:    logger,
		misses:    newMissTracker(),
	}
}

// Predict implements client.Predictor.
func (p *CachingPredictor) Predict(ctx context.Context, features models.Features) (float64, error) {
	key := Key(features)
	if v, ok := p.lookup(ctx, key); ok {
		observability.CacheHitsTotal.WithLabelValues(p.cacheType).Inc()
		return v, nil
	}
	observability.CacheMissesTotal.WithLabelValues(p.cacheType).Inc()

	concurrent, done := p.misses.begin(key)
	defer done()
	if concurrent > 1 {
		observability.CacheStampedeDetectedTotal.Inc()
		observability.CacheStampedeConcurrency.Observe(float64(concurrent))
	}

	// The shared call must outlive any single caller's cancellation; the
	// predictor's own timeout and retry budget bound it.
	shared := context.WithoutCancel(ctx)
	leader := false
	ch := p.group.DoChan(key, func() (interface{}, error) {
		leader = true
		v, err := p.next.Predict(shared, features)
		if err != nil {
			return nil, err
		}
		p.store(shared, key, v)
		return v, nil
	})

	select {
	case res := <-ch:
		if !leader {
			observability.RequestCoalescingHitsTotal.Inc()
		}
		if res.Err != nil {
			return 0, res.Err
		}
		return res.Val.(float64), nil
	case <-ctx.Done():
		return 0, fmt.Errorf("predict: %w", ctx.Err())
	}
}

func (p *CachingPredictor) lookup(ctx context.Context, key string) (float64, bool) {
	if p.cache == nil || p.ttl <= 0 {
		return 0, false
	}
	start := time.Now()
	v, ok, err := p.cache.Get(ctx, key)
	if err == nil && ok && (math.IsNaN(v) || math.IsInf(v, 0)) {
		err = fmt.Errorf("non-finite cached prediction %v", v)
	}
	if err != nil {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(time.Since(start).Seconds())
		observability.CacheErrorsTotal.WithLabelValues("get", string(client.CategorizeError(err))).Inc()
		observability.LoggerFrom(ctx, p.logger).Debug("prediction cache get failed", zap.Error(err))
		return 0, false
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(time.Since(start).Seconds())
	return v, ok
}

func (p *CachingPredictor) store(ctx context.Context, key string, v float64) {
	if p.cache == nil || p.ttl <= 0 {
		return
	}
	start := time.Now()
	if err := p.cache.Set(ctx, key, v, p.ttl); err != nil {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(start).Seconds())
		observability.CacheErrorsTotal.WithLabelValues("set", string(client.CategorizeError(err))).Inc()
		observability.LoggerFrom(ctx, p.logger).Debug("prediction cache set failed", zap.Error(err))
		return
	}
	observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(start).Seconds())
}
