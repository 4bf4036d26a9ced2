package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/cab-fare-service/internal/client"
	"github.com/kjstillabower/cab-fare-service/internal/models"
	"github.com/kjstillabower/cab-fare-service/internal/observability"
)

// VectorSource yields the feature vectors to prefetch at time now, e.g. every
// named route at the current hour.
type VectorSource func(ctx context.Context, now time.Time) ([]models.Features, error)

// Warmer prefetches predictions through a caching predictor so popular routes
// are hot before traffic arrives.
type Warmer struct {
	predictor   client.Predictor
	logger      *zap.Logger
	concurrency int
}

// NewWarmer returns a Warmer issuing at most concurrency predictions at once.
func NewWarmer(predictor client.Predictor, concurrency int, logger *zap.Logger) *Warmer {
	if concurrency <= 0 {
		concurrency = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Warmer{predictor: predictor, logger: logger, concurrency: concurrency}
}

// Warm predicts every vector and returns the joined failures.
func (w *Warmer) Warm(ctx context.Context, vectors []models.Features) error {
	start := time.Now()
	observability.CacheWarmingTotal.Inc()
	w.logger.Info("warming prediction cache", zap.Int("vectors", len(vectors)))

	sem := make(chan struct{}, w.concurrency)
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, f := range vectors {
		select {
		case <-ctx.Done():
			wg.Wait()
			return ctx.Err()
		case sem <- struct{}{}:
		}
		wg.Add(1)
		go func(f models.Features) {
			defer wg.Done()
			defer func() { <-sem }()
			if _, err := w.predictor.Predict(ctx, f); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("warm %s: %w", Key(f), err))
				mu.Unlock()
			}
		}(f)
	}
	wg.Wait()

	duration := time.Since(start).Seconds()
	observability.CacheWarmingDurationSeconds.Observe(duration)
	w.logger.Info("prediction cache warming complete",
		zap.Int("vectors", len(vectors)),
		zap.Int("errors", len(errs)),
		zap.Float64("duration_seconds", duration))
	if len(errs) > 0 {
		observability.CacheWarmingErrorsTotal.Inc()
		return fmt.Errorf("cache warming: %w", errors.Join(errs...))
	}
	return nil
}

// WarmPeriodic warms immediately, then at every interval until ctx is done.
// Vectors are rebuilt from source each round so hour-dependent keys follow the clock.
func (w *Warmer) WarmPeriodic(ctx context.Context, source VectorSource, interval time.Duration) error {
	w.round(ctx, source, "initial")
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			w.round(ctx, source, "periodic")
		}
	}
}

func (w *Warmer) round(ctx context.Context, source VectorSource, kind string) {
	vectors, err := source(ctx, time.Now())
	if err == nil {
		err = w.Warm(ctx, vectors)
	}
	if err != nil && ctx.Err() == nil {
		w.logger.Warn(kind+" cache warm failed", zap.Error(err))
	}
}
