package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/cab-fare-service/internal/cache"
	"github.com/kjstillabower/cab-fare-service/internal/circuitbreaker"
	"github.com/kjstillabower/cab-fare-service/internal/client"
	"github.com/kjstillabower/cab-fare-service/internal/config"
	"github.com/kjstillabower/cab-fare-service/internal/events"
	"github.com/kjstillabower/cab-fare-service/internal/health"
	httphandler "github.com/kjstillabower/cab-fare-service/internal/http"
	"github.com/kjstillabower/cab-fare-service/internal/lifecycle"
	"github.com/kjstillabower/cab-fare-service/internal/location"
	"github.com/kjstillabower/cab-fare-service/internal/models"
	"github.com/kjstillabower/cab-fare-service/internal/observability"
	"github.com/kjstillabower/cab-fare-service/internal/service"
	"github.com/kjstillabower/cab-fare-service/internal/traffic"
)

const predictorComponent = "predictor"

type pinger interface {
	Ping(ctx context.Context) error
}

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	closers := &lifecycle.Closers{}
	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()

	predictor, err := client.NewHTTPPredictor(client.Options{
		URL:            cfg.PredictorURL,
		Token:          cfg.PredictorToken,
		Timeout:        cfg.PredictorTimeout,
		RetryAttempts:  cfg.RetryAttempts,
		RetryBaseDelay: cfg.RetryBaseDelay,
		RetryMaxDelay:  cfg.RetryMaxDelay,
		HealthURL:      cfg.PredictorHealthURL,
	})
	if err != nil {
		logger.Fatal("predictor client", zap.Error(err))
	}
	if cfg.CircuitBreakerEnabled {
		predictor.SetCircuitBreaker(newPredictorBreaker(cfg, logger))
		observability.CircuitBreakerState.WithLabelValues(predictorComponent).Set(0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold),
			zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	store, err := buildCache(cfg, closers)
	if err != nil {
		logger.Fatal("cache", zap.Error(err))
	}
	logger.Info("cache backend", zap.String("backend", cfg.CacheBackend), zap.Duration("ttl", cfg.CacheTTL))
	quotePredictor := withCache(cfg, predictor, store, logger)

	lookup, err := buildLookup(startCtx, cfg, closers)
	if err != nil {
		logger.Fatal("locations", zap.Error(err))
	}
	logger.Info("location source", zap.String("source", cfg.LocationsSource))

	publisher, err := buildPublisher(cfg, closers)
	if err != nil {
		logger.Fatal("quote events", zap.Error(err))
	}

	quotes := newQuoteService(cfg, quotePredictor, lookup, publisher, logger)

	observability.RegisterRateLimitGauges(cfg.OverloadWindow)
	observability.SetTrackedPickups(cfg.TrackedPickups)

	warmCtx, stopWarming := context.WithCancel(context.Background())
	defer stopWarming()
	if cfg.CacheWarmEnabled && store != nil {
		warmer := cache.NewWarmer(quotePredictor, cfg.CacheWarmConcurrency, logger)
		source := routeSource(quotes, cfg.Timezone)
		if cfg.CacheWarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(warmCtx, source, cfg.CacheWarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else if vectors, err := source(startCtx, time.Now()); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		} else if err := warmer.Warm(startCtx, vectors); err != nil {
			logger.Warn("cache warming failed", zap.Error(err))
		}
	}

	evaluator := health.NewEvaluator(health.Thresholds{
		OverloadWindow:         cfg.OverloadWindow,
		OverloadThresholdPct:   cfg.OverloadThresholdPct,
		RateLimitRPS:           cfg.RateLimitRPS,
		DegradedWindow:         cfg.DegradedWindow,
		DegradedErrorPct:       cfg.DegradedErrorPct,
		IdleWindow:             cfg.IdleWindow,
		IdleThresholdReqPerMin: cfg.IdleThresholdReqPerMin,
		MinimumLifespan:        cfg.MinimumLifespan,
	}, traffic.Default(), time.Now(), healthChecks(predictor, store, lookup)...)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(quotes, evaluator, logger, cfg.Timezone)
	router := httphandler.NewRouter(handler, logger, limiter, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	stopWarming()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, 50*time.Millisecond); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := closers.CloseAll(); err != nil {
		logger.Error("close dependencies", zap.Error(err))
	}
	logger.Info("shutdown complete")
	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		fmt.Fprintf(os.Stderr, "telemetry flush: %v\n", err)
	}
}

// newPredictorBreaker trips only on upstream failures; caller mistakes and
// cancellations leave the circuit closed.
func newPredictorBreaker(cfg *config.Config, logger *zap.Logger) *circuitbreaker.CircuitBreaker {
	return circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.CircuitBreakerFailureThreshold,
		SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
		Timeout:          cfg.CircuitBreakerTimeout,
		IsFailure:        client.IsUpstreamFailure,
		OnStateChange: func(from, to circuitbreaker.State) {
			observability.RecordCircuitBreakerTransition(predictorComponent, from.String(), to.String(), int(to))
			logger.Warn("circuit breaker transition",
				zap.String("component", predictorComponent),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})
}

// withCache wraps predictor with the prediction cache when one is configured.
// Cache metrics are labelled with the backend name.
func withCache(cfg *config.Config, predictor client.Predictor, store cache.Cache, logger *zap.Logger) client.Predictor {
	if store == nil {
		return predictor
	}
	return cache.NewCachingPredictor(predictor, store, cfg.CacheTTL, cfg.CacheBackend, logger)
}

func newQuoteService(cfg *config.Config, predictor client.Predictor, lookup location.Lookup, publisher events.Publisher, logger *zap.Logger) *service.QuoteService {
	quotes := service.NewQuoteService(predictor, lookup, publisher, logger)
	quotes.SetNameLimits(service.MinLocationNameLength, cfg.LocationNameMaxLength)
	return quotes
}

// buildCache returns the configured prediction cache, or nil for "none".
// Network backends register their Close with closers.
func buildCache(cfg *config.Config, closers *lifecycle.Closers) (cache.Cache, error) {
	switch cfg.CacheBackend {
	case "none":
		return nil, nil
	case "in_memory":
		return cache.NewInMemoryCache(cfg.CacheMaxEntries), nil
	case "memcached":
		mc := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		closers.Add("memcached", mc.Close)
		return mc, nil
	case "redis":
		rc := cache.NewRedisCache(cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  cfg.RedisTimeout,
			PoolSize: cfg.RedisPoolSize,
		})
		closers.Add("redis", rc.Close)
		return rc, nil
	}
	return nil, fmt.Errorf("unknown cache backend %q", cfg.CacheBackend)
}

// buildLookup returns the configured location source.
func buildLookup(ctx context.Context, cfg *config.Config, closers *lifecycle.Closers) (location.Lookup, error) {
	switch cfg.LocationsSource {
	case "static":
		return location.DefaultNYC(), nil
	case "file":
		return location.LoadFile(cfg.LocationsPath)
	case "postgres":
		store, err := location.OpenPostgres(ctx, cfg.LocationsDSN, cfg.LocationsMaxOpenConns)
		if err != nil {
			return nil, err
		}
		closers.Add("postgres", store.Close)
		return store, nil
	}
	return nil, fmt.Errorf("unknown location source %q", cfg.LocationsSource)
}

// buildPublisher dials RabbitMQ when an AMQP URL is configured; otherwise
// quote events are dropped.
func buildPublisher(cfg *config.Config, closers *lifecycle.Closers) (events.Publisher, error) {
	if cfg.AMQPURL == "" {
		return events.NopPublisher{}, nil
	}
	pub, err := events.DialAMQP(cfg.AMQPURL, cfg.EventsTimeout)
	if err != nil {
		return nil, err
	}
	closers.Add("amqp", pub.Close)
	return pub, nil
}

// healthChecks probes the predictor (critical) and, when they can be pinged,
// the cache and location source (reported only).
func healthChecks(predictor client.HealthChecker, store cache.Cache, lookup location.Lookup) []health.Check {
	checks := []health.Check{{Name: predictorComponent, Critical: true, Probe: predictor.Ping}}
	if p, ok := store.(pinger); ok {
		checks = append(checks, health.Check{Name: "cache", Probe: p.Ping})
	}
	if p, ok := lookup.(pinger); ok {
		checks = append(checks, health.Check{Name: "locations", Probe: p.Ping})
	}
	return checks
}

// routeSource feeds the cache warmer with every route at the current hour in tz.
func routeSource(quotes *service.QuoteService, tz *time.Location) cache.VectorSource {
	return func(ctx context.Context, now time.Time) ([]models.Features, error) {
		return quotes.RouteVectors(ctx, now.In(tz).Hour())
	}
}
