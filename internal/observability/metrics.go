package observability

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kjstillabower/cab-fare-service/internal/traffic"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Fare model calls by outcome. Watch for: error vs success ratio.
	PredictorCallsTotal *prometheus.CounterVec

	// Fare model latency. Watch for: p95 > 1s (model server saturated).
	PredictorDuration *prometheus.HistogramVec

	// Retry attempts against the fare model. Watch for: high retries = unstable model server.
	PredictorRetriesTotal prometheus.Counter

	// Failed predictions by stable category (see client.CategorizeError).
	PredictorErrorsTotal *prometheus.CounterVec

	// Circuit breaker state per component: 0 closed, 1 open, 2 half-open.
	CircuitBreakerState *prometheus.GaugeVec

	// Circuit breaker transitions. Watch for: flapping between open and half-open.
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Prediction cache hits and misses. Hit rate = hits/(hits+misses).
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Cache backend failures by operation. Failures fall through to the model.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache operation latency by operation and outcome.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses on one key. Watch for: hot routes hammering the model.
	CacheStampedeDetectedTotal prometheus.Counter
	CacheStampedeConcurrency   prometheus.Histogram

	// Callers that shared an in-flight prediction instead of calling the model.
	RequestCoalescingHitsTotal prometheus.Counter

	// Route prefetch rounds, their latency and failed rounds.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram
	CacheWarmingErrorsTotal     prometheus.Counter

	// Quotes by outcome (success, invalid, not_found, predictor_error, timeout).
	QuotesTotal *prometheus.CounterVec

	// Quotes per pickup (allow-list; others go to "other").
	QuotesByPickupTotal *prometheus.CounterVec

	// Quotes by weather condition.
	QuotesByWeatherTotal *prometheus.CounterVec

	// How often the rush-hour surge and the night charge were applied.
	SurgeAppliedTotal       prometheus.Counter
	NightChargeAppliedTotal prometheus.Counter

	// Floor hits. Watch for: model drifting low on short trips.
	MinimumFareAppliedTotal prometheus.Counter

	// Distribution of unrounded final fares.
	FinalFare prometheus.Histogram

	// Quote events that could not be published.
	QuoteEventPublishFailuresTotal prometheus.Counter

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	trackedPickupsMu sync.RWMutex
	trackedPickups   map[string]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	PredictorCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictorCallsTotal",
			Help: "Total number of fare model calls",
		},
		[]string{"status"},
	)
	PredictorDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "predictorDurationSeconds",
			Help:    "Fare model latency in seconds (per call)",
			Buckets: []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"status"},
	)
	PredictorRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "predictorRetriesTotal",
			Help: "Total number of retry attempts for fare model calls",
		},
	)
	PredictorErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "predictorErrorsTotal",
			Help: "Failed fare predictions by category",
		},
		[]string{"category"},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of prediction cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of prediction cache misses",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Prediction cache backend errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Prediction cache operation latency in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .05, .1, .5},
		},
		[]string{"operation", "status"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Cache misses that overlapped another miss on the same key",
		},
	)
	CacheStampedeConcurrency = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Concurrent misses on one key when a stampede is detected",
			Buckets: []float64{2, 3, 5, 10, 20, 50},
		},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Predictions shared with a concurrent in-flight call",
		},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Prediction cache warming rounds",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Prediction cache warming round duration in seconds",
			Buckets: []float64{.1, .5, 1, 2.5, 5, 10, 30, 60},
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Prediction cache warming rounds with at least one failure",
		},
	)
	QuotesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotesTotal",
			Help: "Fare quotes by outcome",
		},
		[]string{"outcome"},
	)
	QuotesByPickupTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotesByPickupTotal",
			Help: "Fare quotes by pickup (allow-list; others use pickup=other)",
		},
		[]string{"pickup"},
	)
	QuotesByWeatherTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quotesByWeatherTotal",
			Help: "Fare quotes by weather condition",
		},
		[]string{"weather"},
	)
	SurgeAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "surgeAppliedTotal",
			Help: "Quotes priced with the rush-hour surge multiplier",
		},
	)
	NightChargeAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nightChargeAppliedTotal",
			Help: "Quotes priced with the night charge",
		},
	)
	MinimumFareAppliedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "minimumFareAppliedTotal",
			Help: "Quotes whose model prediction was raised to the minimum fare",
		},
	)
	FinalFare = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "finalFare",
			Help:    "Unrounded final fare per quote",
			Buckets: []float64{5, 10, 15, 20, 30, 50, 75, 100, 150},
		},
	)
	QuoteEventPublishFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "quoteEventPublishFailuresTotal",
			Help: "Quote events that failed to publish",
		},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		PredictorCallsTotal, PredictorDuration, PredictorRetriesTotal, PredictorErrorsTotal,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency, RequestCoalescingHitsTotal,
		CacheWarmingTotal, CacheWarmingDurationSeconds, CacheWarmingErrorsTotal,
		QuotesTotal, QuotesByPickupTotal, QuotesByWeatherTotal,
		SurgeAppliedTotal, NightChargeAppliedTotal, MinimumFareAppliedTotal, FinalFare,
		QuoteEventPublishFailuresTotal,
		RateLimitDeniedTotal,
	)
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load with cfg.OverloadWindow.
func RegisterRateLimitGauges(window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(traffic.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(traffic.DenialCount(window)) },
			),
		)
	})
}

// RecordCircuitBreakerTransition counts a state change and updates the state gauge.
func RecordCircuitBreakerTransition(component, from, to string, toValue int) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
	CircuitBreakerState.WithLabelValues(component).Set(float64(toValue))
}

// SetTrackedPickups sets the allow-list for pickup metrics. Other pickups increment "other".
func SetTrackedPickups(names []string) {
	trackedPickupsMu.Lock()
	defer trackedPickupsMu.Unlock()
	trackedPickups = make(map[string]struct{}, len(names))
	for _, n := range names {
		trackedPickups[normalizeNameForMetrics(n)] = struct{}{}
	}
}

// PickupLabel returns the metric label for a pickup name: the normalized name if
// tracked, otherwise "other". Coordinate-only quotes pass "" and get "coordinates".
func PickupLabel(name string) string {
	if strings.TrimSpace(name) == "" {
		return "coordinates"
	}
	n := normalizeNameForMetrics(name)
	trackedPickupsMu.RLock()
	_, ok := trackedPickups[n]
	trackedPickupsMu.RUnlock()
	if ok {
		return n
	}
	return "other"
}

func normalizeNameForMetrics(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
