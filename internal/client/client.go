package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/cab-fare-service/internal/circuitbreaker"
	"github.com/kjstillabower/cab-fare-service/internal/models"
	"github.com/kjstillabower/cab-fare-service/internal/observability"
)

// Predictor returns the model's base fare for a feature vector.
type Predictor interface {
	Predict(ctx context.Context, features models.Features) (float64, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

var (
	ErrPredictorUnavailable = errors.New("predictor unavailable")
	ErrRateLimited          = errors.New("predictor rate limited")
	ErrBadRequest           = errors.New("predictor rejected request")
	ErrInvalidPrediction    = errors.New("invalid prediction")
	// ErrUnauthorized and ErrCircuitOpen are both forms of unavailability.
	ErrUnauthorized = fmt.Errorf("%w: unauthorized", ErrPredictorUnavailable)
	ErrCircuitOpen  = fmt.Errorf("%w: circuit open", ErrPredictorUnavailable)
)

const maxResponseBytes = 1 << 20

// Options configures an HTTPPredictor.
type Options struct {
	URL            string
	Token          string
	Timeout        time.Duration
	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration
	// HealthURL is probed with GET by Ping; defaults to URL.
	HealthURL string
}

// HTTPPredictor calls a model-serving endpoint that accepts
// {"instances": [[...]]} and answers {"predictions": [...]}.
type HTTPPredictor struct {
	url            string
	healthURL      string
	token          string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

type predictRequest struct {
	Instances [][]float64 `json:"instances"`
}

type predictResponse struct {
	Predictions []float64 `json:"predictions"`
}

func NewHTTPPredictor(opts Options) (*HTTPPredictor, error) {
	if err := checkURL(opts.URL); err != nil {
		return nil, fmt.Errorf("predictor url: %w", err)
	}
	if opts.HealthURL == "" {
		opts.HealthURL = opts.URL
	} else if err := checkURL(opts.HealthURL); err != nil {
		return nil, fmt.Errorf("predictor health url: %w", err)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Second
	}
	if opts.RetryAttempts <= 0 {
		opts.RetryAttempts = 3
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 100 * time.Millisecond
	}
	if opts.RetryMaxDelay < opts.RetryBaseDelay {
		opts.RetryMaxDelay = 2 * time.Second
	}

	return &HTTPPredictor{
		url:            opts.URL,
		healthURL:      opts.HealthURL,
		token:          opts.Token,
		timeout:        opts.Timeout,
		retryAttempts:  opts.RetryAttempts,
		retryBaseDelay: opts.RetryBaseDelay,
		retryMaxDelay:  opts.RetryMaxDelay,
		client: &http.Client{
			Timeout: opts.Timeout,
		},
	}, nil
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return errors.New("host is required")
	}
	return nil
}

// SetCircuitBreaker wraps every attempt in cb. Call before serving traffic.
func (p *HTTPPredictor) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	p.breaker = cb
}

// IsUpstreamFailure reports whether err should count against the circuit
// breaker. Caller-side problems (bad request, cancellation) do not.
func IsUpstreamFailure(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrBadRequest) || errors.Is(err, context.Canceled) {
		return false
	}
	return true
}

// Predict returns the raw base fare for features. Transient failures are
// retried with exponential backoff; the last error is returned wrapped.
func (p *HTTPPredictor) Predict(ctx context.Context, features models.Features) (float64, error) {
	if !features.Finite() {
		return 0, fmt.Errorf("%w: non-finite feature", ErrBadRequest)
	}
	body, err := json.Marshal(predictRequest{Instances: [][]float64{features[:]}})
	if err != nil {
		return 0, fmt.Errorf("encode features: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.PredictorRetriesTotal.Inc()
			delay := p.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return 0, p.fail(fmt.Errorf("predict: %w", ctx.Err()))
			case <-time.After(delay):
			}
		}

		value, err := p.attempt(ctx, body)
		if err == nil {
			return value, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, p.fail(fmt.Errorf("predict: %w", ctx.Err()))
		}
		if !isRetryable(err) {
			return 0, p.fail(err)
		}
	}

	return 0, p.fail(fmt.Errorf("exhausted retries: %w", lastErr))
}

func (p *HTTPPredictor) fail(err error) error {
	observability.PredictorErrorsTotal.WithLabelValues(string(CategorizeError(err))).Inc()
	return err
}

func (p *HTTPPredictor) attempt(ctx context.Context, body []byte) (float64, error) {
	if p.breaker == nil {
		return p.callAPI(ctx, body)
	}
	var value float64
	err := p.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		value, callErr = p.callAPI(ctx, body)
		return callErr
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return 0, ErrCircuitOpen
	}
	return value, err
}

func (p *HTTPPredictor) callAPI(ctx context.Context, body []byte) (float64, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		observability.PredictorCallsTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	p.decorate(ctx, req)

	resp, err := p.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.PredictorCallsTotal.WithLabelValues("error").Inc()
		observability.PredictorDuration.WithLabelValues("error").Observe(duration)
		return 0, fmt.Errorf("%w: %w", ErrPredictorUnavailable, err)
	}
	defer resp.Body.Close()

	duration := time.Since(start).Seconds()
	status := statusLabel(resp.StatusCode)
	observability.PredictorCallsTotal.WithLabelValues(status).Inc()
	observability.PredictorDuration.WithLabelValues(status).Observe(duration)

	if err := handleErrorResponse(resp); err != nil {
		return 0, err
	}

	var out predictResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&out); err != nil {
		return 0, fmt.Errorf("%w: parse response: %v", ErrInvalidPrediction, err)
	}
	if len(out.Predictions) == 0 {
		return 0, fmt.Errorf("%w: empty predictions", ErrInvalidPrediction)
	}
	v := out.Predictions[0]
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v", ErrInvalidPrediction, v)
	}
	return v, nil
}

func (p *HTTPPredictor) decorate(ctx context.Context, req *http.Request) {
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("Authorization", "Bearer "+p.token)
	}
	if corrID := observability.CorrelationIDFrom(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
}

func isRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrUnauthorized):
		return false
	case errors.Is(err, ErrRateLimited), errors.Is(err, ErrPredictorUnavailable):
		return true
	}
	return false
}

func (p *HTTPPredictor) calculateBackoff(attempt int) time.Duration {
	delay := float64(p.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.retryMaxDelay) {
		delay = float64(p.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func handleErrorResponse(resp *http.Response) error {
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: HTTP %d", ErrUnauthorized, resp.StatusCode)
	case resp.StatusCode == http.StatusTooManyRequests:
		return fmt.Errorf("%w: HTTP %d", ErrRateLimited, resp.StatusCode)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return fmt.Errorf("%w: HTTP %d", ErrBadRequest, resp.StatusCode)
	default:
		return fmt.Errorf("%w: HTTP %d", ErrPredictorUnavailable, resp.StatusCode)
	}
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}

// Ping checks the model server answers GET on its health URL. An open circuit
// reports unavailable without a network call.
func (p *HTTPPredictor) Ping(ctx context.Context) error {
	if p.breaker != nil && p.breaker.State() == circuitbreaker.StateOpen {
		return ErrCircuitOpen
	}
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.healthURL, nil)
	if err != nil {
		return fmt.Errorf("build health request: %w", err)
	}
	p.decorate(ctx, req)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPredictorUnavailable, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBytes))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return handleErrorResponse(resp)
	}
	return nil
}
