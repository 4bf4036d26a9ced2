//go:build integration
// +build integration

package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/cab-fare-service/internal/health"
	"github.com/kjstillabower/cab-fare-service/internal/observability"
	testhelpers "github.com/kjstillabower/cab-fare-service/internal/testhelpers"
	"github.com/kjstillabower/cab-fare-service/internal/traffic"
)

var testLogger *zap.Logger

func init() {
	var err error
	testLogger, err = observability.NewLogger()
	if err != nil {
		panic(err)
	}
}

// setupIntegrationRouter wires the full router over a live predictor.
func setupIntegrationRouter(t *testing.T, limiter *rate.Limiter) http.Handler {
	t.Helper()
	cfg := testhelpers.GetIntegrationConfig(t)
	svc, _ := testhelpers.SetupIntegrationService(t, cfg, testLogger)
	predictor := testhelpers.SetupIntegrationPredictor(t, cfg)
	evaluator := health.NewEvaluator(health.Thresholds{}, traffic.NewTracker(time.Now), time.Now(),
		health.Check{Name: "predictor", Critical: true, Probe: predictor.Ping})
	return NewRouter(NewHandler(svc, evaluator, testLogger, time.UTC), testLogger, limiter, 10*time.Second)
}

func TestIntegration_GetQuote(t *testing.T) {
	router := setupIntegrationRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/quote?pickup=Times+Square&dropoff=JFK+Airport&passengers=2&weather=rain&hour=18", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp struct {
		FinalFare float64 `json:"finalFare"`
		Raw       struct {
			BasePrediction float64 `json:"basePrediction"`
		} `json:"raw"`
	}
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Raw.BasePrediction < 3.0 {
		t.Errorf("basePrediction = %v, want >= minimum fare", resp.Raw.BasePrediction)
	}
	if resp.FinalFare <= resp.Raw.BasePrediction {
		t.Errorf("finalFare = %v, want above base %v", resp.FinalFare, resp.Raw.BasePrediction)
	}
}

// TestIntegration_GetQuote_CachedRepeat verifies a repeated quote returns the
// identical fare from the prediction cache.
func TestIntegration_GetQuote_CachedRepeat(t *testing.T) {
	router := setupIntegrationRouter(t, nil)
	path := "/quote?pickup=Wall+Street&dropoff=Central+Park&weather=clear&hour=9"

	var bodies []string
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest("GET", path, nil))
		if w.Code != http.StatusOK {
			t.Fatalf("request %d status = %d", i, w.Code)
		}
		bodies = append(bodies, w.Body.String())
	}
	if bodies[0] != bodies[1] {
		t.Errorf("repeat quote differs:\n%s\n%s", bodies[0], bodies[1])
	}
}

func TestIntegration_GetHealth_FullStack(t *testing.T) {
	router := setupIntegrationRouter(t, nil)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"predictor":"healthy"`) {
		t.Errorf("health body = %s, want healthy predictor check", w.Body.String())
	}
}

func TestIntegration_GetMetrics_Format(t *testing.T) {
	router := setupIntegrationRouter(t, nil)
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/quote?pickup=Times+Square&dropoff=JFK+Airport&weather=clear&hour=3", nil))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	for _, name := range []string{"httpRequestsTotal", "predictorCallsTotal", "quotesTotal"} {
		if !strings.Contains(w.Body.String(), name) {
			t.Errorf("/metrics missing %s", name)
		}
	}
}

// TestIntegration_RateLimiting_Concurrent verifies concurrent callers beyond
// the burst receive 429 and nothing else fails.
func TestIntegration_RateLimiting_Concurrent(t *testing.T) {
	router := setupIntegrationRouter(t, rate.NewLimiter(1, 5))

	var mu sync.Mutex
	codes := map[int]int{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest("GET", "/locations", nil))
			mu.Lock()
			codes[w.Code]++
			mu.Unlock()
		}()
	}
	wg.Wait()

	if codes[http.StatusOK] < 5 || codes[http.StatusTooManyRequests] == 0 {
		t.Errorf("status counts = %v, want >= 5 OK and some 429", codes)
	}
	if codes[http.StatusOK]+codes[http.StatusTooManyRequests] != 20 {
		t.Errorf("unexpected statuses: %v", codes)
	}
}
