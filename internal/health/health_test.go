package health

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/kjstillabower/cab-fare-service/internal/lifecycle"
	"github.com/kjstillabower/cab-fare-service/internal/traffic"
)

func okProbe(context.Context) error   { return nil }
func failProbe(context.Context) error { return errors.New("down") }

func TestEvaluate_Healthy(t *testing.T) {
	e := NewEvaluator(Thresholds{}, traffic.NewTracker(nil), time.Now(),
		Check{Name: "predictor", Critical: true, Probe: okProbe},
		Check{Name: "cache", Probe: okProbe},
	)
	r := e.Evaluate(context.Background())
	if r.Status != StatusHealthy {
		t.Errorf("Status = %q, want healthy", r.Status)
	}
	if r.Checks["predictor"] != "healthy" || r.Checks["cache"] != "healthy" {
		t.Errorf("Checks = %v, want all healthy", r.Checks)
	}
}

// TestEvaluate_Priority verifies shutting-down > degraded > overloaded > idle.
func TestEvaluate_Priority(t *testing.T) {
	busy := traffic.NewTracker(nil)
	for i := 0; i < 50; i++ {
		busy.Record(traffic.Denied)
	}
	overload := Thresholds{OverloadWindow: time.Second, OverloadThresholdPct: 80, RateLimitRPS: 10}

	t.Run("shutting down beats failing check", func(t *testing.T) {
		lifecycle.SetShuttingDown(true)
		defer lifecycle.SetShuttingDown(false)
		e := NewEvaluator(overload, busy, time.Now(), Check{Name: "predictor", Critical: true, Probe: failProbe})
		r := e.Evaluate(context.Background())
		if r.Status != StatusShuttingDown {
			t.Errorf("Status = %q, want shutting-down", r.Status)
		}
	})

	t.Run("critical check failure beats overload", func(t *testing.T) {
		e := NewEvaluator(overload, busy, time.Now(), Check{Name: "predictor", Critical: true, Probe: failProbe})
		r := e.Evaluate(context.Background())
		if r.Status != StatusDegraded || r.Reason != "predictor_unreachable" {
			t.Errorf("Evaluate() = %q/%q, want degraded/predictor_unreachable", r.Status, r.Reason)
		}
	})

	t.Run("overload", func(t *testing.T) {
		e := NewEvaluator(overload, busy, time.Now())
		if r := e.Evaluate(context.Background()); r.Status != StatusOverloaded {
			t.Errorf("Status = %q, want overloaded", r.Status)
		}
	})
}

// TestEvaluate_NonCriticalFailureReported verifies a failing cache shows in
// checks without changing the status.
func TestEvaluate_NonCriticalFailureReported(t *testing.T) {
	e := NewEvaluator(Thresholds{}, traffic.NewTracker(nil), time.Now(),
		Check{Name: "cache", Probe: failProbe},
	)
	r := e.Evaluate(context.Background())
	if r.Status != StatusHealthy {
		t.Errorf("Status = %q, want healthy", r.Status)
	}
	if r.Checks["cache"] != "unhealthy" {
		t.Errorf("Checks[cache] = %q, want unhealthy", r.Checks["cache"])
	}
}

func TestEvaluate_ErrorRateBreach(t *testing.T) {
	tr := traffic.NewTracker(nil)
	tr.Record(traffic.Success)
	tr.Record(traffic.Failure)
	tr.Record(traffic.Failure)
	e := NewEvaluator(Thresholds{DegradedWindow: time.Minute, DegradedErrorPct: 50}, tr, time.Now())
	r := e.Evaluate(context.Background())
	if r.Status != StatusDegraded || r.Reason != "error_rate_breach" {
		t.Errorf("Evaluate() = %q/%q, want degraded/error_rate_breach", r.Status, r.Reason)
	}
}

// TestEvaluate_Idle verifies idle only applies after the minimum lifespan.
func TestEvaluate_Idle(t *testing.T) {
	th := Thresholds{IdleWindow: time.Minute, IdleThresholdReqPerMin: 5, MinimumLifespan: time.Minute}
	start := time.Now()

	young := NewEvaluator(th, traffic.NewTracker(nil), start)
	if r := young.Evaluate(context.Background()); r.Status != StatusHealthy {
		t.Errorf("young instance Status = %q, want healthy", r.Status)
	}

	old := NewEvaluator(th, traffic.NewTracker(nil), start)
	old.now = func() time.Time { return start.Add(2 * time.Minute) }
	if r := old.Evaluate(context.Background()); r.Status != StatusIdle {
		t.Errorf("old quiet instance Status = %q, want idle", r.Status)
	}
}

func TestStatus_HTTPStatus(t *testing.T) {
	tests := []struct {
		s    Status
		want int
	}{
		{StatusHealthy, http.StatusOK},
		{StatusIdle, http.StatusOK},
		{StatusOverloaded, http.StatusServiceUnavailable},
		{StatusDegraded, http.StatusServiceUnavailable},
		{StatusShuttingDown, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		if got := tt.s.HTTPStatus(); got != tt.want {
			t.Errorf("%q.HTTPStatus() = %d, want %d", tt.s, got, tt.want)
		}
	}
}
