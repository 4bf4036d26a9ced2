// Package health derives the service status reported by GET /health from the
// shutdown flag, dependency checks and the traffic windows.
package health

import (
	"context"
	"net/http"
	"time"

	"github.com/kjstillabower/cab-fare-service/internal/lifecycle"
	"github.com/kjstillabower/cab-fare-service/internal/traffic"
)

// Status is the externally reported health state.
type Status string

const (
	StatusHealthy      Status = "healthy"
	StatusIdle         Status = "idle"
	StatusOverloaded   Status = "overloaded"
	StatusDegraded     Status = "degraded"
	StatusShuttingDown Status = "shutting-down"
)

// HTTPStatus maps a status to the response code: 200 for healthy and idle,
// 503 otherwise so load balancers drain the instance.
func (s Status) HTTPStatus() int {
	switch s {
	case StatusHealthy, StatusIdle:
		return http.StatusOK
	default:
		return http.StatusServiceUnavailable
	}
}

// Thresholds configure the traffic-based states. A zero window disables the
// corresponding state.
type Thresholds struct {
	OverloadWindow         time.Duration
	OverloadThresholdPct   int
	RateLimitRPS           int
	DegradedWindow         time.Duration
	DegradedErrorPct       int
	IdleWindow             time.Duration
	IdleThresholdReqPerMin int
	MinimumLifespan        time.Duration
}

// Check probes one dependency. A failing Critical check marks the service degraded;
// a failing non-critical check is only reported.
type Check struct {
	Name     string
	Critical bool
	Probe    func(ctx context.Context) error
}

// Report is the outcome of one evaluation.
type Report struct {
	Status Status
	Reason string
	Checks map[string]string
}

// Evaluator computes health. Safe for concurrent use.
type Evaluator struct {
	thresholds Thresholds
	tracker    *traffic.Tracker
	checks     []Check
	start      time.Time
	now        func() time.Time
}

// NewEvaluator returns an evaluator reading tracker (traffic.Default() when nil).
// start is the process start time used for the idle minimum lifespan.
func NewEvaluator(t Thresholds, tracker *traffic.Tracker, start time.Time, checks ...Check) *Evaluator {
	if tracker == nil {
		tracker = traffic.Default()
	}
	return &Evaluator{
		thresholds: t,
		tracker:    tracker,
		checks:     checks,
		start:      start,
		now:        time.Now,
	}
}

// Evaluate runs the dependency checks and returns the first matching state in
// priority order: shutting-down, degraded, overloaded, idle, healthy.
func (e *Evaluator) Evaluate(ctx context.Context) Report {
	checks := make(map[string]string, len(e.checks))
	if lifecycle.IsShuttingDown() {
		return Report{Status: StatusShuttingDown, Reason: "signal", Checks: checks}
	}

	criticalFailed := ""
	for _, c := range e.checks {
		if err := c.Probe(ctx); err != nil {
			checks[c.Name] = "unhealthy"
			if c.Critical && criticalFailed == "" {
				criticalFailed = c.Name
			}
			continue
		}
		checks[c.Name] = "healthy"
	}
	if criticalFailed != "" {
		return Report{Status: StatusDegraded, Reason: criticalFailed + "_unreachable", Checks: checks}
	}

	t := e.thresholds
	if t.DegradedWindow > 0 && t.DegradedErrorPct > 0 {
		errs, total := e.tracker.ErrorRate(t.DegradedWindow)
		if total > 0 && float64(errs)*100/float64(total) >= float64(t.DegradedErrorPct) {
			return Report{Status: StatusDegraded, Reason: "error_rate_breach", Checks: checks}
		}
	}
	if t.OverloadWindow > 0 && t.RateLimitRPS > 0 && t.OverloadThresholdPct > 0 {
		threshold := float64(t.RateLimitRPS) * t.OverloadWindow.Seconds() * float64(t.OverloadThresholdPct) / 100
		if float64(e.tracker.RequestCount(t.OverloadWindow)) > threshold {
			return Report{Status: StatusOverloaded, Reason: "overload_threshold", Checks: checks}
		}
	}
	if t.IdleWindow > 0 && t.MinimumLifespan > 0 && e.now().Sub(e.start) >= t.MinimumLifespan {
		if e.tracker.RequestCount(t.IdleWindow) < t.IdleThresholdReqPerMin {
			return Report{Status: StatusIdle, Reason: "low_traffic", Checks: checks}
		}
	}
	return Report{Status: StatusHealthy, Checks: checks}
}
