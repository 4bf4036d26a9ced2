// Package traffic keeps sliding windows of quote outcomes. Health evaluation
// reads load (RequestCount, DenialCount) and predictor error rate (ErrorRate)
// from the same windows so the denominators agree.
package traffic

import (
	"sync"
	"time"
)

// Outcome classifies a finished request for the windows.
type Outcome int

const (
	// Success is a quote that returned a fare.
	Success Outcome = iota
	// Failure is a quote that failed upstream (predictor error, timeout).
	Failure
	// Denied is a rate-limit rejection (429).
	Denied
)

// retention bounds memory; the longest window read is the idle window.
const retention = 30 * time.Minute

var defaultTracker = NewTracker(nil)

// Record records an outcome on the process-wide tracker.
func Record(o Outcome) {
	defaultTracker.Record(o)
}

// RecordSuccess records a successful quote.
func RecordSuccess() { defaultTracker.Record(Success) }

// RecordError records a quote that failed upstream.
func RecordError() { defaultTracker.Record(Failure) }

// RecordDenied records a rate-limit denial (429).
func RecordDenied() { defaultTracker.Record(Denied) }

// RequestCount returns the number of outcomes (success + error + denied) within the window.
func RequestCount(window time.Duration) int {
	return defaultTracker.RequestCount(window)
}

// DenialCount returns the number of denials within the window.
func DenialCount(window time.Duration) int {
	return defaultTracker.DenialCount(window)
}

// ErrorRate returns (errorCount, totalCount) within the window. totalCount = successes + errors (denied excluded).
func ErrorRate(window time.Duration) (errors, total int) {
	return defaultTracker.ErrorRate(window)
}

// Default returns the process-wide tracker.
func Default() *Tracker {
	return defaultTracker
}

// Reset clears all recorded outcomes. For tests only.
func Reset() {
	defaultTracker.Reset()
}

type event struct {
	at      time.Time
	outcome Outcome
}

// Tracker maintains a time-ordered log of outcomes, pruned past retention.
type Tracker struct {
	mu     sync.Mutex
	now    func() time.Time
	events []event
}

// NewTracker returns a tracker using now as its clock (time.Now when nil).
func NewTracker(now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{now: now}
}

// Record appends an outcome at the current time.
func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.events = append(t.events, event{at: now, outcome: o})
	t.pruneLocked(now)
}

// RequestCount returns all outcomes within the window.
func (t *Tracker) RequestCount(window time.Duration) int {
	s, f, d := t.counts(window)
	return s + f + d
}

// DenialCount returns rate-limit denials within the window.
func (t *Tracker) DenialCount(window time.Duration) int {
	_, _, d := t.counts(window)
	return d
}

// ErrorRate returns (errorCount, totalCount) within the window.
// Denials are excluded from the denominator.
func (t *Tracker) ErrorRate(window time.Duration) (errors, total int) {
	s, f, _ := t.counts(window)
	return f, s + f
}

// Reset clears all recorded outcomes.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = nil
}

func (t *Tracker) counts(window time.Duration) (success, failure, denied int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cutoff := t.now().Add(-window)
	// Events are appended in time order; walk back from the newest.
	for i := len(t.events) - 1; i >= 0; i-- {
		e := t.events[i]
		if e.at.Before(cutoff) {
			break
		}
		switch e.outcome {
		case Success:
			success++
		case Failure:
			failure++
		case Denied:
			denied++
		}
	}
	return success, failure, denied
}

// pruneLocked drops events older than retention. Must be called with mu held.
func (t *Tracker) pruneLocked(now time.Time) {
	cutoff := now.Add(-retention)
	i := 0
	for ; i < len(t.events) && t.events[i].at.Before(cutoff); i++ {
	}
	if i > 0 {
		t.events = append(t.events[:0], t.events[i:]...)
	}
}
