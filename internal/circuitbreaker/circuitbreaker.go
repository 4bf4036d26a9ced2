package circuitbreaker

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrOpen is returned by Call while the circuit rejects calls.
var ErrOpen = errors.New("circuit breaker open")

// State represents the circuit breaker state.
const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

// State is the circuit breaker state (Closed, Open, HalfOpen).
type State int

func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

// CircuitBreaker protects upstream calls by opening after repeated failures
// and allowing probe requests in half-open state.
type CircuitBreaker struct {
	mu               sync.Mutex
	state            State
	failureCount     int
	successCount     int
	openedAt         time.Time
	failureThreshold int
	successThreshold int
	timeout          time.Duration
	isFailure        func(error) bool
	onStateChange    func(from, to State)
	now              func() time.Time
}

// Config holds circuit breaker parameters.
type Config struct {
	FailureThreshold int
	SuccessThreshold int
	Timeout          time.Duration
	// IsFailure decides which errors count toward opening. Defaults to any
	// non-nil error. Caller mistakes (bad request) should not trip the circuit.
	IsFailure     func(error) bool
	OnStateChange func(from, to State)
}

// New creates a new CircuitBreaker with the given config.
func New(cfg Config) *CircuitBreaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.SuccessThreshold <= 0 {
		cfg.SuccessThreshold = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return err != nil }
	}
	return &CircuitBreaker{
		state:            StateClosed,
		failureThreshold: cfg.FailureThreshold,
		successThreshold: cfg.SuccessThreshold,
		timeout:          cfg.Timeout,
		isFailure:        cfg.IsFailure,
		onStateChange:    cfg.OnStateChange,
		now:              time.Now,
	}
}

// Call runs fn when the circuit allows it. When open, returns ErrOpen until the
// timeout has elapsed, then lets probes through in half-open. Records outcomes
// to open and close the circuit. fn's error is returned unchanged.
func (cb *CircuitBreaker) Call(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := cb.before(); err != nil {
		return err
	}
	err := fn(ctx)
	cb.after(err)
	return err
}

func (cb *CircuitBreaker) before() error {
	cb.mu.Lock()
	if cb.state != StateOpen {
		cb.mu.Unlock()
		return nil
	}
	if cb.now().Sub(cb.openedAt) < cb.timeout {
		cb.mu.Unlock()
		return ErrOpen
	}
	transition := cb.setStateLocked(StateHalfOpen)
	cb.mu.Unlock()
	transition()
	return nil
}

func (cb *CircuitBreaker) after(err error) {
	cb.mu.Lock()
	transition := func() {}
	if err != nil && cb.isFailure(err) {
		cb.failureCount++
		if cb.state == StateHalfOpen || cb.failureCount >= cb.failureThreshold {
			cb.openedAt = cb.now()
			transition = cb.setStateLocked(StateOpen)
		}
	} else {
		cb.failureCount = 0
		if cb.state == StateHalfOpen {
			cb.successCount++
			if cb.successCount >= cb.successThreshold {
				transition = cb.setStateLocked(StateClosed)
			}
		}
	}
	cb.mu.Unlock()
	transition()
}

// setStateLocked changes state and returns the notification to run after
// unlocking, so callbacks never run under mu.
func (cb *CircuitBreaker) setStateLocked(to State) func() {
	from := cb.state
	cb.state = to
	cb.failureCount = 0
	cb.successCount = 0
	if cb.onStateChange == nil || from == to {
		return func() {}
	}
	return func() { cb.onStateChange(from, to) }
}

// State returns the current state (for metrics and health).
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}
