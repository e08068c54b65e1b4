// Package resilience provides circuit breaker and backend failover primitives
// for the assist tools.
//
// [CircuitBreaker] is a three-state breaker (closed, open, half-open) that
// stops hammering a hosted model that keeps failing. [FallbackGroup] puts one
// breaker in front of each backend and tries them in order. [ToolFallback]
// applies that to [assist.Tool].
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by [CircuitBreaker.Execute] when the breaker is in
// the open state and the reset timeout has not yet elapsed.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State represents the current operating mode of a [CircuitBreaker].
type State int

const (
	// StateClosed forwards every call.
	StateClosed State = iota

	// StateOpen rejects calls with [ErrCircuitOpen] until the reset timeout
	// elapses.
	StateOpen

	// StateHalfOpen lets a limited number of probe calls through. Enough
	// successes close the breaker, any failure re-opens it.
	StateHalfOpen
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig holds tuning knobs for a [CircuitBreaker].
type CircuitBreakerConfig struct {
	// Name is a human-readable label used in log messages.
	Name string

	// MaxFailures is the number of consecutive failures in the closed state
	// before the breaker opens. Default: 5.
	MaxFailures int

	// ResetTimeout is how long the breaker stays open before transitioning to
	// half-open. Default: 30s.
	ResetTimeout time.Duration

	// HalfOpenMax is the number of successful probes needed to close the
	// breaker again. Default: 3.
	HalfOpenMax int

	// IsFailure reports whether err counts against the breaker. Errors for
	// which it returns false are passed through without changing any counter.
	// Default: every error except context.Canceled.
	IsFailure func(err error) bool

	// OnStateChange, if set, is called after every transition with the
	// breaker's mutex released.
	OnStateChange func(name string, from, to State)

	// Now replaces time.Now in tests.
	Now func() time.Time
}

// CircuitBreaker implements the three-state circuit breaker pattern.
type CircuitBreaker struct {
	name          string
	maxFailures   int
	resetTimeout  time.Duration
	halfOpenMax   int
	isFailure     func(error) bool
	onStateChange func(string, State, State)
	now           func() time.Time

	mu              sync.Mutex
	state           State
	consecutiveFail int
	openedAt        time.Time
	probes          int
	probeSuccesses  int
}

// NewCircuitBreaker creates a [CircuitBreaker] with the supplied configuration.
// Zero-value config fields are replaced with defaults.
func NewCircuitBreaker(cfg CircuitBreakerConfig) *CircuitBreaker {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 5
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMax <= 0 {
		cfg.HalfOpenMax = 3
	}
	if cfg.IsFailure == nil {
		cfg.IsFailure = func(err error) bool { return !errors.Is(err, context.Canceled) }
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &CircuitBreaker{
		name:          cfg.Name,
		maxFailures:   cfg.MaxFailures,
		resetTimeout:  cfg.ResetTimeout,
		halfOpenMax:   cfg.HalfOpenMax,
		isFailure:     cfg.IsFailure,
		onStateChange: cfg.OnStateChange,
		now:           cfg.Now,
		state:         StateClosed,
	}
}

// Name returns the breaker's label.
func (cb *CircuitBreaker) Name() string { return cb.name }

// Execute runs fn if the breaker allows it. In the open state it returns
// [ErrCircuitOpen] without calling fn. Each half-open period admits at most
// HalfOpenMax probes.
func (cb *CircuitBreaker) Execute(fn func() error) error {
	cb.mu.Lock()
	var changed *transition
	if cb.state == StateOpen {
		if cb.now().Sub(cb.openedAt) < cb.resetTimeout {
			cb.mu.Unlock()
			return ErrCircuitOpen
		}
		changed = cb.setState(StateHalfOpen)
	}
	probe := cb.state == StateHalfOpen
	if probe {
		if cb.probes >= cb.halfOpenMax {
			cb.mu.Unlock()
			changed.notify(cb)
			return ErrCircuitOpen
		}
		cb.probes++
	}
	cb.mu.Unlock()
	changed.notify(cb)

	err := fn()

	cb.mu.Lock()
	switch {
	case err == nil:
		changed = cb.recordSuccess(probe)
	case cb.isFailure(err):
		changed = cb.recordFailure(probe)
	default:
		changed = nil
		if probe && cb.state == StateHalfOpen && cb.probes > 0 {
			cb.probes--
		}
	}
	cb.mu.Unlock()
	changed.notify(cb)
	return err
}

func (cb *CircuitBreaker) recordFailure(probe bool) *transition {
	if probe {
		return cb.setState(StateOpen)
	}
	cb.consecutiveFail++
	if cb.state == StateClosed && cb.consecutiveFail >= cb.maxFailures {
		return cb.setState(StateOpen)
	}
	return nil
}

func (cb *CircuitBreaker) recordSuccess(probe bool) *transition {
	if !probe {
		cb.consecutiveFail = 0
		return nil
	}
	if cb.state != StateHalfOpen {
		return nil
	}
	cb.probeSuccesses++
	if cb.probeSuccesses >= cb.halfOpenMax {
		return cb.setState(StateClosed)
	}
	return nil
}

// transition is a state change waiting to be reported.
type transition struct{ from, to State }

func (t *transition) notify(cb *CircuitBreaker) {
	if t == nil {
		return
	}
	switch t.to {
	case StateOpen:
		slog.Warn("circuit breaker opened", "name", cb.name, "from", t.from.String())
	default:
		slog.Info("circuit breaker state changed", "name", cb.name, "from", t.from.String(), "to", t.to.String())
	}
	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, t.from, t.to)
	}
}

// setState switches to s and resets the counters that belong to it. Must be
// called with cb.mu held.
func (cb *CircuitBreaker) setState(s State) *transition {
	from := cb.state
	if from == s {
		return nil
	}
	cb.state = s
	cb.probes = 0
	cb.probeSuccesses = 0
	switch s {
	case StateOpen:
		cb.openedAt = cb.now()
	case StateClosed:
		cb.consecutiveFail = 0
	}
	return &transition{from: from, to: s}
}

// State returns the current [State] of the breaker. An open breaker whose
// reset timeout has elapsed reports [StateHalfOpen]; the transition itself
// happens on the next [CircuitBreaker.Execute].
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && cb.now().Sub(cb.openedAt) >= cb.resetTimeout {
		return StateHalfOpen
	}
	return cb.state
}

// Reset forces the breaker back to [StateClosed].
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	changed := cb.setState(StateClosed)
	cb.consecutiveFail = 0
	cb.mu.Unlock()
	changed.notify(cb)
}
