package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

var (
	errTest   = errors.New("test error")
	errBenign = errors.New("benign error")
	testEpoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	notBenign = func(err error) bool { return !errors.Is(err, errBenign) }
	failOnce  = func() error { return errTest }
	succeedFn = func() error { return nil }
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{now: testEpoch} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestBreaker(clk *fakeClock, maxFailures, halfOpenMax int) *CircuitBreaker {
	return NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "test",
		MaxFailures:  maxFailures,
		ResetTimeout: time.Minute,
		HalfOpenMax:  halfOpenMax,
		Now:          clk.Now,
	})
}

func TestNewCircuitBreaker_Defaults(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "test"})
	if cb.maxFailures != 5 {
		t.Errorf("maxFailures = %d, want 5", cb.maxFailures)
	}
	if cb.resetTimeout != 30*time.Second {
		t.Errorf("resetTimeout = %v, want 30s", cb.resetTimeout)
	}
	if cb.halfOpenMax != 3 {
		t.Errorf("halfOpenMax = %d, want 3", cb.halfOpenMax)
	}
	if cb.State() != StateClosed {
		t.Errorf("initial state = %v, want closed", cb.State())
	}
	if cb.isFailure(context.Canceled) {
		t.Error("context.Canceled counted as failure by default")
	}
}

func TestCircuitBreaker_ClosedToOpen(t *testing.T) {
	t.Parallel()
	cb := newTestBreaker(newFakeClock(), 3, 1)

	for range 3 {
		_ = cb.Execute(failOnce)
	}
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open after 3 failures", cb.State())
	}

	called := false
	err := cb.Execute(func() error { called = true; return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if called {
		t.Error("fn called while open")
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	t.Parallel()
	cb := newTestBreaker(newFakeClock(), 3, 1)

	_ = cb.Execute(failOnce)
	_ = cb.Execute(failOnce)
	_ = cb.Execute(succeedFn)
	_ = cb.Execute(failOnce)
	_ = cb.Execute(failOnce)

	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_IgnoresNonFailures(t *testing.T) {
	t.Parallel()
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:        "test",
		MaxFailures: 2,
		IsFailure:   notBenign,
	})

	for range 5 {
		if err := cb.Execute(func() error { return errBenign }); !errors.Is(err, errBenign) {
			t.Fatalf("err = %v, want errBenign passed through", err)
		}
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}

	// Benign errors do not reset the streak either.
	_ = cb.Execute(failOnce)
	_ = cb.Execute(func() error { return errBenign })
	_ = cb.Execute(failOnce)
	if cb.State() != StateOpen {
		t.Fatalf("state = %v, want open", cb.State())
	}
}

func TestCircuitBreaker_HalfOpen(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		probes []error
		want   State
	}{
		{"successes close", []error{nil, nil}, StateClosed},
		{"one success stays half-open", []error{nil}, StateHalfOpen},
		{"failure re-opens", []error{nil, errTest}, StateOpen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			clk := newFakeClock()
			cb := newTestBreaker(clk, 1, 2)
			_ = cb.Execute(failOnce)

			clk.Advance(59 * time.Second)
			if cb.State() != StateOpen {
				t.Fatalf("state = %v before timeout, want open", cb.State())
			}
			clk.Advance(time.Second)
			if cb.State() != StateHalfOpen {
				t.Fatalf("state = %v after timeout, want half-open", cb.State())
			}

			for _, p := range tc.probes {
				_ = cb.Execute(func() error { return p })
			}
			if got := cb.State(); got != tc.want {
				t.Fatalf("state = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCircuitBreaker_HalfOpenLimitsProbes(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	cb := newTestBreaker(clk, 1, 1)
	_ = cb.Execute(failOnce)
	clk.Advance(time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		done <- cb.Execute(func() error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	if err := cb.Execute(succeedFn); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("second probe err = %v, want ErrCircuitOpen", err)
	}
	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed", cb.State())
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	t.Parallel()
	clk := newFakeClock()
	var (
		mu   sync.Mutex
		seen []string
	)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:         "gemini",
		MaxFailures:  1,
		ResetTimeout: time.Second,
		HalfOpenMax:  1,
		Now:          clk.Now,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			seen = append(seen, name+":"+from.String()+"->"+to.String())
		},
	})

	_ = cb.Execute(failOnce)
	clk.Advance(time.Second)
	_ = cb.Execute(succeedFn)

	want := []string{"gemini:closed->open", "gemini:open->half-open", "gemini:half-open->closed"}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestCircuitBreaker_Reset(t *testing.T) {
	t.Parallel()
	cb := newTestBreaker(newFakeClock(), 2, 1)

	_ = cb.Execute(failOnce)
	_ = cb.Execute(failOnce)
	if cb.State() != StateOpen {
		t.Fatal("expected open")
	}

	cb.Reset()
	if cb.State() != StateClosed {
		t.Fatalf("state = %v, want closed after reset", cb.State())
	}
	if err := cb.Execute(succeedFn); err != nil {
		t.Fatalf("unexpected error after reset: %v", err)
	}
}

func TestState_String(t *testing.T) {
	t.Parallel()
	tests := []struct {
		state State
		want  string
	}{
		{StateClosed, "closed"},
		{StateOpen, "open"},
		{StateHalfOpen, "half-open"},
		{State(99), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", tt.state, got, tt.want)
		}
	}
}
