package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker.
var ErrAllFailed = errors.New("all backends failed")

// FallbackConfig configures a [FallbackGroup].
type FallbackConfig struct {
	// CircuitBreaker is the template for the per-entry breakers. Name is
	// overwritten with the entry name.
	CircuitBreaker CircuitBreakerConfig

	// Permanent reports errors that no other entry can fix, such as a
	// malformed request. They are returned as-is without trying further
	// entries. Default: none.
	Permanent func(err error) bool

	// Skip reports errors that mean "this entry cannot serve the call" rather
	// than "this entry is unhealthy". The next entry is tried and the error is
	// not logged as a failure. Default: none.
	Skip func(err error) bool
}

type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallbacks of the same type.
// When the primary fails or its circuit breaker is open, the next healthy
// fallback is tried in registration order.
//
// Entries must all be registered before the first call.
type FallbackGroup[T any] struct {
	entries []fallbackEntry[T]
	cfg     FallbackConfig
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends an entry. Fallbacks are tried in the order they are
// added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// Names returns the entry names in try order.
func (fg *FallbackGroup[T]) Names() []string {
	names := make([]string, len(fg.entries))
	for i, e := range fg.entries {
		names[i] = e.name
	}
	return names
}

// States returns the breaker state of every entry, keyed by name.
func (fg *FallbackGroup[T]) States() map[string]State {
	states := make(map[string]State, len(fg.entries))
	for _, e := range fg.entries {
		states[e.name] = e.breaker.State()
	}
	return states
}

// Execute tries fn against each entry in order until one succeeds.
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, _, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one
// succeeds and returns its result together with the name of the entry that
// produced it. Entries with an open breaker are skipped.
//
// It stops early when ctx is done or fn returns a permanent error. Otherwise,
// when every entry fails, the returned error wraps [ErrAllFailed] and each
// entry's error.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, string, error) {
	var (
		zero R
		errs []error
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			return zero, "", err
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			return result, entry.name, nil
		}

		switch {
		case fg.cfg.Permanent != nil && fg.cfg.Permanent(err):
			return zero, entry.name, err
		case ctx.Err() != nil:
			return zero, entry.name, err
		case errors.Is(err, ErrCircuitOpen):
			slog.Debug("skipping backend (circuit open)", "backend", entry.name)
		case fg.cfg.Skip != nil && fg.cfg.Skip(err):
			slog.Debug("backend cannot serve call", "backend", entry.name, "err", err)
		default:
			slog.Warn("backend failed, trying next", "backend", entry.name, "err", err)
		}
		errs = append(errs, fmt.Errorf("%s: %w", entry.name, err))
	}
	return zero, "", fmt.Errorf("%w: %w", ErrAllFailed, errors.Join(errs...))
}
