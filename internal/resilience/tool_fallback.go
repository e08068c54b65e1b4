package resilience

import (
	"context"
	"errors"

	"github.com/MrWong99/heroai/pkg/provider/assist"
)

// ToolFallback implements [assist.Tool] with failover across several backends
// for one tool kind. Each backend has its own circuit breaker.
//
// Requests rejected with [assist.ErrInvalidRequest] are returned immediately,
// since no other backend would accept them. [assist.ErrUnsupported] moves on
// to the next backend without counting as a failure.
type ToolFallback struct {
	kind  assist.Kind
	group *FallbackGroup[assist.Tool]
}

var _ assist.Tool = (*ToolFallback)(nil)

// NewToolFallback creates a [ToolFallback] for kind with primary as the
// preferred backend. cfg.Permanent and cfg.Skip are set for assist errors.
func NewToolFallback(kind assist.Kind, primary assist.Tool, primaryName string, cfg FallbackConfig) *ToolFallback {
	cfg.Permanent = isPermanentToolErr
	cfg.Skip = func(err error) bool { return errors.Is(err, assist.ErrUnsupported) }
	if cfg.CircuitBreaker.IsFailure == nil {
		cfg.CircuitBreaker.IsFailure = isToolFailure
	}
	return &ToolFallback{
		kind:  kind,
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional backend.
func (f *ToolFallback) AddFallback(name string, tool assist.Tool) {
	f.group.AddFallback(name, tool)
}

// Kind returns the tool kind served.
func (f *ToolFallback) Kind() assist.Kind { return f.kind }

// Backends returns the backend names in try order.
func (f *ToolFallback) Backends() []string { return f.group.Names() }

// States returns the breaker state of every backend.
func (f *ToolFallback) States() map[string]State { return f.group.States() }

// Request sends req to the first healthy backend. Result.Backend names the
// backend that answered.
func (f *ToolFallback) Request(ctx context.Context, req assist.Request) (assist.Result, error) {
	res, name, err := ExecuteWithResult(ctx, f.group, func(t assist.Tool) (assist.Result, error) {
		return t.Request(ctx, req)
	})
	if err != nil {
		return assist.Result{}, err
	}
	res.Backend = name
	return res, nil
}

func isPermanentToolErr(err error) bool {
	return errors.Is(err, assist.ErrInvalidRequest)
}

// isToolFailure reports whether err says something about backend health.
func isToolFailure(err error) bool {
	switch {
	case errors.Is(err, assist.ErrInvalidRequest),
		errors.Is(err, assist.ErrUnsupported),
		errors.Is(err, context.Canceled):
		return false
	}
	return true
}
