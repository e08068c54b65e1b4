// Package assist serves the single-shot helper tools (chat, think, image,
// edit, transcribe) over HTTP. Every tool kind is backed by a
// [resilience.ToolFallback] so a failing hosted model is bypassed in favour of
// the configured fallbacks.
package assist

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/heroai/internal/observe"
	"github.com/MrWong99/heroai/internal/resilience"
	tool "github.com/MrWong99/heroai/pkg/provider/assist"
)

// defaultTimeout bounds a single tool request including all fallbacks.
// Thinking requests with a large budget routinely take a minute.
const defaultTimeout = 3 * time.Minute

// ErrUnknownTool is returned for a kind with no registered backend.
var ErrUnknownTool = errors.New("assist: no backend registered for tool")

// Option is a functional option for [NewService].
type Option func(*Service)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithTimeout overrides the per-request deadline.
func WithTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithBreaker sets the circuit breaker template used for every backend.
func WithBreaker(cfg resilience.CircuitBreakerConfig) Option {
	return func(s *Service) { s.breaker = cfg }
}

// Service routes tool requests to their fallback chains.
type Service struct {
	metrics *observe.Metrics
	timeout time.Duration
	breaker resilience.CircuitBreakerConfig

	mu    sync.RWMutex
	tools map[tool.Kind]*resilience.ToolFallback
}

// NewService creates an empty Service. Register backends with [Service.Add].
func NewService(opts ...Option) *Service {
	s := &Service{
		timeout: defaultTimeout,
		tools:   make(map[tool.Kind]*resilience.ToolFallback),
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Add registers t as a backend for kind. The first backend added for a kind
// is its primary; later ones are fallbacks in the order added.
func (s *Service) Add(kind tool.Kind, name string, t tool.Tool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if fb, ok := s.tools[kind]; ok {
		fb.AddFallback(name, t)
		return
	}
	s.tools[kind] = resilience.NewToolFallback(kind, t, name, resilience.FallbackConfig{
		CircuitBreaker: s.breaker,
	})
}

// Kinds returns the registered tool kinds in display order.
func (s *Service) Kinds() []tool.Kind {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var kinds []tool.Kind
	for _, k := range tool.Kinds {
		if _, ok := s.tools[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// ToolInfo describes one registered tool.
type ToolInfo struct {
	Kind     tool.Kind     `json:"kind"`
	Backends []BackendInfo `json:"backends"`
}

// BackendInfo is one backend of a tool and its breaker state.
type BackendInfo struct {
	Name    string `json:"name"`
	Breaker string `json:"breaker"`
}

// Describe lists every registered tool with its backends in try order.
func (s *Service) Describe() []ToolInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]ToolInfo, 0, len(s.tools))
	for _, k := range tool.Kinds {
		fb, ok := s.tools[k]
		if !ok {
			continue
		}
		states := fb.States()
		info := ToolInfo{Kind: k}
		for _, name := range fb.Backends() {
			info.Backends = append(info.Backends, BackendInfo{Name: name, Breaker: states[name].String()})
		}
		out = append(out, info)
	}
	return out
}

// Unavailable returns the kinds whose every backend has an open breaker.
func (s *Service) Unavailable() []tool.Kind {
	var kinds []tool.Kind
	for _, info := range s.Describe() {
		open := 0
		for _, b := range info.Backends {
			if b.Breaker == resilience.StateOpen.String() {
				open++
			}
		}
		if open == len(info.Backends) {
			kinds = append(kinds, info.Kind)
		}
	}
	return kinds
}

// Request validates req and runs it through the fallback chain of kind.
func (s *Service) Request(ctx context.Context, kind tool.Kind, req tool.Request) (tool.Result, error) {
	s.mu.RLock()
	fb, ok := s.tools[kind]
	s.mu.RUnlock()
	if !ok {
		return tool.Result{}, fmt.Errorf("%w: %s", ErrUnknownTool, kind)
	}
	if err := tool.Validate(kind, req); err != nil {
		s.metrics.RecordToolRequest(ctx, string(kind), "invalid", 0)
		return tool.Result{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ctx, span := observe.StartToolSpan(ctx, string(kind))
	defer span.End()

	start := time.Now()
	res, err := fb.Request(ctx, req)
	elapsed := time.Since(start).Seconds()
	log := observe.Logger(ctx)

	if err != nil {
		status := "error"
		if errors.Is(err, context.DeadlineExceeded) {
			status = "timeout"
		}
		s.metrics.RecordToolRequest(ctx, string(kind), status, elapsed)
		s.metrics.RecordProviderError(ctx, "assist/"+string(kind), status)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		log.Warn("tool request failed", "tool", kind, "err", err, "seconds", elapsed)
		return tool.Result{}, err
	}

	s.metrics.RecordToolRequest(ctx, string(kind), "ok", elapsed)
	observe.ToolServed(span, res.Backend, res.Model)
	log.Debug("tool request served", "tool", kind, "backend", res.Backend, "model", res.Model, "seconds", elapsed)
	return res, nil
}
