// Package app wires all HeroAI subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates the live session
// controller, the assist service and the HTTP surface, Run serves until the
// context is cancelled, and Shutdown tears everything down in order.
//
// For testing, inject mock providers through [Providers] and read the HTTP
// surface from [App.Handler] without binding a port.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	assistsvc "github.com/MrWong99/heroai/internal/assist"
	"github.com/MrWong99/heroai/internal/config"
	"github.com/MrWong99/heroai/internal/health"
	"github.com/MrWong99/heroai/internal/live"
	"github.com/MrWong99/heroai/internal/observe"
	"github.com/MrWong99/heroai/internal/resilience"
	"github.com/MrWong99/heroai/pkg/provider/assist"
)

// shutdownTimeout bounds the HTTP server drain after Run's context ends.
const shutdownTimeout = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	providers *Providers
	metrics   *observe.Metrics
	scrape    http.Handler
	level     *slog.LevelVar

	controller *live.Controller
	tools      *assistsvc.Service
	handler    http.Handler
	server     *http.Server

	mu  sync.RWMutex
	cfg *config.Config

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New.
type Option func(*App)

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// WithTelemetry uses the metrics and /metrics handler of tel.
func WithTelemetry(tel *observe.Telemetry) Option {
	return func(a *App) {
		a.metrics = tel.Metrics
		a.scrape = tel.Handler()
	}
}

// WithLogLevel lets [App.ApplyConfig] change the log level of a handler
// built on lv.
func WithLogLevel(lv *slog.LevelVar) Option {
	return func(a *App) { a.level = lv }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App from cfg and the providers built by [BuildProviders].
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Live == nil {
		return nil, errors.New("app: live provider is required")
	}
	if providers.Mic == nil || providers.Output == nil {
		return nil, errors.New("app: audio input and output are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	if a.scrape == nil {
		a.scrape = promhttp.Handler()
	}

	// ── 1. Live session controller ───────────────────────────────────────
	a.initController()

	// ── 2. Assist tools ──────────────────────────────────────────────────
	a.initTools(ctx)

	// ── 3. HTTP surface ──────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

func (a *App) initController() {
	opts := []live.Option{
		live.WithConfig(a.cfg.LiveSession()),
		live.WithMetrics(a.metrics),
		live.WithTuning(liveTuning(a.cfg)),
	}
	a.controller = live.New(a.providers.Live, a.providers.Mic, a.providers.Output, opts...)
	a.closers = append(a.closers, a.controller.Close)
}

func liveTuning(cfg *config.Config) live.Tuning {
	return live.Tuning{
		BlockSize:        cfg.Live.BlockSize,
		OutboundDepth:    cfg.Live.OutboundDepth,
		LegacyWraparound: cfg.Live.LegacyWraparound,
	}
}

// initTools registers every assist backend for each kind it is configured
// for and implements. Backends are added in config order, so the first entry
// serving a kind is its primary.
func (a *App) initTools(ctx context.Context) {
	a.tools = assistsvc.NewService(
		assistsvc.WithMetrics(a.metrics),
		assistsvc.WithTimeout(a.cfg.Resilience.RequestTimeout),
		assistsvc.WithBreaker(resilience.CircuitBreakerConfig{
			MaxFailures:  a.cfg.Resilience.MaxFailures,
			ResetTimeout: a.cfg.Resilience.ResetTimeout,
			OnStateChange: func(name string, _, to resilience.State) {
				if to == resilience.StateOpen {
					a.metrics.RecordProviderError(ctx, name, "circuit_open")
				}
			},
		}),
	)

	for _, kind := range assist.Kinds {
		for _, ab := range a.providers.Assist {
			if !ab.Entry.Serves(kind) {
				continue
			}
			t, err := ab.Backend.Tool(kind)
			if err != nil {
				// Only complain when the entry asked for this kind explicitly.
				if len(ab.Entry.Tools) > 0 {
					slog.Warn("assist backend cannot serve configured tool", "backend", ab.Entry.Label(), "tool", kind, "err", err)
				}
				continue
			}
			a.tools.Add(kind, ab.Entry.Label(), t)
			slog.Debug("assist tool registered", "tool", kind, "backend", ab.Entry.Label())
		}
	}
	for _, kind := range assist.Kinds {
		if !hasKind(a.tools.Kinds(), kind) {
			slog.Warn("no backend for assist tool; it will answer 404", "tool", kind)
		}
	}
}

func (a *App) initHTTP() {
	mux := http.NewServeMux()
	live.NewHandler(a.controller).Register(mux)
	assistsvc.NewHandler(a.tools).Register(mux)
	health.New(
		health.Required("config", a.Config),
		health.Tools(a.tools),
	).Register(mux)
	mux.Handle("GET /metrics", a.scrape)

	a.handler = observe.Middleware(a.metrics)(mux)
	a.server = &http.Server{
		Addr:              a.cfg.Server.ListenAddr,
		Handler:           a.handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Config returns the active configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

// Controller returns the live session controller.
func (a *App) Controller() *live.Controller { return a.controller }

// Tools returns the assist service.
func (a *App) Tools() *assistsvc.Service { return a.tools }

// Handler returns the HTTP handler with all routes and middleware.
func (a *App) Handler() http.Handler { return a.handler }

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP on the configured address until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("app: listen %q: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves HTTP on ln until ctx is cancelled, then drains in-flight
// requests for up to [shutdownTimeout].
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	tls := a.Config().Server.TLS
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", ln.Addr().String(), "tls", tls != nil)
		var err error
		if tls != nil {
			err = a.server.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = a.server.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		<-ctx.Done()
		// Closing the controller ends open event streams, which would
		// otherwise hold the drain below until its deadline.
		if err := a.controller.Close(); err != nil {
			slog.Warn("stop live session", "err", err)
		}
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// ─── Hot reload ──────────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of updated. Changes that need
// a restart are logged and otherwise ignored. It matches the signature of a
// [config.Watcher] callback.
func (a *App) ApplyConfig(old, updated *config.Config) {
	d := config.Diff(old, updated)

	if d.LogLevelChanged && a.level != nil {
		a.level.Set(d.NewLogLevel.Slog())
		slog.Info("log level changed", "level", d.NewLogLevel)
	}
	if d.LiveChanged {
		a.controller.SetConfig(updated.LiveSession())
		a.controller.SetTuning(liveTuning(updated))
		slog.Info("live session config updated; applies to the next session",
			"voice_changed", d.Live.VoiceChanged,
			"instructions_changed", d.Live.InstructionsChanged,
			"model_changed", d.Live.ModelChanged,
			"tuning_changed", d.Live.TuningChanged,
		)
	}
	if len(d.RestartRequired) > 0 {
		slog.Warn("config changes need a restart to take effect", "sections", d.RestartRequired)
	}

	a.mu.Lock()
	a.cfg = updated
	a.mu.Unlock()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in order. It respects the context
// deadline: if ctx expires before all closers finish, remaining closers are
// skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

func hasKind(kinds []assist.Kind, k assist.Kind) bool {
	for _, x := range kinds {
		if x == k {
			return true
		}
	}
	return false
}
