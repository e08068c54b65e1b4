// Package observe provides application-wide observability primitives for
// HeroAI: OpenTelemetry metrics, distributed tracing, structured logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API. A Prometheus
// exporter bridge is available via [InitProvider] so that metrics can still be
// scraped via the standard /metrics endpoint. A package-level default
// [Metrics] instance ([DefaultMetrics]) is provided for convenience; tests
// should use [NewMetrics] with a custom [metric.MeterProvider] to avoid
// cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all HeroAI metrics.
const meterName = "github.com/MrWong99/heroai"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use; the underlying OTel types handle
// their own synchronisation.
type Metrics struct {
	// --- Live session ---

	// SessionStartDuration tracks time from Start to the remote open event.
	SessionStartDuration metric.Float64Histogram

	// Sessions counts session starts. Use with attribute:
	//   attribute.String("status", ...): "open", "permission_denied", "error"
	Sessions metric.Int64Counter

	// ActiveSessions tracks the number of live voice sessions.
	ActiveSessions metric.Int64UpDownCounter

	// FramesSent counts captured frames forwarded to the remote model.
	FramesSent metric.Int64Counter

	// FramesDropped counts frames discarded by the outbound queue.
	FramesDropped metric.Int64Counter

	// SendErrors counts failed frame sends.
	SendErrors metric.Int64Counter

	// --- Playback ---

	// BuffersScheduled counts inbound audio buffers handed to the scheduler.
	BuffersScheduled metric.Int64Counter

	// DecodeErrors counts dropped malformed audio payloads.
	DecodeErrors metric.Int64Counter

	// Interruptions counts barge-ins that flushed playback.
	Interruptions metric.Int64Counter

	// PlaybackBacklog records how far the playback cursor runs ahead of the
	// output clock after each scheduled buffer.
	PlaybackBacklog metric.Float64Histogram

	// --- Transcript ---

	// Turns counts completed model turns that produced at least one message.
	Turns metric.Int64Counter

	// --- Tools ---

	// ToolDuration tracks single-shot tool request latency. Use with attributes:
	//   attribute.String("tool", ...), attribute.String("status", ...)
	ToolDuration metric.Float64Histogram

	// ProviderErrors counts provider errors. Use with attributes:
	//   attribute.String("provider", ...), attribute.String("kind", ...)
	ProviderErrors metric.Int64Counter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Use with attributes:
	//   attribute.String("route", ...): the matched mux pattern
	//   attribute.Int("status", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) optimised
// for voice-pipeline latencies.
var latencyBuckets = []float64{
	0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10,
}

// backlogBuckets covers queued model speech from a few frames to a long
// monologue.
var backlogBuckets = []float64{
	0, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider]. Returns an error if any instrument creation fails.
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	// Histograms.
	if met.SessionStartDuration, err = m.Float64Histogram("heroai.live.session_start.duration",
		metric.WithDescription("Latency from session start to the remote open event."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}
	if met.PlaybackBacklog, err = m.Float64Histogram("heroai.live.playback.backlog",
		metric.WithDescription("Scheduled model audio not yet played, sampled per buffer."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(backlogBuckets...),
	); err != nil {
		return nil, err
	}
	if met.ToolDuration, err = m.Float64Histogram("heroai.tool.duration",
		metric.WithDescription("Latency of single-shot tool requests."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(latencyBuckets...),
	); err != nil {
		return nil, err
	}

	// Counters.
	if met.Sessions, err = m.Int64Counter("heroai.live.sessions",
		metric.WithDescription("Total live session starts by outcome."),
	); err != nil {
		return nil, err
	}
	if met.FramesSent, err = m.Int64Counter("heroai.live.frames_sent",
		metric.WithDescription("Total microphone frames sent to the remote model."),
	); err != nil {
		return nil, err
	}
	if met.FramesDropped, err = m.Int64Counter("heroai.live.frames_dropped",
		metric.WithDescription("Total microphone frames dropped on outbound queue overflow."),
	); err != nil {
		return nil, err
	}
	if met.SendErrors, err = m.Int64Counter("heroai.live.send_errors",
		metric.WithDescription("Total failed microphone frame sends."),
	); err != nil {
		return nil, err
	}
	if met.BuffersScheduled, err = m.Int64Counter("heroai.live.buffers_scheduled",
		metric.WithDescription("Total model audio buffers scheduled for playback."),
	); err != nil {
		return nil, err
	}
	if met.DecodeErrors, err = m.Int64Counter("heroai.live.decode_errors",
		metric.WithDescription("Total malformed model audio payloads dropped."),
	); err != nil {
		return nil, err
	}
	if met.Interruptions, err = m.Int64Counter("heroai.live.interruptions",
		metric.WithDescription("Total playback interruptions."),
	); err != nil {
		return nil, err
	}
	if met.Turns, err = m.Int64Counter("heroai.live.turns",
		metric.WithDescription("Total completed conversation turns."),
	); err != nil {
		return nil, err
	}

	// Error counters.
	if met.ProviderErrors, err = m.Int64Counter("heroai.provider.errors",
		metric.WithDescription("Total provider errors by provider and kind."),
	); err != nil {
		return nil, err
	}

	// Gauges (UpDownCounters).
	if met.ActiveSessions, err = m.Int64UpDownCounter("heroai.live.active_sessions",
		metric.WithDescription("Number of live voice sessions."),
	); err != nil {
		return nil, err
	}

	// HTTP middleware histogram.
	if met.HTTPRequestDuration, err = m.Float64Histogram("heroai.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

// defaultMetrics is the lazily-initialised package-level Metrics instance.
var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Subsequent calls return the same
// pointer. Panics if instrument creation fails (should not happen with the
// global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// Attr is a convenience alias for [attribute.String] to reduce verbosity at
// call sites.
func Attr(key, value string) attribute.KeyValue {
	return attribute.String(key, value)
}

// RecordSession records a session start outcome.
func (m *Metrics) RecordSession(ctx context.Context, status string) {
	m.Sessions.Add(ctx, 1, metric.WithAttributes(attribute.String("status", status)))
}

// RecordToolRequest records the latency and outcome of a tool request.
func (m *Metrics) RecordToolRequest(ctx context.Context, tool, status string, seconds float64) {
	m.ToolDuration.Record(ctx, seconds,
		metric.WithAttributes(
			attribute.String("tool", tool),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError is a convenience method that records a provider error
// counter increment.
func (m *Metrics) RecordProviderError(ctx context.Context, provider, kind string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("provider", provider),
			attribute.String("kind", kind),
		),
	)
}
