package live

import (
	"context"
	"log/slog"
	"testing"
	"time"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/MrWong99/heroai/internal/observe"
	audiomock "github.com/MrWong99/heroai/pkg/audio/mock"
	"github.com/MrWong99/heroai/pkg/audio/playback"
	livemock "github.com/MrWong99/heroai/pkg/provider/live/mock"
)

func activeSessions(t *testing.T, reader *sdkmetric.ManualReader) int64 {
	t.Helper()
	var rm metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &rm); err != nil {
		t.Fatalf("Collect: %v", err)
	}
	var total int64
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name != "heroai.live.active_sessions" {
				continue
			}
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					total += dp.Value
				}
			}
		}
	}
	return total
}

func newGaugeController(t *testing.T) (*Controller, *livemock.Session, *sdkmetric.ManualReader) {
	t.Helper()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })
	m, err := observe.NewMetrics(mp)
	if err != nil {
		t.Fatalf("NewMetrics: %v", err)
	}
	remote := livemock.NewSession()
	newOutput := func(context.Context) (playback.OutputDevice, error) {
		return audiomock.NewOutputDevice(), nil
	}
	c := New(&livemock.Provider{Session: remote}, &audiomock.Microphone{}, newOutput, WithMetrics(m))
	t.Cleanup(func() { _ = c.Close() })
	return c, remote, reader
}

// The open event can win markOpened and then lose the state check to Stop.
// The gauge must not be decremented for a session it never counted.
func TestHandleOpen_StopWinsStateCheck(t *testing.T) {
	t.Parallel()
	c, _, reader := newGaugeController(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	c.mu.Lock()
	sess := c.sess
	c.state = StateClosing
	c.mu.Unlock()
	c.handleOpen(sess, slog.Default())

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := activeSessions(t, reader); got != 0 {
		t.Errorf("active sessions = %d, want 0", got)
	}
}

func TestSession_MarkActiveAfterTeardown(t *testing.T) {
	t.Parallel()
	sess := newSession(context.Background(), Tuning{OutboundDepth: 1})
	if !sess.markOpened() {
		t.Fatal("markOpened = false on first open")
	}
	res, ok := sess.beginTeardown()
	if !ok {
		t.Fatal("beginTeardown = false")
	}
	if res.active {
		t.Error("session counted as active before markActive")
	}
	if sess.markActive() {
		t.Error("markActive succeeded after teardown began")
	}
}

func TestActiveSessions_Balanced(t *testing.T) {
	t.Parallel()
	c, remote, reader := newGaugeController(t)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	remote.Open()

	deadline := time.Now().Add(2 * time.Second)
	for activeSessions(t, reader) != 1 {
		if time.Now().After(deadline) {
			t.Fatal("session never counted as active")
		}
		time.Sleep(2 * time.Millisecond)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := activeSessions(t, reader); got != 0 {
		t.Errorf("active sessions after Stop = %d, want 0", got)
	}
}
