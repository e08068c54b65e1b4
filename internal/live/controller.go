// Package live implements the session controller of the duplex voice
// conversation.
//
// A [Controller] owns at most one [Session] at a time. It acquires the
// microphone, opens a remote session on a [liveprov.Provider], forwards
// encoded microphone frames while the session is open and dispatches the
// remote's events: synthesised audio goes to the [playback.Scheduler],
// transcript fragments and turn boundaries to the [transcript.Aggregator].
//
// Lifecycle:
//
//	Idle -> Connecting -> Open -> Closing -> Idle
//	             |          |
//	             +-> Error -+-> Idle
//
// Every path back to Idle runs the same teardown, which releases each
// resource individually and exactly once.
package live

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/heroai/internal/observe"
	"github.com/MrWong99/heroai/internal/transcript"
	"github.com/MrWong99/heroai/pkg/audio"
	"github.com/MrWong99/heroai/pkg/audio/playback"
	liveprov "github.com/MrWong99/heroai/pkg/provider/live"
)

// OutputFactory opens the output device for a new session. The controller
// closes the device on teardown.
type OutputFactory func(ctx context.Context) (playback.OutputDevice, error)

// Update is a change notification delivered to subscribers.
type Update struct {
	SessionID string `json:"session_id,omitempty"`
	State     State  `json:"state"`
	Status    string `json:"status"`

	// Messages holds transcript messages added by a completed turn.
	Messages []transcript.Message `json:"messages,omitempty"`
}

// Option configures a [Controller].
type Option func(*Controller)

// WithConfig sets the remote session configuration. The default is
// [liveprov.DefaultConfig].
func WithConfig(cfg liveprov.Config) Option {
	return func(c *Controller) { c.cfg = cfg }
}

// Tuning holds the capture settings a session reads when it starts.
// Zero values select the defaults.
type Tuning struct {
	// BlockSize is the number of samples per captured frame.
	BlockSize int

	// OutboundDepth is how many captured frames may wait for the network
	// before the oldest is dropped.
	OutboundDepth int

	// LegacyWraparound selects the unclamped sample conversion.
	LegacyWraparound bool
}

func (t Tuning) withDefaults() Tuning {
	if t.BlockSize <= 0 {
		t.BlockSize = audio.DefaultBlockSize
	}
	if t.OutboundDepth <= 0 {
		t.OutboundDepth = defaultOutboundDepth
	}
	return t
}

func (t Tuning) encoderOptions() []audio.EncoderOption {
	if t.LegacyWraparound {
		return []audio.EncoderOption{audio.WithLegacyWraparound()}
	}
	return nil
}

// WithTuning sets the capture settings.
func WithTuning(t Tuning) Option {
	return func(c *Controller) { c.tuning = t.withDefaults() }
}

// WithMetrics sets the metrics sink. The default is [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithAggregator sets the transcript aggregator.
func WithAggregator(a *transcript.Aggregator) Option {
	return func(c *Controller) { c.agg = a }
}

// Controller drives the live session state machine. All methods are safe for
// concurrent use.
type Controller struct {
	provider  liveprov.Provider
	mic       audio.Microphone
	newOutput OutputFactory

	cfg       liveprov.Config
	tuning    Tuning
	metrics   *observe.Metrics
	agg       *transcript.Aggregator

	mu      sync.Mutex
	state   State
	status  string
	sess    *Session
	lastErr error

	subMu sync.Mutex
	subs  map[chan Update]struct{}
}

// New creates a controller in [StateIdle].
func New(provider liveprov.Provider, mic audio.Microphone, newOutput OutputFactory, opts ...Option) *Controller {
	c := &Controller{
		provider:  provider,
		mic:       mic,
		newOutput: newOutput,
		cfg:       liveprov.DefaultConfig(),
		tuning:    Tuning{}.withDefaults(),
		state:     StateIdle,
		status:    StatusIdle,
		subs:      make(map[chan Update]struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	if c.agg == nil {
		c.agg = transcript.New()
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Status returns the short user-visible status.
func (c *Controller) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetConfig replaces the remote session configuration. It takes effect on
// the next [Controller.Start]; an active session keeps its settings.
func (c *Controller) SetConfig(cfg liveprov.Config) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// Config returns the configuration used by the next session.
func (c *Controller) Config() liveprov.Config {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg
}

// SetTuning replaces the capture settings. Like [Controller.SetConfig] it
// takes effect on the next [Controller.Start].
func (c *Controller) SetTuning(t Tuning) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tuning = t.withDefaults()
}

// Tuning returns the capture settings used by the next session.
func (c *Controller) Tuning() Tuning {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tuning
}

// Err returns the error that ended the previous session, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// SessionID returns the ID of the active session, or "" in [StateIdle].
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess == nil {
		return ""
	}
	return c.sess.ID
}

// Transcript returns a copy of the message log.
func (c *Controller) Transcript() []transcript.Message { return c.agg.Messages() }

// Start begins a new session. It returns [ErrAlreadyActive] unless the
// controller is idle.
//
// The microphone is acquired first; if that fails a [*PermissionError] is
// returned and the remote is never contacted. Otherwise Start returns once
// the remote session is dialled; the controller moves to [StateOpen] when the
// remote reports the session as established.
//
// ctx bounds only the connection attempt. The session itself lives until
// [Controller.Stop] or a remote error or close.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		c.mu.Unlock()
		return ErrAlreadyActive
	}
	cfg := c.cfg
	sess := newSession(ctx, c.tuning)
	c.sess = sess
	c.state = StateConnecting
	c.status = StatusConnecting
	c.lastErr = nil
	c.mu.Unlock()

	c.agg.Clear()
	c.publish(Update{SessionID: sess.ID, State: StateConnecting, Status: StatusConnecting})

	ctx, span := observe.StartSessionSpan(ctx, sess.ID, cfg.Model, cfg.Voice)
	defer span.End()
	log := observe.SessionLogger(ctx, sess.ID)
	log.Info("starting live session", "model", cfg.Model, "voice", cfg.Voice)

	connectCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stopAfter := context.AfterFunc(sess.ctx, cancel)
	defer stopAfter()

	stream, err := c.mic.Open(connectCtx, audio.InputFormat, sess.tuning.BlockSize)
	if err != nil {
		if sess.ctx.Err() != nil {
			return ErrStopped
		}
		perr := &PermissionError{Err: err}
		span.SetStatus(codes.Error, "microphone unavailable")
		span.RecordError(err)
		c.metrics.RecordSession(ctx, "permission_denied")
		c.teardown(sess, teardownReason{state: StateError, status: StatusNoMic, cause: perr})
		return perr
	}
	if !sess.attachStream(stream) {
		_ = stream.Close()
		return ErrStopped
	}

	out, err := c.newOutput(connectCtx)
	if err != nil {
		err = fmt.Errorf("live: open output: %w", err)
		return c.failStart(ctx, sess, span, err)
	}
	if !sess.attachOutput(out) {
		_ = out.Close()
		return ErrStopped
	}

	remote, err := c.provider.Connect(connectCtx, cfg)
	if err != nil {
		if sess.ctx.Err() != nil {
			return ErrStopped
		}
		c.metrics.RecordProviderError(ctx, "live", "connect")
		return c.failStart(ctx, sess, span, &TransportError{Op: "connect", Err: err})
	}
	if !sess.attachRemote(remote) {
		_ = remote.Close()
		return ErrStopped
	}

	go c.eventLoop(sess, remote.Events())
	log.Debug("live session dialled")
	return nil
}

func (c *Controller) failStart(ctx context.Context, sess *Session, span trace.Span, err error) error {
	span.SetStatus(codes.Error, err.Error())
	span.RecordError(err)
	c.metrics.RecordSession(ctx, "error")
	c.teardown(sess, teardownReason{state: StateError, status: StatusError, cause: err, closeRemote: true})
	return err
}

// Stop ends the active session and blocks until every resource has been
// released. It is a no-op in [StateIdle]. After Stop returns no further
// frames are captured or sent and nothing is played.
func (c *Controller) Stop() error {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()
	if sess == nil {
		return nil
	}
	return c.teardown(sess, teardownReason{state: StateClosing, status: StatusIdle, closeRemote: true})
}

// Close stops the active session and drops all subscribers.
func (c *Controller) Close() error {
	err := c.Stop()
	c.subMu.Lock()
	for ch := range c.subs {
		delete(c.subs, ch)
		close(ch)
	}
	c.subMu.Unlock()
	return err
}

// Subscribe returns a channel of state, status and transcript updates and a
// function that cancels the subscription. Slow subscribers miss updates
// rather than stall the session.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	ch := make(chan Update, 32)
	c.subMu.Lock()
	c.subs[ch] = struct{}{}
	c.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			c.subMu.Lock()
			defer c.subMu.Unlock()
			if _, ok := c.subs[ch]; ok {
				delete(c.subs, ch)
				close(ch)
			}
		})
	}
}

func (c *Controller) publish(u Update) {
	c.subMu.Lock()
	defer c.subMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- u:
		default:
		}
	}
}

// ─── Event loop ─────────────────────────────────────────────────────────────

func (c *Controller) eventLoop(sess *Session, events <-chan liveprov.Event) {
	defer close(sess.loopDone)
	log := observe.SessionLogger(sess.ctx, sess.ID)

	for ev := range events {
		switch ev.Kind {
		case liveprov.EventOpen:
			c.handleOpen(sess, log)
		case liveprov.EventMessage:
			if c.stateOf(sess) != StateOpen {
				log.Debug("ignoring event", "err", &ProtocolAnomaly{Detail: "message before open"})
				continue
			}
			c.dispatch(sess, ev.Message, log)
		case liveprov.EventError:
			err := &TransportError{Op: "receive", Err: ev.Err}
			if ev.Err == nil {
				err.Err = errors.New("unknown error")
			}
			log.Error("live session failed", "err", err)
			c.metrics.RecordProviderError(sess.ctx, "live", "receive")
			c.teardown(sess, teardownReason{state: StateError, status: StatusError, cause: err, closeRemote: true, fromLoop: true})
			return
		case liveprov.EventClose:
			log.Info("live session closed by remote", "reason", ev.Reason)
			c.teardown(sess, teardownReason{state: StateClosing, status: StatusClosed, fromLoop: true})
			return
		default:
			log.Debug("ignoring event", "err", &ProtocolAnomaly{Detail: "unknown event kind " + ev.Kind.String()})
		}
	}

	// The stream ended without a terminal event: either our own teardown
	// closed the remote, or the provider gave up silently.
	c.teardown(sess, teardownReason{state: StateClosing, status: StatusClosed, fromLoop: true})
}

func (c *Controller) stateOf(sess *Session) State {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sess != sess {
		return StateIdle
	}
	return c.state
}

// handleOpen moves Connecting to Open and starts the capture pump and the
// outbound sender.
func (c *Controller) handleOpen(sess *Session, log *slog.Logger) {
	if !sess.markOpened() {
		log.Debug("ignoring event", "err", &ProtocolAnomaly{Detail: "repeated open"})
		return
	}
	c.mu.Lock()
	if c.sess != sess || c.state != StateConnecting {
		c.mu.Unlock()
		return
	}
	c.state = StateOpen
	c.status = StatusConnected
	c.mu.Unlock()

	// A concurrent Stop may have begun teardown since the state check.
	if !sess.markActive() {
		return
	}
	c.metrics.SessionStartDuration.Record(sess.ctx, time.Since(sess.StartedAt).Seconds())
	c.metrics.RecordSession(sess.ctx, "open")
	c.metrics.ActiveSessions.Add(sess.ctx, 1)
	log.Info("live session open")
	c.publish(Update{SessionID: sess.ID, State: StateOpen, Status: StatusConnected})

	sess.mu.Lock()
	stream, remote := sess.stream, sess.remote
	sess.mu.Unlock()

	enc := audio.NewCaptureEncoder(sess.tuning.encoderOptions()...)
	sess.spawn(func() error { return c.capturePump(sess, enc, stream, log) })
	sess.spawn(func() error { return c.sender(sess, remote, log) })
}

func (c *Controller) capturePump(sess *Session, enc *audio.CaptureEncoder, stream audio.CaptureStream, log *slog.Logger) error {
	defer sess.queue.close()
	err := enc.Run(sess.ctx, stream, func(f audio.AudioFrame) {
		dropped, first := sess.queue.push(f)
		if !dropped {
			return
		}
		c.metrics.FramesDropped.Add(sess.ctx, 1)
		if first {
			log.Warn("outbound audio queue full, dropping oldest frames", "depth", sess.queue.depth)
		}
	})
	if err = ignoreCanceled(err); err != nil {
		return fmt.Errorf("live: capture: %w", err)
	}
	if sess.ctx.Err() == nil {
		log.Warn("microphone stream ended")
	}
	return nil
}

func (c *Controller) sender(sess *Session, remote liveprov.Session, log *slog.Logger) error {
	var failing bool
	for {
		f, ok := sess.queue.pop(sess.ctx)
		if !ok || sess.ctx.Err() != nil {
			return nil
		}
		if err := remote.SendAudio(sess.ctx, f); err != nil {
			if sess.ctx.Err() != nil {
				return nil
			}
			c.metrics.SendErrors.Add(sess.ctx, 1)
			if !failing {
				log.Warn("failed to send audio frame", "seq", f.Seq, "err", err)
			} else {
				log.Debug("failed to send audio frame", "seq", f.Seq, "err", err)
			}
			failing = true
			continue
		}
		failing = false
		c.metrics.FramesSent.Add(sess.ctx, 1)
	}
}

// dispatch applies one server message. Transcripts are folded in before the
// turn boundary. Audio carried together with an interruption is silenced:
// it is either stopped by the interruption or dropped as stale.
func (c *Controller) dispatch(sess *Session, m *liveprov.Message, log *slog.Logger) {
	if m.Empty() {
		log.Debug("ignoring event", "err", &ProtocolAnomaly{Detail: "empty message"})
		return
	}
	if m.OutputTranscript != "" {
		c.agg.AppendOutput(m.OutputTranscript)
	}
	if m.InputTranscript != "" {
		c.agg.AppendInput(m.InputTranscript)
	}
	if m.TurnComplete {
		if msgs := c.agg.CompleteTurn(); len(msgs) > 0 {
			c.metrics.Turns.Add(sess.ctx, 1)
			c.publish(Update{SessionID: sess.ID, State: StateOpen, Status: c.Status(), Messages: msgs})
		}
	}

	sched := sess.Scheduler()
	for _, payload := range m.Audio {
		c.enqueueAudio(sess, sched, payload, log)
	}

	if m.Interrupted && sched != nil {
		n := sched.Interrupt()
		c.metrics.Interruptions.Add(sess.ctx, 1)
		log.Debug("playback interrupted", "stopped_buffers", n)
	}
}

// enqueueAudio decodes payload off the event loop and schedules it in
// arrival order. Each payload waits for its predecessor's ticket before
// scheduling, so a slow decode never reorders playback.
func (c *Controller) enqueueAudio(sess *Session, sched *playback.Scheduler, payload string, log *slog.Logger) {
	if sched == nil {
		return
	}
	epoch := sched.Epoch()
	prev := sess.lastTicket
	done := make(chan struct{})
	sess.lastTicket = done

	ok := sess.spawn(func() error {
		defer close(done)
		samples, err := decodePayload(payload)

		select {
		case <-prev:
		case <-sess.ctx.Done():
			return nil
		}
		if sess.ctx.Err() != nil {
			return nil
		}

		if err == nil {
			var buf playback.Buffer
			buf, err = sched.ScheduleEpoch(epoch, samples)
			if err == nil {
				c.metrics.BuffersScheduled.Add(sess.ctx, 1)
				c.metrics.PlaybackBacklog.Record(sess.ctx, sched.Backlog().Seconds())
				log.Debug("audio buffer scheduled", "id", buf.ID, "start_at", buf.StartAt, "duration", buf.Duration)
				return nil
			}
		}

		var derr *DecodeError
		switch {
		case errors.Is(err, playback.ErrStale):
			log.Debug("dropping audio received before interruption")
		case errors.Is(err, playback.ErrEmptyPayload):
			log.Debug("ignoring event", "err", &ProtocolAnomaly{Detail: "empty audio payload"})
		case errors.As(err, &derr):
			c.metrics.DecodeErrors.Add(sess.ctx, 1, metric.WithAttributes(observe.Attr("kind", "decode")))
			log.Warn("dropping malformed audio payload", "err", err)
		default:
			log.Warn("failed to schedule audio", "err", err)
		}
		return nil
	})
	if !ok {
		close(done)
	}
}

func decodePayload(payload string) ([]int16, error) {
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return playback.Decode(pcm)
}

// ─── Teardown ───────────────────────────────────────────────────────────────

type teardownReason struct {
	// state is the transient state shown while tearing down.
	state  State
	status string
	cause  error

	// closeRemote is false when the remote already closed the session.
	closeRemote bool

	// fromLoop is set when called on the event loop, which must not wait
	// for itself.
	fromLoop bool
}

// teardown releases every resource of sess exactly once and returns the
// controller to Idle. Concurrent callers wait for the first to finish.
func (c *Controller) teardown(sess *Session, r teardownReason) error {
	res, ok := sess.beginTeardown()
	if !ok {
		if !r.fromLoop {
			<-sess.done
		}
		return nil
	}

	c.mu.Lock()
	if c.sess == sess {
		c.state = r.state
	}
	c.mu.Unlock()
	c.publish(Update{SessionID: sess.ID, State: r.state, Status: c.Status()})

	log := observe.SessionLogger(sess.ctx, sess.ID)
	sess.cancel()

	var errs []error
	if res.remote != nil && r.closeRemote {
		if err := res.remote.Close(); err != nil {
			errs = append(errs, fmt.Errorf("live: close remote session: %w", err))
		}
	}
	if res.stream != nil {
		if err := res.stream.Close(); err != nil {
			errs = append(errs, fmt.Errorf("live: close microphone: %w", err))
		}
	}
	if res.loopDone != nil && !r.fromLoop {
		<-res.loopDone
	}
	if err := sess.g.Wait(); err != nil {
		errs = append(errs, err)
	}
	if res.scheduler != nil {
		res.scheduler.Reset()
	}
	if res.output != nil {
		if err := res.output.Close(); err != nil {
			errs = append(errs, fmt.Errorf("live: close output: %w", err))
		}
	}
	c.agg.Reset()
	if res.active {
		c.metrics.ActiveSessions.Add(sess.ctx, -1)
	}

	c.mu.Lock()
	if c.sess == sess {
		c.sess = nil
		c.state = StateIdle
		c.status = r.status
		c.lastErr = r.cause
	}
	c.mu.Unlock()
	close(sess.done)
	c.publish(Update{State: StateIdle, Status: r.status})

	err := errors.Join(errs...)
	if err != nil {
		log.Warn("live session teardown incomplete", "err", err)
	}
	log.Info("live session ended",
		"status", r.status,
		"duration", time.Since(sess.StartedAt).Round(time.Millisecond),
		"frames_dropped", sess.queue.Dropped(),
	)
	return err
}
