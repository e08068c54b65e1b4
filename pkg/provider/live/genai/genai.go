// Package genai implements the live.Provider interface on top of the official
// Google Gen AI SDK (google.golang.org/genai) Live client.
//
// It is an alternative to the hand-rolled WebSocket client in the gemini
// package and produces the same event stream.
package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/heroai/pkg/audio"
	"github.com/MrWong99/heroai/pkg/provider/live"
	sdk "google.golang.org/genai"
)

// Compile-time assertions that Provider and session satisfy the live interfaces.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*session)(nil)
)

// ErrSessionClosed is returned by SendAudio after the session ended.
var ErrSessionClosed = errors.New("genai: session closed")

// liveConn is the subset of *sdk.Session the provider uses.
type liveConn interface {
	SendRealtimeInput(input sdk.LiveRealtimeInput) error
	Receive() (*sdk.LiveServerMessage, error)
	Close() error
}

type connectFunc func(ctx context.Context, model string, cfg *sdk.LiveConnectConfig) (liveConn, error)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the default model used when [live.Config.Model] is empty.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the Gen AI API endpoint.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// Provider implements live.Provider through the Gen AI SDK.
type Provider struct {
	apiKey  string
	model   string
	baseURL string

	once    sync.Once
	connect connectFunc
	initErr error
}

// New creates a Provider using the Gemini Developer API backend. The SDK
// client is created lazily on the first Connect.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey: apiKey,
		model:  live.DefaultModel,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *Provider) init(ctx context.Context) error {
	p.once.Do(func() {
		if p.connect != nil {
			return
		}
		cc := &sdk.ClientConfig{
			APIKey:  p.apiKey,
			Backend: sdk.BackendGeminiAPI,
		}
		if p.baseURL != "" {
			cc.HTTPOptions = sdk.HTTPOptions{BaseURL: p.baseURL}
		}
		client, err := sdk.NewClient(ctx, cc)
		if err != nil {
			p.initErr = fmt.Errorf("genai: new client: %w", err)
			return
		}
		p.connect = func(ctx context.Context, model string, cfg *sdk.LiveConnectConfig) (liveConn, error) {
			return client.Live.Connect(ctx, model, cfg)
		}
	})
	return p.initErr
}

// ConnectConfig translates cfg into the SDK's connect configuration.
func ConnectConfig(cfg live.Config) *sdk.LiveConnectConfig {
	lc := &sdk.LiveConnectConfig{
		ResponseModalities: []sdk.Modality{sdk.ModalityAudio},
	}
	if cfg.Voice != "" {
		lc.SpeechConfig = &sdk.SpeechConfig{
			VoiceConfig: &sdk.VoiceConfig{
				PrebuiltVoiceConfig: &sdk.PrebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}
	if cfg.Instructions != "" {
		lc.SystemInstruction = &sdk.Content{Parts: []*sdk.Part{{Text: cfg.Instructions}}}
	}
	if cfg.InputTranscription {
		lc.InputAudioTranscription = &sdk.AudioTranscriptionConfig{}
	}
	if cfg.OutputTranscription {
		lc.OutputAudioTranscription = &sdk.AudioTranscriptionConfig{}
	}
	return lc
}

// Connect opens a Live session. The SDK only sends the setup message, so
// [live.EventOpen] is delivered once the server answers with setupComplete.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	if err := p.init(ctx); err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = p.model
	}
	conn, err := p.connect(ctx, model, ConnectConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("genai: connect: %w", err)
	}
	return newSession(conn), nil
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn   liveConn
	events chan live.Event
	done   chan struct{}

	mu     sync.Mutex
	closed bool
}

func newSession(conn liveConn) *session {
	s := &session{
		conn:   conn,
		events: make(chan live.Event, 64),
		done:   make(chan struct{}),
	}
	go s.receiveLoop()
	return s
}

func (s *session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *session) emit(ev live.Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

func (s *session) receiveLoop() {
	defer close(s.events)
	opened := false
	for {
		msg, err := s.conn.Receive()
		if err != nil {
			if s.isClosed() {
				return
			}
			s.emit(live.Event{Kind: live.EventError, Err: fmt.Errorf("genai: receive: %w", err)})
			return
		}
		if msg == nil {
			continue
		}
		if msg.GoAway != nil {
			s.emit(live.Event{Kind: live.EventClose, Reason: "go away"})
			_ = s.Close()
			return
		}
		if msg.SetupComplete != nil && !opened {
			opened = true
			if !s.emit(live.Event{Kind: live.EventOpen}) {
				return
			}
		}
		if msg.ServerContent == nil {
			continue
		}
		if !opened {
			slog.Debug("genai: dropping server content before setup completed")
			continue
		}
		m := toMessage(msg.ServerContent)
		if m.Empty() {
			continue
		}
		if !s.emit(live.Event{Kind: live.EventMessage, Message: m}) {
			return
		}
	}
}

// toMessage converts SDK server content. Inline audio arrives as raw bytes
// and is re-encoded to the base64 wire form.
func toMessage(sc *sdk.LiveServerContent) *live.Message {
	m := &live.Message{
		TurnComplete: sc.TurnComplete,
		Interrupted:  sc.Interrupted,
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p == nil {
				continue
			}
			if p.InlineData != nil && len(p.InlineData.Data) > 0 {
				m.Audio = append(m.Audio, base64.StdEncoding.EncodeToString(p.InlineData.Data))
			}
			if p.Text != "" {
				m.Text = append(m.Text, p.Text)
			}
		}
	}
	if sc.InputTranscription != nil {
		m.InputTranscript = sc.InputTranscription.Text
	}
	if sc.OutputTranscription != nil {
		m.OutputTranscript = sc.OutputTranscription.Text
	}
	return m
}

// SendAudio decodes the frame payload and sends it as realtime audio input.
func (s *session) SendAudio(_ context.Context, frame audio.AudioFrame) error {
	if s.isClosed() {
		return ErrSessionClosed
	}
	pcm, err := base64.StdEncoding.DecodeString(frame.Data)
	if err != nil {
		return fmt.Errorf("genai: decode frame %d: %w", frame.Seq, err)
	}
	mime := frame.MIMEType
	if mime == "" {
		mime = audio.InputMIMEType
	}
	if err := s.conn.SendRealtimeInput(sdk.LiveRealtimeInput{
		Audio: &sdk.Blob{Data: pcm, MIMEType: mime},
	}); err != nil {
		return fmt.Errorf("genai: send audio: %w", err)
	}
	return nil
}

// Events returns the session's event stream.
func (s *session) Events() <-chan live.Event { return s.events }

// Close terminates the session. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.done)
	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("genai: close: %w", err)
	}
	return nil
}
