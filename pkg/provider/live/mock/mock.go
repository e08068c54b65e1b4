// Package mock provides test doubles for the live package interfaces.
//
// Use Provider to verify Connect calls and hand out a controlled Session.
// Use Session to script the inbound event stream and inspect which frames the
// caller sent.
//
// Example:
//
//	sess := mock.NewSession()
//	p := &mock.Provider{Session: sess}
//	handle, _ := p.Connect(ctx, live.DefaultConfig())
//	sess.Open()
//	sess.Emit(live.Event{Kind: live.EventMessage, Message: &live.Message{TurnComplete: true}})
package mock

import (
	"context"
	"errors"
	"sync"

	"github.com/MrWong99/heroai/pkg/audio"
	"github.com/MrWong99/heroai/pkg/provider/live"
)

// Ensure the mocks implement the live interfaces at compile time.
var (
	_ live.Provider = (*Provider)(nil)
	_ live.Session  = (*Session)(nil)
)

// ErrClosed is returned by [Session.SendAudio] after Close.
var ErrClosed = errors.New("mock: session closed")

// ConnectCall records a single invocation of Provider.Connect.
type ConnectCall struct {
	// Ctx is the context passed to Connect.
	Ctx context.Context
	// Cfg is the Config passed to Connect.
	Cfg live.Config
}

// Provider is a mock implementation of live.Provider.
type Provider struct {
	mu sync.Mutex

	// Session is the session returned by Connect. If nil, Connect returns a
	// new Session.
	Session *Session

	// ConnectErr, if non-nil, is returned as the error from Connect.
	ConnectErr error

	// ConnectCalls records every call to Connect in order.
	ConnectCalls []ConnectCall
}

// Connect records the call and returns Session, ConnectErr.
func (p *Provider) Connect(ctx context.Context, cfg live.Config) (live.Session, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ConnectCalls = append(p.ConnectCalls, ConnectCall{Ctx: ctx, Cfg: cfg})
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	if p.Session == nil {
		p.Session = NewSession()
	}
	return p.Session, nil
}

// Calls returns a copy of ConnectCalls. Thread-safe.
func (p *Provider) Calls() []ConnectCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]ConnectCall(nil), p.ConnectCalls...)
}

// CallCount returns the number of Connect calls.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.ConnectCalls)
}

// Session is a mock implementation of live.Session. Events are pushed by the
// test with Emit; Close by the caller closes the stream without a terminal
// event, as real sessions do.
type Session struct {
	events chan live.Event

	mu     sync.Mutex
	sent   []audio.AudioFrame
	closed bool
	ended  bool

	// SendErr, if non-nil, is returned by SendAudio (the frame is still
	// recorded).
	SendErr error

	// CloseErr is returned by Close.
	CloseErr error

	// CloseCallCount is the number of times Close was called.
	CloseCallCount int

	// sentCh receives a copy of every sent frame when non-nil.
	sentCh chan audio.AudioFrame
}

// NewSession returns a session with a generously buffered event channel.
func NewSession() *Session {
	return &Session{events: make(chan live.Event, 256)}
}

// NotifySent returns a channel that receives every frame passed to SendAudio
// after this call. It must be drained by the test.
func (s *Session) NotifySent(buffer int) <-chan audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sentCh = make(chan audio.AudioFrame, buffer)
	return s.sentCh
}

// Emit delivers ev to the event stream. It reports false once the stream has
// ended.
func (s *Session) Emit(ev live.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ended {
		return false
	}
	s.events <- ev
	if ev.Kind == live.EventError || ev.Kind == live.EventClose {
		s.ended = true
		close(s.events)
	}
	return true
}

// Open emits [live.EventOpen].
func (s *Session) Open() bool { return s.Emit(live.Event{Kind: live.EventOpen}) }

// Message emits an [live.EventMessage] carrying m.
func (s *Session) Message(m live.Message) bool {
	return s.Emit(live.Event{Kind: live.EventMessage, Message: &m})
}

// SendAudio records frame and returns SendErr.
func (s *Session) SendAudio(_ context.Context, frame audio.AudioFrame) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.sent = append(s.sent, frame)
	if s.sentCh != nil {
		select {
		case s.sentCh <- frame:
		default:
		}
	}
	return s.SendErr
}

// Sent returns a copy of every frame sent so far.
func (s *Session) Sent() []audio.AudioFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audio.AudioFrame, len(s.sent))
	copy(out, s.sent)
	return out
}

// Events implements live.Session.
func (s *Session) Events() <-chan live.Event { return s.events }

// Close records the call and closes the event stream.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CloseCallCount++
	s.closed = true
	if !s.ended {
		s.ended = true
		close(s.events)
	}
	return s.CloseErr
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// CloseCount returns CloseCallCount under the lock.
func (s *Session) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.CloseCallCount
}
