// Package live defines the Provider interface for hosted real-time voice
// models.
//
// A live provider wraps a bidirectional session with a remote model: the
// caller streams encoded microphone frames in, and the session delivers an
// interleaved stream of synthesised audio, partial transcripts and turn
// signals back as [Event] values. The session is the hot path of the voice
// pipeline; every method must return quickly.
//
// Audio decoding and playback are deliberately outside this package: inbound
// audio is passed through as the base64 payload received on the wire.
//
// All implementations must be safe for concurrent use.
package live

import (
	"context"
	"fmt"

	"github.com/MrWong99/heroai/pkg/audio"
)

const (
	// DefaultModel is the native-audio Live model used when none is configured.
	DefaultModel = "gemini-2.5-flash-native-audio-preview-09-2025"

	// DefaultVoice is the prebuilt voice used when none is configured.
	DefaultVoice = "Zephyr"
)

// Config is the fixed configuration a session is opened with. Response
// modality is always audio.
type Config struct {
	// Model is the model identifier. Empty selects the provider default.
	Model string

	// Voice is the prebuilt voice name for synthesised speech.
	Voice string

	// Instructions is an optional system instruction.
	Instructions string

	// InputTranscription enables transcripts of the user's speech.
	InputTranscription bool

	// OutputTranscription enables transcripts of the model's speech.
	OutputTranscription bool
}

// DefaultConfig returns the configuration used by the voice session: default
// model and voice with both transcriptions enabled.
func DefaultConfig() Config {
	return Config{
		Model:               DefaultModel,
		Voice:               DefaultVoice,
		InputTranscription:  true,
		OutputTranscription: true,
	}
}

// EventKind discriminates [Event].
type EventKind int

const (
	// EventOpen reports that the remote session is established.
	EventOpen EventKind = iota + 1

	// EventMessage carries server content in [Event.Message].
	EventMessage

	// EventError reports a transport failure in [Event.Err]. It is always
	// the last event; the channel is closed right after it.
	EventError

	// EventClose reports that the remote closed the session. It is always the
	// last event; the channel is closed right after it.
	EventClose
)

// String implements [fmt.Stringer].
func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	default:
		return fmt.Sprintf("EventKind(%d)", int(k))
	}
}

// Event is one notification from a live session. Exactly one of Message and
// Err is meaningful, depending on Kind.
type Event struct {
	Kind EventKind

	// Message is set for [EventMessage].
	Message *Message

	// Err is set for [EventError].
	Err error

	// Reason is the remote's close reason for [EventClose], if any.
	Reason string
}

// Message is the server content of an [EventMessage]. Every field is
// optional; zero values mean absence.
type Message struct {
	// OutputTranscript is a fragment of the transcript of the model's speech.
	OutputTranscript string

	// InputTranscript is a fragment of the transcript of the user's speech.
	InputTranscript string

	// Audio holds inline synthesised speech payloads, base64-encoded PCM16
	// at 24 kHz mono, in wire order. Empty payloads are never included.
	Audio []string

	// Text holds any text parts of the model turn.
	Text []string

	// TurnComplete is set when the model finished its turn.
	TurnComplete bool

	// Interrupted is set when the user barged in on the model's speech.
	Interrupted bool
}

// Empty reports whether m carries nothing at all.
func (m *Message) Empty() bool {
	return m == nil || (m.OutputTranscript == "" && m.InputTranscript == "" &&
		len(m.Audio) == 0 && len(m.Text) == 0 && !m.TurnComplete && !m.Interrupted)
}

// Session is an open live session. Callers must call Close when done.
type Session interface {
	// SendAudio forwards one captured frame. It must not block on network
	// acknowledgement for longer than a single write and returns an error once
	// the session is closed.
	SendAudio(ctx context.Context, frame audio.AudioFrame) error

	// Events returns the session's event stream. The first event is
	// [EventOpen]; the channel is closed when the session ends. Consumers must
	// drain it promptly.
	Events() <-chan Event

	// Close terminates the session and closes the event channel. A session
	// closed by the caller does not emit [EventClose]. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// Provider is the abstraction over any live voice backend.
type Provider interface {
	// Connect opens a new session. The returned session is ready to accept
	// audio once [EventOpen] has been delivered.
	Connect(ctx context.Context, cfg Config) (Session, error)
}
