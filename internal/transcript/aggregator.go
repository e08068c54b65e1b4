// Package transcript accumulates the partial transcription fragments of a
// live voice session into a per-turn message log.
//
// Fragments for the user's speech and the model's speech arrive interleaved
// and are buffered separately. When the model signals the end of its turn,
// both buffers are flushed as complete messages (user first, then model) and
// reset, whether or not they held any text.
package transcript

import (
	"strings"
	"sync"
	"time"
)

// Speaker identifies who said a [Message].
type Speaker string

const (
	// SpeakerUser is the human at the microphone.
	SpeakerUser Speaker = "user"

	// SpeakerModel is the remote voice model.
	SpeakerModel Speaker = "model"
)

// Message is one completed utterance in the transcript log.
type Message struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	Turn    int       `json:"turn"`
	At      time.Time `json:"at"`
}

// Aggregator buffers transcription fragments and turns them into messages.
// All methods are safe for concurrent use.
type Aggregator struct {
	now func() time.Time

	mu     sync.Mutex
	input  strings.Builder
	output strings.Builder
	log    []Message
	turn   int
}

// Option configures an [Aggregator].
type Option func(*Aggregator)

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// New returns an empty aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{now: time.Now}
	for _, o := range opts {
		o(a)
	}
	return a
}

// AppendInput appends a fragment of the user's speech.
func (a *Aggregator) AppendInput(fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.WriteString(fragment)
}

// AppendOutput appends a fragment of the model's speech.
func (a *Aggregator) AppendOutput(fragment string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.output.WriteString(fragment)
}

// CompleteTurn flushes both buffers. Each trimmed, non-empty buffer becomes a
// message, user before model. Both buffers are reset unconditionally. It
// returns the messages appended to the log, if any.
func (a *Aggregator) CompleteTurn() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()

	user := strings.TrimSpace(a.input.String())
	model := strings.TrimSpace(a.output.String())
	a.input.Reset()
	a.output.Reset()

	if user == "" && model == "" {
		return nil
	}
	a.turn++
	at := a.now()

	var added []Message
	if user != "" {
		added = append(added, Message{Speaker: SpeakerUser, Text: user, Turn: a.turn, At: at})
	}
	if model != "" {
		added = append(added, Message{Speaker: SpeakerModel, Text: model, Turn: a.turn, At: at})
	}
	a.log = append(a.log, added...)
	return added
}

// Pending returns the text buffered for the current turn.
func (a *Aggregator) Pending() (input, output string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.input.String(), a.output.String()
}

// Reset discards the buffered fragments of the current turn. The message log
// is kept.
func (a *Aggregator) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.output.Reset()
}

// Clear discards the message log, the buffered fragments and the turn count.
func (a *Aggregator) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.input.Reset()
	a.output.Reset()
	a.log = nil
	a.turn = 0
}

// Messages returns a copy of the message log.
func (a *Aggregator) Messages() []Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]Message, len(a.log))
	copy(out, a.log)
	return out
}
