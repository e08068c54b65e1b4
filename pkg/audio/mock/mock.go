// Package mock provides in-memory mock implementations of [audio.Microphone],
// [audio.CaptureStream] and [playback.OutputDevice] for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so that
// tests can assert on call counts and arguments, and they expose exported fields
// that the test can set to control return values.
//
// Typical usage:
//
//	stream := mock.NewCaptureStream(4)
//	mic := &mock.Microphone{OpenResult: stream}
//	out := mock.NewOutputDevice()
//	out.SetNow(500 * time.Millisecond)
//	stream.Push([]float32{0.1, -0.1})
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/MrWong99/heroai/pkg/audio"
	"github.com/MrWong99/heroai/pkg/audio/playback"
)

// ─── Microphone ──────────────────────────────────────────────────────────────

// Microphone is a mock implementation of [audio.Microphone].
type Microphone struct {
	mu sync.Mutex

	// OpenResult is returned by [Microphone.Open]. When nil and OpenErr is
	// nil, a fresh [CaptureStream] is created.
	OpenResult audio.CaptureStream

	// OpenErr is returned by [Microphone.Open].
	OpenErr error

	// CallCountOpen records how many times Open was called.
	CallCountOpen int

	// LastFormat and LastBlockSize record the arguments of the last Open.
	LastFormat    audio.Format
	LastBlockSize int
}

// Open implements [audio.Microphone].
func (m *Microphone) Open(_ context.Context, format audio.Format, blockSize int) (audio.CaptureStream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CallCountOpen++
	m.LastFormat = format
	m.LastBlockSize = blockSize
	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	if m.OpenResult == nil {
		return NewCaptureStream(16), nil
	}
	return m.OpenResult, nil
}

// ─── CaptureStream ───────────────────────────────────────────────────────────

// CaptureStream is a mock implementation of [audio.CaptureStream]. Tests feed
// blocks with [CaptureStream.Push].
type CaptureStream struct {
	ch chan []float32

	mu     sync.Mutex
	closed bool

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewCaptureStream returns a stream whose block channel has the given buffer.
func NewCaptureStream(buffer int) *CaptureStream {
	return &CaptureStream{ch: make(chan []float32, buffer)}
}

// Push delivers a block. It reports false once the stream is closed.
func (s *CaptureStream) Push(block []float32) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.ch <- block
	return true
}

// Blocks implements [audio.CaptureStream].
func (s *CaptureStream) Blocks() <-chan []float32 { return s.ch }

// Close implements [audio.CaptureStream].
func (s *CaptureStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

// Closed reports whether Close has been called.
func (s *CaptureStream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// ─── OutputDevice ────────────────────────────────────────────────────────────

// Played is one recorded [OutputDevice.Play] call.
type Played struct {
	Samples []int16
	At      time.Duration
}

// Voice is the handle returned by [OutputDevice.Play].
type Voice struct {
	dev     *OutputDevice
	onEnded func()
	stopped bool
	ended   bool
}

// Stop implements [playback.Voice].
func (v *Voice) Stop() {
	v.dev.mu.Lock()
	defer v.dev.mu.Unlock()
	v.stopped = true
}

// Stopped reports whether Stop was called.
func (v *Voice) Stopped() bool {
	v.dev.mu.Lock()
	defer v.dev.mu.Unlock()
	return v.stopped
}

// OutputDevice is a mock implementation of [playback.OutputDevice] with a
// manually driven clock. Nothing ends on its own; tests call
// [OutputDevice.EndAll] to simulate buffers finishing.
type OutputDevice struct {
	mu     sync.Mutex
	now    time.Duration
	voices []*Voice
	played []Played

	// PlayErr is returned by [OutputDevice.Play] when set.
	PlayErr error

	// CloseErr is returned by [OutputDevice.Close].
	CloseErr error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// NewOutputDevice returns a device whose clock reads zero.
func NewOutputDevice() *OutputDevice { return &OutputDevice{} }

// SetNow moves the device clock.
func (d *OutputDevice) SetNow(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.now = t
}

// Now implements [playback.OutputDevice].
func (d *OutputDevice) Now() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.now
}

// Play implements [playback.OutputDevice]. It never calls onEnded.
func (d *OutputDevice) Play(samples []int16, at time.Duration, onEnded func()) (playback.Voice, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PlayErr != nil {
		return nil, d.PlayErr
	}
	v := &Voice{dev: d, onEnded: onEnded}
	d.voices = append(d.voices, v)
	d.played = append(d.played, Played{Samples: samples, At: at})
	return v, nil
}

// Played returns a copy of every Play call so far.
func (d *OutputDevice) Played() []Played {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]Played, len(d.played))
	copy(out, d.played)
	return out
}

// Voices returns every voice handed out so far, in Play order.
func (d *OutputDevice) Voices() []*Voice {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Voice, len(d.voices))
	copy(out, d.voices)
	return out
}

// EndAll fires the end callback of every voice that has neither been stopped
// nor ended yet. Callbacks run outside the device lock. It returns the number
// of callbacks fired.
func (d *OutputDevice) EndAll() int {
	d.mu.Lock()
	var fns []func()
	for _, v := range d.voices {
		if v.stopped || v.ended {
			continue
		}
		v.ended = true
		if v.onEnded != nil {
			fns = append(fns, v.onEnded)
		}
	}
	d.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
	return len(fns)
}

// Close implements [playback.OutputDevice].
func (d *OutputDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.CallCountClose++
	for _, v := range d.voices {
		v.stopped = true
	}
	return d.CloseErr
}
