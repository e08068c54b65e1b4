package playback

import (
	"cmp"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/MrWong99/heroai/pkg/audio"
)

var (
	// ErrEmptyPayload is returned when an inbound payload carries no samples.
	// Callers treat it as the absence of audio.
	ErrEmptyPayload = errors.New("playback: empty audio payload")

	// ErrStale is returned by [Scheduler.ScheduleEpoch] when the scheduler was
	// interrupted after the payload was received.
	ErrStale = errors.New("playback: payload predates interruption")
)

// DecodeError reports a malformed inbound audio payload. The payload is
// dropped; cursor and active set are left untouched.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "playback: decode: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

// Buffer describes one scheduled block of model audio.
type Buffer struct {
	// ID is the arena handle, unique for the lifetime of the scheduler.
	ID uint64

	// StartAt is the output-clock time playback begins.
	StartAt time.Duration

	// Duration is the play time of the buffer.
	Duration time.Duration

	// Samples is the number of mono samples in the buffer.
	Samples int
}

// End returns the output-clock time the buffer finishes playing.
func (b Buffer) End() time.Duration { return b.StartAt + b.Duration }

type activeBuffer struct {
	buf   Buffer
	voice Voice
}

// Scheduler places decoded audio buffers back to back on an [OutputDevice].
//
// For a buffer of duration d: startAt = max(cursor, now) and
// cursor = startAt + d. Buffers therefore never overlap and arrive-faster-
// than-realtime backlogs play without gaps.
//
// All methods are safe for concurrent use.
type Scheduler struct {
	out    OutputDevice
	format audio.Format

	mu     sync.Mutex
	cursor time.Duration
	nextID uint64
	epoch  uint64
	active map[uint64]*activeBuffer
}

// NewScheduler returns a scheduler for 24 kHz mono model audio on out.
func NewScheduler(out OutputDevice) *Scheduler {
	return &Scheduler{
		out:    out,
		format: audio.OutputFormat,
		active: make(map[uint64]*activeBuffer),
	}
}

// ScheduleBase64 decodes a base64 PCM16 payload and schedules it.
// Malformed payloads yield a [*DecodeError].
func (s *Scheduler) ScheduleBase64(payload string) (Buffer, error) {
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Buffer{}, &DecodeError{Err: err}
	}
	return s.Schedule(pcm)
}

// Schedule decodes little-endian PCM16 bytes and schedules them after every
// previously scheduled buffer.
func (s *Scheduler) Schedule(pcm []byte) (Buffer, error) {
	samples, err := Decode(pcm)
	if err != nil {
		return Buffer{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.scheduleLocked(samples)
}

// Decode converts a raw payload into samples ready for [Scheduler.ScheduleEpoch].
// It may run concurrently with scheduling.
func Decode(pcm []byte) ([]int16, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyPayload
	}
	samples, err := audio.PCM16Samples(pcm)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return samples, nil
}

// Epoch returns the current interruption epoch. It advances on every
// [Scheduler.Interrupt] and [Scheduler.Reset].
func (s *Scheduler) Epoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// ScheduleEpoch schedules already decoded samples, provided no interruption
// happened since epoch was read. Otherwise it returns [ErrStale] and nothing
// is scheduled.
func (s *Scheduler) ScheduleEpoch(epoch uint64, samples []int16) (Buffer, error) {
	if len(samples) == 0 {
		return Buffer{}, ErrEmptyPayload
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if epoch != s.epoch {
		return Buffer{}, ErrStale
	}
	return s.scheduleLocked(samples)
}

func (s *Scheduler) scheduleLocked(samples []int16) (Buffer, error) {
	if s.out == nil {
		return Buffer{}, fmt.Errorf("playback: no output device")
	}
	startAt := max(s.cursor, s.out.Now())
	s.nextID++
	buf := Buffer{
		ID:       s.nextID,
		StartAt:  startAt,
		Duration: s.format.Duration(len(samples)),
		Samples:  len(samples),
	}

	id := buf.ID
	voice, err := s.out.Play(samples, startAt, func() { s.ended(id) })
	if err != nil {
		return Buffer{}, fmt.Errorf("playback: play buffer %d: %w", id, err)
	}

	s.cursor = buf.End()
	s.active[id] = &activeBuffer{buf: buf, voice: voice}
	return buf, nil
}

// ended removes a naturally finished buffer from the arena. Ids are never
// reused, so a late callback for an interrupted buffer is a no-op.
func (s *Scheduler) ended(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.active, id)
}

// Interrupt stops every active buffer, empties the arena and resets the
// cursor to the start of the stream. The next buffer is clamped to the
// device's current time by max(cursor, now).
func (s *Scheduler) Interrupt() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.active)
	for id, ab := range s.active {
		ab.voice.Stop()
		delete(s.active, id)
	}
	s.cursor = 0
	s.epoch++
	if n > 0 {
		slog.Debug("playback interrupted", "stopped_buffers", n)
	}
	return n
}

// Reset is [Scheduler.Interrupt] for teardown.
func (s *Scheduler) Reset() {
	s.Interrupt()
}

// Cursor returns the earliest output-clock time the next buffer may start.
func (s *Scheduler) Cursor() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

// Active returns the buffers currently playing or waiting to play, in
// schedule order.
func (s *Scheduler) Active() []Buffer {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Buffer, 0, len(s.active))
	for _, ab := range s.active {
		out = append(out, ab.buf)
	}
	slices.SortFunc(out, func(a, b Buffer) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// Backlog returns how far the cursor runs ahead of the output clock.
func (s *Scheduler) Backlog() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.out == nil {
		return 0
	}
	return max(0, s.cursor-s.out.Now())
}
