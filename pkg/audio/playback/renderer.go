package playback

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/MrWong99/heroai/pkg/audio"
)

// Compile-time interface assertion.
var _ OutputDevice = (*Renderer)(nil)

// ErrRendererClosed is returned by [Renderer.Play] after Close.
var ErrRendererClosed = errors.New("playback: renderer closed")

const defaultTick = 20 * time.Millisecond

// RendererOption configures a [Renderer].
type RendererOption func(*Renderer)

// WithTick sets how much audio is rendered per clock tick. The default is
// 20 ms.
func WithTick(d time.Duration) RendererOption {
	return func(r *Renderer) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithFormat overrides the output format. Only mono is supported.
func WithFormat(f audio.Format) RendererOption {
	return func(r *Renderer) { r.format = f }
}

type rvoice struct {
	r       *Renderer
	samples []int16
	start   int64 // first sample index on the output clock
	onEnded func()
}

// Stop implements [Voice].
func (v *rvoice) Stop() {
	v.r.mu.Lock()
	defer v.r.mu.Unlock()
	delete(v.r.voices, v)
}

// Renderer is a software output context. Its clock is the number of samples
// written to the sink, so Now advances in real time while [Renderer.Run] is
// pacing the output. Overlapping voices are summed with saturation.
//
// All methods are safe for concurrent use.
type Renderer struct {
	sink   io.Writer
	format audio.Format
	tick   time.Duration

	mu       sync.Mutex
	voices   map[*rvoice]struct{}
	rendered int64 // samples written so far
	closed   bool

	done      chan struct{}
	closeOnce sync.Once
}

// NewRenderer creates a renderer writing little-endian PCM16 to sink.
// Call [Renderer.Run] to start the clock.
func NewRenderer(sink io.Writer, opts ...RendererOption) *Renderer {
	r := &Renderer{
		sink:   sink,
		format: audio.OutputFormat,
		tick:   defaultTick,
		voices: make(map[*rvoice]struct{}),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Now implements [OutputDevice].
func (r *Renderer) Now() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.format.Duration(int(r.rendered))
}

// Play implements [OutputDevice].
func (r *Renderer) Play(samples []int16, at time.Duration, onEnded func()) (Voice, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRendererClosed
	}
	start := r.sampleAt(at)
	v := &rvoice{
		r:       r,
		samples: samples,
		start:   max(start, r.rendered),
		onEnded: onEnded,
	}
	r.voices[v] = struct{}{}
	return v, nil
}

// sampleAt converts a clock offset to the nearest sample index. Offsets are
// truncated durations, so rounding recovers the exact sample boundary.
func (r *Renderer) sampleAt(at time.Duration) int64 {
	if at <= 0 {
		return 0
	}
	rate := int64(r.format.SampleRate)
	return (int64(at)*rate + int64(time.Second)/2) / int64(time.Second)
}

// Run paces the clock in real time until ctx is cancelled or Close is
// called, writing one tick of mixed audio per tick interval.
func (r *Renderer) Run(ctx context.Context) error {
	perTick := int(int64(r.tick) * int64(r.format.SampleRate) / int64(time.Second))
	if perTick <= 0 {
		return fmt.Errorf("playback: tick %s too short for %d Hz", r.tick, r.format.SampleRate)
	}
	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-r.done:
			return nil
		case <-ticker.C:
			if err := r.renderTick(perTick); err != nil {
				return err
			}
		}
	}
}

// renderTick mixes and writes n samples. End callbacks fire outside the lock
// once the samples have reached the sink.
func (r *Renderer) renderTick(n int) error {
	pcm, ended := r.mix(n)
	_, err := r.sink.Write(pcm)
	for _, fn := range ended {
		if fn != nil {
			fn()
		}
	}
	if err != nil {
		return fmt.Errorf("playback: write sink: %w", err)
	}
	return nil
}

// mix renders the next n samples of the output clock and advances it.
func (r *Renderer) mix(n int) ([]byte, []func()) {
	r.mu.Lock()
	defer r.mu.Unlock()

	acc := make([]int32, n)
	from := r.rendered
	to := from + int64(n)
	var ended []func()

	for v := range r.voices {
		end := v.start + int64(len(v.samples))
		lo := max(from, v.start)
		hi := min(to, end)
		for i := lo; i < hi; i++ {
			acc[i-from] += int32(v.samples[i-v.start])
		}
		if end <= to {
			delete(r.voices, v)
			ended = append(ended, v.onEnded)
		}
	}
	r.rendered = to

	out := make([]byte, n*audio.BytesPerSample)
	for i, s := range acc {
		s = min(max(s, math.MinInt16), math.MaxInt16)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s)))
	}
	return out, ended
}

// Voices returns the number of voices still pending or playing.
func (r *Renderer) Voices() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.voices)
}

// Close implements [OutputDevice]. Pending voices are dropped without end
// callbacks; the sink is closed when it implements [io.Closer].
func (r *Renderer) Close() error {
	var err error
	r.closeOnce.Do(func() {
		r.mu.Lock()
		r.closed = true
		clear(r.voices)
		r.mu.Unlock()
		close(r.done)

		if c, ok := r.sink.(io.Closer); ok {
			if cerr := c.Close(); cerr != nil {
				err = fmt.Errorf("playback: close sink: %w", cerr)
			}
		}
		slog.Debug("playback renderer closed")
	})
	return err
}
