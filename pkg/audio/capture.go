package audio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrPermission is returned (wrapped) by [Microphone.Open] when the capture
// device cannot be acquired: access denied, device missing or busy.
var ErrPermission = errors.New("microphone access denied")

// Microphone is a capture device that can be opened exclusively by one
// session at a time.
//
// Implementations must be safe for concurrent use.
type Microphone interface {
	// Open acquires the device, configured for format, and starts delivering
	// blocks of blockSize mono samples. The device stays acquired until the
	// returned stream is closed. Errors caused by the device being unavailable
	// must wrap [ErrPermission].
	Open(ctx context.Context, format Format, blockSize int) (CaptureStream, error)
}

// CaptureStream is an acquired microphone.
type CaptureStream interface {
	// Blocks returns the channel of captured sample blocks. Each block holds
	// normalised samples in [-1.0, 1.0] (devices may overshoot). The channel
	// is closed when the stream is closed or the device fails.
	Blocks() <-chan []float32

	// Close stops capture and releases the device. Calling Close more than
	// once is safe and returns nil.
	Close() error
}

// CaptureEncoder pulls blocks from a [CaptureStream] and emits one
// [AudioFrame] per block, in capture order.
type CaptureEncoder struct {
	format Format
	encode func([]float32) string

	mu      sync.Mutex
	seq     uint64
	samples int
}

// EncoderOption configures a [CaptureEncoder].
type EncoderOption func(*CaptureEncoder)

// WithLegacyWraparound selects the unclamped conversion of
// [FloatToPCM16Legacy] instead of the default clamping encoder.
func WithLegacyWraparound() EncoderOption {
	return func(e *CaptureEncoder) { e.encode = EncodeFloat32Legacy }
}

// NewCaptureEncoder returns an encoder for mono blocks at [InputSampleRate].
func NewCaptureEncoder(opts ...EncoderOption) *CaptureEncoder {
	e := &CaptureEncoder{
		format: InputFormat,
		encode: EncodeFloat32,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Encode converts one captured block into the next frame of the stream.
// Frame sequence numbers and timestamps advance with every call.
func (e *CaptureEncoder) Encode(block []float32) AudioFrame {
	e.mu.Lock()
	seq := e.seq
	offset := e.samples
	e.seq++
	e.samples += len(block)
	e.mu.Unlock()

	return AudioFrame{
		Data:      e.encode(block),
		MIMEType:  PCMMIMEType(e.format.SampleRate),
		Samples:   len(block),
		Seq:       seq,
		Timestamp: e.format.Duration(offset),
	}
}

// Run reads blocks from stream until the stream closes or ctx is cancelled,
// calling emit once per non-empty block. emit runs on the calling goroutine
// and must not block on network I/O; hand the frame off instead.
func (e *CaptureEncoder) Run(ctx context.Context, stream CaptureStream, emit func(AudioFrame)) error {
	if stream == nil {
		return fmt.Errorf("audio: capture stream is nil")
	}
	blocks := stream.Blocks()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-blocks:
			if !ok {
				slog.Debug("capture stream closed")
				return nil
			}
			if len(block) == 0 {
				continue
			}
			emit(e.Encode(block))
		}
	}
}
