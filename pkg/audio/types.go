// Package audio defines the capture side of the HeroAI live voice pipeline:
// the [Microphone] device abstraction, the wire [AudioFrame] produced for
// every captured block, and the [CaptureEncoder] that turns one into the other.
//
// The wire format is fixed: 16-bit signed little-endian PCM, mono, 16 kHz,
// base64-encoded. Synthesised model audio comes back as the same encoding at
// 24 kHz and is handled by the playback package.
//
// This package lives under pkg/ because device adapters outside this module
// are expected to implement [Microphone].
package audio

import (
	"fmt"
	"time"
)

const (
	// InputSampleRate is the sample rate of captured microphone audio in Hz.
	// No resampling is performed; devices must be opened at this rate.
	InputSampleRate = 16000

	// OutputSampleRate is the sample rate of synthesised model audio in Hz.
	OutputSampleRate = 24000

	// DefaultBlockSize is the number of samples per capture block
	// (4096 samples ≈ 256 ms at 16 kHz).
	DefaultBlockSize = 4096

	// BytesPerSample is the size of one PCM16 sample.
	BytesPerSample = 2
)

// InputMIMEType is the wire mime descriptor attached to every outbound frame.
var InputMIMEType = PCMMIMEType(InputSampleRate)

// PCMMIMEType returns the mime descriptor for raw PCM16 audio at rate Hz,
// e.g. "audio/pcm;rate=16000".
func PCMMIMEType(rate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", rate)
}

// Format describes the sample rate and channel count of an audio stream.
type Format struct {
	SampleRate int
	Channels   int
}

// InputFormat is the format every [Microphone] is opened with.
var InputFormat = Format{SampleRate: InputSampleRate, Channels: 1}

// OutputFormat is the format of synthesised model audio.
var OutputFormat = Format{SampleRate: OutputSampleRate, Channels: 1}

// Duration returns the play time of n mono samples in this format.
func (f Format) Duration(samples int) time.Duration {
	if f.SampleRate <= 0 {
		return 0
	}
	return time.Duration(samples) * time.Second / time.Duration(f.SampleRate)
}

// AudioFrame is one encoded block of captured microphone audio, ready for the
// transport send path. Frames are produced in capture order and must not be
// mutated after creation; each frame is consumed exactly once.
type AudioFrame struct {
	// Data is the base64-encoded little-endian PCM16 payload.
	Data string

	// MIMEType is the wire format descriptor, always [InputMIMEType] for frames
	// produced by a [CaptureEncoder].
	MIMEType string

	// Samples is the number of mono samples encoded in Data.
	Samples int

	// Seq is the zero-based capture index of this frame within its stream.
	Seq uint64

	// Timestamp is the offset of the first sample from the start of capture.
	Timestamp time.Duration
}
