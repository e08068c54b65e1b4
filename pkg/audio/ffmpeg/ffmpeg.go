// Package ffmpeg provides host audio devices backed by the ffmpeg and ffplay
// command-line tools: a [Microphone] that captures mono float32 PCM from the
// default input and a [Speaker] sink that plays little-endian PCM16 through
// ffplay. Both run the tool as a child process and talk to it over pipes.
package ffmpeg

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/MrWong99/heroai/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone    = (*Microphone)(nil)
	_ audio.CaptureStream = (*captureStream)(nil)
	_ io.WriteCloser      = (*Speaker)(nil)
)

// ─── Microphone ──────────────────────────────────────────────────────────────

// Microphone captures the host's default input through ffmpeg.
type Microphone struct {
	path   string
	input  string
	driver string
}

// MicrophoneOption configures a [Microphone].
type MicrophoneOption func(*Microphone)

// WithFFmpegPath overrides the ffmpeg binary. Defaults to "ffmpeg" on PATH.
func WithFFmpegPath(path string) MicrophoneOption {
	return func(m *Microphone) {
		if path != "" {
			m.path = path
		}
	}
}

// WithInput selects the capture device, e.g. "default" for PulseAudio or ":0"
// for AVFoundation. Empty keeps the platform default.
func WithInput(input string) MicrophoneOption {
	return func(m *Microphone) {
		if input != "" {
			m.input = input
		}
	}
}

// NewMicrophone returns a microphone for the current platform. Only Linux
// (PulseAudio) and macOS (AVFoundation) are supported.
func NewMicrophone(opts ...MicrophoneOption) (*Microphone, error) {
	m := &Microphone{path: "ffmpeg"}
	switch runtime.GOOS {
	case "linux":
		m.driver, m.input = "pulse", "default"
	case "darwin":
		m.driver, m.input = "avfoundation", ":0"
	default:
		return nil, fmt.Errorf("ffmpeg: microphone capture is not implemented for %s", runtime.GOOS)
	}
	for _, o := range opts {
		o(m)
	}
	return m, nil
}

// Args returns the ffmpeg command line used to capture format.
func (m *Microphone) Args(format audio.Format) []string {
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostdin",
		"-f", m.driver, "-i", m.input,
		"-ac", strconv.Itoa(max(format.Channels, 1)),
		"-ar", strconv.Itoa(format.SampleRate),
		"-f", "f32le", "-",
	}
}

// Open starts ffmpeg and waits for the first captured block. A missing binary
// or a device that produces no audio is reported as [audio.ErrPermission].
func (m *Microphone) Open(ctx context.Context, format audio.Format, blockSize int) (audio.CaptureStream, error) {
	if blockSize <= 0 {
		blockSize = audio.DefaultBlockSize
	}
	if _, err := exec.LookPath(m.path); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: %w", audio.ErrPermission, err)
	}

	cmd := exec.Command(m.path, m.Args(format)...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: open stdout: %w", err)
	}
	stderr := &tailBuffer{limit: 4096}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: %w: start capture: %w", audio.ErrPermission, err)
	}

	s := &captureStream{
		cmd:    cmd,
		stdout: stdout,
		blocks: make(chan []float32, 8),
		frame:  blockSize * 4,
	}

	stop := context.AfterFunc(ctx, func() { _ = cmd.Process.Kill() })
	first, err := s.readBlock()
	stop()
	if ctx.Err() != nil {
		_ = s.kill()
		return nil, ctx.Err()
	}
	if err != nil {
		_ = s.kill()
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		return nil, fmt.Errorf("ffmpeg: %w: %s", audio.ErrPermission, msg)
	}

	slog.Debug("ffmpeg capture started", "driver", m.driver, "input", m.input, "block_size", blockSize)
	s.blocks <- first
	go s.pump()
	return s, nil
}

type captureStream struct {
	cmd    *exec.Cmd
	stdout io.Reader
	blocks chan []float32
	frame  int

	closeOnce sync.Once
	closeErr  error
}

func (s *captureStream) Blocks() <-chan []float32 { return s.blocks }

func (s *captureStream) readBlock() ([]float32, error) {
	raw := make([]byte, s.frame)
	if _, err := io.ReadFull(s.stdout, raw); err != nil {
		return nil, err
	}
	block := make([]float32, len(raw)/4)
	for i := range block {
		block[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return block, nil
}

func (s *captureStream) pump() {
	defer close(s.blocks)
	for {
		block, err := s.readBlock()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				slog.Debug("ffmpeg capture ended", "err", err)
			}
			return
		}
		s.blocks <- block
	}
}

// Close kills ffmpeg. The block channel closes once the pipe drains.
func (s *captureStream) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.kill()
		// Unblock pump if the consumer stopped reading.
		go func() {
			for range s.blocks {
			}
		}()
	})
	return s.closeErr
}

func (s *captureStream) kill() error {
	if s.cmd.Process == nil {
		return nil
	}
	_ = s.cmd.Process.Kill()
	_ = s.cmd.Wait()
	return nil
}

// ─── Speaker ─────────────────────────────────────────────────────────────────

// Speaker is an [io.WriteCloser] that plays little-endian PCM16 through
// ffplay. Use it as the sink of a playback renderer.
type Speaker struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	closeOnce sync.Once
}

// SpeakerOption configures [NewSpeaker].
type SpeakerOption func(*speakerConfig)

type speakerConfig struct {
	path   string
	volume int
}

// WithFFplayPath overrides the ffplay binary. Defaults to "ffplay" on PATH.
func WithFFplayPath(path string) SpeakerOption {
	return func(c *speakerConfig) {
		if path != "" {
			c.path = path
		}
	}
}

// WithVolume sets the ffplay volume (0-100). Defaults to 80.
func WithVolume(v int) SpeakerOption {
	return func(c *speakerConfig) {
		if v > 0 && v <= 100 {
			c.volume = v
		}
	}
}

// SpeakerArgs returns the ffplay command line for format.
func SpeakerArgs(format audio.Format, volume int) []string {
	layout := "mono"
	if format.Channels == 2 {
		layout = "stereo"
	}
	return []string{
		"-hide_banner", "-loglevel", "error", "-nostats", "-nodisp",
		"-volume", strconv.Itoa(volume),
		"-f", "s16le",
		"-ch_layout", layout,
		"-ar", strconv.Itoa(format.SampleRate),
		"-i", "-",
	}
}

// NewSpeaker starts ffplay for format.
func NewSpeaker(format audio.Format, opts ...SpeakerOption) (*Speaker, error) {
	cfg := speakerConfig{path: "ffplay", volume: 80}
	for _, o := range opts {
		o(&cfg)
	}
	if _, err := exec.LookPath(cfg.path); err != nil {
		return nil, fmt.Errorf("ffmpeg: ffplay not found: %w", err)
	}

	cmd := exec.Command(cfg.path, SpeakerArgs(format, cfg.volume)...)
	if runtime.GOOS == "darwin" && os.Getenv("SDL_AUDIODRIVER") == "" {
		cmd.Env = append(os.Environ(), "SDL_AUDIODRIVER=coreaudio")
	}
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: open ffplay stdin: %w", err)
	}
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("ffmpeg: start ffplay: %w", err)
	}
	slog.Debug("ffplay speaker started", "sample_rate", format.SampleRate)
	return &Speaker{cmd: cmd, stdin: stdin}, nil
}

// Write implements [io.Writer].
func (s *Speaker) Write(p []byte) (int, error) {
	return s.stdin.Write(p)
}

// Close stops ffplay. Safe to call more than once.
func (s *Speaker) Close() error {
	s.closeOnce.Do(func() {
		_ = s.stdin.Close()
		if s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
			_ = s.cmd.Wait()
		}
	})
	return nil
}

// tailBuffer keeps the last limit bytes written to it.
type tailBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.limit; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
