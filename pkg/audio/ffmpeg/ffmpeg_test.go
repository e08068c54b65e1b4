package ffmpeg

import (
	"context"
	"errors"
	"slices"
	"strings"
	"testing"

	"github.com/MrWong99/heroai/pkg/audio"
)

func TestMicrophone_Args(t *testing.T) {
	t.Parallel()
	m := &Microphone{path: "ffmpeg", driver: "pulse", input: "default"}
	args := m.Args(audio.InputFormat)
	joined := strings.Join(args, " ")
	for _, want := range []string{"-f pulse -i default", "-ac 1", "-ar 16000", "-f f32le -"} {
		if !strings.Contains(joined, want) {
			t.Errorf("args %q missing %q", joined, want)
		}
	}
}

func TestSpeakerArgs(t *testing.T) {
	t.Parallel()
	args := SpeakerArgs(audio.OutputFormat, 80)
	if !slices.Contains(args, "24000") || !slices.Contains(args, "s16le") || !slices.Contains(args, "mono") {
		t.Errorf("unexpected ffplay args %v", args)
	}
	if args[len(args)-1] != "-" {
		t.Errorf("ffplay must read stdin, got %v", args)
	}
}

func TestMicrophone_MissingBinaryIsPermissionError(t *testing.T) {
	t.Parallel()
	m := &Microphone{path: "/nonexistent/ffmpeg-for-tests", driver: "pulse", input: "default"}
	_, err := m.Open(context.Background(), audio.InputFormat, 1024)
	if !errors.Is(err, audio.ErrPermission) {
		t.Fatalf("Open = %v, want ErrPermission", err)
	}
}

func TestTailBuffer(t *testing.T) {
	t.Parallel()
	tb := &tailBuffer{limit: 4}
	_, _ = tb.Write([]byte("hello"))
	_, _ = tb.Write([]byte("!!"))
	if got := tb.String(); got != "lo!!" {
		t.Errorf("tail = %q, want %q", got, "lo!!")
	}
}
