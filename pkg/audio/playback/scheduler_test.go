package playback_test

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/heroai/pkg/audio/mock"
	"github.com/MrWong99/heroai/pkg/audio/playback"
)

// pcmOf returns n samples of little-endian PCM16 silence-with-ramp.
func pcmOf(n int) []byte {
	buf := make([]byte, n*2)
	for i := range n {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(int16(i)))
	}
	return buf
}

// halfSecond is 0.5 s of 24 kHz audio.
var halfSecond = pcmOf(12000)

func TestScheduler_BackToBack(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s := playback.NewScheduler(dev)

	want := []time.Duration{0, 500 * time.Millisecond, time.Second}
	for i, w := range want {
		buf, err := s.Schedule(halfSecond)
		if err != nil {
			t.Fatalf("schedule %d: %v", i, err)
		}
		if buf.StartAt != w {
			t.Errorf("buffer %d: StartAt = %s, want %s", i, buf.StartAt, w)
		}
		if buf.Duration != 500*time.Millisecond {
			t.Errorf("buffer %d: Duration = %s, want 500ms", i, buf.Duration)
		}
	}
	if got := s.Cursor(); got != 1500*time.Millisecond {
		t.Errorf("Cursor = %s, want 1.5s", got)
	}

	played := dev.Played()
	if len(played) != 3 {
		t.Fatalf("device saw %d Play calls, want 3", len(played))
	}
	for i, p := range played {
		if p.At != want[i] {
			t.Errorf("Play %d at %s, want %s", i, p.At, want[i])
		}
	}
}

func TestScheduler_CursorClampedToNow(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s := playback.NewScheduler(dev)

	if _, err := s.Schedule(halfSecond); err != nil {
		t.Fatal(err)
	}
	// The first buffer finished long ago; the next one starts now.
	dev.SetNow(3 * time.Second)
	buf, err := s.Schedule(halfSecond)
	if err != nil {
		t.Fatal(err)
	}
	if buf.StartAt != 3*time.Second {
		t.Errorf("StartAt = %s, want 3s", buf.StartAt)
	}
}

func TestScheduler_StartTimesMonotonic(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s := playback.NewScheduler(dev)

	var prevEnd time.Duration
	for i := range 20 {
		dev.SetNow(time.Duration(i) * 200 * time.Millisecond)
		buf, err := s.Schedule(pcmOf(2400 + i*100))
		if err != nil {
			t.Fatal(err)
		}
		if buf.StartAt < prevEnd {
			t.Fatalf("buffer %d starts at %s before previous end %s", i, buf.StartAt, prevEnd)
		}
		prevEnd = buf.End()
	}
}

func TestScheduler_NaturalEndLeavesArena(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s := playback.NewScheduler(dev)

	for range 3 {
		if _, err := s.Schedule(halfSecond); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(s.Active()); n != 3 {
		t.Fatalf("active = %d, want 3", n)
	}
	if fired := dev.EndAll(); fired != 3 {
		t.Fatalf("EndAll fired %d callbacks, want 3", fired)
	}
	if n := len(s.Active()); n != 0 {
		t.Errorf("active after natural end = %d, want 0", n)
	}
	// Natural end does not rewind the cursor.
	if got := s.Cursor(); got != 1500*time.Millisecond {
		t.Errorf("Cursor = %s, want 1.5s", got)
	}
}

func TestScheduler_Interrupt(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s := playback.NewScheduler(dev)

	for range 3 {
		if _, err := s.Schedule(halfSecond); err != nil {
			t.Fatal(err)
		}
	}
	if n := s.Interrupt(); n != 3 {
		t.Errorf("Interrupt stopped %d buffers, want 3", n)
	}
	if n := len(s.Active()); n != 0 {
		t.Errorf("active after interrupt = %d, want 0", n)
	}
	if got := s.Cursor(); got != 0 {
		t.Errorf("Cursor after interrupt = %s, want 0", got)
	}
	for i, v := range dev.Voices() {
		if !v.Stopped() {
			t.Errorf("voice %d not stopped", i)
		}
	}
	// Stopped voices never report a natural end.
	if fired := dev.EndAll(); fired != 0 {
		t.Errorf("EndAll after interrupt fired %d callbacks, want 0", fired)
	}

	dev.SetNow(700 * time.Millisecond)
	buf, err := s.Schedule(halfSecond)
	if err != nil {
		t.Fatal(err)
	}
	if buf.StartAt != 700*time.Millisecond {
		t.Errorf("post-interrupt StartAt = %s, want 700ms", buf.StartAt)
	}
}

func TestScheduler_InterruptIdle(t *testing.T) {
	t.Parallel()
	s := playback.NewScheduler(mock.NewOutputDevice())
	if n := s.Interrupt(); n != 0 {
		t.Errorf("Interrupt on idle scheduler stopped %d, want 0", n)
	}
	if n := s.Interrupt(); n != 0 {
		t.Errorf("second Interrupt stopped %d, want 0", n)
	}
}

func TestScheduler_DecodeErrors(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s := playback.NewScheduler(dev)
	if _, err := s.Schedule(halfSecond); err != nil {
		t.Fatal(err)
	}
	cursor := s.Cursor()

	tests := []struct {
		name    string
		payload string
		wantErr func(error) bool
	}{
		{
			name:    "invalid base64",
			payload: "not base64!!",
			wantErr: func(err error) bool { var de *playback.DecodeError; return errors.As(err, &de) },
		},
		{
			name:    "odd byte count",
			payload: base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
			wantErr: func(err error) bool { var de *playback.DecodeError; return errors.As(err, &de) },
		},
		{
			name:    "empty",
			payload: "",
			wantErr: func(err error) bool { return errors.Is(err, playback.ErrEmptyPayload) },
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.ScheduleBase64(tc.payload)
			if err == nil || !tc.wantErr(err) {
				t.Fatalf("ScheduleBase64(%q) error = %v", tc.payload, err)
			}
		})
	}

	if got := s.Cursor(); got != cursor {
		t.Errorf("Cursor moved on bad payload: %s, want %s", got, cursor)
	}
	if n := len(s.Active()); n != 1 {
		t.Errorf("active = %d, want 1", n)
	}
}

func TestScheduler_PlayFailureKeepsCursor(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	dev.PlayErr = errors.New("device gone")
	s := playback.NewScheduler(dev)

	if _, err := s.Schedule(halfSecond); err == nil {
		t.Fatal("expected error from failing device")
	}
	if got := s.Cursor(); got != 0 {
		t.Errorf("Cursor = %s, want 0", got)
	}
	if n := len(s.Active()); n != 0 {
		t.Errorf("active = %d, want 0", n)
	}
}

func TestScheduler_StaleEpochDropped(t *testing.T) {
	t.Parallel()
	s := playback.NewScheduler(mock.NewOutputDevice())

	samples, err := playback.Decode(halfSecond)
	if err != nil {
		t.Fatal(err)
	}
	epoch := s.Epoch()
	s.Interrupt()

	if _, err := s.ScheduleEpoch(epoch, samples); !errors.Is(err, playback.ErrStale) {
		t.Fatalf("ScheduleEpoch with stale epoch: err = %v, want ErrStale", err)
	}
	if n := len(s.Active()); n != 0 {
		t.Errorf("active = %d, want 0", n)
	}
	if _, err := s.ScheduleEpoch(s.Epoch(), samples); err != nil {
		t.Fatalf("ScheduleEpoch with current epoch: %v", err)
	}
}

func TestScheduler_ConcurrentScheduleAndInterrupt(t *testing.T) {
	t.Parallel()
	dev := mock.NewOutputDevice()
	s := playback.NewScheduler(dev)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 50 {
				_, _ = s.Schedule(pcmOf(240))
			}
		}()
	}
	wg.Add(2)
	go func() {
		defer wg.Done()
		for range 20 {
			s.Interrupt()
		}
	}()
	go func() {
		defer wg.Done()
		for range 20 {
			dev.EndAll()
		}
	}()
	wg.Wait()

	s.Interrupt()
	if n := len(s.Active()); n != 0 {
		t.Errorf("active after final interrupt = %d, want 0", n)
	}
}
