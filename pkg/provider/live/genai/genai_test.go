package genai

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/heroai/pkg/audio"
	"github.com/MrWong99/heroai/pkg/provider/live"
	sdk "google.golang.org/genai"
)

// fakeConn scripts Receive results and records sent input.
type fakeConn struct {
	mu     sync.Mutex
	sent   []sdk.LiveRealtimeInput
	closed int

	msgs chan *sdk.LiveServerMessage
	errs chan error
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		msgs: make(chan *sdk.LiveServerMessage, 8),
		errs: make(chan error, 1),
	}
}

func (f *fakeConn) SendRealtimeInput(in sdk.LiveRealtimeInput) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, in)
	return nil
}

func (f *fakeConn) Receive() (*sdk.LiveServerMessage, error) {
	select {
	case m := <-f.msgs:
		return m, nil
	case err := <-f.errs:
		return nil, err
	}
}

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	select {
	case f.errs <- io.EOF:
	default:
	}
	return nil
}

func setupComplete() *sdk.LiveServerMessage {
	return &sdk.LiveServerMessage{SetupComplete: &sdk.LiveServerSetupComplete{}}
}

func newTestProvider(conn *fakeConn, gotModel *string, gotCfg **sdk.LiveConnectConfig) *Provider {
	p := New("key")
	p.connect = func(_ context.Context, model string, cfg *sdk.LiveConnectConfig) (liveConn, error) {
		*gotModel = model
		*gotCfg = cfg
		return conn, nil
	}
	return p
}

func next(t *testing.T, s live.Session) (live.Event, bool) {
	t.Helper()
	select {
	case ev, ok := <-s.Events():
		return ev, ok
	case <-time.After(3 * time.Second):
		t.Fatal("timeout waiting for event")
		return live.Event{}, false
	}
}

func TestConnectConfig(t *testing.T) {
	t.Parallel()
	cfg := live.DefaultConfig()
	cfg.Instructions = "hello"
	lc := ConnectConfig(cfg)

	if len(lc.ResponseModalities) != 1 || lc.ResponseModalities[0] != sdk.ModalityAudio {
		t.Errorf("ResponseModalities = %v", lc.ResponseModalities)
	}
	if lc.SpeechConfig.VoiceConfig.PrebuiltVoiceConfig.VoiceName != "Zephyr" {
		t.Errorf("voice not set")
	}
	if lc.InputAudioTranscription == nil || lc.OutputAudioTranscription == nil {
		t.Error("transcriptions not enabled")
	}
	if lc.SystemInstruction == nil || lc.SystemInstruction.Parts[0].Text != "hello" {
		t.Error("system instruction not set")
	}
}

func TestSession_Events(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	var model string
	var cfg *sdk.LiveConnectConfig
	p := newTestProvider(conn, &model, &cfg)

	sess, err := p.Connect(context.Background(), live.Config{Voice: "Puck"})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	if model != live.DefaultModel {
		t.Errorf("model = %q, want default", model)
	}

	conn.msgs <- setupComplete()
	if ev, _ := next(t, sess); ev.Kind != live.EventOpen {
		t.Fatalf("first event = %s, want open", ev.Kind)
	}

	pcm := []byte{1, 0, 2, 0}
	conn.msgs <- &sdk.LiveServerMessage{ServerContent: &sdk.LiveServerContent{
		ModelTurn: &sdk.Content{Parts: []*sdk.Part{
			{InlineData: &sdk.Blob{Data: pcm, MIMEType: "audio/pcm;rate=24000"}},
			{InlineData: &sdk.Blob{}},
		}},
		OutputTranscription: &sdk.Transcription{Text: "Hello"},
	}}
	conn.msgs <- &sdk.LiveServerMessage{ServerContent: &sdk.LiveServerContent{}}
	conn.msgs <- &sdk.LiveServerMessage{ServerContent: &sdk.LiveServerContent{TurnComplete: true}}

	ev, _ := next(t, sess)
	if ev.Kind != live.EventMessage {
		t.Fatalf("event = %s, want message", ev.Kind)
	}
	if want := base64.StdEncoding.EncodeToString(pcm); len(ev.Message.Audio) != 1 || ev.Message.Audio[0] != want {
		t.Errorf("audio = %v, want [%s]", ev.Message.Audio, want)
	}
	if ev.Message.OutputTranscript != "Hello" {
		t.Errorf("output transcript = %q", ev.Message.OutputTranscript)
	}
	if ev, _ = next(t, sess); !ev.Message.TurnComplete {
		t.Errorf("event = %+v, want turnComplete", ev.Message)
	}
}

func TestSession_ReceiveErrorIsTerminal(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	var model string
	var cfg *sdk.LiveConnectConfig
	sess, err := newTestProvider(conn, &model, &cfg).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()
	conn.msgs <- setupComplete()
	next(t, sess) // open

	conn.errs <- errors.New("socket reset")
	ev, _ := next(t, sess)
	if ev.Kind != live.EventError {
		t.Fatalf("event = %s, want error", ev.Kind)
	}
	if _, ok := next(t, sess); ok {
		t.Error("channel not closed after error")
	}
}

func TestSession_SendAudioAndClose(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	var model string
	var cfg *sdk.LiveConnectConfig
	sess, err := newTestProvider(conn, &model, &cfg).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatal(err)
	}

	frame := audio.NewCaptureEncoder().Encode([]float32{0.5})
	if err := sess.SendAudio(context.Background(), frame); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}
	conn.mu.Lock()
	sent := conn.sent
	conn.mu.Unlock()
	if len(sent) != 1 || sent[0].Audio == nil || sent[0].Audio.MIMEType != audio.InputMIMEType {
		t.Fatalf("sent = %+v", sent)
	}
	if got := sent[0].Audio.Data; len(got) != 2 || got[0] != 0x00 || got[1] != 0x40 {
		t.Errorf("pcm = %v, want [0 64]", got)
	}

	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sess.Close(); err != nil {
		t.Fatal(err)
	}
	if conn.closed != 1 {
		t.Errorf("conn closed %d times, want 1", conn.closed)
	}
	if err := sess.SendAudio(context.Background(), frame); !errors.Is(err, ErrSessionClosed) {
		t.Errorf("SendAudio after Close = %v", err)
	}
	for ev := range sess.Events() {
		if ev.Kind == live.EventError {
			t.Error("caller close produced an error event")
		}
	}
}

func TestSession_OpenWaitsForSetupComplete(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	var model string
	var cfg *sdk.LiveConnectConfig
	sess, err := newTestProvider(conn, &model, &cfg).Connect(context.Background(), live.Config{})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	select {
	case ev := <-sess.Events():
		t.Fatalf("event %s delivered before setupComplete", ev.Kind)
	case <-time.After(50 * time.Millisecond):
	}

	conn.msgs <- &sdk.LiveServerMessage{ServerContent: &sdk.LiveServerContent{
		OutputTranscription: &sdk.Transcription{Text: "early"},
	}}
	conn.msgs <- setupComplete()
	conn.msgs <- &sdk.LiveServerMessage{ServerContent: &sdk.LiveServerContent{
		OutputTranscription: &sdk.Transcription{Text: "Hi"},
	}}

	if ev, _ := next(t, sess); ev.Kind != live.EventOpen {
		t.Fatalf("first event = %s, want open", ev.Kind)
	}
	ev, _ := next(t, sess)
	if ev.Kind != live.EventMessage || ev.Message.OutputTranscript != "Hi" {
		t.Errorf("event = %s %+v, want message with transcript Hi", ev.Kind, ev.Message)
	}
}

func TestSession_RejectedSetupNeverOpens(t *testing.T) {
	t.Parallel()
	conn := newFakeConn()
	var model string
	var cfg *sdk.LiveConnectConfig
	sess, err := newTestProvider(conn, &model, &cfg).Connect(context.Background(), live.Config{Voice: "Nobody"})
	if err != nil {
		t.Fatal(err)
	}
	defer sess.Close()

	conn.errs <- errors.New("invalid voice")
	if ev, _ := next(t, sess); ev.Kind != live.EventError {
		t.Fatalf("event = %s, want error", ev.Kind)
	}
}
