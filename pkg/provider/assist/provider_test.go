package assist_test

import (
	"errors"
	"testing"

	"github.com/MrWong99/heroai/pkg/provider/assist"
)

func TestValidate(t *testing.T) {
	t.Parallel()
	png := assist.Media{MIMEType: "image/png", Data: []byte{0x89}}
	wav := assist.Media{MIMEType: "audio/wav", Data: []byte{1}}

	tests := []struct {
		name    string
		kind    assist.Kind
		req     assist.Request
		wantErr bool
	}{
		{"chat", assist.KindChat, assist.Request{Prompt: "hi"}, false},
		{"chat blank", assist.KindChat, assist.Request{Prompt: "  "}, true},
		{"chat history", assist.KindChat, assist.Request{Prompt: "and?", History: []assist.Turn{{Role: assist.RoleUser, Text: "hi"}, {Role: assist.RoleModel, Text: "hello"}}}, false},
		{"chat bad role", assist.KindChat, assist.Request{Prompt: "x", History: []assist.Turn{{Role: "system", Text: "x"}}}, true},
		{"think", assist.KindThink, assist.Request{Prompt: "why?"}, false},
		{"image", assist.KindImage, assist.Request{Prompt: "a cat"}, false},
		{"edit", assist.KindEdit, assist.Request{Prompt: "add a hat", Media: []assist.Media{png}}, false},
		{"edit no image", assist.KindEdit, assist.Request{Prompt: "add a hat"}, true},
		{"edit audio", assist.KindEdit, assist.Request{Prompt: "add a hat", Media: []assist.Media{wav}}, true},
		{"transcribe", assist.KindTranscribe, assist.Request{Media: []assist.Media{wav}}, false},
		{"transcribe empty", assist.KindTranscribe, assist.Request{Media: []assist.Media{{MIMEType: "audio/wav"}}}, true},
		{"unknown", assist.Kind("video"), assist.Request{Prompt: "x"}, true},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			err := assist.Validate(tc.kind, tc.req)
			if (err != nil) != tc.wantErr {
				t.Fatalf("Validate = %v, wantErr %v", err, tc.wantErr)
			}
			if err != nil && !errors.Is(err, assist.ErrInvalidRequest) {
				t.Errorf("error %v does not wrap ErrInvalidRequest", err)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	t.Parallel()
	for _, k := range assist.Kinds {
		got, err := assist.ParseKind(string(k))
		if err != nil || got != k {
			t.Errorf("ParseKind(%q) = %q, %v", k, got, err)
		}
	}
	if got, err := assist.ParseKind("IMAGE"); err != nil || got != assist.KindImage {
		t.Errorf("ParseKind is case sensitive: %q, %v", got, err)
	}
	if _, err := assist.ParseKind("video"); err == nil {
		t.Error("ParseKind(video) succeeded")
	}
}
