package anyllm

import (
	"errors"
	"testing"

	"github.com/MrWong99/heroai/pkg/provider/assist"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()
	req := assist.Request{
		Prompt:  "and now?",
		History: []assist.Turn{{Role: assist.RoleUser, Text: "hi"}, {Role: assist.RoleModel, Text: "hello"}},
	}

	tests := []struct {
		name        string
		instruction string
		wantRoles   []string
	}{
		{"with instruction", "be brief", []string{"system", "user", "assistant", "user"}},
		{"without instruction", "", []string{"user", "assistant", "user"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			p := buildParams("llama3.2", tc.instruction, req)
			if p.Model != "llama3.2" {
				t.Errorf("model = %q", p.Model)
			}
			if len(p.Messages) != len(tc.wantRoles) {
				t.Fatalf("messages = %d, want %d", len(p.Messages), len(tc.wantRoles))
			}
			for i, m := range p.Messages {
				if m.Role != tc.wantRoles[i] {
					t.Errorf("message %d role = %q, want %q", i, m.Role, tc.wantRoles[i])
				}
			}
			if last := p.Messages[len(p.Messages)-1]; last.ContentString() != "and now?" {
				t.Errorf("last message = %q", last.ContentString())
			}
		})
	}
}

func TestConvertTurn(t *testing.T) {
	t.Parallel()
	got := convertTurn(assist.Turn{Role: assist.RoleModel, Text: "Hi there!"})
	if got.Role != "assistant" || got.ContentString() != "Hi there!" {
		t.Errorf("convertTurn = %q %q", got.Role, got.ContentString())
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, provider, model string
	}{
		{"empty provider", "", "gpt-4o"},
		{"empty model", "openai", ""},
		{"unknown provider", "cohere", "command-r"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.provider, tc.model); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestTool_OnlyChat(t *testing.T) {
	t.Parallel()
	b := &Backend{provider: "ollama", model: "llama3.2"}
	if _, err := b.Tool(assist.KindChat); err != nil {
		t.Errorf("Tool(chat): %v", err)
	}
	if _, err := b.Tool(assist.KindImage); !errors.Is(err, assist.ErrUnsupported) {
		t.Errorf("Tool(image) = %v, want ErrUnsupported", err)
	}
	if b.Name() != "anyllm/ollama" {
		t.Errorf("Name = %q", b.Name())
	}
}
