// Package anyllm provides a chat tool backed by
// github.com/mozilla-ai/any-llm-go, a unified multi-provider interface that
// supports OpenAI, Anthropic, Gemini, Ollama, DeepSeek, Mistral, Groq, and more.
//
// It lets the chat tool fall back to any hosted or local model when Gemini is
// unavailable:
//
//	b, err := anyllm.New("ollama", "llama3.2")
//	b, err := anyllm.New("anthropic", "claude-3-5-haiku-latest", anyllmlib.WithAPIKey("sk-ant-..."))
package anyllm

import (
	"context"
	"fmt"
	"strings"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/mozilla-ai/any-llm-go/providers/anthropic"
	"github.com/mozilla-ai/any-llm-go/providers/deepseek"
	"github.com/mozilla-ai/any-llm-go/providers/gemini"
	"github.com/mozilla-ai/any-llm-go/providers/groq"
	"github.com/mozilla-ai/any-llm-go/providers/llamacpp"
	"github.com/mozilla-ai/any-llm-go/providers/llamafile"
	"github.com/mozilla-ai/any-llm-go/providers/mistral"
	"github.com/mozilla-ai/any-llm-go/providers/ollama"
	anyllmoai "github.com/mozilla-ai/any-llm-go/providers/openai"

	"github.com/MrWong99/heroai/pkg/provider/assist"
)

// Providers lists the accepted provider names.
var Providers = []string{"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp", "llamafile"}

const (
	roleUser      = "user"
	roleAssistant = "assistant"
)

// Backend implements the chat kind through any-llm-go.
type Backend struct {
	backend     anyllmlib.Provider
	provider    string
	model       string
	instruction string
}

// New creates a Backend for providerName and model.
//
// opts are any-llm-go configuration options (e.g., anyllmlib.WithAPIKey,
// anyllmlib.WithBaseURL). Without an API key option the backend falls back to
// the provider's environment variable (OPENAI_API_KEY, ANTHROPIC_API_KEY, ...).
func New(providerName, model string, opts ...anyllmlib.Option) (*Backend, error) {
	if providerName == "" {
		return nil, fmt.Errorf("anyllm: providerName must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("anyllm: model must not be empty")
	}

	backend, err := createBackend(providerName, opts...)
	if err != nil {
		return nil, fmt.Errorf("anyllm: create %q backend: %w", providerName, err)
	}
	return &Backend{
		backend:  backend,
		provider: strings.ToLower(providerName),
		model:    model,
	}, nil
}

// WithInstruction sets the system message sent with every chat request and
// returns b.
func (b *Backend) WithInstruction(s string) *Backend {
	b.instruction = s
	return b
}

// Name returns "anyllm/<provider>".
func (b *Backend) Name() string { return "anyllm/" + b.provider }

func createBackend(providerName string, opts ...anyllmlib.Option) (anyllmlib.Provider, error) {
	switch strings.ToLower(providerName) {
	case "openai":
		return anyllmoai.New(opts...)
	case "anthropic":
		return anthropic.New(opts...)
	case "gemini":
		return gemini.New(opts...)
	case "ollama":
		return ollama.New(opts...)
	case "deepseek":
		return deepseek.New(opts...)
	case "mistral":
		return mistral.New(opts...)
	case "groq":
		return groq.New(opts...)
	case "llamacpp":
		return llamacpp.New(opts...)
	case "llamafile":
		return llamafile.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported provider %q; supported: %s", providerName, strings.Join(Providers, ", "))
	}
}

// Tool returns the chat tool. Other kinds return [assist.ErrUnsupported].
func (b *Backend) Tool(kind assist.Kind) (assist.Tool, error) {
	if kind != assist.KindChat {
		return nil, fmt.Errorf("anyllm: %w: %s", assist.ErrUnsupported, kind)
	}
	return assist.Func(b.Chat), nil
}

// Chat answers req.Prompt in the context of req.History.
func (b *Backend) Chat(ctx context.Context, req assist.Request) (assist.Result, error) {
	resp, err := b.backend.Completion(ctx, buildParams(b.model, b.instruction, req))
	if err != nil {
		return assist.Result{}, fmt.Errorf("anyllm: completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return assist.Result{}, fmt.Errorf("anyllm: empty choices: %w", assist.ErrNoOutput)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.ContentString())
	if text == "" {
		return assist.Result{}, fmt.Errorf("anyllm: empty content: %w", assist.ErrNoOutput)
	}
	res := assist.Result{Text: text, Model: b.model}
	if resp.Usage != nil {
		res.Usage = assist.Usage{
			PromptTokens: resp.Usage.PromptTokens,
			OutputTokens: resp.Usage.CompletionTokens,
		}
	}
	return res, nil
}

// buildParams converts a chat request into anyllm CompletionParams.
func buildParams(model, instruction string, req assist.Request) anyllmlib.CompletionParams {
	messages := make([]anyllmlib.Message, 0, len(req.History)+2)
	if instruction != "" {
		messages = append(messages, anyllmlib.Message{
			Role:    anyllmlib.RoleSystem,
			Content: instruction,
		})
	}
	for _, t := range req.History {
		messages = append(messages, convertTurn(t))
	}
	messages = append(messages, anyllmlib.Message{Role: roleUser, Content: req.Prompt})

	return anyllmlib.CompletionParams{
		Model:    model,
		Messages: messages,
	}
}

func convertTurn(t assist.Turn) anyllmlib.Message {
	role := roleUser
	if t.Role == assist.RoleModel {
		role = roleAssistant
	}
	return anyllmlib.Message{Role: role, Content: t.Text}
}
