// Package openai provides chat and think tools backed by the OpenAI Chat
// Completions API. It is used as a fallback for the Gemini text tools.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/MrWong99/heroai/pkg/provider/assist"
)

// DefaultThinkModel is the reasoning model used when none is configured.
const DefaultThinkModel = "o3-mini"

// Backend implements the chat and think kinds on the OpenAI API.
type Backend struct {
	client      oai.Client
	model       string
	thinkModel  string
	instruction string
}

type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	thinkModel   string
	instruction  string
}

// Option is a functional option for Backend.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithThinkModel sets the reasoning model used by think requests.
func WithThinkModel(model string) Option {
	return func(c *config) { c.thinkModel = model }
}

// WithInstruction sets the system message sent with chat requests.
func WithInstruction(s string) Option {
	return func(c *config) { c.instruction = s }
}

// New constructs a Backend. model serves chat requests.
func New(apiKey, model string, opts ...Option) (*Backend, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: apiKey must not be empty")
	}
	if model == "" {
		return nil, fmt.Errorf("openai: model must not be empty")
	}

	cfg := &config{thinkModel: DefaultThinkModel}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{
			Timeout: cfg.timeout,
		}))
	}

	return &Backend{
		client:      oai.NewClient(reqOpts...),
		model:       model,
		thinkModel:  cfg.thinkModel,
		instruction: cfg.instruction,
	}, nil
}

// Tool returns the [assist.Tool] serving kind. Only chat and think are
// available; other kinds return [assist.ErrUnsupported].
func (b *Backend) Tool(kind assist.Kind) (assist.Tool, error) {
	switch kind {
	case assist.KindChat:
		return assist.Func(b.Chat), nil
	case assist.KindThink:
		return assist.Func(b.Think), nil
	default:
		return nil, fmt.Errorf("openai: %w: %s", assist.ErrUnsupported, kind)
	}
}

// Chat answers req.Prompt in the context of req.History.
func (b *Backend) Chat(ctx context.Context, req assist.Request) (assist.Result, error) {
	params := buildParams(b.model, b.instruction, req)
	return b.complete(ctx, params)
}

// Think answers req.Prompt on the reasoning model with high effort. OpenAI
// does not expose the reasoning text, so Result.Thoughts stays empty.
func (b *Backend) Think(ctx context.Context, req assist.Request) (assist.Result, error) {
	params := buildParams(b.thinkModel, "", assist.Request{Prompt: req.Prompt})
	params.ReasoningEffort = shared.ReasoningEffortHigh
	return b.complete(ctx, params)
}

func (b *Backend) complete(ctx context.Context, params oai.ChatCompletionNewParams) (assist.Result, error) {
	resp, err := b.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return assist.Result{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return assist.Result{}, fmt.Errorf("openai: empty choices: %w", assist.ErrNoOutput)
	}
	text := strings.TrimSpace(resp.Choices[0].Message.Content)
	if text == "" {
		return assist.Result{}, fmt.Errorf("openai: empty content: %w", assist.ErrNoOutput)
	}
	return assist.Result{
		Text:  text,
		Model: resp.Model,
		Usage: assist.Usage{
			PromptTokens:   int(resp.Usage.PromptTokens),
			OutputTokens:   int(resp.Usage.CompletionTokens),
			ThoughtsTokens: int(resp.Usage.CompletionTokensDetails.ReasoningTokens),
		},
	}, nil
}

// buildParams converts a chat request into OpenAI SDK params.
func buildParams(model, instruction string, req assist.Request) oai.ChatCompletionNewParams {
	messages := make([]oai.ChatCompletionMessageParamUnion, 0, len(req.History)+2)
	if instruction != "" {
		messages = append(messages, oai.SystemMessage(instruction))
	}
	for _, t := range req.History {
		messages = append(messages, convertTurn(t))
	}
	messages = append(messages, oai.UserMessage(req.Prompt))

	return oai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: messages,
	}
}

// convertTurn maps a history turn to a user or assistant message.
func convertTurn(t assist.Turn) oai.ChatCompletionMessageParamUnion {
	if t.Role == assist.RoleModel {
		asst := oai.ChatCompletionAssistantMessageParam{}
		asst.Content.OfString = oai.String(t.Text)
		return oai.ChatCompletionMessageParamUnion{OfAssistant: &asst}
	}
	return oai.UserMessage(t.Text)
}
