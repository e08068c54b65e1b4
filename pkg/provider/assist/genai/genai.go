// Package genai implements the assist tools on the Google Gen AI SDK
// (google.golang.org/genai). It is the primary backend for every tool kind.
package genai

import (
	"context"
	"fmt"
	"strings"
	"sync"

	sdk "google.golang.org/genai"

	"github.com/MrWong99/heroai/pkg/provider/assist"
)

// Default models and prompts per tool.
const (
	ChatModel       = "gemini-2.5-flash"
	ThinkModel      = "gemini-2.5-pro"
	ImageModel      = "imagen-4.0-generate-001"
	EditModel       = "gemini-2.5-flash-image"
	TranscribeModel = "gemini-2.5-flash"

	ChatInstruction  = "You are HEROAI, a helpful and friendly AI assistant. Be concise but informative."
	TranscribePrompt = "Transcribe the following audio:"

	// ThinkingBudget is the reasoning token budget of think requests.
	ThinkingBudget = 32768
)

// modelsAPI is the subset of *sdk.Models the backend uses.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*sdk.Content, config *sdk.GenerateContentConfig) (*sdk.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model, prompt string, config *sdk.GenerateImagesConfig) (*sdk.GenerateImagesResponse, error)
}

// Option is a functional option for configuring a Backend.
type Option func(*Backend)

// WithModel overrides the model used for kind.
func WithModel(kind assist.Kind, model string) Option {
	return func(b *Backend) {
		if model != "" {
			b.models[kind] = model
		}
	}
}

// WithBaseURL overrides the Gen AI API endpoint.
func WithBaseURL(url string) Option {
	return func(b *Backend) { b.baseURL = url }
}

// WithChatInstruction replaces the chat system instruction.
func WithChatInstruction(s string) Option {
	return func(b *Backend) { b.instruction = s }
}

// Backend serves all five tool kinds through the Gemini Developer API.
type Backend struct {
	apiKey      string
	baseURL     string
	instruction string
	models      map[assist.Kind]string

	once    sync.Once
	api     modelsAPI
	initErr error
}

// New creates a Backend. The SDK client is created lazily on first use.
func New(apiKey string, opts ...Option) *Backend {
	b := &Backend{
		apiKey:      apiKey,
		instruction: ChatInstruction,
		models: map[assist.Kind]string{
			assist.KindChat:       ChatModel,
			assist.KindThink:      ThinkModel,
			assist.KindImage:      ImageModel,
			assist.KindEdit:       EditModel,
			assist.KindTranscribe: TranscribeModel,
		},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Backend) init(ctx context.Context) error {
	b.once.Do(func() {
		if b.api != nil {
			return
		}
		cc := &sdk.ClientConfig{
			APIKey:  b.apiKey,
			Backend: sdk.BackendGeminiAPI,
		}
		if b.baseURL != "" {
			cc.HTTPOptions = sdk.HTTPOptions{BaseURL: b.baseURL}
		}
		client, err := sdk.NewClient(ctx, cc)
		if err != nil {
			b.initErr = fmt.Errorf("genai: new client: %w", err)
			return
		}
		b.api = client.Models
	})
	return b.initErr
}

// Model returns the model used for kind.
func (b *Backend) Model(kind assist.Kind) string { return b.models[kind] }

// Tool returns the [assist.Tool] serving kind.
func (b *Backend) Tool(kind assist.Kind) (assist.Tool, error) {
	var fn assist.Func
	switch kind {
	case assist.KindChat:
		fn = b.Chat
	case assist.KindThink:
		fn = b.Think
	case assist.KindImage:
		fn = b.Image
	case assist.KindEdit:
		fn = b.Edit
	case assist.KindTranscribe:
		fn = b.Transcribe
	default:
		return nil, fmt.Errorf("genai: %w: %s", assist.ErrUnsupported, kind)
	}
	return fn, nil
}

// Chat answers req.Prompt in the context of req.History.
func (b *Backend) Chat(ctx context.Context, req assist.Request) (assist.Result, error) {
	if err := b.init(ctx); err != nil {
		return assist.Result{}, err
	}
	contents := make([]*sdk.Content, 0, len(req.History)+1)
	for _, t := range req.History {
		contents = append(contents, &sdk.Content{
			Role:  string(t.Role),
			Parts: []*sdk.Part{{Text: t.Text}},
		})
	}
	contents = append(contents, &sdk.Content{
		Role:  string(assist.RoleUser),
		Parts: []*sdk.Part{{Text: req.Prompt}},
	})

	cfg := &sdk.GenerateContentConfig{}
	if b.instruction != "" {
		cfg.SystemInstruction = &sdk.Content{Parts: []*sdk.Part{{Text: b.instruction}}}
	}
	return b.generateText(ctx, assist.KindChat, contents, cfg)
}

// Think answers req.Prompt with an extended reasoning budget and returns the
// model's thought summary alongside the answer.
func (b *Backend) Think(ctx context.Context, req assist.Request) (assist.Result, error) {
	if err := b.init(ctx); err != nil {
		return assist.Result{}, err
	}
	contents := []*sdk.Content{{
		Role:  string(assist.RoleUser),
		Parts: []*sdk.Part{{Text: req.Prompt}},
	}}
	cfg := &sdk.GenerateContentConfig{
		ThinkingConfig: &sdk.ThinkingConfig{
			ThinkingBudget:  sdk.Ptr[int32](ThinkingBudget),
			IncludeThoughts: true,
		},
	}
	return b.generateText(ctx, assist.KindThink, contents, cfg)
}

// Transcribe returns the transcript of the single audio clip in req.Media.
func (b *Backend) Transcribe(ctx context.Context, req assist.Request) (assist.Result, error) {
	if err := b.init(ctx); err != nil {
		return assist.Result{}, err
	}
	if len(req.Media) == 0 {
		return assist.Result{}, fmt.Errorf("genai: %w: no audio", assist.ErrInvalidRequest)
	}
	clip := req.Media[0]
	contents := []*sdk.Content{{
		Role: string(assist.RoleUser),
		Parts: []*sdk.Part{
			{Text: TranscribePrompt},
			{InlineData: &sdk.Blob{Data: clip.Data, MIMEType: clip.MIMEType}},
		},
	}}
	return b.generateText(ctx, assist.KindTranscribe, contents, nil)
}

// Image generates one square JPEG from req.Prompt.
func (b *Backend) Image(ctx context.Context, req assist.Request) (assist.Result, error) {
	if err := b.init(ctx); err != nil {
		return assist.Result{}, err
	}
	model := b.models[assist.KindImage]
	resp, err := b.api.GenerateImages(ctx, model, req.Prompt, &sdk.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: "image/jpeg",
		AspectRatio:    "1:1",
	})
	if err != nil {
		return assist.Result{}, fmt.Errorf("genai: generate image: %w", err)
	}
	res := assist.Result{Model: model}
	for _, gi := range resp.GeneratedImages {
		if gi == nil || gi.Image == nil || len(gi.Image.ImageBytes) == 0 {
			continue
		}
		mime := gi.Image.MIMEType
		if mime == "" {
			mime = "image/jpeg"
		}
		res.Media = append(res.Media, assist.Media{MIMEType: mime, Data: gi.Image.ImageBytes})
	}
	if len(res.Media) == 0 {
		return assist.Result{}, fmt.Errorf("genai: generate image: %w", assist.ErrNoOutput)
	}
	return res, nil
}

// Edit applies req.Prompt to the single image in req.Media.
func (b *Backend) Edit(ctx context.Context, req assist.Request) (assist.Result, error) {
	if err := b.init(ctx); err != nil {
		return assist.Result{}, err
	}
	if len(req.Media) == 0 {
		return assist.Result{}, fmt.Errorf("genai: %w: no image", assist.ErrInvalidRequest)
	}
	img := req.Media[0]
	model := b.models[assist.KindEdit]
	contents := []*sdk.Content{{
		Role: string(assist.RoleUser),
		Parts: []*sdk.Part{
			{InlineData: &sdk.Blob{Data: img.Data, MIMEType: img.MIMEType}},
			{Text: req.Prompt},
		},
	}}
	resp, err := b.api.GenerateContent(ctx, model, contents, &sdk.GenerateContentConfig{
		ResponseModalities: []string{string(sdk.ModalityImage)},
	})
	if err != nil {
		return assist.Result{}, fmt.Errorf("genai: edit image: %w", err)
	}

	res := assist.Result{Model: model, Usage: usage(resp)}
	for _, p := range firstParts(resp) {
		if p.InlineData == nil || len(p.InlineData.Data) == 0 {
			continue
		}
		mime := p.InlineData.MIMEType
		if mime == "" {
			mime = "image/png"
		}
		res.Media = append(res.Media, assist.Media{MIMEType: mime, Data: p.InlineData.Data})
		break
	}
	if len(res.Media) == 0 {
		return assist.Result{}, fmt.Errorf("genai: edit image: %w", assist.ErrNoOutput)
	}
	return res, nil
}

func (b *Backend) generateText(ctx context.Context, kind assist.Kind, contents []*sdk.Content, cfg *sdk.GenerateContentConfig) (assist.Result, error) {
	model := b.models[kind]
	resp, err := b.api.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return assist.Result{}, fmt.Errorf("genai: %s: %w", kind, err)
	}

	var text, thoughts strings.Builder
	for _, p := range firstParts(resp) {
		if p.Text == "" {
			continue
		}
		if p.Thought {
			thoughts.WriteString(p.Text)
		} else {
			text.WriteString(p.Text)
		}
	}
	if text.Len() == 0 {
		return assist.Result{}, fmt.Errorf("genai: %s: %w", kind, assist.ErrNoOutput)
	}
	return assist.Result{
		Text:     text.String(),
		Thoughts: thoughts.String(),
		Model:    model,
		Usage:    usage(resp),
	}, nil
}

func firstParts(resp *sdk.GenerateContentResponse) []*sdk.Part {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil || resp.Candidates[0].Content == nil {
		return nil
	}
	return resp.Candidates[0].Content.Parts
}

func usage(resp *sdk.GenerateContentResponse) assist.Usage {
	if resp == nil || resp.UsageMetadata == nil {
		return assist.Usage{}
	}
	u := resp.UsageMetadata
	return assist.Usage{
		PromptTokens:   int(u.PromptTokenCount),
		OutputTokens:   int(u.CandidatesTokenCount),
		ThoughtsTokens: int(u.ThoughtsTokenCount),
	}
}
