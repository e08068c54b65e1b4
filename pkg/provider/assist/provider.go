// Package assist defines the Tool interface for the single-shot helpers that
// sit next to the live voice session: chat, deep reasoning, image generation,
// image editing and audio transcription.
//
// Every helper is a request/response call against a hosted model. None of
// them stream and none of them share state with the live session.
//
// Implementations must be safe for concurrent use.
package assist

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind names a tool.
type Kind string

const (
	// KindChat is a conversational turn with history.
	KindChat Kind = "chat"

	// KindThink is a single prompt answered with an extended reasoning budget.
	KindThink Kind = "think"

	// KindImage generates one image from a prompt.
	KindImage Kind = "image"

	// KindEdit edits one input image according to a prompt.
	KindEdit Kind = "edit"

	// KindTranscribe transcribes one audio clip.
	KindTranscribe Kind = "transcribe"
)

// Kinds lists every tool kind in display order.
var Kinds = []Kind{KindChat, KindThink, KindImage, KindEdit, KindTranscribe}

// ParseKind returns the Kind named s.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if string(k) == strings.ToLower(s) {
			return k, nil
		}
	}
	return "", fmt.Errorf("assist: unknown tool %q", s)
}

var (
	// ErrInvalidRequest is wrapped by errors caused by the request itself. They
	// are never retried on a fallback.
	ErrInvalidRequest = errors.New("assist: invalid request")

	// ErrUnsupported is returned by a backend that does not implement the
	// requested kind.
	ErrUnsupported = errors.New("assist: tool not supported by backend")

	// ErrNoOutput is returned when the model answered without the expected
	// text or media.
	ErrNoOutput = errors.New("assist: model returned no output")
)

// Role is the author of a chat [Turn].
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one earlier message of a chat.
type Turn struct {
	Role Role   `json:"role"`
	Text string `json:"text"`
}

// Media is an inline binary attachment. Data is base64 in JSON.
type Media struct {
	MIMEType string `json:"mime_type"`
	Data     []byte `json:"data"`
}

// Request is the input of a tool call. Which fields are required depends on
// the [Kind]; see [Validate].
type Request struct {
	// Prompt is the user's text.
	Prompt string `json:"prompt,omitempty"`

	// History holds the earlier turns of a chat, oldest first.
	History []Turn `json:"history,omitempty"`

	// Media holds the image to edit or the audio to transcribe.
	Media []Media `json:"media,omitempty"`
}

// Usage is token accounting reported by the backend, when available.
type Usage struct {
	PromptTokens   int `json:"prompt_tokens"`
	OutputTokens   int `json:"output_tokens"`
	ThoughtsTokens int `json:"thoughts_tokens,omitempty"`
}

// Result is the output of a tool call.
type Result struct {
	// Text is the answer or transcript.
	Text string `json:"text,omitempty"`

	// Thoughts is the model's reasoning summary, for think requests that
	// expose it.
	Thoughts string `json:"thoughts,omitempty"`

	// Media holds generated or edited images.
	Media []Media `json:"media,omitempty"`

	// Backend is the name of the backend that served the request.
	Backend string `json:"backend,omitempty"`

	// Model is the model that produced the result.
	Model string `json:"model,omitempty"`

	Usage Usage `json:"usage"`
}

// Tool is a single-shot helper.
type Tool interface {
	// Request runs one call. Errors caused by the request wrap
	// [ErrInvalidRequest]; a backend that cannot serve the kind returns
	// [ErrUnsupported].
	Request(ctx context.Context, req Request) (Result, error)
}

// Backend is a hosted model service that implements some or all kinds.
type Backend interface {
	// Tool returns the tool for kind, or an error wrapping [ErrUnsupported].
	Tool(kind Kind) (Tool, error)
}

// Func adapts a plain function to [Tool].
type Func func(ctx context.Context, req Request) (Result, error)

// Request implements [Tool].
func (f Func) Request(ctx context.Context, req Request) (Result, error) { return f(ctx, req) }

// Validate checks that req carries what kind needs.
func Validate(kind Kind, req Request) error {
	prompt := strings.TrimSpace(req.Prompt)
	switch kind {
	case KindChat, KindThink, KindImage:
		if prompt == "" {
			return fmt.Errorf("%w: %s needs a prompt", ErrInvalidRequest, kind)
		}
	case KindEdit:
		if prompt == "" {
			return fmt.Errorf("%w: edit needs a prompt", ErrInvalidRequest)
		}
		if len(req.Media) != 1 || !strings.HasPrefix(req.Media[0].MIMEType, "image/") {
			return fmt.Errorf("%w: edit needs exactly one image", ErrInvalidRequest)
		}
	case KindTranscribe:
		if len(req.Media) != 1 || !strings.HasPrefix(req.Media[0].MIMEType, "audio/") {
			return fmt.Errorf("%w: transcribe needs exactly one audio clip", ErrInvalidRequest)
		}
	default:
		return fmt.Errorf("%w: unknown tool %q", ErrInvalidRequest, kind)
	}
	for _, m := range req.Media {
		if len(m.Data) == 0 {
			return fmt.Errorf("%w: empty %s attachment", ErrInvalidRequest, m.MIMEType)
		}
	}
	for _, t := range req.History {
		if t.Role != RoleUser && t.Role != RoleModel {
			return fmt.Errorf("%w: unknown history role %q", ErrInvalidRequest, t.Role)
		}
	}
	return nil
}
