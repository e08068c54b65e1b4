package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/MrWong99/heroai/pkg/provider/assist"
	"github.com/MrWong99/heroai/pkg/provider/assist/mock"
)

func TestToolFallback_PrimarySuccess(t *testing.T) {
	t.Parallel()
	primary := &mock.Tool{Result: assist.Result{Text: "from gemini"}}
	secondary := &mock.Tool{Result: assist.Result{Text: "from openai"}}

	fb := NewToolFallback(assist.KindChat, primary, "gemini", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	res, err := fb.Request(context.Background(), assist.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if res.Text != "from gemini" || res.Backend != "gemini" {
		t.Errorf("result = %+v", res)
	}
	if secondary.CallCount() != 0 {
		t.Error("secondary called although primary succeeded")
	}
}

func TestToolFallback_Failover(t *testing.T) {
	t.Parallel()
	primary := &mock.Tool{Err: errors.New("503 unavailable")}
	secondary := &mock.Tool{Result: assist.Result{Text: "from openai"}}

	fb := NewToolFallback(assist.KindChat, primary, "gemini", FallbackConfig{})
	fb.AddFallback("openai", secondary)

	res, err := fb.Request(context.Background(), assist.Request{Prompt: "hi"})
	if err != nil {
		t.Fatalf("Request: %v", err)
	}
	if res.Backend != "openai" {
		t.Errorf("Backend = %q, want openai", res.Backend)
	}
	if got := secondary.Calls[0].Req.Prompt; got != "hi" {
		t.Errorf("forwarded prompt = %q", got)
	}
}

func TestToolFallback_InvalidRequestIsNotRetried(t *testing.T) {
	t.Parallel()
	primary := &mock.Tool{Err: fmt.Errorf("genai: %w: no image", assist.ErrInvalidRequest)}
	secondary := &mock.Tool{}

	fb := NewToolFallback(assist.KindEdit, primary, "gemini", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1},
	})
	fb.AddFallback("other", secondary)

	for range 3 {
		_, err := fb.Request(context.Background(), assist.Request{})
		if !errors.Is(err, assist.ErrInvalidRequest) {
			t.Fatalf("err = %v, want ErrInvalidRequest", err)
		}
		if errors.Is(err, ErrAllFailed) {
			t.Fatal("invalid request reported as ErrAllFailed")
		}
	}
	if secondary.CallCount() != 0 {
		t.Error("invalid request forwarded to fallback")
	}
	if got := fb.States()["gemini"]; got != StateClosed {
		t.Errorf("primary breaker = %v, want closed", got)
	}
}

func TestToolFallback_BreakerOpensOnRepeatedFailures(t *testing.T) {
	t.Parallel()
	primary := &mock.Tool{Err: errors.New("timeout")}
	secondary := &mock.Tool{Result: assist.Result{Text: "ok"}}

	fb := NewToolFallback(assist.KindThink, primary, "gemini", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 2, ResetTimeout: time.Hour},
	})
	fb.AddFallback("openai", secondary)

	for range 4 {
		if _, err := fb.Request(context.Background(), assist.Request{Prompt: "why"}); err != nil {
			t.Fatalf("Request: %v", err)
		}
	}
	if got := primary.CallCount(); got != 2 {
		t.Errorf("primary calls = %d, want 2 before the breaker opened", got)
	}
	if got := fb.States()["gemini"]; got != StateOpen {
		t.Errorf("primary breaker = %v, want open", got)
	}
}

func TestToolFallback_AllFail(t *testing.T) {
	t.Parallel()
	fb := NewToolFallback(assist.KindImage, &mock.Tool{Err: errors.New("quota")}, "gemini", FallbackConfig{})
	fb.AddFallback("none", &mock.Tool{Err: assist.ErrUnsupported})

	_, err := fb.Request(context.Background(), assist.Request{Prompt: "cat"})
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
	if fb.Kind() != assist.KindImage || len(fb.Backends()) != 2 {
		t.Errorf("Kind = %s, Backends = %v", fb.Kind(), fb.Backends())
	}
}
