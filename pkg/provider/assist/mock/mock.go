// Package mock provides a test double for the assist.Tool interface.
//
// Example:
//
//	tool := &mock.Tool{Result: assist.Result{Text: "Hello!"}}
//	res, err := tool.Request(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/heroai/pkg/provider/assist"
)

// Call records a single invocation of Request.
type Call struct {
	Ctx context.Context
	Req assist.Request
}

// Tool is a mock implementation of assist.Tool.
type Tool struct {
	mu sync.Mutex

	// Result is returned by Request when Err is nil.
	Result assist.Result

	// Err, if non-nil, is returned by Request.
	Err error

	// Block, if non-nil, makes Request wait until it is closed or ctx ends.
	Block chan struct{}

	// Calls records every invocation of Request in order.
	Calls []Call
}

// Request records the call and returns Result, Err.
func (t *Tool) Request(ctx context.Context, req assist.Request) (assist.Result, error) {
	t.mu.Lock()
	t.Calls = append(t.Calls, Call{Ctx: ctx, Req: req})
	block := t.Block
	t.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return assist.Result{}, ctx.Err()
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Err != nil {
		return assist.Result{}, t.Err
	}
	return t.Result, nil
}

// CallCount returns the number of Request calls. Thread-safe.
func (t *Tool) CallCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.Calls)
}

// SetErr replaces Err. Thread-safe.
func (t *Tool) SetErr(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Err = err
}

// Reset clears all recorded calls. Thread-safe.
func (t *Tool) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.Calls = nil
}

var _ assist.Tool = (*Tool)(nil)
