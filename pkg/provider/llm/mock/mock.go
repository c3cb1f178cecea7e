// Package mock provides a test double for the llm.Provider interface.
//
// Use Provider in unit tests to verify the CompletionRequests built by the
// dialogue engine and the evaluator, and to feed controlled responses without
// a live LLM backend.
//
// Example:
//
//	p := &mock.Provider{Responses: []mock.Response{{Content: "Tell me about Go."}}}
//	resp, err := p.Complete(ctx, req)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/intervox/pkg/provider/llm"
)

// CompleteCall records a single invocation of Complete.
type CompleteCall struct {
	// Ctx is the context passed to Complete.
	Ctx context.Context
	// Req is the CompletionRequest passed to Complete.
	Req llm.CompletionRequest
}

// Response is one scripted result of Complete.
type Response struct {
	Content string
	Err     error
}

// Provider is a mock implementation of llm.Provider.
//
// Responses are consumed in order, one per call. Once exhausted, Content and
// Err are returned for every further call.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Responses is consumed front to back, one entry per call.
	Responses []Response

	// Content is returned once Responses is exhausted.
	Content string

	// Err, if non-nil, is returned once Responses is exhausted.
	Err error

	// Block makes Complete wait for context cancellation and return its error.
	Block bool

	// --- Call records ---

	// Calls records every call to Complete in order.
	Calls []CompleteCall
}

// Complete records the call and returns the next scripted response.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, CompleteCall{Ctx: ctx, Req: req})
	content, err := p.Content, p.Err
	if len(p.Responses) > 0 {
		content, err = p.Responses[0].Content, p.Responses[0].Err
		p.Responses = p.Responses[1:]
	}
	block := p.Block
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err != nil {
		return nil, err
	}
	return &llm.CompletionResponse{Content: content}, nil
}

// CallCount returns the number of Complete calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// LastRequest returns the request of the most recent call. Thread-safe.
func (p *Provider) LastRequest() (llm.CompletionRequest, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return llm.CompletionRequest{}, false
	}
	return p.Calls[len(p.Calls)-1].Req, true
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

// Ensure Provider implements llm.Provider at compile time.
var _ llm.Provider = (*Provider)(nil)
