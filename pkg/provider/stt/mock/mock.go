// Package mock provides a test double for the stt.Provider interface.
//
// Configure the returned values with the exported fields. Results, when set,
// are consumed one per call so tests can script a sequence of outcomes (for
// example a transient failure followed by a success).
//
// Example:
//
//	p := &mock.Provider{Results: []mock.Result{
//	    {Err: errors.New("connection reset")},
//	    {Transcript: stt.Transcript{Text: "hello"}},
//	}}
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/intervox/pkg/provider/stt"
)

// Result is one scripted Transcribe outcome.
type Result struct {
	Transcript stt.Transcript
	Err        error
}

// TranscribeCall records a single invocation of Provider.Transcribe.
type TranscribeCall struct {
	Ctx context.Context
	Req stt.Request
}

// Provider is a mock implementation of stt.Provider.
type Provider struct {
	mu sync.Mutex

	// Results are returned in order, one per call. When exhausted, Transcript
	// and Err are returned.
	Results []Result

	// Transcript is the default transcript returned by Transcribe.
	Transcript stt.Transcript

	// Err is the default error returned by Transcribe.
	Err error

	// Block, when true, makes Transcribe wait for ctx to be done and return
	// ctx.Err(). Useful for timeout tests.
	Block bool

	// Calls records every call to Transcribe.
	Calls []TranscribeCall
}

// Transcribe records the call and returns the next scripted result.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	p.mu.Lock()
	req.PCM = append([]byte(nil), req.PCM...)
	p.Calls = append(p.Calls, TranscribeCall{Ctx: ctx, Req: req})
	block := p.Block
	var res Result
	if len(p.Results) > 0 {
		res = p.Results[0]
		p.Results = p.Results[1:]
	} else {
		res = Result{Transcript: p.Transcript, Err: p.Err}
	}
	p.mu.Unlock()

	if block {
		<-ctx.Done()
		return stt.Transcript{}, ctx.Err()
	}
	return res.Transcript, res.Err
}

// CallCount returns the number of Transcribe calls. Thread-safe.
func (p *Provider) CallCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.Calls)
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Calls = nil
}

var _ stt.Provider = (*Provider)(nil)
