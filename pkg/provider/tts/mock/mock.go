// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to feed controlled audio frames to consumers and to verify the
// text fragments and voice passed to the TTS backend.
//
// Example:
//
//	p := &mock.Provider{Frames: [][]byte{[]byte("audio1"), []byte("audio2")}}
//	ch, _ := p.Synthesize(ctx, "Tell me about yourself.", voice)
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/intervox/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	// Ctx is the context passed to Synthesize.
	Ctx context.Context
	// Text is the fragment passed to Synthesize.
	Text string
	// Voice is the VoiceProfile passed to Synthesize.
	Voice tts.VoiceProfile
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// Frames is the sequence of audio frames emitted for every call.
	Frames [][]byte

	// Err, if non-nil, is returned from Synthesize instead of a channel.
	Err error

	// FailOnCall, when > 0, makes the call with that 1-based index return Err
	// (or an empty stream when Err is nil) while all other calls succeed.
	FailOnCall int

	// Block makes the returned channel stay open without frames until the
	// context is cancelled.
	Block bool

	// Stall keeps the channel open after Frames were sent until the context
	// is cancelled.
	Stall bool

	// --- Call records ---

	// Calls records every call to Synthesize in order.
	Calls []SynthesizeCall
}

// Synthesize records the call and returns a channel that emits Frames then
// closes.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	p.mu.Lock()
	p.Calls = append(p.Calls, SynthesizeCall{Ctx: ctx, Text: text, Voice: voice})
	n := len(p.Calls)
	failing := p.FailOnCall == 0 || p.FailOnCall == n
	if p.Err != nil && failing {
		err := p.Err
		p.mu.Unlock()
		return nil, err
	}
	var frames [][]byte
	if p.FailOnCall == 0 || p.FailOnCall != n {
		frames = make([][]byte, len(p.Frames))
		copy(frames, p.Frames)
	}
	block, stall := p.Block, p.Stall
	p.mu.Unlock()

	ch := make(chan []byte, len(frames))
	go func() {
		defer close(ch)
		if block {
			<-ctx.Done()
			return
		}
		for _, f := range frames {
			select {
			case <-ctx.Done():
				return
			case ch <- f:
			}
		}
		if stall {
			<-ctx.Done()
		}
	}()
	return ch, nil
}

// Texts returns the fragments passed to Synthesize in call order.
func (p *Provider) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// CallCount returns the number of Synthesize calls. Thread-safe.
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

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
