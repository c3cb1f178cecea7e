package resilience

import (
	"context"

	"github.com/MrWong99/intervox/pkg/provider/llm"
	"github.com/MrWong99/intervox/pkg/provider/stt"
	"github.com/MrWong99/intervox/pkg/provider/tts"
)

// STTFallback implements [stt.Provider] with failover across STT backends.
type STTFallback struct {
	*FallbackGroup[stt.Provider]
}

var _ stt.Provider = (*STTFallback)(nil)

// NewSTTFallback creates an [STTFallback] with primary as the preferred backend.
func NewSTTFallback(primary stt.Provider, primaryName string, cfg FallbackConfig) *STTFallback {
	return &STTFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Transcribe sends the utterance to the first healthy provider.
func (f *STTFallback) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p stt.Provider) (stt.Transcript, error) {
		return p.Transcribe(ctx, req)
	})
}

// TTSFallback implements [tts.Provider] with failover across TTS backends.
// Only stream setup is covered; a stream that fails after it started is the
// caller's concern.
type TTSFallback struct {
	*FallbackGroup[tts.Provider]
}

var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Synthesize starts synthesis on the first healthy provider.
func (f *TTSFallback) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p tts.Provider) (<-chan []byte, error) {
		return p.Synthesize(ctx, text, voice)
	})
}

// LLMFallback implements [llm.Provider] with failover across LLM backends.
type LLMFallback struct {
	*FallbackGroup[llm.Provider]
}

var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{NewFallbackGroup(primary, primaryName, cfg)}
}

// Complete sends the request to the first healthy provider.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ExecuteWithResult(ctx, f.FallbackGroup, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}
