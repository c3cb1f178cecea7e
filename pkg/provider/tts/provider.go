// Package tts defines the Provider interface for Text-to-Speech backends.
//
// A TTS provider wraps a speech synthesis service (ElevenLabs, the OpenAI
// speech endpoint, a Coqui server or a local Piper binary) and presents a
// uniform streaming interface. One call synthesizes one text fragment,
// typically a single sentence of the interviewer's reply, and returns a
// channel of 16-bit mono PCM frames at the provider's configured output rate.
//
// Implementations must be safe for concurrent use.
package tts

import "context"

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts text into speech. The returned channel emits raw
	// PCM16 mono frames as they become available and is closed when synthesis
	// is complete, when it fails, or when ctx is cancelled. The caller must
	// drain the channel to avoid blocking the provider's goroutines.
	//
	// A non-nil error is returned only if synthesis cannot be started.
	// Failures mid-stream close the channel early; a channel that closes
	// without emitting any frame means the provider produced no audio.
	Synthesize(ctx context.Context, text string, voice VoiceProfile) (<-chan []byte, error)
}
