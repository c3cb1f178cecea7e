// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a recognition service (a local whisper.cpp server, the
// OpenAI transcription API, Deepgram, or a local command) and exposes a uniform
// batch interface: one call transcribes one complete utterance of 16-bit mono
// PCM audio.
//
// Providers distinguish two failure classes. Errors wrapping [ErrRejected]
// mean the service understood the request and refused it (bad audio format,
// invalid credentials, payload too large); retrying the same request will not
// help. Every other error is treated as transient by callers.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"errors"
	"fmt"
)

// ErrRejected marks an explicit, non-retryable refusal by the remote service.
var ErrRejected = errors.New("stt: request rejected")

// Rejected wraps err so that errors.Is(err, ErrRejected) reports true.
func Rejected(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrRejected, fmt.Sprintf(format, args...))
}

// Request describes one utterance to transcribe.
type Request struct {
	// PCM is 16-bit signed little-endian mono audio.
	PCM []byte

	// SampleRate is the PCM sample rate in Hz (typically 16000).
	SampleRate int

	// Language is the BCP-47 language tag for recognition (e.g., "en", "de-DE").
	// An empty string lets the provider auto-detect the language, if supported.
	Language string

	// Keywords is a list of vocabulary hints (candidate name, technologies from
	// the job description). Providers without keyword support ignore it.
	Keywords []string
}

// Transcript is the recognition result for one utterance.
type Transcript struct {
	// Text is the recognized speech. Empty when the provider heard nothing.
	Text string

	// Confidence is the overall confidence score (0.0–1.0). Zero when the
	// provider does not report confidence.
	Confidence float64

	// Language is the detected or requested language, when known.
	Language string
}

// Provider is the abstraction over any STT backend.
type Provider interface {
	// Transcribe recognizes the speech contained in req. It returns an empty
	// Transcript (and nil error) when the audio contains no speech.
	Transcribe(ctx context.Context, req Request) (Transcript, error)
}
