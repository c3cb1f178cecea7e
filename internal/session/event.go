package session

import (
	"context"

	"github.com/MrWong99/intervox/internal/interview"
)

// InboundKind identifies a client message.
type InboundKind int

const (
	// InboundAudio carries one encoded audio chunk.
	InboundAudio InboundKind = iota
	// InboundStartUtterance discards buffered audio and starts a new utterance.
	InboundStartUtterance
	// InboundEndUtterance finalises the buffered utterance.
	InboundEndUtterance
)

// Inbound is one message from the client, delivered by the transport's
// reader goroutine.
type Inbound struct {
	Kind  InboundKind
	Audio []byte
}

// EventType names an outbound text event.
type EventType string

const (
	EventSession    EventType = "session"
	EventGreeting   EventType = "greeting"
	EventTranscript EventType = "transcript"
	EventAudioStart EventType = "audio-start"
	EventAudioEnd   EventType = "audio-end"
	EventRetry      EventType = "retry"
	EventClosing    EventType = "closing"
	EventError      EventType = "error"
	EventState      EventType = "state"
)

// Retry and error reasons sent to the client.
const (
	ReasonNoAudio        = "no_audio"
	ReasonDecodeError    = "decode_error"
	ReasonNoSpeech       = "no_speech"
	ReasonSTTUnavailable = "stt_unavailable"
	ReasonTTSUnavailable = "tts_unavailable"
	ReasonLLMUnavailable = "llm_unavailable"
)

// Event is an outbound JSON message. Only the fields relevant to Type are
// set.
type Event struct {
	Type       EventType         `json:"type"`
	SessionID  string            `json:"session_id,omitempty"`
	SampleRate int               `json:"sample_rate,omitempty"`
	Speaker    interview.Speaker `json:"speaker,omitempty"`
	Text       string            `json:"text,omitempty"`
	Seq        int               `json:"seq,omitempty"`
	Audio      bool              `json:"audio,omitempty"`
	Partial    bool              `json:"partial,omitempty"`
	Reason     string            `json:"reason,omitempty"`
	Message    string            `json:"message,omitempty"`
	Fatal      bool              `json:"fatal,omitempty"`
	State      State             `json:"state,omitempty"`
}

// Sink delivers outbound messages to the client. Audio frames are PCM16 mono
// at the session's output sample rate. A Sink is only used by the session's
// own goroutine.
type Sink interface {
	Send(ctx context.Context, ev Event) error
	SendAudio(ctx context.Context, frame []byte) error
}
