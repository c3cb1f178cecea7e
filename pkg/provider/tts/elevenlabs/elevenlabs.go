// Package elevenlabs provides an ElevenLabs-backed TTS provider using the
// ElevenLabs streaming WebSocket API. It implements the tts.Provider interface.
package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/intervox/pkg/provider/tts"
)

const (
	defaultEndpoint   = "wss://api.elevenlabs.io/v1/text-to-speech"
	defaultModel      = "eleven_flash_v2_5"
	defaultSampleRate = 16000
)

// supportedRates lists the pcm_* output formats offered by ElevenLabs.
var supportedRates = map[int]bool{8000: true, 16000: true, 22050: true, 24000: true, 44100: true}

var _ tts.Provider = (*Provider)(nil)

// Option is a functional option for configuring the ElevenLabs Provider.
type Option func(*Provider)

// WithModel sets the ElevenLabs model ID (e.g., "eleven_flash_v2_5").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithSampleRate selects the pcm_<rate> output format. Unsupported rates are
// rejected by New.
func WithSampleRate(rate int) Option {
	return func(p *Provider) {
		p.sampleRate = rate
	}
}

// WithEndpoint overrides the text-to-speech WebSocket base URL.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = strings.TrimRight(endpoint, "/")
	}
}

// Provider implements tts.Provider backed by the ElevenLabs streaming API.
type Provider struct {
	apiKey     string
	model      string
	sampleRate int
	endpoint   string
}

// New creates a new ElevenLabs Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("elevenlabs: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:     apiKey,
		model:      defaultModel,
		sampleRate: defaultSampleRate,
		endpoint:   defaultEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	if !supportedRates[p.sampleRate] {
		return nil, fmt.Errorf("elevenlabs: unsupported sample rate %d", p.sampleRate)
	}
	return p, nil
}

// ---- WebSocket message types ----

// textMessage is the JSON payload sent to ElevenLabs for each text fragment.
type textMessage struct {
	Text                 string         `json:"text"`
	VoiceSettings        *voiceSettings `json:"voice_settings,omitempty"`
	TryTriggerGeneration bool           `json:"try_trigger_generation,omitempty"`
}

// voiceSettings mirrors the ElevenLabs voice_settings object.
type voiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Speed           float64 `json:"speed,omitempty"`
}

// audioResponse is the JSON message received from ElevenLabs over the WebSocket.
type audioResponse struct {
	Audio   string `json:"audio"` // base64-encoded PCM
	IsFinal bool   `json:"isFinal"`
	Message string `json:"message,omitempty"` // error or info
	Error   string `json:"error,omitempty"`
}

// boiMessage is used for the initial "begin of input" handshake.
type boiMessage struct {
	Text          string         `json:"text"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
	XiAPIKey      string         `json:"xi_api_key"`
}

// Synthesize opens a WebSocket to ElevenLabs, sends text followed by a flush,
// and returns a channel emitting raw PCM audio chunks.
//
// The returned audio channel is closed when the server reports the final chunk,
// when the connection ends, or when ctx is cancelled.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	if voice.ID == "" {
		return nil, errors.New("elevenlabs: voice.ID must not be empty")
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("elevenlabs: text must not be empty")
	}

	conn, _, err := websocket.Dial(ctx, p.buildURL(voice.ID), nil)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: dial: %w", err)
	}

	vs := &voiceSettings{Stability: 0.5, SimilarityBoost: 0.75}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		vs.Speed = voice.SpeedFactor
	}
	// ElevenLabs requires a single space as the first text value.
	boi, _ := json.Marshal(boiMessage{Text: " ", VoiceSettings: vs, XiAPIKey: p.apiKey})
	// Text must end with a space so the server does not wait for more input.
	msg, _ := buildWSMessage(text+" ", nil)
	flush, _ := buildWSMessage("", nil)
	for _, m := range [][]byte{boi, msg, flush} {
		if err := conn.Write(ctx, websocket.MessageText, m); err != nil {
			conn.Close(websocket.StatusInternalError, "write failed")
			return nil, fmt.Errorf("elevenlabs: send: %w", err)
		}
	}

	audioCh := make(chan []byte, 64)
	go func() {
		defer close(audioCh)
		defer conn.Close(websocket.StatusNormalClosure, "done")
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				if websocket.CloseStatus(err) != websocket.StatusNormalClosure && ctx.Err() == nil {
					slog.Warn("elevenlabs: stream ended", "err", err)
				}
				return
			}
			pcm, final, err := parseAudioResponse(raw)
			if err != nil {
				slog.Warn("elevenlabs: server error", "err", err)
				return
			}
			if len(pcm) > 0 {
				select {
				case audioCh <- pcm:
				case <-ctx.Done():
					return
				}
			}
			if final {
				return
			}
		}
	}()

	return audioCh, nil
}

// ---- helpers ----

// buildWSMessage constructs the JSON text payload for a single text fragment.
func buildWSMessage(text string, vs *voiceSettings) ([]byte, error) {
	return json.Marshal(textMessage{Text: text, VoiceSettings: vs})
}

// buildURL constructs the stream-input WebSocket URL for a voice.
func (p *Provider) buildURL(voiceID string) string {
	q := url.Values{}
	q.Set("model_id", p.model)
	q.Set("output_format", "pcm_"+strconv.Itoa(p.sampleRate))
	return p.endpoint + "/" + url.PathEscape(voiceID) + "/stream-input?" + q.Encode()
}

// parseAudioResponse decodes one server message into PCM bytes and the final
// marker. Messages reporting an error without audio return a non-nil error.
func parseAudioResponse(raw []byte) ([]byte, bool, error) {
	var resp audioResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, false, nil
	}
	if resp.Audio == "" {
		if resp.Error != "" {
			return nil, false, fmt.Errorf("elevenlabs: %s: %s", resp.Error, resp.Message)
		}
		return nil, resp.IsFinal, nil
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.Audio)
	if err != nil {
		return nil, resp.IsFinal, nil
	}
	return pcm, resp.IsFinal, nil
}
