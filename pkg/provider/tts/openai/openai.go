// Package openai provides a TTS provider backed by the OpenAI speech endpoint.
//
// The endpoint is asked for raw PCM (24 kHz, 16-bit, mono) which is streamed
// back in fixed-size frames and resampled to the configured output rate.
package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/tts"
)

const (
	defaultModel = "tts-1"
	defaultVoice = "alloy"

	// sourceRate is the fixed sample rate of the endpoint's pcm format.
	sourceRate = 24000

	// frameBytes is 100 ms of 24 kHz mono PCM16.
	frameBytes = sourceRate / 10 * 2
)

var _ tts.Provider = (*Provider)(nil)

// Provider implements tts.Provider using the OpenAI audio speech endpoint.
type Provider struct {
	client     oai.Client
	model      string
	sampleRate int
}

type config struct {
	baseURL    string
	sampleRate int
	timeout    time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithSampleRate sets the output sample rate. Defaults to 16000.
func WithSampleRate(rate int) Option {
	return func(c *config) {
		c.sampleRate = rate
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI TTS Provider. An empty model selects tts-1.
func New(apiKey, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai tts: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	cfg := &config{sampleRate: 16000}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.sampleRate <= 0 {
		return nil, fmt.Errorf("openai tts: invalid sample rate %d", cfg.sampleRate)
	}

	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}
	return &Provider{client: oai.NewClient(reqOpts...), model: model, sampleRate: cfg.sampleRate}, nil
}

// Synthesize implements tts.Provider. voice.ID selects the OpenAI voice
// (alloy, echo, nova, ...); empty selects alloy.
func (p *Provider) Synthesize(ctx context.Context, text string, voice tts.VoiceProfile) (<-chan []byte, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("openai tts: text must not be empty")
	}
	name := voice.ID
	if name == "" {
		name = defaultVoice
	}
	params := oai.AudioSpeechNewParams{
		Input:          text,
		Model:          oai.SpeechModel(p.model),
		Voice:          oai.AudioSpeechNewParamsVoice(name),
		ResponseFormat: oai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if voice.SpeedFactor > 0 && voice.SpeedFactor != 1 {
		params.Speed = oai.Float(voice.SpeedFactor)
	}

	resp, err := p.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai tts: speech: %w", err)
	}

	out := make(chan []byte, 16)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		buf := make([]byte, frameBytes)
		for {
			n, err := io.ReadFull(resp.Body, buf)
			n -= n % 2
			if n > 0 {
				frame := audio.ResampleMono16(buf[:n], sourceRate, p.sampleRate)
				select {
				case out <- frame:
				case <-ctx.Done():
					return
				}
			}
			if err != nil {
				if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && ctx.Err() == nil {
					slog.Warn("openai tts: stream ended", "err", err)
				}
				return
			}
		}
	}()
	return out, nil
}
