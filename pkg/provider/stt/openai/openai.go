// Package openai provides an STT provider backed by the OpenAI audio
// transcription API (whisper-1, gpt-4o-transcribe and compatible servers).
package openai

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

const defaultModel = "whisper-1"

var _ stt.Provider = (*Provider)(nil)

// Provider implements stt.Provider using the OpenAI transcription endpoint.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration for the provider.
type config struct {
	baseURL  string
	language string
	timeout  time.Duration
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL, e.g. for a local
// faster-whisper server exposing the same API.
func WithBaseURL(url string) Option {
	return func(c *config) {
		c.baseURL = url
	}
}

// WithLanguage sets the default ISO-639-1 language hint.
func WithLanguage(lang string) Option {
	return func(c *config) {
		c.language = lang
	}
}

// WithTimeout sets a per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// New constructs a new OpenAI STT Provider. An empty model selects whisper-1.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("openai stt: apiKey must not be empty")
	}
	if model == "" {
		model = defaultModel
	}
	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	// Retries are owned by the caller's gateway policy.
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
	return &Provider{client: oai.NewClient(reqOpts...), model: model, language: cfg.language}, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if len(req.PCM) == 0 {
		return stt.Transcript{}, nil
	}
	wav, err := audio.EncodeWAV(req.PCM, audio.Format{SampleRate: req.SampleRate, Channels: 1})
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("openai stt: encode wav: %w", err)
	}

	params := oai.AudioTranscriptionNewParams{
		File:  oai.File(bytes.NewReader(wav), "audio.wav", "audio/wav"),
		Model: oai.AudioModel(p.model),
	}
	lang := req.Language
	if lang == "" {
		lang = p.language
	}
	if lang != "" {
		// The API expects ISO-639-1; drop any region subtag.
		params.Language = oai.String(strings.ToLower(strings.SplitN(lang, "-", 2)[0]))
	}
	if len(req.Keywords) > 0 {
		params.Prompt = oai.String(strings.Join(req.Keywords, ", "))
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		var apiErr *oai.Error
		if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 &&
			apiErr.StatusCode != http.StatusTooManyRequests && apiErr.StatusCode != http.StatusRequestTimeout {
			return stt.Transcript{}, fmt.Errorf("openai stt: %w", errors.Join(stt.ErrRejected, err))
		}
		return stt.Transcript{}, fmt.Errorf("openai stt: transcription: %w", err)
	}
	return stt.Transcript{Text: strings.TrimSpace(resp.Text), Language: lang}, nil
}
