// Package deepgram provides a Deepgram-backed STT provider using the Deepgram
// live WebSocket API. It implements the stt.Provider interface.
//
// Each Transcribe call opens a live session, streams the utterance as binary
// linear16 frames, asks Deepgram to flush with a CloseStream message and
// joins every final result received before the server closes the socket.
package deepgram

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/intervox/pkg/provider/stt"
)

const (
	deepgramEndpoint = "wss://api.deepgram.com/v1/listen"
	defaultModel     = "nova-3"
	defaultLanguage  = "en"

	// sendChunkBytes is 100 ms of 16 kHz mono linear16 audio.
	sendChunkBytes = 3200

	// keywordBoost is the intensifier applied to every keyword hint.
	keywordBoost = 2
)

var _ stt.Provider = (*Provider)(nil)

// Option is a functional option for configuring the Deepgram Provider.
type Option func(*Provider)

// WithModel sets the Deepgram model to use (e.g., "nova-3", "base").
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithLanguage sets the default BCP-47 language code for recognition
// (e.g., "en", "de-DE").
func WithLanguage(language string) Option {
	return func(p *Provider) {
		p.language = language
	}
}

// WithEndpoint overrides the live API endpoint. Intended for tests and
// self-hosted deployments.
func WithEndpoint(endpoint string) Option {
	return func(p *Provider) {
		p.endpoint = endpoint
	}
}

// Provider implements stt.Provider backed by the Deepgram live API.
type Provider struct {
	apiKey   string
	model    string
	language string
	endpoint string
}

// New creates a new Deepgram Provider. apiKey must be non-empty.
func New(apiKey string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, errors.New("deepgram: apiKey must not be empty")
	}
	p := &Provider{
		apiKey:   apiKey,
		model:    defaultModel,
		language: defaultLanguage,
		endpoint: deepgramEndpoint,
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Transcribe implements stt.Provider.
func (p *Provider) Transcribe(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if len(req.PCM) == 0 {
		return stt.Transcript{}, nil
	}
	wsURL, err := p.buildURL(req)
	if err != nil {
		return stt.Transcript{}, fmt.Errorf("deepgram: build URL: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+p.apiKey)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		if resp != nil && resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return stt.Transcript{}, stt.Rejected("deepgram: handshake returned HTTP %d", resp.StatusCode)
		}
		return stt.Transcript{}, fmt.Errorf("deepgram: dial: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(1 << 20)

	// Stream audio in the background; results are read concurrently so the
	// server never stalls on a full send buffer.
	writeErr := make(chan error, 1)
	go func() {
		writeErr <- p.writeAudio(ctx, conn, req.PCM)
	}()

	var (
		parts      []string
		confidence float64
		finals     int
	)
	for {
		_, msg, err := conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				break
			}
			if status == websocket.StatusPolicyViolation || status == websocket.StatusInvalidFramePayloadData {
				return stt.Transcript{}, stt.Rejected("deepgram: connection closed with status %d", status)
			}
			return stt.Transcript{}, fmt.Errorf("deepgram: read: %w", err)
		}
		r, ok := parseResponse(msg)
		if !ok {
			continue
		}
		if r.metadata {
			break
		}
		if r.isFinal && r.text != "" {
			parts = append(parts, r.text)
			confidence += r.confidence
			finals++
		}
	}
	if err := <-writeErr; err != nil && ctx.Err() == nil {
		return stt.Transcript{}, err
	}
	conn.Close(websocket.StatusNormalClosure, "done")

	tr := stt.Transcript{Text: strings.Join(parts, " "), Language: p.languageFor(req)}
	if finals > 0 {
		tr.Confidence = confidence / float64(finals)
	}
	return tr, nil
}

func (p *Provider) writeAudio(ctx context.Context, conn *websocket.Conn, pcm []byte) error {
	for off := 0; off < len(pcm); off += sendChunkBytes {
		end := min(off+sendChunkBytes, len(pcm))
		if err := conn.Write(ctx, websocket.MessageBinary, pcm[off:end]); err != nil {
			return fmt.Errorf("deepgram: write audio: %w", err)
		}
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"CloseStream"}`)); err != nil {
		return fmt.Errorf("deepgram: write CloseStream: %w", err)
	}
	return nil
}

func (p *Provider) languageFor(req stt.Request) string {
	if req.Language != "" {
		return req.Language
	}
	return p.language
}

// buildURL constructs the Deepgram live endpoint URL for the given request.
func (p *Provider) buildURL(req stt.Request) (string, error) {
	u, err := url.Parse(p.endpoint)
	if err != nil {
		return "", err
	}
	sr := req.SampleRate
	if sr == 0 {
		sr = 16000
	}

	q := u.Query()
	q.Set("model", p.model)
	q.Set("language", p.languageFor(req))
	q.Set("punctuate", "true")
	q.Set("smart_format", "true")
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(sr))
	q.Set("channels", "1")
	for _, kw := range req.Keywords {
		// Deepgram keyword format: word:boost (e.g., "Kubernetes:2")
		q.Add("keywords", fmt.Sprintf("%s:%d", kw, keywordBoost))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// deepgramResponse is the JSON structure returned by Deepgram for Results and
// Metadata events.
type deepgramResponse struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type result struct {
	text       string
	confidence float64
	isFinal    bool
	metadata   bool
}

// parseResponse parses a raw Deepgram message. ok is false for messages that
// carry nothing of interest.
func parseResponse(data []byte) (result, bool) {
	var resp deepgramResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return result{}, false
	}
	switch resp.Type {
	case "Metadata":
		return result{metadata: true}, true
	case "Results":
	default:
		return result{}, false
	}
	if len(resp.Channel.Alternatives) == 0 {
		return result{}, false
	}
	alt := resp.Channel.Alternatives[0]
	return result{
		text:       strings.TrimSpace(alt.Transcript),
		confidence: alt.Confidence,
		isFinal:    resp.IsFinal,
	}, true
}
