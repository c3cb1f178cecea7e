package elevenlabs

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"

	"github.com/coder/websocket"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/tts"
)

// ---- WebSocket message construction ----

func TestBuildWSMessage_FlushCommand(t *testing.T) {
	t.Parallel()

	// ElevenLabs flush = {"text":""} with no other fields.
	data, err := buildWSMessage("", nil)
	if err != nil {
		t.Fatalf("buildWSMessage: %v", err)
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("unmarshal flush: %v", err)
	}
	if string(raw["text"]) != `""` {
		t.Errorf("expected empty string for text, got %s", raw["text"])
	}
	if _, exists := raw["voice_settings"]; exists {
		t.Error("flush message should not contain voice_settings")
	}
}

// ---- URL construction ----

func TestBuildURL(t *testing.T) {
	t.Parallel()

	p, err := New("key", WithSampleRate(24000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	raw := p.buildURL("voice-abc123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if u.Scheme != "wss" {
		t.Errorf("scheme = %q, want wss", u.Scheme)
	}
	if u.Path != "/v1/text-to-speech/voice-abc123/stream-input" {
		t.Errorf("path = %q", u.Path)
	}
	if got := u.Query().Get("output_format"); got != "pcm_24000" {
		t.Errorf("output_format = %q, want pcm_24000", got)
	}
	if got := u.Query().Get("model_id"); got != defaultModel {
		t.Errorf("model_id = %q, want %q", got, defaultModel)
	}
}

// ---- response parsing ----

func TestParseAudioResponse(t *testing.T) {
	t.Parallel()

	pcm, final, err := parseAudioResponse([]byte(`{"audio":"` + base64.StdEncoding.EncodeToString([]byte{1, 2}) + `"}`))
	if err != nil || final || len(pcm) != 2 {
		t.Errorf("audio chunk: pcm=%v final=%v err=%v", pcm, final, err)
	}
	if _, final, _ := parseAudioResponse([]byte(`{"isFinal":true}`)); !final {
		t.Error("expected final marker")
	}
	if _, _, err := parseAudioResponse([]byte(`{"error":"quota_exceeded","message":"out of credits"}`)); err == nil {
		t.Error("expected error for error message")
	}
	if pcm, _, err := parseAudioResponse([]byte(`garbage`)); err != nil || pcm != nil {
		t.Errorf("garbage should be ignored, got pcm=%v err=%v", pcm, err)
	}
}

// ---- Constructor tests ----

func TestNew(t *testing.T) {
	t.Parallel()

	if _, err := New(""); err == nil {
		t.Error("expected error for empty API key")
	}
	if _, err := New("key", WithSampleRate(12345)); err == nil {
		t.Error("expected error for unsupported sample rate")
	}
	p, err := New("key", WithModel("eleven_multilingual_v2"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" || p.sampleRate != defaultSampleRate {
		t.Errorf("unexpected provider config: %+v", p)
	}
}

// ---- end-to-end against a fake stream-input endpoint ----

func TestSynthesize_StreamsUntilFinal(t *testing.T) {
	t.Parallel()

	var (
		mu       sync.Mutex
		received []textMessage
		apiKey   string
	)
	chunk := audio.Int16sToBytes([]int16{100, -100, 200, -200})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		ctx := r.Context()
		for {
			_, raw, err := conn.Read(ctx)
			if err != nil {
				return
			}
			var boi boiMessage
			_ = json.Unmarshal(raw, &boi)
			var m textMessage
			_ = json.Unmarshal(raw, &m)
			mu.Lock()
			if boi.XiAPIKey != "" {
				apiKey = boi.XiAPIKey
			} else {
				received = append(received, m)
			}
			mu.Unlock()
			if m.Text == "" {
				break
			}
		}
		enc := base64.StdEncoding.EncodeToString(chunk)
		for range 2 {
			_ = conn.Write(ctx, websocket.MessageText, []byte(`{"audio":"`+enc+`"}`))
		}
		_ = conn.Write(ctx, websocket.MessageText, []byte(`{"isFinal":true}`))
		conn.Close(websocket.StatusNormalClosure, "")
	}))
	t.Cleanup(srv.Close)

	p, _ := New("secret", WithEndpoint("ws"+strings.TrimPrefix(srv.URL, "http")))
	ch, err := p.Synthesize(context.Background(), "Tell me about yourself.", tts.VoiceProfile{ID: "rachel"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	frames := audio.Collect(ch)
	if len(frames) != 2 {
		t.Fatalf("frames = %d, want 2", len(frames))
	}

	mu.Lock()
	defer mu.Unlock()
	if apiKey != "secret" {
		t.Errorf("api key = %q", apiKey)
	}
	if len(received) != 2 || received[0].Text != "Tell me about yourself. " || received[1].Text != "" {
		t.Errorf("received = %+v", received)
	}
}

func TestSynthesize_RequiresVoiceAndText(t *testing.T) {
	t.Parallel()

	p, _ := New("key")
	if _, err := p.Synthesize(context.Background(), "hi", tts.VoiceProfile{}); err == nil {
		t.Error("expected error for empty voice ID")
	}
	if _, err := p.Synthesize(context.Background(), "  ", tts.VoiceProfile{ID: "v"}); err == nil {
		t.Error("expected error for empty text")
	}
}
