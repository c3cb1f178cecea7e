package openai_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/tts"
	"github.com/MrWong99/intervox/pkg/provider/tts/openai"
)

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestSynthesize_ResamplesPCM(t *testing.T) {
	t.Parallel()

	var (
		mu   sync.Mutex
		body map[string]any
	)
	// 0.5 s of 24 kHz audio.
	pcm := make([]byte, 24000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/speech" {
			http.NotFound(w, r)
			return
		}
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		_ = json.Unmarshal(raw, &body)
		mu.Unlock()
		w.Header().Set("Content-Type", "audio/pcm")
		_, _ = w.Write(pcm)
	}))
	t.Cleanup(srv.Close)

	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithSampleRate(16000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ch, err := p.Synthesize(context.Background(), "What did you build last?", tts.VoiceProfile{ID: "nova"})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	total := 0
	for _, f := range audio.Collect(ch) {
		if len(f)%2 != 0 {
			t.Errorf("odd frame length %d", len(f))
		}
		total += len(f)
	}
	// 0.5 s at 16 kHz is 16000 bytes.
	if total != 16000 {
		t.Errorf("total output bytes = %d, want 16000", total)
	}

	mu.Lock()
	defer mu.Unlock()
	if body["voice"] != "nova" || body["response_format"] != "pcm" || body["model"] != "tts-1" {
		t.Errorf("request body = %v", body)
	}
}

func TestSynthesize_ServerErrorFailsToStart(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded"}}`))
	}))
	t.Cleanup(srv.Close)

	p, _ := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/v1/"))
	if _, err := p.Synthesize(context.Background(), "Hello", tts.VoiceProfile{}); err == nil {
		t.Fatal("expected error")
	}
}
