package openai_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/MrWong99/intervox/pkg/provider/stt"
	"github.com/MrWong99/intervox/pkg/provider/stt/openai"
)

func newServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			http.NotFound(w, r)
			return
		}
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNew_RequiresAPIKey(t *testing.T) {
	t.Parallel()
	if _, err := openai.New("", ""); err == nil {
		t.Fatal("expected error for empty api key")
	}
}

func TestTranscribe_ReturnsText(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, http.StatusOK, `{"text":" Tell me more. "}`, &hits)
	p, err := openai.New("sk-test", "", openai.WithBaseURL(srv.URL+"/v1/"), openai.WithLanguage("en-US"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 640), SampleRate: 16000})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Tell me more." {
		t.Errorf("Text = %q", tr.Text)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}

func TestTranscribe_BadRequestIsRejectedWithoutRetry(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, http.StatusBadRequest, `{"error":{"message":"Invalid file format.","type":"invalid_request_error"}}`, &hits)
	p, _ := openai.New("sk-test", "whisper-1", openai.WithBaseURL(srv.URL+"/v1/"))
	_, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 640), SampleRate: 16000})
	if !errors.Is(err, stt.ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1 (SDK retries disabled)", hits.Load())
	}
}

func TestTranscribe_ServerErrorIsTransient(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := newServer(t, http.StatusServiceUnavailable, `{"error":{"message":"overloaded"}}`, &hits)
	p, _ := openai.New("sk-test", "whisper-1", openai.WithBaseURL(srv.URL+"/v1/"))
	_, err := p.Transcribe(context.Background(), stt.Request{PCM: make([]byte, 640), SampleRate: 16000})
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, stt.ErrRejected) {
		t.Errorf("503 classified as rejection: %v", err)
	}
}
