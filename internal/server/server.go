// Package server exposes intervox over HTTP: the interview WebSocket at
// GET /ws, the interview record and evaluation endpoints, a speech preview
// endpoint, health checks and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/intervox/internal/evaluate"
	"github.com/MrWong99/intervox/internal/gateway"
	"github.com/MrWong99/intervox/internal/health"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/internal/session"
	"github.com/MrWong99/intervox/internal/transcript"
	"github.com/MrWong99/intervox/pkg/audio"
)

const (
	defaultContextWait = 2 * time.Second
	defaultReadLimit   = 1 << 20
	defaultInboundBuf  = 64
)

// Evaluator serves the interview record endpoints. *evaluate.Evaluator
// implements it.
type Evaluator interface {
	Record(ctx context.Context, id string) (interview.Record, error)
	Summary(ctx context.Context, id string) (string, error)
	Score(ctx context.Context, id string) (interview.Scorecard, error)
}

// Server routes HTTP requests. Create one with [New].
type Server struct {
	registry *session.Registry
	eval     Evaluator
	tts      session.Synthesizer
	metrics  *observe.Metrics
	health   *health.Handler

	mu             sync.RWMutex
	defaults       interview.Context
	originPatterns []string
	contextWait    time.Duration
	readLimit      int64

	handler http.Handler
}

// Option configures a [Server].
type Option func(*Server)

// WithMetrics enables the request middleware and the /metrics endpoint.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealth registers /healthz and /readyz.
func WithHealth(h *health.Handler) Option {
	return func(s *Server) { s.health = h }
}

// WithContextDefaults sets the values used for context fields the client
// leaves empty.
func WithContextDefaults(ic interview.Context) Option {
	return func(s *Server) { s.defaults = ic }
}

// WithOriginPatterns allows cross-origin WebSocket clients whose Origin host
// matches one of the patterns.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.originPatterns = patterns }
}

// WithContextWait bounds how long /ws waits for a context message when the
// query string carries no context.
func WithContextWait(d time.Duration) Option {
	return func(s *Server) { s.contextWait = d }
}

// WithReadLimit bounds the size of one inbound WebSocket message.
func WithReadLimit(n int64) Option {
	return func(s *Server) { s.readLimit = n }
}

// New returns a Server. eval and tts may be nil, which disables the
// endpoints that need them.
func New(reg *session.Registry, eval Evaluator, tts session.Synthesizer, opts ...Option) *Server {
	s := &Server{
		registry: reg,
		eval:     eval,
		tts:      tts,
		defaults: interview.Context{
			JobDescription:  interview.DefaultJobDescription,
			ExperienceYears: interview.DefaultExperienceYears,
			CandidateName:   interview.DefaultCandidateName,
		},
		contextWait: defaultContextWait,
		readLimit:   defaultReadLimit,
	}
	for _, o := range opts {
		o(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.HandleFunc("GET /interviews/{id}", s.handleInterview)
	mux.HandleFunc("GET /interviews/{id}/summary", s.handleSummary)
	mux.HandleFunc("GET /interviews/{id}/score", s.handleScore)
	mux.HandleFunc("GET /interviews/{id}/score_simple", s.handleScoreSimple)
	mux.HandleFunc("GET /tts", s.handleTTS)
	if s.health != nil {
		s.health.Register(mux)
	}

	var h http.Handler = mux
	if s.metrics != nil {
		mux.Handle("GET /metrics", observe.MetricsHandler())
		h = observe.Middleware(s.metrics)(mux)
	}
	s.handler = h
	return s
}

// SetContextDefaults replaces the context defaults for interviews started
// from now on.
func (s *Server) SetContextDefaults(ic interview.Context) {
	s.mu.Lock()
	s.defaults = ic
	s.mu.Unlock()
}

func (s *Server) contextDefaults() interview.Context {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.defaults
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type interviewResponse struct {
	interview.Record
	Transcript string `json:"transcript"`
}

type summaryResponse struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
}

type scoreResponse struct {
	ID string `json:"id"`
	interview.Scorecard
}

type scoreSimpleResponse struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
	Scale int    `json:"scale"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleInterview(w http.ResponseWriter, r *http.Request) {
	if s.eval == nil {
		writeError(w, http.StatusNotImplemented, "interview records are disabled")
		return
	}
	id := r.PathValue("id")
	rec, err := s.eval.Record(r.Context(), id)
	if err != nil {
		s.evalError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, interviewResponse{Record: rec, Transcript: interview.RenderTranscript(rec.Turns)})
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	if s.eval == nil {
		writeError(w, http.StatusNotImplemented, "evaluation is disabled")
		return
	}
	id := r.PathValue("id")
	summary, err := s.eval.Summary(r.Context(), id)
	if err != nil {
		s.evalError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, summaryResponse{ID: id, Summary: summary})
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if s.eval == nil {
		writeError(w, http.StatusNotImplemented, "evaluation is disabled")
		return
	}
	id := r.PathValue("id")
	card, err := s.eval.Score(r.Context(), id)
	if err != nil {
		s.evalError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{ID: id, Scorecard: card})
}

func (s *Server) handleScoreSimple(w http.ResponseWriter, r *http.Request) {
	if s.eval == nil {
		writeError(w, http.StatusNotImplemented, "evaluation is disabled")
		return
	}
	id := r.PathValue("id")
	card, err := s.eval.Score(r.Context(), id)
	if err != nil {
		s.evalError(w, r, id, err)
		return
	}
	writeJSON(w, http.StatusOK, scoreSimpleResponse{ID: id, Score: card.Overall.Value, Scale: 10})
}

// evalError maps evaluation errors to status codes.
func (s *Server) evalError(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, transcript.ErrNotFound):
		writeError(w, http.StatusNotFound, "interview not found")
	case errors.Is(err, evaluate.ErrNoTranscript):
		writeError(w, http.StatusBadRequest, "transcript not available yet")
	default:
		observe.Logger(r.Context()).Error("evaluation failed", "interview_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "evaluation failed")
	}
}

// handleTTS synthesizes ?text= and returns it as a WAV file.
func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	text := strings.TrimSpace(r.URL.Query().Get("text"))
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if s.tts == nil {
		writeError(w, http.StatusServiceUnavailable, "speech synthesis is not configured")
		return
	}

	st, err := s.tts.Synthesize(r.Context(), text)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, gateway.ErrTTSUnavailable) {
			status = http.StatusServiceUnavailable
		}
		observe.Logger(r.Context()).Warn("tts preview failed", "err", err)
		writeError(w, status, "speech synthesis failed")
		return
	}
	var pcm []byte
	for f := range st.C {
		pcm = append(pcm, f...)
	}
	if r.Context().Err() != nil {
		return
	}
	if err := st.Err(); err != nil {
		observe.Logger(r.Context()).Warn("tts preview stalled", "err", err)
		writeError(w, http.StatusServiceUnavailable, "speech synthesis failed")
		return
	}
	wav, err := audio.EncodeWAV(pcm, audio.Format{SampleRate: s.tts.OutputRate(), Channels: 1})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "speech synthesis failed")
		return
	}
	w.Header().Set("Content-Type", "audio/wav")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(wav); err != nil {
		slog.Debug("tts preview write failed", "err", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("response encode failed", "err", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
