package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/pkg/audio"
	"github.com/MrWong99/intervox/pkg/provider/stt"
)

var (
	// ErrNoSpeech means the utterance contained silence or nothing the
	// recognizer could turn into words.
	ErrNoSpeech = errors.New("gateway: no speech detected")

	// ErrSTTUnavailable means the recognizer failed, timed out or refused the
	// request.
	ErrSTTUnavailable = errors.New("gateway: speech recognition unavailable")
)

const (
	defaultSTTTimeout        = 8 * time.Second
	defaultSTTAttemptTimeout = 5 * time.Second
	defaultSTTSampleRate     = 16000

	// defaultSilenceRMS is the RMS level of 16-bit PCM below which an utterance
	// is treated as silence without calling the recognizer.
	defaultSilenceRMS = 100.0
)

// Corrector rewrites recognized text, typically snapping misheard words to a
// known vocabulary.
type Corrector interface {
	Correct(text string, vocabulary []string) string
}

// STTOption configures an [STT] gateway.
type STTOption func(*STT)

// WithSTTTimeout sets the budget for one Transcribe call including its retry.
func WithSTTTimeout(d time.Duration) STTOption {
	return func(g *STT) { g.timeout = d }
}

// WithSTTAttemptTimeout caps a single provider attempt. A first attempt that
// hits this cap may be retried when call budget remains.
func WithSTTAttemptTimeout(d time.Duration) STTOption {
	return func(g *STT) { g.attemptTimeout = d }
}

// WithSTTRetry enables or disables the single transient retry. Enabled by default.
func WithSTTRetry(enabled bool) STTOption {
	return func(g *STT) { g.retry = enabled }
}

// WithSampleRate sets the PCM rate passed to the provider.
func WithSampleRate(rate int) STTOption {
	return func(g *STT) { g.sampleRate = rate }
}

// WithLanguage sets the recognition language hint.
func WithLanguage(lang string) STTOption {
	return func(g *STT) { g.language = lang }
}

// WithSilenceThreshold sets the RMS level under which audio counts as silence.
// Zero disables the check.
func WithSilenceThreshold(rms float64) STTOption {
	return func(g *STT) { g.silenceRMS = rms }
}

// WithCorrector attaches a vocabulary corrector applied to recognized text.
func WithCorrector(c Corrector) STTOption {
	return func(g *STT) { g.corrector = c }
}

// WithSTTMetrics records call latency and outcomes to m.
func WithSTTMetrics(m *observe.Metrics) STTOption {
	return func(g *STT) { g.metrics = m }
}

// STT is the speech-to-text gateway. Safe for concurrent use.
type STT struct {
	provider       stt.Provider
	timeout        time.Duration
	attemptTimeout time.Duration
	retry          bool
	sampleRate     int
	language       string
	silenceRMS     float64
	corrector      Corrector
	metrics        *observe.Metrics
	avail          *Availability
}

// NewSTT wraps p.
func NewSTT(p stt.Provider, opts ...STTOption) *STT {
	g := &STT{
		provider:       p,
		timeout:        defaultSTTTimeout,
		attemptTimeout: defaultSTTAttemptTimeout,
		retry:          true,
		sampleRate:     defaultSTTSampleRate,
		silenceRMS:     defaultSilenceRMS,
		avail:          NewAvailability("stt"),
	}
	for _, o := range opts {
		o(g)
	}
	return g
}

// Availability returns the gateway's availability flag.
func (g *STT) Availability() *Availability { return g.avail }

// SampleRate returns the PCM rate the gateway expects.
func (g *STT) SampleRate() int { return g.sampleRate }

// Transcribe recognizes one utterance of PCM16 mono audio. vocabulary is
// forwarded to the provider as keyword hints and to the corrector.
//
// It returns the recognized text, [ErrNoSpeech] for silence or blank
// recognition, or an error wrapping [ErrSTTUnavailable].
func (g *STT) Transcribe(ctx context.Context, pcm []byte, vocabulary ...string) (string, error) {
	if len(pcm) == 0 || (g.silenceRMS > 0 && audio.RMS(pcm) < g.silenceRMS) {
		g.record(ctx, "empty", 0)
		return "", ErrNoSpeech
	}

	ctx, span := observe.StartSpan(ctx, observe.SpanSTT)
	defer span.End()

	start := time.Now()
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	req := stt.Request{PCM: pcm, SampleRate: g.sampleRate, Language: g.language, Keywords: vocabulary}
	tr, err := g.attempt(callCtx, req)
	if err != nil && g.retryable(ctx, callCtx, err) {
		slog.Debug("stt attempt failed, retrying", "err", err)
		tr, err = g.attempt(callCtx, req)
	}
	elapsed := time.Since(start)

	if err != nil {
		g.avail.MarkUnavailable(err)
		g.recordError(ctx, err)
		g.record(ctx, "error", elapsed)
		return "", fmt.Errorf("%w: %w", ErrSTTUnavailable, err)
	}
	g.avail.MarkAvailable()

	text := strings.TrimSpace(tr.Text)
	if text != "" && g.corrector != nil {
		text = strings.TrimSpace(g.corrector.Correct(text, vocabulary))
	}
	if text == "" {
		g.record(ctx, "empty", elapsed)
		return "", ErrNoSpeech
	}
	g.record(ctx, "ok", elapsed)
	return text, nil
}

func (g *STT) attempt(ctx context.Context, req stt.Request) (stt.Transcript, error) {
	if g.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.attemptTimeout)
		defer cancel()
	}
	return g.provider.Transcribe(ctx, req)
}

// retryable allows one more attempt for transient failures while the call
// budget and the caller are still alive.
func (g *STT) retryable(parent, call context.Context, err error) bool {
	if !g.retry || errors.Is(err, stt.ErrRejected) || errors.Is(err, context.Canceled) {
		return false
	}
	return parent.Err() == nil && call.Err() == nil
}

func (g *STT) record(ctx context.Context, status string, elapsed time.Duration) {
	if g.metrics == nil {
		return
	}
	if elapsed > 0 {
		g.metrics.STTDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(attribute.String("status", status)))
	}
	g.metrics.RecordProviderRequest(ctx, "stt", status)
}

func (g *STT) recordError(ctx context.Context, err error) {
	if g.metrics == nil {
		return
	}
	g.metrics.RecordProviderError(ctx, "stt", errorReason(err))
}

// errorReason maps a provider error to a low-cardinality metric label.
func errorReason(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, stt.ErrRejected):
		return "rejected"
	default:
		return "transient"
	}
}
