// Package dialogue generates the interviewer's next utterance.
//
// The [Engine] is stateless: every call receives the interview context and the
// full transcript, and the prompt is rebuilt from them. Retry and timeout
// policy for the language model lives here and nowhere else.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/MrWong99/intervox/internal/gateway"
	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/observe"
	"github.com/MrWong99/intervox/pkg/provider/llm"
)

// ErrUnavailable is returned when every attempt in the retry budget failed.
var ErrUnavailable = errors.New("dialogue: generation unavailable")

var errBlank = errors.New("blank completion")

const (
	defaultAttempts       = 3
	defaultBackoff        = 500 * time.Millisecond
	defaultAttemptTimeout = 20 * time.Second
	defaultTemperature    = 0.3
	defaultMaxTokens      = 300
)

// Option configures an [Engine].
type Option func(*Engine)

// WithAttempts sets the total number of attempts per call (minimum 1).
func WithAttempts(n int) Option {
	return func(e *Engine) { e.attempts = max(n, 1) }
}

// WithBackoff sets the linear backoff step: attempt n waits n*d before running.
func WithBackoff(d time.Duration) Option {
	return func(e *Engine) { e.backoff = d }
}

// WithAttemptTimeout bounds a single completion call.
func WithAttemptTimeout(d time.Duration) Option {
	return func(e *Engine) { e.attemptTimeout = d }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(e *Engine) { e.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(e *Engine) { e.maxTokens = n }
}

// WithGreeting controls whether the greeting is injected as the first
// interviewer message. Enabled by default.
func WithGreeting(enabled bool) Option {
	return func(e *Engine) { e.greet = enabled }
}

// WithMetrics records latency and outcomes to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// Engine produces interviewer turns from a language model. Safe for
// concurrent use.
type Engine struct {
	provider       llm.Provider
	attempts       int
	backoff        time.Duration
	attemptTimeout time.Duration
	temperature    float64
	maxTokens      int
	greet          bool
	metrics        *observe.Metrics
	avail          *gateway.Availability
}

// New returns an Engine backed by p.
func New(p llm.Provider, opts ...Option) *Engine {
	e := &Engine{
		provider:       p,
		attempts:       defaultAttempts,
		backoff:        defaultBackoff,
		attemptTimeout: defaultAttemptTimeout,
		temperature:    defaultTemperature,
		maxTokens:      defaultMaxTokens,
		greet:          true,
		avail:          gateway.NewAvailability("llm"),
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Availability returns the engine's availability flag.
func (e *Engine) Availability() *gateway.Availability { return e.avail }

// Greets reports whether the greeting is part of the conversation.
func (e *Engine) Greets() bool { return e.greet }

// NextTurn returns the interviewer's reply to history. history must end with
// the candidate turn being answered.
func (e *Engine) NextTurn(ctx context.Context, ic interview.Context, history []interview.Turn) (string, error) {
	ctx, span := observe.StartSpan(ctx, observe.SpanDialogue)
	defer span.End()

	req := llm.CompletionRequest{
		SystemPrompt: SystemPrompt(ic),
		Messages:     buildMessages(ic, history, e.greet),
		Temperature:  e.temperature,
		MaxTokens:    e.maxTokens,
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= e.attempts; attempt++ {
		if attempt > 1 {
			if err := sleep(ctx, time.Duration(attempt-1)*e.backoff); err != nil {
				lastErr = err
				break
			}
		}
		text, err := e.complete(ctx, req)
		if err == nil {
			e.avail.MarkAvailable()
			e.record(ctx, "ok", time.Since(start))
			return text, nil
		}
		lastErr = err
		slog.Warn("dialogue attempt failed", "attempt", attempt, "of", e.attempts, "err", err)
		if ctx.Err() != nil {
			break
		}
	}

	if ctx.Err() == nil {
		e.avail.MarkUnavailable(lastErr)
	}
	e.record(ctx, "error", time.Since(start))
	return "", fmt.Errorf("%w: %w", ErrUnavailable, lastErr)
}

func (e *Engine) complete(ctx context.Context, req llm.CompletionRequest) (string, error) {
	if e.attemptTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.attemptTimeout)
		defer cancel()
	}
	resp, err := e.provider.Complete(ctx, req)
	if err != nil {
		if e.metrics != nil {
			e.metrics.RecordProviderError(ctx, "llm", "transient")
		}
		return "", err
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		if e.metrics != nil {
			e.metrics.RecordProviderError(ctx, "llm", "blank")
		}
		return "", errBlank
	}
	return text, nil
}

func (e *Engine) record(ctx context.Context, status string, elapsed time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.LLMDuration.Record(ctx, elapsed.Seconds())
	e.metrics.RecordProviderRequest(ctx, "llm", status)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
