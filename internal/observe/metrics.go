// Package observe provides application-wide observability primitives for
// intervox: OpenTelemetry metrics, distributed tracing, trace-aware logging,
// and HTTP middleware that ties them together.
//
// Metrics are recorded through the OpenTelemetry Metrics API and exported via
// the Prometheus bridge set up by [InitProvider], so they can be scraped at
// /metrics. A package-level default [Metrics] instance ([DefaultMetrics]) is
// provided for convenience; tests should use [NewMetrics] with a custom
// [metric.MeterProvider] to avoid cross-test pollution.
package observe

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all intervox metrics.
const meterName = "github.com/MrWong99/intervox"

// Metrics holds all OpenTelemetry metric instruments for the application.
// All fields are safe for concurrent use.
type Metrics struct {
	// --- Latency histograms per pipeline stage ---

	// STTDuration tracks one transcription call including its retry.
	STTDuration metric.Float64Histogram

	// LLMDuration tracks one dialogue generation including its retries.
	LLMDuration metric.Float64Histogram

	// TTSFirstFrame tracks time from synthesis request to the first audio frame.
	TTSFirstFrame metric.Float64Histogram

	// TurnDuration tracks end-of-utterance to end-of-reply for one turn.
	TurnDuration metric.Float64Histogram

	// --- Counters ---

	// ProviderRequests counts provider API calls. Attributes:
	//   attribute.String("kind", ...), attribute.String("status", ...)
	ProviderRequests metric.Int64Counter

	// ProviderErrors counts provider errors. Attributes:
	//   attribute.String("kind", ...), attribute.String("reason", ...)
	ProviderErrors metric.Int64Counter

	// DegradedTurns counts turns that took a degraded path. Attribute:
	//   attribute.String("reason", ...)
	DegradedTurns metric.Int64Counter

	// SessionOutcomes counts finished sessions. Attribute:
	//   attribute.String("outcome", ...)
	SessionOutcomes metric.Int64Counter

	// TranscriptWriteFailures counts failed transcript appends.
	TranscriptWriteFailures metric.Int64Counter

	// --- Gauges ---

	// ActiveSessions tracks the number of live interview sessions.
	ActiveSessions metric.Int64UpDownCounter

	// --- HTTP middleware ---

	// HTTPRequestDuration tracks HTTP request processing time. Attributes:
	//   attribute.String("method", ...), attribute.String("path", ...)
	HTTPRequestDuration metric.Float64Histogram
}

// latencyBuckets defines histogram bucket boundaries (in seconds) for
// voice-pipeline latencies.
var latencyBuckets = []float64{
	0.05, 0.1, 0.25, 0.5, 1, 2, 4, 8, 15, 30, 60,
}

// NewMetrics creates a fully initialised [Metrics] struct using the given
// [metric.MeterProvider].
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	m := mp.Meter(meterName)
	var err error
	met := &Metrics{}

	histogram := func(name, desc string) (metric.Float64Histogram, error) {
		return m.Float64Histogram(name,
			metric.WithDescription(desc),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(latencyBuckets...),
		)
	}
	if met.STTDuration, err = histogram("intervox.stt.duration", "Latency of speech-to-text transcription."); err != nil {
		return nil, err
	}
	if met.LLMDuration, err = histogram("intervox.llm.duration", "Latency of interviewer question generation."); err != nil {
		return nil, err
	}
	if met.TTSFirstFrame, err = histogram("intervox.tts.first_frame", "Time until the first synthesized audio frame."); err != nil {
		return nil, err
	}
	if met.TurnDuration, err = histogram("intervox.turn.duration", "Time from end of candidate speech to end of interviewer reply."); err != nil {
		return nil, err
	}

	if met.ProviderRequests, err = m.Int64Counter("intervox.provider.requests",
		metric.WithDescription("Total provider requests by kind and status."),
	); err != nil {
		return nil, err
	}
	if met.ProviderErrors, err = m.Int64Counter("intervox.provider.errors",
		metric.WithDescription("Total provider errors by kind and reason."),
	); err != nil {
		return nil, err
	}
	if met.DegradedTurns, err = m.Int64Counter("intervox.turns.degraded",
		metric.WithDescription("Turns that were retried or delivered without audio, by reason."),
	); err != nil {
		return nil, err
	}
	if met.SessionOutcomes, err = m.Int64Counter("intervox.sessions.finished",
		metric.WithDescription("Finished sessions by outcome."),
	); err != nil {
		return nil, err
	}
	if met.TranscriptWriteFailures, err = m.Int64Counter("intervox.transcript.write_failures",
		metric.WithDescription("Transcript appends that failed."),
	); err != nil {
		return nil, err
	}

	if met.ActiveSessions, err = m.Int64UpDownCounter("intervox.active_sessions",
		metric.WithDescription("Number of live interview sessions."),
	); err != nil {
		return nil, err
	}

	if met.HTTPRequestDuration, err = m.Float64Histogram("intervox.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	); err != nil {
		return nil, err
	}

	return met, nil
}

var (
	defaultMetrics     *Metrics
	defaultMetricsOnce sync.Once
)

// DefaultMetrics returns the package-level [Metrics] instance, creating it on
// first call using [otel.GetMeterProvider]. Panics if instrument creation
// fails (should not happen with the global provider).
func DefaultMetrics() *Metrics {
	defaultMetricsOnce.Do(func() {
		var err error
		defaultMetrics, err = NewMetrics(otel.GetMeterProvider())
		if err != nil {
			panic("observe: failed to create default metrics: " + err.Error())
		}
	})
	return defaultMetrics
}

// RecordProviderRequest records a provider request with the standard
// attribute set.
func (m *Metrics) RecordProviderRequest(ctx context.Context, kind, status string) {
	m.ProviderRequests.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("status", status),
		),
	)
}

// RecordProviderError records a provider error.
func (m *Metrics) RecordProviderError(ctx context.Context, kind, reason string) {
	m.ProviderErrors.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("kind", kind),
			attribute.String("reason", reason),
		),
	)
}

// RecordDegradedTurn records a turn that took a degraded path.
func (m *Metrics) RecordDegradedTurn(ctx context.Context, reason string) {
	m.DegradedTurns.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

// RecordSessionOutcome records a finished session.
func (m *Metrics) RecordSessionOutcome(ctx context.Context, outcome string) {
	m.SessionOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}
