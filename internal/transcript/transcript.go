// Package transcript persists interview records and the ordered turns of
// every session.
//
// The session depends only on [Logger]: an append-only destination for
// [interview.Turn] values. Durability is best effort, so a failed append
// surfaces as [ErrWriteFailure] and the session keeps running. [Store]
// extends Logger with the record lifecycle used by the HTTP evaluation
// endpoints. Backends live in subpackages (jsonfile, sqlite, postgres) and a
// [Publisher] such as natspub can mirror every appended turn onto a message
// bus.
//
// All implementations must be safe for concurrent use, and a single Append
// must be atomic: a reader never observes a partially written turn.
package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/observe"
)

var (
	// ErrWriteFailure wraps every error returned by a failed append.
	ErrWriteFailure = errors.New("transcript: write failure")

	// ErrNotFound is returned for unknown interview IDs.
	ErrNotFound = errors.New("transcript: interview not found")
)

// Logger is the append-only destination for turns.
type Logger interface {
	Append(ctx context.Context, sessionID string, turn interview.Turn) error
}

// Store persists interview records.
type Store interface {
	Logger

	// Create inserts a new record. Turns in rec are ignored.
	Create(ctx context.Context, rec interview.Record) error

	// Get returns a copy of the record, or ErrNotFound.
	Get(ctx context.Context, id string) (interview.Record, error)

	// SetStatus updates the record status.
	SetStatus(ctx context.Context, id string, status interview.Status) error

	// SetSummary caches a generated summary.
	SetSummary(ctx context.Context, id, summary string) error

	// SetScore caches a generated scorecard.
	SetScore(ctx context.Context, id string, score interview.Scorecard) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases backend resources.
	Close() error
}

// Event is one appended turn as published to subscribers.
type Event struct {
	SessionID string         `json:"session_id"`
	Seq       int            `json:"seq"`
	Turn      interview.Turn `json:"turn"`
}

// Publisher mirrors appended turns to an external consumer.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// RecorderOption configures a [Recorder].
type RecorderOption func(*Recorder)

// WithPublisher adds a best-effort publisher notified after every successful
// append.
func WithPublisher(p Publisher) RecorderOption {
	return func(r *Recorder) { r.publishers = append(r.publishers, p) }
}

// WithMetrics counts write failures on m.
func WithMetrics(m *observe.Metrics) RecorderOption {
	return func(r *Recorder) { r.metrics = m }
}

// Recorder is the [Logger] handed to sessions. It writes to a [Store], wraps
// failures in [ErrWriteFailure] and fans successful appends out to
// publishers.
type Recorder struct {
	store      Store
	publishers []Publisher
	metrics    *observe.Metrics

	mu   sync.Mutex
	seqs map[string]int // published turns per session
}

// NewRecorder returns a Recorder writing to store.
func NewRecorder(store Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{store: store, seqs: make(map[string]int)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Store returns the underlying store.
func (r *Recorder) Store() Store { return r.store }

// Append implements [Logger].
func (r *Recorder) Append(ctx context.Context, sessionID string, turn interview.Turn) error {
	if err := r.store.Append(ctx, sessionID, turn); err != nil {
		if r.metrics != nil {
			r.metrics.TranscriptWriteFailures.Add(ctx, 1)
		}
		if errors.Is(err, ErrWriteFailure) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrWriteFailure, err)
	}
	if len(r.publishers) == 0 {
		return nil
	}
	r.mu.Lock()
	r.seqs[sessionID]++
	seq := r.seqs[sessionID]
	r.mu.Unlock()

	ev := Event{SessionID: sessionID, Seq: seq, Turn: turn}
	for _, p := range r.publishers {
		if err := p.Publish(ctx, ev); err != nil {
			slog.Warn("turn publish failed", "session_id", sessionID, "seq", seq, "err", err)
		}
	}
	return nil
}

// Begin creates the record for a new session.
func (r *Recorder) Begin(ctx context.Context, rec interview.Record) error {
	return r.store.Create(ctx, rec)
}

// Finish records the terminal status of a session.
func (r *Recorder) Finish(ctx context.Context, id string, status interview.Status) error {
	r.mu.Lock()
	delete(r.seqs, id)
	r.mu.Unlock()
	return r.store.SetStatus(ctx, id, status)
}
