// Package mock provides an in-memory test double for transcript.Store.
//
// AppendErr, when set, is returned by every Append so tests can exercise
// the write-failure path without a real backend.
package mock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/transcript"
)

var _ transcript.Store = (*Store)(nil)

// AppendCall records a single invocation of Store.Append.
type AppendCall struct {
	SessionID string
	Turn      interview.Turn
}

// Store is an in-memory transcript.Store.
type Store struct {
	mu      sync.Mutex
	records map[string]interview.Record

	// AppendErr is returned by Append when non-nil.
	AppendErr error

	// CreateErr is returned by Create when non-nil.
	CreateErr error

	// PingErr is returned by Ping.
	PingErr error

	// Appends records every Append call, including failed ones.
	Appends []AppendCall

	// Statuses records every SetStatus call in order.
	Statuses []interview.Status

	// SummaryWrites and ScoreWrites count cache writes.
	SummaryWrites int
	ScoreWrites   int
}

// Create implements transcript.Store.
func (s *Store) Create(_ context.Context, rec interview.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.CreateErr != nil {
		return s.CreateErr
	}
	if s.records == nil {
		s.records = make(map[string]interview.Record)
	}
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("mock: interview %q already exists", rec.ID)
	}
	rec.Turns = []interview.Turn{}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = rec.CreatedAt
	if rec.Status == "" {
		rec.Status = interview.StatusActive
	}
	s.records[rec.ID] = rec
	return nil
}

// Put inserts or replaces a record including its turns.
func (s *Store) Put(rec interview.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.records == nil {
		s.records = make(map[string]interview.Record)
	}
	s.records[rec.ID] = rec.Clone()
}

// Append implements transcript.Logger.
func (s *Store) Append(_ context.Context, sessionID string, turn interview.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Appends = append(s.Appends, AppendCall{SessionID: sessionID, Turn: turn})
	if s.AppendErr != nil {
		return s.AppendErr
	}
	rec, ok := s.records[sessionID]
	if !ok {
		return transcript.ErrNotFound
	}
	rec.Turns = append(rec.Turns, turn)
	s.records[sessionID] = rec
	return nil
}

// Get implements transcript.Store.
func (s *Store) Get(_ context.Context, id string) (interview.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return interview.Record{}, transcript.ErrNotFound
	}
	return rec.Clone(), nil
}

// SetStatus implements transcript.Store.
func (s *Store) SetStatus(_ context.Context, id string, status interview.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Statuses = append(s.Statuses, status)
	return s.mutate(id, func(r *interview.Record) { r.Status = status })
}

// SetSummary implements transcript.Store.
func (s *Store) SetSummary(_ context.Context, id, summary string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.SummaryWrites++
	return s.mutate(id, func(r *interview.Record) { r.Summary = summary })
}

// SetScore implements transcript.Store.
func (s *Store) SetScore(_ context.Context, id string, score interview.Scorecard) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ScoreWrites++
	return s.mutate(id, func(r *interview.Record) { r.Score = &score })
}

// Ping implements transcript.Store.
func (s *Store) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.PingErr
}

// Close implements transcript.Store.
func (s *Store) Close() error { return nil }

// Turns returns a copy of the stored turns for id.
func (s *Store) Turns(id string) []interview.Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]interview.Turn(nil), s.records[id].Turns...)
}

// AppendCount returns the number of Append calls. Thread-safe.
func (s *Store) AppendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Appends)
}

// LastStatus returns the most recent SetStatus value, or "".
func (s *Store) LastStatus() interview.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.Statuses) == 0 {
		return ""
	}
	return s.Statuses[len(s.Statuses)-1]
}

// mutate must be called with s.mu held.
func (s *Store) mutate(id string, fn func(*interview.Record)) error {
	rec, ok := s.records[id]
	if !ok {
		return transcript.ErrNotFound
	}
	fn(&rec)
	rec.UpdatedAt = time.Now().UTC()
	s.records[id] = rec
	return nil
}
