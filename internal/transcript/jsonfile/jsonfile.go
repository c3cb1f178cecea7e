// Package jsonfile stores interview records in a single JSON document keyed
// by interview ID. Every mutation rewrites the document through a temporary
// file that is renamed over the original, so readers and crashes never see a
// half-written file.
package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/transcript"
)

var _ transcript.Store = (*Store)(nil)

// Store is a file-backed transcript.Store. Safe for concurrent use within one
// process; the file must not be shared between processes.
type Store struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	records map[string]interview.Record
}

// Open loads path, creating its directory when needed. A missing or empty
// file starts an empty store.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("jsonfile: create dir: %w", err)
		}
	}
	s := &Store{path: path, now: time.Now, records: make(map[string]interview.Record)}

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("jsonfile: read: %w", err)
	}
	if len(data) == 0 {
		return s, nil
	}
	if err := json.Unmarshal(data, &s.records); err != nil {
		return nil, fmt.Errorf("jsonfile: decode %s: %w", path, err)
	}
	return s, nil
}

// Create implements transcript.Store.
func (s *Store) Create(_ context.Context, rec interview.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[rec.ID]; ok {
		return fmt.Errorf("jsonfile: interview %q already exists", rec.ID)
	}
	now := s.now().UTC()
	rec.Turns = []interview.Turn{}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	if rec.Status == "" {
		rec.Status = interview.StatusActive
	}
	s.records[rec.ID] = rec
	if err := s.flush(); err != nil {
		delete(s.records, rec.ID)
		return err
	}
	return nil
}

// Append implements transcript.Logger.
func (s *Store) Append(_ context.Context, sessionID string, turn interview.Turn) error {
	return s.update(sessionID, func(r *interview.Record) {
		r.Turns = append(r.Turns, turn)
	})
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
	return s.update(id, func(r *interview.Record) { r.Status = status })
}

// SetSummary implements transcript.Store.
func (s *Store) SetSummary(_ context.Context, id, summary string) error {
	return s.update(id, func(r *interview.Record) { r.Summary = summary })
}

// SetScore implements transcript.Store.
func (s *Store) SetScore(_ context.Context, id string, score interview.Scorecard) error {
	return s.update(id, func(r *interview.Record) { r.Score = &score })
}

// Ping checks that the directory is still writable.
func (s *Store) Ping(context.Context) error {
	f, err := os.CreateTemp(filepath.Dir(s.path), ".ping-*")
	if err != nil {
		return fmt.Errorf("jsonfile: %w", err)
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}

// Close implements transcript.Store.
func (s *Store) Close() error { return nil }

// update applies fn to a copy of the record and keeps it only if the file
// write succeeds.
func (s *Store) update(id string, fn func(*interview.Record)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	old, ok := s.records[id]
	if !ok {
		return transcript.ErrNotFound
	}
	rec := old.Clone()
	fn(&rec)
	rec.UpdatedAt = s.now().UTC()
	s.records[id] = rec
	if err := s.flush(); err != nil {
		s.records[id] = old
		return err
	}
	return nil
}

// flush writes all records to a temp file and renames it over path.
// Callers hold s.mu.
func (s *Store) flush() error {
	data, err := json.MarshalIndent(s.records, "", "  ")
	if err != nil {
		return fmt.Errorf("jsonfile: encode: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("jsonfile: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: write: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("jsonfile: sync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("jsonfile: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("jsonfile: rename: %w", err)
	}
	return nil
}
