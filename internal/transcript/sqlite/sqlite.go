// Package sqlite is a transcript.Store backed by an embedded SQLite database
// (modernc.org/sqlite, no cgo).
//
// Turns live in their own table keyed by (interview_id, seq), so an append
// is a single-row insert inside a transaction rather than a rewrite of the
// whole record.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/transcript"
)

var _ transcript.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS interviews (
    id               TEXT PRIMARY KEY,
    job_description  TEXT NOT NULL,
    experience_years INTEGER NOT NULL,
    candidate_name   TEXT NOT NULL,
    status           TEXT NOT NULL,
    summary          TEXT NOT NULL DEFAULT '',
    score            TEXT,
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS turns (
    interview_id TEXT NOT NULL,
    seq          INTEGER NOT NULL,
    speaker      TEXT NOT NULL,
    text         TEXT NOT NULL,
    audio_ref    TEXT NOT NULL DEFAULT '',
    created_at   TEXT NOT NULL,
    PRIMARY KEY (interview_id, seq),
    FOREIGN KEY (interview_id) REFERENCES interviews(id) ON DELETE CASCADE
);
`

// Store is a SQLite-backed transcript.Store.
type Store struct {
	db    *sql.DB
	clock func() time.Time
}

// Open opens (or creates) the database at path and applies the schema.
func Open(ctx context.Context, path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("sqlite: create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	// SQLite allows one writer; a single connection serialises appends.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: init schema: %w", err)
	}
	return &Store{db: db, clock: time.Now}, nil
}

// Create implements transcript.Store.
func (s *Store) Create(ctx context.Context, rec interview.Record) error {
	now := s.clock().UTC()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.Status == "" {
		rec.Status = interview.StatusActive
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO interviews(id, job_description, experience_years, candidate_name, status, created_at, updated_at)
		 VALUES(?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.JobDescription, rec.ExperienceYears, rec.CandidateName, string(rec.Status),
		formatTime(rec.CreatedAt), formatTime(now))
	if err != nil {
		return fmt.Errorf("sqlite: create %q: %w", rec.ID, err)
	}
	return nil
}

// Append implements transcript.Logger.
func (s *Store) Append(ctx context.Context, sessionID string, turn interview.Turn) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var seq int
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT MAX(seq) FROM turns WHERE interview_id = ?), 0)
		 FROM interviews WHERE id = ?`, sessionID, sessionID).Scan(&seq)
	if errors.Is(err, sql.ErrNoRows) {
		return transcript.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("sqlite: next seq: %w", err)
	}
	ts := turn.Timestamp
	if ts.IsZero() {
		ts = s.clock()
	}
	if _, err = tx.ExecContext(ctx,
		`INSERT INTO turns(interview_id, seq, speaker, text, audio_ref, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		sessionID, seq+1, string(turn.Speaker), turn.Text, turn.AudioRef, formatTime(ts)); err != nil {
		return fmt.Errorf("sqlite: insert turn: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `UPDATE interviews SET updated_at = ? WHERE id = ?`,
		formatTime(s.clock()), sessionID); err != nil {
		return fmt.Errorf("sqlite: touch: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("sqlite: commit: %w", err)
	}
	return nil
}

// Get implements transcript.Store.
func (s *Store) Get(ctx context.Context, id string) (interview.Record, error) {
	var (
		rec              interview.Record
		status, created  string
		updated, summary string
		score            sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, job_description, experience_years, candidate_name, status, summary, score, created_at, updated_at
		 FROM interviews WHERE id = ?`, id).
		Scan(&rec.ID, &rec.JobDescription, &rec.ExperienceYears, &rec.CandidateName,
			&status, &summary, &score, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return interview.Record{}, transcript.ErrNotFound
	}
	if err != nil {
		return interview.Record{}, fmt.Errorf("sqlite: get %q: %w", id, err)
	}
	rec.Status = interview.Status(status)
	rec.Summary = summary
	rec.CreatedAt = parseTime(created)
	rec.UpdatedAt = parseTime(updated)
	if score.Valid && score.String != "" {
		var sc interview.Scorecard
		if err := json.Unmarshal([]byte(score.String), &sc); err != nil {
			return interview.Record{}, fmt.Errorf("sqlite: decode score: %w", err)
		}
		rec.Score = &sc
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT speaker, text, audio_ref, created_at FROM turns WHERE interview_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return interview.Record{}, fmt.Errorf("sqlite: list turns: %w", err)
	}
	defer rows.Close()

	rec.Turns = []interview.Turn{}
	for rows.Next() {
		var t interview.Turn
		var speaker, ts string
		if err := rows.Scan(&speaker, &t.Text, &t.AudioRef, &ts); err != nil {
			return interview.Record{}, fmt.Errorf("sqlite: scan turn: %w", err)
		}
		t.Speaker = interview.Speaker(speaker)
		t.Timestamp = parseTime(ts)
		rec.Turns = append(rec.Turns, t)
	}
	return rec, rows.Err()
}

// SetStatus implements transcript.Store.
func (s *Store) SetStatus(ctx context.Context, id string, status interview.Status) error {
	return s.set(ctx, id, "status", string(status))
}

// SetSummary implements transcript.Store.
func (s *Store) SetSummary(ctx context.Context, id, summary string) error {
	return s.set(ctx, id, "summary", summary)
}

// SetScore implements transcript.Store.
func (s *Store) SetScore(ctx context.Context, id string, score interview.Scorecard) error {
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("sqlite: encode score: %w", err)
	}
	return s.set(ctx, id, "score", string(data))
}

// Ping implements transcript.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close implements transcript.Store.
func (s *Store) Close() error {
	return s.db.Close()
}

// set updates one column. column is always a constant from this package.
func (s *Store) set(ctx context.Context, id, column string, value any) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE interviews SET `+column+` = ?, updated_at = ? WHERE id = ?`,
		value, formatTime(s.clock()), id)
	if err != nil {
		return fmt.Errorf("sqlite: set %s: %w", column, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: set %s: %w", column, err)
	}
	if n == 0 {
		return transcript.ErrNotFound
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
