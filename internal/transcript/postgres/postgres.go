// Package postgres is a transcript.Store backed by PostgreSQL via pgx.
//
// [Migrate] creates the interviews and interview_turns tables when missing.
// Appends lock the parent interview row so concurrent writers to the same
// session still get gap-free sequence numbers.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/transcript"
)

var _ transcript.Store = (*Store)(nil)

// Schema is the DDL applied by [Migrate]. Every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS interviews (
    id               TEXT        PRIMARY KEY,
    job_description  TEXT        NOT NULL,
    experience_years INTEGER     NOT NULL,
    candidate_name   TEXT        NOT NULL,
    status           TEXT        NOT NULL,
    summary          TEXT        NOT NULL DEFAULT '',
    score            JSONB,
    created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS interview_turns (
    interview_id TEXT        NOT NULL REFERENCES interviews(id) ON DELETE CASCADE,
    seq          INTEGER     NOT NULL,
    speaker      TEXT        NOT NULL,
    text         TEXT        NOT NULL,
    audio_ref    TEXT        NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (interview_id, seq)
);
`

// Migrate applies [Schema] on pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("postgres transcript: migrate: %w", err)
	}
	return nil
}

// Store is a PostgreSQL-backed transcript.Store. All methods are safe for
// concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to dsn, verifies the connection and runs [Migrate].
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres transcript: parse dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres transcript: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres transcript: ping: %w", err)
	}
	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}
	return &Store{pool: pool}, nil
}

// Create implements transcript.Store.
func (s *Store) Create(ctx context.Context, rec interview.Record) error {
	if rec.Status == "" {
		rec.Status = interview.StatusActive
	}
	const q = `
		INSERT INTO interviews (id, job_description, experience_years, candidate_name, status, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))`
	var created *time.Time
	if !rec.CreatedAt.IsZero() {
		created = &rec.CreatedAt
	}
	if _, err := s.pool.Exec(ctx, q, rec.ID, rec.JobDescription, rec.ExperienceYears,
		rec.CandidateName, string(rec.Status), created); err != nil {
		return fmt.Errorf("postgres transcript: create %q: %w", rec.ID, err)
	}
	return nil
}

// Append implements transcript.Logger.
func (s *Store) Append(ctx context.Context, sessionID string, turn interview.Turn) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var seq int
		err := tx.QueryRow(ctx, `
			SELECT COALESCE((SELECT MAX(seq) FROM interview_turns WHERE interview_id = $1), 0)
			FROM   interviews
			WHERE  id = $1
			FOR UPDATE`, sessionID).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return transcript.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("postgres transcript: next seq: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO interview_turns (interview_id, seq, speaker, text, audio_ref, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			sessionID, seq+1, string(turn.Speaker), turn.Text, turn.AudioRef, turn.Timestamp); err != nil {
			return fmt.Errorf("postgres transcript: insert turn: %w", err)
		}
		if _, err := tx.Exec(ctx, `UPDATE interviews SET updated_at = now() WHERE id = $1`, sessionID); err != nil {
			return fmt.Errorf("postgres transcript: touch: %w", err)
		}
		return nil
	})
}

// Get implements transcript.Store.
func (s *Store) Get(ctx context.Context, id string) (interview.Record, error) {
	var (
		rec    interview.Record
		status string
		score  *string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, job_description, experience_years, candidate_name, status, summary, score::text, created_at, updated_at
		FROM   interviews
		WHERE  id = $1`, id).
		Scan(&rec.ID, &rec.JobDescription, &rec.ExperienceYears, &rec.CandidateName,
			&status, &rec.Summary, &score, &rec.CreatedAt, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return interview.Record{}, transcript.ErrNotFound
	}
	if err != nil {
		return interview.Record{}, fmt.Errorf("postgres transcript: get %q: %w", id, err)
	}
	rec.Status = interview.Status(status)
	if score != nil {
		var sc interview.Scorecard
		if err := json.Unmarshal([]byte(*score), &sc); err != nil {
			return interview.Record{}, fmt.Errorf("postgres transcript: decode score: %w", err)
		}
		rec.Score = &sc
	}

	rows, err := s.pool.Query(ctx, `
		SELECT speaker, text, audio_ref, created_at
		FROM   interview_turns
		WHERE  interview_id = $1
		ORDER  BY seq`, id)
	if err != nil {
		return interview.Record{}, fmt.Errorf("postgres transcript: list turns: %w", err)
	}
	defer rows.Close()

	rec.Turns = []interview.Turn{}
	for rows.Next() {
		var t interview.Turn
		var speaker string
		if err := rows.Scan(&speaker, &t.Text, &t.AudioRef, &t.Timestamp); err != nil {
			return interview.Record{}, fmt.Errorf("postgres transcript: scan turn: %w", err)
		}
		t.Speaker = interview.Speaker(speaker)
		rec.Turns = append(rec.Turns, t)
	}
	if err := rows.Err(); err != nil {
		return interview.Record{}, fmt.Errorf("postgres transcript: list turns: %w", err)
	}
	return rec, nil
}

// SetStatus implements transcript.Store.
func (s *Store) SetStatus(ctx context.Context, id string, status interview.Status) error {
	return s.exec(ctx, "set status",
		`UPDATE interviews SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
}

// SetSummary implements transcript.Store.
func (s *Store) SetSummary(ctx context.Context, id, summary string) error {
	return s.exec(ctx, "set summary",
		`UPDATE interviews SET summary = $2, updated_at = now() WHERE id = $1`, id, summary)
}

// SetScore implements transcript.Store.
func (s *Store) SetScore(ctx context.Context, id string, score interview.Scorecard) error {
	data, err := json.Marshal(score)
	if err != nil {
		return fmt.Errorf("postgres transcript: encode score: %w", err)
	}
	return s.exec(ctx, "set score",
		`UPDATE interviews SET score = $2::jsonb, updated_at = now() WHERE id = $1`, id, string(data))
}

// Ping implements transcript.Store.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close implements transcript.Store.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) exec(ctx context.Context, op, q string, args ...any) error {
	tag, err := s.pool.Exec(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("postgres transcript: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return transcript.ErrNotFound
	}
	return nil
}
