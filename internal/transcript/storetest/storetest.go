// Package storetest holds the behavioural tests every transcript.Store
// backend must pass.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/transcript"
)

// Run exercises a fresh store returned by newStore for every subtest.
func Run(t *testing.T, newStore func(t *testing.T) transcript.Store) {
	t.Helper()

	t.Run("CreateAndGet", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		rec := NewRecord("iv-1")
		if err := s.Create(ctx, rec); err != nil {
			t.Fatalf("Create: %v", err)
		}
		got, err := s.Get(ctx, "iv-1")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.ID != "iv-1" || got.CandidateName != "Alex" || got.ExperienceYears != 3 {
			t.Errorf("record = %+v", got)
		}
		if got.Status != interview.StatusActive {
			t.Errorf("status = %q, want active", got.Status)
		}
		if len(got.Turns) != 0 {
			t.Errorf("turns = %d, want 0", len(got.Turns))
		}
		if got.CreatedAt.IsZero() {
			t.Error("created_at not set")
		}
	})

	t.Run("GetUnknown", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(context.Background(), "missing"); !errors.Is(err, transcript.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("AppendKeepsOrder", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustCreate(t, s, "iv-2")
		want := []interview.Turn{
			Turn(interview.Candidate, "I have three years of Go experience", 0),
			Turn(interview.Interviewer, "Tell me about a challenging concurrency bug you fixed.", 1),
			Turn(interview.Candidate, "A deadlock in a worker pool.", 2),
		}
		want[1].AudioRef = "iv-2/0002.wav"
		for _, turn := range want {
			if err := s.Append(ctx, "iv-2", turn); err != nil {
				t.Fatalf("Append: %v", err)
			}
		}
		got, err := s.Get(ctx, "iv-2")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if len(got.Turns) != len(want) {
			t.Fatalf("turns = %d, want %d", len(got.Turns), len(want))
		}
		for i := range want {
			g, w := got.Turns[i], want[i]
			if g.Speaker != w.Speaker || g.Text != w.Text || g.AudioRef != w.AudioRef || !g.Timestamp.Equal(w.Timestamp) {
				t.Errorf("turn %d = %+v, want %+v", i, g, w)
			}
		}
	})

	t.Run("AppendUnknown", func(t *testing.T) {
		s := newStore(t)
		err := s.Append(context.Background(), "missing", Turn(interview.Candidate, "hi", 0))
		if err == nil {
			t.Fatal("expected error appending to unknown interview")
		}
	})

	t.Run("GetReturnsCopy", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustCreate(t, s, "iv-3")
		_ = s.Append(ctx, "iv-3", Turn(interview.Candidate, "original", 0))
		got, _ := s.Get(ctx, "iv-3")
		got.Turns[0].Text = "mutated"
		again, _ := s.Get(ctx, "iv-3")
		if again.Turns[0].Text != "original" {
			t.Error("mutating a returned record changed the store")
		}
	})

	t.Run("StatusSummaryScore", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		mustCreate(t, s, "iv-4")
		if err := s.SetStatus(ctx, "iv-4", interview.StatusClosed); err != nil {
			t.Fatalf("SetStatus: %v", err)
		}
		if err := s.SetSummary(ctx, "iv-4", "- strong Go background"); err != nil {
			t.Fatalf("SetSummary: %v", err)
		}
		score := interview.Scorecard{
			Overall:       interview.Rating{Value: 7, Scale: 10},
			Communication: interview.Rating{Value: 8, Scale: 10},
			Relevance:     interview.Rating{Value: 7, Scale: 10},
			Technical:     interview.Rating{Value: 6, Scale: 10},
			Confidence:    interview.Rating{Value: 7, Scale: 10},
			NextSteps:     []string{"system design round"},
		}
		if err := s.SetScore(ctx, "iv-4", score); err != nil {
			t.Fatalf("SetScore: %v", err)
		}
		got, err := s.Get(ctx, "iv-4")
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if got.Status != interview.StatusClosed || got.Summary != "- strong Go background" {
			t.Errorf("record = %+v", got)
		}
		if got.Score == nil || got.Score.Technical.Value != 6 || len(got.Score.NextSteps) != 1 {
			t.Errorf("score = %+v", got.Score)
		}
		if !errors.Is(s.SetStatus(ctx, "missing", interview.StatusClosed), transcript.ErrNotFound) {
			t.Error("SetStatus on unknown id should return ErrNotFound")
		}
	})

	t.Run("ConcurrentAppends", func(t *testing.T) {
		s := newStore(t)
		ctx := context.Background()
		ids := []string{"iv-a", "iv-b", "iv-c"}
		for _, id := range ids {
			mustCreate(t, s, id)
		}
		const perSession = 10
		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				for i := range perSession {
					if err := s.Append(ctx, id, Turn(interview.Candidate, fmt.Sprintf("turn %d", i), i)); err != nil {
						t.Errorf("Append(%s): %v", id, err)
						return
					}
				}
			}(id)
		}
		wg.Wait()
		for _, id := range ids {
			got, err := s.Get(ctx, id)
			if err != nil {
				t.Fatalf("Get: %v", err)
			}
			if len(got.Turns) != perSession {
				t.Fatalf("%s turns = %d, want %d", id, len(got.Turns), perSession)
			}
			for i, turn := range got.Turns {
				if turn.Text != fmt.Sprintf("turn %d", i) {
					t.Errorf("%s turn %d = %q", id, i, turn.Text)
				}
			}
		}
	})

	t.Run("Ping", func(t *testing.T) {
		if err := newStore(t).Ping(context.Background()); err != nil {
			t.Errorf("Ping: %v", err)
		}
	})
}

// NewRecord returns an active record for the Alex scenario.
func NewRecord(id string) interview.Record {
	return interview.Record{
		ID: id,
		Context: interview.Context{
			JobDescription:  "Backend Engineer",
			ExperienceYears: 3,
			CandidateName:   "Alex",
		},
		Status: interview.StatusActive,
	}
}

// Turn returns a turn with a deterministic timestamp.
func Turn(speaker interview.Speaker, text string, n int) interview.Turn {
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return interview.Turn{Speaker: speaker, Text: text, Timestamp: base.Add(time.Duration(n) * time.Second)}
}

func mustCreate(t *testing.T, s transcript.Store, id string) {
	t.Helper()
	if err := s.Create(context.Background(), NewRecord(id)); err != nil {
		t.Fatalf("Create(%s): %v", id, err)
	}
}
