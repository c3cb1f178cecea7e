package sqlite_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/MrWong99/intervox/internal/interview"
	"github.com/MrWong99/intervox/internal/transcript"
	"github.com/MrWong99/intervox/internal/transcript/sqlite"
	"github.com/MrWong99/intervox/internal/transcript/storetest"
)

func open(t *testing.T, path string) *sqlite.Store {
	t.Helper()
	s, err := sqlite.Open(context.Background(), path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) transcript.Store {
		return open(t, filepath.Join(t.TempDir(), "intervox.db"))
	})
}

func TestReopenKeepsTurns(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "intervox.db")
	ctx := context.Background()

	s, err := sqlite.Open(ctx, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Create(ctx, storetest.NewRecord("iv-1")); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Append(ctx, "iv-1", storetest.Turn(interview.Candidate, "hello", 0)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	rec, err := open(t, path).Get(ctx, "iv-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(rec.Turns) != 1 || rec.Turns[0].Speaker != interview.Candidate {
		t.Errorf("turns = %+v", rec.Turns)
	}
}
