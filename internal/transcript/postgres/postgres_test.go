package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/intervox/internal/transcript"
	"github.com/MrWong99/intervox/internal/transcript/postgres"
	"github.com/MrWong99/intervox/internal/transcript/storetest"
)

// testDSN returns the test database DSN from the environment, or skips the
// test if INTERVOX_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("INTERVOX_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("INTERVOX_TEST_POSTGRES_DSN not set, skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestStore(t *testing.T) transcript.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	defer pool.Close()
	if _, err := pool.Exec(ctx, `DROP TABLE IF EXISTS interview_turns, interviews`); err != nil {
		t.Fatalf("drop schema: %v", err)
	}

	store, err := postgres.NewStore(ctx, dsn)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	testDSN(t)
	storetest.Run(t, newTestStore)
}

func TestNewStore_BadDSN(t *testing.T) {
	t.Parallel()
	if _, err := postgres.NewStore(context.Background(), "postgres://%zz"); err == nil {
		t.Fatal("expected error for malformed DSN")
	}
}
