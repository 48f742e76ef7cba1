package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository/postgres"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository/storetest"
)

// openTestStore connects to TEST_DATABASE_URL and applies the schema. Tests
// use fresh IDs, so a shared database is fine.
func openTestStore(t *testing.T) repository.Store {
	t.Helper()

	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	store := postgres.New(pool)
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStoreContract(t *testing.T) {
	storetest.Run(t, openTestStore)
}
