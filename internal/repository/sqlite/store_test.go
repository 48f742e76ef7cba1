package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository/sqlite"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository/storetest"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/testutil"
)

func TestStoreContract(t *testing.T) {
	t.Parallel()

	storetest.Run(t, func(t *testing.T) repository.Store {
		return testutil.OpenTestStore(t)
	})
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	if _, err := sqlite.Open("  "); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestOpenCreatesDirectoryAndReopens(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dir", "slots.db")
	store, err := sqlite.Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	slot := testutil.CreateTestSlot(t, store, 2)
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	store, err = sqlite.Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer store.Close()
	if _, err := store.GetSlot(context.Background(), slot.ID); err != nil {
		t.Fatalf("slot lost across reopen: %v", err)
	}
}

// Concurrent transactions on one slot never see each other's uncommitted
// counts: exactly capacity inserts succeed.
func TestInTxSerializesWriters(t *testing.T) {
	t.Parallel()

	store := testutil.OpenTestStore(t)
	slot := testutil.CreateTestSlot(t, store, 3)
	ctx := context.Background()

	const workers = 12
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.InTx(ctx, func(q repository.Queries) error {
				if _, err := q.LockSlot(ctx, slot.ID); err != nil {
					return err
				}
				approved, pending, err := q.CountRegistrations(ctx, slot.ID)
				if err != nil {
					return err
				}
				if approved+pending >= slot.Capacity {
					return errFull
				}
				return q.InsertRegistration(ctx, model.Registration{
					SlotID:       slot.ID,
					PresenterID:  string(rune('a' + i)),
					Details:      testutil.Details(model.DegreePhD),
					Status:       model.StatusPending,
					RegisteredAt: testutil.Epoch,
				})
			})
			if err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
				return
			}
			if !errors.Is(err, errFull) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if wins != slot.Capacity {
		t.Fatalf("wins = %d, want %d", wins, slot.Capacity)
	}
}

var errFull = errors.New("full")
