package token_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/apperr"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/testutil"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/token"
)

func grant(slotID string) token.Grant {
	return token.Grant{Purpose: model.PurposeRegistration, SlotID: slotID, PresenterID: "alice"}
}

func TestGenerateIsURLSafeAndUnique(t *testing.T) {
	t.Parallel()

	m := token.NewManager()
	seen := make(map[string]bool)
	for range 100 {
		v, err := m.Generate()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if len(v) != 43 {
			t.Fatalf("len = %d, want 43", len(v))
		}
		for _, r := range v {
			if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9' || r == '-' || r == '_') {
				t.Fatalf("token %q contains %q", v, r)
			}
		}
		if seen[v] {
			t.Fatalf("duplicate token %q", v)
		}
		seen[v] = true
	}
}

func TestConsumeOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := testutil.OpenTestStore(t)
	m := token.NewManager()
	now := testutil.Epoch

	issued, err := m.Issue(ctx, store, grant("slot-1"), now, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !issued.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires at = %v, want %v", issued.ExpiresAt, now.Add(time.Hour))
	}

	got, err := m.Consume(ctx, store, issued.Value, now.Add(time.Minute))
	if err != nil {
		t.Fatalf("consume: %v", err)
	}
	if got.SlotID != "slot-1" || got.PresenterID != "alice" || got.Purpose != model.PurposeRegistration {
		t.Fatalf("unexpected grant: %+v", got)
	}

	if _, err := m.Consume(ctx, store, issued.Value, now.Add(2*time.Minute)); !errors.Is(err, apperr.ErrTokenAlreadyUsed) {
		t.Fatalf("second consume = %v, want %v", err, apperr.ErrTokenAlreadyUsed)
	}
}

func TestConsumeErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := testutil.OpenTestStore(t)
	m := token.NewManager()
	now := testutil.Epoch

	if _, err := m.Consume(ctx, store, "missing", now); !errors.Is(err, apperr.ErrTokenNotFound) {
		t.Fatalf("unknown token = %v, want %v", err, apperr.ErrTokenNotFound)
	}
	if _, err := m.Consume(ctx, store, "", now); !errors.Is(err, apperr.ErrTokenNotFound) {
		t.Fatalf("empty token = %v, want %v", err, apperr.ErrTokenNotFound)
	}

	issued, err := m.Issue(ctx, store, grant("slot-1"), now, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// Expiry is inclusive of the deadline itself.
	if _, err := m.Consume(ctx, store, issued.Value, now.Add(time.Hour+time.Second)); !errors.Is(err, apperr.ErrTokenExpired) {
		t.Fatalf("expired token = %v, want %v", err, apperr.ErrTokenExpired)
	}
	if _, err := m.Consume(ctx, store, issued.Value, now.Add(time.Hour)); err != nil {
		t.Fatalf("consume at deadline: %v", err)
	}
}

func TestRevoke(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := testutil.OpenTestStore(t)
	m := token.NewManager()
	now := testutil.Epoch

	issued, err := m.Issue(ctx, store, grant("slot-1"), now, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := m.Revoke(ctx, store, issued.Value, now); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if _, err := m.Consume(ctx, store, issued.Value, now); !errors.Is(err, apperr.ErrTokenAlreadyUsed) {
		t.Fatalf("consume revoked = %v, want %v", err, apperr.ErrTokenAlreadyUsed)
	}
	if err := m.Revoke(ctx, store, "missing", now); err != nil {
		t.Fatalf("revoke unknown: %v", err)
	}

	stale, err := m.Issue(ctx, store, grant("slot-2"), now, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if err := m.Revoke(ctx, store, stale.Value, now.Add(48*time.Hour)); err != nil {
		t.Fatalf("revoke expired: %v", err)
	}
	tok, err := store.GetToken(ctx, stale.Value)
	if err != nil {
		t.Fatalf("get token: %v", err)
	}
	if tok.ConsumedAt == nil {
		t.Fatal("expired token was not revoked")
	}
}

func TestConcurrentConsumeExactlyOneWins(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := testutil.OpenTestStore(t)
	m := token.NewManager()
	now := testutil.Epoch

	issued, err := m.Issue(ctx, store, grant("slot-1"), now, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	const workers = 10
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		usedErrs  atomic.Int32
	)
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := m.Consume(ctx, store, issued.Value, now)
			switch {
			case err == nil:
				successes.Add(1)
			case errors.Is(err, apperr.ErrTokenAlreadyUsed):
				usedErrs.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()

	if successes.Load() != 1 {
		t.Fatalf("successes = %d, want 1", successes.Load())
	}
	if usedErrs.Load() != workers-1 {
		t.Fatalf("already used = %d, want %d", usedErrs.Load(), workers-1)
	}
}

func TestLookupDoesNotConsume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := testutil.OpenTestStore(t)
	m := token.NewManager()
	now := testutil.Epoch

	issued, err := m.Issue(ctx, store, grant("slot-1"), now, time.Hour)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	got, err := m.Lookup(ctx, store, issued.Value)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.SlotID != "slot-1" || got.ConsumedAt != nil {
		t.Fatalf("token = %+v, want unconsumed grant for slot-1", got)
	}
	if _, err := m.Consume(ctx, store, issued.Value, now); err != nil {
		t.Fatalf("consume after lookup: %v", err)
	}
	for _, v := range []string{"", "missing"} {
		if _, err := m.Lookup(ctx, store, v); !errors.Is(err, apperr.ErrTokenNotFound) {
			t.Fatalf("lookup(%q) = %v, want %v", v, err, apperr.ErrTokenNotFound)
		}
	}
}
