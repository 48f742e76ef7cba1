// Package storetest holds the behavior every repository.Store
// implementation must share. Backends run it from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/testutil"
)

// Opener returns an empty or shared store for one test.
type Opener func(t *testing.T) repository.Store

// Run runs the contract suite against stores from open.
func Run(t *testing.T, open Opener) {
	t.Run("slots", func(t *testing.T) { testSlots(t, open(t)) })
	t.Run("registration upsert", func(t *testing.T) { testRegistrationUpsert(t, open(t)) })
	t.Run("expired registrations", func(t *testing.T) { testExpiredRegistrations(t, open(t)) })
	t.Run("waiting list shift", func(t *testing.T) { testWaitingListShift(t, open(t)) })
	t.Run("promotions", func(t *testing.T) { testPromotions(t, open(t)) })
	t.Run("tokens", func(t *testing.T) { testTokens(t, open(t)) })
	t.Run("reminders", func(t *testing.T) { testReminders(t, open(t)) })
	t.Run("rollback", func(t *testing.T) { testRollback(t, open(t)) })
	t.Run("slot lock serializes seat claims", func(t *testing.T) { testConcurrentSeatClaims(t, open(t)) })
	t.Run("slot lock keeps positions contiguous", func(t *testing.T) { testConcurrentWaitingList(t, open(t)) })
	t.Run("presenter lock spans slots", func(t *testing.T) { testPresenterLock(t, open(t)) })
}

func pending(slotID, presenterID string, expires time.Time) model.Registration {
	return model.Registration{
		SlotID:         slotID,
		PresenterID:    presenterID,
		Details:        testutil.Details(model.DegreePhD),
		Status:         model.StatusPending,
		ApprovalToken:  uuid.NewString(),
		TokenExpiresAt: &expires,
		RegisteredAt:   testutil.Epoch,
	}
}

func testSlots(t *testing.T, store repository.Store) {
	ctx := context.Background()
	slot := testutil.CreateTestSlot(t, store, 3)

	got, err := store.GetSlot(ctx, slot.ID)
	if err != nil {
		t.Fatalf("get slot: %v", err)
	}
	if got.Capacity != 3 || got.Room != slot.Room || got.StartTime != slot.StartTime {
		t.Fatalf("slot = %+v, want %+v", got, slot)
	}
	if !got.Date.Equal(slot.Date) {
		t.Fatalf("date = %v, want %v", got.Date, slot.Date)
	}

	if _, err := store.GetSlot(ctx, uuid.NewString()); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("get missing slot err = %v, want ErrNotFound", err)
	}

	slots, err := store.ListSlots(ctx)
	if err != nil {
		t.Fatalf("list slots: %v", err)
	}
	if !slices.ContainsFunc(slots, func(s model.Slot) bool { return s.ID == slot.ID }) {
		t.Fatalf("list slots missing %s", slot.ID)
	}
}

func testRegistrationUpsert(t *testing.T, store repository.Store) {
	ctx := context.Background()
	slot := testutil.CreateTestSlot(t, store, 2)
	reg := pending(slot.ID, "alice", testutil.Epoch.Add(time.Hour))

	if err := store.InsertRegistration(ctx, reg); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertRegistration(ctx, reg); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("insert over live row err = %v, want ErrConflict", err)
	}

	approved, pendingCount, err := store.CountRegistrations(ctx, slot.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if approved != 0 || pendingCount != 1 {
		t.Fatalf("counts = %d/%d, want 0/1", approved, pendingCount)
	}

	decided := testutil.Epoch.Add(time.Minute)
	reg.Status = model.StatusDeclined
	reg.DecidedAt = &decided
	reg.DeclineReason = "no"
	reg.ApprovalToken = ""
	reg.TokenExpiresAt = nil
	if err := store.UpdateRegistration(ctx, reg); err != nil {
		t.Fatalf("update: %v", err)
	}

	again := pending(slot.ID, "alice", testutil.Epoch.Add(2*time.Hour))
	if err := store.InsertRegistration(ctx, again); err != nil {
		t.Fatalf("re-insert over declined row: %v", err)
	}
	got, err := store.GetRegistration(ctx, slot.ID, "alice")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != model.StatusPending || got.ApprovalToken != again.ApprovalToken {
		t.Fatalf("registration = %v/%q, want PENDING/%q", got.Status, got.ApprovalToken, again.ApprovalToken)
	}
	if got.DecidedAt != nil || got.DeclineReason != "" {
		t.Fatalf("decision fields survived the upsert: %v/%q", got.DecidedAt, got.DeclineReason)
	}

	if err := store.DeleteRegistration(ctx, slot.ID, "alice"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteRegistration(ctx, slot.ID, "alice"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("second delete err = %v, want ErrNotFound", err)
	}
}

func testExpiredRegistrations(t *testing.T, store repository.Store) {
	ctx := context.Background()
	slot := testutil.CreateTestSlot(t, store, 3)
	now := testutil.Epoch.Add(24 * time.Hour)

	for _, r := range []model.Registration{
		pending(slot.ID, "past", now.Add(-time.Second)),
		pending(slot.ID, "boundary", now),
		pending(slot.ID, "future", now.Add(time.Hour)),
	} {
		if err := store.InsertRegistration(ctx, r); err != nil {
			t.Fatalf("insert %s: %v", r.PresenterID, err)
		}
	}

	regs, err := store.ListExpiredRegistrations(ctx, now)
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	var got []string
	for _, r := range regs {
		if r.SlotID == slot.ID {
			got = append(got, r.PresenterID)
		}
	}
	if !slices.Equal(got, []string{"past"}) {
		t.Fatalf("expired = %v, want [past]", got)
	}
}

func testWaitingListShift(t *testing.T, store repository.Store) {
	ctx := context.Background()
	slot := testutil.CreateTestSlot(t, store, 1)

	for i, id := range []string{"a", "b", "c", "d"} {
		err := store.InsertWaitingListEntry(ctx, model.WaitingListEntry{
			SlotID:      slot.ID,
			PresenterID: id,
			Details:     testutil.Details(model.DegreeMSc),
			Position:    i + 1,
			AddedAt:     testutil.Epoch.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	err := store.InTx(ctx, func(q repository.Queries) error {
		if err := q.DeleteWaitingListEntry(ctx, slot.ID, "b"); err != nil {
			return err
		}
		return q.ShiftWaitingList(ctx, slot.ID, 2)
	})
	if err != nil {
		t.Fatalf("remove b: %v", err)
	}

	entries, err := store.ListWaitingList(ctx, slot.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []string{"a", "c", "d"}
	if len(entries) != len(want) {
		t.Fatalf("entries = %d, want %d", len(entries), len(want))
	}
	for i, e := range entries {
		if e.PresenterID != want[i] || e.Position != i+1 {
			t.Fatalf("entry %d = %s@%d, want %s@%d", i, e.PresenterID, e.Position, want[i], i+1)
		}
	}

	n, err := store.CountWaitingList(ctx, slot.ID)
	if err != nil || n != 3 {
		t.Fatalf("count = %d, %v, want 3", n, err)
	}
	ids, err := store.ListSlotsWithWaitingList(ctx)
	if err != nil {
		t.Fatalf("slots with waiting list: %v", err)
	}
	if !slices.Contains(ids, slot.ID) {
		t.Fatalf("slots with waiting list missing %s", slot.ID)
	}
	byPresenter, err := store.ListWaitingListByPresenter(ctx, "c")
	if err != nil || len(byPresenter) == 0 {
		t.Fatalf("by presenter = %v, %v", byPresenter, err)
	}

	dup := entries[0]
	dup.PresenterID = "e"
	if err := store.InsertWaitingListEntry(ctx, dup); !errors.Is(err, repository.ErrConflict) {
		t.Fatalf("duplicate position err = %v, want ErrConflict", err)
	}
}

func testPromotions(t *testing.T, store repository.Store) {
	ctx := context.Background()
	slot := testutil.CreateTestSlot(t, store, 1)
	p := model.Promotion{
		ID:                uuid.NewString(),
		SlotID:            slot.ID,
		PresenterID:       "bob",
		SourcePresenterID: "alice",
		PromotedAt:        testutil.Epoch,
		ExpiresAt:         testutil.Epoch.Add(24 * time.Hour),
		Status:            model.StatusPending,
	}
	if err := store.InsertPromotion(ctx, p); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := store.GetPendingPromotion(ctx, slot.ID, "bob")
	if err != nil {
		t.Fatalf("get pending: %v", err)
	}
	if got.ID != p.ID || got.SourcePresenterID != "alice" {
		t.Fatalf("promotion = %+v, want %+v", got, p)
	}

	expired, err := store.ListExpiredPromotions(ctx, p.ExpiresAt.Add(time.Second))
	if err != nil {
		t.Fatalf("list expired: %v", err)
	}
	if !slices.ContainsFunc(expired, func(e model.Promotion) bool { return e.ID == p.ID }) {
		t.Fatalf("expired promotions missing %s", p.ID)
	}

	if err := store.UpdatePromotionStatus(ctx, p.ID, model.StatusExpired); err != nil {
		t.Fatalf("update: %v", err)
	}
	if _, err := store.GetPendingPromotion(ctx, slot.ID, "bob"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("pending after expiry err = %v, want ErrNotFound", err)
	}
	got, err = store.GetPromotion(ctx, p.ID)
	if err != nil || got.Status != model.StatusExpired {
		t.Fatalf("promotion = %v, %v, want EXPIRED", got.Status, err)
	}
}

func testTokens(t *testing.T, store repository.Store) {
	ctx := context.Background()
	expires := testutil.Epoch.Add(time.Hour)
	tok := model.ApprovalToken{
		Value:       uuid.NewString(),
		Purpose:     model.PurposeRegistration,
		SlotID:      uuid.NewString(),
		PresenterID: "alice",
		ExpiresAt:   expires,
	}

	ok, err := store.InsertToken(ctx, tok)
	if err != nil || !ok {
		t.Fatalf("insert = %v, %v, want true", ok, err)
	}
	ok, err = store.InsertToken(ctx, tok)
	if err != nil || ok {
		t.Fatalf("duplicate insert = %v, %v, want false", ok, err)
	}

	if ok, err := store.ConsumeToken(ctx, tok.Value, expires.Add(time.Second)); err != nil || ok {
		t.Fatalf("consume after expiry = %v, %v, want false", ok, err)
	}
	if ok, err := store.ConsumeToken(ctx, tok.Value, expires); err != nil || !ok {
		t.Fatalf("consume at deadline = %v, %v, want true", ok, err)
	}
	if ok, err := store.ConsumeToken(ctx, tok.Value, expires); err != nil || ok {
		t.Fatalf("second consume = %v, %v, want false", ok, err)
	}

	got, err := store.GetToken(ctx, tok.Value)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ConsumedAt == nil || !got.ConsumedAt.Equal(expires) {
		t.Fatalf("consumed at = %v, want %v", got.ConsumedAt, expires)
	}
	if got.Purpose != model.PurposeRegistration || !got.ExpiresAt.Equal(expires) {
		t.Fatalf("token = %+v", got)
	}
	if _, err := store.GetToken(ctx, "missing"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("get missing err = %v, want ErrNotFound", err)
	}
}

func testReminders(t *testing.T, store repository.Store) {
	ctx := context.Background()
	slotID := uuid.NewString()

	first, err := store.RecordReminder(ctx, slotID, "alice", "2026-03-04", testutil.Epoch)
	if err != nil || !first {
		t.Fatalf("first = %v, %v, want true", first, err)
	}
	again, err := store.RecordReminder(ctx, slotID, "alice", "2026-03-04", testutil.Epoch.Add(time.Hour))
	if err != nil || again {
		t.Fatalf("same day = %v, %v, want false", again, err)
	}
	next, err := store.RecordReminder(ctx, slotID, "alice", "2026-03-05", testutil.Epoch.Add(24*time.Hour))
	if err != nil || !next {
		t.Fatalf("next day = %v, %v, want true", next, err)
	}
}

func testRollback(t *testing.T, store repository.Store) {
	ctx := context.Background()
	slot := testutil.CreateTestSlot(t, store, 1)
	boom := errors.New("boom")

	err := store.InTx(ctx, func(q repository.Queries) error {
		if _, err := q.LockSlot(ctx, slot.ID); err != nil {
			return err
		}
		if err := q.InsertRegistration(ctx, pending(slot.ID, "alice", testutil.Epoch.Add(time.Hour))); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}
	if _, err := store.GetRegistration(ctx, slot.ID, "alice"); !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("registration after rollback err = %v, want ErrNotFound", err)
	}
	err = store.InTx(ctx, func(q repository.Queries) error {
		_, err := q.LockSlot(ctx, uuid.NewString())
		return err
	})
	if !errors.Is(err, repository.ErrNotFound) {
		t.Fatalf("lock missing slot err = %v, want ErrNotFound", err)
	}
}

var errNoRoom = errors.New("no room")

// race runs fn from n goroutines at once and returns their errors.
func race(n int, fn func(i int) error) []error {
	var (
		wg    sync.WaitGroup
		start = make(chan struct{})
		errs  = make([]error, n)
	)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			errs[i] = fn(i)
		}()
	}
	close(start)
	wg.Wait()
	return errs
}

func testConcurrentSeatClaims(t *testing.T, store repository.Store) {
	ctx := context.Background()
	slot := testutil.CreateTestSlot(t, store, 2)

	errs := race(8, func(i int) error {
		return store.InTx(ctx, func(q repository.Queries) error {
			if _, err := q.LockSlot(ctx, slot.ID); err != nil {
				return err
			}
			approved, held, err := q.CountRegistrations(ctx, slot.ID)
			if err != nil {
				return err
			}
			if approved+held >= slot.Capacity {
				return errNoRoom
			}
			return q.InsertRegistration(ctx, pending(slot.ID, fmt.Sprintf("p%d", i), testutil.Epoch.Add(time.Hour)))
		})
	})

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, errNoRoom):
			t.Fatalf("claim err = %v", err)
		}
	}
	if wins != slot.Capacity {
		t.Fatalf("wins = %d, want %d", wins, slot.Capacity)
	}
	approved, pendingCount, err := store.CountRegistrations(ctx, slot.ID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if approved+pendingCount != slot.Capacity {
		t.Fatalf("reserved = %d, want %d", approved+pendingCount, slot.Capacity)
	}
}

func testConcurrentWaitingList(t *testing.T, store repository.Store) {
	ctx := context.Background()
	slot := testutil.CreateTestSlot(t, store, 1)
	const joiners = 10

	join := func(i int) error {
		return store.InTx(ctx, func(q repository.Queries) error {
			if _, err := q.LockSlot(ctx, slot.ID); err != nil {
				return err
			}
			n, err := q.CountWaitingList(ctx, slot.ID)
			if err != nil {
				return err
			}
			return q.InsertWaitingListEntry(ctx, model.WaitingListEntry{
				SlotID:      slot.ID,
				PresenterID: fmt.Sprintf("p%d", i),
				Details:     testutil.Details(model.DegreeMSc),
				Position:    n + 1,
				AddedAt:     testutil.Epoch,
			})
		})
	}
	for _, err := range race(joiners, join) {
		if err != nil {
			t.Fatalf("join: %v", err)
		}
	}

	leave := func(i int) error {
		return store.InTx(ctx, func(q repository.Queries) error {
			if _, err := q.LockSlot(ctx, slot.ID); err != nil {
				return err
			}
			id := fmt.Sprintf("p%d", i*2)
			entry, err := q.GetWaitingListEntry(ctx, slot.ID, id)
			if err != nil {
				return err
			}
			if err := q.DeleteWaitingListEntry(ctx, slot.ID, id); err != nil {
				return err
			}
			return q.ShiftWaitingList(ctx, slot.ID, entry.Position)
		})
	}
	for _, err := range race(joiners/2, leave) {
		if err != nil {
			t.Fatalf("leave: %v", err)
		}
	}

	entries, err := store.ListWaitingList(ctx, slot.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != joiners/2 {
		t.Fatalf("entries = %d, want %d", len(entries), joiners/2)
	}
	for i, e := range entries {
		if e.Position != i+1 {
			t.Fatalf("entry %d (%s) position = %d, want %d", i, e.PresenterID, e.Position, i+1)
		}
	}
}

func testPresenterLock(t *testing.T, store repository.Store) {
	ctx := context.Background()
	slots := []model.Slot{
		testutil.CreateTestSlot(t, store, 1),
		testutil.CreateTestSlot(t, store, 1),
	}
	presenter := "dana-" + uuid.NewString()

	errs := race(len(slots), func(i int) error {
		return store.InTx(ctx, func(q repository.Queries) error {
			if _, err := q.LockSlot(ctx, slots[i].ID); err != nil {
				return err
			}
			if err := q.LockPresenter(ctx, presenter); err != nil {
				return err
			}
			regs, err := q.ListRegistrationsByPresenter(ctx, presenter)
			if err != nil {
				return err
			}
			if len(regs) > 0 {
				return errNoRoom
			}
			return q.InsertRegistration(ctx, pending(slots[i].ID, presenter, testutil.Epoch.Add(time.Hour)))
		})
	})

	wins := 0
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case !errors.Is(err, errNoRoom):
			t.Fatalf("claim err = %v", err)
		}
	}
	if wins != 1 {
		t.Fatalf("wins = %d, want 1", wins)
	}
	regs, err := store.ListRegistrationsByPresenter(ctx, presenter)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(regs) != 1 {
		t.Fatalf("registrations = %d, want 1", len(regs))
	}
}
