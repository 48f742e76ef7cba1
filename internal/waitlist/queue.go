// Package waitlist maintains the per-slot FIFO waiting list and promotes its
// front entry into a freed seat.
package waitlist

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/apperr"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/capacity"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
)

// Queue is the waiting list. Positions of a slot are kept exactly {1..N}:
// every change runs under the slot row lock and rewrites positions in the
// same transaction.
type Queue struct {
	store repository.Store
}

// NewQueue returns a Queue over store.
func NewQueue(store repository.Store) *Queue {
	return &Queue{store: store}
}

// Join appends presenterID to the slot's waiting list.
func (w *Queue) Join(ctx context.Context, slotID, presenterID string, details model.Details, now time.Time) (model.WaitingListEntry, error) {
	var entry model.WaitingListEntry
	err := w.store.InTx(ctx, func(q repository.Queries) error {
		slot, err := lockSlot(ctx, q, slotID)
		if err != nil {
			return err
		}
		entry, err = JoinLocked(ctx, q, slot, presenterID, details, now)
		return err
	})
	return entry, err
}

// JoinLocked is Join inside a transaction that already holds the slot lock.
func JoinLocked(ctx context.Context, q repository.Queries, slot model.Slot, presenterID string, details model.Details, now time.Time) (model.WaitingListEntry, error) {
	if _, err := q.GetWaitingListEntry(ctx, slot.ID, presenterID); err == nil {
		return model.WaitingListEntry{}, apperr.ErrAlreadyQueued
	} else if !errors.Is(err, repository.ErrNotFound) {
		return model.WaitingListEntry{}, err
	}

	reg, err := q.GetRegistration(ctx, slot.ID, presenterID)
	switch {
	case err == nil && !reg.Status.Terminal():
		return model.WaitingListEntry{}, apperr.ErrAlreadyRegistered
	case err != nil && !errors.Is(err, repository.ErrNotFound):
		return model.WaitingListEntry{}, err
	}

	if err := q.LockPresenter(ctx, presenterID); err != nil {
		return model.WaitingListEntry{}, err
	}
	elsewhere, err := q.ListWaitingListByPresenter(ctx, presenterID)
	if err != nil {
		return model.WaitingListEntry{}, err
	}
	if len(elsewhere) > 0 {
		return model.WaitingListEntry{}, apperr.ErrWaitingListLimit
	}

	approved, pending, err := q.CountRegistrations(ctx, slot.ID)
	if err != nil {
		return model.WaitingListEntry{}, err
	}
	if capacity.HasRoom(slot.Capacity, approved, pending) {
		return model.WaitingListEntry{}, apperr.ErrSlotNotFull
	}

	n, err := q.CountWaitingList(ctx, slot.ID)
	if err != nil {
		return model.WaitingListEntry{}, err
	}
	entry := model.WaitingListEntry{
		SlotID:      slot.ID,
		PresenterID: presenterID,
		Details:     details,
		Position:    n + 1,
		AddedAt:     now,
	}
	if err := q.InsertWaitingListEntry(ctx, entry); err != nil {
		return model.WaitingListEntry{}, err
	}
	return entry, nil
}

// Leave removes presenterID from the slot's waiting list and closes the gap.
func (w *Queue) Leave(ctx context.Context, slotID, presenterID string) error {
	return w.store.InTx(ctx, func(q repository.Queries) error {
		if _, err := lockSlot(ctx, q, slotID); err != nil {
			return err
		}
		_, err := LeaveLocked(ctx, q, slotID, presenterID)
		return err
	})
}

// LeaveLocked is Leave inside a transaction that already holds the slot
// lock. It returns the removed entry.
func LeaveLocked(ctx context.Context, q repository.Queries, slotID, presenterID string) (model.WaitingListEntry, error) {
	entry, err := q.GetWaitingListEntry(ctx, slotID, presenterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.WaitingListEntry{}, apperr.ErrNotQueued
		}
		return model.WaitingListEntry{}, err
	}
	if err := q.DeleteWaitingListEntry(ctx, slotID, presenterID); err != nil {
		return model.WaitingListEntry{}, err
	}
	if err := q.ShiftWaitingList(ctx, slotID, entry.Position); err != nil {
		return model.WaitingListEntry{}, err
	}
	return entry, nil
}

// PeekFront returns the lowest-position entry, or false when the list is
// empty.
func PeekFront(ctx context.Context, q repository.Queries, slotID string) (model.WaitingListEntry, bool, error) {
	entries, err := q.ListWaitingList(ctx, slotID)
	if err != nil {
		return model.WaitingListEntry{}, false, err
	}
	if len(entries) == 0 {
		return model.WaitingListEntry{}, false, nil
	}
	return entries[0], true, nil
}

// List returns the slot's waiting list in position order.
func (w *Queue) List(ctx context.Context, slotID string) ([]model.WaitingListEntry, error) {
	if _, err := w.store.GetSlot(ctx, slotID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.ErrSlotNotFound
		}
		return nil, err
	}
	return w.store.ListWaitingList(ctx, slotID)
}

func lockSlot(ctx context.Context, q repository.Queries, slotID string) (model.Slot, error) {
	slot, err := q.LockSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Slot{}, apperr.ErrSlotNotFound
		}
		return model.Slot{}, fmt.Errorf("lock slot: %w", err)
	}
	return slot, nil
}
