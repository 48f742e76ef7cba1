// Package repository defines the persistence contract for slots,
// registrations, waiting lists, promotions, approval tokens and reminder
// bookkeeping. Implementations live in the postgres and sqlite subpackages.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write lost a race with a concurrent
// transaction (serialization failure, lock timeout, unique violation).
// The whole transaction has been rolled back and may be retried.
var ErrConflict = errors.New("concurrent write conflict")

// Queries is every read and write the core performs. Inside InTx the
// methods run in one transaction; LockSlot then holds the slot's row lock
// until commit, which makes the (slot, registrations, waiting list) tuple
// the unit of mutual exclusion.
type Queries interface {
	CreateSlot(ctx context.Context, slot model.Slot) error
	GetSlot(ctx context.Context, slotID string) (model.Slot, error)
	ListSlots(ctx context.Context) ([]model.Slot, error)
	LockSlot(ctx context.Context, slotID string) (model.Slot, error)
	// LockPresenter serializes cap checks for one presenter across slots
	// until the transaction ends. Take it after LockSlot, never before.
	LockPresenter(ctx context.Context, presenterID string) error
	ListSlotsWithWaitingList(ctx context.Context) ([]string, error)

	CountRegistrations(ctx context.Context, slotID string) (approved, pending int, err error)
	GetRegistration(ctx context.Context, slotID, presenterID string) (model.Registration, error)
	ListRegistrationsBySlot(ctx context.Context, slotID string) ([]model.Registration, error)
	ListRegistrationsByPresenter(ctx context.Context, presenterID string) ([]model.Registration, error)
	ListPendingRegistrations(ctx context.Context) ([]model.Registration, error)
	ListExpiredRegistrations(ctx context.Context, now time.Time) ([]model.Registration, error)
	// InsertRegistration creates the row, replacing a terminal row with the
	// same key.
	InsertRegistration(ctx context.Context, reg model.Registration) error
	UpdateRegistration(ctx context.Context, reg model.Registration) error
	DeleteRegistration(ctx context.Context, slotID, presenterID string) error

	CountWaitingList(ctx context.Context, slotID string) (int, error)
	ListWaitingList(ctx context.Context, slotID string) ([]model.WaitingListEntry, error)
	GetWaitingListEntry(ctx context.Context, slotID, presenterID string) (model.WaitingListEntry, error)
	ListWaitingListByPresenter(ctx context.Context, presenterID string) ([]model.WaitingListEntry, error)
	InsertWaitingListEntry(ctx context.Context, entry model.WaitingListEntry) error
	DeleteWaitingListEntry(ctx context.Context, slotID, presenterID string) error
	// ShiftWaitingList decrements the position of every entry of the slot
	// whose position is greater than afterPosition.
	ShiftWaitingList(ctx context.Context, slotID string, afterPosition int) error

	InsertPromotion(ctx context.Context, promotion model.Promotion) error
	GetPromotion(ctx context.Context, promotionID string) (model.Promotion, error)
	GetPendingPromotion(ctx context.Context, slotID, presenterID string) (model.Promotion, error)
	UpdatePromotionStatus(ctx context.Context, promotionID string, status model.Status) error
	ListExpiredPromotions(ctx context.Context, now time.Time) ([]model.Promotion, error)

	// InsertToken stores a token and reports false when the value is
	// already taken.
	InsertToken(ctx context.Context, token model.ApprovalToken) (bool, error)
	GetToken(ctx context.Context, value string) (model.ApprovalToken, error)
	// ConsumeToken marks the token consumed if it is unconsumed and not
	// expired at now, as one conditional write. It reports whether this
	// call performed the consumption.
	ConsumeToken(ctx context.Context, value string, now time.Time) (bool, error)

	// RecordReminder registers a reminder for the registration on day
	// (YYYY-MM-DD) and reports false if one was already recorded.
	RecordReminder(ctx context.Context, slotID, presenterID, day string, sentAt time.Time) (bool, error)
}

// Store is a Queries bound to a connection pool plus transactions.
type Store interface {
	Queries
	// InTx runs fn in one transaction. fn must only use the Queries it is
	// given. The transaction commits when fn returns nil.
	InTx(ctx context.Context, fn func(q Queries) error) error
	Close() error
}
