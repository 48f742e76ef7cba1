// Package testutil provides fixtures shared by package tests: temp-file
// SQLite stores, slot builders and a controllable clock.
package testutil

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository/sqlite"
)

// Epoch is the fixed start time of every test clock.
var Epoch = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

// OpenTestStore opens an empty SQLite store in the test's temp dir.
func OpenTestStore(t *testing.T) *sqlite.Store {
	t.Helper()

	store, err := sqlite.Open(filepath.Join(t.TempDir(), "slots.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
	return store
}

// SlotCreator is the part of a store needed to seed slots.
type SlotCreator interface {
	CreateSlot(ctx context.Context, slot model.Slot) error
}

// CreateTestSlot inserts a slot with the given capacity and returns it.
func CreateTestSlot(t *testing.T, store SlotCreator, capacity int) model.Slot {
	t.Helper()

	slot := model.Slot{
		ID:        uuid.NewString(),
		Date:      time.Date(2026, time.March, 16, 0, 0, 0, 0, time.UTC),
		StartTime: "14:00",
		EndTime:   "15:30",
		Building:  "Engineering",
		Room:      "E-101",
		Capacity:  capacity,
		CreatedAt: Epoch,
	}
	if err := store.CreateSlot(context.Background(), slot); err != nil {
		t.Fatalf("create slot: %v", err)
	}
	return slot
}

// Details returns valid registration details for a presenter.
func Details(degree model.Degree) model.Details {
	return model.Details{
		Degree:          degree,
		Topic:           "Graph neural networks",
		SupervisorName:  "Dr. Levi",
		SupervisorEmail: "supervisor@example.edu",
		PresenterEmail:  "presenter@example.edu",
	}
}

// Clock is a settable time source safe for concurrent use.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock stopped at Epoch.
func NewClock() *Clock {
	return &Clock{now: Epoch}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set moves the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
