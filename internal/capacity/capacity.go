// Package capacity derives a slot's fullness from its registration counts.
// A PENDING registration reserves a seat exactly like an APPROVED one.
package capacity

import "github.com/Shivanand-hulikatti/seminar-slots/internal/model"

// State returns FREE when nothing is reserved, FULL when reservations reach
// capacity, SEMI otherwise.
func State(capacity, approved, pending int) model.SlotState {
	reserved := approved + pending
	switch {
	case approved == 0 && pending == 0:
		return model.SlotFree
	case reserved >= capacity:
		return model.SlotFull
	default:
		return model.SlotSemi
	}
}

// Available returns the number of unreserved seats, never negative.
func Available(capacity, approved, pending int) int {
	return max(0, capacity-(approved+pending))
}

// HasRoom reports whether at least one seat is unreserved.
func HasRoom(capacity, approved, pending int) bool {
	return Available(capacity, approved, pending) > 0
}

// View combines a slot with freshly read counts.
func View(slot model.Slot, approved, pending, waiting int) model.SlotView {
	return model.SlotView{
		Slot:         slot,
		State:        State(slot.Capacity, approved, pending),
		Approved:     approved,
		Pending:      pending,
		Available:    Available(slot.Capacity, approved, pending),
		WaitingCount: waiting,
	}
}
