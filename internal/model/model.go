// Package model defines the core domain types for seminar slot registration.
package model

import (
	"strings"
	"time"
)

// Slot is a scheduled presentation time and room with a fixed capacity.
// Its fullness is always derived from registration counts, never stored.
type Slot struct {
	ID        string    `json:"id"`
	Date      time.Time `json:"date"`
	StartTime string    `json:"start_time"`
	EndTime   string    `json:"end_time"`
	Building  string    `json:"building"`
	Room      string    `json:"room"`
	Capacity  int       `json:"capacity"`
	CreatedAt time.Time `json:"created_at"`
}

// SlotState is the derived fullness of a slot.
type SlotState string

const (
	SlotFree SlotState = "FREE"
	SlotSemi SlotState = "SEMI"
	SlotFull SlotState = "FULL"
)

// SlotView is a slot together with the counts its state is derived from.
type SlotView struct {
	Slot
	State        SlotState `json:"state"`
	Approved     int       `json:"approved_count"`
	Pending      int       `json:"pending_count"`
	Available    int       `json:"available"`
	WaitingCount int       `json:"waiting_count"`
}

// Degree is the presenter's degree class. Pending-registration caps are
// keyed by it.
type Degree string

const (
	DegreePhD Degree = "PHD"
	DegreeMSc Degree = "MSC"
)

// NormalizeDegree upper-cases and trims a degree label.
func NormalizeDegree(raw string) Degree {
	return Degree(strings.ToUpper(strings.TrimSpace(raw)))
}

// Details is what a presenter submits when registering or queueing.
type Details struct {
	Degree          Degree `json:"degree"`
	Topic           string `json:"topic"`
	SupervisorName  string `json:"supervisor_name"`
	SupervisorEmail string `json:"supervisor_email"`
	PresenterEmail  string `json:"presenter_email"`
}

// Registration is a presenter's claim on a slot, gated by supervisor
// approval. It is keyed by (SlotID, PresenterID).
type Registration struct {
	SlotID             string     `json:"slot_id"`
	PresenterID        string     `json:"presenter_id"`
	Details            Details    `json:"details"`
	Status             Status     `json:"status"`
	ApprovalToken      string     `json:"-"`
	TokenExpiresAt     *time.Time `json:"token_expires_at,omitempty"`
	RegisteredAt       time.Time  `json:"registered_at"`
	LastReminderSentAt *time.Time `json:"last_reminder_sent_at,omitempty"`
	DecidedAt          *time.Time `json:"decided_at,omitempty"`
	DeclineReason      string     `json:"decline_reason,omitempty"`
}

// LastContact is the time the supervisor was last asked to act.
func (r Registration) LastContact() time.Time {
	if r.LastReminderSentAt != nil {
		return *r.LastReminderSentAt
	}
	return r.RegisteredAt
}

// WaitingListEntry is one presenter queued for a full slot. Positions of a
// slot's entries form exactly {1..N}.
type WaitingListEntry struct {
	SlotID      string    `json:"slot_id"`
	PresenterID string    `json:"presenter_id"`
	Details     Details   `json:"details"`
	Position    int       `json:"position"`
	AddedAt     time.Time `json:"added_at"`
}

// Promotion records one offer of a freed seat to the front of the waiting
// list. Its shadow registration is (SlotID, PresenterID); SourcePresenterID
// is the registration whose vacancy triggered it, empty when the seat was
// found free by a scheduler reconcile pass with no single source.
type Promotion struct {
	ID                string    `json:"id"`
	SlotID            string    `json:"slot_id"`
	PresenterID       string    `json:"presenter_id"`
	SourcePresenterID string    `json:"source_presenter_id"`
	PromotedAt        time.Time `json:"promoted_at"`
	ExpiresAt         time.Time `json:"expires_at"`
	Status            Status    `json:"status"`
}

// TokenPurpose says what an approval token acts on.
type TokenPurpose string

const (
	PurposeRegistration TokenPurpose = "registration"
	PurposePromotion    TokenPurpose = "promotion"
)

// ApprovalToken is a single-use, time-limited credential.
type ApprovalToken struct {
	Value       string
	Purpose     TokenPurpose
	SlotID      string
	PresenterID string
	PromotionID string
	ExpiresAt   time.Time
	ConsumedAt  *time.Time
}

// CreateSlotRequest is the payload for creating a slot.
type CreateSlotRequest struct {
	Date      string `json:"date"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Building  string `json:"building"`
	Room      string `json:"room"`
	Capacity  int    `json:"capacity"`
}

// RegisterRequest is the payload for registering or joining a waiting list.
type RegisterRequest struct {
	PresenterID string `json:"presenter_id"`
	Details
}

// DeclineRequest optionally carries the supervisor's reason.
type DeclineRequest struct {
	Reason string `json:"reason"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
