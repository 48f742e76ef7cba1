// Package apperr defines the error taxonomy shared by the registration core
// and the HTTP layer.
package apperr

import (
	"errors"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
)

// Kind groups errors by how a caller should react to them.
type Kind uint8

const (
	KindInternal Kind = iota
	KindValidation
	KindToken
	KindCapacityConflict
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindToken:
		return "token"
	case KindCapacityConflict:
		return "capacity_conflict"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

// Error is a business-rule violation. Instances are sentinels compared with
// errors.Is.
type Error struct {
	Kind Kind
	Code string
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind Kind, code, msg string) *Error {
	return &Error{Kind: kind, Code: code, Msg: msg}
}

var (
	// ErrSlotFull means the slot has no room; the caller may join the waiting list.
	ErrSlotFull = newError(KindValidation, "slot_full", "slot is full; join the waiting list instead")
	// ErrAlreadyRegistered means the presenter holds a live registration for the slot.
	ErrAlreadyRegistered = newError(KindValidation, "already_registered", "presenter is already registered for this slot")
	// ErrApprovedLimit means the presenter reached the approved-registration cap.
	ErrApprovedLimit = newError(KindValidation, "approved_limit", "presenter already holds the maximum number of approved registrations")
	// ErrPendingLimit means the presenter reached the pending cap for their degree.
	ErrPendingLimit = newError(KindValidation, "pending_limit", "presenter already holds the maximum number of pending registrations for their degree")
	// ErrSlotNotFull means a waiting-list join was attempted while seats remain.
	ErrSlotNotFull = newError(KindValidation, "slot_not_full", "slot still has room; register directly")
	// ErrAlreadyQueued means the presenter is already on this slot's waiting list.
	ErrAlreadyQueued = newError(KindValidation, "already_queued", "presenter is already on the waiting list for this slot")
	// ErrWaitingListLimit means the presenter is queued on another slot.
	ErrWaitingListLimit = newError(KindValidation, "waiting_list_limit", "presenter can only be on one waiting list at a time")
	// ErrInvalidInput covers malformed request fields.
	ErrInvalidInput = newError(KindValidation, "invalid_input", "invalid input")

	// ErrTokenNotFound means the token was never issued.
	ErrTokenNotFound = newError(KindToken, "token_not_found", "approval token not found")
	// ErrTokenExpired means the token's approval window has passed.
	ErrTokenExpired = newError(KindToken, "token_expired", "approval token has expired")
	// ErrTokenAlreadyUsed means the token was consumed before.
	ErrTokenAlreadyUsed = newError(KindToken, "token_already_used", "approval token has already been used")

	// ErrCapacityConflict means a concurrent writer won the race for the slot.
	ErrCapacityConflict = newError(KindCapacityConflict, "capacity_conflict", "slot changed concurrently; retry or join the waiting list")

	// ErrSlotNotFound means the slot does not exist.
	ErrSlotNotFound = newError(KindNotFound, "slot_not_found", "slot not found")
	// ErrRegistrationNotFound means the presenter has no registration on the slot.
	ErrRegistrationNotFound = newError(KindNotFound, "registration_not_found", "registration not found")
	// ErrNotQueued means the presenter is not on the slot's waiting list.
	ErrNotQueued = newError(KindNotFound, "not_queued", "presenter is not on the waiting list for this slot")
)

// KindOf classifies err. Unknown errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	if errors.Is(err, model.ErrInvalidTransition) {
		return KindValidation
	}
	return KindInternal
}

// CodeOf returns the stable code of err, or "internal".
func CodeOf(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	if errors.Is(err, model.ErrInvalidTransition) {
		return "invalid_transition"
	}
	return "internal"
}
