package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidTransition is returned for any status change other than
// PENDING to a terminal status.
var ErrInvalidTransition = errors.New("invalid status transition")

// Status is the approval state shared by registrations and promotions.
// PENDING is the only non-terminal state.
type Status uint8

const (
	StatusUnknown Status = iota
	StatusPending
	StatusApproved
	StatusDeclined
	StatusExpired
)

// ParseStatus converts a persisted status name.
func ParseStatus(raw string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(raw)) {
	case "PENDING":
		return StatusPending, nil
	case "APPROVED":
		return StatusApproved, nil
	case "DECLINED":
		return StatusDeclined, nil
	case "EXPIRED":
		return StatusExpired, nil
	default:
		return StatusUnknown, fmt.Errorf("unknown status %q", raw)
	}
}

func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusApproved:
		return "APPROVED"
	case StatusDeclined:
		return "DECLINED"
	case StatusExpired:
		return "EXPIRED"
	default:
		return "UNKNOWN"
	}
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	switch s {
	case StatusApproved, StatusDeclined, StatusExpired:
		return true
	default:
		return false
	}
}

// Transition returns the next status or ErrInvalidTransition.
func (s Status) Transition(to Status) (Status, error) {
	switch s {
	case StatusPending:
		switch to {
		case StatusApproved, StatusDeclined, StatusExpired:
			return to, nil
		}
	case StatusApproved, StatusDeclined, StatusExpired, StatusUnknown:
	}
	return s, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s, to)
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(text []byte) error {
	parsed, err := ParseStatus(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}
