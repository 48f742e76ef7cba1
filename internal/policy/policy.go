// Package policy holds the per-presenter registration caps and approval
// windows. Values are supplied at construction; nothing here reads the
// environment.
package policy

import (
	"time"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/apperr"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
)

// Policy is the capacity and timing configuration consumed by the
// registration core.
type Policy struct {
	// MaxApprovedRegistrations caps APPROVED registrations per presenter
	// across all slots.
	MaxApprovedRegistrations int
	// MaxPendingByDegree caps PENDING registrations per presenter, keyed by
	// degree. Degrees not listed fall back to DefaultMaxPending.
	MaxPendingByDegree map[model.Degree]int
	DefaultMaxPending  int

	RegistrationTokenTTL time.Duration
	PromotionTokenTTL    time.Duration
	ReminderInterval     time.Duration
}

// Default mirrors the production defaults.
func Default() Policy {
	return Policy{
		MaxApprovedRegistrations: 1,
		MaxPendingByDegree: map[model.Degree]int{
			model.DegreePhD: 1,
			model.DegreeMSc: 2,
		},
		DefaultMaxPending:    1,
		RegistrationTokenTTL: 14 * 24 * time.Hour,
		PromotionTokenTTL:    24 * time.Hour,
		ReminderInterval:     2 * 24 * time.Hour,
	}
}

// PendingCap returns the PENDING cap for degree.
func (p Policy) PendingCap(degree model.Degree) int {
	if n, ok := p.MaxPendingByDegree[degree]; ok {
		return n
	}
	return p.DefaultMaxPending
}

// CheckCaps reports whether a presenter whose current registrations are
// regs may take one more PENDING registration.
func (p Policy) CheckCaps(degree model.Degree, regs []model.Registration) error {
	var approved, pending int
	for _, r := range regs {
		switch r.Status {
		case model.StatusApproved:
			approved++
		case model.StatusPending:
			pending++
		}
	}
	if approved >= p.MaxApprovedRegistrations {
		return apperr.ErrApprovedLimit
	}
	if pending >= p.PendingCap(degree) {
		return apperr.ErrPendingLimit
	}
	return nil
}

// CheckApprovedCap reports whether one more registration may become
// APPROVED given the presenter's current registrations.
func (p Policy) CheckApprovedCap(regs []model.Registration) error {
	var approved int
	for _, r := range regs {
		if r.Status == model.StatusApproved {
			approved++
		}
	}
	if approved >= p.MaxApprovedRegistrations {
		return apperr.ErrApprovedLimit
	}
	return nil
}
