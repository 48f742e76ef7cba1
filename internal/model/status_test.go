package model

import (
	"errors"
	"testing"
)

func TestStatusTransition(t *testing.T) {
	t.Parallel()

	all := []Status{StatusPending, StatusApproved, StatusDeclined, StatusExpired}
	for _, from := range all {
		for _, to := range all {
			got, err := from.Transition(to)
			allowed := from == StatusPending && to != StatusPending
			if allowed {
				if err != nil {
					t.Fatalf("%s -> %s: unexpected error %v", from, to, err)
				}
				if got != to {
					t.Fatalf("%s -> %s: got %s", from, to, got)
				}
				continue
			}
			if !errors.Is(err, ErrInvalidTransition) {
				t.Fatalf("%s -> %s: err = %v, want ErrInvalidTransition", from, to, err)
			}
			if got != from {
				t.Fatalf("%s -> %s: status changed to %s on rejected transition", from, to, got)
			}
		}
	}
}

func TestParseStatusRoundTrip(t *testing.T) {
	t.Parallel()

	for _, s := range []Status{StatusPending, StatusApproved, StatusDeclined, StatusExpired} {
		parsed, err := ParseStatus(s.String())
		if err != nil {
			t.Fatalf("parse %s: %v", s, err)
		}
		if parsed != s {
			t.Fatalf("parse %s = %s", s, parsed)
		}
	}
	if _, err := ParseStatus("cancelled"); err == nil {
		t.Fatal("expected error for unknown status")
	}
}

func TestRegistrationLastContact(t *testing.T) {
	t.Parallel()

	reg := Registration{}
	reg.RegisteredAt = reg.RegisteredAt.AddDate(2026, 0, 0)
	if !reg.LastContact().Equal(reg.RegisteredAt) {
		t.Fatalf("last contact = %v, want registered_at", reg.LastContact())
	}
	reminded := reg.RegisteredAt.AddDate(0, 0, 3)
	reg.LastReminderSentAt = &reminded
	if !reg.LastContact().Equal(reminded) {
		t.Fatalf("last contact = %v, want %v", reg.LastContact(), reminded)
	}
}
