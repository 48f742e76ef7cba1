package policy

import (
	"errors"
	"testing"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/apperr"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
)

func regs(statuses ...model.Status) []model.Registration {
	out := make([]model.Registration, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, model.Registration{Status: s})
	}
	return out
}

func TestCheckCaps(t *testing.T) {
	t.Parallel()

	p := Default()
	cases := []struct {
		name   string
		degree model.Degree
		regs   []model.Registration
		want   error
	}{
		{"no registrations", model.DegreePhD, nil, nil},
		{"approved elsewhere", model.DegreeMSc, regs(model.StatusApproved), apperr.ErrApprovedLimit},
		{"phd one pending", model.DegreePhD, regs(model.StatusPending), apperr.ErrPendingLimit},
		{"msc one pending", model.DegreeMSc, regs(model.StatusPending), nil},
		{"msc two pending", model.DegreeMSc, regs(model.StatusPending, model.StatusPending), apperr.ErrPendingLimit},
		{"terminal ignored", model.DegreePhD, regs(model.StatusDeclined, model.StatusExpired), nil},
		{"unknown degree uses default", model.Degree("BSC"), regs(model.StatusPending), apperr.ErrPendingLimit},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if err := p.CheckCaps(tc.degree, tc.regs); !errors.Is(err, tc.want) {
				t.Fatalf("CheckCaps = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestCheckApprovedCap(t *testing.T) {
	t.Parallel()

	p := Default()
	if err := p.CheckApprovedCap(regs(model.StatusPending, model.StatusPending)); err != nil {
		t.Fatalf("CheckApprovedCap = %v, want nil", err)
	}
	p.MaxApprovedRegistrations = 2
	if err := p.CheckApprovedCap(regs(model.StatusApproved)); err != nil {
		t.Fatalf("CheckApprovedCap = %v, want nil", err)
	}
	if err := p.CheckApprovedCap(regs(model.StatusApproved, model.StatusApproved)); !errors.Is(err, apperr.ErrApprovedLimit) {
		t.Fatalf("CheckApprovedCap = %v, want %v", err, apperr.ErrApprovedLimit)
	}
}
