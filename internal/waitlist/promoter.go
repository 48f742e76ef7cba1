package waitlist

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/apperr"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/capacity"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/notify"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/policy"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/token"
)

// Promoter offers a freed seat to the front of a slot's waiting list.
type Promoter struct {
	tokens *token.Manager
	policy policy.Policy
	links  notify.Links
	newID  func() string
	logger *slog.Logger
}

// NewPromoter returns a Promoter issuing promotion tokens with
// pol.PromotionTokenTTL.
func NewPromoter(tokens *token.Manager, pol policy.Policy, links notify.Links, logger *slog.Logger) *Promoter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Promoter{
		tokens: tokens,
		policy: pol,
		links:  links,
		newID:  uuid.NewString,
		logger: logger.With("component", "promoter"),
	}
}

// Cascade runs inside the transaction that freed a seat on slot, which must
// already hold the slot lock. While the slot has room it pops the front of
// the waiting list; candidates that can no longer take a pending
// registration are dropped, the first eligible one gets a PENDING
// registration, a linked PENDING promotion and a fresh token. At most one
// promotion is made per call; it returns nil when none was made. The offer
// is queued on batch for sending after commit.
func (p *Promoter) Cascade(ctx context.Context, q repository.Queries, slot model.Slot, sourcePresenterID string, now time.Time, batch *notify.Batch) (*model.Promotion, error) {
	for {
		approved, pending, err := q.CountRegistrations(ctx, slot.ID)
		if err != nil {
			return nil, err
		}
		if !capacity.HasRoom(slot.Capacity, approved, pending) {
			return nil, nil
		}

		front, ok, err := PeekFront(ctx, q, slot.ID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, nil
		}
		if _, err := LeaveLocked(ctx, q, slot.ID, front.PresenterID); err != nil {
			return nil, err
		}

		ok, reason, err := p.eligible(ctx, q, front)
		if err != nil {
			return nil, err
		}
		if !ok {
			p.logger.Info("dropped waiting list candidate",
				"slot_id", slot.ID,
				"presenter_id", front.PresenterID,
				"reason", reason,
			)
			continue
		}

		return p.promote(ctx, q, slot, front, sourcePresenterID, now, batch)
	}
}

// eligible reports whether a candidate may still take a pending
// registration, and the violated rule when it may not.
func (p *Promoter) eligible(ctx context.Context, q repository.Queries, entry model.WaitingListEntry) (bool, string, error) {
	if err := q.LockPresenter(ctx, entry.PresenterID); err != nil {
		return false, "", err
	}
	regs, err := q.ListRegistrationsByPresenter(ctx, entry.PresenterID)
	if err != nil {
		return false, "", err
	}
	for _, r := range regs {
		if r.SlotID == entry.SlotID && !r.Status.Terminal() {
			return false, apperr.CodeOf(apperr.ErrAlreadyRegistered), nil
		}
	}
	if err := p.policy.CheckCaps(entry.Details.Degree, regs); err != nil {
		return false, apperr.CodeOf(err), nil
	}
	return true, "", nil
}

func (p *Promoter) promote(ctx context.Context, q repository.Queries, slot model.Slot, entry model.WaitingListEntry, sourcePresenterID string, now time.Time, batch *notify.Batch) (*model.Promotion, error) {
	promotion := model.Promotion{
		ID:                p.newID(),
		SlotID:            slot.ID,
		PresenterID:       entry.PresenterID,
		SourcePresenterID: sourcePresenterID,
		PromotedAt:        now,
		ExpiresAt:         now.Add(p.policy.PromotionTokenTTL),
		Status:            model.StatusPending,
	}
	if err := q.InsertPromotion(ctx, promotion); err != nil {
		return nil, err
	}

	tok, err := p.tokens.Issue(ctx, q, token.Grant{
		Purpose:     model.PurposePromotion,
		SlotID:      slot.ID,
		PresenterID: entry.PresenterID,
		PromotionID: promotion.ID,
	}, now, p.policy.PromotionTokenTTL)
	if err != nil {
		return nil, err
	}

	expires := tok.ExpiresAt
	reg := model.Registration{
		SlotID:         slot.ID,
		PresenterID:    entry.PresenterID,
		Details:        entry.Details,
		Status:         model.StatusPending,
		ApprovalToken:  tok.Value,
		TokenExpiresAt: &expires,
		RegisteredAt:   now,
	}
	if err := q.InsertRegistration(ctx, reg); err != nil {
		return nil, err
	}

	p.logger.Info("promoted from waiting list",
		"slot_id", slot.ID,
		"presenter_id", entry.PresenterID,
		"promotion_id", promotion.ID,
		"source_presenter_id", sourcePresenterID,
		"expires_at", promotion.ExpiresAt,
	)
	if batch != nil {
		batch.PromotionOffer(notify.PromotionOffer{
			PresenterID: entry.PresenterID,
			Details:     entry.Details,
			Slot:        notify.SlotInfoFrom(slot),
			ApproveURL:  p.links.Approve(tok.Value),
			DeclineURL:  p.links.Decline(tok.Value),
			ExpiresAt:   promotion.ExpiresAt,
		})
	}
	return &promotion, nil
}
