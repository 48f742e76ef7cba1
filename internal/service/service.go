// Package service implements registration business logic, validation, and
// orchestration between HTTP handlers, the scheduler and the repository
// layer.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/apperr"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/capacity"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/notify"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/policy"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/token"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/waitlist"
)

// Config is what a RegistrationService needs besides its store and
// gateway.
type Config struct {
	Policy policy.Policy
	Links  notify.Links
	// Clock defaults to time.Now.
	Clock  func() time.Time
	Logger *slog.Logger
}

// RegistrationService orchestrates register, cancel, approve, decline and
// expire. Every operation that reads counts or positions and writes new
// ones runs in one transaction holding the slot row lock. Notifications
// are sent after the transaction commits.
type RegistrationService struct {
	store    repository.Store
	gateway  notify.Gateway
	queue    *waitlist.Queue
	promoter *waitlist.Promoter
	tokens   *token.Manager
	policy   policy.Policy
	links    notify.Links
	clock    func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// New constructs a RegistrationService.
func New(store repository.Store, gateway notify.Gateway, cfg Config) *RegistrationService {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	tokens := token.NewManager()
	return &RegistrationService{
		store:    store,
		gateway:  gateway,
		queue:    waitlist.NewQueue(store),
		promoter: waitlist.NewPromoter(tokens, cfg.Policy, cfg.Links, logger),
		tokens:   tokens,
		policy:   cfg.Policy,
		links:    cfg.Links,
		clock:    clock,
		newID:    uuid.NewString,
		logger:   logger.With("component", "registration"),
	}
}

// Now returns the service clock's current time.
func (s *RegistrationService) Now() time.Time {
	return s.clock().UTC()
}

// inTx runs fn in a transaction and flushes the notifications it queued
// once the transaction has committed.
func (s *RegistrationService) inTx(ctx context.Context, fn func(q repository.Queries, batch *notify.Batch) error) error {
	var batch *notify.Batch
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		batch = &notify.Batch{}
		return fn(q, batch)
	})
	if err != nil {
		return mapStoreError(err)
	}
	batch.Flush(ctx, s.gateway, s.logger)
	return nil
}

// mapStoreError reports lost races as apperr.ErrCapacityConflict.
func mapStoreError(err error) error {
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	if errors.Is(err, repository.ErrConflict) {
		return fmt.Errorf("%w: %w", apperr.ErrCapacityConflict, err)
	}
	return err
}

func lockSlot(ctx context.Context, q repository.Queries, slotID string) (model.Slot, error) {
	slot, err := q.LockSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.Slot{}, apperr.ErrSlotNotFound
		}
		return model.Slot{}, fmt.Errorf("lock slot: %w", err)
	}
	return slot, nil
}

// ─── Slots ────────────────────────────────────────────────────────────────────

// CreateSlot validates the request and stores a new slot.
func (s *RegistrationService) CreateSlot(ctx context.Context, req model.CreateSlotRequest) (model.Slot, error) {
	date, err := time.Parse("2006-01-02", strings.TrimSpace(req.Date))
	if err != nil {
		return model.Slot{}, fmt.Errorf("%w: date must be YYYY-MM-DD", apperr.ErrInvalidInput)
	}
	start, err := time.Parse("15:04", strings.TrimSpace(req.StartTime))
	if err != nil {
		return model.Slot{}, fmt.Errorf("%w: start_time must be HH:MM", apperr.ErrInvalidInput)
	}
	end, err := time.Parse("15:04", strings.TrimSpace(req.EndTime))
	if err != nil {
		return model.Slot{}, fmt.Errorf("%w: end_time must be HH:MM", apperr.ErrInvalidInput)
	}
	if !end.After(start) {
		return model.Slot{}, fmt.Errorf("%w: end_time must be after start_time", apperr.ErrInvalidInput)
	}
	if req.Capacity <= 0 {
		return model.Slot{}, fmt.Errorf("%w: capacity must be a positive integer", apperr.ErrInvalidInput)
	}
	if req.Capacity > 1_000 {
		return model.Slot{}, fmt.Errorf("%w: capacity cannot exceed 1,000", apperr.ErrInvalidInput)
	}

	slot := model.Slot{
		ID:        s.newID(),
		Date:      date,
		StartTime: start.Format("15:04"),
		EndTime:   end.Format("15:04"),
		Building:  strings.TrimSpace(req.Building),
		Room:      strings.TrimSpace(req.Room),
		Capacity:  req.Capacity,
		CreatedAt: s.Now(),
	}
	if err := s.store.CreateSlot(ctx, slot); err != nil {
		return model.Slot{}, fmt.Errorf("create slot: %w", err)
	}
	return slot, nil
}

// GetSlot returns the slot with its derived state.
func (s *RegistrationService) GetSlot(ctx context.Context, slotID string) (model.SlotView, error) {
	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.SlotView{}, apperr.ErrSlotNotFound
		}
		return model.SlotView{}, fmt.Errorf("get slot: %w", err)
	}
	return s.view(ctx, slot)
}

// ListSlots returns every slot with its derived state.
func (s *RegistrationService) ListSlots(ctx context.Context) ([]model.SlotView, error) {
	slots, err := s.store.ListSlots(ctx)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	views := make([]model.SlotView, 0, len(slots))
	for _, slot := range slots {
		v, err := s.view(ctx, slot)
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

func (s *RegistrationService) view(ctx context.Context, slot model.Slot) (model.SlotView, error) {
	approved, pending, err := s.store.CountRegistrations(ctx, slot.ID)
	if err != nil {
		return model.SlotView{}, fmt.Errorf("count registrations: %w", err)
	}
	waiting, err := s.store.CountWaitingList(ctx, slot.ID)
	if err != nil {
		return model.SlotView{}, fmt.Errorf("count waiting list: %w", err)
	}
	return capacity.View(slot, approved, pending, waiting), nil
}

// ListRegistrations returns all registrations for a slot.
func (s *RegistrationService) ListRegistrations(ctx context.Context, slotID string) ([]model.Registration, error) {
	if _, err := s.store.GetSlot(ctx, slotID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperr.ErrSlotNotFound
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}
	return s.store.ListRegistrationsBySlot(ctx, slotID)
}

// ─── Registration ─────────────────────────────────────────────────────────────

// Register creates a PENDING registration and asks the supervisor for
// approval. A full slot yields apperr.ErrSlotFull; the caller decides
// whether to join the waiting list. Free seats are also reported full while
// the waiting list is non-empty: they belong to the queue.
func (s *RegistrationService) Register(ctx context.Context, slotID, presenterID string, details model.Details) (model.Registration, error) {
	presenterID, details, err := normalize(presenterID, details)
	if err != nil {
		return model.Registration{}, err
	}

	var reg model.Registration
	err = s.inTx(ctx, func(q repository.Queries, batch *notify.Batch) error {
		now := s.Now()
		slot, err := lockSlot(ctx, q, slotID)
		if err != nil {
			return err
		}

		if err := q.LockPresenter(ctx, presenterID); err != nil {
			return err
		}

		existing, err := q.GetRegistration(ctx, slotID, presenterID)
		switch {
		case err == nil && !existing.Status.Terminal():
			return apperr.ErrAlreadyRegistered
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return err
		}

		regs, err := q.ListRegistrationsByPresenter(ctx, presenterID)
		if err != nil {
			return err
		}
		if err := s.policy.CheckCaps(details.Degree, regs); err != nil {
			return err
		}

		approved, pending, err := q.CountRegistrations(ctx, slotID)
		if err != nil {
			return err
		}
		waiting, err := q.CountWaitingList(ctx, slotID)
		if err != nil {
			return err
		}
		if !capacity.HasRoom(slot.Capacity, approved, pending) || waiting > 0 {
			return apperr.ErrSlotFull
		}

		tok, err := s.tokens.Issue(ctx, q, token.Grant{
			Purpose:     model.PurposeRegistration,
			SlotID:      slotID,
			PresenterID: presenterID,
		}, now, s.policy.RegistrationTokenTTL)
		if err != nil {
			return err
		}

		expires := tok.ExpiresAt
		reg = model.Registration{
			SlotID:         slotID,
			PresenterID:    presenterID,
			Details:        details,
			Status:         model.StatusPending,
			ApprovalToken:  tok.Value,
			TokenExpiresAt: &expires,
			RegisteredAt:   now,
		}
		if err := q.InsertRegistration(ctx, reg); err != nil {
			return err
		}

		batch.ApprovalRequest(notify.ApprovalRequest{
			PresenterID: presenterID,
			Details:     details,
			Slot:        notify.SlotInfoFrom(slot),
			ApproveURL:  s.links.Approve(tok.Value),
			DeclineURL:  s.links.Decline(tok.Value),
			ExpiresAt:   tok.ExpiresAt,
		})
		return nil
	})
	if err != nil {
		return model.Registration{}, err
	}

	s.logger.Info("registration created",
		"slot_id", slotID,
		"presenter_id", presenterID,
		"degree", string(details.Degree),
		"token_expires_at", reg.TokenExpiresAt,
	)
	return reg, nil
}

// Cancel removes the presenter's PENDING or APPROVED registration. Declined
// and expired registrations are left untouched. Cancelling a pending
// registration revokes its token, declines a pending promotion offer for
// it and offers the freed seat to the waiting list in the same transaction.
func (s *RegistrationService) Cancel(ctx context.Context, slotID, presenterID string) error {
	var promoted *model.Promotion
	err := s.inTx(ctx, func(q repository.Queries, batch *notify.Batch) error {
		now := s.Now()
		slot, err := lockSlot(ctx, q, slotID)
		if err != nil {
			return err
		}
		reg, err := q.GetRegistration(ctx, slotID, presenterID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.ErrRegistrationNotFound
			}
			return err
		}

		// Decided rows stay as the record of the decision.
		if reg.Status == model.StatusDeclined || reg.Status == model.StatusExpired {
			return nil
		}
		if reg.Status == model.StatusPending {
			if err := s.tokens.Revoke(ctx, q, reg.ApprovalToken, now); err != nil {
				return err
			}
			if err := finishPendingPromotion(ctx, q, slotID, presenterID, model.StatusDeclined); err != nil {
				return err
			}
		}
		if err := q.DeleteRegistration(ctx, slotID, presenterID); err != nil {
			return err
		}
		promoted, err = s.promoter.Cascade(ctx, q, slot, presenterID, now, batch)
		return err
	})
	if err != nil {
		return err
	}

	s.logger.Info("registration cancelled",
		"slot_id", slotID,
		"presenter_id", presenterID,
		"promoted", promotedID(promoted),
	)
	return nil
}

// Approve consumes an approval token and approves its registration, or
// the promotion offer and its registration. The presenter's other pending
// registrations are then cancelled and their waiting-list entries removed.
func (s *RegistrationService) Approve(ctx context.Context, tokenValue string) (model.Registration, error) {
	reg, err := s.decide(ctx, tokenValue, model.StatusApproved, "")
	if err != nil {
		return model.Registration{}, err
	}
	s.releaseOtherClaims(ctx, reg.SlotID, reg.PresenterID)
	return reg, nil
}

// Decline consumes an approval token and declines its registration, or the
// promotion offer and its registration. The freed seat is offered to the
// waiting list.
func (s *RegistrationService) Decline(ctx context.Context, tokenValue, reason string) (model.Registration, error) {
	return s.decide(ctx, tokenValue, model.StatusDeclined, strings.TrimSpace(reason))
}

func (s *RegistrationService) decide(ctx context.Context, tokenValue string, to model.Status, reason string) (model.Registration, error) {
	var (
		reg      model.Registration
		promoted *model.Promotion
	)
	err := s.inTx(ctx, func(q repository.Queries, batch *notify.Batch) error {
		now := s.Now()
		// Slot first, then the token row: the same order Cancel and Expire
		// take when they revoke.
		grant, err := s.tokens.Lookup(ctx, q, tokenValue)
		if err != nil {
			return err
		}
		slot, err := lockSlot(ctx, q, grant.SlotID)
		if err != nil {
			return err
		}
		tok, err := s.tokens.Consume(ctx, q, tokenValue, now)
		if err != nil {
			return err
		}
		reg, err = q.GetRegistration(ctx, tok.SlotID, tok.PresenterID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return apperr.ErrRegistrationNotFound
			}
			return err
		}

		next, err := reg.Status.Transition(to)
		if err != nil {
			return err
		}
		if to == model.StatusApproved {
			if err := q.LockPresenter(ctx, reg.PresenterID); err != nil {
				return err
			}
			regs, err := q.ListRegistrationsByPresenter(ctx, reg.PresenterID)
			if err != nil {
				return err
			}
			if err := s.policy.CheckApprovedCap(regs); err != nil {
				return err
			}
		}

		if tok.Purpose == model.PurposePromotion {
			promotion, err := q.GetPromotion(ctx, tok.PromotionID)
			if err != nil {
				return fmt.Errorf("get promotion %s: %w", tok.PromotionID, err)
			}
			pnext, err := promotion.Status.Transition(to)
			if err != nil {
				return err
			}
			if err := q.UpdatePromotionStatus(ctx, promotion.ID, pnext); err != nil {
				return err
			}
		}

		reg.Status = next
		reg.ApprovalToken = ""
		reg.DecidedAt = &now
		reg.DeclineReason = reason
		if err := q.UpdateRegistration(ctx, reg); err != nil {
			return err
		}

		batch.Decision(notify.Decision{
			PresenterID: reg.PresenterID,
			Details:     reg.Details,
			Slot:        notify.SlotInfoFrom(slot),
			Status:      next,
			Reason:      reason,
		})

		if next == model.StatusDeclined {
			promoted, err = s.promoter.Cascade(ctx, q, slot, reg.PresenterID, now, batch)
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return model.Registration{}, err
	}

	s.logger.Info("registration decided",
		"slot_id", reg.SlotID,
		"presenter_id", reg.PresenterID,
		"status", reg.Status.String(),
		"promoted", promotedID(promoted),
	)
	return reg, nil
}

// releaseOtherClaims cancels the presenter's pending registrations on other
// slots and removes them from every waiting list. Each step runs in its own
// transaction so only one slot lock is held at a time; failures are logged
// and left for the expiry sweep.
func (s *RegistrationService) releaseOtherClaims(ctx context.Context, approvedSlotID, presenterID string) {
	regs, err := s.store.ListRegistrationsByPresenter(ctx, presenterID)
	if err != nil {
		s.logger.Error("list registrations after approval", "presenter_id", presenterID, "error", err)
		return
	}
	for _, r := range regs {
		if r.SlotID == approvedSlotID || r.Status != model.StatusPending {
			continue
		}
		if err := s.Cancel(ctx, r.SlotID, presenterID); err != nil {
			s.logger.Error("cancel pending registration after approval",
				"slot_id", r.SlotID,
				"presenter_id", presenterID,
				"error", err,
			)
		}
	}

	entries, err := s.store.ListWaitingListByPresenter(ctx, presenterID)
	if err != nil {
		s.logger.Error("list waiting lists after approval", "presenter_id", presenterID, "error", err)
		return
	}
	for _, e := range entries {
		if err := s.LeaveWaitingList(ctx, e.SlotID, presenterID); err != nil && !errors.Is(err, apperr.ErrNotQueued) {
			s.logger.Error("leave waiting list after approval",
				"slot_id", e.SlotID,
				"presenter_id", presenterID,
				"error", err,
			)
		}
	}
}

// Expire marks the presenter's registration on the slot, and its pending
// promotion offer, EXPIRED when their deadlines have passed, then offers the
// freed seat to the waiting list. It reports whether anything expired;
// items that were decided in the meantime are left alone.
func (s *RegistrationService) Expire(ctx context.Context, slotID, presenterID string) (bool, error) {
	var (
		expired  bool
		promoted *model.Promotion
	)
	err := s.inTx(ctx, func(q repository.Queries, batch *notify.Batch) error {
		now := s.Now()
		slot, err := lockSlot(ctx, q, slotID)
		if err != nil {
			return err
		}

		promotion, err := q.GetPendingPromotion(ctx, slotID, presenterID)
		switch {
		case err == nil && promotion.ExpiresAt.Before(now):
			next, err := promotion.Status.Transition(model.StatusExpired)
			if err != nil {
				return err
			}
			if err := q.UpdatePromotionStatus(ctx, promotion.ID, next); err != nil {
				return err
			}
			expired = true
		case err != nil && !errors.Is(err, repository.ErrNotFound):
			return err
		}

		reg, err := q.GetRegistration(ctx, slotID, presenterID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		if reg.Status != model.StatusPending || reg.TokenExpiresAt == nil || !reg.TokenExpiresAt.Before(now) {
			return nil
		}

		next, err := reg.Status.Transition(model.StatusExpired)
		if err != nil {
			return err
		}
		if err := s.tokens.Revoke(ctx, q, reg.ApprovalToken, now); err != nil {
			return err
		}
		reg.Status = next
		reg.ApprovalToken = ""
		reg.DecidedAt = &now
		if err := q.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		expired = true

		batch.Decision(notify.Decision{
			PresenterID: presenterID,
			Details:     reg.Details,
			Slot:        notify.SlotInfoFrom(slot),
			Status:      next,
		})
		promoted, err = s.promoter.Cascade(ctx, q, slot, presenterID, now, batch)
		return err
	})
	if err != nil {
		return false, err
	}
	if expired {
		s.logger.Info("registration expired",
			"slot_id", slotID,
			"presenter_id", presenterID,
			"promoted", promotedID(promoted),
		)
	}
	return expired, nil
}

// Reconcile offers every free seat of the slot to its waiting list. It
// returns the number of promotions made.
func (s *RegistrationService) Reconcile(ctx context.Context, slotID string) (int, error) {
	var n int
	err := s.inTx(ctx, func(q repository.Queries, batch *notify.Batch) error {
		n = 0
		now := s.Now()
		slot, err := lockSlot(ctx, q, slotID)
		if err != nil {
			return err
		}
		for {
			p, err := s.promoter.Cascade(ctx, q, slot, "", now, batch)
			if err != nil {
				return err
			}
			if p == nil {
				return nil
			}
			n++
		}
	})
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("reconciled slot", "slot_id", slotID, "promotions", n)
	}
	return n, nil
}

// ─── Waiting list ─────────────────────────────────────────────────────────────

// JoinWaitingList queues the presenter for a full slot.
func (s *RegistrationService) JoinWaitingList(ctx context.Context, slotID, presenterID string, details model.Details) (model.WaitingListEntry, error) {
	presenterID, details, err := normalize(presenterID, details)
	if err != nil {
		return model.WaitingListEntry{}, err
	}
	entry, err := s.queue.Join(ctx, slotID, presenterID, details, s.Now())
	if err != nil {
		return model.WaitingListEntry{}, mapStoreError(err)
	}
	s.logger.Info("joined waiting list", "slot_id", slotID, "presenter_id", presenterID, "position", entry.Position)
	return entry, nil
}

// LeaveWaitingList removes the presenter from the slot's waiting list.
func (s *RegistrationService) LeaveWaitingList(ctx context.Context, slotID, presenterID string) error {
	if err := s.queue.Leave(ctx, slotID, presenterID); err != nil {
		return mapStoreError(err)
	}
	s.logger.Info("left waiting list", "slot_id", slotID, "presenter_id", presenterID)
	return nil
}

// ListWaitingList returns the slot's waiting list in position order.
func (s *RegistrationService) ListWaitingList(ctx context.Context, slotID string) ([]model.WaitingListEntry, error) {
	return s.queue.List(ctx, slotID)
}

// ─── Helpers ──────────────────────────────────────────────────────────────────

// finishPendingPromotion moves the pending promotion offer for the
// registration, if any, to status.
func finishPendingPromotion(ctx context.Context, q repository.Queries, slotID, presenterID string, status model.Status) error {
	promotion, err := q.GetPendingPromotion(ctx, slotID, presenterID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	next, err := promotion.Status.Transition(status)
	if err != nil {
		return err
	}
	return q.UpdatePromotionStatus(ctx, promotion.ID, next)
}

func normalize(presenterID string, details model.Details) (string, model.Details, error) {
	presenterID = strings.TrimSpace(presenterID)
	if presenterID == "" {
		return "", details, fmt.Errorf("%w: presenter_id is required", apperr.ErrInvalidInput)
	}
	details.Degree = model.NormalizeDegree(string(details.Degree))
	if details.Degree == "" {
		return "", details, fmt.Errorf("%w: degree is required", apperr.ErrInvalidInput)
	}
	details.Topic = strings.TrimSpace(details.Topic)
	details.SupervisorName = strings.TrimSpace(details.SupervisorName)
	details.SupervisorEmail = strings.TrimSpace(strings.ToLower(details.SupervisorEmail))
	if !isValidEmail(details.SupervisorEmail) {
		return "", details, fmt.Errorf("%w: supervisor_email is not a valid email address", apperr.ErrInvalidInput)
	}
	details.PresenterEmail = strings.TrimSpace(strings.ToLower(details.PresenterEmail))
	if !isValidEmail(details.PresenterEmail) {
		return "", details, fmt.Errorf("%w: presenter_email is not a valid email address", apperr.ErrInvalidInput)
	}
	return presenterID, details, nil
}

// isValidEmail does a basic structural check (no external deps).
func isValidEmail(email string) bool {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return false
	}
	return len(parts[0]) > 0 && strings.Contains(parts[1], ".")
}

func promotedID(p *model.Promotion) string {
	if p == nil {
		return ""
	}
	return p.PresenterID
}
