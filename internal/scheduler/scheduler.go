// Package scheduler runs the periodic jobs of the registration core: the
// expiry sweep (which also reconciles waiting lists) and the supervisor
// reminder sweep.
//
// A single active scheduler instance is assumed. Running several against
// one database is safe for correctness (every item is re-checked under the
// slot lock and reminders are deduplicated in the store) but wastes work.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/notify"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
)

// Expirer is the part of the registration service the expiry sweep drives.
type Expirer interface {
	Expire(ctx context.Context, slotID, presenterID string) (bool, error)
	Reconcile(ctx context.Context, slotID string) (int, error)
}

// Config holds the sweep intervals and reminder policy.
type Config struct {
	ExpiryInterval   time.Duration
	ReminderInterval time.Duration
	// RemindAfter is how long a registration may go without contact before
	// the supervisor is reminded.
	RemindAfter time.Duration
	// Location decides calendar days for reminder deduplication.
	Location *time.Location
	Links    notify.Links
	// Clock defaults to time.Now.
	Clock func() time.Time
}

// ItemError is a failure while processing one item of a sweep. The sweep
// logs it and moves on; the item is retried on the next run.
type ItemError struct {
	Op          string
	SlotID      string
	PresenterID string
	Err         error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s %s/%s: %v", e.Op, e.SlotID, e.PresenterID, e.Err)
}

func (e *ItemError) Unwrap() error { return e.Err }

// Report summarizes one sweep run.
type Report struct {
	Scanned  int
	Affected int
	Promoted int
	Failures []*ItemError
}

// Scheduler owns the periodic jobs.
type Scheduler struct {
	store   repository.Store
	expirer Expirer
	gateway notify.Gateway
	cfg     Config
	logger  *slog.Logger
}

// New constructs a Scheduler.
func New(store repository.Store, expirer Expirer, gateway notify.Gateway, cfg Config, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	return &Scheduler{
		store:   store,
		expirer: expirer,
		gateway: gateway,
		cfg:     cfg,
		logger:  logger.With("component", "scheduler"),
	}
}

// Run runs both sweeps once immediately and then on their intervals until
// ctx is cancelled. A failed run is logged and retried on the next tick.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.loop(ctx, "expiry", s.cfg.ExpiryInterval, s.ExpireSweep)
	})
	g.Go(func() error {
		return s.loop(ctx, "reminder", s.cfg.ReminderInterval, s.ReminderSweep)
	})
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, name string, interval time.Duration, sweep func(context.Context) (Report, error)) error {
	if interval <= 0 {
		return fmt.Errorf("%s sweep interval must be positive", name)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		start := time.Now()
		report, err := sweep(ctx)
		switch {
		case errors.Is(err, context.Canceled):
			return nil
		case err != nil:
			s.logger.Error("sweep failed", "sweep", name, "error", err)
		default:
			s.logger.Info("sweep finished",
				"sweep", name,
				"scanned", report.Scanned,
				"affected", report.Affected,
				"promoted", report.Promoted,
				"failures", len(report.Failures),
				"duration", time.Since(start),
			)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

type key struct {
	slotID      string
	presenterID string
}

// ExpireSweep expires PENDING promotions and registrations whose deadline
// has passed, each in its own transaction, then re-runs the cascade for
// every slot that still has a waiting list. Listing failures abort the run;
// per-item failures do not.
func (s *Scheduler) ExpireSweep(ctx context.Context) (Report, error) {
	var report Report
	now := s.cfg.Clock().UTC()

	promotions, err := s.store.ListExpiredPromotions(ctx, now)
	if err != nil {
		return report, fmt.Errorf("list expired promotions: %w", err)
	}
	regs, err := s.store.ListExpiredRegistrations(ctx, now)
	if err != nil {
		return report, fmt.Errorf("list expired registrations: %w", err)
	}

	seen := make(map[key]bool, len(promotions)+len(regs))
	var items []key
	for _, p := range promotions {
		k := key{p.SlotID, p.PresenterID}
		if !seen[k] {
			seen[k] = true
			items = append(items, k)
		}
	}
	for _, r := range regs {
		k := key{r.SlotID, r.PresenterID}
		if !seen[k] {
			seen[k] = true
			items = append(items, k)
		}
	}

	for _, k := range items {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Scanned++
		expired, err := s.expirer.Expire(ctx, k.slotID, k.presenterID)
		if err != nil {
			s.fail(&report, "expire", k, err)
			continue
		}
		if expired {
			report.Affected++
		}
	}

	promoted, err := s.reconcile(ctx, &report)
	report.Promoted = promoted
	return report, err
}

// Reconcile re-runs the cascade for every slot with a non-empty waiting
// list, so a seat freed by a failed or missed cascade is still offered
// within one sweep interval.
func (s *Scheduler) Reconcile(ctx context.Context) (Report, error) {
	var report Report
	promoted, err := s.reconcile(ctx, &report)
	report.Promoted = promoted
	return report, err
}

func (s *Scheduler) reconcile(ctx context.Context, report *Report) (int, error) {
	slotIDs, err := s.store.ListSlotsWithWaitingList(ctx)
	if err != nil {
		return 0, fmt.Errorf("list slots with waiting list: %w", err)
	}
	promoted := 0
	for _, slotID := range slotIDs {
		if err := ctx.Err(); err != nil {
			return promoted, err
		}
		n, err := s.expirer.Reconcile(ctx, slotID)
		if err != nil {
			s.fail(report, "reconcile", key{slotID: slotID}, err)
			continue
		}
		promoted += n
	}
	return promoted, nil
}

// ReminderSweep reminds supervisors of PENDING registrations with a live
// token and no contact for RemindAfter. A registration is reminded at most
// once per calendar day in the configured location.
func (s *Scheduler) ReminderSweep(ctx context.Context) (Report, error) {
	var report Report
	now := s.cfg.Clock().UTC()
	day := now.In(s.cfg.Location).Format("2006-01-02")

	regs, err := s.store.ListPendingRegistrations(ctx)
	if err != nil {
		return report, fmt.Errorf("list pending registrations: %w", err)
	}
	for _, r := range regs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if r.TokenExpiresAt == nil || now.After(*r.TokenExpiresAt) {
			continue
		}
		if now.Sub(r.LastContact()) < s.cfg.RemindAfter {
			continue
		}
		report.Scanned++
		k := key{r.SlotID, r.PresenterID}
		sent, err := s.remind(ctx, k, day, now)
		if err != nil {
			s.fail(&report, "remind", k, err)
			continue
		}
		if sent {
			report.Affected++
		}
	}
	return report, nil
}

// remind records the reminder for day and stamps the registration in one
// transaction, then sends it. It reports false when the registration was
// already reminded that day or is no longer pending.
func (s *Scheduler) remind(ctx context.Context, k key, day string, now time.Time) (bool, error) {
	var batch notify.Batch
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		batch = notify.Batch{}
		slot, err := q.LockSlot(ctx, k.slotID)
		if err != nil {
			return err
		}
		reg, err := q.GetRegistration(ctx, k.slotID, k.presenterID)
		if err != nil {
			if errors.Is(err, repository.ErrNotFound) {
				return nil
			}
			return err
		}
		if reg.Status != model.StatusPending || reg.ApprovalToken == "" {
			return nil
		}
		recorded, err := q.RecordReminder(ctx, k.slotID, k.presenterID, day, now)
		if err != nil || !recorded {
			return err
		}
		reg.LastReminderSentAt = &now
		if err := q.UpdateRegistration(ctx, reg); err != nil {
			return err
		}
		var expires time.Time
		if reg.TokenExpiresAt != nil {
			expires = *reg.TokenExpiresAt
		}
		batch.Reminder(notify.Reminder{
			PresenterID: reg.PresenterID,
			Details:     reg.Details,
			Slot:        notify.SlotInfoFrom(slot),
			ApproveURL:  s.cfg.Links.Approve(reg.ApprovalToken),
			DeclineURL:  s.cfg.Links.Decline(reg.ApprovalToken),
			ExpiresAt:   expires,
		})
		return nil
	})
	if err != nil {
		return false, err
	}
	if batch.Len() == 0 {
		return false, nil
	}
	batch.Flush(ctx, s.gateway, s.logger)
	return true, nil
}

func (s *Scheduler) fail(report *Report, op string, k key, err error) {
	itemErr := &ItemError{Op: op, SlotID: k.slotID, PresenterID: k.presenterID, Err: err}
	report.Failures = append(report.Failures, itemErr)
	s.logger.Warn("sweep item failed",
		"op", op,
		"slot_id", k.slotID,
		"presenter_id", k.presenterID,
		"error", err,
	)
}
