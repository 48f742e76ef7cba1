// Package postgres implements the repository contract on PostgreSQL using
// pgx directly (no ORM).
package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
)

//go:embed schema.sql
var schema string

// dbtx is the subset of pgx shared by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store is the PostgreSQL-backed repository.Store.
type Store struct {
	queries
	pool *pgxpool.Pool
}

// New wraps an open pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{queries: queries{db: pool}, pool: pool}
}

// Migrate creates the schema. Safe to call multiple times.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// InTx runs fn inside a READ COMMITTED transaction. Mutual exclusion per
// slot comes from LockSlot's row lock, not from the isolation level.
func (s *Store) InTx(ctx context.Context, fn func(q repository.Queries) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&queries{db: tx}); err != nil {
		return mapError(err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError turns retryable PostgreSQL failures into repository.ErrConflict.
func mapError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", // serialization_failure
			"40P01", // deadlock_detected
			"55P03", // lock_not_available
			"23505": // unique_violation
			return fmt.Errorf("%w: %s", repository.ErrConflict, pgErr.Message)
		}
	}
	return err
}

type queries struct {
	db dbtx
}

// ─── Slots ────────────────────────────────────────────────────────────────────

const slotColumns = `id, slot_date, start_time, end_time, building, room, capacity, created_at`

func scanSlot(row pgx.Row) (model.Slot, error) {
	var s model.Slot
	err := row.Scan(&s.ID, &s.Date, &s.StartTime, &s.EndTime, &s.Building, &s.Room, &s.Capacity, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Slot{}, repository.ErrNotFound
		}
		return model.Slot{}, err
	}
	return s, nil
}

func (q *queries) CreateSlot(ctx context.Context, slot model.Slot) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO slots (`+slotColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		slot.ID, slot.Date, slot.StartTime, slot.EndTime, slot.Building, slot.Room, slot.Capacity, slot.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert slot: %w", mapError(err))
	}
	return nil
}

func (q *queries) GetSlot(ctx context.Context, slotID string) (model.Slot, error) {
	s, err := scanSlot(q.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1`, slotID))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Slot{}, fmt.Errorf("get slot: %w", err)
	}
	return s, err
}

func (q *queries) ListSlots(ctx context.Context) ([]model.Slot, error) {
	rows, err := q.db.Query(ctx, `SELECT `+slotColumns+` FROM slots ORDER BY slot_date, start_time, id`)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	defer rows.Close()

	var slots []model.Slot
	for rows.Next() {
		s, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, s)
	}
	return slots, rows.Err()
}

// LockSlot reads the slot with SELECT … FOR UPDATE.
//
// ─────────────────────────────────────────────────────────────────────────────
// WHY THE SLOT ROW IS LOCKED
// ─────────────────────────────────────────────────────────────────────────────
//
// Every mutation reads counts or positions and then writes a new count or
// position. Two transactions doing that from the same snapshot would both see
// the last free seat (overbooking) or both append at position N+1
// (duplicate positions). Registrations and waiting-list rows have no single
// row to lock, so the slot row stands in for the whole
// (slot, registrations, waiting list) tuple: whoever holds it is the only
// writer for that slot until COMMIT or ROLLBACK.
//
// ─────────────────────────────────────────────────────────────────────────────
func (q *queries) LockSlot(ctx context.Context, slotID string) (model.Slot, error) {
	s, err := scanSlot(q.db.QueryRow(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = $1 FOR UPDATE`, slotID))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Slot{}, fmt.Errorf("lock slot row: %w", mapError(err))
	}
	return s, err
}

// LockPresenter takes a transaction-scoped advisory lock keyed by the
// presenter, so per-presenter caps read under it stay true until COMMIT
// even when the writes land on different slots.
func (q *queries) LockPresenter(ctx context.Context, presenterID string) error {
	if _, err := q.db.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "presenter:"+presenterID); err != nil {
		return fmt.Errorf("lock presenter: %w", mapError(err))
	}
	return nil
}

func (q *queries) ListSlotsWithWaitingList(ctx context.Context) ([]string, error) {
	rows, err := q.db.Query(ctx, `SELECT DISTINCT slot_id FROM waiting_list ORDER BY slot_id`)
	if err != nil {
		return nil, fmt.Errorf("list queued slots: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan slot id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ─── Registrations ────────────────────────────────────────────────────────────

const registrationColumns = `slot_id, presenter_id, degree, topic, supervisor_name, supervisor_email,
	presenter_email, status, approval_token, token_expires_at, registered_at,
	last_reminder_sent_at, decided_at, decline_reason`

func scanRegistration(row pgx.Row) (model.Registration, error) {
	var (
		r      model.Registration
		degree string
		status string
		token  *string
	)
	err := row.Scan(
		&r.SlotID, &r.PresenterID, &degree, &r.Details.Topic, &r.Details.SupervisorName,
		&r.Details.SupervisorEmail, &r.Details.PresenterEmail, &status, &token, &r.TokenExpiresAt,
		&r.RegisteredAt, &r.LastReminderSentAt, &r.DecidedAt, &r.DeclineReason,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Registration{}, repository.ErrNotFound
		}
		return model.Registration{}, err
	}
	r.Details.Degree = model.Degree(degree)
	if token != nil {
		r.ApprovalToken = *token
	}
	if r.Status, err = model.ParseStatus(status); err != nil {
		return model.Registration{}, err
	}
	return r, nil
}

func (q *queries) listRegistrations(ctx context.Context, where string, args ...any) ([]model.Registration, error) {
	rows, err := q.db.Query(ctx, `SELECT `+registrationColumns+` FROM registrations WHERE `+where+` ORDER BY registered_at, slot_id, presenter_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("list registrations: %w", err)
	}
	defer rows.Close()

	var regs []model.Registration
	for rows.Next() {
		r, err := scanRegistration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan registration: %w", err)
		}
		regs = append(regs, r)
	}
	return regs, rows.Err()
}

func (q *queries) CountRegistrations(ctx context.Context, slotID string) (int, int, error) {
	var approved, pending int
	err := q.db.QueryRow(ctx,
		`SELECT
			COUNT(*) FILTER (WHERE status = 'APPROVED'),
			COUNT(*) FILTER (WHERE status = 'PENDING')
		 FROM registrations WHERE slot_id = $1`,
		slotID,
	).Scan(&approved, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("count registrations: %w", err)
	}
	return approved, pending, nil
}

func (q *queries) GetRegistration(ctx context.Context, slotID, presenterID string) (model.Registration, error) {
	r, err := scanRegistration(q.db.QueryRow(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE slot_id = $1 AND presenter_id = $2`,
		slotID, presenterID,
	))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Registration{}, fmt.Errorf("get registration: %w", err)
	}
	return r, err
}

func (q *queries) ListRegistrationsBySlot(ctx context.Context, slotID string) ([]model.Registration, error) {
	return q.listRegistrations(ctx, `slot_id = $1`, slotID)
}

func (q *queries) ListRegistrationsByPresenter(ctx context.Context, presenterID string) ([]model.Registration, error) {
	return q.listRegistrations(ctx, `presenter_id = $1`, presenterID)
}

func (q *queries) ListPendingRegistrations(ctx context.Context) ([]model.Registration, error) {
	return q.listRegistrations(ctx, `status = 'PENDING'`)
}

func (q *queries) ListExpiredRegistrations(ctx context.Context, now time.Time) ([]model.Registration, error) {
	return q.listRegistrations(ctx, `status = 'PENDING' AND token_expires_at < $1`, now)
}

func (q *queries) InsertRegistration(ctx context.Context, r model.Registration) error {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		 ON CONFLICT (slot_id, presenter_id) DO UPDATE SET
			degree = EXCLUDED.degree,
			topic = EXCLUDED.topic,
			supervisor_name = EXCLUDED.supervisor_name,
			supervisor_email = EXCLUDED.supervisor_email,
			presenter_email = EXCLUDED.presenter_email,
			status = EXCLUDED.status,
			approval_token = EXCLUDED.approval_token,
			token_expires_at = EXCLUDED.token_expires_at,
			registered_at = EXCLUDED.registered_at,
			last_reminder_sent_at = EXCLUDED.last_reminder_sent_at,
			decided_at = EXCLUDED.decided_at,
			decline_reason = EXCLUDED.decline_reason
		 WHERE registrations.status IN ('DECLINED', 'EXPIRED')`,
		r.SlotID, r.PresenterID, string(r.Details.Degree), r.Details.Topic, r.Details.SupervisorName,
		r.Details.SupervisorEmail, r.Details.PresenterEmail, r.Status.String(), nullString(r.ApprovalToken),
		r.TokenExpiresAt, r.RegisteredAt, r.LastReminderSentAt, r.DecidedAt, r.DeclineReason,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("insert registration: %w: live registration exists", repository.ErrConflict)
	}
	return nil
}

func (q *queries) UpdateRegistration(ctx context.Context, r model.Registration) error {
	tag, err := q.db.Exec(ctx,
		`UPDATE registrations SET
			status = $3,
			approval_token = $4,
			token_expires_at = $5,
			last_reminder_sent_at = $6,
			decided_at = $7,
			decline_reason = $8
		 WHERE slot_id = $1 AND presenter_id = $2`,
		r.SlotID, r.PresenterID, r.Status.String(), nullString(r.ApprovalToken), r.TokenExpiresAt,
		r.LastReminderSentAt, r.DecidedAt, r.DeclineReason,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *queries) DeleteRegistration(ctx context.Context, slotID, presenterID string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM registrations WHERE slot_id = $1 AND presenter_id = $2`, slotID, presenterID)
	if err != nil {
		return fmt.Errorf("delete registration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ─── Waiting list ─────────────────────────────────────────────────────────────

const waitingColumns = `slot_id, presenter_id, degree, topic, supervisor_name, supervisor_email,
	presenter_email, position, added_at`

func scanWaitingEntry(row pgx.Row) (model.WaitingListEntry, error) {
	var (
		e      model.WaitingListEntry
		degree string
	)
	err := row.Scan(&e.SlotID, &e.PresenterID, &degree, &e.Details.Topic, &e.Details.SupervisorName,
		&e.Details.SupervisorEmail, &e.Details.PresenterEmail, &e.Position, &e.AddedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.WaitingListEntry{}, repository.ErrNotFound
		}
		return model.WaitingListEntry{}, err
	}
	e.Details.Degree = model.Degree(degree)
	return e, nil
}

func (q *queries) listWaiting(ctx context.Context, where string, arg string) ([]model.WaitingListEntry, error) {
	rows, err := q.db.Query(ctx, `SELECT `+waitingColumns+` FROM waiting_list WHERE `+where+` ORDER BY position, added_at`, arg)
	if err != nil {
		return nil, fmt.Errorf("list waiting list: %w", err)
	}
	defer rows.Close()

	var entries []model.WaitingListEntry
	for rows.Next() {
		e, err := scanWaitingEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan waiting list entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (q *queries) CountWaitingList(ctx context.Context, slotID string) (int, error) {
	var n int
	if err := q.db.QueryRow(ctx, `SELECT COUNT(*) FROM waiting_list WHERE slot_id = $1`, slotID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count waiting list: %w", err)
	}
	return n, nil
}

func (q *queries) ListWaitingList(ctx context.Context, slotID string) ([]model.WaitingListEntry, error) {
	return q.listWaiting(ctx, `slot_id = $1`, slotID)
}

func (q *queries) GetWaitingListEntry(ctx context.Context, slotID, presenterID string) (model.WaitingListEntry, error) {
	e, err := scanWaitingEntry(q.db.QueryRow(ctx,
		`SELECT `+waitingColumns+` FROM waiting_list WHERE slot_id = $1 AND presenter_id = $2`,
		slotID, presenterID,
	))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.WaitingListEntry{}, fmt.Errorf("get waiting list entry: %w", err)
	}
	return e, err
}

func (q *queries) ListWaitingListByPresenter(ctx context.Context, presenterID string) ([]model.WaitingListEntry, error) {
	return q.listWaiting(ctx, `presenter_id = $1`, presenterID)
}

func (q *queries) InsertWaitingListEntry(ctx context.Context, e model.WaitingListEntry) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO waiting_list (`+waitingColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.SlotID, e.PresenterID, string(e.Details.Degree), e.Details.Topic, e.Details.SupervisorName,
		e.Details.SupervisorEmail, e.Details.PresenterEmail, e.Position, e.AddedAt,
	)
	if err != nil {
		return fmt.Errorf("insert waiting list entry: %w", mapError(err))
	}
	return nil
}

func (q *queries) DeleteWaitingListEntry(ctx context.Context, slotID, presenterID string) error {
	tag, err := q.db.Exec(ctx, `DELETE FROM waiting_list WHERE slot_id = $1 AND presenter_id = $2`, slotID, presenterID)
	if err != nil {
		return fmt.Errorf("delete waiting list entry: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// ShiftWaitingList relies on the deferred (slot_id, position) constraint:
// intermediate duplicates inside the UPDATE are only checked at COMMIT.
func (q *queries) ShiftWaitingList(ctx context.Context, slotID string, afterPosition int) error {
	_, err := q.db.Exec(ctx,
		`UPDATE waiting_list SET position = position - 1 WHERE slot_id = $1 AND position > $2`,
		slotID, afterPosition,
	)
	if err != nil {
		return fmt.Errorf("shift waiting list: %w", mapError(err))
	}
	return nil
}

// ─── Promotions ───────────────────────────────────────────────────────────────

const promotionColumns = `id, slot_id, presenter_id, source_presenter_id, promoted_at, expires_at, status`

func scanPromotion(row pgx.Row) (model.Promotion, error) {
	var (
		p      model.Promotion
		status string
	)
	err := row.Scan(&p.ID, &p.SlotID, &p.PresenterID, &p.SourcePresenterID, &p.PromotedAt, &p.ExpiresAt, &status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Promotion{}, repository.ErrNotFound
		}
		return model.Promotion{}, err
	}
	if p.Status, err = model.ParseStatus(status); err != nil {
		return model.Promotion{}, err
	}
	return p, nil
}

func (q *queries) InsertPromotion(ctx context.Context, p model.Promotion) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO promotions (`+promotionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.SlotID, p.PresenterID, p.SourcePresenterID, p.PromotedAt, p.ExpiresAt, p.Status.String(),
	)
	if err != nil {
		return fmt.Errorf("insert promotion: %w", mapError(err))
	}
	return nil
}

func (q *queries) GetPromotion(ctx context.Context, promotionID string) (model.Promotion, error) {
	p, err := scanPromotion(q.db.QueryRow(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, promotionID))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Promotion{}, fmt.Errorf("get promotion: %w", err)
	}
	return p, err
}

func (q *queries) GetPendingPromotion(ctx context.Context, slotID, presenterID string) (model.Promotion, error) {
	p, err := scanPromotion(q.db.QueryRow(ctx,
		`SELECT `+promotionColumns+` FROM promotions
		 WHERE slot_id = $1 AND presenter_id = $2 AND status = 'PENDING'`,
		slotID, presenterID,
	))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Promotion{}, fmt.Errorf("get pending promotion: %w", err)
	}
	return p, err
}

func (q *queries) UpdatePromotionStatus(ctx context.Context, promotionID string, status model.Status) error {
	tag, err := q.db.Exec(ctx, `UPDATE promotions SET status = $2 WHERE id = $1`, promotionID, status.String())
	if err != nil {
		return fmt.Errorf("update promotion: %w", mapError(err))
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func (q *queries) ListExpiredPromotions(ctx context.Context, now time.Time) ([]model.Promotion, error) {
	rows, err := q.db.Query(ctx,
		`SELECT `+promotionColumns+` FROM promotions
		 WHERE status = 'PENDING' AND expires_at < $1
		 ORDER BY expires_at, id`,
		now,
	)
	if err != nil {
		return nil, fmt.Errorf("list expired promotions: %w", err)
	}
	defer rows.Close()

	var promotions []model.Promotion
	for rows.Next() {
		p, err := scanPromotion(rows)
		if err != nil {
			return nil, fmt.Errorf("scan promotion: %w", err)
		}
		promotions = append(promotions, p)
	}
	return promotions, rows.Err()
}

// ─── Approval tokens ──────────────────────────────────────────────────────────

func (q *queries) InsertToken(ctx context.Context, t model.ApprovalToken) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO approval_tokens (token, purpose, slot_id, presenter_id, promotion_id, expires_at, consumed_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (token) DO NOTHING`,
		t.Value, string(t.Purpose), t.SlotID, t.PresenterID, t.PromotionID, t.ExpiresAt, t.ConsumedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert token: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

func (q *queries) GetToken(ctx context.Context, value string) (model.ApprovalToken, error) {
	var (
		t       model.ApprovalToken
		purpose string
	)
	err := q.db.QueryRow(ctx,
		`SELECT token, purpose, slot_id, presenter_id, promotion_id, expires_at, consumed_at
		 FROM approval_tokens WHERE token = $1`,
		value,
	).Scan(&t.Value, &purpose, &t.SlotID, &t.PresenterID, &t.PromotionID, &t.ExpiresAt, &t.ConsumedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.ApprovalToken{}, repository.ErrNotFound
		}
		return model.ApprovalToken{}, fmt.Errorf("get token: %w", err)
	}
	t.Purpose = model.TokenPurpose(purpose)
	return t, nil
}

func (q *queries) ConsumeToken(ctx context.Context, value string, now time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE approval_tokens SET consumed_at = $2
		 WHERE token = $1 AND consumed_at IS NULL AND expires_at >= $2`,
		value, now,
	)
	if err != nil {
		return false, fmt.Errorf("consume token: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

// ─── Reminders ────────────────────────────────────────────────────────────────

func (q *queries) RecordReminder(ctx context.Context, slotID, presenterID, day string, sentAt time.Time) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO reminder_log (slot_id, presenter_id, reminder_date, sent_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (slot_id, presenter_id, reminder_date) DO NOTHING`,
		slotID, presenterID, day, sentAt,
	)
	if err != nil {
		return false, fmt.Errorf("record reminder: %w", mapError(err))
	}
	return tag.RowsAffected() == 1, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ repository.Store = (*Store)(nil)
