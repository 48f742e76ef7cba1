// Package sqlite provides a single-file SQLite-backed repository.Store for
// local runs and tests.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
)

//go:embed schema.sql
var schema string

const dateLayout = "2006-01-02"

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

func nullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

func timePtr(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// dbtx is the subset of database/sql shared by *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type scanner interface {
	Scan(dest ...any) error
}

// Store persists slot state in SQLite.
type Store struct {
	queries
	sqlDB *sql.DB
}

// Open opens (creating if needed) the database at path and applies the
// embedded schema.
//
// The handle is limited to one connection and every transaction begins
// IMMEDIATE, so writers are serialized on the database lock. Callers inside
// InTx must only use the Queries they are handed.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	cleanPath := filepath.Clean(path)
	if dir := filepath.Dir(cleanPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
	}
	dsn := "file:" + cleanPath +
		"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{queries: queries{db: sqlDB}, sqlDB: sqlDB}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// InTx runs fn in one IMMEDIATE transaction.
func (s *Store) InTx(ctx context.Context, fn func(q repository.Queries) error) (err error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", mapError(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&queries{db: tx}); err != nil {
		return mapError(err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError turns lock contention and uniqueness races into
// repository.ErrConflict.
func mapError(err error) error {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() & 0xff {
		case sqlite3lib.SQLITE_BUSY, sqlite3lib.SQLITE_LOCKED:
			return fmt.Errorf("%w: %s", repository.ErrConflict, sqliteErr.Error())
		}
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%w: %s", repository.ErrConflict, sqliteErr.Error())
		}
	}
	return err
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return repository.ErrNotFound
	}
	return err
}

type queries struct {
	db dbtx
}

// Slots

const slotColumns = `id, slot_date, start_time, end_time, building, room, capacity, created_at`

func scanSlot(row scanner) (model.Slot, error) {
	var (
		s         model.Slot
		date      string
		createdAt int64
	)
	if err := row.Scan(&s.ID, &date, &s.StartTime, &s.EndTime, &s.Building, &s.Room, &s.Capacity, &createdAt); err != nil {
		return model.Slot{}, notFound(err)
	}
	parsed, err := time.Parse(dateLayout, date)
	if err != nil {
		return model.Slot{}, fmt.Errorf("parse slot date %q: %w", date, err)
	}
	s.Date = parsed
	s.CreatedAt = fromMillis(createdAt)
	return s, nil
}

func (q *queries) CreateSlot(ctx context.Context, slot model.Slot) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO slots (`+slotColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		slot.ID, slot.Date.Format(dateLayout), slot.StartTime, slot.EndTime, slot.Building, slot.Room,
		slot.Capacity, toMillis(slot.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert slot: %w", mapError(err))
	}
	return nil
}

func (q *queries) GetSlot(ctx context.Context, slotID string) (model.Slot, error) {
	s, err := scanSlot(q.db.QueryRowContext(ctx, `SELECT `+slotColumns+` FROM slots WHERE id = ?`, slotID))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Slot{}, fmt.Errorf("get slot: %w", err)
	}
	return s, err
}

func (q *queries) ListSlots(ctx context.Context) ([]model.Slot, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+slotColumns+` FROM slots ORDER BY slot_date, start_time, id`)
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

// LockSlot is a plain read: the IMMEDIATE transaction already holds the
// database write lock.
func (q *queries) LockSlot(ctx context.Context, slotID string) (model.Slot, error) {
	return q.GetSlot(ctx, slotID)
}

// LockPresenter is a no-op: IMMEDIATE transactions on one connection
// already serialize every writer.
func (q *queries) LockPresenter(context.Context, string) error {
	return nil
}

func (q *queries) ListSlotsWithWaitingList(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT DISTINCT slot_id FROM waiting_list ORDER BY slot_id`)
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

// Registrations

const registrationColumns = `slot_id, presenter_id, degree, topic, supervisor_name, supervisor_email,
	presenter_email, status, approval_token, token_expires_at, registered_at,
	last_reminder_sent_at, decided_at, decline_reason`

func scanRegistration(row scanner) (model.Registration, error) {
	var (
		r              model.Registration
		degree, status string
		token          sql.NullString
		registeredAt   int64

		tokenExpiresAt, reminded, decided sql.NullInt64
	)
	err := row.Scan(
		&r.SlotID, &r.PresenterID, &degree, &r.Details.Topic, &r.Details.SupervisorName,
		&r.Details.SupervisorEmail, &r.Details.PresenterEmail, &status, &token, &tokenExpiresAt,
		&registeredAt, &reminded, &decided, &r.DeclineReason,
	)
	if err != nil {
		return model.Registration{}, notFound(err)
	}
	r.Details.Degree = model.Degree(degree)
	r.ApprovalToken = token.String
	r.TokenExpiresAt = timePtr(tokenExpiresAt)
	r.RegisteredAt = fromMillis(registeredAt)
	r.LastReminderSentAt = timePtr(reminded)
	r.DecidedAt = timePtr(decided)
	if r.Status, err = model.ParseStatus(status); err != nil {
		return model.Registration{}, err
	}
	return r, nil
}

func (q *queries) listRegistrations(ctx context.Context, where string, args ...any) ([]model.Registration, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE `+where+` ORDER BY registered_at, slot_id, presenter_id`,
		args...,
	)
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
	err := q.db.QueryRowContext(ctx,
		`SELECT
			COALESCE(SUM(CASE WHEN status = 'APPROVED' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN status = 'PENDING' THEN 1 ELSE 0 END), 0)
		 FROM registrations WHERE slot_id = ?`,
		slotID,
	).Scan(&approved, &pending)
	if err != nil {
		return 0, 0, fmt.Errorf("count registrations: %w", err)
	}
	return approved, pending, nil
}

func (q *queries) GetRegistration(ctx context.Context, slotID, presenterID string) (model.Registration, error) {
	r, err := scanRegistration(q.db.QueryRowContext(ctx,
		`SELECT `+registrationColumns+` FROM registrations WHERE slot_id = ? AND presenter_id = ?`,
		slotID, presenterID,
	))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Registration{}, fmt.Errorf("get registration: %w", err)
	}
	return r, err
}

func (q *queries) ListRegistrationsBySlot(ctx context.Context, slotID string) ([]model.Registration, error) {
	return q.listRegistrations(ctx, `slot_id = ?`, slotID)
}

func (q *queries) ListRegistrationsByPresenter(ctx context.Context, presenterID string) ([]model.Registration, error) {
	return q.listRegistrations(ctx, `presenter_id = ?`, presenterID)
}

func (q *queries) ListPendingRegistrations(ctx context.Context) ([]model.Registration, error) {
	return q.listRegistrations(ctx, `status = 'PENDING'`)
}

func (q *queries) ListExpiredRegistrations(ctx context.Context, now time.Time) ([]model.Registration, error) {
	return q.listRegistrations(ctx, `status = 'PENDING' AND token_expires_at < ?`, toMillis(now))
}

func (q *queries) InsertRegistration(ctx context.Context, r model.Registration) error {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO registrations (`+registrationColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (slot_id, presenter_id) DO UPDATE SET
			degree = excluded.degree,
			topic = excluded.topic,
			supervisor_name = excluded.supervisor_name,
			supervisor_email = excluded.supervisor_email,
			presenter_email = excluded.presenter_email,
			status = excluded.status,
			approval_token = excluded.approval_token,
			token_expires_at = excluded.token_expires_at,
			registered_at = excluded.registered_at,
			last_reminder_sent_at = excluded.last_reminder_sent_at,
			decided_at = excluded.decided_at,
			decline_reason = excluded.decline_reason
		 WHERE registrations.status IN ('DECLINED', 'EXPIRED')`,
		r.SlotID, r.PresenterID, string(r.Details.Degree), r.Details.Topic, r.Details.SupervisorName,
		r.Details.SupervisorEmail, r.Details.PresenterEmail, r.Status.String(),
		sql.NullString{String: r.ApprovalToken, Valid: r.ApprovalToken != ""},
		nullMillis(r.TokenExpiresAt), toMillis(r.RegisteredAt), nullMillis(r.LastReminderSentAt),
		nullMillis(r.DecidedAt), r.DeclineReason,
	)
	if err != nil {
		return fmt.Errorf("insert registration: %w", mapError(err))
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("insert registration: %w: live registration exists", repository.ErrConflict)
	}
	return nil
}

func (q *queries) UpdateRegistration(ctx context.Context, r model.Registration) error {
	res, err := q.db.ExecContext(ctx,
		`UPDATE registrations SET
			status = ?,
			approval_token = ?,
			token_expires_at = ?,
			last_reminder_sent_at = ?,
			decided_at = ?,
			decline_reason = ?
		 WHERE slot_id = ? AND presenter_id = ?`,
		r.Status.String(), sql.NullString{String: r.ApprovalToken, Valid: r.ApprovalToken != ""},
		nullMillis(r.TokenExpiresAt), nullMillis(r.LastReminderSentAt), nullMillis(r.DecidedAt),
		r.DeclineReason, r.SlotID, r.PresenterID,
	)
	if err != nil {
		return fmt.Errorf("update registration: %w", mapError(err))
	}
	return requireRow(res)
}

func (q *queries) DeleteRegistration(ctx context.Context, slotID, presenterID string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM registrations WHERE slot_id = ? AND presenter_id = ?`, slotID, presenterID)
	if err != nil {
		return fmt.Errorf("delete registration: %w", mapError(err))
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return repository.ErrNotFound
	}
	return nil
}

// Waiting list

const waitingColumns = `slot_id, presenter_id, degree, topic, supervisor_name, supervisor_email,
	presenter_email, position, added_at`

func scanWaitingEntry(row scanner) (model.WaitingListEntry, error) {
	var (
		e       model.WaitingListEntry
		degree  string
		addedAt int64
	)
	err := row.Scan(&e.SlotID, &e.PresenterID, &degree, &e.Details.Topic, &e.Details.SupervisorName,
		&e.Details.SupervisorEmail, &e.Details.PresenterEmail, &e.Position, &addedAt)
	if err != nil {
		return model.WaitingListEntry{}, notFound(err)
	}
	e.Details.Degree = model.Degree(degree)
	e.AddedAt = fromMillis(addedAt)
	return e, nil
}

func (q *queries) listWaiting(ctx context.Context, where string, arg string) ([]model.WaitingListEntry, error) {
	rows, err := q.db.QueryContext(ctx, `SELECT `+waitingColumns+` FROM waiting_list WHERE `+where+` ORDER BY position, added_at`, arg)
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
	if err := q.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM waiting_list WHERE slot_id = ?`, slotID).Scan(&n); err != nil {
		return 0, fmt.Errorf("count waiting list: %w", err)
	}
	return n, nil
}

func (q *queries) ListWaitingList(ctx context.Context, slotID string) ([]model.WaitingListEntry, error) {
	return q.listWaiting(ctx, `slot_id = ?`, slotID)
}

func (q *queries) GetWaitingListEntry(ctx context.Context, slotID, presenterID string) (model.WaitingListEntry, error) {
	e, err := scanWaitingEntry(q.db.QueryRowContext(ctx,
		`SELECT `+waitingColumns+` FROM waiting_list WHERE slot_id = ? AND presenter_id = ?`,
		slotID, presenterID,
	))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.WaitingListEntry{}, fmt.Errorf("get waiting list entry: %w", err)
	}
	return e, err
}

func (q *queries) ListWaitingListByPresenter(ctx context.Context, presenterID string) ([]model.WaitingListEntry, error) {
	return q.listWaiting(ctx, `presenter_id = ?`, presenterID)
}

func (q *queries) InsertWaitingListEntry(ctx context.Context, e model.WaitingListEntry) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO waiting_list (`+waitingColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.SlotID, e.PresenterID, string(e.Details.Degree), e.Details.Topic, e.Details.SupervisorName,
		e.Details.SupervisorEmail, e.Details.PresenterEmail, e.Position, toMillis(e.AddedAt),
	)
	if err != nil {
		return fmt.Errorf("insert waiting list entry: %w", mapError(err))
	}
	return nil
}

func (q *queries) DeleteWaitingListEntry(ctx context.Context, slotID, presenterID string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM waiting_list WHERE slot_id = ? AND presenter_id = ?`, slotID, presenterID)
	if err != nil {
		return fmt.Errorf("delete waiting list entry: %w", mapError(err))
	}
	return requireRow(res)
}

// ShiftWaitingList moves the tail through negative positions first; SQLite
// checks UNIQUE(slot_id, position) row by row.
func (q *queries) ShiftWaitingList(ctx context.Context, slotID string, afterPosition int) error {
	if _, err := q.db.ExecContext(ctx,
		`UPDATE waiting_list SET position = -(position - 1) WHERE slot_id = ? AND position > ?`,
		slotID, afterPosition,
	); err != nil {
		return fmt.Errorf("shift waiting list: %w", mapError(err))
	}
	if _, err := q.db.ExecContext(ctx,
		`UPDATE waiting_list SET position = -position WHERE slot_id = ? AND position < 0`,
		slotID,
	); err != nil {
		return fmt.Errorf("shift waiting list: %w", mapError(err))
	}
	return nil
}

// Promotions

const promotionColumns = `id, slot_id, presenter_id, source_presenter_id, promoted_at, expires_at, status`

func scanPromotion(row scanner) (model.Promotion, error) {
	var (
		p                     model.Promotion
		promotedAt, expiresAt int64
		status                string
	)
	if err := row.Scan(&p.ID, &p.SlotID, &p.PresenterID, &p.SourcePresenterID, &promotedAt, &expiresAt, &status); err != nil {
		return model.Promotion{}, notFound(err)
	}
	p.PromotedAt = fromMillis(promotedAt)
	p.ExpiresAt = fromMillis(expiresAt)
	var err error
	if p.Status, err = model.ParseStatus(status); err != nil {
		return model.Promotion{}, err
	}
	return p, nil
}

func (q *queries) InsertPromotion(ctx context.Context, p model.Promotion) error {
	_, err := q.db.ExecContext(ctx,
		`INSERT INTO promotions (`+promotionColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.SlotID, p.PresenterID, p.SourcePresenterID, toMillis(p.PromotedAt), toMillis(p.ExpiresAt), p.Status.String(),
	)
	if err != nil {
		return fmt.Errorf("insert promotion: %w", mapError(err))
	}
	return nil
}

func (q *queries) GetPromotion(ctx context.Context, promotionID string) (model.Promotion, error) {
	p, err := scanPromotion(q.db.QueryRowContext(ctx, `SELECT `+promotionColumns+` FROM promotions WHERE id = ?`, promotionID))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Promotion{}, fmt.Errorf("get promotion: %w", err)
	}
	return p, err
}

func (q *queries) GetPendingPromotion(ctx context.Context, slotID, presenterID string) (model.Promotion, error) {
	p, err := scanPromotion(q.db.QueryRowContext(ctx,
		`SELECT `+promotionColumns+` FROM promotions
		 WHERE slot_id = ? AND presenter_id = ? AND status = 'PENDING'`,
		slotID, presenterID,
	))
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return model.Promotion{}, fmt.Errorf("get pending promotion: %w", err)
	}
	return p, err
}

func (q *queries) UpdatePromotionStatus(ctx context.Context, promotionID string, status model.Status) error {
	res, err := q.db.ExecContext(ctx, `UPDATE promotions SET status = ? WHERE id = ?`, status.String(), promotionID)
	if err != nil {
		return fmt.Errorf("update promotion: %w", mapError(err))
	}
	return requireRow(res)
}

func (q *queries) ListExpiredPromotions(ctx context.Context, now time.Time) ([]model.Promotion, error) {
	rows, err := q.db.QueryContext(ctx,
		`SELECT `+promotionColumns+` FROM promotions
		 WHERE status = 'PENDING' AND expires_at < ?
		 ORDER BY expires_at, id`,
		toMillis(now),
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

// Approval tokens

func (q *queries) InsertToken(ctx context.Context, t model.ApprovalToken) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO approval_tokens (token, purpose, slot_id, presenter_id, promotion_id, expires_at, consumed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (token) DO NOTHING`,
		t.Value, string(t.Purpose), t.SlotID, t.PresenterID, t.PromotionID, toMillis(t.ExpiresAt), nullMillis(t.ConsumedAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert token: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (q *queries) GetToken(ctx context.Context, value string) (model.ApprovalToken, error) {
	var (
		t          model.ApprovalToken
		purpose    string
		expiresAt  int64
		consumedAt sql.NullInt64
	)
	err := q.db.QueryRowContext(ctx,
		`SELECT token, purpose, slot_id, presenter_id, promotion_id, expires_at, consumed_at
		 FROM approval_tokens WHERE token = ?`,
		value,
	).Scan(&t.Value, &purpose, &t.SlotID, &t.PresenterID, &t.PromotionID, &expiresAt, &consumedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ApprovalToken{}, repository.ErrNotFound
		}
		return model.ApprovalToken{}, fmt.Errorf("get token: %w", err)
	}
	t.Purpose = model.TokenPurpose(purpose)
	t.ExpiresAt = fromMillis(expiresAt)
	t.ConsumedAt = timePtr(consumedAt)
	return t, nil
}

func (q *queries) ConsumeToken(ctx context.Context, value string, now time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`UPDATE approval_tokens SET consumed_at = ?
		 WHERE token = ? AND consumed_at IS NULL AND expires_at >= ?`,
		toMillis(now), value, toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("consume token: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

// Reminders

func (q *queries) RecordReminder(ctx context.Context, slotID, presenterID, day string, sentAt time.Time) (bool, error) {
	res, err := q.db.ExecContext(ctx,
		`INSERT INTO reminder_log (slot_id, presenter_id, reminder_date, sent_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (slot_id, presenter_id, reminder_date) DO NOTHING`,
		slotID, presenterID, day, toMillis(sentAt),
	)
	if err != nil {
		return false, fmt.Errorf("record reminder: %w", mapError(err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

var _ repository.Store = (*Store)(nil)
