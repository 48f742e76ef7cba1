// Package notify delivers approval, reminder, promotion and decision
// messages. Delivery is fire-and-forget: the core never retries, gateways
// report failures and the caller logs them.
package notify

import (
	"context"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
)

// SlotInfo is the slot summary rendered into messages.
type SlotInfo struct {
	ID        string
	Date      string
	StartTime string
	EndTime   string
	Building  string
	Room      string
}

// SlotInfoFrom summarizes slot for a message.
func SlotInfoFrom(slot model.Slot) SlotInfo {
	return SlotInfo{
		ID:        slot.ID,
		Date:      slot.Date.Format("2006-01-02"),
		StartTime: slot.StartTime,
		EndTime:   slot.EndTime,
		Building:  slot.Building,
		Room:      slot.Room,
	}
}

// ApprovalRequest asks a supervisor to approve a registration.
type ApprovalRequest struct {
	PresenterID string
	Details     model.Details
	Slot        SlotInfo
	ApproveURL  string
	DeclineURL  string
	ExpiresAt   time.Time
}

// Reminder re-sends a pending approval request to the supervisor and
// tells the presenter it is still outstanding.
type Reminder struct {
	PresenterID string
	Details     model.Details
	Slot        SlotInfo
	ApproveURL  string
	DeclineURL  string
	ExpiresAt   time.Time
}

// PromotionOffer tells a waiting-list presenter a seat was freed for them.
type PromotionOffer struct {
	PresenterID string
	Details     model.Details
	Slot        SlotInfo
	ApproveURL  string
	DeclineURL  string
	ExpiresAt   time.Time
}

// Decision tells a presenter how their registration was resolved.
type Decision struct {
	PresenterID string
	Details     model.Details
	Slot        SlotInfo
	Status      model.Status
	Reason      string
}

// Gateway sends messages.
type Gateway interface {
	SendApprovalRequest(ctx context.Context, msg ApprovalRequest) error
	SendReminder(ctx context.Context, msg Reminder) error
	SendPromotionOffer(ctx context.Context, msg PromotionOffer) error
	SendDecision(ctx context.Context, msg Decision) error
}

// Links builds approve and decline URLs for a token.
type Links struct {
	BaseURL string
}

// Approve returns the approve URL for token.
func (l Links) Approve(token string) string {
	return l.build(token, "approve")
}

// Decline returns the decline URL for token.
func (l Links) Decline(token string) string {
	return l.build(token, "decline")
}

func (l Links) build(token, action string) string {
	base := strings.TrimRight(l.BaseURL, "/")
	return base + "/approvals/" + url.PathEscape(token) + "/" + action
}

// Batch collects messages produced inside a transaction so they can be
// sent after it commits. A Batch belongs to one transaction attempt.
type Batch struct {
	sends []send
}

type send struct {
	kind string
	fn   func(ctx context.Context, gw Gateway) error
}

// ApprovalRequest queues msg.
func (b *Batch) ApprovalRequest(msg ApprovalRequest) {
	b.add("approval_request", func(ctx context.Context, gw Gateway) error { return gw.SendApprovalRequest(ctx, msg) })
}

// Reminder queues msg.
func (b *Batch) Reminder(msg Reminder) {
	b.add("reminder", func(ctx context.Context, gw Gateway) error { return gw.SendReminder(ctx, msg) })
}

// PromotionOffer queues msg.
func (b *Batch) PromotionOffer(msg PromotionOffer) {
	b.add("promotion_offer", func(ctx context.Context, gw Gateway) error { return gw.SendPromotionOffer(ctx, msg) })
}

// Decision queues msg.
func (b *Batch) Decision(msg Decision) {
	b.add("decision", func(ctx context.Context, gw Gateway) error { return gw.SendDecision(ctx, msg) })
}

func (b *Batch) add(kind string, fn func(ctx context.Context, gw Gateway) error) {
	b.sends = append(b.sends, send{kind: kind, fn: fn})
}

// Len reports the number of queued messages.
func (b *Batch) Len() int {
	if b == nil {
		return 0
	}
	return len(b.sends)
}

// Flush sends every queued message in order. Failures are logged and do
// not stop the remaining sends. It returns the number of failures.
func (b *Batch) Flush(ctx context.Context, gw Gateway, logger *slog.Logger) int {
	if b == nil || gw == nil {
		return 0
	}
	if logger == nil {
		logger = slog.Default()
	}
	failed := 0
	for _, s := range b.sends {
		if err := s.fn(ctx, gw); err != nil {
			failed++
			logger.Error("notification failed", "kind", s.kind, "error", err)
		}
	}
	b.sends = nil
	return failed
}
