package notify

import (
	"context"
	"log/slog"
)

// LogGateway writes messages to a logger instead of delivering them. It is
// the default in development.
type LogGateway struct {
	logger *slog.Logger
}

// NewLogGateway returns a gateway logging through logger.
func NewLogGateway(logger *slog.Logger) *LogGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogGateway{logger: logger.With("component", "notify")}
}

func (g *LogGateway) SendApprovalRequest(ctx context.Context, msg ApprovalRequest) error {
	g.logger.InfoContext(ctx, "approval request",
		"to", msg.Details.SupervisorEmail,
		"presenter_id", msg.PresenterID,
		"slot_id", msg.Slot.ID,
		"approve_url", msg.ApproveURL,
		"decline_url", msg.DeclineURL,
		"expires_at", msg.ExpiresAt,
	)
	return nil
}

func (g *LogGateway) SendReminder(ctx context.Context, msg Reminder) error {
	g.logger.InfoContext(ctx, "approval reminder",
		"to", msg.Details.SupervisorEmail,
		"cc", msg.Details.PresenterEmail,
		"presenter_id", msg.PresenterID,
		"slot_id", msg.Slot.ID,
		"approve_url", msg.ApproveURL,
		"expires_at", msg.ExpiresAt,
	)
	return nil
}

func (g *LogGateway) SendPromotionOffer(ctx context.Context, msg PromotionOffer) error {
	g.logger.InfoContext(ctx, "promotion offer",
		"to", msg.Details.PresenterEmail,
		"presenter_id", msg.PresenterID,
		"slot_id", msg.Slot.ID,
		"approve_url", msg.ApproveURL,
		"decline_url", msg.DeclineURL,
		"expires_at", msg.ExpiresAt,
	)
	return nil
}

func (g *LogGateway) SendDecision(ctx context.Context, msg Decision) error {
	g.logger.InfoContext(ctx, "registration decision",
		"to", msg.Details.PresenterEmail,
		"presenter_id", msg.PresenterID,
		"slot_id", msg.Slot.ID,
		"status", msg.Status.String(),
		"reason", msg.Reason,
	)
	return nil
}
