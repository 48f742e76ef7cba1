package notify

import (
	"context"
	"sync"
)

// Recorder is an in-memory Gateway that keeps every message. Set Err to
// make every send fail.
type Recorder struct {
	mu sync.Mutex

	Err error

	ApprovalRequests []ApprovalRequest
	Reminders        []Reminder
	PromotionOffers  []PromotionOffer
	Decisions        []Decision
}

func (r *Recorder) SendApprovalRequest(_ context.Context, msg ApprovalRequest) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.ApprovalRequests = append(r.ApprovalRequests, msg)
	return nil
}

func (r *Recorder) SendReminder(_ context.Context, msg Reminder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Reminders = append(r.Reminders, msg)
	return nil
}

func (r *Recorder) SendPromotionOffer(_ context.Context, msg PromotionOffer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.PromotionOffers = append(r.PromotionOffers, msg)
	return nil
}

func (r *Recorder) SendDecision(_ context.Context, msg Decision) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.Decisions = append(r.Decisions, msg)
	return nil
}

// Counts returns the number of recorded approval requests, reminders,
// promotion offers and decisions.
func (r *Recorder) Counts() (approvals, reminders, offers, decisions int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ApprovalRequests), len(r.Reminders), len(r.PromotionOffers), len(r.Decisions)
}

// LastPromotionOffer returns the most recent offer.
func (r *Recorder) LastPromotionOffer() (PromotionOffer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.PromotionOffers) == 0 {
		return PromotionOffer{}, false
	}
	return r.PromotionOffers[len(r.PromotionOffers)-1], true
}

// LastApprovalRequest returns the most recent approval request.
func (r *Recorder) LastApprovalRequest() (ApprovalRequest, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ApprovalRequests) == 0 {
		return ApprovalRequest{}, false
	}
	return r.ApprovalRequests[len(r.ApprovalRequests)-1], true
}
