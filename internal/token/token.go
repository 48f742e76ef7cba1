// Package token issues and consumes single-use approval tokens.
package token

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Shivanand-hulikatti/seminar-slots/internal/apperr"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/model"
	"github.com/Shivanand-hulikatti/seminar-slots/internal/repository"
)

const (
	tokenBytes   = 32
	issueRetries = 3
)

// Grant is what a token authorizes: a decision on one registration, or on
// one promotion offer and its registration.
type Grant struct {
	Purpose     model.TokenPurpose
	SlotID      string
	PresenterID string
	PromotionID string
}

// Manager issues, consumes and revokes approval tokens. It owns no state;
// every call runs against the Queries it is handed, usually a transaction.
type Manager struct {
	random io.Reader
}

// NewManager returns a Manager reading from crypto/rand.
func NewManager() *Manager {
	return &Manager{random: rand.Reader}
}

// Generate returns a URL-safe random token value.
func (m *Manager) Generate() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := io.ReadFull(m.random, b); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// Issue stores a new token for grant that expires ttl after now.
func (m *Manager) Issue(ctx context.Context, q repository.Queries, grant Grant, now time.Time, ttl time.Duration) (model.ApprovalToken, error) {
	for range issueRetries {
		value, err := m.Generate()
		if err != nil {
			return model.ApprovalToken{}, err
		}
		tok := model.ApprovalToken{
			Value:       value,
			Purpose:     grant.Purpose,
			SlotID:      grant.SlotID,
			PresenterID: grant.PresenterID,
			PromotionID: grant.PromotionID,
			ExpiresAt:   now.Add(ttl),
		}
		inserted, err := q.InsertToken(ctx, tok)
		if err != nil {
			return model.ApprovalToken{}, err
		}
		if inserted {
			return tok, nil
		}
	}
	return model.ApprovalToken{}, errors.New("issue token: value collision")
}

// Consume marks value used and returns what it grants. Exactly one of any
// number of concurrent callers succeeds; the rest get
// apperr.ErrTokenAlreadyUsed.
func (m *Manager) Consume(ctx context.Context, q repository.Queries, value string, now time.Time) (model.ApprovalToken, error) {
	if value == "" {
		return model.ApprovalToken{}, apperr.ErrTokenNotFound
	}
	consumed, err := q.ConsumeToken(ctx, value, now)
	if err != nil {
		return model.ApprovalToken{}, err
	}
	tok, err := q.GetToken(ctx, value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.ApprovalToken{}, apperr.ErrTokenNotFound
		}
		return model.ApprovalToken{}, err
	}
	if consumed {
		return tok, nil
	}
	if tok.ConsumedAt != nil {
		return model.ApprovalToken{}, apperr.ErrTokenAlreadyUsed
	}
	if now.After(tok.ExpiresAt) {
		return model.ApprovalToken{}, apperr.ErrTokenExpired
	}
	// Unconsumed and unexpired yet the conditional update missed: another
	// writer got there between the two statements.
	return model.ApprovalToken{}, apperr.ErrTokenAlreadyUsed
}

// Lookup returns the token without consuming it, so a caller can lock the
// slot it grants before Consume.
func (m *Manager) Lookup(ctx context.Context, q repository.Queries, value string) (model.ApprovalToken, error) {
	if value == "" {
		return model.ApprovalToken{}, apperr.ErrTokenNotFound
	}
	tok, err := q.GetToken(ctx, value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.ApprovalToken{}, apperr.ErrTokenNotFound
		}
		return model.ApprovalToken{}, err
	}
	return tok, nil
}

// Revoke consumes value without acting on it. Unknown and already consumed
// tokens are ignored.
func (m *Manager) Revoke(ctx context.Context, q repository.Queries, value string, now time.Time) error {
	if value == "" {
		return nil
	}
	tok, err := q.GetToken(ctx, value)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil
		}
		return err
	}
	if tok.ConsumedAt != nil {
		return nil
	}
	// An expired token is already inert; stamping it at its own expiry keeps
	// the conditional update applicable.
	at := now
	if at.After(tok.ExpiresAt) {
		at = tok.ExpiresAt
	}
	if _, err := q.ConsumeToken(ctx, value, at); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}
