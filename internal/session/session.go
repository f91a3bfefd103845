// Package session holds short-lived QR interaction sessions. A session is
// resolved at most once and its expiry is fixed when it is created.
package session

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/util"
)

var (
	ErrNotFound        = errors.New("session not found")
	ErrExpired         = errors.New("session expired")
	ErrAlreadyResolved = errors.New("session already resolved")
	ErrCapacity        = errors.New("session store at capacity")
	ErrExists          = errors.New("session id already in use")
	ErrInvalidOutcome  = errors.New("session outcome must be verified or failed")
)

type CreateParams struct {
	Kind model.SessionKind
	// ID overrides the generated id. Presentation sessions use the
	// presentation transaction id so kiosk and resolver share a key.
	ID            string
	TransactionID string
	ServiceRef    string
}

type Outcome struct {
	Status     model.SessionStatus
	HolderInfo map[string]string
}

type Store interface {
	Create(ctx context.Context, params CreateParams) (*model.CredentialSession, error)
	// Get returns ErrNotFound for unknown or swept ids. A pending session past
	// its expiry is returned with status expired.
	Get(ctx context.Context, id string) (*model.CredentialSession, error)
	// Resolve sets the terminal status once. Resolving a non-pending session
	// returns the stored session together with ErrAlreadyResolved; resolving an
	// expired one returns ErrExpired.
	Resolve(ctx context.Context, id string, outcome Outcome) (*model.CredentialSession, error)
	// Sweep drops sessions past their expiry and reports how many went.
	Sweep(ctx context.Context) (int64, error)
}

func newSession(params CreateParams, ttl time.Duration, now time.Time) (*model.CredentialSession, error) {
	if !params.Kind.Valid() {
		return nil, fmt.Errorf("unknown session kind %q", params.Kind)
	}

	challenge, err := util.GenerateChallenge()
	if err != nil {
		return nil, fmt.Errorf("generate challenge: %w", err)
	}

	id := params.ID
	if id == "" {
		id = uuid.NewString()
	}

	return &model.CredentialSession{
		ID:            id,
		Kind:          params.Kind,
		Challenge:     challenge,
		Status:        model.SessionStatusPending,
		TransactionID: params.TransactionID,
		ServiceRef:    params.ServiceRef,
		CreatedAt:     now,
		ExpiresAt:     now.Add(ttl),
	}, nil
}

// markExpired flips a pending session past its expiry to expired. It reports
// whether the session changed.
func markExpired(s *model.CredentialSession, now time.Time) bool {
	if s.Pending() && s.Expired(now) {
		s.Status = model.SessionStatusExpired
		return true
	}
	return false
}

// applyOutcome validates and applies outcome to a stored session in place.
func applyOutcome(s *model.CredentialSession, outcome Outcome, now time.Time) error {
	if outcome.Status != model.SessionStatusVerified && outcome.Status != model.SessionStatusFailed {
		return ErrInvalidOutcome
	}
	if s.Status == model.SessionStatusExpired {
		return ErrExpired
	}
	if !s.Pending() {
		return ErrAlreadyResolved
	}

	s.Status = outcome.Status
	resolvedAt := now
	s.ResolvedAt = &resolvedAt
	if outcome.Status == model.SessionStatusVerified && len(outcome.HolderInfo) > 0 {
		s.HolderInfo = maps.Clone(outcome.HolderInfo)
	}
	return nil
}

func clone(s *model.CredentialSession) *model.CredentialSession {
	c := *s
	c.HolderInfo = maps.Clone(s.HolderInfo)
	if s.ResolvedAt != nil {
		t := *s.ResolvedAt
		c.ResolvedAt = &t
	}
	return &c
}
