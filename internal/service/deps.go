package service

import (
	"context"
	"errors"

	"github.com/reliefwallet/credential-engine/internal/database"
	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/gateway"
	"github.com/reliefwallet/credential-engine/internal/session"
)

// Authority is the credential authority as the orchestrators see it.
// *gateway.Gateway implements it.
type Authority interface {
	IssueCredential(ctx context.Context, req gateway.IssueRequest) (*gateway.IssueResult, error)
	CheckClaimStatus(ctx context.Context, transactionID string) (*gateway.ClaimResult, error)
	CreatePresentationRequest(ctx context.Context, req gateway.PresentationRequest) (*gateway.PresentationSession, error)
	ResolvePresentation(ctx context.Context, transactionID string) (*gateway.PresentationResult, error)
	LastServedByMock() bool
}

var _ Authority = (*gateway.Gateway)(nil)

// Notifier delivers fire-and-forget notifications. *notify.Dispatcher
// implements it.
type Notifier interface {
	Notify(ctx context.Context, userID, kind string, data any)
	SessionResolved(ctx context.Context, sessionID string, data any)
}

type TxRunner = database.TxRunner

// sessionError maps session store sentinels onto the public taxonomy.
func sessionError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, session.ErrNotFound):
		return apperrors.SessionNotFound()
	case errors.Is(err, session.ErrExpired):
		return apperrors.SessionExpired()
	case errors.Is(err, session.ErrAlreadyResolved):
		return apperrors.SessionAlreadyResolved()
	case errors.Is(err, session.ErrCapacity):
		return apperrors.RateLimitExceeded().WithCause(err)
	default:
		return apperrors.Internal("Session store error").WithCause(err)
	}
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func derefStr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
