package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/audit"
	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/metrics"
	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/repository"
)

type AdminService struct {
	credentials repository.CredentialRepository
	history     *HistoryService
	authority   Authority
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewAdminService(
	credentials repository.CredentialRepository,
	history *HistoryService,
	authority Authority,
	m *metrics.Metrics,
) *AdminService {
	return &AdminService{
		credentials: credentials,
		history:     history,
		authority:   authority,
		metrics:     m,
		now:         time.Now,
	}
}

// Reject is the manual override: it takes the case's live credential out of
// play so a new one can be issued.
func (s *AdminService) Reject(ctx context.Context, caseID, reason, actor string) (*model.CredentialRecord, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, apperrors.MissingRequired("reason")
	}

	rec, err := s.credentials.FindLiveByCaseID(ctx, caseID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if rec == nil {
		return nil, apperrors.NotFound("Credential")
	}
	if !model.CanTransition(rec.Status, model.CredentialStatusRejected) {
		return nil, apperrors.Conflict("Credential can no longer be rejected").
			WithDetails(map[string]string{"status": string(rec.Status)})
	}

	updated, err := s.credentials.Transition(ctx, model.TransitionParams{
		RecordID:     rec.ID,
		To:           model.CredentialStatusRejected,
		At:           s.now(),
		RejectReason: &reason,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if updated == nil {
		return nil, apperrors.Conflict("Credential changed state, reload and retry")
	}

	s.metrics.IncrementTransition(string(model.CredentialStatusRejected))
	audit.Log(ctx, audit.Event{
		Type:   audit.EventCredentialReject,
		Actor:  actor,
		CaseID: caseID,
		Details: map[string]interface{}{
			"transactionId": updated.TransactionID,
			"previous":      string(rec.Status),
			"reason":        reason,
		},
	})
	log.Info().Str("caseId", caseID).Str("actor", actor).Msg("credential rejected")

	return updated, nil
}

type Stats struct {
	History     *model.Statistics `json:"history"`
	Credentials map[string]int    `json:"credentials"`
	Mock        struct {
		Issuer   bool `json:"issuer"`
		Verifier bool `json:"verifier"`
	} `json:"mock"`
}

// GetStats combines history statistics with current record counts.
func (s *AdminService) GetStats(ctx context.Context, filter model.HistoryFilter) (*Stats, error) {
	history, err := s.history.Statistics(ctx, filter)
	if err != nil {
		return nil, err
	}

	counts, err := s.credentials.CountByStatus(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	stats := &Stats{History: history, Credentials: make(map[string]int, len(counts))}
	for status, n := range counts {
		stats.Credentials[string(status)] = n
	}
	if m, ok := s.authority.(interface {
		IssuerMock() bool
		VerifierMock() bool
	}); ok {
		stats.Mock.Issuer = m.IssuerMock()
		stats.Mock.Verifier = m.VerifierMock()
	}
	return stats, nil
}
