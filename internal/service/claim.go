package service

import (
	"context"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/gateway"
	"github.com/reliefwallet/credential-engine/internal/metrics"
	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/notify"
	"github.com/reliefwallet/credential-engine/internal/repository"
	"github.com/reliefwallet/credential-engine/internal/session"
)

type PollResult struct {
	TransactionID string                 `json:"transactionId"`
	Claimed       bool                   `json:"claimed"`
	Status        model.CredentialStatus `json:"status,omitempty"`
	Mock          bool                   `json:"mock"`
}

// ClaimService answers "has the holder stored the credential yet" and
// advances the record the first time the answer is yes.
type ClaimService struct {
	db          TxRunner
	cases       repository.CaseRepository
	credentials repository.CredentialRepository
	history     repository.HistoryRepository
	sessions    session.Store
	authority   Authority
	notifier    Notifier
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewClaimService(
	db TxRunner,
	cases repository.CaseRepository,
	credentials repository.CredentialRepository,
	history repository.HistoryRepository,
	sessions session.Store,
	authority Authority,
	notifier Notifier,
	m *metrics.Metrics,
) *ClaimService {
	return &ClaimService{
		db:          db,
		cases:       cases,
		credentials: credentials,
		history:     history,
		sessions:    sessions,
		authority:   authority,
		notifier:    notifier,
		metrics:     m,
		now:         time.Now,
	}
}

// Poll asks the authority once. Recording the claim is best effort: the
// holder already has the credential, so local failures are logged and the
// next poll tries again.
func (s *ClaimService) Poll(ctx context.Context, transactionID string) (*PollResult, error) {
	res, err := s.authority.CheckClaimStatus(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	result := &PollResult{
		TransactionID: transactionID,
		Claimed:       res.Status == gateway.ClaimStatusClaimed,
		Mock:          res.Mock,
	}
	if !result.Claimed {
		return result, nil
	}

	rec, err := s.recordClaim(ctx, transactionID, res)
	if err != nil {
		log.Error().Err(err).Str("transactionId", transactionID).Msg("recording credential claim")
	}
	if rec != nil {
		result.Status = rec.Status
	}

	if _, err := s.sessions.Resolve(ctx, transactionID, session.Outcome{Status: model.SessionStatusVerified}); err != nil &&
		!errors.Is(err, session.ErrAlreadyResolved) && !errors.Is(err, session.ErrNotFound) {
		log.Warn().Err(err).Str("transactionId", transactionID).Msg("resolving issuance session")
	} else if err == nil {
		s.notifier.SessionResolved(ctx, transactionID, map[string]any{
			"status":        model.SessionStatusVerified,
			"transactionId": transactionID,
		})
	}

	return result, nil
}

// recordClaim moves an issued record to claimed with its history entry. A
// record already past issued is returned unchanged.
func (s *ClaimService) recordClaim(ctx context.Context, transactionID string, res *gateway.ClaimResult) (*model.CredentialRecord, error) {
	rec, err := s.credentials.FindByTransactionID(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		log.Warn().Str("transactionId", transactionID).Msg("claimed credential has no local record")
		return nil, nil
	}
	if rec.Status != model.CredentialStatusIssued {
		return rec, nil
	}

	c, err := s.cases.FindByID(ctx, rec.CaseID)
	if err != nil {
		return rec, err
	}

	now := s.now()
	var updated *model.CredentialRecord
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		updated, err = s.credentials.WithTx(tx).Transition(ctx, model.TransitionParams{
			RecordID: rec.ID,
			To:       model.CredentialStatusClaimed,
			At:       now,
		})
		if err != nil || updated == nil {
			return err
		}

		var userID *string
		if c != nil {
			userID = c.UserID
		}
		err = appendHistory(ctx, s.history.WithTx(tx), model.CreateHistoryEntryParams{
			CaseID:         rec.CaseID,
			UserID:         userID,
			ActionType:     model.HistoryActionClaimed,
			Status:         model.CredentialStatusClaimed,
			CredentialType: model.CredentialTypeSubsidyRelief,
			TransactionID:  transactionID,
			Notes:          strPtr(res.CredentialID),
			ActionTime:     now,
		})
		return err
	})
	if err != nil {
		return rec, err
	}
	if updated == nil {
		// Another poll or a verification moved it first.
		return s.credentials.FindByTransactionID(ctx, transactionID)
	}

	s.metrics.IncrementTransition(string(model.CredentialStatusClaimed))
	if c != nil {
		s.notifier.Notify(ctx, derefStr(c.UserID), notify.KindCredentialClaimed, map[string]string{
			"caseId":        rec.CaseID,
			"transactionId": transactionID,
		})
	}
	return updated, nil
}
