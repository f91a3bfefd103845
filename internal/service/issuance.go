package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/audit"
	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/gateway"
	"github.com/reliefwallet/credential-engine/internal/metrics"
	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/notify"
	"github.com/reliefwallet/credential-engine/internal/repository"
	"github.com/reliefwallet/credential-engine/internal/session"
	"github.com/reliefwallet/credential-engine/internal/util"
)

type IssuanceConfig struct {
	// CredentialUID is the authority's template id for the relief credential.
	CredentialUID string
	Organization  string
	Validity      time.Duration
}

type IssueResult struct {
	CaseID        string                 `json:"caseId"`
	TransactionID string                 `json:"transactionId"`
	QRPayload     string                 `json:"qrPayload"`
	DeepLink      string                 `json:"deepLink"`
	Status        model.CredentialStatus `json:"status"`
	Mock          bool                   `json:"mock"`
	SessionID     string                 `json:"sessionId,omitempty"`
	ExpiresIn     int                    `json:"expiresIn,omitempty"`
}

// IssuanceService turns an approved case into a claimable credential offer.
type IssuanceService struct {
	db          TxRunner
	cases       repository.CaseRepository
	credentials repository.CredentialRepository
	history     repository.HistoryRepository
	sessions    session.Store
	authority   Authority
	notifier    Notifier
	metrics     *metrics.Metrics
	cfg         IssuanceConfig
	now         func() time.Time
}

func NewIssuanceService(
	db TxRunner,
	cases repository.CaseRepository,
	credentials repository.CredentialRepository,
	history repository.HistoryRepository,
	sessions session.Store,
	authority Authority,
	notifier Notifier,
	m *metrics.Metrics,
	cfg IssuanceConfig,
) *IssuanceService {
	return &IssuanceService{
		db:          db,
		cases:       cases,
		credentials: credentials,
		history:     history,
		sessions:    sessions,
		authority:   authority,
		notifier:    notifier,
		metrics:     m,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Issue requests a credential offer for an approved case. Nothing is
// persisted unless the authority produced an offer; the record and its
// credential_issued history entry commit together.
func (s *IssuanceService) Issue(ctx context.Context, caseID string) (*IssueResult, error) {
	c, err := s.cases.FindApprovedByID(ctx, caseID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if c == nil {
		return nil, apperrors.NotFound("Approved case")
	}

	live, err := s.credentials.FindLiveByCaseID(ctx, caseID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if live != nil {
		return nil, errLiveCredential(live)
	}

	fields, err := SubjectFields(c)
	if err != nil {
		return nil, err
	}

	now := s.now()
	offer, err := s.authority.IssueCredential(ctx, gateway.IssueRequest{
		CredentialUID: s.cfg.CredentialUID,
		Fields:        fields,
		Validity:      gateway.ValidityWindow{From: now, Until: now.Add(s.cfg.Validity)},
	})
	if err != nil {
		return nil, err
	}

	var issuerRef *json.RawMessage
	if len(offer.Raw) > 0 {
		raw := offer.Raw
		issuerRef = &raw
	}

	var record *model.CredentialRecord
	err = s.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		record, err = s.credentials.WithTx(tx).Create(ctx, model.CreateCredentialRecordParams{
			CaseID:          c.ID,
			TransactionID:   offer.TransactionID,
			CertificateNo:   offer.TransactionID,
			IssuerReference: issuerRef,
			Mock:            offer.Mock,
			IssuedAt:        now,
		})
		if err != nil {
			return err
		}

		var notes *string
		if offer.Mock {
			notes = strPtr("issued by local mock")
		}
		err = appendHistory(ctx, s.history.WithTx(tx), model.CreateHistoryEntryParams{
			CaseID:         c.ID,
			UserID:         c.UserID,
			ActionType:     model.HistoryActionIssued,
			Status:         model.CredentialStatusIssued,
			CredentialType: model.CredentialTypeSubsidyRelief,
			Organization:   s.cfg.Organization,
			TransactionID:  offer.TransactionID,
			Notes:          notes,
			ActionTime:     now,
		})
		return err
	})
	if errors.Is(err, repository.ErrUniqueViolation) {
		// Lost a race with a concurrent issuance for the same case.
		if live, findErr := s.credentials.FindLiveByCaseID(ctx, caseID); findErr == nil && live != nil {
			return nil, errLiveCredential(live)
		}
		return nil, apperrors.Conflict("A credential is already issued for this case")
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}

	s.metrics.IncrementTransition(string(model.CredentialStatusIssued))
	audit.Log(ctx, audit.Event{
		Type:   audit.EventCredentialIssued,
		CaseID: c.ID,
		Details: map[string]interface{}{
			"transactionId": record.TransactionID,
			"mock":          record.Mock,
		},
	})

	result := &IssueResult{
		CaseID:        c.ID,
		TransactionID: record.TransactionID,
		QRPayload:     offer.CredentialPayload,
		DeepLink:      offer.DeepLink,
		Status:        record.Status,
		Mock:          offer.Mock,
	}

	// The issuance session only drives holder-facing feedback, so failing to
	// create one does not undo the issuance.
	sess, err := s.sessions.Create(ctx, session.CreateParams{
		Kind:          model.SessionKindIssuance,
		ID:            record.TransactionID,
		TransactionID: record.TransactionID,
	})
	if err != nil {
		log.Warn().Err(err).Str("caseId", c.ID).Msg("creating issuance session")
	} else {
		s.metrics.IncrementSessionCreated(string(model.SessionKindIssuance))
		result.SessionID = sess.ID
		result.ExpiresIn = sess.ExpiresIn(s.now())
	}

	s.notifier.Notify(ctx, derefStr(c.UserID), notify.KindCredentialIssued, map[string]string{
		"caseId":        c.ID,
		"transactionId": record.TransactionID,
	})

	log.Info().
		Str("caseId", c.ID).
		Str("transactionId", record.TransactionID).
		Bool("mock", offer.Mock).
		Msg("credential issued")

	return result, nil
}

// Current returns the case's live credential record.
func (s *IssuanceService) Current(ctx context.Context, caseID string) (*model.CredentialRecord, error) {
	rec, err := s.credentials.FindLiveByCaseID(ctx, caseID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if rec == nil {
		return nil, apperrors.NotFound("Credential")
	}
	return rec, nil
}

// SubjectFields builds the credential subject from the case. Cases whose
// applicant identity is missing or provisional are refused so no credential
// is issued that nobody can claim.
func SubjectFields(c *model.Case) ([]gateway.Field, error) {
	if util.IsPlaceholderIdentity(c.IDNumber) {
		return nil, apperrors.ValidationError("Applicant id number is missing or provisional").
			WithDetails(map[string]string{"field": "id_number"})
	}
	if c.ApplicantName == "" {
		return nil, apperrors.MissingRequired("applicant name").
			WithDetails(map[string]string{"field": "name"})
	}

	return []gateway.Field{
		{Name: "name", Content: c.ApplicantName},
		{Name: "id_number", Content: c.IDNumber},
		{Name: "phone_number", Content: c.Phone},
		{Name: "registered_address", Content: c.Address},
		{Name: "address", Content: c.DamageOrRegisteredAddress()},
	}, nil
}

func errLiveCredential(rec *model.CredentialRecord) *apperrors.AppError {
	return apperrors.Conflict("A credential is already issued for this case").
		WithDetails(map[string]string{
			"status":        string(rec.Status),
			"transactionId": rec.TransactionID,
		})
}
