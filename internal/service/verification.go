package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/gateway"
	"github.com/reliefwallet/credential-engine/internal/metrics"
	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/session"
)

// CallerContext is what the kiosk knows about the interaction, beyond the
// presentation itself.
type CallerContext struct {
	ApplicantIDNumber    string                   `json:"applicantIdNumber,omitempty"`
	VerifierOrganization string                   `json:"verifierOrganization,omitempty"`
	Location             *model.Location          `json:"location,omitempty"`
	DisbursementMethod   model.DisbursementMethod `json:"disbursementMethod,omitempty"`
}

type PresentationSessionResult struct {
	TransactionID string `json:"transactionId"`
	QRImage       string `json:"qrImage"`
	AuthURI       string `json:"authUri"`
	SessionID     string `json:"sessionId"`
	ExpiresIn     int    `json:"expiresIn"`
	Mock          bool   `json:"mock"`
}

type ResolveResult struct {
	TransactionID  string               `json:"transactionId"`
	Verified       bool                 `json:"verified"`
	Description    string               `json:"description,omitempty"`
	CredentialType model.CredentialType `json:"credentialType,omitempty"`
	Mock           bool                 `json:"mock"`
	Result         *DispatchResult      `json:"result,omitempty"`
}

type VerificationConfig struct {
	ServiceRef   string
	Organization string
}

// VerificationService runs kiosk presentations: it opens the QR session and
// later turns the authority's verdict into the effect the credential type
// calls for.
type VerificationService struct {
	sessions  session.Store
	authority Authority
	notifier  Notifier
	metrics   *metrics.Metrics
	cfg       VerificationConfig
	variants  map[model.CredentialType]Variant
	inflight  singleflight.Group
	now       func() time.Time
}

func NewVerificationService(
	sessions session.Store,
	authority Authority,
	notifier Notifier,
	m *metrics.Metrics,
	cfg VerificationConfig,
	variants ...Variant,
) *VerificationService {
	registry := make(map[model.CredentialType]Variant, len(variants))
	for _, v := range variants {
		registry[v.Type()] = v
	}
	return &VerificationService{
		sessions:  sessions,
		authority: authority,
		notifier:  notifier,
		metrics:   m,
		cfg:       cfg,
		variants:  registry,
		now:       time.Now,
	}
}

// Supports reports whether a variant is registered for t.
func (s *VerificationService) Supports(t model.CredentialType) bool {
	_, ok := s.variants[t]
	return ok
}

func (s *VerificationService) CreatePresentationSession(ctx context.Context, serviceRef string) (*PresentationSessionResult, error) {
	if serviceRef == "" {
		serviceRef = s.cfg.ServiceRef
	}
	if serviceRef == "" {
		return nil, apperrors.MissingRequired("serviceRef")
	}

	req, err := s.authority.CreatePresentationRequest(ctx, gateway.PresentationRequest{ServiceRef: serviceRef})
	if err != nil {
		return nil, err
	}

	sess, err := s.sessions.Create(ctx, session.CreateParams{
		Kind:          model.SessionKindPresentation,
		ID:            req.TransactionID,
		TransactionID: req.TransactionID,
		ServiceRef:    serviceRef,
	})
	if err != nil {
		return nil, sessionError(err)
	}
	s.metrics.IncrementSessionCreated(string(model.SessionKindPresentation))

	return &PresentationSessionResult{
		TransactionID: req.TransactionID,
		QRImage:       req.QRImage,
		AuthURI:       req.AuthURI,
		SessionID:     sess.ID,
		ExpiresIn:     sess.ExpiresIn(s.now()),
		Mock:          req.Mock,
	}, nil
}

// Resolve fetches the authority's verdict for a presentation and applies it.
// Concurrent calls for the same transaction share the authority call and the
// session resolution; the credential effect runs once per caller with that
// caller's own context.
func (s *VerificationService) Resolve(ctx context.Context, transactionID string, caller CallerContext) (*ResolveResult, error) {
	ch := s.inflight.DoChan(transactionID, func() (interface{}, error) {
		// Detached so one kiosk hanging up does not fail the others waiting
		// on the same verdict.
		return s.settle(context.WithoutCancel(ctx), transactionID)
	})

	var pres *gateway.PresentationResult
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		pres = res.Val.(*gateway.PresentationResult)
	}
	return s.dispatch(ctx, transactionID, pres, caller)
}

// settle asks the authority for its verdict and records it on the session.
func (s *VerificationService) settle(ctx context.Context, transactionID string) (*gateway.PresentationResult, error) {
	sess, err := s.sessions.Get(ctx, transactionID)
	if err != nil {
		return nil, sessionError(err)
	}
	if sess.Kind != model.SessionKindPresentation {
		return nil, apperrors.SessionNotFound()
	}
	if sess.Status == model.SessionStatusExpired {
		return nil, apperrors.SessionExpired()
	}

	// On failure the session stays pending so the kiosk can retry.
	pres, err := s.authority.ResolvePresentation(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	outcome := session.Outcome{Status: model.SessionStatusFailed}
	if pres.Verified && s.Supports(pres.CredentialType) {
		outcome = session.Outcome{Status: model.SessionStatusVerified, HolderInfo: pres.ClaimMap()}
	}

	// The session decides first: an expiry that lands while the authority
	// was answering wins over the late verdict.
	if _, err := s.sessions.Resolve(ctx, transactionID, outcome); err != nil {
		if !errors.Is(err, session.ErrAlreadyResolved) {
			return nil, sessionError(err)
		}
		stored, getErr := s.sessions.Get(ctx, transactionID)
		if getErr != nil {
			return nil, sessionError(getErr)
		}
		if stored.Status != outcome.Status {
			return nil, apperrors.SessionAlreadyResolved()
		}
	} else {
		s.notifier.SessionResolved(ctx, transactionID, map[string]any{
			"status":         outcome.Status,
			"transactionId":  transactionID,
			"credentialType": pres.CredentialType,
		})
	}
	return pres, nil
}

// dispatch applies a settled verdict for one caller.
func (s *VerificationService) dispatch(ctx context.Context, transactionID string, pres *gateway.PresentationResult, caller CallerContext) (*ResolveResult, error) {
	result := &ResolveResult{
		TransactionID:  transactionID,
		Verified:       pres.Verified,
		Description:    pres.Description,
		CredentialType: pres.CredentialType,
		Mock:           pres.Mock,
	}

	if !pres.Verified {
		s.metrics.IncrementPresentation(string(pres.CredentialType), "failed")
		log.Info().Str("transactionId", transactionID).Str("description", pres.Description).Msg("presentation not verified")
		return result, nil
	}

	variant, ok := s.variants[pres.CredentialType]
	if !ok {
		s.metrics.IncrementPresentation("unknown", "unsupported")
		return nil, apperrors.UnsupportedCredential(pres.AuthorityType)
	}

	if caller.VerifierOrganization == "" {
		caller.VerifierOrganization = s.cfg.Organization
	}
	if caller.DisbursementMethod != "" && !caller.DisbursementMethod.Valid() {
		return nil, apperrors.InvalidInput("disbursementMethod", "must be one of bank_transfer, check, cash")
	}
	dispatched, err := variant.Apply(ctx, VariantInput{
		TransactionID: transactionID,
		Claims:        pres.ClaimMap(),
		Caller:        caller,
		Raw:           pres.Raw,
	})
	if err != nil {
		s.metrics.IncrementPresentation(string(pres.CredentialType), "error")
		return nil, err
	}
	s.metrics.IncrementPresentation(string(pres.CredentialType), dispatched.outcome())

	result.Result = dispatched
	return result, nil
}

// DispatchResult is the effect a verified presentation had. Which fields are
// set depends on Type.
type DispatchResult struct {
	Type             model.CredentialType    `json:"type"`
	Profile          *model.Profile          `json:"profile,omitempty"`
	Record           *model.CredentialRecord `json:"record,omitempty"`
	CaseID           string                  `json:"caseId,omitempty"`
	AlreadyDisbursed bool                    `json:"alreadyDisbursed,omitempty"`
	IDMatch          *bool                   `json:"idMatch,omitempty"`
	Message          string                  `json:"message,omitempty"`
}

func (d *DispatchResult) outcome() string {
	switch {
	case d.AlreadyDisbursed:
		return "already_disbursed"
	case d.IDMatch != nil && !*d.IDMatch:
		return "id_mismatch"
	case d.Record != nil && d.Record.Status == model.CredentialStatusDisbursed:
		return "disbursed"
	default:
		return "verified"
	}
}

type VariantInput struct {
	TransactionID string
	Claims        map[string]string
	Caller        CallerContext
	Raw           json.RawMessage
}

// Variant applies the effect of one verified credential type.
type Variant interface {
	Type() model.CredentialType
	Apply(ctx context.Context, in VariantInput) (*DispatchResult, error)
}
