package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/jmoiron/sqlx"
	"github.com/mitchellh/mapstructure"
	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/audit"
	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/metrics"
	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/notify"
	"github.com/reliefwallet/credential-engine/internal/repository"
	"github.com/reliefwallet/credential-engine/internal/util"
)

type identityClaims struct {
	Email       string `mapstructure:"email"`
	Name        string `mapstructure:"name"`
	PhoneNumber string `mapstructure:"phone_number"`
	IDNumber    string `mapstructure:"id_number"`
}

type subsidyClaims struct {
	IDNumber string `mapstructure:"id_number"`
	Name     string `mapstructure:"name"`
}

type propertyClaims struct {
	OwnerName     string `mapstructure:"owner_name"`
	OwnerIDNumber string `mapstructure:"owner_id_number"`
	Address       string `mapstructure:"address"`
}

// decodeClaims maps authority claim names onto out. Names arrive as either
// snake_case or camelCase depending on the credential template.
func decodeClaims(claims map[string]string, out any) error {
	normalized := make(map[string]string, len(claims))
	for k, v := range claims {
		normalized[snakeCase(k)] = strings.TrimSpace(v)
	}
	return mapstructure.Decode(normalized, out)
}

func snakeCase(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) && i > 0 {
			prev := runes[i-1]
			nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower) {
				b.WriteByte('_')
			}
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return b.String()
}

// IdentityVariant links an identity-proof presentation to a profile.
type IdentityVariant struct {
	profiles repository.ProfileRepository
}

func NewIdentityVariant(profiles repository.ProfileRepository) *IdentityVariant {
	return &IdentityVariant{profiles: profiles}
}

func (v *IdentityVariant) Type() model.CredentialType { return model.CredentialTypeIdentityProof }

func (v *IdentityVariant) Apply(ctx context.Context, in VariantInput) (*DispatchResult, error) {
	var c identityClaims
	if err := decodeClaims(in.Claims, &c); err != nil {
		return nil, apperrors.ValidationError("Malformed identity claims").WithCause(err)
	}
	if c.Email == "" {
		return nil, apperrors.MissingRequired("email")
	}

	profile, err := v.profiles.UpsertByEmail(ctx, model.UpsertProfileParams{
		Email:    &c.Email,
		IDNumber: strPtr(c.IDNumber),
		FullName: c.Name,
		Phone:    strPtr(c.PhoneNumber),
		Source:   model.CredentialTypeIdentityProof,
	})
	if errors.Is(err, repository.ErrUniqueViolation) {
		return nil, apperrors.Conflict("Identity number already belongs to another profile")
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}

	return &DispatchResult{Type: v.Type(), Profile: profile}, nil
}

// SubsidyVariant pays out the applicant's most recent approved case. The
// verified and disbursed transitions, the history entry and the case update
// commit together or not at all.
type SubsidyVariant struct {
	db          TxRunner
	cases       repository.CaseRepository
	credentials repository.CredentialRepository
	history     repository.HistoryRepository
	notifier    Notifier
	metrics     *metrics.Metrics
	now         func() time.Time
}

func NewSubsidyVariant(
	db TxRunner,
	cases repository.CaseRepository,
	credentials repository.CredentialRepository,
	history repository.HistoryRepository,
	notifier Notifier,
	m *metrics.Metrics,
) *SubsidyVariant {
	return &SubsidyVariant{
		db:          db,
		cases:       cases,
		credentials: credentials,
		history:     history,
		notifier:    notifier,
		metrics:     m,
		now:         time.Now,
	}
}

func (v *SubsidyVariant) Type() model.CredentialType { return model.CredentialTypeSubsidyRelief }

var errDisbursementRace = errors.New("credential moved concurrently")

func (v *SubsidyVariant) Apply(ctx context.Context, in VariantInput) (*DispatchResult, error) {
	var c subsidyClaims
	if err := decodeClaims(in.Claims, &c); err != nil {
		return nil, apperrors.ValidationError("Malformed subsidy claims").WithCause(err)
	}
	if c.IDNumber == "" {
		return nil, apperrors.MissingRequired("id_number")
	}

	relief, err := v.cases.FindLatestByIDNumber(ctx, c.IDNumber,
		[]string{model.CaseStatusApproved, model.CaseStatusCompleted})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if relief == nil {
		return nil, apperrors.NotFound("Approved case")
	}

	rec, err := v.credentials.FindLiveByCaseID(ctx, relief.ID)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if rec == nil {
		return nil, apperrors.NotFound("Credential")
	}
	if rec.Status == model.CredentialStatusDisbursed {
		return v.alreadyDisbursed(relief, rec), nil
	}

	var verifierRef *json.RawMessage
	if len(in.Raw) > 0 {
		raw := in.Raw
		verifierRef = &raw
	}

	now := v.now()
	var disbursed *model.CredentialRecord
	err = v.db.WithTx(ctx, func(tx *sqlx.Tx) error {
		credentials := v.credentials.WithTx(tx)

		current := rec
		if current.Status != model.CredentialStatusVerified {
			next, err := credentials.Transition(ctx, model.TransitionParams{
				RecordID:          rec.ID,
				To:                model.CredentialStatusVerified,
				At:                now,
				VerifierReference: verifierRef,
			})
			if err != nil {
				return err
			}
			if next == nil {
				return errDisbursementRace
			}
			current = next
		}

		next, err := credentials.Transition(ctx, model.TransitionParams{
			RecordID: current.ID,
			To:       model.CredentialStatusDisbursed,
			At:       now,
		})
		if err != nil {
			return err
		}
		if next == nil {
			return errDisbursementRace
		}
		disbursed = next

		if err := appendHistory(ctx, v.history.WithTx(tx), model.CreateHistoryEntryParams{
			CaseID:         relief.ID,
			UserID:         relief.UserID,
			ActionType:     model.HistoryActionVerified,
			Status:         model.CredentialStatusDisbursed,
			CredentialType: model.CredentialTypeSubsidyRelief,
			Organization:   in.Caller.VerifierOrganization,
			Location:       in.Caller.Location,
			TransactionID:  in.TransactionID,
			Notes:          disbursementNotes(in.Caller.DisbursementMethod),
			ActionTime:     now,
		}); err != nil {
			return err
		}

		return v.cases.WithTx(tx).UpdateStatus(ctx, relief.ID, model.CaseStatusCompleted, now)
	})
	if errors.Is(err, errDisbursementRace) || errors.Is(err, repository.ErrUniqueViolation) {
		existing, findErr := v.credentials.FindDisbursedByCaseID(ctx, relief.ID)
		if findErr != nil {
			return nil, apperrors.Database(findErr)
		}
		if existing != nil {
			return v.alreadyDisbursed(relief, existing), nil
		}
		return nil, apperrors.Conflict("Credential changed state during verification, please retry")
	}
	if err != nil {
		return nil, apperrors.Database(err)
	}

	v.metrics.IncrementTransition(string(model.CredentialStatusVerified))
	v.metrics.IncrementTransition(string(model.CredentialStatusDisbursed))
	audit.Log(ctx, audit.Event{
		Type:   audit.EventDisbursement,
		Actor:  in.Caller.VerifierOrganization,
		CaseID: relief.ID,
		Details: map[string]interface{}{
			"transactionId": in.TransactionID,
			"idNumber":      util.MaskIDNumber(c.IDNumber),
		},
	})
	v.notifier.Notify(ctx, derefStr(relief.UserID), notify.KindDisbursed, map[string]any{
		"caseId":         relief.ID,
		"approvedAmount": relief.ApprovedAmount,
		"organization":   in.Caller.VerifierOrganization,
	})

	log.Info().
		Str("caseId", relief.ID).
		Str("transactionId", in.TransactionID).
		Msg("subsidy disbursed")

	return &DispatchResult{Type: v.Type(), Record: disbursed, CaseID: relief.ID}, nil
}

func (v *SubsidyVariant) alreadyDisbursed(relief *model.Case, rec *model.CredentialRecord) *DispatchResult {
	return &DispatchResult{
		Type:             v.Type(),
		Record:           rec,
		CaseID:           relief.ID,
		AlreadyDisbursed: true,
		Message:          "Subsidy for this case was already disbursed",
	}
}

func disbursementNotes(method model.DisbursementMethod) *string {
	if method == "" {
		return nil
	}
	return strPtr("disbursement_method=" + string(method))
}

// PropertyVariant checks that the property owner is the applicant at the
// kiosk before recording the owner.
type PropertyVariant struct {
	profiles repository.ProfileRepository
}

func NewPropertyVariant(profiles repository.ProfileRepository) *PropertyVariant {
	return &PropertyVariant{profiles: profiles}
}

func (v *PropertyVariant) Type() model.CredentialType { return model.CredentialTypePropertyOwnership }

func (v *PropertyVariant) Apply(ctx context.Context, in VariantInput) (*DispatchResult, error) {
	applicant := strings.TrimSpace(in.Caller.ApplicantIDNumber)
	if applicant == "" {
		return nil, apperrors.MissingRequired("applicantIdNumber")
	}

	var c propertyClaims
	if err := decodeClaims(in.Claims, &c); err != nil {
		return nil, apperrors.ValidationError("Malformed property claims").WithCause(err)
	}
	if c.OwnerIDNumber == "" {
		return nil, apperrors.MissingRequired("owner_id_number")
	}

	if !strings.EqualFold(c.OwnerIDNumber, applicant) {
		audit.Log(ctx, audit.Event{
			Type:  audit.EventPropertyMismatch,
			Actor: in.Caller.VerifierOrganization,
			Details: map[string]interface{}{
				"transactionId": in.TransactionID,
				"ownerIdNumber": util.MaskIDNumber(c.OwnerIDNumber),
				"applicantId":   util.MaskIDNumber(applicant),
			},
		})
		match := false
		return &DispatchResult{
			Type:    v.Type(),
			IDMatch: &match,
			Message: "Property owner does not match the applicant",
		}, nil
	}

	idNumber := strings.ToUpper(c.OwnerIDNumber)
	profile, err := v.profiles.UpsertByIDNumber(ctx, model.UpsertProfileParams{
		IDNumber: &idNumber,
		FullName: c.OwnerName,
		Address:  strPtr(c.Address),
		Source:   model.CredentialTypePropertyOwnership,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	match := true
	return &DispatchResult{Type: v.Type(), Profile: profile, IDMatch: &match}, nil
}
