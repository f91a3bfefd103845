package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/audit"
	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/metrics"
	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/repository"
	"github.com/reliefwallet/credential-engine/internal/session"
	"github.com/reliefwallet/credential-engine/internal/util"
)

const loginDeepLinkBase = "twfido://login"

type CreateSessionResult struct {
	SessionID string `json:"sessionId"`
	QRData    string `json:"qrData"`
	DeepLink  string `json:"deepLink"`
	ExpiresIn int    `json:"expiresIn"`
	Status    string `json:"status"`
}

type SessionStatusResult struct {
	SessionID  string              `json:"sessionId"`
	Kind       model.SessionKind   `json:"kind"`
	Status     model.SessionStatus `json:"status"`
	ExpiresIn  int                 `json:"expiresIn"`
	ResolvedAt *time.Time          `json:"resolvedAt,omitempty"`
	HolderInfo map[string]string   `json:"holderInfo,omitempty"`
}

// LoginCallback is what the holder's wallet posts after scanning a login QR.
type LoginCallback struct {
	Challenge  string `json:"challenge"`
	NationalID string `json:"nationalId"`
	Name       string `json:"name"`
	BirthDate  string `json:"birthDate"`
	Level      string `json:"level"`
}

type loginQR struct {
	SessionID   string `json:"sessionId"`
	Challenge   string `json:"challenge"`
	CallbackURL string `json:"callbackUrl"`
}

// SessionService runs digital-ID login sessions and exposes status polling
// for every session kind.
type SessionService struct {
	sessions    session.Store
	profiles    repository.ProfileRepository
	notifier    Notifier
	metrics     *metrics.Metrics
	callbackURL string
	now         func() time.Time
}

func NewSessionService(
	sessions session.Store,
	profiles repository.ProfileRepository,
	notifier Notifier,
	m *metrics.Metrics,
	callbackURL string,
) *SessionService {
	return &SessionService{
		sessions:    sessions,
		profiles:    profiles,
		notifier:    notifier,
		metrics:     m,
		callbackURL: strings.TrimRight(callbackURL, "/"),
		now:         time.Now,
	}
}

func (s *SessionService) CreateSession(ctx context.Context) (*CreateSessionResult, error) {
	sess, err := s.sessions.Create(ctx, session.CreateParams{Kind: model.SessionKindLogin})
	if err != nil {
		return nil, sessionError(err)
	}
	s.metrics.IncrementSessionCreated(string(model.SessionKindLogin))

	qr, err := json.Marshal(loginQR{
		SessionID:   sess.ID,
		Challenge:   util.QRChallenge(sess.Challenge),
		CallbackURL: fmt.Sprintf("%s/%s/callback", s.callbackURL, sess.ID),
	})
	if err != nil {
		return nil, fmt.Errorf("encode login qr: %w", err)
	}

	log.Info().
		Str("sessionId", sess.ID).
		Time("expiresAt", sess.ExpiresAt).
		Msg("login session created")

	return &CreateSessionResult{
		SessionID: sess.ID,
		QRData:    string(qr),
		DeepLink:  loginDeepLinkBase + "?data=" + url.QueryEscape(string(qr)),
		ExpiresIn: sess.ExpiresIn(s.now()),
		Status:    string(sess.Status),
	}, nil
}

// GetStatus distinguishes an expired session still inside its retention
// window from one that never existed or was swept. Holder claims are only
// returned for login sessions.
func (s *SessionService) GetStatus(ctx context.Context, id string) (*SessionStatusResult, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, sessionError(err)
	}
	res := &SessionStatusResult{
		SessionID:  sess.ID,
		Kind:       sess.Kind,
		Status:     sess.Status,
		ExpiresIn:  sess.ExpiresIn(s.now()),
		ResolvedAt: sess.ResolvedAt,
	}
	// Presentation claims belong to the kiosk that resolved them; the
	// session id is the transaction id and is not a secret.
	if sess.Kind == model.SessionKindLogin {
		res.HolderInfo = sess.HolderInfo
	}
	return res, nil
}

// Callback completes a login once the wallet echoes the session challenge.
func (s *SessionService) Callback(ctx context.Context, id string, cb LoginCallback) (*SessionStatusResult, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		return nil, sessionError(err)
	}
	if sess.Kind != model.SessionKindLogin {
		return nil, apperrors.SessionNotFound()
	}
	if sess.Status == model.SessionStatusExpired {
		return nil, apperrors.SessionExpired()
	}

	if !util.MatchChallenge(sess.Challenge, cb.Challenge) {
		audit.Log(ctx, audit.Event{
			Type:    audit.EventChallengeMismatch,
			Details: map[string]interface{}{"sessionId": id},
		})
		return nil, apperrors.Unauthorized("Challenge does not match session")
	}
	if cb.NationalID == "" {
		return nil, apperrors.MissingRequired("nationalId")
	}

	resolved, err := s.sessions.Resolve(ctx, id, session.Outcome{
		Status: model.SessionStatusVerified,
		HolderInfo: map[string]string{
			"national_id": cb.NationalID,
			"name":        cb.Name,
			"birth_date":  cb.BirthDate,
			"level":       cb.Level,
		},
	})
	if err != nil {
		return nil, sessionError(err)
	}

	nationalID := strings.ToUpper(cb.NationalID)
	if _, err := s.profiles.UpsertByIDNumber(ctx, model.UpsertProfileParams{
		IDNumber: &nationalID,
		FullName: cb.Name,
		Source:   model.CredentialTypeIdentityProof,
	}); err != nil {
		log.Error().Err(err).Str("sessionId", id).Msg("linking login to profile")
	}

	audit.Log(ctx, audit.Event{
		Type: audit.EventLoginVerified,
		Details: map[string]interface{}{
			"sessionId":  id,
			"nationalId": util.MaskIDNumber(cb.NationalID),
			"level":      cb.Level,
		},
	})
	s.notifier.SessionResolved(ctx, id, map[string]any{
		"status":    resolved.Status,
		"sessionId": id,
	})

	return &SessionStatusResult{
		SessionID:  resolved.ID,
		Kind:       resolved.Kind,
		Status:     resolved.Status,
		ResolvedAt: resolved.ResolvedAt,
	}, nil
}
