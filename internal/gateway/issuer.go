package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
)

// Field is one named subject value written into the credential.
type Field struct {
	Name    string `json:"ename"`
	Content string `json:"content"`
}

type ValidityWindow struct {
	From  time.Time
	Until time.Time
}

type IssueRequest struct {
	// CredentialUID is the authority's credential template id (vcUid).
	CredentialUID string
	Fields        []Field
	Validity      ValidityWindow
}

type IssueResult struct {
	TransactionID     string          `json:"transactionId"`
	CredentialPayload string          `json:"qrCode"`
	DeepLink          string          `json:"deepLink"`
	Mock              bool            `json:"mock"`
	Raw               json.RawMessage `json:"-"`
}

type ClaimStatus string

const (
	ClaimStatusClaimed       ClaimStatus = "claimed"
	ClaimStatusNotYetClaimed ClaimStatus = "not_yet_claimed"
	// ClaimStatusUnknown accompanies an AUTHORITY_UNAVAILABLE error; the
	// caller should ask again later.
	ClaimStatusUnknown ClaimStatus = "unknown"
)

type ClaimResult struct {
	Status ClaimStatus
	// Credential is the JWT the holder stored, when claimed.
	Credential string
	// CredentialID is the jti of Credential, when present.
	CredentialID string
	Mock         bool
}

type issueRequestBody struct {
	VCUID        string  `json:"vcUid"`
	IssuanceDate string  `json:"issuanceDate"`
	ExpiredDate  string  `json:"expiredDate"`
	Fields       []Field `json:"fields"`
}

// IssueCredential asks the issuer to mint a credential offer. Network
// failures, timeouts and 5xx fall back to a mock offer; 4xx are returned as
// AUTHORITY_REJECTED.
func (g *Gateway) IssueCredential(ctx context.Context, req IssueRequest) (*IssueResult, error) {
	start := time.Now()

	if !g.cfg.issuerConfigured() {
		res := g.mockIssue(req)
		g.observe(OpIssue, "mock", true, start)
		return res, nil
	}

	body := issueRequestBody{
		VCUID:        req.CredentialUID,
		IssuanceDate: req.Validity.From.Format(DateLayout),
		ExpiredDate:  req.Validity.Until.Format(DateLayout),
		Fields:       req.Fields,
	}

	var raw json.RawMessage
	err := g.call(ctx, http.MethodPost, g.cfg.IssuerBaseURL+"/api/qrcode/data", g.cfg.IssuerAPIKey, body, &raw)
	if err == nil {
		var res IssueResult
		if err = json.Unmarshal(raw, &res); err == nil && res.TransactionID == "" {
			err = errors.New("issuer response has no transactionId")
		}
		if err == nil {
			res.Raw = raw
			g.observe(OpIssue, "ok", false, start)
			return &res, nil
		}
	}

	if Classify(err) == ErrorKindRejected {
		g.observe(OpIssue, "rejected", false, start)
		return nil, g.TranslateError("credential issuance", err)
	}

	log.Warn().Err(err).Str("operation", OpIssue).Msg("credential authority unavailable, serving mock offer")
	res := g.mockIssue(req)
	g.observe(OpIssue, "mock", true, start)
	return res, nil
}

type claimResponse struct {
	Credential string `json:"credential"`
}

// CheckClaimStatus reports whether the holder has stored the credential
// behind transactionID. Unlike issuance, an unreachable authority is not
// mocked: the result is ClaimStatusUnknown with AUTHORITY_UNAVAILABLE.
func (g *Gateway) CheckClaimStatus(ctx context.Context, transactionID string) (*ClaimResult, error) {
	start := time.Now()

	if !g.cfg.issuerConfigured() {
		res := g.mockClaim(transactionID)
		g.observe(OpClaimStatus, "mock", true, start)
		return res, nil
	}

	var resp claimResponse
	endpoint := g.cfg.IssuerBaseURL + "/api/credential/nonce/" + url.PathEscape(transactionID)
	err := g.call(ctx, http.MethodGet, endpoint, g.cfg.IssuerAPIKey, nil, &resp)

	var statusErr *StatusError
	switch {
	case err == nil && resp.Credential != "":
		g.observe(OpClaimStatus, "ok", false, start)
		return &ClaimResult{
			Status:       ClaimStatusClaimed,
			Credential:   resp.Credential,
			CredentialID: credentialID(resp.Credential),
		}, nil

	case err == nil:
		g.observe(OpClaimStatus, "ok", false, start)
		return &ClaimResult{Status: ClaimStatusNotYetClaimed}, nil

	// The issuer answers 400 until the offer has been scanned.
	case errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusBadRequest:
		g.observe(OpClaimStatus, "ok", false, start)
		return &ClaimResult{Status: ClaimStatusNotYetClaimed}, nil

	case Classify(err) == ErrorKindRejected:
		g.observe(OpClaimStatus, "rejected", false, start)
		return nil, g.TranslateError("claim status check", err)

	default:
		g.observe(OpClaimStatus, "unavailable", false, start)
		return &ClaimResult{Status: ClaimStatusUnknown}, apperrors.AuthorityUnavailable("claim status check", err)
	}
}

// credentialID extracts the jti of a stored credential without verifying
// it; the authority owns the signature.
func credentialID(token string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		log.Debug().Err(err).Msg("claimed credential is not a parseable jwt")
		return ""
	}
	if jti, ok := claims["jti"].(string); ok {
		return jti
	}
	return ""
}
