package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/model"
)

type PresentationRequest struct {
	// ServiceRef is the verifier service code configured at the authority.
	ServiceRef string
	// TransactionID is generated when empty and truncated to
	// MaxTransactionIDLen.
	TransactionID string
}

type PresentationSession struct {
	TransactionID string `json:"transactionId"`
	QRImage       string `json:"qrcodeImage"`
	AuthURI       string `json:"authUri"`
	Mock          bool   `json:"mock"`
}

type Claim struct {
	Name  string `json:"name"`
	Label string `json:"label,omitempty"`
	Value string `json:"value"`
}

type PresentationResult struct {
	TransactionID string
	Verified      bool
	Description   string
	// AuthorityType is the credential type id as the authority reported it.
	AuthorityType string
	// CredentialType is AuthorityType mapped onto the known variants.
	CredentialType model.CredentialType
	Claims         []Claim
	Mock           bool
	Raw            json.RawMessage
}

// ClaimMap flattens claims by name. Later duplicates win.
func (r *PresentationResult) ClaimMap() map[string]string {
	m := make(map[string]string, len(r.Claims))
	for _, c := range r.Claims {
		m[c.Name] = c.Value
	}
	return m
}

// CreatePresentationRequest produces the QR a kiosk shows to the holder.
// Failures other than 4xx fall back to a mock request.
func (g *Gateway) CreatePresentationRequest(ctx context.Context, req PresentationRequest) (*PresentationSession, error) {
	start := time.Now()
	txID := NormalizeTransactionID(req.TransactionID)

	if !g.cfg.verifierConfigured() {
		res := g.mockPresentation(req.ServiceRef, txID)
		g.observe(OpPresentation, "mock", true, start)
		return res, nil
	}

	q := url.Values{}
	q.Set("ref", req.ServiceRef)
	q.Set("transactionId", txID)

	var res PresentationSession
	err := g.call(ctx, http.MethodGet, g.cfg.VerifierBaseURL+"/api/oidvp/qrcode?"+q.Encode(), g.cfg.VerifierAPIKey, nil, &res)
	if err == nil {
		if res.TransactionID == "" {
			res.TransactionID = txID
		}
		g.observe(OpPresentation, "ok", false, start)
		return &res, nil
	}

	if Classify(err) == ErrorKindRejected {
		g.observe(OpPresentation, "rejected", false, start)
		return nil, g.TranslateError("presentation request", err)
	}

	log.Warn().Err(err).Str("operation", OpPresentation).Msg("credential authority unavailable, serving mock presentation request")
	mock := g.mockPresentation(req.ServiceRef, txID)
	g.observe(OpPresentation, "mock", true, start)
	return mock, nil
}

type resolveRequestBody struct {
	TransactionID string `json:"transactionId"`
}

type resolveResponse struct {
	VerifyResult      bool   `json:"verifyResult"`
	ResultDescription string `json:"resultDescription"`
	TransactionID     string `json:"transactionId"`
	Data              []struct {
		CredentialType string `json:"credentialType"`
		Claims         []struct {
			Ename string          `json:"ename"`
			Cname string          `json:"cname"`
			Value json.RawMessage `json:"value"`
		} `json:"claims"`
	} `json:"data"`
}

// ResolvePresentation fetches the verifier's decision for a presentation.
// A real decision cannot be fabricated, so an unreachable authority is an
// AUTHORITY_UNAVAILABLE error here. Only an unconfigured verifier is mocked.
func (g *Gateway) ResolvePresentation(ctx context.Context, transactionID string) (*PresentationResult, error) {
	start := time.Now()

	if !g.cfg.verifierConfigured() {
		res := g.mockResolve(transactionID)
		g.observe(OpResolve, "mock", true, start)
		return res, nil
	}

	var raw json.RawMessage
	err := g.call(ctx, http.MethodPost, g.cfg.VerifierBaseURL+"/api/oidvp/result", g.cfg.VerifierAPIKey,
		resolveRequestBody{TransactionID: transactionID}, &raw)

	var resp resolveResponse
	if err == nil {
		if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil {
			err = fmt.Errorf("decode resolve response: %w", jsonErr)
		}
	}
	if err != nil {
		outcome := "unavailable"
		if Classify(err) == ErrorKindRejected {
			outcome = "rejected"
		}
		g.observe(OpResolve, outcome, false, start)
		return nil, g.TranslateError("presentation resolution", err)
	}

	res := &PresentationResult{
		TransactionID: transactionID,
		Verified:      resp.VerifyResult,
		Description:   resp.ResultDescription,
		Raw:           raw,
	}
	if len(resp.Data) > 0 {
		d := resp.Data[0]
		res.AuthorityType = d.CredentialType
		res.CredentialType = g.ClassifyType(d.CredentialType)
		for _, c := range d.Claims {
			res.Claims = append(res.Claims, Claim{Name: c.Ename, Label: c.Cname, Value: claimValue(c.Value)})
		}
	}

	g.observe(OpResolve, "ok", false, start)
	return res, nil
}

// NormalizeTransactionID generates an id when empty and enforces the length
// cap the verifier imposes.
func NormalizeTransactionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > MaxTransactionIDLen {
		id = id[:MaxTransactionIDLen]
	}
	return id
}

// claimValue renders a claim value as text whether the authority sent a JSON
// string, number or bool.
func claimValue(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}
