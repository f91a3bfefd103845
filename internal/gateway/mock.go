package gateway

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	qrcode "github.com/skip2/go-qrcode"

	"github.com/reliefwallet/credential-engine/internal/model"
)

const (
	mockTransactionPrefix = "mock_"
	mockDeepLinkScheme    = "twfido://verify"
	qrImageSize           = 256
)

// Fixed claims returned by the mock verifier.
var mockResolveClaims = []Claim{
	{Name: "name", Label: "姓名", Value: "王小明"},
	{Name: "id_number", Label: "身分證字號", Value: "A123456789"},
	{Name: "phone_number", Label: "手機號碼", Value: "0912345678"},
	{Name: "address", Label: "地址", Value: "台南市中西區民生路100號"},
	{Name: "approved_amount", Label: "核定金額", Value: "50000"},
}

func (g *Gateway) mockIssue(req IssueRequest) *IssueResult {
	uid := req.CredentialUID
	if len(uid) > 20 {
		uid = uid[:20]
	}
	txID := fmt.Sprintf("%s%s_%s_%s", mockTransactionPrefix, uid, g.now().Format("20060102150405"), uuid.NewString()[:8])

	content, _ := json.Marshal(map[string]any{
		"vcUid":         req.CredentialUID,
		"transactionId": txID,
		"fields":        req.Fields,
		"mock":          true,
	})

	raw, _ := json.Marshal(map[string]any{"transactionId": txID, "mock": true})
	return &IssueResult{
		TransactionID:     txID,
		CredentialPayload: qrPNG(string(content)),
		DeepLink:          mockDeepLinkScheme + "?" + url.Values{"vcUid": {req.CredentialUID}, "txn": {txID}}.Encode(),
		Mock:              true,
		Raw:               raw,
	}
}

// mockClaim always reports claimed, with a credential minted locally so the
// claim path can extract a jti the same way it does for real credentials.
func (g *Gateway) mockClaim(transactionID string) *ClaimResult {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ID:       "mock-" + transactionID,
		Subject:  transactionID,
		IssuedAt: jwt.NewNumericDate(g.now()),
	})
	signed, err := token.SignedString(g.mockKey)
	if err != nil {
		log.Error().Err(err).Msg("signing mock credential")
	}
	return &ClaimResult{
		Status:       ClaimStatusClaimed,
		Credential:   signed,
		CredentialID: credentialID(signed),
		Mock:         true,
	}
}

func (g *Gateway) mockPresentation(serviceRef, transactionID string) *PresentationSession {
	authURI := mockDeepLinkScheme + "?" + url.Values{"ref": {serviceRef}, "txn": {transactionID}}.Encode()
	return &PresentationSession{
		TransactionID: transactionID,
		QRImage:       qrPNG(authURI),
		AuthURI:       authURI,
		Mock:          true,
	}
}

// mockResolve is deterministic: always a verified subsidy-relief credential
// for the same applicant.
func (g *Gateway) mockResolve(transactionID string) *PresentationResult {
	claims := make([]Claim, len(mockResolveClaims))
	copy(claims, mockResolveClaims)

	raw, _ := json.Marshal(map[string]any{"transactionId": transactionID, "mock": true})
	return &PresentationResult{
		TransactionID:  transactionID,
		Verified:       true,
		Description:    "mock verification",
		AuthorityType:  string(model.CredentialTypeSubsidyRelief),
		CredentialType: model.CredentialTypeSubsidyRelief,
		Claims:         claims,
		Mock:           true,
		Raw:            raw,
	}
}

// qrPNG renders content as a base64 PNG. An empty string is returned if the
// content is too large for a QR code.
func qrPNG(content string) string {
	png, err := qrcode.Encode(content, qrcode.Low, qrImageSize)
	if err != nil {
		log.Warn().Err(err).Msg("rendering mock qr code")
		return ""
	}
	return base64.StdEncoding.EncodeToString(png)
}
