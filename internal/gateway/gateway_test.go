package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/model"
)

func newTestGateway(issuerURL, verifierURL string) *Gateway {
	return New(Config{
		IssuerBaseURL:   issuerURL,
		IssuerAPIKey:    "issuer-key",
		VerifierBaseURL: verifierURL,
		VerifierAPIKey:  "verifier-key",
		Timeout:         time.Second,
		RetryMax:        0,
		SubsidyTypes:    []string{"00000000_subsidy_666"},
		PropertyTypes:   []string{"00000000_property_001"},
	}, nil)
}

func sampleIssueRequest() IssueRequest {
	return IssueRequest{
		CredentialUID: "00000000_subsidy_666",
		Fields: []Field{
			{Name: "name", Content: "Wang Xiaoming"},
			{Name: "id_number", Content: "A123456789"},
		},
		Validity: ValidityWindow{
			From:  time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC),
			Until: time.Date(2027, 10, 16, 0, 0, 0, 0, time.UTC),
		},
	}
}

func TestIssueCredential(t *testing.T) {
	ctx := context.Background()

	t.Run("sends issuer wire format", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPost, r.Method)
			assert.Equal(t, "/api/qrcode/data", r.URL.Path)
			assert.Equal(t, "issuer-key", r.Header.Get("Access-Token"))

			var body issueRequestBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "00000000_subsidy_666", body.VCUID)
			assert.Equal(t, "20261016", body.IssuanceDate)
			assert.Equal(t, "20271016", body.ExpiredDate)
			assert.Len(t, body.Fields, 2)

			json.NewEncoder(w).Encode(map[string]string{
				"transactionId": "tx-real-1",
				"qrCode":        "data:image/png;base64,AAAA",
				"deepLink":      "modadigitalwallet://credential_offer?x=1",
			})
		}))
		defer srv.Close()

		gw := newTestGateway(srv.URL, "")
		res, err := gw.IssueCredential(ctx, sampleIssueRequest())
		require.NoError(t, err)

		assert.Equal(t, "tx-real-1", res.TransactionID)
		assert.Equal(t, "data:image/png;base64,AAAA", res.CredentialPayload)
		assert.False(t, res.Mock)
		assert.False(t, gw.LastServedByMock())
		assert.NotEmpty(t, res.Raw)
	})

	t.Run("unconfigured issuer is mocked", func(t *testing.T) {
		gw := New(Config{}, nil)
		res, err := gw.IssueCredential(ctx, sampleIssueRequest())
		require.NoError(t, err)

		assert.True(t, res.Mock)
		assert.True(t, strings.HasPrefix(res.TransactionID, "mock_00000000_subsidy_666_"))
		assert.True(t, strings.HasPrefix(res.DeepLink, "twfido://verify?"))
		assert.NotEmpty(t, res.CredentialPayload)
		assert.True(t, gw.LastServedByMock())
	})

	t.Run("timeout degrades to a mock with the same shape", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		}))
		defer srv.Close()

		gw := newTestGateway(srv.URL, "")
		gw.cfg.Timeout = 50 * time.Millisecond

		res, err := gw.IssueCredential(ctx, sampleIssueRequest())
		require.NoError(t, err)
		assert.True(t, res.Mock)
		assert.NotEmpty(t, res.TransactionID)
		assert.NotEmpty(t, res.CredentialPayload)
		assert.NotEmpty(t, res.DeepLink)
		assert.True(t, gw.LastServedByMock())
	})

	t.Run("5xx is retried then mocked", func(t *testing.T) {
		var hits atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			hits.Add(1)
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		gw := newTestGateway(srv.URL, "")
		gw.client.RetryMax = 1
		gw.client.RetryWaitMin = time.Millisecond
		gw.client.RetryWaitMax = time.Millisecond

		res, err := gw.IssueCredential(ctx, sampleIssueRequest())
		require.NoError(t, err)
		assert.True(t, res.Mock)
		assert.Equal(t, int32(2), hits.Load())
	})

	t.Run("4xx is rejected, not mocked", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"invalid token"}`))
		}))
		defer srv.Close()

		gw := newTestGateway(srv.URL, "")
		_, err := gw.IssueCredential(ctx, sampleIssueRequest())
		require.Error(t, err)

		appErr, ok := apperrors.AsAppError(err)
		require.True(t, ok)
		assert.Equal(t, apperrors.ErrCodeAuthorityRejected, appErr.Code)
		details, ok := appErr.Details.(map[string]any)
		require.True(t, ok)
		assert.Equal(t, http.StatusUnauthorized, details["status"])
		assert.Contains(t, details["hint"], "access token")
	})
}

func TestCheckClaimStatus(t *testing.T) {
	ctx := context.Background()

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{ID: "jti-123"}).SignedString([]byte("k"))
	require.NoError(t, err)

	tests := []struct {
		name       string
		status     int
		body       string
		wantStatus ClaimStatus
		wantID     string
		wantCode   apperrors.ErrorCode
	}{
		{"claimed", http.StatusOK, `{"credential":"` + signed + `"}`, ClaimStatusClaimed, "jti-123", ""},
		{"empty credential", http.StatusOK, `{"credential":""}`, ClaimStatusNotYetClaimed, "", ""},
		{"empty body", http.StatusOK, ``, ClaimStatusNotYetClaimed, "", ""},
		{"offer not scanned", http.StatusBadRequest, `{"message":"QR Code not built"}`, ClaimStatusNotYetClaimed, "", ""},
		{"authority down", http.StatusServiceUnavailable, ``, ClaimStatusUnknown, "", apperrors.ErrCodeAuthorityUnavailable},
		{"unknown transaction", http.StatusNotFound, ``, "", "", apperrors.ErrCodeAuthorityRejected},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/credential/nonce/tx-1", r.URL.Path)
				w.WriteHeader(tc.status)
				w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			gw := newTestGateway(srv.URL, "")
			res, err := gw.CheckClaimStatus(ctx, "tx-1")

			if tc.wantCode != "" {
				require.Error(t, err)
				assert.Equal(t, tc.wantCode, apperrors.GetCode(err))
				if tc.wantStatus != "" {
					require.NotNil(t, res)
					assert.Equal(t, tc.wantStatus, res.Status)
				}
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.wantStatus, res.Status)
			assert.Equal(t, tc.wantID, res.CredentialID)
		})
	}

	t.Run("unconfigured issuer mocks a claimed credential", func(t *testing.T) {
		gw := New(Config{}, nil)
		res, err := gw.CheckClaimStatus(ctx, "tx-9")
		require.NoError(t, err)
		assert.Equal(t, ClaimStatusClaimed, res.Status)
		assert.Equal(t, "mock-tx-9", res.CredentialID)
		assert.True(t, res.Mock)
	})
}

func TestCreatePresentationRequest(t *testing.T) {
	ctx := context.Background()

	t.Run("passes ref and truncated transaction id", func(t *testing.T) {
		longID := strings.Repeat("x", 80)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/oidvp/qrcode", r.URL.Path)
			assert.Equal(t, "00000000_subsidy_667", r.URL.Query().Get("ref"))
			assert.Len(t, r.URL.Query().Get("transactionId"), MaxTransactionIDLen)
			assert.Equal(t, "verifier-key", r.Header.Get("Access-Token"))

			json.NewEncoder(w).Encode(map[string]string{
				"transactionId": r.URL.Query().Get("transactionId"),
				"qrcodeImage":   "data:image/png;base64,BBBB",
				"authUri":       "modadigitalwallet://authorize?x=1",
			})
		}))
		defer srv.Close()

		gw := newTestGateway("", srv.URL)
		res, err := gw.CreatePresentationRequest(ctx, PresentationRequest{ServiceRef: "00000000_subsidy_667", TransactionID: longID})
		require.NoError(t, err)
		assert.Equal(t, longID[:MaxTransactionIDLen], res.TransactionID)
		assert.Equal(t, "modadigitalwallet://authorize?x=1", res.AuthURI)
		assert.False(t, res.Mock)
	})

	t.Run("network failure degrades to mock", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		srv.Close()

		gw := newTestGateway("", srv.URL)
		res, err := gw.CreatePresentationRequest(ctx, PresentationRequest{ServiceRef: "ref-1"})
		require.NoError(t, err)
		assert.True(t, res.Mock)
		assert.NotEmpty(t, res.TransactionID)
		assert.LessOrEqual(t, len(res.TransactionID), MaxTransactionIDLen)
		assert.Contains(t, res.AuthURI, "twfido://verify?")
		assert.NotEmpty(t, res.QRImage)
	})
}

func TestResolvePresentation(t *testing.T) {
	ctx := context.Background()

	t.Run("parses verifier result and classifies type", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/api/oidvp/result", r.URL.Path)
			var body resolveRequestBody
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "tx-kiosk", body.TransactionID)

			w.Write([]byte(`{
				"verifyResult": true,
				"resultDescription": "success",
				"transactionId": "tx-kiosk",
				"data": [{
					"credentialType": "00000000_property_001",
					"claims": [
						{"ename": "owner_name", "cname": "所有權人", "value": "Lin Meihua"},
						{"ename": "owner_id_number", "cname": "身分證字號", "value": "A123456789"},
						{"ename": "area", "cname": "面積", "value": 42.5}
					]
				}]
			}`))
		}))
		defer srv.Close()

		gw := newTestGateway("", srv.URL)
		res, err := gw.ResolvePresentation(ctx, "tx-kiosk")
		require.NoError(t, err)

		assert.True(t, res.Verified)
		assert.Equal(t, model.CredentialTypePropertyOwnership, res.CredentialType)
		assert.Equal(t, "00000000_property_001", res.AuthorityType)
		claims := res.ClaimMap()
		assert.Equal(t, "A123456789", claims["owner_id_number"])
		assert.Equal(t, "42.5", claims["area"])
	})

	t.Run("unknown authority type stays unknown", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"verifyResult": true, "data": [{"credentialType": "driver_license", "claims": []}]}`))
		}))
		defer srv.Close()

		gw := newTestGateway("", srv.URL)
		res, err := gw.ResolvePresentation(ctx, "tx-1")
		require.NoError(t, err)
		assert.Equal(t, model.CredentialTypeUnknown, res.CredentialType)
		assert.Equal(t, "driver_license", res.AuthorityType)
	})

	t.Run("unreachable verifier is not mocked", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		gw := newTestGateway("", srv.URL)
		_, err := gw.ResolvePresentation(ctx, "tx-1")
		require.Error(t, err)
		assert.Equal(t, apperrors.ErrCodeAuthorityUnavailable, apperrors.GetCode(err))
		assert.False(t, gw.LastServedByMock())
	})

	t.Run("unconfigured verifier mock is deterministic", func(t *testing.T) {
		gw := New(Config{}, nil)
		first, err := gw.ResolvePresentation(ctx, "tx-1")
		require.NoError(t, err)
		second, err := gw.ResolvePresentation(ctx, "tx-1")
		require.NoError(t, err)

		assert.True(t, first.Mock)
		assert.True(t, first.Verified)
		assert.Equal(t, model.CredentialTypeSubsidyRelief, first.CredentialType)
		assert.Equal(t, first.Claims, second.Claims)
		assert.Equal(t, "A123456789", first.ClaimMap()["id_number"])
	})
}

func TestClassifyType(t *testing.T) {
	gw := New(Config{IdentityTypes: []string{" 00000000_id_001 "}}, nil)

	assert.Equal(t, model.CredentialTypeIdentityProof, gw.ClassifyType("00000000_id_001"))
	assert.Equal(t, model.CredentialTypeSubsidyRelief, gw.ClassifyType("subsidy-relief"))
	assert.Equal(t, model.CredentialTypePropertyOwnership, gw.ClassifyType("property-ownership"))
	assert.Equal(t, model.CredentialTypeUnknown, gw.ClassifyType("passport"))
}

func TestNormalizeTransactionID(t *testing.T) {
	assert.Len(t, NormalizeTransactionID(""), 36)
	assert.Equal(t, "tx-1", NormalizeTransactionID(" tx-1 "))
	assert.Len(t, NormalizeTransactionID(strings.Repeat("a", 60)), MaxTransactionIDLen)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorKindNone, Classify(nil))
	assert.Equal(t, ErrorKindRejected, Classify(&StatusError{StatusCode: http.StatusBadRequest}))
	assert.Equal(t, ErrorKindUnavailable, Classify(&StatusError{StatusCode: http.StatusTooManyRequests}))
	assert.Equal(t, ErrorKindUnavailable, Classify(&StatusError{StatusCode: http.StatusInternalServerError}))
	assert.Equal(t, ErrorKindUnavailable, Classify(context.DeadlineExceeded))
}
