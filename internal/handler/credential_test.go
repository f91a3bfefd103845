package handler

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/httputil"
	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/service"
)

const testCaseID = "3f2b8f0e-8c1a-4c55-9d7e-0a1b2c3d4e5f"

func serve(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeErrorBody(t *testing.T, rec *httptest.ResponseRecorder) httputil.ErrorResponse {
	t.Helper()
	var body httputil.ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestCredentialHandler_Issue(t *testing.T) {
	t.Run("requires caseId", func(t *testing.T) {
		issuer := new(mockIssuer)
		h := NewCredentialHandler(issuer, new(mockClaimPoller)).Routes()

		rec := serve(h, http.MethodPost, "/issue", `{"caseId": "  "}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeMissingRequired, decodeErrorBody(t, rec).Code)
		issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
	})

	t.Run("rejects a non-uuid caseId", func(t *testing.T) {
		issuer := new(mockIssuer)
		h := NewCredentialHandler(issuer, new(mockClaimPoller)).Routes()

		rec := serve(h, http.MethodPost, "/issue", `{"caseId":"C1"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeInvalidInput, decodeErrorBody(t, rec).Code)
		issuer.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything)
	})

	t.Run("normalizes caseId case", func(t *testing.T) {
		issuer := new(mockIssuer)
		issuer.On("Issue", mock.Anything, testCaseID).Return(&service.IssueResult{CaseID: testCaseID}, nil)
		h := NewCredentialHandler(issuer, new(mockClaimPoller)).Routes()

		rec := serve(h, http.MethodPost, "/issue", `{"caseId":"3F2B8F0E-8C1A-4C55-9D7E-0A1B2C3D4E5F"}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		issuer.AssertExpectations(t)
	})

	t.Run("rejects malformed json", func(t *testing.T) {
		h := NewCredentialHandler(new(mockIssuer), new(mockClaimPoller)).Routes()

		rec := serve(h, http.MethodPost, "/issue", `{"caseId":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, apperrors.ErrCodeValidation, decodeErrorBody(t, rec).Code)
	})

	t.Run("returns the offer", func(t *testing.T) {
		issuer := new(mockIssuer)
		issuer.On("Issue", mock.Anything, testCaseID).Return(&service.IssueResult{
			CaseID:        testCaseID,
			TransactionID: "tx-1",
			QRPayload:     "data:image/png;base64,AAAA",
			Status:        model.CredentialStatusIssued,
		}, nil)
		h := NewCredentialHandler(issuer, new(mockClaimPoller)).Routes()

		rec := serve(h, http.MethodPost, "/issue", `{"caseId":"3f2b8f0e-8c1a-4c55-9d7e-0a1b2c3d4e5f"}`)

		require.Equal(t, http.StatusCreated, rec.Code)
		var body service.IssueResult
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "tx-1", body.TransactionID)
		assert.Equal(t, model.CredentialStatusIssued, body.Status)
	})

	t.Run("maps a live credential to 409", func(t *testing.T) {
		issuer := new(mockIssuer)
		issuer.On("Issue", mock.Anything, testCaseID).
			Return(nil, apperrors.Conflict("Credential already issued for this case"))
		h := NewCredentialHandler(issuer, new(mockClaimPoller)).Routes()

		rec := serve(h, http.MethodPost, "/issue", `{"caseId":"3f2b8f0e-8c1a-4c55-9d7e-0a1b2c3d4e5f"}`)

		assert.Equal(t, http.StatusConflict, rec.Code)
		assert.Equal(t, apperrors.ErrCodeConflict, decodeErrorBody(t, rec).Code)
	})

	t.Run("maps authority rejection to 502", func(t *testing.T) {
		issuer := new(mockIssuer)
		issuer.On("Issue", mock.Anything, testCaseID).
			Return(nil, apperrors.AuthorityRejected("issue", nil))
		h := NewCredentialHandler(issuer, new(mockClaimPoller)).Routes()

		rec := serve(h, http.MethodPost, "/issue", `{"caseId":"3f2b8f0e-8c1a-4c55-9d7e-0a1b2c3d4e5f"}`)

		assert.Equal(t, http.StatusBadGateway, rec.Code)
	})
}

func TestCredentialHandler_ClaimStatus(t *testing.T) {
	claims := new(mockClaimPoller)
	claims.On("Poll", mock.Anything, "tx-9").
		Return(&service.PollResult{TransactionID: "tx-9", Claimed: true, Status: model.CredentialStatusClaimed}, nil)
	h := NewCredentialHandler(new(mockIssuer), claims).Routes()

	rec := serve(h, http.MethodGet, "/claims/tx-9", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"claimed":true`)
	claims.AssertExpectations(t)
}

func TestCredentialHandler_Current(t *testing.T) {
	t.Run("returns the live record", func(t *testing.T) {
		issuer := new(mockIssuer)
		issuer.On("Current", mock.Anything, testCaseID).
			Return(&model.CredentialRecord{ID: "rec-1", CaseID: testCaseID, Status: model.CredentialStatusIssued}, nil)
		h := NewCredentialHandler(issuer, new(mockClaimPoller)).Routes()

		rec := serve(h, http.MethodGet, "/cases/3f2b8f0e-8c1a-4c55-9d7e-0a1b2c3d4e5f", "")

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), `"id":"rec-1"`)
	})

	t.Run("404 without one", func(t *testing.T) {
		issuer := new(mockIssuer)
		issuer.On("Current", mock.Anything, "7c9e6679-7425-40de-944b-e07fc1f90ae7").Return(nil, apperrors.NotFound("Credential"))
		h := NewCredentialHandler(issuer, new(mockClaimPoller)).Routes()

		rec := serve(h, http.MethodGet, "/cases/7c9e6679-7425-40de-944b-e07fc1f90ae7", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestHistoryHandler_List(t *testing.T) {
	t.Run("caps the page size", func(t *testing.T) {
		history := new(mockHistoryLister)
		history.On("List", mock.Anything, testCaseID, MaxPageSize, 20).
			Return([]*model.CredentialHistoryEntry{{ID: "h-1", CaseID: testCaseID, ActionType: model.HistoryActionIssued}}, nil)

		r := newTestRouter()
		r.Get("/v1/cases/{caseId}/history", NewHistoryHandler(history).List)

		rec := serve(r, http.MethodGet, "/v1/cases/"+testCaseID+"/history?limit=500&offset=20", "")

		require.Equal(t, http.StatusOK, rec.Code)
		var body struct {
			Entries []model.CredentialHistoryEntry `json:"entries"`
			Limit   int                            `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		require.Len(t, body.Entries, 1)
		assert.Equal(t, model.HistoryActionIssued, body.Entries[0].ActionType)
		assert.Equal(t, MaxPageSize, body.Limit)
		history.AssertExpectations(t)
	})

	t.Run("rejects a non-uuid case", func(t *testing.T) {
		history := new(mockHistoryLister)
		r := newTestRouter()
		r.Get("/v1/cases/{caseId}/history", NewHistoryHandler(history).List)

		rec := serve(r, http.MethodGet, "/v1/cases/C1/history", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		history.AssertNotCalled(t, "List", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		query   string
		limit   int
		offset  int
		wantErr bool
	}{
		{"", DefaultPageSize, 0, false},
		{"limit=10&offset=20", 10, 20, false},
		{"limit=0", DefaultPageSize, 0, false},
		{"limit=101", MaxPageSize, 0, false},
		{"limit=abc", 0, 0, true},
		{"offset=-1", 0, 0, true},
	}

	for _, tc := range tests {
		t.Run(tc.query, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/?"+tc.query, nil)
			p, err := parsePage(req)
			if tc.wantErr {
				assert.True(t, apperrors.HasCode(err, apperrors.ErrCodeInvalidInput))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.limit, p.Limit)
			assert.Equal(t, tc.offset, p.Offset)
		})
	}
}
