package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/service"
)

type Issuer interface {
	Issue(ctx context.Context, caseID string) (*service.IssueResult, error)
	Current(ctx context.Context, caseID string) (*model.CredentialRecord, error)
}

type ClaimPoller interface {
	Poll(ctx context.Context, transactionID string) (*service.PollResult, error)
}

type CredentialHandler struct {
	issuer Issuer
	claims ClaimPoller
}

func NewCredentialHandler(issuer Issuer, claims ClaimPoller) *CredentialHandler {
	return &CredentialHandler{
		issuer: issuer,
		claims: claims,
	}
}

func (h *CredentialHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/issue", h.Issue)
	r.Get("/claims/{transactionId}", h.ClaimStatus)
	r.Get("/cases/{caseId}", h.Current)

	return r
}

type issueRequest struct {
	CaseID string `json:"caseId"`
}

// POST /v1/credentials/issue
func (h *CredentialHandler) Issue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	caseID, err := parseCaseID(req.CaseID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.issuer.Issue(r.Context(), caseID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GET /v1/credentials/claims/{transactionId}
func (h *CredentialHandler) ClaimStatus(w http.ResponseWriter, r *http.Request) {
	transactionID := chi.URLParam(r, "transactionId")

	result, err := h.claims.Poll(r.Context(), transactionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// GET /v1/credentials/cases/{caseId}
func (h *CredentialHandler) Current(w http.ResponseWriter, r *http.Request) {
	caseID, err := parseCaseID(chi.URLParam(r, "caseId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	record, err := h.issuer.Current(r.Context(), caseID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}
