package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reliefwallet/credential-engine/internal/model"
)

type HistoryLister interface {
	List(ctx context.Context, caseID string, limit, offset int) ([]*model.CredentialHistoryEntry, error)
}

type HistoryHandler struct {
	history HistoryLister
}

func NewHistoryHandler(history HistoryLister) *HistoryHandler {
	return &HistoryHandler{history: history}
}

// GET /v1/cases/{caseId}/history
func (h *HistoryHandler) List(w http.ResponseWriter, r *http.Request) {
	caseID, err := parseCaseID(chi.URLParam(r, "caseId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	page, err := parsePage(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	entries, err := h.history.List(r.Context(), caseID, page.Limit, page.Offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"caseId":  caseID,
		"entries": entries,
		"limit":   page.Limit,
		"offset":  page.Offset,
	})
}
