package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/middleware"
	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/service"
)

type AdminOperations interface {
	Reject(ctx context.Context, caseID, reason, actor string) (*model.CredentialRecord, error)
	GetStats(ctx context.Context, filter model.HistoryFilter) (*service.Stats, error)
}

// AdminHandler serves the operator API. Authentication is applied by the
// router.
type AdminHandler struct {
	admin AdminOperations
}

func NewAdminHandler(admin AdminOperations) *AdminHandler {
	return &AdminHandler{admin: admin}
}

func (h *AdminHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/statistics", h.Statistics)
	r.Post("/credentials/{caseId}/reject", h.Reject)

	return r
}

// GET /admin/api/statistics
func (h *AdminHandler) Statistics(w http.ResponseWriter, r *http.Request) {
	filter, err := parseHistoryFilter(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stats, err := h.admin.GetStats(r.Context(), filter)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

// POST /admin/api/credentials/{caseId}/reject
func (h *AdminHandler) Reject(w http.ResponseWriter, r *http.Request) {
	caseID, err := parseCaseID(chi.URLParam(r, "caseId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req rejectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	record, err := h.admin.Reject(r.Context(), caseID, req.Reason, middleware.GetAdmin(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

func parseHistoryFilter(r *http.Request) (model.HistoryFilter, error) {
	q := r.URL.Query()
	filter := model.HistoryFilter{Organization: q.Get("organization")}

	if v := q.Get("caseId"); v != "" {
		caseID, err := parseCaseID(v)
		if err != nil {
			return filter, err
		}
		filter.CaseID = caseID
	}

	if v := q.Get("actionType"); v != "" {
		action := model.HistoryAction(v)
		if !action.Valid() {
			return filter, apperrors.InvalidInput("actionType", "unknown action")
		}
		filter.ActionType = action
	}

	for key, dst := range map[string]**time.Time{"from": &filter.From, "to": &filter.To} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, apperrors.InvalidInput(key, "expected RFC3339 timestamp")
		}
		*dst = &t
	}

	return filter, nil
}
