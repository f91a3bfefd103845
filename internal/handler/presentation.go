package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reliefwallet/credential-engine/internal/service"
)

type PresentationService interface {
	CreatePresentationSession(ctx context.Context, serviceRef string) (*service.PresentationSessionResult, error)
	Resolve(ctx context.Context, transactionID string, caller service.CallerContext) (*service.ResolveResult, error)
}

// PresentationHandler serves the kiosk side of verification.
type PresentationHandler struct {
	presentations PresentationService
}

func NewPresentationHandler(presentations PresentationService) *PresentationHandler {
	return &PresentationHandler{presentations: presentations}
}

func (h *PresentationHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.Create)
	r.Post("/{transactionId}/resolve", h.Resolve)

	return r
}

type createPresentationRequest struct {
	ServiceRef string `json:"serviceRef"`
}

// POST /v1/presentations
func (h *PresentationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createPresentationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.presentations.CreatePresentationSession(r.Context(), req.ServiceRef)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// POST /v1/presentations/{transactionId}/resolve
func (h *PresentationHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	var caller service.CallerContext
	if err := decodeJSON(r, &caller); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.presentations.Resolve(r.Context(), chi.URLParam(r, "transactionId"), caller)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
