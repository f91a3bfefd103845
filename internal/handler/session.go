package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/reliefwallet/credential-engine/internal/service"
)

type LoginSessions interface {
	CreateSession(ctx context.Context) (*service.CreateSessionResult, error)
	GetStatus(ctx context.Context, id string) (*service.SessionStatusResult, error)
	Callback(ctx context.Context, id string, cb service.LoginCallback) (*service.SessionStatusResult, error)
}

type SessionHandler struct {
	sessions LoginSessions
	events   *EventsHandler
}

func NewSessionHandler(sessions LoginSessions, events *EventsHandler) *SessionHandler {
	return &SessionHandler{
		sessions: sessions,
		events:   events,
	}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)
	r.Get("/{sessionId}", h.GetSessionStatus)
	r.Post("/{sessionId}/callback", h.Callback)
	if h.events != nil {
		r.Get("/{sessionId}/events", h.events.ServeHTTP)
	}

	return r
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.CreateSession(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, result)
}

// GET /v1/sessions/{sessionId}
func (h *SessionHandler) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.sessions.GetStatus(r.Context(), chi.URLParam(r, "sessionId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// POST /v1/sessions/{sessionId}/callback
func (h *SessionHandler) Callback(w http.ResponseWriter, r *http.Request) {
	var cb service.LoginCallback
	if err := decodeJSON(r, &cb); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.sessions.Callback(r.Context(), chi.URLParam(r, "sessionId"), cb)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}
