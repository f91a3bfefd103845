package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/model"
	"github.com/reliefwallet/credential-engine/internal/notify"
	redisclient "github.com/reliefwallet/credential-engine/internal/redis"
	"github.com/reliefwallet/credential-engine/internal/service"
)

type EventBroker interface {
	Subscribe(channel string) *notify.Subscriber
	Unsubscribe(sub *notify.Subscriber)
}

type SessionStatusReader interface {
	GetStatus(ctx context.Context, id string) (*service.SessionStatusResult, error)
}

// EventsHandler streams a session's resolution over SSE. The stream ends once
// the session leaves pending or its deadline passes.
type EventsHandler struct {
	broker    EventBroker
	sessions  SessionStatusReader
	heartbeat time.Duration
}

func NewEventsHandler(broker EventBroker, sessions SessionStatusReader) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		sessions:  sessions,
		heartbeat: notify.HeartbeatInterval,
	}
}

// GET /v1/sessions/{sessionId}/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionId")
	ctx := r.Context()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	// Subscribe before reading the status so a resolution landing in between
	// is not missed.
	client := h.broker.Subscribe(redisclient.SessionChannel(sessionID))
	defer h.broker.Unsubscribe(client)

	status, err := h.sessions.GetStatus(ctx, sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := h.sendEvent(w, flusher, "connected", status); err != nil {
		return
	}
	if status.Status != model.SessionStatusPending {
		return
	}

	log.Debug().Str("sessionId", sessionID).Msg("sse connection established")

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	deadline := time.NewTimer(time.Duration(status.ExpiresIn)*time.Second + time.Second)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("sessionId", sessionID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Debug().Str("sessionId", sessionID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
			}
			if event.Type == notify.KindSessionResolved {
				return
			}

		case <-deadline.C:
			h.sendEvent(w, flusher, "expired", map[string]any{
				"sessionId": sessionID,
				"status":    model.SessionStatusExpired,
			})
			return

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().
					Str("sessionId", sessionID).
					Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, notify.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event notify.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
