package audit

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type Category string

const (
	CategorySecurity   Category = "security"
	CategoryCompliance Category = "compliance"
)

type EventType string

const (
	EventCredentialIssued  EventType = "credential_issued"
	EventDisbursement      EventType = "disbursement"
	EventCredentialReject  EventType = "credential_reject"
	EventPropertyMismatch  EventType = "property_id_mismatch"
	EventLoginVerified     EventType = "login_verified"
	EventChallengeMismatch EventType = "challenge_mismatch"
	EventAuthFailure       EventType = "auth_failure"
	EventRateLimitExceed   EventType = "rate_limit_exceeded"
)

var categories = map[EventType]Category{
	EventCredentialIssued: CategoryCompliance,
	EventDisbursement:     CategoryCompliance,
	EventCredentialReject: CategoryCompliance,
	EventPropertyMismatch: CategoryCompliance,
}

type Event struct {
	Type      EventType
	Actor     string
	CaseID    string
	IP        string
	UserAgent string
	Details   map[string]interface{}
}

func (e Event) Category() Category {
	if c, ok := categories[e.Type]; ok {
		return c
	}
	return CategorySecurity
}

func Log(ctx context.Context, event Event) {
	logger := log.With().
		Str("audit", string(event.Category())).
		Str("event_type", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if reqID := middleware.GetReqID(ctx); reqID != "" {
		logger = logger.With().Str("request_id", reqID).Logger()
	}
	if event.Actor != "" {
		logger = logger.With().Str("actor", event.Actor).Logger()
	}
	if event.CaseID != "" {
		logger = logger.With().Str("case_id", event.CaseID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("user_agent", event.UserAgent).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

func LogFromRequest(r *http.Request, event Event) {
	event.IP = clientIP(r)
	event.UserAgent = r.UserAgent()
	Log(r.Context(), event)
}

// clientIP relies on chi's RealIP middleware having rewritten RemoteAddr.
func clientIP(r *http.Request) string {
	return r.RemoteAddr
}
