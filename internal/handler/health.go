package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/config"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type MockReporter interface {
	IssuerMock() bool
	VerifierMock() bool
}

type HealthHandler struct {
	db        Pinger
	authority MockReporter
	now       func() time.Time
}

func NewHealthHandler(db Pinger, authority MockReporter) *HealthHandler {
	return &HealthHandler{
		db:        db,
		authority: authority,
		now:       time.Now,
	}
}

// GET /health
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK
	database := "up"

	if h.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()
		if err := h.db.Ping(ctx); err != nil {
			log.Warn().Err(err).Msg("health check: database unreachable")
			status = "degraded"
			code = http.StatusServiceUnavailable
			database = "down"
		}
	}

	writeJSON(w, code, map[string]any{
		"status":    status,
		"database":  database,
		"timestamp": h.now().UnixMilli(),
		"mock": map[string]bool{
			"issuer":   h.authority.IssuerMock(),
			"verifier": h.authority.VerifierMock(),
		},
	})
}

// MetricsHandler exposes the collectors registered on reg.
func MetricsHandler(reg prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}
