package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks credential authority calls and credential lifecycle events.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	AuthorityCalls       *prometheus.CounterVec
	AuthorityDuration    *prometheus.HistogramVec
	CredentialTransition *prometheus.CounterVec
	PresentationOutcome  *prometheus.CounterVec
	SessionsCreated      *prometheus.CounterVec
	SessionsSwept        prometheus.Counter
}

// New registers all collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		AuthorityCalls: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_authority_calls_total",
			Help: "Credential authority calls by operation and outcome (ok, mock, unavailable, rejected)",
		}, []string{"operation", "outcome"}),
		AuthorityDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "credential_authority_call_duration_seconds",
			Help:    "Duration of credential authority calls, including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"operation"}),
		CredentialTransition: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_transitions_total",
			Help: "Credential record status transitions by target status",
		}, []string{"status"}),
		PresentationOutcome: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_presentations_total",
			Help: "Resolved presentations by credential type and result",
		}, []string{"credential_type", "result"}),
		SessionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Name: "credential_sessions_created_total",
			Help: "Credential sessions created by kind",
		}, []string{"kind"}),
		SessionsSwept: f.NewCounter(prometheus.CounterOpts{
			Name: "credential_sessions_swept_total",
			Help: "Expired credential sessions removed by the periodic sweep",
		}),
	}
}

func (m *Metrics) ObserveAuthorityCall(operation, outcome string, start time.Time) {
	if m == nil {
		return
	}
	m.AuthorityCalls.WithLabelValues(operation, outcome).Inc()
	m.AuthorityDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncrementTransition(status string) {
	if m == nil {
		return
	}
	m.CredentialTransition.WithLabelValues(status).Inc()
}

func (m *Metrics) IncrementPresentation(credentialType, result string) {
	if m == nil {
		return
	}
	m.PresentationOutcome.WithLabelValues(credentialType, result).Inc()
}

func (m *Metrics) IncrementSessionCreated(kind string) {
	if m == nil {
		return
	}
	m.SessionsCreated.WithLabelValues(kind).Inc()
}

func (m *Metrics) AddSessionsSwept(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.SessionsSwept.Add(float64(n))
}
