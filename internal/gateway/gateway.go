// Package gateway is the typed client for the government credential
// authority's issuer and verifier APIs. Calls that can be answered with a
// structurally valid fabricated response fall back to a local mock when the
// authority is unconfigured or unreachable.
package gateway

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog/log"

	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/metrics"
	"github.com/reliefwallet/credential-engine/internal/model"
)

const (
	// DateLayout is the 8-digit calendar format the issuer expects.
	DateLayout = "20060102"

	// MaxTransactionIDLen caps presentation transaction ids.
	MaxTransactionIDLen = 50

	maxResponseBytes = 1 << 20
)

const (
	OpIssue        = "issue"
	OpClaimStatus  = "claim_status"
	OpPresentation = "presentation_request"
	OpResolve      = "resolve"
)

type Config struct {
	IssuerBaseURL   string
	IssuerAPIKey    string
	VerifierBaseURL string
	VerifierAPIKey  string
	Timeout         time.Duration
	RetryMax        int

	// Authority credential-type ids per variant. Canonical variant names are
	// always accepted in addition to these.
	IdentityTypes []string
	SubsidyTypes  []string
	PropertyTypes []string
}

func (c Config) issuerConfigured() bool {
	return c.IssuerBaseURL != "" && c.IssuerAPIKey != ""
}

func (c Config) verifierConfigured() bool {
	return c.VerifierBaseURL != "" && c.VerifierAPIKey != ""
}

type Gateway struct {
	cfg      Config
	client   *retryablehttp.Client
	types    map[string]model.CredentialType
	metrics  *metrics.Metrics
	lastMock atomic.Bool
	mockKey  []byte
	now      func() time.Time
}

func New(cfg Config, m *metrics.Metrics) *Gateway {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.IssuerBaseURL = strings.TrimRight(cfg.IssuerBaseURL, "/")
	cfg.VerifierBaseURL = strings.TrimRight(cfg.VerifierBaseURL, "/")

	client := retryablehttp.NewClient()
	client.RetryMax = cfg.RetryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.Logger = leveledLogger{}
	// The last response is classified here rather than turned into a
	// "giving up" error, so 5xx and 4xx stay distinguishable.
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler

	mockKey := make([]byte, 32)
	if _, err := rand.Read(mockKey); err != nil {
		copy(mockKey, "credential-engine-mock-key")
	}

	return &Gateway{
		cfg:     cfg,
		client:  client,
		types:   buildTypeTable(cfg),
		metrics: m,
		mockKey: mockKey,
		now:     time.Now,
	}
}

// LastServedByMock reports whether the most recent call was answered by the
// local mock. It is for diagnostics only.
func (g *Gateway) LastServedByMock() bool {
	return g.lastMock.Load()
}

func (g *Gateway) IssuerMock() bool {
	return !g.cfg.issuerConfigured()
}

func (g *Gateway) VerifierMock() bool {
	return !g.cfg.verifierConfigured()
}

// ClassifyType maps an authority credential-type id onto a known variant.
// Unknown ids yield CredentialTypeUnknown.
func (g *Gateway) ClassifyType(authorityType string) model.CredentialType {
	return g.types[strings.TrimSpace(authorityType)]
}

func buildTypeTable(cfg Config) map[string]model.CredentialType {
	table := make(map[string]model.CredentialType)
	for _, t := range model.KnownCredentialTypes {
		table[string(t)] = t
	}
	add := func(ids []string, t model.CredentialType) {
		for _, id := range ids {
			if id = strings.TrimSpace(id); id != "" {
				table[id] = t
			}
		}
	}
	add(cfg.IdentityTypes, model.CredentialTypeIdentityProof)
	add(cfg.SubsidyTypes, model.CredentialTypeSubsidyRelief)
	add(cfg.PropertyTypes, model.CredentialTypePropertyOwnership)
	return table
}

// StatusError is a non-2xx answer from the authority.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("authority responded %d: %s", e.StatusCode, e.Body)
}

type ErrorKind int

const (
	ErrorKindNone ErrorKind = iota
	// ErrorKindUnavailable covers network failures, timeouts, 5xx and
	// undecodable responses.
	ErrorKindUnavailable
	// ErrorKindRejected is a 4xx: the authority looked at the request and
	// said no.
	ErrorKindRejected
)

func Classify(err error) ErrorKind {
	if err == nil {
		return ErrorKindNone
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		if statusErr.StatusCode >= 400 && statusErr.StatusCode < 500 && statusErr.StatusCode != http.StatusTooManyRequests {
			return ErrorKindRejected
		}
		return ErrorKindUnavailable
	}
	if appErr, ok := apperrors.AsAppError(err); ok && appErr.Code == apperrors.ErrCodeAuthorityRejected {
		return ErrorKindRejected
	}
	return ErrorKindUnavailable
}

// TranslateError turns a raw call failure into the stable error taxonomy.
func (g *Gateway) TranslateError(operation string, err error) *apperrors.AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := apperrors.AsAppError(err); ok {
		return appErr
	}

	switch Classify(err) {
	case ErrorKindRejected:
		appErr := apperrors.AuthorityRejected(operation, err)
		var statusErr *StatusError
		if errors.As(err, &statusErr) {
			details := map[string]any{"status": statusErr.StatusCode}
			if statusErr.StatusCode == http.StatusUnauthorized || statusErr.StatusCode == http.StatusForbidden {
				details["hint"] = "check the configured authority access token"
			}
			appErr = appErr.WithDetails(details)
		}
		return appErr
	default:
		return apperrors.AuthorityUnavailable(operation, err)
	}
}

// call performs one authority request under the configured deadline. Retries
// happen inside that deadline.
func (g *Gateway) call(ctx context.Context, method, url, token string, body any, out any) error {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
	}

	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Access-Token", token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		req.Header.Set(middleware.RequestIDHeader, reqID)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Debug().Err(err).Msg("closing authority response body")
		}
	}()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode, Body: truncate(string(data), 512)}
	}

	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

// observe records the outcome of one gateway operation.
func (g *Gateway) observe(operation, outcome string, mock bool, start time.Time) {
	g.lastMock.Store(mock)
	g.metrics.ObserveAuthorityCall(operation, outcome, start)

	log.Info().
		Str("operation", operation).
		Str("outcome", outcome).
		Bool("mock", mock).
		Dur("elapsed", time.Since(start)).
		Msg("credential authority call")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

type leveledLogger struct{}

func (leveledLogger) Error(msg string, kv ...interface{}) {
	log.Error().Fields(kv).Msg(msg)
}

func (leveledLogger) Info(msg string, kv ...interface{}) {
	log.Debug().Fields(kv).Msg(msg)
}

func (leveledLogger) Debug(msg string, kv ...interface{}) {
	log.Trace().Fields(kv).Msg(msg)
}

func (leveledLogger) Warn(msg string, kv ...interface{}) {
	log.Warn().Fields(kv).Msg(msg)
}
