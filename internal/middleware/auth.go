package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/reliefwallet/credential-engine/internal/audit"
	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
	"github.com/reliefwallet/credential-engine/internal/util"
)

type contextKey string

const AdminContextKey contextKey = "admin"

// GetAdmin returns the authenticated operator name, or "".
func GetAdmin(ctx context.Context) string {
	if name, ok := ctx.Value(AdminContextKey).(string); ok {
		return name
	}
	return ""
}

// AdminAuthMiddleware guards the admin API with HTTP basic auth against a
// bcrypt hash. Without a configured hash every request is refused.
type AdminAuthMiddleware struct {
	passwordHash string
	limiter      *LoginRateLimiter
}

func NewAdminAuthMiddleware(passwordHash string, limiter *LoginRateLimiter) *AdminAuthMiddleware {
	if limiter == nil {
		limiter = NewLoginRateLimiter()
	}
	return &AdminAuthMiddleware{passwordHash: passwordHash, limiter: limiter}
}

func (m *AdminAuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientAddr(r)

		if m.limiter.Blocked(ip) {
			w.Header().Set("Retry-After", "60")
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		user, password, ok := r.BasicAuth()
		if !ok || m.passwordHash == "" || !util.CheckPasswordHash(password, m.passwordHash) {
			m.limiter.RecordFailure(ip)
			if ok {
				log.Warn().Str("ip", ip).Msg("admin auth: invalid credentials")
				audit.LogFromRequest(r, audit.Event{
					Type:  audit.EventAuthFailure,
					Actor: user,
				})
			}
			w.Header().Set("WWW-Authenticate", `Basic realm="credential-admin", charset="UTF-8"`)
			writeError(w, apperrors.Unauthorized("Admin authentication required"))
			return
		}

		m.limiter.Reset(ip)
		if user == "" {
			user = "admin"
		}
		ctx := context.WithValue(r.Context(), AdminContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
