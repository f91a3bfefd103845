package middleware

import (
	"net/http"
	"strconv"
	"time"

	"github.com/reliefwallet/credential-engine/internal/audit"
	apperrors "github.com/reliefwallet/credential-engine/internal/errors"
)

// IPRateLimitMiddleware limits requests per client address. It must run
// after chi's RealIP so RemoteAddr is the client, not the proxy.
type IPRateLimitMiddleware struct {
	limiter Limiter
	limit   int
	now     func() time.Time
}

func NewIPRateLimitMiddleware(limiter Limiter, limit int) *IPRateLimitMiddleware {
	return &IPRateLimitMiddleware{
		limiter: limiter,
		limit:   limit,
		now:     time.Now,
	}
}

func (m *IPRateLimitMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.limit <= 0 {
			next.ServeHTTP(w, r)
			return
		}

		ip := clientAddr(r)
		allowed, remaining, resetAt := m.limiter.Check(r.Context(), ip, m.limit)

		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(m.limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt, 10))

		if !allowed {
			secondsLeft := resetAt - m.now().Unix()
			if secondsLeft < 1 {
				secondsLeft = 1
			}
			w.Header().Set("Retry-After", strconv.FormatInt(secondsLeft, 10))
			audit.LogFromRequest(r, audit.Event{
				Type:    audit.EventRateLimitExceed,
				Details: map[string]interface{}{"path": r.URL.Path},
			})
			writeError(w, apperrors.RateLimitExceeded())
			return
		}

		next.ServeHTTP(w, r)
	})
}
