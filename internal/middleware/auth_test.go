package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestAdminAuthMiddleware(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("relief-admin"), bcrypt.MinCost)
	require.NoError(t, err)

	var gotAdmin string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAdmin = GetAdmin(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	request := func(h http.Handler, addr, user, password string, withAuth bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/admin/api/statistics", nil)
		req.RemoteAddr = addr
		if withAuth {
			req.SetBasicAuth(user, password)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	t.Run("accepts valid credentials", func(t *testing.T) {
		h := NewAdminAuthMiddleware(string(hash), nil).Handler(next)
		rec := request(h, "10.1.0.1:1", "operator", "relief-admin", true)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "operator", gotAdmin)
	})

	t.Run("challenges missing credentials", func(t *testing.T) {
		h := NewAdminAuthMiddleware(string(hash), nil).Handler(next)
		rec := request(h, "10.1.0.2:1", "", "", false)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
		assert.Contains(t, rec.Body.String(), "UNAUTHORIZED")
	})

	t.Run("rejects wrong password", func(t *testing.T) {
		h := NewAdminAuthMiddleware(string(hash), nil).Handler(next)
		rec := request(h, "10.1.0.3:1", "admin", "guess", true)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("refuses everything without a configured hash", func(t *testing.T) {
		h := NewAdminAuthMiddleware("", nil).Handler(next)
		rec := request(h, "10.1.0.4:1", "admin", "", true)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("locks out after repeated failures", func(t *testing.T) {
		h := NewAdminAuthMiddleware(string(hash), NewLoginRateLimiter()).Handler(next)
		for i := 0; i < loginMaxAttempts; i++ {
			request(h, "10.1.0.5:1", "admin", "guess", true)
		}

		rec := request(h, "10.1.0.5:1", "admin", "relief-admin", true)
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "60", rec.Header().Get("Retry-After"))

		rec = request(h, "10.1.0.6:1", "admin", "relief-admin", true)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
