package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	redisclient "github.com/reliefwallet/credential-engine/internal/redis"
)

func TestRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("allows requests under limit", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			allowed, remaining, _ := limiter.Check(ctx, "10.0.0.1", 10)
			assert.True(t, allowed)
			assert.Equal(t, 10-i-1, remaining)
		}
	})

	t.Run("blocks requests over limit", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "10.0.0.2", 5)
		}

		allowed, remaining, _ := limiter.Check(ctx, "10.0.0.2", 5)
		assert.False(t, allowed)
		assert.Equal(t, 0, remaining)
	})

	t.Run("tracks keys separately", func(t *testing.T) {
		limiter := NewRateLimiter()

		for i := 0; i < 5; i++ {
			limiter.Check(ctx, "10.0.0.3", 5)
		}

		allowed, _, _ := limiter.Check(ctx, "10.0.0.4", 5)
		assert.True(t, allowed)
	})

	t.Run("window slides", func(t *testing.T) {
		limiter := NewRateLimiter()
		now := time.Now()
		limiter.now = func() time.Time { return now }

		for i := 0; i < 3; i++ {
			limiter.Check(ctx, "10.0.0.5", 3)
		}
		allowed, _, resetAt := limiter.Check(ctx, "10.0.0.5", 3)
		assert.False(t, allowed)
		assert.Equal(t, now.Add(time.Minute).Unix(), resetAt)

		now = now.Add(61 * time.Second)
		allowed, _, _ = limiter.Check(ctx, "10.0.0.5", 3)
		assert.True(t, allowed)
	})
}

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redisclient.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := &redisclient.Client{Client: redis.NewClient(&redis.Options{Addr: mr.Addr()})}
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisRateLimiter(t *testing.T) {
	ctx := context.Background()

	t.Run("shares the window through redis", func(t *testing.T) {
		mr, client := newTestRedis(t)
		a := NewRedisRateLimiter(client, "kiosk")
		b := NewRedisRateLimiter(client, "kiosk")

		allowed, remaining, _ := a.Check(ctx, "10.0.0.1", 2)
		assert.True(t, allowed)
		assert.Equal(t, 1, remaining)

		allowed, remaining, _ = b.Check(ctx, "10.0.0.1", 2)
		assert.True(t, allowed)
		assert.Equal(t, 0, remaining)

		allowed, _, resetAt := a.Check(ctx, "10.0.0.1", 2)
		assert.False(t, allowed)
		assert.Greater(t, resetAt, time.Now().Unix())

		assert.True(t, mr.Exists(redisclient.RateLimitKey("kiosk", "10.0.0.1")))
	})

	t.Run("falls back to local limiter when redis is down", func(t *testing.T) {
		mr, client := newTestRedis(t)
		limiter := NewRedisRateLimiter(client, "kiosk")
		mr.Close()

		allowed, _, _ := limiter.Check(ctx, "10.0.0.9", 1)
		assert.True(t, allowed)
		allowed, _, _ = limiter.Check(ctx, "10.0.0.9", 1)
		assert.False(t, allowed)
	})
}

func TestIPRateLimitMiddleware(t *testing.T) {
	handler := NewIPRateLimitMiddleware(NewRateLimiter(), 2).Handler(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	call := func(addr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/v1/presentations", nil)
		req.RemoteAddr = addr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("sets rate limit headers", func(t *testing.T) {
		rec := call("192.0.2.1:5000")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "1", rec.Header().Get("X-RateLimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
	})

	t.Run("returns 429 with reason code when exceeded", func(t *testing.T) {
		// Port changes do not get a fresh budget.
		call("192.0.2.1:5001")
		rec := call("192.0.2.1:5002")

		require.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	})

	t.Run("other clients are unaffected", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, call("192.0.2.2:5000").Code)
	})
}
