package httpserver_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/resume-matcher/internal/adapter/httpserver"
	"github.com/fairyhunter13/resume-matcher/internal/ratelimit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimitMiddleware_Admits(t *testing.T) {
	t.Parallel()

	l := ratelimit.New(ratelimit.NewMemoryWindow(), ratelimit.Options{})
	h := httpserver.RateLimit(l)(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/v1/applications/job-1", nil)
	req.RemoteAddr = "198.51.100.10:4242"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Limit"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Remaining"))
	// The concurrency slot is returned once the handler finishes.
	assert.Equal(t, 0, l.GlobalInFlight())
}

func TestRateLimitMiddleware_RejectsWithRetryAfter(t *testing.T) {
	t.Parallel()

	profiles := ratelimit.DefaultProfiles()
	profiles[ratelimit.ClassJobView] = ratelimit.Profile{
		RequestsPerHour: 2, ConcurrentLimit: 10, BurstAllowance: 10, Priority: 1,
	}
	l := ratelimit.New(ratelimit.NewMemoryWindow(), ratelimit.Options{Profiles: profiles})
	h := httpserver.RateLimit(l)(okHandler())

	for i := 0; i < 2; i++ {
		req := httptest.NewRequest(http.MethodGet, "/v1/applications/job-1", nil)
		req.RemoteAddr = "198.51.100.11:4242"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/v1/applications/job-1", nil)
	req.RemoteAddr = "198.51.100.11:4242"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
	assert.Contains(t, rec.Body.String(), "RATE_LIMITED")
}

func TestRateLimitMiddleware_ForwardedClientIsolated(t *testing.T) {
	t.Parallel()

	profiles := ratelimit.DefaultProfiles()
	profiles[ratelimit.ClassJobView] = ratelimit.Profile{
		RequestsPerHour: 1, ConcurrentLimit: 10, BurstAllowance: 10, Priority: 1,
	}
	l := ratelimit.New(ratelimit.NewMemoryWindow(), ratelimit.Options{Profiles: profiles})
	h := httpserver.RateLimit(l)(okHandler())

	send := func(ip string) int {
		req := httptest.NewRequest(http.MethodGet, "/v1/applications/job-1", nil)
		req.RemoteAddr = "10.0.0.1:1000"
		req.Header.Set("X-Forwarded-For", ip)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, send("203.0.113.50"))
	assert.Equal(t, http.StatusTooManyRequests, send("203.0.113.50"))
	// A different forwarded client has its own budget.
	assert.Equal(t, http.StatusOK, send("203.0.113.51"))
}

func TestRequestID_EchoedAndGenerated(t *testing.T) {
	t.Parallel()

	var inner string
	h := httpserver.RequestID()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inner = r.Header.Get("X-Request-Id")
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-Id", "fixed-id")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "fixed-id", rec.Header().Get("X-Request-Id"))
	assert.Equal(t, "fixed-id", inner)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestSecurityHeaders(t *testing.T) {
	t.Parallel()

	h := httpserver.SecurityHeaders(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}

func TestRecoverer(t *testing.T) {
	t.Parallel()

	h := httpserver.Recoverer()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
