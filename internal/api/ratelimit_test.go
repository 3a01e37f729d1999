package api

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vipul43/photo-porter/internal/config"
)

func TestIPRateLimiter_Allow(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(3, time.Hour)
	l.now = func() time.Time { return now }

	for want := 2; want >= 0; want-- {
		remaining, _, ok := l.Allow("10.0.0.1")
		require.True(t, ok)
		assert.Equal(t, want, remaining)
	}

	_, retryAfter, ok := l.Allow("10.0.0.1")
	assert.False(t, ok)
	assert.InDelta(t, (20 * time.Minute).Seconds(), retryAfter.Seconds(), 1)

	// other clients have their own bucket
	_, _, ok = l.Allow("10.0.0.2")
	assert.True(t, ok)

	// one token is back after window/n
	now = now.Add(20 * time.Minute)
	_, _, ok = l.Allow("10.0.0.1")
	assert.True(t, ok)
}

func TestIPRateLimiter_PrunesIdleClients(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	l := NewIPRateLimiter(10, time.Hour)
	l.now = func() time.Time { return now }
	l.lastPrune = now

	l.Allow("10.0.0.1")
	now = now.Add(3 * time.Hour)
	l.Allow("10.0.0.2")

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Len(t, l.clients, 1)
	assert.Contains(t, l.clients, "10.0.0.2")
}

func TestRateLimitMiddleware(t *testing.T) {
	env := setupTestServer(t, func(cfg *config.Config, _ *Dependencies) {
		cfg.APIRateLimitPerHour = 2
	})

	get := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/auth/status?email=a@x.com", nil)
		req.RemoteAddr = "192.0.2.1:1234"
		w := httptest.NewRecorder()
		env.server.Router().ServeHTTP(w, req)
		return w
	}

	w := get()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", w.Header().Get("X-Rate-Limit-Remaining"))

	w = get()
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-Rate-Limit-Remaining"))

	w = get()
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	seconds, err := strconv.Atoi(w.Header().Get("X-Rate-Limit-Retry-After-Seconds"))
	require.NoError(t, err)
	assert.Greater(t, seconds, 0)

	// health checks are not rate limited
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	rec := httptest.NewRecorder()
	env.server.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
