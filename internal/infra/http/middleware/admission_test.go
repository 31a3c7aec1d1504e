package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourwise/gatekeeper/internal/admission"
	"github.com/tourwise/gatekeeper/internal/infra/http/middleware"
	"github.com/tourwise/gatekeeper/internal/infra/memory"
	"github.com/tourwise/gatekeeper/pkg/jwt"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

type admissionFixture struct {
	handler       http.Handler
	throttleStore *memory.ThrottleStore
	advance       func(time.Duration)
}

func newAdmissionFixture(t *testing.T) *admissionFixture {
	t.Helper()

	windowStore := memory.NewWindowStore()
	throttleStore := memory.NewThrottleStore()
	now := time.Now()
	clock := func() time.Time { return now }
	windowStore.Clock = clock
	throttleStore.Clock = clock

	log := logger.NewNop()
	limiter, err := admission.NewRateLimiter(windowStore, admission.RateLimiterConfig{}, log)
	require.NoError(t, err)
	throttler, err := admission.NewAdaptiveThrottler(throttleStore, throttleStore, admission.ThrottlerConfig{}, log)
	require.NoError(t, err)
	pipeline := admission.NewPipeline(limiter, throttler, nil, nil, log)

	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	chain := middleware.DeviceIdentity()(
		middleware.Admission(pipeline, middleware.DefaultAdmissionConfig(), log)(inner),
	)

	return &admissionFixture{
		handler:       chain,
		throttleStore: throttleStore,
		advance:       func(d time.Duration) { now = now.Add(d) },
	}
}

func (f *admissionFixture) get(path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	req.Header.Set("X-Device-IP", ip)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestAdmissionSetsRateLimitHeaders(t *testing.T) {
	f := newAdmissionFixture(t)

	rec := f.get("/api/v1/search", "203.0.113.10")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "10", rec.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "9", rec.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, rec.Header().Get("X-RateLimit-Reset"))
}

func TestAdmissionQuotaExhaustionReturns429(t *testing.T) {
	f := newAdmissionFixture(t)

	for i := 0; i < 10; i++ {
		rec := f.get("/api/v1/search", "203.0.113.11")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		f.advance(150 * time.Millisecond)
	}

	rec := f.get("/api/v1/search", "203.0.113.11")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	retryAfter := rec.Header().Get("Retry-After")
	require.NotEmpty(t, retryAfter)
	assert.Contains(t, rec.Body.String(), "RATE_LIMIT_EXCEEDED")
}

func TestAdmissionBlockedIPReturns403(t *testing.T) {
	f := newAdmissionFixture(t)

	require.NoError(t, f.throttleStore.Block(context.Background(), "203.0.113.12", time.Hour))

	rec := f.get("/api/v1/search", "203.0.113.12")
	require.Equal(t, http.StatusForbidden, rec.Code)
	// Generic denial, no hint that the IP is on the block list.
	assert.Contains(t, rec.Body.String(), "Access denied")
	assert.NotContains(t, rec.Body.String(), "block")
}

func TestAdmissionEndpointClassOverridesTier(t *testing.T) {
	f := newAdmissionFixture(t)

	// Booking endpoints carry their own 5-request quota even though the
	// anonymous tier would allow 10.
	for i := 0; i < 5; i++ {
		rec := f.get("/api/v1/bookings", "203.0.113.13")
		require.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := f.get("/api/v1/bookings", "203.0.113.13")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestAdmissionSkipPaths(t *testing.T) {
	f := newAdmissionFixture(t)

	// Well past any quota; health stays reachable.
	for i := 0; i < 50; i++ {
		rec := f.get("/health", "203.0.113.14")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Empty(t, rec.Header().Get("X-RateLimit-Limit"))
	}
}

func TestAdmissionAuthenticatedUsersKeyedByUserID(t *testing.T) {
	windowStore := memory.NewWindowStore()
	throttleStore := memory.NewThrottleStore()
	now := time.Now()
	clock := func() time.Time { return now }
	windowStore.Clock = clock
	throttleStore.Clock = clock

	log := logger.NewNop()
	limiter, err := admission.NewRateLimiter(windowStore, admission.RateLimiterConfig{}, log)
	require.NoError(t, err)
	throttler, err := admission.NewAdaptiveThrottler(throttleStore, throttleStore, admission.ThrottlerConfig{}, log)
	require.NoError(t, err)
	pipeline := admission.NewPipeline(limiter, throttler, nil, nil, log)

	tokens, err := jwt.NewManager(jwt.Config{Secret: "test-secret-at-least-32-chars-long!!"})
	require.NoError(t, err)
	token, _, err := tokens.Generate("user-42", "u@example.com", "")
	require.NoError(t, err)

	chain := middleware.DeviceIdentity()(
		middleware.Auth(tokens, log)(
			middleware.Admission(pipeline, middleware.DefaultAdmissionConfig(), log)(
				http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
					w.WriteHeader(http.StatusOK)
				}),
			),
		),
	)

	get := func(bearer string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/search", nil)
		req.Header.Set("X-Device-IP", "203.0.113.15")
		if bearer != "" {
			req.Header.Set("Authorization", "Bearer "+bearer)
		}
		rec := httptest.NewRecorder()
		chain.ServeHTTP(rec, req)
		return rec
	}

	// Exhaust the anonymous quota for this IP.
	for i := 0; i < 10; i++ {
		require.Equal(t, http.StatusOK, get("").Code)
		now = now.Add(150 * time.Millisecond)
	}
	require.Equal(t, http.StatusTooManyRequests, get("").Code)

	// The same device with a valid token counts against the user's window,
	// under the authenticated quota.
	rec := get(token)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "100", rec.Header().Get("X-RateLimit-Limit"))
}
