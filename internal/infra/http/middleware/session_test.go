package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourwise/gatekeeper/internal/infra/http/middleware"
	"github.com/tourwise/gatekeeper/internal/infra/memory"
	"github.com/tourwise/gatekeeper/internal/session"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

type sessionFixture struct {
	handler http.Handler
	manager *session.Manager

	gotUserID    string
	gotSessionID string
}

func newSessionFixture(t *testing.T) *sessionFixture {
	t.Helper()

	log := logger.NewNop()
	mgr, err := session.NewManager(memory.NewSessionStore(), session.DefaultManagerConfig(), nil, log)
	require.NoError(t, err)

	f := &sessionFixture{manager: mgr}
	f.handler = middleware.DeviceIdentity()(
		middleware.RequireSession(mgr, log)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			f.gotUserID = middleware.GetUserID(r.Context())
			f.gotSessionID = middleware.GetSessionID(r.Context())
			w.WriteHeader(http.StatusOK)
		})),
	)
	return f
}

func (f *sessionFixture) get(sessionID, ip, fingerprint string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil)
	req.Header.Set("X-Device-IP", ip)
	if fingerprint != "" {
		req.Header.Set("X-Device-Fingerprint", fingerprint)
	}
	if sessionID != "" {
		req.Header.Set(middleware.SessionHeader, sessionID)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func TestRequireSessionAcceptsValidSession(t *testing.T) {
	f := newSessionFixture(t)

	id, err := f.manager.Create(context.Background(), "user-1", "203.0.113.20", "fp-1")
	require.NoError(t, err)

	rec := f.get(id, "203.0.113.20", "fp-1")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "user-1", f.gotUserID)
	assert.Equal(t, id, f.gotSessionID)
}

func TestRequireSessionMissingHeader(t *testing.T) {
	f := newSessionFixture(t)

	rec := f.get("", "203.0.113.20", "fp-1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSessionRejectsUnknownSession(t *testing.T) {
	f := newSessionFixture(t)

	rec := f.get("bogus-session-id", "203.0.113.20", "fp-1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), "SESSION_INVALID")
}

func TestRequireSessionDeviceMismatchUniform401(t *testing.T) {
	f := newSessionFixture(t)
	ctx := context.Background()

	ipSession, err := f.manager.Create(ctx, "user-2", "203.0.113.20", "fp-1")
	require.NoError(t, err)
	fpSession, err := f.manager.Create(ctx, "user-2", "203.0.113.20", "fp-1")
	require.NoError(t, err)

	fromNewIP := f.get(ipSession, "198.51.100.9", "fp-1")
	fromNewDevice := f.get(fpSession, "203.0.113.20", "fp-2")

	// Both mismatches read identically to the caller.
	assert.Equal(t, http.StatusUnauthorized, fromNewIP.Code)
	assert.Equal(t, http.StatusUnauthorized, fromNewDevice.Code)
	assert.Equal(t, fromNewIP.Body.String(), fromNewDevice.Body.String())

	// And the sessions are gone for good.
	rec := f.get(ipSession, "203.0.113.20", "fp-1")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
