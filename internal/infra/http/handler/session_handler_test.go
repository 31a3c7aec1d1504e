package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourwise/gatekeeper/internal/infra/http/handler"
	"github.com/tourwise/gatekeeper/internal/infra/http/middleware"
	"github.com/tourwise/gatekeeper/internal/infra/memory"
	"github.com/tourwise/gatekeeper/internal/session"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// injectUser stands in for the auth middleware.
func injectUser(userID string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID != "" {
				ctx := context.WithValue(r.Context(), logger.ContextKeyUserID, userID)
				r = r.WithContext(ctx)
			}
			next.ServeHTTP(w, r)
		})
	}
}

type handlerFixture struct {
	router  chi.Router
	manager *session.Manager
}

func newHandlerFixture(t *testing.T, userID string) *handlerFixture {
	t.Helper()

	log := logger.NewNop()
	mgr, err := session.NewManager(memory.NewSessionStore(), session.DefaultManagerConfig(), nil, log)
	require.NoError(t, err)

	h := handler.NewSessionHandler(mgr, log)

	router := chi.NewRouter()
	router.Use(middleware.DeviceIdentity())
	router.Use(injectUser(userID))
	router.Route("/api/v1/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Delete("/", h.RevokeAll)
		r.Delete("/{id}", h.Revoke)
	})

	return &handlerFixture{router: router, manager: mgr}
}

func (f *handlerFixture) do(method, path, body, ip, fingerprint string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("X-Device-IP", ip)
	if fingerprint != "" {
		req.Header.Set("X-Device-Fingerprint", fingerprint)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestSessionCreate(t *testing.T) {
	f := newHandlerFixture(t, "user-1")

	rec := f.do(http.MethodPost, "/api/v1/sessions", "", "203.0.113.30", "fp-1")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		SessionID string `json:"session_id"`
		ExpiresAt string `json:"expires_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp.SessionID)
	assert.NotEmpty(t, resp.ExpiresAt)

	// The issued session validates against the same device identity.
	result := f.manager.Validate(context.Background(), resp.SessionID, "203.0.113.30", "fp-1")
	assert.True(t, result.Valid)
	assert.Equal(t, "user-1", result.UserID)
}

func TestSessionCreateBodyFingerprintWins(t *testing.T) {
	f := newHandlerFixture(t, "user-1")

	rec := f.do(http.MethodPost, "/api/v1/sessions",
		`{"fingerprint":"fp-body"}`, "203.0.113.30", "fp-header")
	require.Equal(t, http.StatusCreated, rec.Code)

	var resp struct {
		SessionID string `json:"session_id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

	assert.True(t, f.manager.Validate(context.Background(), resp.SessionID, "203.0.113.30", "fp-body").Valid)
}

func TestSessionCreateRejectsUnknownFields(t *testing.T) {
	f := newHandlerFixture(t, "user-1")

	rec := f.do(http.MethodPost, "/api/v1/sessions",
		`{"fingerprint":"fp","surprise":true}`, "203.0.113.30", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSessionEndpointsRequireAuthentication(t *testing.T) {
	f := newHandlerFixture(t, "")

	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodPost, "/api/v1/sessions", "", "203.0.113.30", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/v1/sessions", "", "203.0.113.30", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodDelete, "/api/v1/sessions", "", "203.0.113.30", "").Code)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodDelete, "/api/v1/sessions/some-id", "", "203.0.113.30", "").Code)
}

func TestSessionList(t *testing.T) {
	f := newHandlerFixture(t, "user-1")
	ctx := context.Background()

	_, err := f.manager.Create(ctx, "user-1", "203.0.113.30", "fp-1")
	require.NoError(t, err)
	_, err = f.manager.Create(ctx, "user-1", "203.0.113.31", "fp-2")
	require.NoError(t, err)
	// Another user's session must not leak into the listing.
	_, err = f.manager.Create(ctx, "user-2", "203.0.113.32", "fp-3")
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/api/v1/sessions", "", "203.0.113.30", "fp-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []struct {
			DeviceIP string `json:"device_ip"`
			Current  bool   `json:"current"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Sessions, 2)
}

func TestSessionListFlagsIPRotation(t *testing.T) {
	f := newHandlerFixture(t, "user-1")
	ctx := context.Background()

	id, err := f.manager.Create(ctx, "user-1", "203.0.113.30", "fp-1")
	require.NoError(t, err)
	// Rotating the IP invalidates the session but leaves an audit entry.
	result := f.manager.Validate(ctx, id, "198.51.100.99", "fp-1")
	require.Equal(t, session.ReasonIPMismatch, result.Reason)

	rec := f.do(http.MethodGet, "/api/v1/sessions", "", "203.0.113.30", "fp-1")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Sessions []struct {
			DeviceIP           string `json:"device_ip"`
			IPRotationDetected bool   `json:"ip_rotation_detected"`
			IPChangeCount      int    `json:"ip_change_count"`
		} `json:"sessions"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Sessions, 1)
	assert.True(t, resp.Sessions[0].IPRotationDetected)
	assert.Equal(t, 1, resp.Sessions[0].IPChangeCount)
}

func TestSessionRevoke(t *testing.T) {
	f := newHandlerFixture(t, "user-1")
	ctx := context.Background()

	id, err := f.manager.Create(ctx, "user-1", "203.0.113.30", "fp-1")
	require.NoError(t, err)

	rec := f.do(http.MethodDelete, "/api/v1/sessions/"+id, "", "203.0.113.30", "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	result := f.manager.Validate(ctx, id, "203.0.113.30", "fp-1")
	assert.False(t, result.Valid)
}

func TestSessionRevokeOtherUsersSessionReads404(t *testing.T) {
	f := newHandlerFixture(t, "user-1")
	ctx := context.Background()

	otherID, err := f.manager.Create(ctx, "user-2", "203.0.113.40", "fp-9")
	require.NoError(t, err)

	rec := f.do(http.MethodDelete, "/api/v1/sessions/"+otherID, "", "203.0.113.30", "")
	// Indistinguishable from a nonexistent session.
	assert.Equal(t, http.StatusNotFound, rec.Code)

	missing := f.do(http.MethodDelete, "/api/v1/sessions/no-such-id", "", "203.0.113.30", "")
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, missing.Body.String(), rec.Body.String())

	// The other user's session survives the attempt.
	assert.True(t, f.manager.Validate(ctx, otherID, "203.0.113.40", "fp-9").Valid)
}

func TestSessionRevokeAll(t *testing.T) {
	f := newHandlerFixture(t, "user-1")
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := f.manager.Create(ctx, "user-1", "203.0.113.30", "fp-1")
		require.NoError(t, err)
	}

	rec := f.do(http.MethodDelete, "/api/v1/sessions", "", "203.0.113.30", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]int
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 3, resp["revoked"])

	sessions, err := f.manager.Sessions(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, sessions)
}
