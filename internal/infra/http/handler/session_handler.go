package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tourwise/gatekeeper/internal/infra/http/middleware"
	"github.com/tourwise/gatekeeper/internal/session"
	"github.com/tourwise/gatekeeper/pkg/apierror"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// SessionHandler exposes the device-session lifecycle over HTTP.
type SessionHandler struct {
	manager *session.Manager
	logger  *logger.Logger
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(manager *session.Manager, log *logger.Logger) *SessionHandler {
	return &SessionHandler{manager: manager, logger: log}
}

type createSessionRequest struct {
	// Fingerprint may also arrive via the X-Device-Fingerprint header;
	// the body value wins when both are present.
	Fingerprint string `json:"fingerprint" validate:"omitempty,max=512"`
}

type sessionResponse struct {
	SessionID string    `json:"session_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

type sessionRecordResponse struct {
	DeviceIP     string    `json:"device_ip"`
	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`
	Current      bool      `json:"current"`

	// Rotation audit: set on sessions invalidated by an IP change.
	IPRotationDetected bool `json:"ip_rotation_detected"`
	IPChangeCount      int  `json:"ip_change_count"`
}

// Create issues a device-bound session for the authenticated caller.
// POST /api/v1/sessions
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		apierror.Unauthorized("").WriteJSON(w)
		return
	}

	var req createSessionRequest
	if r.ContentLength > 0 {
		if apiErr := decodeJSON(r, &req); apiErr != nil {
			apiErr.WriteJSON(w)
			return
		}
	}

	fingerprint := req.Fingerprint
	if fingerprint == "" {
		fingerprint = middleware.GetDeviceFingerprint(ctx)
	}

	deviceIP := middleware.GetDeviceIP(ctx)
	id, err := h.manager.Create(ctx, userID, deviceIP, fingerprint)
	if err != nil {
		h.logger.Error("session create failed",
			"user_id", userID,
			"error", err,
			"request_id", middleware.GetRequestID(ctx),
		)
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	rec, found, err := h.manager.Get(ctx, id)
	if err != nil || !found {
		// Creation succeeded; respond without the expiry rather than fail.
		respondJSON(w, http.StatusCreated, sessionResponse{SessionID: id})
		return
	}

	respondJSON(w, http.StatusCreated, sessionResponse{
		SessionID: id,
		ExpiresAt: rec.ExpiresAt,
	})
}

// List returns the caller's live sessions.
// GET /api/v1/sessions
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		apierror.Unauthorized("").WriteJSON(w)
		return
	}

	records, err := h.manager.Sessions(ctx, userID)
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	current := middleware.GetSessionID(ctx)
	out := make([]sessionRecordResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, sessionRecordResponse{
			DeviceIP:           rec.DeviceIP,
			CreatedAt:          rec.CreatedAt,
			LastActivity:       rec.LastActivity,
			ExpiresAt:          rec.ExpiresAt,
			Current:            current != "" && rec.ID == current,
			IPRotationDetected: rec.IPRotationDetected,
			IPChangeCount:      rec.IPChangeCount,
		})
	}

	respondJSON(w, http.StatusOK, map[string]any{"sessions": out})
}

// Revoke revokes one of the caller's sessions.
// DELETE /api/v1/sessions/{id}
func (h *SessionHandler) Revoke(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		apierror.Unauthorized("").WriteJSON(w)
		return
	}

	id := chi.URLParam(r, "id")
	if id == "" {
		apierror.BadRequest("Session id is required").WriteJSON(w)
		return
	}

	// Ownership check: a caller may only revoke their own sessions, and
	// may not probe other users' session ids.
	rec, found, err := h.manager.Get(ctx, id)
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}
	if !found || rec.UserID != userID {
		apierror.NotFound("Session").WriteJSON(w)
		return
	}

	if _, err := h.manager.Revoke(ctx, id); err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	respondJSON(w, http.StatusNoContent, nil)
}

// RevokeAll revokes every session of the caller (logout everywhere).
// DELETE /api/v1/sessions
func (h *SessionHandler) RevokeAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	userID := middleware.GetUserID(ctx)
	if userID == "" {
		apierror.Unauthorized("").WriteJSON(w)
		return
	}

	count, err := h.manager.RevokeAll(ctx, userID)
	if err != nil {
		apierror.InternalError(err).WriteJSON(w)
		return
	}

	respondJSON(w, http.StatusOK, map[string]int{"revoked": count})
}
