package middleware

import (
	"context"
	"net/http"

	"github.com/tourwise/gatekeeper/internal/session"
	"github.com/tourwise/gatekeeper/pkg/apierror"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// SessionHeader carries the session credential issued at session creation.
const SessionHeader = "X-Session-ID"

const sessionIDKey contextKey = "session_id"

// RequireSession authorizes requests against their device-bound session.
// The session ID comes from the X-Session-ID header; the device identity
// must already be resolved by DeviceIdentity. Any invalid outcome is a
// 401 with a uniform message so callers cannot distinguish expiry from a
// device mismatch.
func RequireSession(manager *session.Manager, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			id := r.Header.Get(SessionHeader)
			if id == "" {
				apierror.Unauthorized("Session required").WriteJSON(w)
				return
			}

			result := manager.Validate(ctx, id, GetDeviceIP(ctx), GetDeviceFingerprint(ctx))
			if !result.Valid {
				log.Warn("session rejected",
					"reason", string(result.Reason),
					"request_id", GetRequestID(ctx),
				)
				apierror.SessionInvalid().WriteJSON(w)
				return
			}

			ctx = context.WithValue(ctx, sessionIDKey, id)
			ctx = context.WithValue(ctx, logger.ContextKeyUserID, result.UserID)

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetSessionID returns the validated session ID from context.
func GetSessionID(ctx context.Context) string {
	if id, ok := ctx.Value(sessionIDKey).(string); ok {
		return id
	}
	return ""
}
