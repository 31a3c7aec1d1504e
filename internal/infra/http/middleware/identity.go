package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/tourwise/gatekeeper/internal/admission"
	"github.com/tourwise/gatekeeper/pkg/jwt"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

type contextKey string

const (
	deviceIPKey          contextKey = "device_ip"
	deviceFingerprintKey contextKey = "device_fingerprint"
	tierKey              contextKey = "tier"
)

// DeviceIdentity resolves the client's device identity once per request
// and stores it in the context: the client IP (X-Device-IP, then the
// first X-Forwarded-For hop, then X-Real-IP, then RemoteAddr) and the
// X-Device-Fingerprint header.
//
// Forwarding headers are only trustworthy behind a proxy that overwrites
// them; deployments exposed directly should strip them at the edge.
func DeviceIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			ctx = context.WithValue(ctx, deviceIPKey, clientIP(r))
			ctx = context.WithValue(ctx, deviceFingerprintKey,
				strings.TrimSpace(r.Header.Get("X-Device-Fingerprint")))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetDeviceIP returns the resolved client IP from context.
func GetDeviceIP(ctx context.Context) string {
	if ip, ok := ctx.Value(deviceIPKey).(string); ok {
		return ip
	}
	return ""
}

// GetDeviceFingerprint returns the device fingerprint from context.
func GetDeviceFingerprint(ctx context.Context) string {
	if fp, ok := ctx.Value(deviceFingerprintKey).(string); ok {
		return fp
	}
	return ""
}

// clientIP extracts the real client IP from the request.
func clientIP(r *http.Request) string {
	if dip := r.Header.Get("X-Device-IP"); dip != "" {
		return strings.TrimSpace(dip)
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		// First hop is the client when the proxy chain is trusted.
		if idx := strings.Index(xff, ","); idx != -1 {
			return strings.TrimSpace(xff[:idx])
		}
		return strings.TrimSpace(xff)
	}

	if xrip := r.Header.Get("X-Real-IP"); xrip != "" {
		return strings.TrimSpace(xrip)
	}

	ip := r.RemoteAddr
	if idx := strings.LastIndex(ip, ":"); idx != -1 {
		return ip[:idx]
	}
	return ip
}

// Auth resolves the caller's identity and quota tier from an optional
// bearer token. Requests without a token (or with an invalid one) proceed
// as anonymous; promotion to a paid tier requires a valid token. Actual
// rejection of bad credentials is the resource API's concern, not ours.
func Auth(tokens *jwt.Manager, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token := bearerToken(r)
			if token != "" && tokens != nil {
				claims, err := tokens.Validate(token)
				if err != nil {
					log.Debug("bearer token rejected, treating as anonymous",
						"error", err,
						"request_id", GetRequestID(ctx),
					)
				} else {
					ctx = context.WithValue(ctx, logger.ContextKeyUserID, claims.UserID)
					ctx = context.WithValue(ctx, tierKey, tierFromClaims(claims))
				}
			}

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetUserID returns the authenticated user id from context, or "".
func GetUserID(ctx context.Context) string {
	if id, ok := ctx.Value(logger.ContextKeyUserID).(string); ok {
		return id
	}
	return ""
}

// GetTier returns the caller's quota tier; anonymous when unauthenticated.
func GetTier(ctx context.Context) admission.Tier {
	if tier, ok := ctx.Value(tierKey).(admission.Tier); ok {
		return tier
	}
	return admission.TierAnonymous
}

func bearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(auth, prefix) {
		return ""
	}
	return strings.TrimSpace(auth[len(prefix):])
}

func tierFromClaims(claims *jwt.Claims) admission.Tier {
	switch claims.Tier {
	case string(admission.TierPremium):
		return admission.TierPremium
	default:
		return admission.TierAuthenticated
	}
}
