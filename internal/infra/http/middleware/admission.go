package middleware

import (
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/tourwise/gatekeeper/internal/admission"
	"github.com/tourwise/gatekeeper/pkg/apierror"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// AdmissionConfig configures the admission middleware.
type AdmissionConfig struct {
	// SkipPaths bypass admission entirely (health checks, metrics).
	SkipPaths []string

	// EndpointTiers maps path prefixes to endpoint-class tiers. A match
	// overrides the caller's identity tier: expensive endpoint classes
	// get their own, stricter, quota regardless of who is calling.
	EndpointTiers map[string]admission.Tier
}

// DefaultAdmissionConfig returns the standard endpoint-class mapping.
func DefaultAdmissionConfig() AdmissionConfig {
	return AdmissionConfig{
		SkipPaths: []string{
			"/health",
			"/healthz",
			"/ready",
			"/readyz",
			"/metrics",
		},
		EndpointTiers: map[string]admission.Tier{
			"/api/v1/ai":       admission.TierAI,
			"/api/v1/bookings": admission.TierBooking,
		},
	}
}

// Admission gates every request through the admission pipeline. It must
// run after DeviceIdentity and Auth so identity and tier are resolved.
//
// Rejections map to HTTP per the decision reason: quota exhaustion is a
// 429 with Retry-After, blocked IPs get a generic 403, and a fail-closed
// store outage is a 503.
func Admission(pipeline *admission.Pipeline, cfg AdmissionConfig, log *logger.Logger) func(http.Handler) http.Handler {
	skipPaths := make(map[string]bool, len(cfg.SkipPaths))
	for _, path := range cfg.SkipPaths {
		skipPaths[path] = true
	}

	// Longest prefix wins so /api/v1/ai does not shadow a more specific
	// mapping.
	prefixes := make([]string, 0, len(cfg.EndpointTiers))
	for prefix := range cfg.EndpointTiers {
		prefixes = append(prefixes, prefix)
	}
	sort.Slice(prefixes, func(i, j int) bool { return len(prefixes[i]) > len(prefixes[j]) })

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			ctx := r.Context()
			ip := GetDeviceIP(ctx)

			tier := GetTier(ctx)
			for _, prefix := range prefixes {
				if strings.HasPrefix(r.URL.Path, prefix) {
					tier = cfg.EndpointTiers[prefix]
					break
				}
			}

			identifier := GetUserID(ctx)
			if identifier == "" {
				identifier = ip
			}

			req := admission.Request{
				Identifier: identifier,
				Tier:       tier,
				IP:         ip,
				Endpoint:   normalizePath(r.URL.Path),
			}

			decision := pipeline.Admit(ctx, req)

			if decision.Limit > 0 {
				w.Header().Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
				w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
				w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
			}

			if decision.Allowed {
				next.ServeHTTP(w, r)
				return
			}

			log.Warn("request rejected",
				"stage", decision.Stage,
				"reason", string(decision.Reason),
				"tier", string(tier),
				"path", r.URL.Path,
				"ip", ip,
				"request_id", GetRequestID(ctx),
			)

			switch decision.Reason {
			case admission.ReasonQuotaExceeded:
				w.Header().Set("X-RateLimit-Remaining", "0")
				apierror.WriteRateLimited(w, decision.RetryAfterSeconds())
			case admission.ReasonIPBlocked:
				apierror.Forbidden("").WriteJSON(w)
			case admission.ReasonStoreUnavailable:
				apierror.ServiceUnavailable("").WriteJSON(w)
			default:
				apierror.Forbidden("").WriteJSON(w)
			}
		})
	}
}

// normalizePath replaces dynamic path segments with a placeholder so
// pattern keys and metric labels stay low-cardinality.
func normalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, segment := range segments {
		if isID(segment) {
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

// isID reports whether a path segment looks like a UUID or numeric ID.
func isID(s string) bool {
	if s == "" {
		return false
	}

	if len(s) == 36 {
		dashes := 0
		hex := true
		for _, c := range s {
			switch {
			case c == '-':
				dashes++
			case (c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F'):
			default:
				hex = false
			}
		}
		if hex && dashes == 4 {
			return true
		}
	}

	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) <= 20
}
