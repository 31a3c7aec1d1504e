// Package admission implements the decision layer that accepts or rejects
// a request before it reaches business logic: per-tier sliding-window rate
// limiting, adaptive per-IP attack throttling, and their composition into
// an ordered pipeline of admission stages.
package admission

import (
	"time"
)

// Reason classifies why a request was rejected.
type Reason string

const (
	// ReasonNone means the request was admitted.
	ReasonNone Reason = ""

	// ReasonQuotaExceeded means the identifier ran out of tier quota.
	// Retryable after Decision.RetryAfter.
	ReasonQuotaExceeded Reason = "quota_exceeded"

	// ReasonIPBlocked means the origin IP is temporarily blocked after
	// attack-pattern detection. Not disclosed to the caller beyond a 403.
	ReasonIPBlocked Reason = "ip_blocked"

	// ReasonStoreUnavailable means the shared store failed and the
	// component is configured fail-closed.
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Decision is the typed outcome of an admission check. Rejections are
// ordinary values, not errors; only infrastructure faults travel as errors
// and those are absorbed by each component's fail-open/fail-closed policy.
type Decision struct {
	// Allowed indicates whether the request may proceed.
	Allowed bool

	// Reason is set when the request was rejected.
	Reason Reason

	// Stage names the pipeline stage that produced the rejection.
	Stage string

	// RetryAfter is how long the caller should wait before retrying.
	// Only set for quota rejections; always in (0, window].
	RetryAfter time.Duration

	// Limit and Remaining describe the tier quota for response headers.
	Limit     int
	Remaining int

	// ResetAt is when the current rate-limit window resets.
	ResetAt time.Time
}

// Allowed returns an admitting decision.
func Allowed() Decision {
	return Decision{Allowed: true}
}

// Rejected returns a rejecting decision with the given reason.
func Rejected(stage string, reason Reason) Decision {
	return Decision{Reason: reason, Stage: stage}
}

// RetryAfterSeconds returns RetryAfter rounded up to whole seconds, with a
// floor of one second, suitable for the Retry-After response header.
func (d Decision) RetryAfterSeconds() int {
	if d.RetryAfter <= 0 {
		return 1
	}
	secs := int((d.RetryAfter + time.Second - 1) / time.Second)
	if secs < 1 {
		return 1
	}
	return secs
}
