package admission

import (
	"context"
	"errors"
	"fmt"

	"github.com/tourwise/gatekeeper/pkg/logger"
)

// RateLimiterConfig configures the tier rate limiter.
type RateLimiterConfig struct {
	// Policy is the tier quota table.
	Policy Policy

	// FailClosed rejects requests when the shared store is unavailable.
	// Default false: quota enforcement degrades open with logging rather
	// than taking the API down with the store.
	FailClosed bool
}

// RateLimiter enforces per-identifier, per-tier sliding-window quotas.
// Identifiers are resolved user IDs for authenticated callers and origin
// IPs otherwise; that resolution happens upstream.
type RateLimiter struct {
	store      WindowStore
	policy     Policy
	failClosed bool
	log        *logger.Logger
}

// NewRateLimiter creates a tier rate limiter.
func NewRateLimiter(store WindowStore, cfg RateLimiterConfig, log *logger.Logger) (*RateLimiter, error) {
	if store == nil {
		return nil, errors.New("window store is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.Policy == nil {
		cfg.Policy = DefaultPolicy()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}

	return &RateLimiter{
		store:      store,
		policy:     cfg.Policy,
		failClosed: cfg.FailClosed,
		log:        log,
	}, nil
}

// Key returns the store key for an identifier and tier.
func Key(identifier string, tier Tier) string {
	return fmt.Sprintf("ratelimit:%s:%s", tier, identifier)
}

// Limit exposes the quota metadata for a tier, for response headers.
func (rl *RateLimiter) Limit(tier Tier) TierLimit {
	return rl.policy.Limit(tier)
}

// Check atomically consumes one slot of the identifier's window and
// returns the decision. A rejection carries retry_after computed from the
// oldest surviving timestamp.
func (rl *RateLimiter) Check(ctx context.Context, identifier string, tier Tier) Decision {
	limit := rl.policy.Limit(tier)

	result, err := rl.store.Take(ctx, Key(identifier, tier), limit.MaxRequests, limit.Window)
	if err != nil {
		rl.log.Error("rate limit store unavailable",
			"identifier", identifier,
			"tier", tier,
			"fail_closed", rl.failClosed,
			"error", err,
		)
		if rl.failClosed {
			return Rejected(StageQuota, ReasonStoreUnavailable)
		}
		return Allowed()
	}

	decision := Decision{
		Allowed:   result.Allowed,
		Limit:     limit.MaxRequests,
		Remaining: result.Remaining,
		ResetAt:   result.ResetAt,
	}

	if !result.Allowed {
		decision.Reason = ReasonQuotaExceeded
		decision.Stage = StageQuota
		decision.RetryAfter = result.RetryAfter
		// Keep retry_after inside (0, window] even if clocks wobble.
		if decision.RetryAfter <= 0 || decision.RetryAfter > limit.Window {
			decision.RetryAfter = limit.Window
		}
	}

	return decision
}
