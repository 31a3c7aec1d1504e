package admission

import (
	"context"
	"time"
)

// WindowResult is the outcome of an atomic sliding-window take.
type WindowResult struct {
	// Allowed reports whether the request fit inside the window quota.
	Allowed bool

	// Remaining is the quota left in the current window.
	Remaining int

	// RetryAfter is window - (now - oldest) when the take was refused.
	RetryAfter time.Duration

	// ResetAt is when the oldest entry falls out of the window.
	ResetAt time.Time
}

// WindowStore performs the sliding-window-log bookkeeping for one key.
// Implementations must execute prune+count+insert as a single atomic unit
// per key; two concurrent takes must never both observe count < limit and
// both be admitted past it.
type WindowStore interface {
	Take(ctx context.Context, key string, limit int, window time.Duration) (WindowResult, error)
}

// PatternCounts describes a (ip, endpoint) request pattern after an
// observation: how many requests remain in the retention window and how
// many landed within the trailing burst window.
type PatternCounts struct {
	Retained int
	Burst    int
}

// PatternStore records request timestamps for attack-pattern detection.
// Observe appends now, prunes entries older than the retention, and counts
// atomically. This accounting is independent of WindowStore.
type PatternStore interface {
	Observe(ctx context.Context, key string, retention, burstWindow time.Duration) (PatternCounts, error)
}

// BlockStore maintains the temporary IP block list. Entries expire
// naturally; a lookup past the block deadline reports not-blocked without
// an explicit unblock action.
type BlockStore interface {
	Block(ctx context.Context, ip string, duration time.Duration) error
	BlockedUntil(ctx context.Context, ip string) (until time.Time, blocked bool, err error)

	// RecordOffence increments the repeat-offender counter for an IP and
	// returns the new count. The counter is retained independently of the
	// block itself so escalation survives block expiry.
	RecordOffence(ctx context.Context, ip string, retention time.Duration) (int, error)

	// Unblock removes a block ahead of expiry (operator action).
	Unblock(ctx context.Context, ip string) error
}
