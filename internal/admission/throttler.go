package admission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/tourwise/gatekeeper/pkg/logger"
)

// ThrottlerConfig configures adaptive attack-pattern throttling.
type ThrottlerConfig struct {
	// Retention is how long request timestamps are kept per (ip, endpoint).
	// Default: 5 minutes.
	Retention time.Duration

	// MaxPerRetention is the request count within the retention window
	// above which the pattern is declared an attack. Default: 100.
	MaxPerRetention int

	// BurstWindow and MaxPerBurst catch short floods: more than MaxPerBurst
	// requests within the trailing BurstWindow is an attack.
	// Defaults: 1 second, 10.
	BurstWindow time.Duration
	MaxPerBurst int

	// BaseBlockDuration is the block applied on a first offence.
	// Default: 60 minutes.
	BaseBlockDuration time.Duration

	// EscalationFactor multiplies the block duration per repeat offence.
	// Progressive ban growth is policy, not algorithm: 1.0 disables
	// escalation entirely. Default: 2.0, capped at MaxBlockDuration.
	EscalationFactor float64

	// MaxBlockDuration caps escalated blocks. Default: 24 hours.
	MaxBlockDuration time.Duration

	// OffenceRetention is how long the repeat-offender counter survives.
	// Default: 24 hours.
	OffenceRetention time.Duration

	// FailClosed rejects requests when the shared store is unavailable.
	// Default false: abuse containment degrades open with logging.
	FailClosed bool
}

func (c *ThrottlerConfig) applyDefaults() {
	if c.Retention == 0 {
		c.Retention = 5 * time.Minute
	}
	if c.MaxPerRetention == 0 {
		c.MaxPerRetention = 100
	}
	if c.BurstWindow == 0 {
		c.BurstWindow = time.Second
	}
	if c.MaxPerBurst == 0 {
		c.MaxPerBurst = 10
	}
	if c.BaseBlockDuration == 0 {
		c.BaseBlockDuration = time.Hour
	}
	if c.EscalationFactor == 0 {
		c.EscalationFactor = 2.0
	}
	if c.MaxBlockDuration == 0 {
		c.MaxBlockDuration = 24 * time.Hour
	}
	if c.OffenceRetention == 0 {
		c.OffenceRetention = 24 * time.Hour
	}
}

// AdaptiveThrottler detects per-IP burst and flood patterns and blocks
// offending IPs. It runs on every request alongside the tier rate limiter:
// the limiter enforces fair use per identity, the throttler contains abuse
// per IP.
type AdaptiveThrottler struct {
	patterns PatternStore
	blocks   BlockStore
	cfg      ThrottlerConfig
	log      *logger.Logger
}

// NewAdaptiveThrottler creates an attack-pattern throttler.
func NewAdaptiveThrottler(patterns PatternStore, blocks BlockStore, cfg ThrottlerConfig, log *logger.Logger) (*AdaptiveThrottler, error) {
	if patterns == nil {
		return nil, errors.New("pattern store is required")
	}
	if blocks == nil {
		return nil, errors.New("block store is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	cfg.applyDefaults()

	return &AdaptiveThrottler{
		patterns: patterns,
		blocks:   blocks,
		cfg:      cfg,
		log:      log,
	}, nil
}

// PatternKey returns the store key for an (ip, endpoint) pattern record.
func (t *AdaptiveThrottler) PatternKey(ip, endpoint string) string {
	return fmt.Sprintf("throttle:%s:%s", ip, endpoint)
}

// Observe records the current request in the (ip, endpoint) pattern and
// reports whether the pattern now qualifies as an attack.
func (t *AdaptiveThrottler) Observe(ctx context.Context, ip, endpoint string) (bool, error) {
	counts, err := t.patterns.Observe(ctx, t.PatternKey(ip, endpoint), t.cfg.Retention, t.cfg.BurstWindow)
	if err != nil {
		return false, err
	}

	return counts.Retained > t.cfg.MaxPerRetention || counts.Burst > t.cfg.MaxPerBurst, nil
}

// IsBlocked reports whether the IP is currently blocked. Expiry is the
// store's responsibility: expired blocks clear lazily on lookup without
// an explicit unblock.
func (t *AdaptiveThrottler) IsBlocked(ctx context.Context, ip string) (bool, error) {
	_, blocked, err := t.blocks.BlockedUntil(ctx, ip)
	if err != nil {
		return false, err
	}
	return blocked, nil
}

// Block records a block for the IP and returns the applied duration,
// escalated for repeat offenders per the configured policy.
func (t *AdaptiveThrottler) Block(ctx context.Context, ip string) (time.Duration, error) {
	offences, err := t.blocks.RecordOffence(ctx, ip, t.cfg.OffenceRetention)
	if err != nil {
		// Losing the counter only loses escalation, not containment.
		t.log.Warn("offence counter unavailable, using base block duration", "ip", ip, "error", err)
		offences = 1
	}

	duration := t.blockDuration(offences)
	if err := t.blocks.Block(ctx, ip, duration); err != nil {
		return 0, err
	}

	t.log.Warn("ip blocked after attack detection",
		"ip", ip,
		"offences", offences,
		"duration", duration,
	)
	return duration, nil
}

// BlockFor records a block with an explicit duration, bypassing the
// escalation policy (operator action).
func (t *AdaptiveThrottler) BlockFor(ctx context.Context, ip string, duration time.Duration) error {
	return t.blocks.Block(ctx, ip, duration)
}

// Unblock lifts a block ahead of expiry (operator action).
func (t *AdaptiveThrottler) Unblock(ctx context.Context, ip string) error {
	return t.blocks.Unblock(ctx, ip)
}

// FailClosed reports the configured store-unavailability policy.
func (t *AdaptiveThrottler) FailClosed() bool {
	return t.cfg.FailClosed
}

// blockDuration applies the escalation policy for the nth offence.
func (t *AdaptiveThrottler) blockDuration(offences int) time.Duration {
	duration := t.cfg.BaseBlockDuration
	for i := 1; i < offences; i++ {
		duration = time.Duration(float64(duration) * t.cfg.EscalationFactor)
		if duration >= t.cfg.MaxBlockDuration {
			return t.cfg.MaxBlockDuration
		}
	}
	if duration > t.cfg.MaxBlockDuration {
		duration = t.cfg.MaxBlockDuration
	}
	return duration
}
