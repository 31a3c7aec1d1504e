// Package events defines the structured security events the admission core
// hands to external monitoring. Events are per-request outcomes, never
// fatal to the serving process; delivery is best effort.
package events

import (
	"context"
	"time"

	"github.com/tourwise/gatekeeper/pkg/logger"
)

// Type classifies a security event.
type Type string

const (
	TypeQuotaExceeded       Type = "security.quota.exceeded"
	TypeAttackDetected      Type = "security.attack.detected"
	TypeBlockedIPRejected   Type = "security.blocked_ip.rejected"
	TypeIPRotationDetected  Type = "security.session.ip_rotation"
	TypeFingerprintMismatch Type = "security.session.fingerprint_mismatch"
	TypeSessionRevoked      Type = "security.session.revoked"
)

// Event is a structured security event for the external SIEM collaborator.
type Event struct {
	Type       Type           `json:"type"`
	OccurredAt time.Time      `json:"occurred_at"`
	IP         string         `json:"ip,omitempty"`
	Identifier string         `json:"identifier,omitempty"`
	UserID     string         `json:"user_id,omitempty"`
	Tier       string         `json:"tier,omitempty"`
	Endpoint   string         `json:"endpoint,omitempty"`
	Details    map[string]any `json:"details,omitempty"`
}

// New returns an event stamped with the current time.
func New(t Type) Event {
	return Event{Type: t, OccurredAt: time.Now().UTC()}
}

// Dispatcher delivers security events to external monitoring.
type Dispatcher interface {
	Publish(ctx context.Context, event Event)
}

// LogDispatcher writes events to the structured log only. It is the
// fallback when no queue-backed dispatcher is configured, and the test
// double of choice.
type LogDispatcher struct {
	log *logger.Logger
}

// NewLogDispatcher creates a log-only dispatcher.
func NewLogDispatcher(log *logger.Logger) *LogDispatcher {
	return &LogDispatcher{log: log}
}

// Publish implements Dispatcher.
func (d *LogDispatcher) Publish(_ context.Context, event Event) {
	d.log.Warn("security event",
		"event", string(event.Type),
		"ip", event.IP,
		"identifier", event.Identifier,
		"tier", event.Tier,
		"endpoint", event.Endpoint,
	)
}

// NopDispatcher discards events.
type NopDispatcher struct{}

// Publish implements Dispatcher.
func (NopDispatcher) Publish(context.Context, Event) {}
