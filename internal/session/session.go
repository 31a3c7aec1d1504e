// Package session implements device-bound session lifecycle: creation,
// validation against the bound device IP and fingerprint, and revocation.
// A session is bound at creation to exactly one (device_ip, fingerprint)
// pair; any mismatch on validation invalidates it rather than updating it.
package session

import (
	"context"
	"time"
)

// Record is a stored session.
type Record struct {
	ID                string
	UserID            string
	DeviceIP          string
	DeviceFingerprint string
	CreatedAt         time.Time
	LastActivity      time.Time
	ExpiresAt         time.Time

	// IPRotationDetected marks a session invalidated by an IP rotation.
	// The record survives as a read-only audit entry for the rotation
	// audit window so listings can surface the incident; it never
	// validates again.
	IPRotationDetected bool
	IPChangeCount      int
}

// Reason classifies why a validation failed. Sessions never transition
// back to valid from any of these; a new session requires fresh
// authentication.
type Reason string

const (
	// ReasonExpired covers absent records, TTL expiry, and prior
	// revocation or invalidation (the record is gone either way).
	ReasonExpired Reason = "expired"

	// ReasonIPMismatch means the request IP differs from the bound device
	// IP. The session is invalidated, not re-bound (fail closed).
	ReasonIPMismatch Reason = "ip_mismatch"

	// ReasonFingerprintMismatch means the device fingerprint changed.
	ReasonFingerprintMismatch Reason = "fingerprint_mismatch"

	// ReasonRevoked is reported by explicit revocation paths.
	ReasonRevoked Reason = "revoked"

	// ReasonStoreUnavailable means the shared store failed while the
	// manager is configured fail-closed.
	ReasonStoreUnavailable Reason = "store_unavailable"
)

// Result is the outcome of a validation.
type Result struct {
	Valid  bool
	Reason Reason

	// UserID is set when the session is valid.
	UserID string

	// IPChangeCount carries the rotation counter when an IP mismatch was
	// recorded, for the security event.
	IPChangeCount int
}

// Store persists session records. Validate must execute its
// lookup+compare+update sequence atomically per session key.
type Store interface {
	// Create stores a new record with TTL until Record.ExpiresAt.
	Create(ctx context.Context, rec Record) error

	// Validate checks the session against the presented device identity.
	// Mismatches invalidate the record in the same atomic step: an IP
	// mismatch flags it as a rotation audit entry kept until now+audit
	// (deleted outright when audit <= 0), a fingerprint mismatch deletes
	// it. On success last_activity is set to now and, when slide > 0,
	// expiry extends to now+slide.
	Validate(ctx context.Context, id, ip, fingerprint string, now time.Time, slide, audit time.Duration) (Result, error)

	// Revoke deletes the record. Returns false if it did not exist.
	Revoke(ctx context.Context, id string) (bool, error)

	// Get returns a record without touching it (introspection only).
	Get(ctx context.Context, id string) (Record, bool, error)

	// List returns the user's live sessions.
	List(ctx context.Context, userID string) ([]Record, error)

	// RevokeAll deletes all of the user's sessions and reports how many.
	RevokeAll(ctx context.Context, userID string) (int, error)
}
