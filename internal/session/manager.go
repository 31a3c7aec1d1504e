package session

import (
	"context"
	"errors"
	"time"

	"github.com/tourwise/gatekeeper/internal/events"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

// ManagerConfig configures the session manager.
type ManagerConfig struct {
	// TTL is the session lifetime from creation. Default: 30 days.
	TTL time.Duration

	// SlidingExpiry extends expiry to now+TTL on every valid request.
	SlidingExpiry bool

	// RotationAuditWindow is how long a session invalidated by IP rotation
	// stays listed as an audit entry before it ages out. Default: 24h.
	RotationAuditWindow time.Duration

	// FailClosed rejects validations when the shared store is unavailable.
	// Default true: sessions are a security boundary, so availability
	// yields to correctness here.
	FailClosed bool
}

func (c *ManagerConfig) applyDefaults() {
	if c.TTL == 0 {
		c.TTL = 30 * 24 * time.Hour
	}
	if c.RotationAuditWindow == 0 {
		c.RotationAuditWindow = 24 * time.Hour
	}
}

// Manager owns the session lifecycle.
type Manager struct {
	store   Store
	cfg     ManagerConfig
	log     *logger.Logger
	emitter events.Dispatcher
}

// NewManager creates a session manager. FailClosed defaults to true; pass
// an explicit config to relax it.
func NewManager(store Store, cfg ManagerConfig, emitter events.Dispatcher, log *logger.Logger) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if log == nil {
		return nil, errors.New("logger is required")
	}
	if emitter == nil {
		emitter = events.NopDispatcher{}
	}
	cfg.applyDefaults()

	return &Manager{
		store:   store,
		cfg:     cfg,
		log:     log,
		emitter: emitter,
	}, nil
}

// DefaultManagerConfig returns the recommended production settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		TTL:                 30 * 24 * time.Hour,
		RotationAuditWindow: 24 * time.Hour,
		FailClosed:          true,
	}
}

// Create issues a new session bound to the device identity and returns the
// session ID for use as a bearer credential alongside the primary token.
func (m *Manager) Create(ctx context.Context, userID, deviceIP, fingerprint string) (string, error) {
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if deviceIP == "" {
		return "", errors.New("device ip is required")
	}

	id, err := NewToken()
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	rec := Record{
		ID:                id,
		UserID:            userID,
		DeviceIP:          deviceIP,
		DeviceFingerprint: fingerprint,
		CreatedAt:         now,
		LastActivity:      now,
		ExpiresAt:         now.Add(m.cfg.TTL),
	}

	if err := m.store.Create(ctx, rec); err != nil {
		return "", err
	}

	m.log.Info("session created",
		"user_id", userID,
		"device_ip", deviceIP,
		"expires_at", rec.ExpiresAt,
	)
	return id, nil
}

// Validate checks a session against the presented device identity and
// advances last_activity on success. Mismatches invalidate the session;
// there is no path back to valid.
func (m *Manager) Validate(ctx context.Context, id, ip, fingerprint string) Result {
	if id == "" {
		return Result{Reason: ReasonExpired}
	}

	slide := time.Duration(0)
	if m.cfg.SlidingExpiry {
		slide = m.cfg.TTL
	}

	result, err := m.store.Validate(ctx, id, ip, fingerprint, time.Now().UTC(), slide, m.cfg.RotationAuditWindow)
	if err != nil {
		m.log.Error("session store unavailable",
			"fail_closed", m.cfg.FailClosed,
			"error", err,
		)
		if m.cfg.FailClosed {
			return Result{Reason: ReasonStoreUnavailable}
		}
		// Fail-open is deliberate config: treat as expired rather than
		// admitting an unverifiable session.
		return Result{Reason: ReasonExpired}
	}

	switch result.Reason {
	case ReasonIPMismatch:
		ev := events.New(events.TypeIPRotationDetected)
		ev.IP = ip
		ev.UserID = result.UserID
		ev.Details = map[string]any{"ip_change_count": result.IPChangeCount}
		m.emitter.Publish(ctx, ev)
	case ReasonFingerprintMismatch:
		ev := events.New(events.TypeFingerprintMismatch)
		ev.IP = ip
		ev.UserID = result.UserID
		m.emitter.Publish(ctx, ev)
	}

	return result
}

// Revoke deletes a session immediately. Later validations of the same ID
// report it expired.
func (m *Manager) Revoke(ctx context.Context, id string) (bool, error) {
	existed, err := m.store.Revoke(ctx, id)
	if err != nil {
		return false, err
	}

	if existed {
		m.emitter.Publish(ctx, events.New(events.TypeSessionRevoked))
		m.log.Info("session revoked")
	}
	return existed, nil
}

// Get returns a session record for introspection without touching its
// activity or expiry.
func (m *Manager) Get(ctx context.Context, id string) (Record, bool, error) {
	if id == "" {
		return Record{}, false, nil
	}
	return m.store.Get(ctx, id)
}

// Sessions lists the user's live sessions for the device-management UI.
func (m *Manager) Sessions(ctx context.Context, userID string) ([]Record, error) {
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	return m.store.List(ctx, userID)
}

// RevokeAll revokes every session of a user (logout everywhere, admin
// action) and returns the number removed.
func (m *Manager) RevokeAll(ctx context.Context, userID string) (int, error) {
	if userID == "" {
		return 0, errors.New("user id is required")
	}

	count, err := m.store.RevokeAll(ctx, userID)
	if err != nil {
		return 0, err
	}

	if count > 0 {
		ev := events.New(events.TypeSessionRevoked)
		ev.UserID = userID
		ev.Details = map[string]any{"count": count}
		m.emitter.Publish(ctx, ev)
		m.log.Info("all sessions revoked", "user_id", userID, "count", count)
	}
	return count, nil
}
