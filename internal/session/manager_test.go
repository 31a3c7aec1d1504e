package session_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourwise/gatekeeper/internal/events"
	"github.com/tourwise/gatekeeper/internal/infra/memory"
	"github.com/tourwise/gatekeeper/internal/session"
	"github.com/tourwise/gatekeeper/pkg/logger"
)

type captureDispatcher struct {
	mu     sync.Mutex
	events []events.Event
}

func (d *captureDispatcher) Publish(_ context.Context, event events.Event) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.events = append(d.events, event)
}

func (d *captureDispatcher) byType(t events.Type) []events.Event {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []events.Event
	for _, ev := range d.events {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

type failingStore struct {
	session.Store
}

func (failingStore) Validate(context.Context, string, string, string, time.Time, time.Duration, time.Duration) (session.Result, error) {
	return session.Result{}, errors.New("store down")
}

func newTestManager(t *testing.T, cfg session.ManagerConfig, emitter events.Dispatcher) (*session.Manager, *memory.SessionStore) {
	t.Helper()
	store := memory.NewSessionStore()
	mgr, err := session.NewManager(store, cfg, emitter, logger.NewNop())
	require.NoError(t, err)
	return mgr, store
}

func TestManagerCreateAndValidate(t *testing.T) {
	mgr, _ := newTestManager(t, session.DefaultManagerConfig(), nil)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user-1", "203.0.113.10", "fp-abc")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	result := mgr.Validate(ctx, id, "203.0.113.10", "fp-abc")
	assert.True(t, result.Valid)
	assert.Equal(t, "user-1", result.UserID)
}

func TestManagerTokensAreUnique(t *testing.T) {
	mgr, _ := newTestManager(t, session.DefaultManagerConfig(), nil)
	ctx := context.Background()

	seen := make(map[string]struct{})
	for i := 0; i < 50; i++ {
		id, err := mgr.Create(ctx, "user-1", "203.0.113.10", "fp-abc")
		require.NoError(t, err)
		_, dup := seen[id]
		require.False(t, dup, "session tokens must not repeat")
		seen[id] = struct{}{}
	}
}

func TestManagerCreateRequiresIdentity(t *testing.T) {
	mgr, _ := newTestManager(t, session.DefaultManagerConfig(), nil)
	ctx := context.Background()

	_, err := mgr.Create(ctx, "", "203.0.113.10", "fp")
	assert.Error(t, err)

	_, err = mgr.Create(ctx, "user-1", "", "fp")
	assert.Error(t, err)
}

func TestManagerIPRotationInvalidatesTerminally(t *testing.T) {
	capture := &captureDispatcher{}
	mgr, _ := newTestManager(t, session.DefaultManagerConfig(), capture)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user-2", "203.0.113.10", "fp-abc")
	require.NoError(t, err)

	result := mgr.Validate(ctx, id, "198.51.100.99", "fp-abc")
	assert.False(t, result.Valid)
	assert.Equal(t, session.ReasonIPMismatch, result.Reason)
	assert.Equal(t, 1, result.IPChangeCount)

	emitted := capture.byType(events.TypeIPRotationDetected)
	require.Len(t, emitted, 1)
	assert.Equal(t, "user-2", emitted[0].UserID)

	// Returning to the original IP does not resurrect the session.
	result = mgr.Validate(ctx, id, "203.0.113.10", "fp-abc")
	assert.False(t, result.Valid)
	assert.Equal(t, session.ReasonExpired, result.Reason)
}

func TestManagerIPRotationLeavesAuditRecord(t *testing.T) {
	mgr, _ := newTestManager(t, session.DefaultManagerConfig(), nil)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user-9", "203.0.113.10", "fp-abc")
	require.NoError(t, err)

	result := mgr.Validate(ctx, id, "198.51.100.99", "fp-abc")
	require.Equal(t, session.ReasonIPMismatch, result.Reason)

	// The invalidated session stays visible as an audit entry.
	rec, found, err := mgr.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, rec.IPRotationDetected)
	assert.Equal(t, 1, rec.IPChangeCount)

	sessions, err := mgr.Sessions(ctx, "user-9")
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.True(t, sessions[0].IPRotationDetected)

	// Visible does not mean usable.
	result = mgr.Validate(ctx, id, "198.51.100.99", "fp-abc")
	assert.False(t, result.Valid)
	assert.Equal(t, session.ReasonExpired, result.Reason)
}

func TestManagerFingerprintMismatchInvalidates(t *testing.T) {
	capture := &captureDispatcher{}
	mgr, _ := newTestManager(t, session.DefaultManagerConfig(), capture)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user-3", "203.0.113.10", "fp-abc")
	require.NoError(t, err)

	result := mgr.Validate(ctx, id, "203.0.113.10", "fp-other")
	assert.False(t, result.Valid)
	assert.Equal(t, session.ReasonFingerprintMismatch, result.Reason)
	require.Len(t, capture.byType(events.TypeFingerprintMismatch), 1)

	result = mgr.Validate(ctx, id, "203.0.113.10", "fp-abc")
	assert.Equal(t, session.ReasonExpired, result.Reason)
}

func TestManagerValidateUnknownSession(t *testing.T) {
	mgr, _ := newTestManager(t, session.DefaultManagerConfig(), nil)

	result := mgr.Validate(context.Background(), "no-such-session", "203.0.113.10", "fp")
	assert.False(t, result.Valid)
	assert.Equal(t, session.ReasonExpired, result.Reason)

	result = mgr.Validate(context.Background(), "", "203.0.113.10", "fp")
	assert.Equal(t, session.ReasonExpired, result.Reason)
}

func TestManagerSessionExpiry(t *testing.T) {
	mgr, store := newTestManager(t, session.ManagerConfig{TTL: time.Hour, FailClosed: true}, nil)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user-4", "203.0.113.10", "fp-abc")
	require.NoError(t, err)

	// Expire the record directly: Validate compares against real time.
	rec, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	rec.ExpiresAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, store.Create(ctx, rec))

	result := mgr.Validate(ctx, id, "203.0.113.10", "fp-abc")
	assert.False(t, result.Valid)
	assert.Equal(t, session.ReasonExpired, result.Reason)
}

func TestManagerSlidingExpiryExtends(t *testing.T) {
	mgr, store := newTestManager(t, session.ManagerConfig{
		TTL:           time.Hour,
		SlidingExpiry: true,
		FailClosed:    true,
	}, nil)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user-5", "203.0.113.10", "fp-abc")
	require.NoError(t, err)

	before, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)

	result := mgr.Validate(ctx, id, "203.0.113.10", "fp-abc")
	require.True(t, result.Valid)

	after, ok, err := store.Get(ctx, id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.False(t, after.ExpiresAt.Before(before.ExpiresAt))
	assert.False(t, after.LastActivity.Before(before.LastActivity))
}

func TestManagerRevoke(t *testing.T) {
	capture := &captureDispatcher{}
	mgr, _ := newTestManager(t, session.DefaultManagerConfig(), capture)
	ctx := context.Background()

	id, err := mgr.Create(ctx, "user-6", "203.0.113.10", "fp-abc")
	require.NoError(t, err)

	existed, err := mgr.Revoke(ctx, id)
	require.NoError(t, err)
	assert.True(t, existed)
	require.Len(t, capture.byType(events.TypeSessionRevoked), 1)

	result := mgr.Validate(ctx, id, "203.0.113.10", "fp-abc")
	assert.Equal(t, session.ReasonExpired, result.Reason)

	// Revoking again reports not found without another event.
	existed, err = mgr.Revoke(ctx, id)
	require.NoError(t, err)
	assert.False(t, existed)
	assert.Len(t, capture.byType(events.TypeSessionRevoked), 1)
}

func TestManagerSessionsAndRevokeAll(t *testing.T) {
	capture := &captureDispatcher{}
	mgr, _ := newTestManager(t, session.DefaultManagerConfig(), capture)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := mgr.Create(ctx, "user-7", "203.0.113.10", "fp-abc")
		require.NoError(t, err)
	}
	_, err := mgr.Create(ctx, "user-8", "203.0.113.11", "fp-xyz")
	require.NoError(t, err)

	sessions, err := mgr.Sessions(ctx, "user-7")
	require.NoError(t, err)
	assert.Len(t, sessions, 3)

	count, err := mgr.RevokeAll(ctx, "user-7")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	sessions, err = mgr.Sessions(ctx, "user-7")
	require.NoError(t, err)
	assert.Empty(t, sessions)

	// Other users' sessions are untouched.
	sessions, err = mgr.Sessions(ctx, "user-8")
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestManagerStoreFailurePolicy(t *testing.T) {
	tests := []struct {
		name       string
		failClosed bool
		wantReason session.Reason
	}{
		{name: "fail closed reports store unavailable", failClosed: true, wantReason: session.ReasonStoreUnavailable},
		{name: "fail open treats as expired", failClosed: false, wantReason: session.ReasonExpired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mgr, err := session.NewManager(failingStore{}, session.ManagerConfig{
				TTL:        time.Hour,
				FailClosed: tt.failClosed,
			}, nil, logger.NewNop())
			require.NoError(t, err)

			result := mgr.Validate(context.Background(), "some-session", "203.0.113.10", "fp")
			assert.False(t, result.Valid)
			assert.Equal(t, tt.wantReason, result.Reason)
		})
	}
}

func TestNewTokenEntropy(t *testing.T) {
	token, err := session.NewToken()
	require.NoError(t, err)
	// 32 bytes base64url without padding.
	assert.Len(t, token, 43)
	assert.NotContains(t, token, "=")
}
