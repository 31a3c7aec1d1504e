package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tourwise/gatekeeper/internal/session"
)

// SessionStore is an in-process session store.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]session.Record
	byUser   map[string]map[string]struct{}

	// Clock returns the current time, used for lazy expiry on reads.
	// Validate takes its reference time from the caller.
	Clock func() time.Time
}

// NewSessionStore creates an empty session store.
func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]session.Record),
		byUser:   make(map[string]map[string]struct{}),
		Clock:    time.Now,
	}
}

// Create stores a new session record.
func (s *SessionStore) Create(_ context.Context, rec session.Record) error {
	if rec.ID == "" {
		return errors.New("session id is required")
	}
	if rec.UserID == "" {
		return errors.New("user id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[rec.ID] = rec
	ids, ok := s.byUser[rec.UserID]
	if !ok {
		ids = make(map[string]struct{})
		s.byUser[rec.UserID] = ids
	}
	ids[rec.ID] = struct{}{}
	return nil
}

// Validate checks a session against the presented device identity and
// applies the outcome under one lock acquisition.
func (s *SessionStore) Validate(_ context.Context, id, ip, fingerprint string, now time.Time, slide, audit time.Duration) (session.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return session.Result{Reason: session.ReasonExpired}, nil
	}
	if !now.Before(rec.ExpiresAt) {
		s.remove(rec)
		return session.Result{Reason: session.ReasonExpired}, nil
	}
	if rec.IPRotationDetected {
		// Audit entry from an earlier rotation, never valid again.
		return session.Result{Reason: session.ReasonExpired}, nil
	}

	if rec.DeviceIP != ip {
		count := rec.IPChangeCount + 1
		if audit > 0 {
			rec.IPRotationDetected = true
			rec.IPChangeCount = count
			rec.ExpiresAt = now.Add(audit)
			s.sessions[id] = rec
		} else {
			s.remove(rec)
		}
		return session.Result{
			Reason:        session.ReasonIPMismatch,
			UserID:        rec.UserID,
			IPChangeCount: count,
		}, nil
	}

	if rec.DeviceFingerprint != fingerprint {
		s.remove(rec)
		return session.Result{
			Reason: session.ReasonFingerprintMismatch,
			UserID: rec.UserID,
		}, nil
	}

	rec.LastActivity = now
	if slide > 0 {
		rec.ExpiresAt = now.Add(slide)
	}
	s.sessions[id] = rec
	return session.Result{Valid: true, UserID: rec.UserID}, nil
}

// Revoke deletes a session. Returns false if it did not exist.
func (s *SessionStore) Revoke(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return false, nil
	}
	s.remove(rec)
	return true, nil
}

// Get returns a session record without touching it. Expired records read
// as absent.
func (s *SessionStore) Get(_ context.Context, id string) (session.Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.sessions[id]
	if !ok {
		return session.Record{}, false, nil
	}
	if !s.Clock().Before(rec.ExpiresAt) {
		s.remove(rec)
		return session.Record{}, false, nil
	}
	return rec, true, nil
}

// List returns the user's live sessions.
func (s *SessionStore) List(_ context.Context, userID string) ([]session.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Clock()
	records := make([]session.Record, 0, len(s.byUser[userID]))
	for id := range s.byUser[userID] {
		rec, ok := s.sessions[id]
		if !ok {
			continue
		}
		if !now.Before(rec.ExpiresAt) {
			s.remove(rec)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// RevokeAll deletes every session belonging to a user.
func (s *SessionStore) RevokeAll(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Clock()
	removed := 0
	for id := range s.byUser[userID] {
		rec, ok := s.sessions[id]
		if !ok {
			continue
		}
		live := now.Before(rec.ExpiresAt)
		s.remove(rec)
		if live {
			removed++
		}
	}
	return removed, nil
}

// remove must be called with the lock held.
func (s *SessionStore) remove(rec session.Record) {
	delete(s.sessions, rec.ID)
	if ids, ok := s.byUser[rec.UserID]; ok {
		delete(ids, rec.ID)
		if len(ids) == 0 {
			delete(s.byUser, rec.UserID)
		}
	}
}
