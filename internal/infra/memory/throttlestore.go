package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/tourwise/gatekeeper/internal/admission"
)

type blockEntry struct {
	until time.Time
}

type offenceEntry struct {
	count   int
	expires time.Time
}

// ThrottleStore is an in-process pattern log and block list.
type ThrottleStore struct {
	mu       sync.Mutex
	patterns map[string][]time.Time
	blocks   map[string]blockEntry
	offences map[string]offenceEntry

	// Clock returns the current time. Tests substitute a fake.
	Clock func() time.Time
}

// NewThrottleStore creates an empty throttle store.
func NewThrottleStore() *ThrottleStore {
	return &ThrottleStore{
		patterns: make(map[string][]time.Time),
		blocks:   make(map[string]blockEntry),
		offences: make(map[string]offenceEntry),
		Clock:    time.Now,
	}
}

// Observe records one request in the pattern log and returns the counts
// within the retention and trailing burst windows.
func (s *ThrottleStore) Observe(_ context.Context, key string, retention, burstWindow time.Duration) (admission.PatternCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Clock()
	cutoff := now.Add(-retention)
	burstCutoff := now.Add(-burstWindow)

	entries := s.patterns[key]
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	kept = append(kept, now)
	s.patterns[key] = kept

	burst := 0
	for _, t := range kept {
		if !t.Before(burstCutoff) {
			burst++
		}
	}

	return admission.PatternCounts{Retained: len(kept), Burst: burst}, nil
}

// Block records an IP block expiring after duration.
func (s *ThrottleStore) Block(_ context.Context, ip string, duration time.Duration) error {
	if duration <= 0 {
		return errors.New("block duration must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blocks[ip] = blockEntry{until: s.Clock().Add(duration)}
	return nil
}

// BlockedUntil reports whether an IP is currently blocked. Expired
// entries are removed lazily on lookup.
func (s *ThrottleStore) BlockedUntil(_ context.Context, ip string) (time.Time, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.blocks[ip]
	if !ok {
		return time.Time{}, false, nil
	}
	if !s.Clock().Before(entry.until) {
		delete(s.blocks, ip)
		return time.Time{}, false, nil
	}
	return entry.until, true, nil
}

// RecordOffence increments the repeat-offender counter for an IP.
func (s *ThrottleStore) RecordOffence(_ context.Context, ip string, retention time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Clock()
	entry, ok := s.offences[ip]
	if !ok || !now.Before(entry.expires) {
		entry = offenceEntry{expires: now.Add(retention)}
	}
	entry.count++
	s.offences[ip] = entry
	return entry.count, nil
}

// Unblock removes a block ahead of its expiry.
func (s *ThrottleStore) Unblock(_ context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blocks, ip)
	return nil
}
