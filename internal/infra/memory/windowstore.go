package memory

import (
	"context"
	"sync"
	"time"

	"github.com/tourwise/gatekeeper/internal/admission"
)

// WindowStore is an in-process sliding-window-log store.
type WindowStore struct {
	mu      sync.Mutex
	windows map[string][]time.Time

	// Clock returns the current time. Tests substitute a fake.
	Clock func() time.Time
}

// NewWindowStore creates an empty window store.
func NewWindowStore() *WindowStore {
	return &WindowStore{
		windows: make(map[string][]time.Time),
		Clock:   time.Now,
	}
}

// Take consumes one slot in the key's window if quota remains.
func (s *WindowStore) Take(_ context.Context, key string, limit int, window time.Duration) (admission.WindowResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.Clock()
	cutoff := now.Add(-window)

	entries := s.windows[key]
	kept := entries[:0]
	for _, t := range entries {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}

	if len(kept) >= limit {
		oldest := kept[0]
		s.windows[key] = kept
		retry := oldest.Add(window).Sub(now)
		if retry < time.Millisecond {
			retry = time.Millisecond
		}
		return admission.WindowResult{
			RetryAfter: retry,
			ResetAt:    oldest.Add(window),
		}, nil
	}

	kept = append(kept, now)
	s.windows[key] = kept
	return admission.WindowResult{
		Allowed:   true,
		Remaining: limit - len(kept),
		ResetAt:   now.Add(window),
	}, nil
}

// Reset drops the window for a key.
func (s *WindowStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.windows, key)
	return nil
}
