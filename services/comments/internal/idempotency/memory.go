package idempotency

import (
	"context"
	"sync"
	"time"
)

// memoryStore is a development-only in-memory idempotency store. Entries
// expire after ttl and are swept lazily.
type memoryStore struct {
	mu        sync.Mutex
	seen      map[string]time.Time // eventID -> expiry
	ttl       time.Duration
	now       func() time.Time
	lastSweep time.Time
}

func newMemoryStore(ttl time.Duration) *memoryStore {
	return &memoryStore{seen: make(map[string]time.Time), ttl: ttl, now: time.Now}
}

func (s *memoryStore) Check(_ context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if now.Sub(s.lastSweep) >= s.ttl {
		for id, exp := range s.seen {
			if !now.Before(exp) {
				delete(s.seen, id)
			}
		}
		s.lastSweep = now
	}

	if exp, ok := s.seen[eventID]; ok && now.Before(exp) {
		return true, nil
	}
	s.seen[eventID] = now.Add(s.ttl)
	return false, nil
}

func (s *memoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.seen)
}
