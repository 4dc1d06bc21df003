package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/dair/ports"
)

// MemoryRevocations keeps revoked keys in process memory.
type MemoryRevocations struct {
	mu      sync.RWMutex
	revoked map[string]time.Time // key -> end of revocation
	now     func() time.Time
}

func NewMemoryRevocations() ports.RevocationStore {
	return &MemoryRevocations{
		revoked: make(map[string]time.Time),
		now:     time.Now,
	}
}

func (s *MemoryRevocations) Revoke(_ context.Context, key string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if until, ok := s.revoked[key]; ok && !now.After(until) {
		return false, nil
	}
	s.revoked[key] = now.Add(ttl)

	// lapsed entries are dropped on the write path
	for k, until := range s.revoked {
		if now.After(until) {
			delete(s.revoked, k)
		}
	}
	return true, nil
}

func (s *MemoryRevocations) IsRevoked(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	until, ok := s.revoked[key]
	return ok && !s.now().After(until), nil
}
