package store

import (
	"context"
	"sync"
	"time"

	"github.com/layer-3/dair/ports"
)

// MemoryChallenges keeps consumed challenge ids for the life of the process
type MemoryChallenges struct {
	mu       sync.Mutex
	consumed map[string]time.Time
}

// NewMemoryChallenges creates an empty in-memory challenge store
func NewMemoryChallenges() ports.ChallengeStore {
	return &MemoryChallenges{consumed: make(map[string]time.Time)}
}

func (s *MemoryChallenges) ConsumeChallenge(ctx context.Context, id string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consumed[id]; ok {
		return false, nil
	}
	s.consumed[id] = at
	return true, nil
}
