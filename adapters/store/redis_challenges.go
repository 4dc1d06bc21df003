package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/dair/ports"
)

// RedisChallenges records consumed challenge ids with SETNX and no TTL, so a
// replay is refused across restarts
type RedisChallenges struct {
	client *redis.Client
	prefix string
}

// NewRedisChallenges creates a Redis backed challenge store
func NewRedisChallenges(client *redis.Client) ports.ChallengeStore {
	return &RedisChallenges{
		client: client,
		prefix: "dair:challenge:",
	}
}

func (s *RedisChallenges) ConsumeChallenge(ctx context.Context, id string, at time.Time) (bool, error) {
	first, err := s.client.SetNX(ctx, s.prefix+id, at.UTC().Format(time.RFC3339Nano), 0).Result()
	if err != nil {
		return false, fmt.Errorf("failed to consume challenge: %w", err)
	}
	return first, nil
}
