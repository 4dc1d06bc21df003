package store

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/dair/ports"
)

const revokedPrefix = "dair:revoked:"

// RedisRevocations stores each revoked key as a string that expires with
// the revocation, so lapsed entries need no cleanup.
type RedisRevocations struct {
	client *redis.Client
}

func NewRedisRevocations(client *redis.Client) ports.RevocationStore {
	return &RedisRevocations{client: client}
}

func (s *RedisRevocations) Revoke(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	fresh, err := s.client.SetNX(ctx, revokedPrefix+key, time.Now().UTC().Format(time.RFC3339), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to revoke %s: %w", key, err)
	}
	return fresh, nil
}

func (s *RedisRevocations) IsRevoked(ctx context.Context, key string) (bool, error) {
	n, err := s.client.Exists(ctx, revokedPrefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("failed to look up %s: %w", key, err)
	}
	return n > 0, nil
}
