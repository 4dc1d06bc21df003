package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRevocations_Lapse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	clock := time.Unix(1_700_000_000, 0)
	s := NewMemoryRevocations().(*MemoryRevocations)
	s.now = func() time.Time { return clock }

	ok, err := s.IsRevoked(ctx, "r1")
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := s.Revoke(ctx, "r1", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
	ok, err = s.IsRevoked(ctx, "r1")
	require.NoError(t, err)
	assert.True(t, ok)

	// a second revocation loses and keeps the first deadline
	fresh, err = s.Revoke(ctx, "r1", time.Hour)
	require.NoError(t, err)
	assert.False(t, fresh)

	clock = clock.Add(2 * time.Minute)
	ok, _ = s.IsRevoked(ctx, "r1")
	assert.False(t, ok)

	// lapsed keys can be revoked again and are dropped on the next write
	fresh, err = s.Revoke(ctx, "r2", time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
	s.mu.RLock()
	_, kept := s.revoked["r1"]
	s.mu.RUnlock()
	assert.False(t, kept)
}

func TestRedisRevocations(t *testing.T) {
	client := redisClient(t)
	ctx := context.Background()
	s := NewRedisRevocations(client)
	key := uuid.NewString()

	ok, err := s.IsRevoked(ctx, key)
	require.NoError(t, err)
	assert.False(t, ok)

	fresh, err := s.Revoke(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.True(t, fresh)
	fresh, err = s.Revoke(ctx, key, time.Minute)
	require.NoError(t, err)
	assert.False(t, fresh)

	ok, err = s.IsRevoked(ctx, key)
	require.NoError(t, err)
	assert.True(t, ok)

	ttl, err := client.TTL(ctx, "dair:revoked:"+key).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
