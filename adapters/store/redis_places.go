package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/ports"
)

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

// RedisPlaces stores each place as a JSON document with set indexes by
// owner and by status
type RedisPlaces struct {
	client *redis.Client
	prefix string
}

// NewRedisPlaces creates a Redis backed place store
func NewRedisPlaces(client *redis.Client) ports.PlaceStore {
	return &RedisPlaces{
		client: client,
		prefix: "dair:place:",
	}
}

func (s *RedisPlaces) placeKey(id string) string {
	return s.prefix + id
}

func (s *RedisPlaces) ownerKey(owner core.Identity) string {
	return s.prefix + "owner:" + string(owner)
}

func (s *RedisPlaces) statusKey(status core.Status) string {
	return s.prefix + "status:" + string(status)
}

func (s *RedisPlaces) allKey() string {
	return s.prefix + "all"
}

func (s *RedisPlaces) Create(ctx context.Context, place core.PlaceRecord) error {
	payload, err := json.Marshal(place)
	if err != nil {
		return fmt.Errorf("failed to marshal place: %w", err)
	}

	created, err := s.client.SetNX(ctx, s.placeKey(place.ID), payload, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create place: %w", err)
	}
	if !created {
		return fmt.Errorf("place %s already exists: %w", place.ID, core.ErrInvalidPlace)
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, s.allKey(), place.ID)
		pipe.SAdd(ctx, s.ownerKey(place.Owner), place.ID)
		pipe.SAdd(ctx, s.statusKey(place.Status), place.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to index place: %w", err)
	}
	return nil
}

func (s *RedisPlaces) Get(ctx context.Context, id string) (core.PlaceRecord, error) {
	return s.get(ctx, s.client, id)
}

func (s *RedisPlaces) get(ctx context.Context, c getter, id string) (core.PlaceRecord, error) {
	payload, err := c.Get(ctx, s.placeKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.PlaceRecord{}, fmt.Errorf("place %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.PlaceRecord{}, fmt.Errorf("failed to load place: %w", err)
	}
	var place core.PlaceRecord
	if err := json.Unmarshal(payload, &place); err != nil {
		return core.PlaceRecord{}, fmt.Errorf("failed to decode place %s: %w", id, err)
	}
	return place, nil
}

// List returns the places of owner, or every place when owner is empty
func (s *RedisPlaces) List(ctx context.Context, owner core.Identity) ([]core.PlaceRecord, error) {
	key := s.allKey()
	if owner != "" {
		key = s.ownerKey(owner)
	}
	return s.listSet(ctx, key)
}

func (s *RedisPlaces) ListByStatus(ctx context.Context, status core.Status) ([]core.PlaceRecord, error) {
	return s.listSet(ctx, s.statusKey(status))
}

func (s *RedisPlaces) listSet(ctx context.Context, key string) ([]core.PlaceRecord, error) {
	ids, err := s.client.SMembers(ctx, key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list places: %w", err)
	}
	out := make([]core.PlaceRecord, 0, len(ids))
	for _, id := range ids {
		place, err := s.Get(ctx, id)
		if errors.Is(err, core.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, place)
	}
	sortPlaces(out)
	return out, nil
}

func (s *RedisPlaces) SetStatus(ctx context.Context, id string, status core.Status, at time.Time) error {
	return s.update(ctx, id, func(p *core.PlaceRecord) {
		p.Status = status
		p.UpdatedAt = at
	})
}

func (s *RedisPlaces) Complete(ctx context.Context, id string, m core.Measurement, at time.Time) error {
	return s.update(ctx, id, func(p *core.PlaceRecord) {
		p.AirQuality = m
		p.Status = core.StatusCompleted
		p.UpdatedAt = at
	})
}

// update applies fn under WATCH so concurrent writers to the same place
// retry instead of overwriting each other.
func (s *RedisPlaces) update(ctx context.Context, id string, fn func(*core.PlaceRecord)) error {
	key := s.placeKey(id)
	const maxRetries = 5

	for attempt := 0; attempt < maxRetries; attempt++ {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			place, err := s.get(ctx, tx, id)
			if err != nil {
				return err
			}
			previous := place.Status
			fn(&place)
			payload, err := json.Marshal(place)
			if err != nil {
				return fmt.Errorf("failed to marshal place: %w", err)
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, key, payload, 0)
				if previous != place.Status {
					pipe.SRem(ctx, s.statusKey(previous), id)
					pipe.SAdd(ctx, s.statusKey(place.Status), id)
				}
				return nil
			})
			return err
		}, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("failed to update place %s: too much contention", id)
}
