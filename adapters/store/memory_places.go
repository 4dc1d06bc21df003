package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/ports"
)

// MemoryPlaces keeps place records in process memory
type MemoryPlaces struct {
	mu     sync.RWMutex
	places map[string]core.PlaceRecord
}

// NewMemoryPlaces creates an empty in-memory place store
func NewMemoryPlaces() ports.PlaceStore {
	return &MemoryPlaces{places: make(map[string]core.PlaceRecord)}
}

func (s *MemoryPlaces) Create(ctx context.Context, place core.PlaceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.places[place.ID]; ok {
		return fmt.Errorf("place %s already exists: %w", place.ID, core.ErrInvalidPlace)
	}
	s.places[place.ID] = place
	return nil
}

func (s *MemoryPlaces) Get(ctx context.Context, id string) (core.PlaceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	place, ok := s.places[id]
	if !ok {
		return core.PlaceRecord{}, fmt.Errorf("place %s: %w", id, core.ErrNotFound)
	}
	return place, nil
}

// List returns the places of owner, or every place when owner is empty
func (s *MemoryPlaces) List(ctx context.Context, owner core.Identity) ([]core.PlaceRecord, error) {
	return s.filter(func(p core.PlaceRecord) bool {
		return owner == "" || p.Owner == owner
	}), nil
}

func (s *MemoryPlaces) ListByStatus(ctx context.Context, status core.Status) ([]core.PlaceRecord, error) {
	return s.filter(func(p core.PlaceRecord) bool {
		return p.Status == status
	}), nil
}

func (s *MemoryPlaces) SetStatus(ctx context.Context, id string, status core.Status, at time.Time) error {
	return s.update(id, func(p *core.PlaceRecord) {
		p.Status = status
		p.UpdatedAt = at
	})
}

func (s *MemoryPlaces) Complete(ctx context.Context, id string, m core.Measurement, at time.Time) error {
	return s.update(id, func(p *core.PlaceRecord) {
		p.AirQuality = m
		p.Status = core.StatusCompleted
		p.UpdatedAt = at
	})
}

func (s *MemoryPlaces) update(id string, fn func(*core.PlaceRecord)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	place, ok := s.places[id]
	if !ok {
		return fmt.Errorf("place %s: %w", id, core.ErrNotFound)
	}
	fn(&place)
	s.places[id] = place
	return nil
}

func (s *MemoryPlaces) filter(keep func(core.PlaceRecord) bool) []core.PlaceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]core.PlaceRecord, 0, len(s.places))
	for _, p := range s.places {
		if keep(p) {
			out = append(out, p)
		}
	}
	sortPlaces(out)
	return out
}

// sortPlaces orders records oldest update first, so the longest waiting
// places are dispatched first.
func sortPlaces(places []core.PlaceRecord) {
	sort.Slice(places, func(i, j int) bool {
		if !places[i].UpdatedAt.Equal(places[j].UpdatedAt) {
			return places[i].UpdatedAt.Before(places[j].UpdatedAt)
		}
		return places[i].ID < places[j].ID
	})
}
