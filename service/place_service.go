package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/ports"
)

// Dispatcher runs a dispatch cycle over places awaiting a validator.
type Dispatcher interface {
	DispatchPending(ctx context.Context)
}

// PlaceService creates and lists the places a user tracks
type PlaceService struct {
	store      ports.PlaceStore
	dispatcher Dispatcher
	logger     *zap.Logger
	now        func() time.Time
}

func NewPlaceService(store ports.PlaceStore, dispatcher Dispatcher, logger *zap.Logger) *PlaceService {
	return &PlaceService{
		store:      store,
		dispatcher: dispatcher,
		logger:     logger.Named("places"),
		now:        time.Now,
	}
}

// Create seeds a new place awaiting a validator and offers it to the
// connected validators right away.
func (s *PlaceService) Create(ctx context.Context, owner core.Identity, name string, coords *core.Coordinates) (core.PlaceRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return core.PlaceRecord{}, fmt.Errorf("%w: name is required", core.ErrInvalidPlace)
	}
	if coords != nil && !coords.Valid() {
		return core.PlaceRecord{}, fmt.Errorf("%w: coordinates out of range", core.ErrInvalidPlace)
	}

	place := core.PlaceRecord{
		ID:          uuid.New().String(),
		Owner:       owner,
		Name:        name,
		Coordinates: coords,
		Status:      core.StatusAwaitingValidator,
		UpdatedAt:   s.now().UTC(),
	}
	if err := s.store.Create(ctx, place); err != nil {
		return core.PlaceRecord{}, fmt.Errorf("failed to create place: %w", err)
	}
	s.logger.Info("place created",
		zap.String("place", place.ID),
		zap.String("name", place.Name),
		zap.Stringer("owner", owner),
		zap.Bool("dispatchable", coords != nil),
	)

	if coords != nil {
		s.dispatcher.DispatchPending(ctx)
		// the dispatch may have moved the place to PROCESSING
		if fresh, err := s.store.Get(ctx, place.ID); err == nil {
			place = fresh
		}
	}
	return place, nil
}

// List returns the places owned by owner.
func (s *PlaceService) List(ctx context.Context, owner core.Identity) ([]core.PlaceRecord, error) {
	places, err := s.store.List(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("failed to list places: %w", err)
	}
	return places, nil
}
