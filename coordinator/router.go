package coordinator

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/layer-3/dair/adapters/signature"
	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/ports"
)

// Router drives the per-place state machine
//
//	AWAITING_VALIDATOR -> PROCESSING -> COMPLETED
//	PROCESSING -> AWAITING_VALIDATOR (disconnect, timeout, rejected reply)
//
// Every correlator and store step for a place runs under that place's lock,
// so dispatch, completion and revert never interleave for the same place.
type Router struct {
	cfg      Config
	logger   *zap.Logger
	verifier ports.Verifier
	store    ports.PlaceStore
	events   ports.EventPublisher
	registry *Registry
	jobs     *Correlator
	places   *keyedMutex
	now      func() time.Time
	newID    func() string

	mu         sync.Mutex
	lastFailed map[string]core.Identity
}

// NewRouter wires a router to its registry and correlator and installs the
// registry removal hook that cancels a departed session's jobs.
func NewRouter(
	cfg Config,
	registry *Registry,
	jobs *Correlator,
	verifier ports.Verifier,
	store ports.PlaceStore,
	events ports.EventPublisher,
	logger *zap.Logger,
) *Router {
	r := &Router{
		cfg:        cfg,
		logger:     logger.Named("router"),
		verifier:   verifier,
		store:      store,
		events:     events,
		registry:   registry,
		jobs:       jobs,
		places:     newKeyedMutex(),
		now:        time.Now,
		newID:      uuid.NewString,
		lastFailed: make(map[string]core.Identity),
	}
	registry.OnRemove(r.SessionRemoved)
	return r
}

// Dispatch sends the place to any live authenticated session.
func (r *Router) Dispatch(ctx context.Context, placeID string) (core.ValidationJob, error) {
	return r.dispatch(ctx, placeID, func() (core.Session, error) {
		return r.pick(placeID)
	})
}

// DispatchTo sends the place to a specific session.
func (r *Router) DispatchTo(ctx context.Context, id core.SessionID, placeID string) (core.ValidationJob, error) {
	return r.dispatch(ctx, placeID, func() (core.Session, error) {
		session, ok := r.registry.Get(id)
		if !ok {
			return core.Session{}, fmt.Errorf("%s: %w", id, core.ErrSessionNotFound)
		}
		if !session.Authenticated() {
			return core.Session{}, fmt.Errorf("%s: %w", id, core.ErrNotAuthenticated)
		}
		return session, nil
	})
}

// DispatchPending runs one dispatch cycle over every place awaiting a
// validator and returns how many jobs were sent.
func (r *Router) DispatchPending(ctx context.Context) (int, error) {
	return r.dispatchAll(ctx, r.Dispatch)
}

// RequestPlaces dispatches every place awaiting a validator to the asking session.
func (r *Router) RequestPlaces(ctx context.Context, id core.SessionID) (int, error) {
	return r.dispatchAll(ctx, func(ctx context.Context, placeID string) (core.ValidationJob, error) {
		return r.DispatchTo(ctx, id, placeID)
	})
}

func (r *Router) dispatchAll(
	ctx context.Context,
	dispatch func(context.Context, string) (core.ValidationJob, error),
) (int, error) {
	sctx, cancel := r.storeContext(ctx)
	records, err := r.store.ListByStatus(sctx, core.StatusAwaitingValidator)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to list awaiting places: %w", err)
	}

	sent := 0
	for _, rec := range records {
		_, err := dispatch(ctx, rec.ID)
		switch {
		case err == nil:
			sent++
		case errors.Is(err, core.ErrNoValidator),
			errors.Is(err, core.ErrSessionNotFound),
			errors.Is(err, core.ErrNotAuthenticated):
			return sent, err
		case errors.Is(err, core.ErrPlaceBusy), errors.Is(err, core.ErrPlaceNotDispatchable):
		default:
			r.logger.Warn("dispatch failed", zap.String("place", rec.ID), zap.Error(err))
		}
	}
	return sent, nil
}

func (r *Router) dispatch(
	ctx context.Context,
	placeID string,
	choose func() (core.Session, error),
) (core.ValidationJob, error) {
	unlock := r.places.Lock(placeID)
	defer unlock()

	if held, ok := r.jobs.Outstanding(placeID); ok {
		return core.ValidationJob{}, fmt.Errorf("place %s held by %s: %w", placeID, held.CorrelationID, core.ErrPlaceBusy)
	}

	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	rec, err := r.store.Get(ctx, placeID)
	if err != nil {
		return core.ValidationJob{}, fmt.Errorf("failed to load place %s: %w", placeID, err)
	}
	if rec.Status != core.StatusAwaitingValidator {
		return core.ValidationJob{}, fmt.Errorf("place %s is %s: %w", placeID, rec.Status, core.ErrPlaceNotDispatchable)
	}
	if rec.Coordinates == nil {
		return core.ValidationJob{}, fmt.Errorf("place %s has no coordinates: %w", placeID, core.ErrPlaceNotDispatchable)
	}

	session, err := choose()
	if err != nil {
		return core.ValidationJob{}, err
	}

	job := core.ValidationJob{
		PlaceID:     placeID,
		PlaceName:   rec.Name,
		Coordinates: *rec.Coordinates,
		CreatedAt:   r.now(),
		Session:     session.ID,
		Validator:   session.Identity,
	}
	id := r.newID()
	if err := r.jobs.Register(id, job); err != nil {
		if errors.Is(err, core.ErrDuplicateCorrelation) {
			r.logger.Error("correlation id collision", zap.String("correlation", id), zap.Error(err))
		}
		return core.ValidationJob{}, err
	}
	job.CorrelationID = id

	env, err := NewEnvelope(TypeValidate, dispatchFor(job))
	if err != nil {
		_, _ = r.jobs.Resolve(id)
		return core.ValidationJob{}, err
	}
	if err := r.store.SetStatus(ctx, placeID, core.StatusProcessing, job.CreatedAt); err != nil {
		_, _ = r.jobs.Resolve(id)
		return core.ValidationJob{}, fmt.Errorf("failed to mark place %s processing: %w", placeID, err)
	}
	r.publish(ctx, job, core.StatusAwaitingValidator, core.StatusProcessing, nil)

	if err := r.registry.Send(session.ID, env); err != nil {
		if _, rerr := r.jobs.Resolve(id); rerr == nil {
			r.revertLocked(ctx, job, fmt.Errorf("%w: %v", core.ErrValidatorGone, err))
		}
		return core.ValidationJob{}, fmt.Errorf("failed to send job for place %s: %w", placeID, err)
	}

	dispatchesMetric.Inc()
	r.logger.Debug("dispatched place",
		zap.String("place", placeID),
		zap.String("correlation", id),
		zap.String("session", string(session.ID)),
		zap.Stringer("validator", session.Identity),
	)
	return job, nil
}

// pick chooses a random authenticated session, avoiding the validator that
// last failed this place when another one is available.
func (r *Router) pick(placeID string) (core.Session, error) {
	sessions := r.registry.Authenticated()
	if len(sessions) == 0 {
		return core.Session{}, core.ErrNoValidator
	}

	r.mu.Lock()
	failed, hasFailed := r.lastFailed[placeID]
	r.mu.Unlock()

	candidates := sessions
	if hasFailed {
		preferred := make([]core.Session, 0, len(sessions))
		for _, s := range sessions {
			if s.Identity != failed {
				preferred = append(preferred, s)
			}
		}
		if len(preferred) > 0 {
			candidates = preferred
		}
	}
	return candidates[rand.IntN(len(candidates))], nil
}

// HandleReply consumes the job named by the reply and either completes the
// place or, when the reply is rejected, returns it to AWAITING_VALIDATOR.
// Late or duplicate replies yield core.ErrNotFound and change nothing.
func (r *Router) HandleReply(ctx context.Context, from core.SessionID, reply ValidateReply) error {
	pending, ok := r.jobs.Lookup(reply.CallbackID)
	if !ok {
		discardedRepliesMetric.Inc()
		r.logger.Debug("discarding reply", zap.String("correlation", reply.CallbackID), zap.String("session", string(from)))
		return fmt.Errorf("reply %s: %w", reply.CallbackID, core.ErrNotFound)
	}

	unlock := r.places.Lock(pending.PlaceID)
	defer unlock()

	job, err := r.jobs.Resolve(reply.CallbackID)
	if err != nil {
		discardedRepliesMetric.Inc()
		return err
	}

	ctx, cancel := r.storeContext(ctx)
	defer cancel()

	if err := r.checkReply(job, reply); err != nil {
		r.logger.Warn("rejected validation reply",
			zap.String("place", job.PlaceID),
			zap.String("correlation", job.CorrelationID),
			zap.String("session", string(from)),
			zap.String("claimed", reply.ValidatorID),
			zap.Error(err),
		)
		r.revertLocked(ctx, job, err)
		return err
	}

	if err := r.store.Complete(ctx, job.PlaceID, reply.Measurement, r.now()); err != nil {
		r.logger.Error("failed to store measurement", zap.String("place", job.PlaceID), zap.Error(err))
		r.revertLocked(ctx, job, err)
		return fmt.Errorf("failed to complete place %s: %w", job.PlaceID, err)
	}

	r.mu.Lock()
	delete(r.lastFailed, job.PlaceID)
	r.mu.Unlock()

	completionsMetric.Inc()
	r.publish(ctx, job, core.StatusProcessing, core.StatusCompleted, nil)
	r.logger.Info("place completed",
		zap.String("place", job.PlaceID),
		zap.String("correlation", job.CorrelationID),
		zap.Stringer("validator", job.Validator),
	)
	return nil
}

func (r *Router) checkReply(job core.ValidationJob, reply ValidateReply) error {
	switch {
	case reply.PlaceID != job.PlaceID:
		return fmt.Errorf("reply names place %q, job is for %q: %w", reply.PlaceID, job.PlaceID, core.ErrMalformedMessage)
	case core.Identity(reply.ValidatorID) != job.Validator:
		return fmt.Errorf("reply from %s, job addressed %s: %w", reply.ValidatorID, job.Validator, core.ErrIdentityMismatch)
	case !r.verifier.Verify(string(job.Validator), signature.ReplyMessage(job.CorrelationID), reply.SignedMessage):
		return core.ErrInvalidSignature
	case !reply.Measurement.Complete():
		return core.ErrIncompleteMeasurement
	}
	return nil
}

// SessionRemoved reverts every job addressed to a departed session. It runs
// synchronously inside Registry.Remove.
func (r *Router) SessionRemoved(session core.Session) {
	ctx := context.Background()
	for _, job := range r.jobs.CancelSession(session.ID) {
		unlock := r.places.Lock(job.PlaceID)
		r.revertLocked(ctx, job, core.ErrValidatorGone)
		unlock()
	}
}

// Sweep reverts every job older than the configured deadline and returns
// how many were reverted.
func (r *Router) Sweep(ctx context.Context, now time.Time) int {
	reverted := 0
	for job := range r.jobs.Expire(now.Add(-r.cfg.JobTimeout)) {
		unlock := r.places.Lock(job.PlaceID)
		r.revertLocked(ctx, job, core.ErrTimeout)
		unlock()
		reverted++
	}
	return reverted
}

// revertLocked returns the job's place to AWAITING_VALIDATOR. The caller
// holds the place lock and has already removed the job from the correlator.
func (r *Router) revertLocked(ctx context.Context, job core.ValidationJob, reason error) {
	if held, ok := r.jobs.Outstanding(job.PlaceID); ok {
		r.logger.Debug("place re-dispatched before revert",
			zap.String("place", job.PlaceID),
			zap.String("correlation", held.CorrelationID),
		)
		return
	}

	r.mu.Lock()
	r.lastFailed[job.PlaceID] = job.Validator
	r.mu.Unlock()

	// the caller's request may already be gone; the place must still revert
	sctx, cancel := r.storeContext(context.WithoutCancel(ctx))
	defer cancel()
	if err := r.store.SetStatus(sctx, job.PlaceID, core.StatusAwaitingValidator, r.now()); err != nil {
		r.logger.Error("failed to revert place, left for reconcile", zap.String("place", job.PlaceID), zap.Error(err))
		return
	}

	revertsMetric.WithLabelValues(revertReason(reason)).Inc()
	r.publish(sctx, job, core.StatusProcessing, core.StatusAwaitingValidator, reason)
	r.logger.Info("place reverted",
		zap.String("place", job.PlaceID),
		zap.String("correlation", job.CorrelationID),
		zap.Stringer("validator", job.Validator),
		zap.String("reason", revertReason(reason)),
	)
}

// Reconcile reverts every PROCESSING place that has no outstanding job.
// Such places are left behind by a restart, which loses the in-memory
// correlator, or by a revert whose store write failed.
func (r *Router) Reconcile(ctx context.Context) (int, error) {
	sctx, cancel := r.storeContext(ctx)
	records, err := r.store.ListByStatus(sctx, core.StatusProcessing)
	cancel()
	if err != nil {
		return 0, fmt.Errorf("failed to list processing places: %w", err)
	}

	reverted := 0
	for _, rec := range records {
		if r.reconcilePlace(ctx, rec.ID) {
			reverted++
		}
	}
	return reverted, nil
}

func (r *Router) reconcilePlace(ctx context.Context, placeID string) bool {
	unlock := r.places.Lock(placeID)
	defer unlock()

	if _, ok := r.jobs.Outstanding(placeID); ok {
		return false
	}

	sctx, cancel := r.storeContext(ctx)
	defer cancel()

	rec, err := r.store.Get(sctx, placeID)
	if err != nil || rec.Status != core.StatusProcessing {
		return false
	}
	if err := r.store.SetStatus(sctx, placeID, core.StatusAwaitingValidator, r.now()); err != nil {
		r.logger.Error("failed to reconcile place", zap.String("place", placeID), zap.Error(err))
		return false
	}

	revertsMetric.WithLabelValues(revertReason(core.ErrJobLost)).Inc()
	r.publish(sctx, core.ValidationJob{PlaceID: placeID}, core.StatusProcessing, core.StatusAwaitingValidator, core.ErrJobLost)
	r.logger.Info("place reverted", zap.String("place", placeID), zap.String("reason", revertReason(core.ErrJobLost)))
	return true
}

func (r *Router) publish(ctx context.Context, job core.ValidationJob, from, to core.Status, reason error) {
	if r.events == nil {
		return
	}
	t := core.Transition{
		PlaceID:       job.PlaceID,
		From:          from,
		To:            to,
		CorrelationID: job.CorrelationID,
		Validator:     job.Validator,
		At:            r.now(),
	}
	if reason != nil {
		t.Reason = reason.Error()
	}
	if err := r.events.PublishTransition(ctx, t); err != nil {
		r.logger.Warn("failed to publish transition", zap.String("place", job.PlaceID), zap.Error(err))
	}
}

func (r *Router) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if r.cfg.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, r.cfg.StoreTimeout)
}

func revertReason(err error) string {
	switch {
	case errors.Is(err, core.ErrTimeout):
		return "timeout"
	case errors.Is(err, core.ErrValidatorGone):
		return "disconnect"
	case errors.Is(err, core.ErrIdentityMismatch):
		return "identity_mismatch"
	case errors.Is(err, core.ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, core.ErrMalformedMessage), errors.Is(err, core.ErrIncompleteMeasurement):
		return "malformed"
	case errors.Is(err, core.ErrJobLost):
		return "orphaned"
	default:
		return "store"
	}
}
