package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/ports"
)

// Config holds the coordinator tunables.
type Config struct {
	JobTimeout         time.Duration // deadline for a validator reply
	SweepInterval      time.Duration // how often expired jobs are swept
	StoreTimeout       time.Duration // bound on a single place store call
	ChallengeCacheSize int           // recent signup attempts remembered locally
}

func DefaultConfig() Config {
	return Config{
		JobTimeout:         2 * time.Minute,
		SweepInterval:      15 * time.Second,
		StoreTimeout:       5 * time.Second,
		ChallengeCacheSize: 1 << 16,
	}
}

// Coordinator owns the session registry, the correlator and the router and
// turns inbound envelopes into state transitions on them.
type Coordinator struct {
	cfg        Config
	logger     *zap.Logger
	verifier   ports.Verifier
	registry   *Registry
	jobs       *Correlator
	challenges *ChallengeBook
	router     *Router
}

func New(
	cfg Config,
	verifier ports.Verifier,
	store ports.PlaceStore,
	consumed ports.ChallengeStore,
	events ports.EventPublisher,
	logger *zap.Logger,
) (*Coordinator, error) {
	challenges, err := NewChallengeBook(cfg.ChallengeCacheSize, consumed)
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge book: %w", err)
	}
	registry := NewRegistry()
	jobs := NewCorrelator()
	logger = logger.Named("coordinator")

	return &Coordinator{
		cfg:        cfg,
		logger:     logger,
		verifier:   verifier,
		registry:   registry,
		jobs:       jobs,
		challenges: challenges,
		router:     NewRouter(cfg, registry, jobs, verifier, store, events, logger),
	}, nil
}

func (c *Coordinator) Registry() *Registry {
	return c.registry
}

func (c *Coordinator) Correlator() *Correlator {
	return c.jobs
}

func (c *Coordinator) Router() *Router {
	return c.router
}

// Connect admits a new unauthenticated connection.
func (c *Coordinator) Connect(conn Conn) core.SessionID {
	id := c.registry.Admit(conn)
	sessionsMetric.Inc()
	c.logger.Debug("session admitted", zap.String("session", string(id)))
	return id
}

// Disconnect removes the session; its outstanding jobs revert immediately.
func (c *Coordinator) Disconnect(id core.SessionID) {
	if !c.registry.Remove(id) {
		return
	}
	sessionsMetric.Dec()
	c.logger.Debug("session removed", zap.String("session", string(id)))
}

// DispatchPending runs a dispatch cycle, e.g. after a place was created.
func (c *Coordinator) DispatchPending(ctx context.Context) {
	if n, err := c.router.DispatchPending(ctx); err != nil && !errors.Is(err, core.ErrNoValidator) {
		c.logger.Warn("dispatch cycle failed", zap.Error(err))
	} else if n > 0 {
		c.logger.Debug("dispatch cycle", zap.Int("sent", n))
	}
}

// Handle processes one inbound frame from a session. Only undecodable frames
// return an error; protocol violations are logged and otherwise ignored so
// the connection stays open.
func (c *Coordinator) Handle(ctx context.Context, id core.SessionID, raw []byte) error {
	c.registry.Touch(id)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("%w: %v", core.ErrMalformedMessage, err)
	}

	logger := c.logger.With(zap.String("session", string(id)), zap.String("type", env.Type))

	switch env.Type {
	case TypeSignup:
		var req SignupRequest
		if err := decodeData(env, &req); err != nil {
			return err
		}
		if err := c.signup(ctx, id, req); err != nil {
			logger.Warn("signup rejected", zap.String("publicKey", req.PublicKey), zap.Error(err))
		}

	case TypeRequestPlaces:
		var req RequestPlaces
		if err := decodeData(env, &req); err != nil {
			return err
		}
		if err := c.requestPlaces(ctx, id); err != nil {
			logger.Warn("request_places rejected", zap.Error(err))
		}

	case TypeValidate:
		var reply ValidateReply
		if err := decodeData(env, &reply); err != nil {
			return err
		}
		if err := c.validate(ctx, id, reply); err != nil && !errors.Is(err, core.ErrNotFound) {
			logger.Warn("validation reply rejected", zap.String("correlation", reply.CallbackID), zap.Error(err))
		}

	default:
		logger.Warn("ignoring unknown message type")
	}
	return nil
}

func decodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s without data: %w", env.Type, core.ErrMalformedMessage)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s payload: %w: %v", env.Type, core.ErrMalformedMessage, err)
	}
	return nil
}

func (c *Coordinator) signup(ctx context.Context, id core.SessionID, req SignupRequest) error {
	session, ok := c.registry.Get(id)
	if !ok {
		return core.ErrSessionNotFound
	}
	if session.Authenticated() {
		signupsMetric.WithLabelValues("already_authenticated").Inc()
		return fmt.Errorf("session is %s: %w", session.Identity, core.ErrAlreadyAuthenticated)
	}

	challenge, err := c.challenges.Begin(req.CallbackID, req.PublicKey)
	if err != nil {
		signupsMetric.WithLabelValues("replayed").Inc()
		return err
	}
	if !c.verifier.Verify(req.PublicKey, challenge.Message, req.SignedMessage) {
		signupsMetric.WithLabelValues("invalid_signature").Inc()
		return core.ErrInvalidSignature
	}
	identity, err := core.ParseIdentity(req.PublicKey)
	if err != nil {
		signupsMetric.WithLabelValues("invalid_signature").Inc()
		return err
	}
	if err := c.challenges.Commit(ctx, challenge); err != nil {
		signupsMetric.WithLabelValues("replayed").Inc()
		return err
	}
	if err := c.registry.Authenticate(id, identity); err != nil {
		signupsMetric.WithLabelValues("already_authenticated").Inc()
		return err
	}
	signupsMetric.WithLabelValues("ok").Inc()

	ack, _ := NewEnvelope(TypeSignup, nil)
	if err := c.registry.Send(id, ack); err != nil {
		return fmt.Errorf("failed to ack signup: %w", err)
	}
	c.logger.Info("validator signed up", zap.String("session", string(id)), zap.Stringer("validator", identity))

	c.DispatchPending(ctx)
	return nil
}

func (c *Coordinator) requestPlaces(ctx context.Context, id core.SessionID) error {
	session, ok := c.registry.Get(id)
	if !ok {
		return core.ErrSessionNotFound
	}
	if !session.Authenticated() {
		return core.ErrNotAuthenticated
	}
	_, err := c.router.RequestPlaces(ctx, id)
	return err
}

func (c *Coordinator) validate(ctx context.Context, id core.SessionID, reply ValidateReply) error {
	session, ok := c.registry.Get(id)
	if !ok {
		return core.ErrSessionNotFound
	}
	if !session.Authenticated() {
		return core.ErrNotAuthenticated
	}
	return c.router.HandleReply(ctx, id, reply)
}

// Run reconciles orphaned places once, then every SweepInterval sweeps
// expired jobs, reconciles again and retries places awaiting a validator,
// until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	c.reconcile(ctx)

	ticker := time.NewTicker(c.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if n := c.router.Sweep(ctx, now); n > 0 {
				c.logger.Info("expired validation jobs", zap.Int("count", n))
			}
			c.reconcile(ctx)
			c.DispatchPending(ctx)
		}
	}
}

func (c *Coordinator) reconcile(ctx context.Context) {
	n, err := c.router.Reconcile(ctx)
	if err != nil {
		c.logger.Warn("reconcile failed", zap.Error(err))
		return
	}
	if n > 0 {
		c.logger.Info("reverted orphaned places", zap.Int("count", n))
	}
}
