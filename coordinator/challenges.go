package coordinator

import (
	"context"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/layer-3/dair/adapters/signature"
	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/ports"
)

// ChallengeBook hands out one-shot signup challenges.
//
// Begin marks a challenge used in a bounded local cache whatever the
// verification outcome, so a session cannot retry the same challenge.
// Commit records a verified challenge in the durable store; that record
// never expires and is what refuses a replayed signature after eviction
// or a restart.
type ChallengeBook struct {
	recent *lru.Cache
	store  ports.ChallengeStore
	now    func() time.Time
}

func NewChallengeBook(size int, store ports.ChallengeStore) (*ChallengeBook, error) {
	cache, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &ChallengeBook{recent: cache, store: store, now: time.Now}, nil
}

// Begin creates the challenge for a signup attempt.
func (b *ChallengeBook) Begin(callbackID, publicKey string) (core.Challenge, error) {
	if callbackID == "" {
		return core.Challenge{}, fmt.Errorf("empty callback id: %w", core.ErrMalformedMessage)
	}
	ch := core.Challenge{
		CorrelationID: callbackID,
		Message:       signature.SignupMessage(callbackID, publicKey),
		IssuedAt:      b.now(),
	}
	if seen, _ := b.recent.ContainsOrAdd(callbackID, ch.IssuedAt); seen {
		return core.Challenge{}, fmt.Errorf("callback %s: %w", callbackID, core.ErrChallengeReused)
	}
	return ch, nil
}

// Commit consumes a verified challenge for good.
func (b *ChallengeBook) Commit(ctx context.Context, ch core.Challenge) error {
	first, err := b.store.ConsumeChallenge(ctx, ch.CorrelationID, ch.IssuedAt)
	if err != nil {
		return err
	}
	if !first {
		return fmt.Errorf("callback %s: %w", ch.CorrelationID, core.ErrChallengeReused)
	}
	return nil
}
