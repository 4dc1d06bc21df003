package ports

import (
	"context"
	"time"

	"github.com/layer-3/dair/core"
)

// RevocationStore holds revoked refresh ids and spent sign-in signatures
// until their ttl lapses.
type RevocationStore interface {
	// Revoke marks key revoked for ttl and reports whether it was live
	// before the call. A second Revoke never extends the first.
	Revoke(ctx context.Context, key string, ttl time.Duration) (bool, error)
	IsRevoked(ctx context.Context, key string) (bool, error)
}

// PlaceStore persists place records. The coordinator only issues status
// transitions against it.
type PlaceStore interface {
	Create(ctx context.Context, place core.PlaceRecord) error
	Get(ctx context.Context, id string) (core.PlaceRecord, error)
	List(ctx context.Context, owner core.Identity) ([]core.PlaceRecord, error)
	ListByStatus(ctx context.Context, status core.Status) ([]core.PlaceRecord, error)
	SetStatus(ctx context.Context, id string, status core.Status, at time.Time) error
	Complete(ctx context.Context, id string, m core.Measurement, at time.Time) error
}

// ChallengeStore remembers every signup challenge answered with a valid
// signature. Entries never expire.
type ChallengeStore interface {
	// ConsumeChallenge records id and reports whether this was its first use.
	ConsumeChallenge(ctx context.Context, id string, at time.Time) (bool, error)
}
