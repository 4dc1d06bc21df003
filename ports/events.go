package ports

import (
	"context"

	"github.com/layer-3/dair/core"
)

// EventPublisher publishes events to notify other instances
type EventPublisher interface {
	PublishLogout(ctx context.Context, identity core.Identity, tokenID string) error
	PublishTransition(ctx context.Context, t core.Transition) error
}
