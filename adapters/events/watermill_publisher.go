package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/layer-3/dair/core"
	"github.com/layer-3/dair/ports"
)

const (
	LogoutTopic     = "dair.logout"
	TransitionTopic = "dair.place.transition"
)

// LogoutEvent represents a logout event
type LogoutEvent struct {
	Identity core.Identity `json:"identity"`
	TokenID  string        `json:"token_id"`
}

// WatermillPublisher implements the EventPublisher interface using Watermill
type WatermillPublisher struct {
	publisher message.Publisher
}

// NewWatermillPublisher creates a new Watermill publisher
func NewWatermillPublisher(publisher message.Publisher) ports.EventPublisher {
	return &WatermillPublisher{publisher: publisher}
}

// PublishLogout publishes a logout event
func (p *WatermillPublisher) PublishLogout(ctx context.Context, identity core.Identity, tokenID string) error {
	return p.publish(ctx, LogoutTopic, tokenID, LogoutEvent{
		Identity: identity,
		TokenID:  tokenID,
	})
}

// PublishTransition publishes a place status change
func (p *WatermillPublisher) PublishTransition(ctx context.Context, t core.Transition) error {
	return p.publish(ctx, TransitionTopic, watermill.NewUUID(), t)
}

func (p *WatermillPublisher) publish(ctx context.Context, topic, id string, event any) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	msg := message.NewMessage(id, payload)
	msg.SetContext(ctx)

	if err := p.publisher.Publish(topic, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}
