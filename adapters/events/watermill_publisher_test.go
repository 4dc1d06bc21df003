package events_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/require"

	"github.com/layer-3/dair/adapters/events"
	"github.com/layer-3/dair/core"
)

func TestPublishTransition(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { require.NoError(t, pubSub.Close()) })

	messages, err := pubSub.Subscribe(ctx, events.TransitionTopic)
	require.NoError(t, err)

	publisher := events.NewWatermillPublisher(pubSub)
	want := core.Transition{
		PlaceID:       "p1",
		From:          core.StatusAwaitingValidator,
		To:            core.StatusProcessing,
		CorrelationID: "c1",
		Validator:     "validator",
		At:            time.Unix(1700000000, 0).UTC(),
	}
	require.NoError(t, publisher.PublishTransition(ctx, want))

	select {
	case msg := <-messages:
		msg.Ack()
		var got core.Transition
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		require.Equal(t, want, got)
	case <-ctx.Done():
		t.Fatal("transition was not published")
	}
}

func TestPublishLogout(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pubSub := gochannel.NewGoChannel(gochannel.Config{}, watermill.NopLogger{})
	t.Cleanup(func() { require.NoError(t, pubSub.Close()) })

	messages, err := pubSub.Subscribe(ctx, events.LogoutTopic)
	require.NoError(t, err)

	require.NoError(t, events.NewWatermillPublisher(pubSub).PublishLogout(ctx, "wallet", "token-1"))

	select {
	case msg := <-messages:
		msg.Ack()
		require.Equal(t, "token-1", msg.UUID)
		var got events.LogoutEvent
		require.NoError(t, json.Unmarshal(msg.Payload, &got))
		require.Equal(t, events.LogoutEvent{Identity: "wallet", TokenID: "token-1"}, got)
	case <-ctx.Done():
		t.Fatal("logout was not published")
	}
}
