package stream

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"session-guard/internal/event"
)

func TestHubBroadcastsBusEvents(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := event.NewBus()
	hub := NewHub(bus)
	go hub.Run(ctx)

	client := hub.Register(ctx)
	require.NotNil(t, client)

	require.Eventually(t, func() bool { return bus.Subscribers() == 1 }, time.Second, 5*time.Millisecond)
	bus.Publish(event.Event{Type: event.TypeRepairFinished, RunID: "run-1"})

	select {
	case raw := <-client.Messages():
		var got event.Event
		require.NoError(t, json.Unmarshal(raw, &got))
		require.Equal(t, event.TypeRepairFinished, got.Type)
		require.Equal(t, "run-1", got.RunID)
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
	}
}

func TestHubClosesClientsOnShutdown(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	hub := NewHub(event.NewBus())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := hub.Register(context.Background())
	require.NotNil(t, client)
	cancel()
	<-done

	_, open := <-client.Messages()
	require.False(t, open)
}

func TestHubUnregister(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(event.NewBus())
	go hub.Run(ctx)

	client := hub.Register(ctx)
	hub.Unregister(client)

	_, open := <-client.Messages()
	require.False(t, open)
}
