package ws

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"fogmask/internal/domain"
)

func TestPublishSkipsStalledClient(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(ctx, nil, zap.NewNop())
	// No write loop runs for these clients, so nothing drains their queues.
	stalled := newClient(ctx, nil, "stalled", "", "scene-1", hub)
	other := newClient(ctx, nil, "other", "", "scene-1", hub)
	hub.register(stalled)
	hub.register(other)
	require.Equal(t, 2, hub.Clients("scene-1"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < sendQueue+10; i++ {
			hub.Publish(domain.Event{Type: domain.EventHistory, SceneID: "scene-1"})
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("publish blocked on a stalled client")
	}

	assert.Len(t, stalled.send, sendQueue)
	assert.Len(t, other.send, sendQueue)
	assert.ErrorIs(t, stalled.SendEvent(domain.Event{SceneID: "scene-1"}), errQueueFull)
}

func TestPublishQueuesEventFrames(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := NewHub(ctx, nil, zap.NewNop())
	c := newClient(ctx, nil, "c1", "", "scene-1", hub)
	hub.register(c)

	hub.Publish(domain.Event{Type: domain.EventHistory, SceneID: "scene-1"})
	hub.Publish(domain.Event{Type: domain.EventHistory, SceneID: "scene-2"})

	require.Len(t, c.send, 1)
	var msg Message
	require.NoError(t, json.Unmarshal(<-c.send, &msg))
	assert.Equal(t, MessageEvent, msg.Type)
	require.NotNil(t, msg.Event)
	assert.Equal(t, domain.EventHistory, msg.Event.Type)
}
