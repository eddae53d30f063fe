package websocket

import (
	"context"
	"testing"
	"time"

	"FleetRiskAPI/internal/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(func() {
		cancel()
		<-hub.done
	})
	return hub
}

func connect(t *testing.T, hub *Hub, userID string, buffer int) *Client {
	t.Helper()
	c := &Client{hub: hub, userID: userID, send: make(chan Message, buffer)}
	before := hub.ClientCount()
	require.True(t, hub.enqueue(hub.register, c))
	require.Eventually(t, func() bool { return hub.ClientCount() == before+1 }, time.Second, 5*time.Millisecond)
	return c
}

func TestHub_SendToUser(t *testing.T) {
	hub := startHub(t)
	a1 := connect(t, hub, "alice", 4)
	a2 := connect(t, hub, "alice", 4)
	b := connect(t, hub, "bob", 4)

	require.NoError(t, hub.SendToUser("alice", TypeAlertNotification, map[string]string{"alert_id": "x"}))

	for _, c := range []*Client{a1, a2} {
		select {
		case msg := <-c.send:
			assert.Equal(t, TypeAlertNotification, msg.Type)
		default:
			t.Fatal("expected message for alice session")
		}
	}
	assert.Empty(t, b.send)
}

func TestHub_SendToUserOffline(t *testing.T) {
	hub := startHub(t)
	err := hub.SendToUser("nobody", TypeAlertNotification, nil)
	assert.ErrorIs(t, err, ErrUserOffline)
}

func TestHub_SendToUserSaturated(t *testing.T) {
	hub := startHub(t)
	connect(t, hub, "alice", 1)

	require.NoError(t, hub.SendToUser("alice", TypeAlertNotification, 1))
	err := hub.SendToUser("alice", TypeAlertNotification, 2)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUserOffline)
}

func TestHub_BroadcastAndUnregister(t *testing.T) {
	hub := startHub(t)
	a := connect(t, hub, "alice", 4)
	b := connect(t, hub, "", 4)

	hub.Broadcast(TypeAlertResolved, map[string]string{"alert_id": "x"})

	for _, c := range []*Client{a, b} {
		select {
		case msg := <-c.send:
			assert.Equal(t, TypeAlertResolved, msg.Type)
		case <-time.After(time.Second):
			t.Fatal("broadcast not delivered")
		}
	}

	require.True(t, hub.enqueue(hub.unregister, a))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	_, open := <-a.send
	assert.False(t, open)
}

func TestHub_EnqueueAfterShutdown(t *testing.T) {
	hub := NewHub(logger.Discard())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	<-hub.done

	assert.False(t, hub.enqueue(hub.register, &Client{hub: hub, send: make(chan Message, 1)}))
}
