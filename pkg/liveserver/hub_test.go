package liveserver

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runHub(t *testing.T) *Hub {
	t.Helper()
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub
}

func receive(t *testing.T, client *Client) (Message, bool) {
	t.Helper()
	select {
	case msg := <-client.GetSendChan():
		return msg, true
	case <-time.After(100 * time.Millisecond):
		return Message{}, false
	}
}

func TestHubRegisterUnregister(t *testing.T) {
	hub := runHub(t)

	client := NewClient("test-1")
	hub.Register(client)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	hub.Unregister(client)
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)

	_, ok := <-client.GetSendChan()
	assert.False(t, ok, "unregistered client should be closed")
}

func TestHubBroadcastToMultipleClients(t *testing.T) {
	hub := runHub(t)

	clients := []*Client{NewClient("a"), NewClient("b"), NewClient("c")}
	for _, c := range clients {
		hub.Register(c)
	}
	require.Eventually(t, func() bool { return hub.ClientCount() == 3 }, time.Second, 5*time.Millisecond)

	msg := NewL2Message("SOL-PERP", map[string]interface{}{"slot": 42})
	assert.True(t, hub.Broadcast(msg))

	var wg sync.WaitGroup
	for _, c := range clients {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			received, ok := receive(t, c)
			assert.True(t, ok, "client %s did not receive message", c.ID())
			assert.Equal(t, msg, received)
		}(c)
	}
	wg.Wait()
}

func TestHubMarketFilter(t *testing.T) {
	hub := runHub(t)

	perpOnly := NewClient("perp")
	perpOnly.Subscribe("sol-perp")
	everything := NewClient("all")
	hub.Register(perpOnly)
	hub.Register(everything)
	require.Eventually(t, func() bool { return hub.ClientCount() == 2 }, time.Second, 5*time.Millisecond)

	hub.Broadcast(NewL2Message("SOL", "spot book"))
	hub.Broadcast(NewL2Message("SOL-PERP", "perp book"))

	msg, ok := receive(t, perpOnly)
	require.True(t, ok)
	assert.Equal(t, "SOL-PERP", msg.Market)

	msg, ok = receive(t, everything)
	require.True(t, ok)
	assert.Equal(t, "SOL", msg.Market)
	msg, ok = receive(t, everything)
	require.True(t, ok)
	assert.Equal(t, "SOL-PERP", msg.Market)

	perpOnly.Unsubscribe("SOL-PERP")
	assert.True(t, perpOnly.Wants("SOL"))
}

func TestHubDropsSlowClient(t *testing.T) {
	hub := runHub(t)

	slow := NewClient("slow")
	hub.Register(slow)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	// the client buffer holds 256 frames; nobody reads it
	for i := 0; i < 300; i++ {
		hub.Broadcast(NewL2Message("SOL-PERP", i))
		time.Sleep(100 * time.Microsecond)
	}
	assert.Eventually(t, func() bool { return hub.ClientCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestHubShutdownClosesClients(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(done)
	}()

	client := NewClient("test-1")
	hub.Register(client)
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
	assert.Equal(t, 0, hub.ClientCount())

	// calls after shutdown return instead of blocking
	late := NewClient("late")
	hub.Register(late)
	hub.Unregister(late)
	assert.False(t, late.Send(Message{}))
}

func TestClientSendAfterClose(t *testing.T) {
	client := NewClient("test-1")
	client.Close()
	client.Close()
	assert.False(t, client.Send(Message{Type: TypeL2}))
}
