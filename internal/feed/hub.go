package feed

import (
	"context"
	"dlob_engine/internal/core"
	"errors"
)

// ErrFeedBackpressure is returned when the WebSocket hub drops a snapshot
var ErrFeedBackpressure = errors.New("websocket broadcast queue full")

// Broadcaster is implemented by liveserver.Server
type Broadcaster interface {
	Publish(market string, book interface{}) bool
}

// HubSink pushes snapshots to WebSocket clients
type HubSink struct {
	server Broadcaster
}

// NewHubSink wraps a live server
func NewHubSink(server Broadcaster) *HubSink {
	return &HubSink{server: server}
}

func (h *HubSink) Name() string { return "websocket" }

func (h *HubSink) Publish(_ context.Context, market string, book *core.L2OrderBook) error {
	if !h.server.Publish(market, book) {
		return ErrFeedBackpressure
	}
	return nil
}
