package source

import (
	"dlob_engine/internal/core"
	"dlob_engine/pkg/websocket"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"
)

var slotSubscribeRequest = map[string]interface{}{
	"jsonrpc": "2.0",
	"id":      1,
	"method":  "slotSubscribe",
}

// SlotSubscriber tracks the latest slot announced on a WebSocket stream.
// CurrentSlot never decreases, even across reconnects.
type SlotSubscriber struct {
	client   *websocket.Client
	slot     atomic.Uint64
	lastSeen atomic.Int64
	maxAge   time.Duration
	logger   core.ILogger
}

// NewSlotSubscriber creates a subscriber for the slot stream at url. maxAge bounds how
// long the stream may stay silent before Check reports it unhealthy; zero disables it.
func NewSlotSubscriber(url string, maxAge time.Duration, logger core.ILogger) *SlotSubscriber {
	s := &SlotSubscriber{
		maxAge: maxAge,
		logger: logger.WithField("component", "slot_subscriber"),
	}
	s.client = websocket.NewClient(url, s.handleMessage, logger)
	s.client.SetOnConnected(func(c *websocket.Client) error {
		return c.Send(slotSubscribeRequest)
	})
	return s
}

// Start connects to the stream in the background
func (s *SlotSubscriber) Start() {
	s.client.Start()
}

// Stop closes the stream
func (s *SlotSubscriber) Stop() {
	s.client.Stop()
}

// CurrentSlot implements core.ISlotSource
func (s *SlotSubscriber) CurrentSlot() uint64 {
	return s.slot.Load()
}

// Observe advances the slot if v is newer
func (s *SlotSubscriber) Observe(v uint64) {
	for {
		cur := s.slot.Load()
		if v <= cur {
			return
		}
		if s.slot.CompareAndSwap(cur, v) {
			s.lastSeen.Store(time.Now().UnixNano())
			return
		}
	}
}

// Check is a health check: the stream must be connected and recently active
func (s *SlotSubscriber) Check() error {
	if !s.client.Connected() {
		return errors.New("slot stream disconnected")
	}
	if s.slot.Load() == 0 {
		return errors.New("no slot received yet")
	}
	if s.maxAge > 0 {
		age := time.Since(time.Unix(0, s.lastSeen.Load()))
		if age > s.maxAge {
			return fmt.Errorf("no slot update for %s", age.Truncate(time.Millisecond))
		}
	}
	return nil
}

func (s *SlotSubscriber) handleMessage(message []byte) {
	var msg slotMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		s.logger.Debug("Ignoring non-slot message", "error", err)
		return
	}
	if v := msg.value(); v > 0 {
		s.Observe(v)
	}
}

// LatestSlot is the slot source used without a slot stream: every fetch asks for the
// upstream's latest state.
type LatestSlot struct{}

func (LatestSlot) CurrentSlot() uint64 { return 0 }
