package liveserver

import (
	"context"
	"strings"
	"sync"
)

// Client represents a WebSocket client connection
type Client struct {
	id     string
	send   chan Message
	mu     sync.Mutex
	closed bool

	// upper-cased market names; empty means every market
	markets map[string]struct{}
}

// NewClient creates a new client
func NewClient(id string) *Client {
	return &Client{
		id:      id,
		send:    make(chan Message, 256),
		markets: make(map[string]struct{}),
	}
}

// ID returns the client id
func (c *Client) ID() string {
	return c.id
}

// Subscribe narrows the client to the given markets
func (c *Client) Subscribe(markets ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range markets {
		c.markets[strings.ToUpper(m)] = struct{}{}
	}
}

// Unsubscribe removes markets from the client's filter
func (c *Client) Unsubscribe(markets ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, m := range markets {
		delete(c.markets, strings.ToUpper(m))
	}
}

// Wants reports whether a frame for market should reach this client
func (c *Client) Wants(market string) bool {
	if market == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.markets) == 0 {
		return true
	}
	_, ok := c.markets[strings.ToUpper(market)]
	return ok
}

// Send sends a message to the client without blocking. It returns false when the
// client is closed or its buffer is full.
func (c *Client) Send(msg Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// GetSendChan returns the send channel for reading
func (c *Client) GetSendChan() <-chan Message {
	return c.send
}

// Close closes the client
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// Logger is the logging subset the hub and server use
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Warn(msg string, keysAndValues ...interface{})
}

// Hub fans messages out to registered WebSocket clients
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex
	logger     Logger
}

// NewHub creates a new Hub
func NewHub(logger Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				client.Close()
				delete(h.clients, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			if h.logger != nil {
				h.logger.Info("Client registered", "client_id", client.id, "total_clients", total)
			}

		case client := <-h.unregister:
			h.remove(client)

		case message := <-h.broadcast:
			h.mu.RLock()
			clientList := make([]*Client, 0, len(h.clients))
			for client := range h.clients {
				clientList = append(clientList, client)
			}
			h.mu.RUnlock()

			for _, client := range clientList {
				if !client.Wants(message.Market) {
					continue
				}
				if !client.Send(message) {
					// slow or gone; removed inline since the loop owns the map
					h.remove(client)
				}
			}
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	_, ok := h.clients[client]
	if ok {
		delete(h.clients, client)
		client.Close()
	}
	total := len(h.clients)
	h.mu.Unlock()
	if ok && h.logger != nil {
		h.logger.Info("Client unregistered", "client_id", client.id, "total_clients", total)
	}
}

// Register registers a client. After the hub has stopped the client is closed instead.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister unregisters a client
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Broadcast queues a message for every interested client. It never blocks; when the
// queue is full the message is dropped and false is returned.
func (h *Hub) Broadcast(msg Message) bool {
	select {
	case h.broadcast <- msg:
		return true
	default:
		if h.logger != nil {
			h.logger.Warn("Broadcast channel full, dropping message", "type", msg.Type, "market", msg.Market)
		}
		return false
	}
}

// ClientCount returns the current number of connected clients
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
