package api

import (
	"sync"

	"websentry/internal/models"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Hub fans agent events out to websocket subscribers. Slow subscribers are
// dropped rather than allowed to stall the publishers.
type Hub struct {
	logger zerolog.Logger

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	send chan models.AgentEvent
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "EventHub").Logger(),
		clients: make(map[*client]struct{}),
	}
}

// Publish delivers an event to every connected subscriber.
func (h *Hub) Publish(event models.AgentEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- event:
		default:
			h.logger.Warn().Msg("Subscriber send buffer full, dropping connection")
			h.dropLocked(c)
		}
	}
}

// Subscribers reports the current connection count.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// attach registers a connection and starts its writer loop.
func (h *Hub) attach(conn *websocket.Conn) {
	c := &client{conn: conn, send: make(chan models.AgentEvent, 16)}

	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(c)
	go h.readLoop(c)
}

func (h *Hub) writeLoop(c *client) {
	for event := range c.send {
		if err := c.conn.WriteJSON(event); err != nil {
			h.drop(c)
			return
		}
	}
}

// readLoop drains the connection so close frames are processed; the API has
// no client-to-server messages.
func (h *Hub) readLoop(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropLocked(c)
}

func (h *Hub) dropLocked(c *client) {
	if _, exists := h.clients[c]; !exists {
		return
	}
	delete(h.clients, c)
	close(c.send)
	_ = c.conn.Close()
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		h.dropLocked(c)
	}
}
