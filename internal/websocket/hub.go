package websocket

import (
	"encoding/json"
	"sync"

	"github.com/zerodha/logf"
)

// Hub fans chat events out to connected dashboard clients.
type Hub struct {
	clients    map[*Client]struct{}
	register   chan *Client
	unregister chan *Client
	broadcast  chan ChatEvent
	done       chan struct{}
	stopOnce   sync.Once

	mu  sync.RWMutex
	log logf.Logger
}

// NewHub creates a hub. Call Run in its own goroutine.
func NewHub(log logf.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan ChatEvent, 256),
		done:       make(chan struct{}),
		log:        log,
	}
}

// Run processes registrations and broadcasts until Stop is called.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			n := len(h.clients)
			h.mu.Unlock()
			h.log.Debug("WebSocket client connected", "user_id", c.userID, "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.deliver(ev)

		case <-h.done:
			h.mu.Lock()
			for c := range h.clients {
				delete(h.clients, c)
				close(c.send)
			}
			h.mu.Unlock()
			return
		}
	}
}

// Stop ends Run and disconnects every client.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Register adds c to the hub.
func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
	}
}

// Unregister removes c and closes its send channel.
func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// BroadcastChat queues ev for delivery. It never blocks the caller; events
// are dropped when the queue is full.
func (h *Hub) BroadcastChat(ev ChatEvent) {
	if h == nil {
		return
	}
	select {
	case h.broadcast <- ev:
	default:
		h.log.Warn("WebSocket broadcast queue full, dropping event", "phone", ev.PhoneNumber)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(ev ChatEvent) {
	data, err := json.Marshal(WSMessage{Type: TypeChatMessage, Payload: ev})
	if err != nil {
		h.log.Error("Failed to marshal chat event", "error", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.wants(ev.PhoneNumber) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Slow client, skip
		}
	}
}
