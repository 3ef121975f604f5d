// Package ws is the realtime fan-out bus. Clients connect over WebSocket,
// subscribe to channels, and receive ticket lifecycle events as they
// happen.
package ws

import (
	"log/slog"
	"sync"
	"time"
)

const writeWait = 10 * time.Second

// Conn is the transport a client speaks. *websocket.Conn satisfies it;
// tests supply fakes.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

type client struct {
	id          string
	conn        Conn
	writeMu     sync.Mutex
	subs        map[string]bool
	connectedAt time.Time
}

func (c *client) send(msg any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// Hub tracks connected clients and their channel subscriptions.
type Hub struct {
	mu      sync.Mutex
	clients map[string]*client
	logger  *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{clients: make(map[string]*client), logger: logger}
}

// Connect registers a client. Every client is auto-subscribed to "all"
// and receives the subscription confirmation for it. An existing client
// with the same id is displaced.
func (h *Hub) Connect(id string, conn Conn) {
	c := &client{
		id:          id,
		conn:        conn,
		subs:        map[string]bool{"all": true},
		connectedAt: time.Now().UTC(),
	}

	h.mu.Lock()
	if old, ok := h.clients[id]; ok {
		old.conn.Close()
	}
	h.clients[id] = c
	h.mu.Unlock()

	c.send(map[string]any{"event": "subscribed", "channel": "all", "client_id": id})
	h.logger.Info("ws client connected", "client_id", id)
}

// Disconnect removes a client and closes its transport.
func (h *Hub) Disconnect(id string) {
	h.mu.Lock()
	c, ok := h.clients[id]
	if ok {
		delete(h.clients, id)
	}
	h.mu.Unlock()
	if ok {
		c.conn.Close()
		h.logger.Info("ws client disconnected", "client_id", id)
	}
}

// Subscribe adds the client to a channel and confirms. Subscribing twice
// is a no-op beyond the confirmation.
func (h *Hub) Subscribe(clientID, channel string) bool {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		c.subs[channel] = true
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	c.send(map[string]any{"event": "subscribed", "channel": channel})
	return true
}

// Unsubscribe removes the client from a channel and confirms.
func (h *Hub) Unsubscribe(clientID, channel string) bool {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if ok {
		delete(c.subs, channel)
	}
	h.mu.Unlock()
	if !ok {
		return false
	}
	c.send(map[string]any{"event": "unsubscribed", "channel": channel})
	return true
}

// Send delivers a message to one client.
func (h *Hub) Send(clientID string, msg any) bool {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	h.mu.Unlock()
	if !ok {
		return false
	}
	if err := c.send(msg); err != nil {
		h.logger.Warn("ws send failed", "client_id", clientID, "error", err)
		h.Disconnect(clientID)
		return false
	}
	return true
}

// BroadcastToChannel delivers msg to every subscriber of channel and
// returns the recipient count. Clients whose writes fail are dropped
// after the sweep.
func (h *Hub) BroadcastToChannel(channel string, msg any) int {
	h.mu.Lock()
	var targets []*client
	for _, c := range h.clients {
		if c.subs[channel] {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	var failed []string
	sent := 0
	for _, c := range targets {
		if err := c.send(msg); err != nil {
			failed = append(failed, c.id)
			continue
		}
		sent++
	}
	for _, id := range failed {
		h.logger.Warn("ws broadcast write failed", "client_id", id)
		h.Disconnect(id)
	}
	return sent
}

// BroadcastEvent wraps an event in the standard envelope and delivers it
// to the union of subscribers across channels. Each client receives the
// event at most once even when subscribed to several of the channels.
func (h *Hub) BroadcastEvent(event string, data map[string]any, channels []string) int {
	msg := map[string]any{
		"event":     event,
		"data":      data,
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}

	h.mu.Lock()
	seen := make(map[string]*client)
	for _, c := range h.clients {
		for _, ch := range channels {
			if c.subs[ch] {
				seen[c.id] = c
				break
			}
		}
	}
	h.mu.Unlock()

	var failed []string
	sent := 0
	for _, c := range seen {
		if err := c.send(msg); err != nil {
			failed = append(failed, c.id)
			continue
		}
		sent++
	}
	for _, id := range failed {
		h.logger.Warn("ws event write failed", "client_id", id, "event", event)
		h.Disconnect(id)
	}
	return sent
}

// Stats reports connection counts per channel.
func (h *Hub) Stats() map[string]any {
	h.mu.Lock()
	defer h.mu.Unlock()
	perChannel := make(map[string]int)
	for _, c := range h.clients {
		for ch := range c.subs {
			perChannel[ch]++
		}
	}
	return map[string]any{
		"total_connections": len(h.clients),
		"channels":          perChannel,
	}
}
