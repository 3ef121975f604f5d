package ws

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeConn records everything written to it.
type fakeConn struct {
	mu       sync.Mutex
	messages []any
	failWith error
	closed   bool
}

func (c *fakeConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failWith != nil {
		return c.failWith
	}
	c.messages = append(c.messages, v)
	return nil
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

func (c *fakeConn) last(t *testing.T) map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.messages) == 0 {
		t.Fatal("no messages written")
	}
	m, ok := c.messages[len(c.messages)-1].(map[string]any)
	if !ok {
		t.Fatalf("message type %T", c.messages[len(c.messages)-1])
	}
	return m
}

func TestConnectConfirmsAndAutoSubscribes(t *testing.T) {
	hub := NewHub(nil)
	conn := &fakeConn{}
	hub.Connect("c1", conn)

	msg := conn.last(t)
	if msg["event"] != "subscribed" || msg["channel"] != "all" || msg["client_id"] != "c1" {
		t.Errorf("confirmation = %v", msg)
	}
	// "all" is implicit.
	if n := hub.BroadcastToChannel("all", map[string]any{"x": 1}); n != 1 {
		t.Errorf("broadcast to all reached %d clients", n)
	}
}

func TestSubscribeUnsubscribe(t *testing.T) {
	hub := NewHub(nil)
	conn := &fakeConn{}
	hub.Connect("c1", conn)

	if !hub.Subscribe("c1", "ticket.t1") {
		t.Fatal("subscribe failed")
	}
	if msg := conn.last(t); msg["event"] != "subscribed" || msg["channel"] != "ticket.t1" {
		t.Errorf("confirmation = %v", msg)
	}
	if n := hub.BroadcastToChannel("ticket.t1", "hello"); n != 1 {
		t.Errorf("reached %d", n)
	}

	hub.Unsubscribe("c1", "ticket.t1")
	if msg := conn.last(t); msg["event"] != "unsubscribed" || msg["channel"] != "ticket.t1" {
		t.Errorf("confirmation = %v", msg)
	}
	if n := hub.BroadcastToChannel("ticket.t1", "hello"); n != 0 {
		t.Errorf("reached %d after unsubscribe", n)
	}

	if hub.Subscribe("ghost", "all") {
		t.Error("subscribe for unknown client succeeded")
	}
}

func TestBroadcastEventDedups(t *testing.T) {
	hub := NewHub(nil)
	conn := &fakeConn{}
	hub.Connect("c1", conn)
	hub.Subscribe("c1", "tickets.all")
	hub.Subscribe("c1", "queue.INBOX")
	before := conn.count()

	n := hub.BroadcastEvent("ticket.created", map[string]any{"ticket_id": "t1"},
		[]string{"all", "tickets.all", "queue.INBOX"})
	if n != 1 {
		t.Errorf("recipients = %d, want 1", n)
	}
	if got := conn.count() - before; got != 1 {
		t.Errorf("client received %d copies", got)
	}
	msg := conn.last(t)
	if msg["event"] != "ticket.created" {
		t.Errorf("envelope = %v", msg)
	}
	if _, ok := msg["timestamp"].(string); !ok {
		t.Errorf("timestamp missing: %v", msg)
	}
}

func TestBroadcastSweepsFailedClients(t *testing.T) {
	hub := NewHub(nil)
	good := &fakeConn{}
	bad := &fakeConn{failWith: errors.New("broken pipe")}
	hub.Connect("good", good)
	hub.Connect("bad", bad)

	n := hub.BroadcastToChannel("all", "ping")
	if n != 1 {
		t.Errorf("recipients = %d, want 1", n)
	}
	if !bad.closed {
		t.Error("failed client not closed")
	}
	stats := hub.Stats()
	if stats["total_connections"] != 1 {
		t.Errorf("stats = %v", stats)
	}
}

func TestConnectDisplacesExisting(t *testing.T) {
	hub := NewHub(nil)
	first := &fakeConn{}
	second := &fakeConn{}
	hub.Connect("c1", first)
	hub.Connect("c1", second)

	if !first.closed {
		t.Error("displaced connection not closed")
	}
	if hub.Stats()["total_connections"] != 1 {
		t.Errorf("stats = %v", hub.Stats())
	}
}

func TestStats(t *testing.T) {
	hub := NewHub(nil)
	a := &fakeConn{}
	b := &fakeConn{}
	hub.Connect("a", a)
	hub.Connect("b", b)
	hub.Subscribe("a", "queue.TRIAGE")
	hub.Subscribe("b", "queue.TRIAGE")
	hub.Subscribe("b", "agent.user-1")

	stats := hub.Stats()
	channels := stats["channels"].(map[string]int)
	if channels["all"] != 2 || channels["queue.TRIAGE"] != 2 || channels["agent.user-1"] != 1 {
		t.Errorf("channels = %v", channels)
	}
}

func TestSendToMissingClient(t *testing.T) {
	hub := NewHub(nil)
	if hub.Send("nobody", "hi") {
		t.Error("send to missing client succeeded")
	}
}
