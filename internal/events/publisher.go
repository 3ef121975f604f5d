// Package events fans ticket lifecycle events out to the realtime bus and
// an optional webhook mirror.
package events

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/deskpipe-io/deskpipe/internal/queue"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

// Event names on the wire.
const (
	EventTicketCreated       = "ticket.created"
	EventTicketUpdated       = "ticket.updated"
	EventTicketMoved         = "ticket.moved"
	EventTicketAssigned      = "ticket.assigned"
	EventTicketTriagePending = "ticket.triage_pending"
	EventTicketResolved      = "ticket.resolved"
	EventTicketClosed        = "ticket.closed"
	EventQueueStats          = "queue.stats"
)

// Broadcaster delivers an event to subscribers of the given channels and
// returns how many clients received it.
type Broadcaster interface {
	BroadcastEvent(event string, data map[string]any, channels []string) int
}

// Publisher builds event payloads and channel sets from ticket state and
// hands them to the bus. When a mirror URL is configured, every event is
// also POSTed there on a short timeout.
type Publisher struct {
	bus       Broadcaster
	mirrorURL string
	client    *http.Client
	logger    *slog.Logger
}

func NewPublisher(bus Broadcaster, mirrorURL string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		bus:       bus,
		mirrorURL: mirrorURL,
		client:    &http.Client{Timeout: 5 * time.Second},
		logger:    logger,
	}
}

// channelsFor computes the standard channel set for a ticket event.
func channelsFor(t *ticket.Ticket, extra ...string) []string {
	chans := []string{"all", "tickets.all", "ticket." + t.ID, "queue." + string(t.CurrentQueue)}
	return append(chans, extra...)
}

func (p *Publisher) TicketCreated(t *ticket.Ticket, position int) {
	p.publish(EventTicketCreated, map[string]any{
		"ticket_id": t.ID,
		"source":    string(t.Source),
		"queue":     string(t.CurrentQueue),
		"priority":  string(t.Priority),
		"title":     t.EffectiveTitle(),
		"position":  position,
	}, channelsFor(t))
}

func (p *Publisher) TicketUpdated(t *ticket.Ticket, changed []string) {
	p.publish(EventTicketUpdated, map[string]any{
		"ticket_id": t.ID,
		"status":    string(t.Status),
		"queue":     string(t.CurrentQueue),
		"priority":  string(t.Priority),
		"changed":   changed,
	}, channelsFor(t))
}

func (p *Publisher) TicketMoved(t *ticket.Ticket, from, to ticket.Queue, reason string) {
	p.publish(EventTicketMoved, map[string]any{
		"ticket_id":  t.ID,
		"from_queue": string(from),
		"to_queue":   string(to),
		"reason":     reason,
	}, channelsFor(t, "queue."+string(from)))
}

func (p *Publisher) TicketAssigned(t *ticket.Ticket, agentID, reason string) {
	p.publish(EventTicketAssigned, map[string]any{
		"ticket_id": t.ID,
		"agent_id":  agentID,
		"queue":     string(t.CurrentQueue),
		"reason":    reason,
	}, channelsFor(t, "agent."+agentID))
}

func (p *Publisher) TicketTriagePending(t *ticket.Ticket, confidence float64, reason string) {
	p.publish(EventTicketTriagePending, map[string]any{
		"ticket_id":  t.ID,
		"confidence": confidence,
		"reason":     reason,
	}, channelsFor(t))
}

func (p *Publisher) TicketResolved(t *ticket.Ticket) {
	data := map[string]any{
		"ticket_id": t.ID,
		"action":    string(t.ResolutionAction),
	}
	if t.Assignee != "" {
		data["assignee"] = t.Assignee
	}
	chans := channelsFor(t)
	if t.Assignee != "" {
		chans = append(chans, "agent."+t.Assignee)
	}
	p.publish(EventTicketResolved, data, chans)
}

func (p *Publisher) TicketClosed(t *ticket.Ticket) {
	p.publish(EventTicketClosed, map[string]any{
		"ticket_id": t.ID,
		"action":    string(t.ResolutionAction),
	}, channelsFor(t))
}

// QueueStats pushes a stats snapshot to dashboard subscribers.
func (p *Publisher) QueueStats(stats []queue.Stats) {
	byQueue := make(map[string]any, len(stats))
	for _, s := range stats {
		byQueue[string(s.Queue)] = s
	}
	p.publish(EventQueueStats, map[string]any{"queues": byQueue}, []string{"all", "queues.stats"})
}

func (p *Publisher) publish(event string, data map[string]any, channels []string) {
	if p.bus != nil {
		n := p.bus.BroadcastEvent(event, data, channels)
		p.logger.Debug("event published", "event", event, "recipients", n)
	}
	if p.mirrorURL != "" {
		go p.mirror(event, data)
	}
}

// mirror POSTs the event to the configured webhook. Delivery is best
// effort; failures are logged and never block the pipeline.
func (p *Publisher) mirror(event string, data map[string]any) {
	payload := make(map[string]any, len(data)+1)
	for k, v := range data {
		payload[k] = v
	}
	payload["event"] = event

	body, err := json.Marshal(payload)
	if err != nil {
		p.logger.Error("event mirror encode failed", "event", event, "error", err)
		return
	}
	resp, err := p.client.Post(p.mirrorURL, "application/json", bytes.NewReader(body))
	if err != nil {
		p.logger.Warn("event mirror delivery failed", "event", event, "error", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		p.logger.Warn("event mirror rejected", "event", event,
			"error", fmt.Errorf("status %d", resp.StatusCode))
	}
}
