package app

import (
	"fmt"

	"github.com/deskpipe-io/deskpipe/internal/roster"
	"github.com/deskpipe-io/deskpipe/internal/store"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

func ticketCountFilter(agentID string) store.Filter {
	return store.Filter{Assignee: agentID, Status: ticket.StatusResolved}
}

// claimScanDepth bounds how many ASSIGNMENT entries a claim inspects.
const claimScanDepth = 20

// ClaimRequest filters what an agent is willing to pick up.
type ClaimRequest struct {
	AgentID     string `json:"agent_id"`
	Category    string `json:"category"`
	MaxPriority string `json:"max_priority"`
}

// Claim hands the agent the highest-scored matching ticket from the
// ASSIGNMENT queue and moves it to ACTIVE.
func (a *App) Claim(req ClaimRequest) (*ticket.Ticket, error) {
	agent, ok := a.Roster.Get(req.AgentID)
	if !ok {
		return nil, badRequest("claim: unknown agent %q", req.AgentID)
	}

	var category ticket.Category
	if req.Category != "" {
		c, err := ticket.ParseCategory(req.Category)
		if err != nil {
			return nil, badRequest("claim: %v", err)
		}
		category = c
	}
	maxWeight := 0
	if req.MaxPriority != "" {
		p, err := ticket.ParsePriority(req.MaxPriority)
		if err != nil {
			return nil, badRequest("claim: %v", err)
		}
		maxWeight = p.Weight()
	}

	for _, entry := range a.Queues.PeekQueue(ticket.QueueAssignment, claimScanDepth) {
		t, err := a.Repo.Get(entry.TicketID)
		if err != nil {
			a.Logger.Warn("claim: queued ticket not loadable", "ticket_id", entry.TicketID, "error", err)
			continue
		}
		if t.Assignee != "" && t.Assignee != req.AgentID {
			continue
		}
		if category != "" && t.Category != category {
			continue
		}
		if maxWeight > 0 && t.Priority.Weight() > maxWeight {
			continue
		}

		if err := a.activate(t, agent.ID, "claimed"); err != nil {
			return nil, err
		}
		return t, nil
	}
	return nil, ErrNotFound
}

// AssignTo puts a ticket in an agent's hands without the agent pulling
// it. Tickets still upstream of assignment land in ASSIGNMENT; tickets
// already past it only change hands. The agent pulls it into ACTIVE by
// claiming.
func (a *App) AssignTo(ticketID, agentID string) (*ticket.Ticket, error) {
	if _, ok := a.Roster.Get(agentID); !ok {
		return nil, badRequest("assign: unknown agent %q", agentID)
	}
	t, err := a.Repo.Get(ticketID)
	if err != nil {
		return nil, err
	}
	from := t.CurrentQueue
	if err := t.Assign(agentID); err != nil {
		return nil, err
	}
	a.Tracker.Assign(t.ID, agentID)
	a.syncQueue(t, from, "assigned", agentID)
	if err := a.Repo.Save(t); err != nil {
		return nil, fmt.Errorf("app: assign save: %w", err)
	}
	a.Events.TicketAssigned(t, agentID, "assigned")
	a.Logger.Info("ticket assigned", "ticket_id", t.ID, "agent_id", agentID)
	return t, nil
}

// activate assigns t to agentID and moves it into the ACTIVE queue.
func (a *App) activate(t *ticket.Ticket, agentID, reason string) error {
	from := t.CurrentQueue
	if err := t.Assign(agentID); err != nil {
		return err
	}
	if err := t.MoveToQueue(ticket.QueueActive); err != nil {
		return err
	}
	a.Tracker.Assign(t.ID, agentID)
	if !a.Queues.MoveTicket(t.ID, ticket.QueueActive, reason, agentID) {
		a.Queues.Enqueue(t, ticket.QueueActive, reason, agentID)
	}
	if err := a.Repo.Save(t); err != nil {
		return fmt.Errorf("app: %s save: %w", reason, err)
	}
	a.Events.TicketAssigned(t, agentID, reason)
	a.Events.TicketMoved(t, from, ticket.QueueActive, reason)
	a.Logger.Info("ticket activated", "ticket_id", t.ID, "agent_id", agentID, "reason", reason)
	return nil
}

// ReleaseRequest returns a ticket to the pipeline.
type ReleaseRequest struct {
	TicketID string `json:"ticket_id"`
	AgentID  string `json:"agent_id"`
	Retriage bool   `json:"retriage"`
}

// Release gives a ticket back. Only the holding agent may release it.
// With Retriage the classifier's data is wiped so the ticket re-enters
// triage exactly like a fresh one; either way it lands back in INBOX.
func (a *App) Release(req ReleaseRequest) (*ticket.Ticket, error) {
	t, err := a.Repo.Get(req.TicketID)
	if err != nil {
		return nil, err
	}
	if t.Assignee != req.AgentID {
		return nil, ErrForbidden
	}

	from := t.CurrentQueue
	t.Unassign()
	a.Tracker.Unassign(t.ID)
	if req.Retriage {
		t.ClearAIData()
		a.Queues.UpdatePriority(t.ID, t.Priority)
	}

	if err := a.Repo.Save(t); err != nil {
		return nil, fmt.Errorf("app: release save: %w", err)
	}

	reason := "released"
	if req.Retriage {
		reason = "released for re-triage"
	}
	if !a.Queues.MoveTicket(t.ID, ticket.QueueInbox, reason, req.AgentID) {
		a.Queues.Enqueue(t, ticket.QueueInbox, reason, req.AgentID)
	}
	a.Events.TicketMoved(t, from, ticket.QueueInbox, reason)
	a.Logger.Info("ticket released", "ticket_id", t.ID, "agent_id", req.AgentID, "retriage", req.Retriage)
	return t, nil
}

// TransferRequest moves a ticket between agents.
type TransferRequest struct {
	TicketID    string `json:"ticket_id"`
	FromAgentID string `json:"from_agent_id"`
	ToAgentID   string `json:"to_agent_id"`
}

// Transfer hands a ticket from one agent to another. Only the holding
// agent may transfer it.
func (a *App) Transfer(req TransferRequest) (*ticket.Ticket, error) {
	if _, ok := a.Roster.Get(req.ToAgentID); !ok {
		return nil, badRequest("transfer: unknown agent %q", req.ToAgentID)
	}
	t, err := a.Repo.Get(req.TicketID)
	if err != nil {
		return nil, err
	}
	if t.Assignee != req.FromAgentID {
		return nil, ErrForbidden
	}

	if err := t.Assign(req.ToAgentID); err != nil {
		return nil, err
	}
	a.Tracker.Assign(t.ID, req.ToAgentID)
	if err := a.Repo.Save(t); err != nil {
		return nil, fmt.Errorf("app: transfer save: %w", err)
	}
	a.Events.TicketAssigned(t, req.ToAgentID, "transferred from "+req.FromAgentID)
	a.Logger.Info("ticket transferred", "ticket_id", t.ID,
		"from", req.FromAgentID, "to", req.ToAgentID)
	return t, nil
}

// Available lists unassigned tickets waiting in ASSIGNMENT, highest score
// first.
func (a *App) Available() ([]*ticket.Ticket, error) {
	var out []*ticket.Ticket
	for _, entry := range a.Queues.PeekQueue(ticket.QueueAssignment, 0) {
		t, err := a.Repo.Get(entry.TicketID)
		if err != nil {
			continue
		}
		if t.Assignee == "" {
			out = append(out, t)
		}
	}
	return out, nil
}

// MyTickets lists the tickets an agent holds, most urgent first.
func (a *App) MyTickets(agentID string) ([]*ticket.Ticket, error) {
	if _, ok := a.Roster.Get(agentID); !ok {
		return nil, badRequest("my-tickets: unknown agent %q", agentID)
	}
	var out []*ticket.Ticket
	for _, id := range a.Tracker.AgentTickets(agentID) {
		t, err := a.Repo.Get(id)
		if err != nil {
			continue
		}
		out = append(out, t)
	}
	sortByUrgency(out)
	return out, nil
}

// AgentStats describes one agent's current workload.
type AgentStats struct {
	Agent         roster.Agent `json:"agent"`
	ActiveTickets int          `json:"active_tickets"`
	TicketIDs     []string     `json:"ticket_ids"`
	ResolvedTotal int          `json:"resolved_total"`
}

// StatsForAgent reports an agent's load.
func (a *App) StatsForAgent(agentID string) (*AgentStats, error) {
	agent, ok := a.Roster.Get(agentID)
	if !ok {
		return nil, ErrNotFound
	}
	resolved, err := a.Repo.Count(ticketCountFilter(agentID))
	if err != nil {
		return nil, err
	}
	ids := a.Tracker.AgentTickets(agentID)
	return &AgentStats{
		Agent:         agent,
		ActiveTickets: len(ids),
		TicketIDs:     ids,
		ResolvedTotal: resolved,
	}, nil
}

// Agents lists the roster with live load counts.
func (a *App) Agents() []AgentStats {
	agents := a.Roster.All()
	out := make([]AgentStats, 0, len(agents))
	for _, agent := range agents {
		ids := a.Tracker.AgentTickets(agent.ID)
		out = append(out, AgentStats{
			Agent:         agent,
			ActiveTickets: len(ids),
			TicketIDs:     ids,
		})
	}
	return out
}
