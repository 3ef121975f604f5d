package store

import "sync"

// AssignmentTracker keeps the agent → tickets index used by the
// distribution endpoints. It is an in-memory mirror of the assignee field
// on the stored tickets.
type AssignmentTracker struct {
	mu       sync.Mutex
	byAgent  map[string][]string
	byTicket map[string]string
}

func NewAssignmentTracker() *AssignmentTracker {
	return &AssignmentTracker{
		byAgent:  make(map[string][]string),
		byTicket: make(map[string]string),
	}
}

// Assign records ticketID as held by agentID, replacing any previous
// holder.
func (a *AssignmentTracker) Assign(ticketID, agentID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if prev, ok := a.byTicket[ticketID]; ok {
		a.removeLocked(prev, ticketID)
	}
	a.byTicket[ticketID] = agentID
	a.byAgent[agentID] = append(a.byAgent[agentID], ticketID)
}

// Unassign drops the ticket from whoever holds it.
func (a *AssignmentTracker) Unassign(ticketID string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if agentID, ok := a.byTicket[ticketID]; ok {
		a.removeLocked(agentID, ticketID)
		delete(a.byTicket, ticketID)
	}
}

func (a *AssignmentTracker) removeLocked(agentID, ticketID string) {
	ids := a.byAgent[agentID]
	for i, id := range ids {
		if id == ticketID {
			a.byAgent[agentID] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	if len(a.byAgent[agentID]) == 0 {
		delete(a.byAgent, agentID)
	}
}

// AgentTickets returns a copy of the ticket ids held by agentID.
func (a *AssignmentTracker) AgentTickets(agentID string) []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	ids := a.byAgent[agentID]
	out := make([]string, len(ids))
	copy(out, ids)
	return out
}

// AgentTicketCount returns how many tickets agentID currently holds.
func (a *AssignmentTracker) AgentTicketCount(agentID string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.byAgent[agentID])
}

// TicketAgent returns the agent holding ticketID, or "".
func (a *AssignmentTracker) TicketAgent(ticketID string) string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.byTicket[ticketID]
}

// All returns a snapshot of agent id → held ticket ids.
func (a *AssignmentTracker) All() map[string][]string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string][]string, len(a.byAgent))
	for agent, ids := range a.byAgent {
		cp := make([]string, len(ids))
		copy(cp, ids)
		out[agent] = cp
	}
	return out
}
