// Package roster holds the agent directory used for assignment.
package roster

import "sync"

// Agent is a support agent who can hold tickets.
type Agent struct {
	ID     string   `json:"id"`
	Name   string   `json:"name"`
	Status string   `json:"status"`
	Skills []string `json:"skills"`
}

const (
	StatusAvailable = "available"
	StatusAway      = "away"
	StatusOffline   = "offline"
)

// Roster is a static agent directory. Load lives in the assignment
// tracker; the roster only knows who exists and what they can do.
type Roster struct {
	mu     sync.Mutex
	agents map[string]Agent
	order  []string
}

// Default returns the built-in agent directory.
func Default() *Roster {
	return New([]Agent{
		{ID: "user-1", Name: "Alice Chen", Status: StatusAvailable, Skills: []string{"billing", "accounts"}},
		{ID: "user-2", Name: "Bob Martinez", Status: StatusAvailable, Skills: []string{"technical", "api"}},
		{ID: "user-3", Name: "Carol Okafor", Status: StatusAvailable, Skills: []string{"technical", "infrastructure"}},
		{ID: "user-4", Name: "Dan Kowalski", Status: StatusAvailable, Skills: []string{"bugs", "coding"}},
		{ID: "user-5", Name: "Eve Tanaka", Status: StatusAvailable, Skills: []string{"features", "product"}},
		{ID: "user-6", Name: "Frank Osei", Status: StatusAway, Skills: []string{"billing", "admin"}},
		{ID: "user-7", Name: "Grace Lindqvist", Status: StatusAvailable, Skills: []string{"general", "escalations"}},
	})
}

func New(agents []Agent) *Roster {
	r := &Roster{agents: make(map[string]Agent, len(agents))}
	for _, a := range agents {
		r.agents[a.ID] = a
		r.order = append(r.order, a.ID)
	}
	return r
}

// Get returns the agent with the given id.
func (r *Roster) Get(id string) (Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.agents[id]
	return a, ok
}

// All returns every agent in registration order.
func (r *Roster) All() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.agents[id])
	}
	return out
}

// Available returns agents whose status is available, in registration
// order.
func (r *Roster) Available() []Agent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Agent
	for _, id := range r.order {
		if a := r.agents[id]; a.Status == StatusAvailable {
			out = append(out, a)
		}
	}
	return out
}

// SetStatus updates an agent's availability. Unknown ids are ignored.
func (r *Roster) SetStatus(id, status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a, ok := r.agents[id]; ok {
		a.Status = status
		r.agents[id] = a
	}
}
