// Package store persists tickets and tracks agent assignments.
package store

import (
	"errors"
	"sort"
	"sync"

	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

// ErrNotFound is returned when a ticket id has no stored ticket.
var ErrNotFound = errors.New("store: ticket not found")

// Filter narrows Find results. Zero-value fields match everything.
type Filter struct {
	Status   ticket.Status
	Queue    ticket.Queue
	Assignee string
	Priority ticket.Priority
	Category ticket.Category
	Source   ticket.Source
	Limit    int
	Offset   int
}

func (f Filter) matches(t *ticket.Ticket) bool {
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.Queue != "" && t.CurrentQueue != f.Queue {
		return false
	}
	if f.Assignee != "" && t.Assignee != f.Assignee {
		return false
	}
	if f.Priority != "" && t.Priority != f.Priority {
		return false
	}
	if f.Category != "" && t.Category != f.Category {
		return false
	}
	if f.Source != "" && t.Source != f.Source {
		return false
	}
	return true
}

// Repository stores tickets. Implementations must return copies that are
// safe for the caller to mutate and pass back through Save.
type Repository interface {
	Save(t *ticket.Ticket) error
	Get(id string) (*ticket.Ticket, error)
	Delete(id string) error
	// Find returns tickets matching f, newest first.
	Find(f Filter) ([]*ticket.Ticket, error)
	Count(f Filter) (int, error)
	Close() error
}

// MemoryRepository is an in-process Repository used in tests and for
// ephemeral deployments.
type MemoryRepository struct {
	mu      sync.Mutex
	tickets map[string]*ticket.Ticket
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{tickets: make(map[string]*ticket.Ticket)}
}

// clone copies a ticket deeply enough that mutating the copy's tags,
// auto-responses, or reasoning never touches the stored ticket.
func clone(t *ticket.Ticket) *ticket.Ticket {
	cp := *t
	if t.Tags != nil {
		cp.Tags = append([]string(nil), t.Tags...)
	}
	if t.AutoResponses != nil {
		cp.AutoResponses = append([]string(nil), t.AutoResponses...)
	}
	if t.AIReasoning != nil {
		cp.AIReasoning = make(map[string]any, len(t.AIReasoning))
		for k, v := range t.AIReasoning {
			cp.AIReasoning[k] = v
		}
	}
	return &cp
}

func (r *MemoryRepository) Save(t *ticket.Ticket) error {
	cp := clone(t)
	r.mu.Lock()
	r.tickets[t.ID] = cp
	r.mu.Unlock()
	return nil
}

func (r *MemoryRepository) Get(id string) (*ticket.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tickets[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(t), nil
}

func (r *MemoryRepository) Delete(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tickets[id]; !ok {
		return ErrNotFound
	}
	delete(r.tickets, id)
	return nil
}

func (r *MemoryRepository) Find(f Filter) ([]*ticket.Ticket, error) {
	r.mu.Lock()
	var matched []*ticket.Ticket
	for _, t := range r.tickets {
		if f.matches(t) {
			matched = append(matched, clone(t))
		}
	}
	r.mu.Unlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	return page(matched, f.Offset, f.Limit), nil
}

func (r *MemoryRepository) Count(f Filter) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.tickets {
		if f.matches(t) {
			n++
		}
	}
	return n, nil
}

func (r *MemoryRepository) Close() error { return nil }

func page(ts []*ticket.Ticket, offset, limit int) []*ticket.Ticket {
	if offset > 0 {
		if offset >= len(ts) {
			return nil
		}
		ts = ts[offset:]
	}
	if limit > 0 && len(ts) > limit {
		ts = ts[:limit]
	}
	return ts
}
