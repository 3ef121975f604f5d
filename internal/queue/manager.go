// Package queue implements the five-stage ticket pipeline with priority
// ordering, an audit trail, and wait estimation.
package queue

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

// Entry is a ticket's membership in a queue. Priority and the ticket's
// creation time are captured so the score can be recomputed on each move.
type Entry struct {
	TicketID   string          `json:"ticket_id"`
	Priority   ticket.Priority `json:"priority"`
	CreatedAt  time.Time       `json:"created_at"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	Score      int             `json:"score"`
}

// scoreFor computes the ordering score at enqueue/move time: priority
// dominates, ticket age since creation breaks ties with a 50-point cap so
// old low-priority work cannot outrank urgent work. Range [100, 450].
func scoreFor(p ticket.Priority, createdAt, now time.Time) int {
	age := int(now.Sub(createdAt).Seconds())
	if age < 0 {
		age = 0
	}
	bonus := age / 60
	if bonus > 50 {
		bonus = 50
	}
	return p.Weight()*100 + bonus
}

// AuditEntry records one queue movement.
type AuditEntry struct {
	Time     time.Time     `json:"time"`
	TicketID string        `json:"ticket_id"`
	From     *ticket.Queue `json:"from_queue"`
	To       ticket.Queue  `json:"to_queue"`
	Reason   string        `json:"reason"`
	Actor    string        `json:"actor"`
}

// Stats summarizes one queue. Ages and waits are measured from
// enqueued-at; an empty queue yields all-zero stats.
type Stats struct {
	Queue            ticket.Queue            `json:"queue"`
	Depth            int                     `json:"depth"`
	AvgWaitSeconds   float64                 `json:"avg_wait_seconds"`
	OldestAgeSeconds float64                 `json:"oldest_age_seconds"`
	NewestAgeSeconds float64                 `json:"newest_age_seconds"`
	ByPriority       map[ticket.Priority]int `json:"by_priority"`
}

// perTicketWait is the estimated handling time, per queue position.
var perTicketWait = map[ticket.Queue]time.Duration{
	ticket.QueueInbox:      5 * time.Second,
	ticket.QueueTriage:     30 * time.Second,
	ticket.QueueAssignment: 60 * time.Second,
	ticket.QueueActive:     300 * time.Second,
	ticket.QueueResolution: 60 * time.Second,
}

// InboxHook is invoked whenever a ticket lands in the INBOX queue. It runs
// on its own goroutine, after the manager's lock has been released.
type InboxHook func(ticketID string)

// Manager tracks which queue each ticket is in. A ticket belongs to at
// most one queue at a time.
type Manager struct {
	mu      sync.Mutex
	queues  map[ticket.Queue][]Entry
	index   map[string]ticket.Queue
	audit   []AuditEntry
	onInbox InboxHook
	logger  *slog.Logger
}

func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		queues: make(map[ticket.Queue][]Entry, len(ticket.AllQueues)),
		index:  make(map[string]ticket.Queue),
		logger: logger,
	}
	for _, q := range ticket.AllQueues {
		m.queues[q] = nil
	}
	return m
}

// SetInboxHook installs the hook fired on arrivals into INBOX. Must be
// called before the manager is shared across goroutines.
func (m *Manager) SetInboxHook(h InboxHook) {
	m.onInbox = h
}

// Enqueue adds a ticket to q and returns its 1-based position. A ticket
// already in some queue is moved. Arrival into INBOX fires the inbox hook
// after the lock is released.
func (m *Manager) Enqueue(t *ticket.Ticket, q ticket.Queue, reason, actor string) int {
	m.mu.Lock()
	if prev, ok := m.index[t.ID]; ok {
		m.removeLocked(prev, t.ID)
	}
	now := time.Now().UTC()
	entry := Entry{
		TicketID:   t.ID,
		Priority:   t.Priority,
		CreatedAt:  t.CreatedAt,
		EnqueuedAt: now,
		Score:      scoreFor(t.Priority, t.CreatedAt, now),
	}
	m.queues[q] = append(m.queues[q], entry)
	m.index[t.ID] = q
	pos := len(m.queues[q])
	m.recordLocked(t.ID, nil, q, reason, actor)
	hook := m.hookForLocked(q)
	m.mu.Unlock()

	m.logger.Debug("ticket enqueued", "ticket_id", t.ID, "queue", string(q), "position", pos)
	if hook != nil {
		go hook(t.ID)
	}
	return pos
}

// Dequeue removes and returns the next ticket id from q. With
// priorityBased the highest-scoring entry wins (first-encountered on
// ties); otherwise the most recently enqueued entry is popped.
func (m *Manager) Dequeue(q ticket.Queue, priorityBased bool) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.queues[q]
	if len(entries) == 0 {
		return "", false
	}

	idx := len(entries) - 1
	if priorityBased {
		best := entries[0].Score
		idx = 0
		for i := 1; i < len(entries); i++ {
			if entries[i].Score > best {
				best = entries[i].Score
				idx = i
			}
		}
	}

	id := entries[idx].TicketID
	m.queues[q] = append(entries[:idx], entries[idx+1:]...)
	delete(m.index, id)
	return id, true
}

// MoveTicket relocates a tracked ticket to another queue. It reports false
// and has no side effects when the ticket is in no queue. Arrival into
// INBOX fires the inbox hook.
func (m *Manager) MoveTicket(id string, to ticket.Queue, reason, actor string) bool {
	m.mu.Lock()
	from, ok := m.index[id]
	if !ok {
		m.mu.Unlock()
		return false
	}
	entry := m.takeLocked(from, id)
	entry.EnqueuedAt = time.Now().UTC()
	entry.Score = scoreFor(entry.Priority, entry.CreatedAt, entry.EnqueuedAt)
	m.queues[to] = append(m.queues[to], entry)
	m.index[id] = to
	fromCopy := from
	m.recordLocked(id, &fromCopy, to, reason, actor)
	hook := m.hookForLocked(to)
	m.mu.Unlock()

	m.logger.Debug("ticket moved", "ticket_id", id, "from", string(from), "to", string(to), "reason", reason)
	if hook != nil {
		go hook(id)
	}
	return true
}

// RemoveFromQueue drops a ticket from whatever queue holds it, without an
// audit record. Used when a ticket leaves the pipeline (delete, close).
func (m *Manager) RemoveFromQueue(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.index[id]
	if !ok {
		return false
	}
	m.removeLocked(q, id)
	return true
}

// UpdatePriority refreshes the captured priority of a queued ticket so the
// ordering score follows classifier updates.
func (m *Manager) UpdatePriority(id string, p ticket.Priority) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.index[id]
	if !ok {
		return
	}
	for i := range m.queues[q] {
		if m.queues[q][i].TicketID == id {
			e := &m.queues[q][i]
			e.Priority = p
			e.Score = scoreFor(p, e.CreatedAt, e.EnqueuedAt)
			return
		}
	}
}

// PeekQueue returns up to limit entries of q ordered by descending score,
// without removing anything. limit <= 0 returns all.
func (m *Manager) PeekQueue(q ticket.Queue, limit int) []Entry {
	m.mu.Lock()
	entries := make([]Entry, len(m.queues[q]))
	copy(entries, m.queues[q])
	m.mu.Unlock()

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Position returns the queue holding id and the ticket's 1-based position
// in insertion order.
func (m *Manager) Position(id string) (ticket.Queue, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.index[id]
	if !ok {
		return "", 0, false
	}
	for i, e := range m.queues[q] {
		if e.TicketID == id {
			return q, i + 1, true
		}
	}
	return "", 0, false
}

// TicketQueue returns the queue currently holding id.
func (m *Manager) TicketQueue(id string) (ticket.Queue, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.index[id]
	return q, ok
}

// EstimateWait predicts how long the ticket will sit before being handled,
// based on its position and the queue's per-ticket handling time.
func (m *Manager) EstimateWait(id string) (time.Duration, bool) {
	q, pos, ok := m.Position(id)
	if !ok {
		return 0, false
	}
	return time.Duration(pos) * perTicketWait[q], true
}

// Stats summarizes q. All fields are zero for an empty queue.
func (m *Manager) Stats(q ticket.Queue) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.statsLocked(q)
}

// AllStats summarizes every queue in pipeline order.
func (m *Manager) AllStats() []Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Stats, 0, len(ticket.AllQueues))
	for _, q := range ticket.AllQueues {
		out = append(out, m.statsLocked(q))
	}
	return out
}

func (m *Manager) statsLocked(q ticket.Queue) Stats {
	s := Stats{Queue: q, ByPriority: make(map[ticket.Priority]int)}
	entries := m.queues[q]
	if len(entries) == 0 {
		return s
	}
	now := time.Now().UTC()
	var total float64
	newest := -1.0
	for _, e := range entries {
		s.Depth++
		s.ByPriority[e.Priority]++
		age := now.Sub(e.EnqueuedAt).Seconds()
		if age < 0 {
			age = 0
		}
		total += age
		if age > s.OldestAgeSeconds {
			s.OldestAgeSeconds = age
		}
		if newest < 0 || age < newest {
			newest = age
		}
	}
	s.AvgWaitSeconds = total / float64(s.Depth)
	s.NewestAgeSeconds = newest
	return s
}

// AuditLog returns the most recent movements, oldest first. A non-empty
// ticketID restricts to that ticket; limit <= 0 returns everything.
func (m *Manager) AuditLog(ticketID string, limit int) []AuditEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []AuditEntry
	for _, e := range m.audit {
		if ticketID != "" && e.TicketID != ticketID {
			continue
		}
		out = append(out, e)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func (m *Manager) hookForLocked(q ticket.Queue) InboxHook {
	if q == ticket.QueueInbox {
		return m.onInbox
	}
	return nil
}

func (m *Manager) recordLocked(id string, from *ticket.Queue, to ticket.Queue, reason, actor string) {
	m.audit = append(m.audit, AuditEntry{
		Time:     time.Now().UTC(),
		TicketID: id,
		From:     from,
		To:       to,
		Reason:   reason,
		Actor:    actor,
	})
}

func (m *Manager) removeLocked(q ticket.Queue, id string) {
	m.takeLocked(q, id)
	delete(m.index, id)
}

func (m *Manager) takeLocked(q ticket.Queue, id string) Entry {
	entries := m.queues[q]
	for i, e := range entries {
		if e.TicketID == id {
			m.queues[q] = append(entries[:i], entries[i+1:]...)
			return e
		}
	}
	return Entry{TicketID: id}
}
