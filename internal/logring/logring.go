// Package logring keeps recent log entries in memory so the API can serve
// them without a log aggregator.
package logring

import (
	"log/slog"
	"sync"
	"time"
)

// Entry is one captured log record.
type Entry struct {
	Time    time.Time      `json:"time"`
	Level   string         `json:"level"`
	Message string         `json:"message"`
	Attrs   map[string]any `json:"attrs,omitempty"`
}

// Ring is a fixed-size, thread-safe ring of log entries.
type Ring struct {
	mu      sync.Mutex
	entries []Entry
	size    int
	pos     int
	count   int
}

// New creates a ring holding up to size entries.
func New(size int) *Ring {
	return &Ring{
		entries: make([]Entry, size),
		size:    size,
	}
}

// Write appends an entry, evicting the oldest when full.
func (r *Ring) Write(e Entry) {
	r.mu.Lock()
	r.entries[r.pos] = e
	r.pos = (r.pos + 1) % r.size
	if r.count < r.size {
		r.count++
	}
	r.mu.Unlock()
}

// Query returns entries matching the filters, oldest first. A zero since
// matches everything; an empty ticketID skips the attr filter; limit <= 0
// returns all matches.
func (r *Ring) Query(since time.Time, minLevel slog.Level, ticketID string, limit int) []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	var result []Entry

	start := 0
	n := r.count
	if r.count == r.size {
		start = r.pos // oldest entry when the ring is full
	}

	for i := 0; i < n; i++ {
		e := r.entries[(start+i)%r.size]
		if !since.IsZero() && e.Time.Before(since) {
			continue
		}
		if parseLevel(e.Level) < minLevel {
			continue
		}
		if ticketID != "" && e.Attrs["ticket_id"] != ticketID {
			continue
		}
		result = append(result, e)
	}

	if limit > 0 && len(result) > limit {
		result = result[len(result)-limit:]
	}
	return result
}

func parseLevel(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
