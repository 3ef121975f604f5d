package logring

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestRingEvictsOldest(t *testing.T) {
	r := New(3)
	for i := 0; i < 5; i++ {
		r.Write(Entry{Time: time.Now(), Level: "INFO", Message: string(rune('a' + i))})
	}
	got := r.Query(time.Time{}, slog.LevelDebug, "", 0)
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if got[0].Message != "c" || got[2].Message != "e" {
		t.Errorf("entries = %v", got)
	}
}

func TestQueryFilters(t *testing.T) {
	r := New(10)
	now := time.Now()
	r.Write(Entry{Time: now.Add(-time.Hour), Level: "INFO", Message: "old"})
	r.Write(Entry{Time: now, Level: "DEBUG", Message: "chatty"})
	r.Write(Entry{Time: now, Level: "ERROR", Message: "boom", Attrs: map[string]any{"ticket_id": "t1"}})
	r.Write(Entry{Time: now, Level: "WARN", Message: "hm", Attrs: map[string]any{"ticket_id": "t2"}})

	recent := r.Query(now.Add(-time.Minute), slog.LevelDebug, "", 0)
	if len(recent) != 3 {
		t.Errorf("since filter: %d entries", len(recent))
	}
	errs := r.Query(time.Time{}, slog.LevelError, "", 0)
	if len(errs) != 1 || errs[0].Message != "boom" {
		t.Errorf("level filter: %v", errs)
	}
	byTicket := r.Query(time.Time{}, slog.LevelDebug, "t1", 0)
	if len(byTicket) != 1 || byTicket[0].Message != "boom" {
		t.Errorf("ticket filter: %v", byTicket)
	}
	limited := r.Query(time.Time{}, slog.LevelDebug, "", 2)
	if len(limited) != 2 || limited[1].Message != "hm" {
		t.Errorf("limit keeps newest: %v", limited)
	}
}

func TestHandlerCapturesAllLevels(t *testing.T) {
	ring := New(10)
	inner := slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn})
	logger := slog.New(NewHandler(inner, ring))

	logger.Debug("below inner threshold", "ticket_id", "t9")
	logger.Error("failed", "error", errors.New("disk full"))

	entries := ring.Query(time.Time{}, slog.LevelDebug, "", 0)
	if len(entries) != 2 {
		t.Fatalf("captured %d entries", len(entries))
	}
	if entries[0].Attrs["ticket_id"] != "t9" {
		t.Errorf("attrs = %v", entries[0].Attrs)
	}
	// Errors stored as strings, not structs.
	if entries[1].Attrs["error"] != "disk full" {
		t.Errorf("error attr = %v", entries[1].Attrs["error"])
	}
}

func TestHandlerWithAttrsAndGroup(t *testing.T) {
	ring := New(10)
	inner := slog.NewJSONHandler(io.Discard, nil)
	base := slog.New(NewHandler(inner, ring))

	base.With("component", "api").Info("handled", "status", 200)
	base.WithGroup("req").Info("routed", "path", "/api/tickets")

	entries := ring.Query(time.Time{}, slog.LevelDebug, "", 0)
	if len(entries) != 2 {
		t.Fatalf("captured %d entries", len(entries))
	}
	if entries[0].Attrs["component"] != "api" {
		t.Errorf("pre-bound attr lost: %v", entries[0].Attrs)
	}
	if entries[1].Attrs["req.path"] != "/api/tickets" {
		t.Errorf("group prefix missing: %v", entries[1].Attrs)
	}
}
