package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/deskpipe-io/deskpipe/internal/store"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
	"github.com/deskpipe-io/deskpipe/internal/triage"
)

type nullBus struct{}

func (nullBus) BroadcastEvent(string, map[string]any, []string) int { return 0 }

type stubClassifier struct {
	mu     sync.Mutex
	result *triage.Result
	err    error
	done   chan struct{}
}

func (s *stubClassifier) AnalyzeTriage(_ context.Context, _ triage.Request) (*triage.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		defer func() { s.done <- struct{}{} }()
	}
	return s.result, s.err
}

// newApp builds an App without automatic triage so tests control state
// directly.
func newApp(t *testing.T) *App {
	t.Helper()
	return New(Options{
		Repo: store.NewMemoryRepository(),
		Bus:  nullBus{},
	})
}

func ingestEmail(t *testing.T, a *App) *ticket.Ticket {
	t.Helper()
	tk, _, err := a.Ingest(IngestRequest{
		Source:  "EMAIL",
		Payload: json.RawMessage(`{"from":"alice@example.com","to":"support@example.com","subject":"broken login","body":"cannot sign in"}`),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	return tk
}

func TestIngestAliases(t *testing.T) {
	a := newApp(t)

	tests := []struct {
		name    string
		source  string
		payload string
		check   func(t *testing.T, c ticket.Content)
	}{
		{
			name:    "email from/to aliases",
			source:  "EMAIL",
			payload: `{"from":"a@b.c","to":"s@b.c","subject":"x","body":"y"}`,
			check: func(t *testing.T, c ticket.Content) {
				ec := c.(*ticket.EmailContent)
				if ec.SenderEmail != "a@b.c" || ec.RecipientEmail != "s@b.c" {
					t.Errorf("email = %+v", ec)
				}
			},
		},
		{
			name:    "form fields alias",
			source:  "FORM",
			payload: `{"fields":{"message":"reset password"},"submitter_email":"u@b.c"}`,
			check: func(t *testing.T, c ticket.Content) {
				fc := c.(*ticket.FormContent)
				if fc.FormFields["message"] != "reset password" {
					t.Errorf("form = %+v", fc)
				}
			},
		},
		{
			name:    "sms via webhook",
			source:  "WEBHOOK",
			payload: `{"from":"+15550001","to":"+15550002","body":"no signal","message_sid":"SM1"}`,
			check: func(t *testing.T, c ticket.Content) {
				sc := c.(*ticket.SMSContent)
				if sc.SenderPhoneNumber != "+15550001" || sc.MessageBody != "no signal" {
					t.Errorf("sms = %+v", sc)
				}
			},
		},
		{
			name:    "github canonical fields",
			source:  "GITHUB",
			payload: `{"repo":"org/app","issue_number":3,"author":"kim","issue_title":"bug","issue_body":"oops"}`,
			check: func(t *testing.T, c ticket.Content) {
				gc := c.(*ticket.GitHubContent)
				if gc.Repo != "org/app" || gc.IssueNumber != 3 {
					t.Errorf("github = %+v", gc)
				}
			},
		},
		{
			name:    "discord",
			source:  "DISCORD",
			payload: `{"channel_id":"c","user_id":"u","message_id":"m","message_text":"halp","username":"dave"}`,
			check: func(t *testing.T, c ticket.Content) {
				dc := c.(*ticket.DiscordContent)
				if dc.Username != "dave" {
					t.Errorf("discord = %+v", dc)
				}
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tk, pos, err := a.Ingest(IngestRequest{Source: tt.source, Payload: json.RawMessage(tt.payload)})
			if err != nil {
				t.Fatalf("Ingest: %v", err)
			}
			if pos < 1 {
				t.Errorf("position = %d", pos)
			}
			if tk.Status != ticket.StatusInbox || tk.CurrentQueue != ticket.QueueInbox {
				t.Errorf("new ticket %s/%s", tk.Status, tk.CurrentQueue)
			}
			tt.check(t, tk.Content)
		})
	}
}

func TestIngestRejectsUnknownSource(t *testing.T) {
	a := newApp(t)
	_, _, err := a.Ingest(IngestRequest{Source: "CARRIER_PIGEON", Payload: json.RawMessage(`{}`)})
	var br *ErrBadRequest
	if !errors.As(err, &br) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func TestIngestContentTypeOverridesSource(t *testing.T) {
	a := newApp(t)

	// A generic webhook can relay any payload shape.
	tk, _, err := a.Ingest(IngestRequest{
		Source:      "WEBHOOK",
		ContentType: "email",
		Payload:     json.RawMessage(`{"from":"a@b.c","to":"s@b.c","subject":"relayed","body":"hi"}`),
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	ec, ok := tk.Content.(*ticket.EmailContent)
	if !ok {
		t.Fatalf("content type %T, want *ticket.EmailContent", tk.Content)
	}
	if ec.SenderEmail != "a@b.c" || ec.Subject != "relayed" {
		t.Errorf("email = %+v", ec)
	}

	if _, _, err := a.Ingest(IngestRequest{
		Source:      "WEBHOOK",
		ContentType: "carrier-pigeon",
		Payload:     json.RawMessage(`{}`),
	}); err == nil {
		t.Error("unknown content_type accepted")
	}
}

func TestIngestMetadataOverrides(t *testing.T) {
	a := newApp(t)
	tk, _, err := a.Ingest(IngestRequest{
		Source:   "EMAIL",
		Payload:  json.RawMessage(`{"from":"a@b.c","subject":"original","body":"x"}`),
		Metadata: map[string]any{"title": "escalated outage", "description": "dup of incident 42"},
	})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if tk.EffectiveTitle() != "escalated outage" || tk.Description != "dup of incident 42" {
		t.Errorf("ticket = %q / %q", tk.EffectiveTitle(), tk.Description)
	}
}

func TestIngestTriggersTriage(t *testing.T) {
	cls := &stubClassifier{
		result: &triage.Result{Confidence: 0.9, Priority: "HIGH", Category: "TECHNICAL_SUPPORT"},
		done:   make(chan struct{}, 1),
	}
	a := New(Options{
		Repo:       store.NewMemoryRepository(),
		Bus:        nullBus{},
		Classifier: cls,
	})

	tk := ingestEmail(t, a)

	select {
	case <-cls.done:
	case <-time.After(2 * time.Second):
		t.Fatal("classifier not invoked after ingest")
	}
	// The runner saves after routing; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, err := a.Get(tk.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.CurrentQueue == ticket.QueueAssignment {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("ticket still in %s", got.CurrentQueue)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUpdateStatusValidated(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)

	// INBOX -> RESOLVED is not in the table.
	bad := "RESOLVED"
	if _, err := a.Update(tk.ID, UpdateRequest{Status: &bad}); err == nil {
		t.Fatal("INBOX -> RESOLVED accepted")
	}

	pending := "TRIAGE_PENDING"
	got, err := a.Update(tk.ID, UpdateRequest{Status: &pending})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.CurrentQueue != ticket.QueueTriage {
		t.Errorf("queue = %s, want TRIAGE", got.CurrentQueue)
	}
	if q, _ := a.Queues.TicketQueue(tk.ID); q != ticket.QueueTriage {
		t.Errorf("manager queue = %s", q)
	}
}

func TestUpdateFields(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)

	prio, cat, title := "CRITICAL", "BUG_REPORT", "login outage"
	got, err := a.Update(tk.ID, UpdateRequest{
		Priority: &prio, Category: &cat, Title: &title,
		AddTags: []string{"outage"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Priority != ticket.PriorityCritical || got.Category != ticket.CategoryBugReport {
		t.Errorf("ticket = %+v", got)
	}
	if got.Title != "login outage" || !got.HasTag("outage") {
		t.Errorf("ticket = %+v", got)
	}

	badPrio := "EXTREME"
	if _, err := a.Update(tk.ID, UpdateRequest{Priority: &badPrio}); err == nil {
		t.Error("unknown priority accepted")
	}
}

func TestUpdateAssignee(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)
	pending := "TRIAGE_PENDING"
	a.Update(tk.ID, UpdateRequest{Status: &pending})

	agent := "user-3"
	got, err := a.Update(tk.ID, UpdateRequest{Assignee: &agent})
	if err != nil {
		t.Fatal(err)
	}
	if got.Assignee != "user-3" || got.Status != ticket.StatusAssigned {
		t.Errorf("ticket = %+v", got)
	}
	if a.Tracker.TicketAgent(tk.ID) != "user-3" {
		t.Error("tracker not updated")
	}
	if q, _ := a.Queues.TicketQueue(tk.ID); q != ticket.QueueAssignment {
		t.Errorf("manager queue = %s, want ASSIGNMENT", q)
	}

	nobody := "user-404"
	if _, err := a.Update(tk.ID, UpdateRequest{Assignee: &nobody}); err == nil {
		t.Error("unknown agent accepted")
	}
}

func TestUpdateStatusClosedLeavesPipeline(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)
	pending := "TRIAGE_PENDING"
	a.Update(tk.ID, UpdateRequest{Status: &pending})

	closed := "CLOSED"
	got, err := a.Update(tk.ID, UpdateRequest{Status: &closed})
	if err != nil {
		t.Fatalf("TRIAGE_PENDING -> CLOSED: %v", err)
	}
	if got.Status != ticket.StatusClosed {
		t.Errorf("status = %s", got.Status)
	}
	if _, ok := a.Queues.TicketQueue(tk.ID); ok {
		t.Error("closed ticket still queued")
	}
}

func TestDelete(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)
	if err := a.Delete(tk.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := a.Get(tk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("get after delete = %v", err)
	}
	if _, ok := a.Queues.TicketQueue(tk.ID); ok {
		t.Error("deleted ticket still queued")
	}
	if err := a.Delete(tk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v", err)
	}
}

func TestCompleteTriageRequiresTriageQueue(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)
	_, err := a.CompleteTriage(tk.ID, TriageRequest{Category: "OTHER"})
	var br *ErrBadRequest
	if !errors.As(err, &br) {
		t.Fatalf("err = %v, want ErrBadRequest", err)
	}
}

func toTriage(t *testing.T, a *App, tk *ticket.Ticket) {
	t.Helper()
	if _, err := a.MoveTicket(tk.ID, ticket.QueueInbox, ticket.QueueTriage, "manual triage", "admin"); err != nil {
		t.Fatal(err)
	}
}

func TestCompleteTriageAssigns(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)
	toTriage(t, a, tk)

	got, err := a.CompleteTriage(tk.ID, TriageRequest{
		Category: "BILLING", Priority: "HIGH", Assignee: "user-1", Notes: "looks like dup charge",
	})
	if err != nil {
		t.Fatalf("CompleteTriage: %v", err)
	}
	if got.Status != ticket.StatusAssigned || got.Assignee != "user-1" {
		t.Errorf("ticket = %+v", got)
	}
	if got.Category != ticket.CategoryBilling || got.AIReasoning["triage_notes"] != "looks like dup charge" {
		t.Errorf("ticket = %+v", got)
	}
	if q, _ := a.Queues.TicketQueue(tk.ID); q != ticket.QueueAssignment {
		t.Errorf("manager queue = %s", q)
	}
}

func TestCompleteTriagePromotesUnassigned(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)
	toTriage(t, a, tk)

	got, err := a.CompleteTriage(tk.ID, TriageRequest{Category: "OTHER"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ticket.StatusAssigned || got.Assignee != "" {
		t.Errorf("ticket = %+v", got)
	}
	if got.CurrentQueue != ticket.QueueAssignment {
		t.Errorf("queue = %s", got.CurrentQueue)
	}
}

func TestCompleteTriageAutoResolve(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)
	toTriage(t, a, tk)

	got, err := a.CompleteTriage(tk.ID, TriageRequest{
		AutoResolve: true, ResolveAction: "FAQ_LINK",
	})
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != ticket.StatusResolved || got.ResolutionAction != ticket.ResolveFAQLink {
		t.Errorf("ticket = %+v", got)
	}
	if q, _ := a.Queues.TicketQueue(tk.ID); q != ticket.QueueResolution {
		t.Errorf("manager queue = %s", q)
	}
}

func TestResolve(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)
	toTriage(t, a, tk)

	got, err := a.Resolve(tk.ID, ResolveRequest{Action: "MANUAL", Message: "fixed"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got.Status != ticket.StatusResolved || got.CurrentQueue != ticket.QueueResolution {
		t.Errorf("ticket = %+v", got)
	}

	// Resolving from INBOX is rejected.
	other := ingestEmail(t, a)
	if _, err := a.Resolve(other.ID, ResolveRequest{}); err == nil {
		t.Error("INBOX ticket resolved")
	}
}

func TestMoveTicketValidatesFromQueue(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)

	_, err := a.MoveTicket(tk.ID, ticket.QueueTriage, ticket.QueueAssignment, "", "admin")
	var br *ErrBadRequest
	if !errors.As(err, &br) {
		t.Fatalf("err = %v, want ErrBadRequest (wrong from queue)", err)
	}

	// INBOX -> ACTIVE violates the status table.
	if _, err := a.MoveTicket(tk.ID, ticket.QueueInbox, ticket.QueueActive, "", "admin"); err == nil {
		t.Error("INBOX -> ACTIVE accepted")
	}
}

func TestDequeue(t *testing.T) {
	a := newApp(t)
	tk := ingestEmail(t, a)

	got, err := a.Dequeue(ticket.QueueInbox, true)
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != tk.ID {
		t.Errorf("dequeued %s", got.ID)
	}
	if _, err := a.Dequeue(ticket.QueueInbox, true); !errors.Is(err, ErrNotFound) {
		t.Errorf("empty dequeue = %v", err)
	}
}
