package store

import (
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

func newTestTicket(t *testing.T, subject string) *ticket.Ticket {
	t.Helper()
	return ticket.New(ticket.SourceEmail, &ticket.EmailContent{
		SenderEmail:    "a@example.com",
		RecipientEmail: "support@example.com",
		Subject:        subject,
		Body:           "body",
	})
}

// repoTest exercises the Repository contract against any implementation.
func repoTest(t *testing.T, repo Repository) {
	t.Helper()

	tk := newTestTicket(t, "first")
	if err := repo.Save(tk); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := repo.Get(tk.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != tk.ID || got.Status != ticket.StatusInbox {
		t.Errorf("got %+v", got)
	}

	// Returned ticket must be a detached copy.
	got.SetPriority(ticket.PriorityCritical)
	again, err := repo.Get(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if again.Priority != ticket.PriorityMedium {
		t.Errorf("mutation leaked into store: priority = %s", again.Priority)
	}

	// Slice and map fields must be detached too.
	tk.AddTag("vip")
	tk.AddAutoResponse("thanks, we are on it")
	tk.MergeReasoning(map[string]any{"reasoning": "billing dispute"})
	if err := repo.Save(tk); err != nil {
		t.Fatal(err)
	}
	fetched, err := repo.Get(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	fetched.RemoveTag("vip")
	fetched.AddTag("spam")
	fetched.AutoResponses[0] = "clobbered"
	fetched.AIReasoning["reasoning"] = "clobbered"
	stored, err := repo.Get(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !stored.HasTag("vip") || stored.HasTag("spam") {
		t.Errorf("tag mutation leaked into store: %v", stored.Tags)
	}
	if stored.AutoResponses[0] != "thanks, we are on it" {
		t.Errorf("auto-response mutation leaked: %v", stored.AutoResponses)
	}
	if stored.AIReasoning["reasoning"] != "billing dispute" {
		t.Errorf("reasoning mutation leaked: %v", stored.AIReasoning)
	}

	// Upsert.
	tk.SetPriority(ticket.PriorityHigh)
	tk.Assignee = "user-2"
	if err := repo.Save(tk); err != nil {
		t.Fatalf("resave: %v", err)
	}
	updated, err := repo.Get(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	if updated.Priority != ticket.PriorityHigh || updated.Assignee != "user-2" {
		t.Errorf("upsert lost fields: %+v", updated)
	}

	if _, err := repo.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("get missing = %v, want ErrNotFound", err)
	}

	// Find ordering: newest first.
	second := newTestTicket(t, "second")
	second.CreatedAt = tk.CreatedAt.Add(time.Minute)
	second.UpdatedAt = second.CreatedAt
	if err := repo.Save(second); err != nil {
		t.Fatal(err)
	}
	all, err := repo.Find(Filter{})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("find returned %d tickets", len(all))
	}
	if all[0].ID != second.ID {
		t.Errorf("find not newest-first: %s first", all[0].ID)
	}

	// Filters.
	byAssignee, err := repo.Find(Filter{Assignee: "user-2"})
	if err != nil {
		t.Fatal(err)
	}
	if len(byAssignee) != 1 || byAssignee[0].ID != tk.ID {
		t.Errorf("assignee filter = %v", byAssignee)
	}
	n, err := repo.Count(Filter{Status: ticket.StatusInbox})
	if err != nil {
		t.Fatal(err)
	}
	if n != 2 {
		t.Errorf("count = %d, want 2", n)
	}

	// Pagination.
	paged, err := repo.Find(Filter{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(paged) != 1 || paged[0].ID != tk.ID {
		t.Errorf("paged = %v", paged)
	}

	if err := repo.Delete(tk.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := repo.Delete(tk.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("double delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryRepository(t *testing.T) {
	repoTest(t, NewMemoryRepository())
}

func TestSQLiteRepository(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer repo.Close()
	repoTest(t, repo)
}

func TestSQLiteRoundTripsContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickets.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatal(err)
	}
	defer repo.Close()

	tk := ticket.New(ticket.SourceGitHub, &ticket.GitHubContent{
		Repo: "org/app", IssueNumber: 9, Author: "kim",
		IssueTitle: "crash", IssueBody: "stack trace attached",
	})
	if err := repo.Save(tk); err != nil {
		t.Fatal(err)
	}
	got, err := repo.Get(tk.ID)
	if err != nil {
		t.Fatal(err)
	}
	gh, ok := got.Content.(*ticket.GitHubContent)
	if !ok {
		t.Fatalf("content type = %T", got.Content)
	}
	if gh.IssueNumber != 9 || gh.Repo != "org/app" {
		t.Errorf("content = %+v", gh)
	}
}

func TestAssignmentTracker(t *testing.T) {
	tr := NewAssignmentTracker()
	tr.Assign("t1", "user-1")
	tr.Assign("t2", "user-1")
	tr.Assign("t3", "user-2")

	if n := tr.AgentTicketCount("user-1"); n != 2 {
		t.Errorf("count = %d, want 2", n)
	}
	if got := tr.TicketAgent("t3"); got != "user-2" {
		t.Errorf("TicketAgent(t3) = %q", got)
	}

	// Reassign moves the ticket between agents.
	tr.Assign("t2", "user-2")
	if n := tr.AgentTicketCount("user-1"); n != 1 {
		t.Errorf("count after reassign = %d", n)
	}
	if got := tr.TicketAgent("t2"); got != "user-2" {
		t.Errorf("TicketAgent(t2) = %q", got)
	}

	tr.Unassign("t1")
	if got := tr.TicketAgent("t1"); got != "" {
		t.Errorf("TicketAgent(t1) = %q after unassign", got)
	}
	if ids := tr.AgentTickets("user-1"); len(ids) != 0 {
		t.Errorf("user-1 tickets = %v", ids)
	}

	// Snapshot is detached.
	all := tr.All()
	all["user-2"] = nil
	if n := tr.AgentTicketCount("user-2"); n != 2 {
		t.Errorf("snapshot mutation leaked, count = %d", n)
	}
}
