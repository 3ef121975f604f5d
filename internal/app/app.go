// Package app wires the pipeline together and exposes the operations the
// API serves: ingestion, triage completion, queue movement, distribution,
// and resolution.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/deskpipe-io/deskpipe/internal/events"
	"github.com/deskpipe-io/deskpipe/internal/notify"
	"github.com/deskpipe-io/deskpipe/internal/queue"
	"github.com/deskpipe-io/deskpipe/internal/roster"
	"github.com/deskpipe-io/deskpipe/internal/store"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
	"github.com/deskpipe-io/deskpipe/internal/triage"
)

// ErrNotFound mirrors the store sentinel so handlers need only one check.
var ErrNotFound = store.ErrNotFound

// ErrForbidden is returned when an agent acts on a ticket another agent
// holds.
var ErrForbidden = errors.New("app: ticket held by another agent")

// ErrBadRequest wraps input validation failures.
type ErrBadRequest struct {
	Reason string
}

func (e *ErrBadRequest) Error() string { return "app: " + e.Reason }

func badRequest(format string, args ...any) error {
	return &ErrBadRequest{Reason: fmt.Sprintf(format, args...)}
}

// App owns the pipeline components. All operations are safe for
// concurrent use.
type App struct {
	Repo     store.Repository
	Queues   *queue.Manager
	Tracker  *store.AssignmentTracker
	Roster   *roster.Roster
	Events   *events.Publisher
	Notifier *notify.Notifier
	Triage   *triage.Runner
	Logger   *slog.Logger
}

// Options collects the dependencies for New.
type Options struct {
	Repo       store.Repository
	Classifier triage.Classifier
	Bus        events.Broadcaster
	Notifier   *notify.Notifier
	MirrorURL  string
	Logger     *slog.Logger
}

// New assembles an App and hooks automatic triage to INBOX arrivals.
func New(opts Options) *App {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	qm := queue.NewManager(logger.With("component", "queues"))
	pub := events.NewPublisher(opts.Bus, opts.MirrorURL, logger.With("component", "events"))
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.New("", "", logger)
	}

	a := &App{
		Repo:     opts.Repo,
		Queues:   qm,
		Tracker:  store.NewAssignmentTracker(),
		Roster:   roster.Default(),
		Events:   pub,
		Notifier: notifier,
		Logger:   logger,
	}
	a.Triage = &triage.Runner{
		Classifier: opts.Classifier,
		Repo:       opts.Repo,
		Queues:     qm,
		Events:     pub,
		Roster:     a.Roster,
		Notify:     notifier,
		Logger:     logger.With("component", "triage"),
	}
	if opts.Classifier != nil {
		qm.SetInboxHook(func(ticketID string) {
			a.Triage.Run(context.Background(), ticketID)
		})
	}
	return a
}

// IngestRequest is a webhook delivery. ContentType names the payload
// shape (email, discord, github, form, sms) and defaults from the
// source, so a generic WEBHOOK source can carry any shape.
type IngestRequest struct {
	Source      string          `json:"source"`
	ContentType string          `json:"content_type"`
	Payload     json.RawMessage `json:"payload"`
	Metadata    map[string]any  `json:"metadata"`
}

// Ingest normalizes a webhook payload into a ticket, stores it, and drops
// it into INBOX. The returned position is 1-based.
func (a *App) Ingest(req IngestRequest) (*ticket.Ticket, int, error) {
	source, err := ticket.ParseSource(req.Source)
	if err != nil {
		return nil, 0, badRequest("ingest: %v", err)
	}
	ctype := req.ContentType
	if ctype == "" {
		ctype = defaultContentType(source)
	}
	content, err := buildContent(ctype, req.Payload)
	if err != nil {
		return nil, 0, badRequest("ingest: %v", err)
	}

	t := ticket.New(source, content)
	if title, ok := req.Metadata["title"].(string); ok && title != "" {
		t.SetTitle(title)
	}
	if desc, ok := req.Metadata["description"].(string); ok && desc != "" {
		t.SetDescription(desc)
	}
	if err := a.Repo.Save(t); err != nil {
		return nil, 0, fmt.Errorf("app: ingest save: %w", err)
	}
	pos := a.Queues.Enqueue(t, ticket.QueueInbox, "ingested", "system")
	a.Events.TicketCreated(t, pos)
	a.Logger.Info("ticket ingested", "ticket_id", t.ID, "source", req.Source, "position", pos)
	return t, pos, nil
}

// Get loads one ticket.
func (a *App) Get(id string) (*ticket.Ticket, error) {
	return a.Repo.Get(id)
}

// List returns tickets matching the filter, newest first.
func (a *App) List(f store.Filter) ([]*ticket.Ticket, int, error) {
	tickets, err := a.Repo.Find(f)
	if err != nil {
		return nil, 0, err
	}
	total, err := a.Repo.Count(store.Filter{
		Status: f.Status, Queue: f.Queue, Assignee: f.Assignee,
		Priority: f.Priority, Category: f.Category, Source: f.Source,
	})
	if err != nil {
		return nil, 0, err
	}
	return tickets, total, nil
}

// UpdateRequest is a partial ticket update. Nil fields are untouched.
type UpdateRequest struct {
	Status      *string  `json:"status"`
	Priority    *string  `json:"priority"`
	Category    *string  `json:"category"`
	Title       *string  `json:"title"`
	Description *string  `json:"description"`
	Assignee    *string  `json:"assignee"`
	AddTags     []string `json:"add_tags"`
	RemoveTags  []string `json:"remove_tags"`
}

// Update applies a partial update. Status changes are validated against
// the transition table and keep the queue coupled.
func (a *App) Update(id string, req UpdateRequest) (*ticket.Ticket, error) {
	t, err := a.Repo.Get(id)
	if err != nil {
		return nil, err
	}

	var changed []string
	if req.Priority != nil {
		p, err := ticket.ParsePriority(*req.Priority)
		if err != nil {
			return nil, badRequest("update: %v", err)
		}
		t.SetPriority(p)
		a.Queues.UpdatePriority(t.ID, p)
		changed = append(changed, "priority")
	}
	if req.Category != nil {
		c, err := ticket.ParseCategory(*req.Category)
		if err != nil {
			return nil, badRequest("update: %v", err)
		}
		t.SetCategory(c)
		changed = append(changed, "category")
	}
	if req.Title != nil {
		t.SetTitle(*req.Title)
		changed = append(changed, "title")
	}
	if req.Description != nil {
		t.SetDescription(*req.Description)
		changed = append(changed, "description")
	}
	for _, tag := range req.AddTags {
		t.AddTag(tag)
	}
	for _, tag := range req.RemoveTags {
		t.RemoveTag(tag)
	}
	if len(req.AddTags) > 0 || len(req.RemoveTags) > 0 {
		changed = append(changed, "tags")
	}

	if req.Assignee != nil && *req.Assignee != t.Assignee {
		from := t.CurrentQueue
		if *req.Assignee == "" {
			t.Unassign()
			a.Tracker.Unassign(t.ID)
			a.syncQueue(t, from, "unassigned via update", "api")
		} else {
			if _, ok := a.Roster.Get(*req.Assignee); !ok {
				return nil, badRequest("update: unknown agent %q", *req.Assignee)
			}
			if err := t.Assign(*req.Assignee); err != nil {
				return nil, err
			}
			a.Tracker.Assign(t.ID, *req.Assignee)
			a.syncQueue(t, from, "assigned via update", "api")
			a.Events.TicketAssigned(t, *req.Assignee, "assigned via update")
		}
		changed = append(changed, "assignee")
	}

	if req.Status != nil {
		s, err := ticket.ParseStatus(*req.Status)
		if err != nil {
			return nil, badRequest("update: %v", err)
		}
		from := t.CurrentQueue
		if s == ticket.StatusResolved {
			if err := t.MarkResolved(ticket.ResolveManual); err != nil {
				return nil, err
			}
		} else {
			if err := t.TransitionTo(s); err != nil {
				return nil, err
			}
		}
		a.syncQueue(t, from, "status updated", "api")
		changed = append(changed, "status")
	}

	if err := a.Repo.Save(t); err != nil {
		return nil, fmt.Errorf("app: update save: %w", err)
	}
	if len(changed) > 0 {
		a.Events.TicketUpdated(t, changed)
	}
	return t, nil
}

// Delete removes a ticket from the store and the pipeline.
func (a *App) Delete(id string) error {
	if err := a.Repo.Delete(id); err != nil {
		return err
	}
	a.Queues.RemoveFromQueue(id)
	a.Tracker.Unassign(id)
	a.Logger.Info("ticket deleted", "ticket_id", id)
	return nil
}

// TriageRequest is a human triager's verdict on a TRIAGE-queue ticket.
type TriageRequest struct {
	Category      string `json:"category"`
	Priority      string `json:"priority"`
	Assignee      string `json:"assignee"`
	Notes         string `json:"notes"`
	AutoResolve   bool   `json:"auto_resolve"`
	ResolveAction string `json:"resolve_action"`
}

// CompleteTriage applies a manual triage verdict. The ticket must be
// sitting in the TRIAGE queue.
func (a *App) CompleteTriage(id string, req TriageRequest) (*ticket.Ticket, error) {
	t, err := a.Repo.Get(id)
	if err != nil {
		return nil, err
	}
	if t.CurrentQueue != ticket.QueueTriage {
		return nil, badRequest("triage_complete: ticket %s is in %s, not TRIAGE", id, t.CurrentQueue)
	}

	if req.Category != "" {
		c, err := ticket.ParseCategory(req.Category)
		if err != nil {
			return nil, badRequest("triage_complete: %v", err)
		}
		t.SetCategory(c)
	}
	if req.Priority != "" {
		p, err := ticket.ParsePriority(req.Priority)
		if err != nil {
			return nil, badRequest("triage_complete: %v", err)
		}
		t.SetPriority(p)
	}
	if req.Notes != "" {
		t.MergeReasoning(map[string]any{"triage_notes": req.Notes})
	}

	from := t.CurrentQueue
	switch {
	case req.AutoResolve:
		action := ticket.ResolveAction(req.ResolveAction)
		if req.ResolveAction != "" {
			if action, err = ticket.ParseResolveAction(req.ResolveAction); err != nil {
				return nil, badRequest("triage_complete: %v", err)
			}
		}
		if err := t.MarkResolved(action); err != nil {
			return nil, err
		}
		a.syncQueue(t, from, "auto-resolved at triage", "triage")
		a.Events.TicketResolved(t)
		a.sendResolution(t, "")
	case req.Assignee != "":
		if _, ok := a.Roster.Get(req.Assignee); !ok {
			return nil, badRequest("triage_complete: unknown agent %q", req.Assignee)
		}
		if err := t.Assign(req.Assignee); err != nil {
			return nil, err
		}
		a.Tracker.Assign(t.ID, req.Assignee)
		a.syncQueue(t, from, "triaged and assigned", "triage")
		a.Events.TicketAssigned(t, req.Assignee, "triaged and assigned")
	default:
		if err := t.PromoteToAssignment(); err != nil {
			return nil, err
		}
		a.syncQueue(t, from, "triaged", "triage")
	}

	if err := a.Repo.Save(t); err != nil {
		return nil, fmt.Errorf("app: triage save: %w", err)
	}
	return t, nil
}

// ResolveRequest finishes a ticket.
type ResolveRequest struct {
	Action  string `json:"action"`
	Message string `json:"message"`
}

// Resolve marks a ticket resolved, notifies the originating channel, and
// parks it in RESOLUTION for auto-close.
func (a *App) Resolve(id string, req ResolveRequest) (*ticket.Ticket, error) {
	t, err := a.Repo.Get(id)
	if err != nil {
		return nil, err
	}

	action := ticket.ResolveManual
	if req.Action != "" {
		if action, err = ticket.ParseResolveAction(req.Action); err != nil {
			return nil, badRequest("resolve: %v", err)
		}
	}

	from := t.CurrentQueue
	if err := t.MarkResolved(action); err != nil {
		return nil, err
	}
	a.syncQueue(t, from, "resolved", t.Assignee)

	if err := a.Repo.Save(t); err != nil {
		return nil, fmt.Errorf("app: resolve save: %w", err)
	}
	a.Events.TicketResolved(t)
	a.sendResolution(t, req.Message)
	a.Logger.Info("ticket resolved", "ticket_id", t.ID, "action", string(action))
	return t, nil
}

// MoveTicket relocates a ticket between queues by hand. The from queue
// must match the ticket's current queue.
func (a *App) MoveTicket(id string, from, to ticket.Queue, reason, actor string) (*ticket.Ticket, error) {
	t, err := a.Repo.Get(id)
	if err != nil {
		return nil, err
	}
	if t.CurrentQueue != from {
		return nil, badRequest("move: ticket %s is in %s, not %s", id, t.CurrentQueue, from)
	}
	if err := t.MoveToQueue(to); err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "manual move"
	}
	if !a.Queues.MoveTicket(id, to, reason, actor) {
		a.Queues.Enqueue(t, to, reason, actor)
	}
	if err := a.Repo.Save(t); err != nil {
		return nil, fmt.Errorf("app: move save: %w", err)
	}
	a.Events.TicketMoved(t, from, to, reason)
	return t, nil
}

// Dequeue pops the next ticket from a queue.
func (a *App) Dequeue(q ticket.Queue, priorityBased bool) (*ticket.Ticket, error) {
	id, ok := a.Queues.Dequeue(q, priorityBased)
	if !ok {
		return nil, ErrNotFound
	}
	return a.Repo.Get(id)
}

// sendResolution delivers the resolution callback off the request path.
func (a *App) sendResolution(t *ticket.Ticket, message string) {
	tk := t
	go func() {
		if err := a.Notifier.SendResolution(context.Background(), tk, message); err != nil {
			a.Logger.Warn("resolution callback failed", "ticket_id", tk.ID, "error", err)
		}
	}()
}

// syncQueue reconciles the queue manager with the ticket's current queue
// after a status mutation. CLOSED tickets leave the pipeline.
func (a *App) syncQueue(t *ticket.Ticket, from ticket.Queue, reason, actor string) {
	if t.Status == ticket.StatusClosed {
		a.Queues.RemoveFromQueue(t.ID)
		return
	}
	if t.CurrentQueue == from {
		return
	}
	if !a.Queues.MoveTicket(t.ID, t.CurrentQueue, reason, actor) {
		a.Queues.Enqueue(t, t.CurrentQueue, reason, actor)
	}
	a.Events.TicketMoved(t, from, t.CurrentQueue, reason)
}

// defaultContentType maps a source to the payload shape it sends when
// the delivery doesn't say. Generic webhooks carry SMS-bridge payloads.
func defaultContentType(source ticket.Source) string {
	switch source {
	case ticket.SourceEmail:
		return "email"
	case ticket.SourceDiscord:
		return "discord"
	case ticket.SourceGitHub:
		return "github"
	case ticket.SourceForm:
		return "form"
	default:
		return "sms"
	}
}

// buildContent decodes a channel payload of the named shape, accepting
// the short aliases the upstream webhooks actually send (from/to/fields)
// alongside the canonical field names.
func buildContent(ctype string, raw json.RawMessage) (ticket.Content, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("payload is required")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}

	switch ctype {
	case "email":
		renameField(fields, "from", "sender_email")
		renameField(fields, "to", "recipient_email")
	case "discord", "github":
	case "form":
		renameField(fields, "fields", "form_fields")
	case "sms":
		renameField(fields, "from", "sender_phone_number")
		renameField(fields, "to", "recipient_phone_number")
		renameField(fields, "body", "message_body")
	default:
		return nil, fmt.Errorf("unknown content_type %q", ctype)
	}
	fields["type"] = json.RawMessage(`"` + ctype + `"`)

	merged, err := json.Marshal(fields)
	if err != nil {
		return nil, err
	}
	return ticket.UnmarshalContent(merged)
}

func renameField(fields map[string]json.RawMessage, alias, canonical string) {
	if v, ok := fields[alias]; ok {
		if _, exists := fields[canonical]; !exists {
			fields[canonical] = v
		}
		delete(fields, alias)
	}
}

// sortByUrgency orders tickets by priority weight descending, then oldest
// first.
func sortByUrgency(ts []*ticket.Ticket) {
	sort.SliceStable(ts, func(i, j int) bool {
		wi, wj := ts[i].Priority.Weight(), ts[j].Priority.Weight()
		if wi != wj {
			return wi > wj
		}
		return ts[i].CreatedAt.Before(ts[j].CreatedAt)
	})
}
