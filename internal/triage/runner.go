package triage

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/deskpipe-io/deskpipe/internal/events"
	"github.com/deskpipe-io/deskpipe/internal/notify"
	"github.com/deskpipe-io/deskpipe/internal/queue"
	"github.com/deskpipe-io/deskpipe/internal/roster"
	"github.com/deskpipe-io/deskpipe/internal/store"
	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

// routeThreshold is the confidence at or above which the classifier's
// verdict is applied without human review.
const routeThreshold = 0.8

// Classifier produces a verdict for a ticket.
type Classifier interface {
	AnalyzeTriage(ctx context.Context, req Request) (*Result, error)
}

// Runner drives automatic triage. It is hooked to the queue manager's
// INBOX arrivals and owns the INBOX → TRIAGE/ASSIGNMENT routing decision.
type Runner struct {
	Classifier Classifier
	Repo       store.Repository
	Queues     *queue.Manager
	Events     *events.Publisher
	Roster     *roster.Roster
	Notify     *notify.Notifier
	Logger     *slog.Logger
}

const actor = "ai-triage"

// Run triages one ticket. Classifier failures are absorbed: the ticket
// stays in INBOX for manual handling and the error is only logged.
func (r *Runner) Run(ctx context.Context, ticketID string) {
	logger := r.logger().With("ticket_id", ticketID)

	t, err := r.Repo.Get(ticketID)
	if err != nil {
		logger.Warn("triage skipped, ticket not loadable", "error", err)
		return
	}
	if t.Status != ticket.StatusInbox || t.CurrentQueue != ticket.QueueInbox {
		logger.Debug("triage skipped, ticket not in inbox",
			"status", string(t.Status), "queue", string(t.CurrentQueue))
		return
	}

	// Mark the ticket as being classified. The queue stays INBOX.
	if err := t.TransitionTo(ticket.StatusTriaging); err != nil {
		logger.Warn("triage skipped", "error", err)
		return
	}
	if err := r.Repo.Save(t); err != nil {
		logger.Error("triage state save failed", "error", err)
		return
	}

	result, err := r.Classifier.AnalyzeTriage(ctx, Request{
		Ticket:          t,
		AvailableAgents: r.Roster.Available(),
	})
	if err != nil {
		logger.Warn("classifier unavailable, ticket stays in inbox", "error", err)
		t.TransitionTo(ticket.StatusInbox)
		if err := r.Repo.Save(t); err != nil {
			logger.Error("inbox revert save failed", "error", err)
		}
		return
	}

	r.apply(t, result, logger)
	r.route(t, result, logger)

	if err := r.Repo.Save(t); err != nil {
		logger.Error("triage result save failed", "error", err)
		return
	}

	if t.HasTag("coding") && r.Notify != nil {
		tk := t
		go func() {
			if err := r.Notify.DispatchCodingAgent(context.Background(), tk); err != nil {
				logger.Warn("coding agent dispatch failed", "error", err)
			}
		}()
	}
}

// apply copies the verdict onto the ticket. Values that don't parse as
// known enums are skipped rather than failing the whole triage.
func (r *Runner) apply(t *ticket.Ticket, res *Result, logger *slog.Logger) {
	if res.Category != "" {
		if c, err := ticket.ParseCategory(res.Category); err == nil {
			t.SetCategory(c)
		} else {
			logger.Warn("classifier returned unknown category", "category", res.Category)
		}
	}
	if res.Priority != "" {
		if p, err := ticket.ParsePriority(res.Priority); err == nil {
			t.SetPriority(p)
			r.Queues.UpdatePriority(t.ID, p)
		} else {
			logger.Warn("classifier returned unknown priority", "priority", res.Priority)
		}
	}
	for _, tag := range res.Tags {
		t.AddTag(tag)
	}
	if res.SuggestedAssignee != "" {
		if _, ok := r.Roster.Get(res.SuggestedAssignee); ok {
			t.SetSuggestedAssignee(res.SuggestedAssignee)
		} else {
			logger.Warn("classifier suggested unknown agent", "agent_id", res.SuggestedAssignee)
		}
	}
	t.MergeReasoning(res.Extra)
}

func (r *Runner) route(t *ticket.Ticket, res *Result, logger *slog.Logger) {
	from := t.CurrentQueue

	if res.Confidence >= routeThreshold {
		reason := fmt.Sprintf("AI Auto-Triage (confidence=%g)", res.Confidence)
		assigned := false
		if t.SuggestedAssignee != "" {
			if err := t.Assign(t.SuggestedAssignee); err == nil {
				assigned = true
			}
		}
		if !assigned {
			if err := t.PromoteToAssignment(); err != nil {
				logger.Warn("auto-triage promotion failed", "error", err)
				t.TransitionTo(ticket.StatusInbox)
				return
			}
		}
		r.Queues.MoveTicket(t.ID, ticket.QueueAssignment, reason, actor)
		r.Events.TicketMoved(t, from, ticket.QueueAssignment, reason)
		if assigned {
			r.Events.TicketAssigned(t, t.Assignee, reason)
		}
		logger.Info("ticket auto-triaged",
			"confidence", res.Confidence, "assignee", t.Assignee)
		return
	}

	reason := fmt.Sprintf("AI Triage Needed (confidence=%g)", res.Confidence)
	if err := t.MoveToQueue(ticket.QueueTriage); err != nil {
		logger.Warn("triage handoff failed", "error", err)
		t.TransitionTo(ticket.StatusInbox)
		return
	}
	r.Queues.MoveTicket(t.ID, ticket.QueueTriage, reason, actor)
	r.Events.TicketTriagePending(t, res.Confidence, reason)
	r.Events.TicketMoved(t, from, ticket.QueueTriage, reason)
	logger.Info("ticket queued for manual triage", "confidence", res.Confidence)
}

func (r *Runner) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}
