// Package notify delivers outbound callbacks: resolution notices back to
// the originating channel and hand-offs to the coding agent.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/deskpipe-io/deskpipe/internal/ticket"
)

// Notifier posts resolution and hand-off payloads to the configured
// automation webhooks. A Notifier with empty URLs is a no-op.
type Notifier struct {
	resolutionURL string
	codingURL     string
	client        *http.Client
	logger        *slog.Logger
}

func New(resolutionURL, codingURL string, logger *slog.Logger) *Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &Notifier{
		resolutionURL: resolutionURL,
		codingURL:     codingURL,
		client:        &http.Client{Timeout: 10 * time.Second},
		logger:        logger,
	}
}

// defaultMessages are the canned responses sent when the resolver gave no
// message of their own.
var defaultMessages = map[ticket.ResolveAction]string{
	ticket.ResolveManual:              "Your ticket has been resolved by our support team.",
	ticket.ResolveFAQLink:             "We found an existing answer for your question. Please see the linked article.",
	ticket.ResolveAutoResponse:        "This ticket was resolved automatically.",
	ticket.ResolveReboot:              "A service restart resolved this issue.",
	ticket.ResolveConfigChange:        "A configuration change resolved this issue.",
	ticket.ResolveDuplicateClose:      "This ticket was closed as a duplicate of an existing report.",
	ticket.ResolveSelfServiceRedirect: "Please use the self-service portal for this request.",
}

// SendResolution notifies the originating channel that a ticket was
// resolved. Returns nil when no resolution webhook is configured.
func (n *Notifier) SendResolution(ctx context.Context, t *ticket.Ticket, message string) error {
	if n.resolutionURL == "" {
		return nil
	}
	if message == "" {
		message = defaultMessages[t.ResolutionAction]
	}

	payload := map[string]any{
		"event":       "ticket.resolved",
		"ticket_id":   t.ID,
		"source":      string(t.Source),
		"source_data": sourceData(t),
		"resolution": map[string]any{
			"action":      string(t.ResolutionAction),
			"message":     message,
			"resolved_by": t.Assignee,
		},
		"ticket_summary": map[string]any{
			"title":       t.EffectiveTitle(),
			"description": t.EffectiveDescription(),
			"category":    string(t.Category),
			"priority":    string(t.Priority),
		},
	}
	if err := n.post(ctx, n.resolutionURL, payload); err != nil {
		return fmt.Errorf("notify: resolution: %w", err)
	}
	return nil
}

// DispatchCodingAgent hands a ticket to the coding-agent webhook. Returns
// nil when no coding webhook is configured.
func (n *Notifier) DispatchCodingAgent(ctx context.Context, t *ticket.Ticket) error {
	if n.codingURL == "" {
		return nil
	}
	payload := map[string]any{
		"event":       "ticket.coding_requested",
		"ticket_id":   t.ID,
		"title":       t.EffectiveTitle(),
		"description": t.EffectiveDescription(),
		"priority":    string(t.Priority),
		"tags":        t.Tags,
		"source":      string(t.Source),
		"source_data": sourceData(t),
	}
	if err := n.post(ctx, n.codingURL, payload); err != nil {
		return fmt.Errorf("notify: coding agent: %w", err)
	}
	return nil
}

// sourceData extracts the channel-native addressing needed to reply where
// the ticket came from.
func sourceData(t *ticket.Ticket) map[string]any {
	switch c := t.Content.(type) {
	case *ticket.EmailContent:
		return map[string]any{
			"recipient": c.SenderEmail,
			"subject":   c.Subject,
			"thread_id": c.ThreadID,
		}
	case *ticket.DiscordContent:
		return map[string]any{
			"channel_id": c.ChannelID,
			"user_id":    c.UserID,
			"message_id": c.MessageID,
		}
	case *ticket.GitHubContent:
		return map[string]any{
			"repo":         c.Repo,
			"issue_number": c.IssueNumber,
			"url":          c.URL,
		}
	case *ticket.SMSContent:
		return map[string]any{
			"phone_number": c.SenderPhoneNumber,
		}
	case *ticket.FormContent:
		return map[string]any{
			"email": c.SubmitterEmail,
		}
	}
	return map[string]any{}
}

func (n *Notifier) post(ctx context.Context, url string, payload map[string]any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
