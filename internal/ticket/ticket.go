package ticket

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Ticket is a normalized unit of inbound work, regardless of the channel it
// arrived on. Mutators keep status and queue coupled; callers never set the
// two independently.
type Ticket struct {
	ID                string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Source            Source
	Content           Content
	Title             string
	Description       string
	Priority          Priority
	Category          Category
	Status            Status
	CurrentQueue      Queue
	Assignee          string
	SuggestedAssignee string
	Tags              []string
	AIReasoning       map[string]any
	AutoResponses     []string
	ResolutionAction  ResolveAction
}

// New creates a ticket in the INBOX queue with default MEDIUM priority.
func New(source Source, content Content) *Ticket {
	now := time.Now().UTC()
	return &Ticket{
		ID:           uuid.NewString(),
		CreatedAt:    now,
		UpdatedAt:    now,
		Source:       source,
		Content:      content,
		Priority:     PriorityMedium,
		Status:       StatusInbox,
		CurrentQueue: QueueInbox,
	}
}

func (t *Ticket) touch() {
	t.UpdatedAt = time.Now().UTC()
}

// InvalidTransitionError reports a status change rejected by the
// transition table.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("ticket: invalid transition %s -> %s", e.From, e.To)
}

// EffectiveTitle returns the display title, falling back to channel fields
// when no explicit title was set.
func (t *Ticket) EffectiveTitle() string {
	if t.Title != "" {
		return t.Title
	}
	switch c := t.Content.(type) {
	case *EmailContent:
		if c.Subject != "" {
			return c.Subject
		}
	case *GitHubContent:
		if c.IssueTitle != "" {
			return c.IssueTitle
		}
	case *DiscordContent:
		return truncate(c.MessageText, 100)
	case *SMSContent:
		return truncate(c.MessageBody, 100)
	case *FormContent:
		if s, ok := c.FormFields["subject"].(string); ok && s != "" {
			return s
		}
	}
	return fmt.Sprintf("%s ticket %s", t.Source, t.ID[:8])
}

// EffectiveDescription returns the display body, falling back to the
// content's extracted body.
func (t *Ticket) EffectiveDescription() string {
	if t.Description != "" {
		return t.Description
	}
	if t.Content != nil {
		return t.Content.ExtractBody()
	}
	return ""
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// MoveToQueue places the ticket in q and sets the coupled status. A move to
// INBOX is always legal (reset); other moves must respect the transition
// table for the coupled statuses.
func (t *Ticket) MoveToQueue(q Queue) error {
	target := QueueStatus(q)
	if target == "" {
		return fmt.Errorf("ticket: unknown queue %q", q)
	}
	if q == QueueInbox {
		t.CurrentQueue = QueueInbox
		t.Status = StatusInbox
		t.touch()
		return nil
	}
	if t.Status != target && !CanTransition(t.Status, target) {
		return &InvalidTransitionError{From: t.Status, To: target}
	}
	t.CurrentQueue = q
	t.Status = target
	t.touch()
	return nil
}

// Assign sets the assignee. Tickets still upstream of the assignment
// stage (INBOX, TRIAGING, TRIAGE_PENDING) are promoted to ASSIGNED in the
// ASSIGNMENT queue; anywhere else only the assignee changes, so
// reassignment never disturbs a ticket mid-work.
func (t *Ticket) Assign(agentID string) error {
	if agentID == "" {
		return fmt.Errorf("ticket: empty assignee")
	}
	switch t.Status {
	case StatusInbox, StatusTriaging, StatusTriagePending:
		t.Status = StatusAssigned
		t.CurrentQueue = QueueAssignment
	}
	t.Assignee = agentID
	t.touch()
	return nil
}

// Unassign clears the assignee and sends the ticket back to INBOX.
func (t *Ticket) Unassign() {
	t.Assignee = ""
	t.Status = StatusInbox
	t.CurrentQueue = QueueInbox
	t.touch()
}

// PromoteToAssignment moves the ticket to the ASSIGNMENT stage without
// picking an assignee yet.
func (t *Ticket) PromoteToAssignment() error {
	if t.Status != StatusAssigned && !CanTransition(t.Status, StatusAssigned) {
		return &InvalidTransitionError{From: t.Status, To: StatusAssigned}
	}
	t.Status = StatusAssigned
	t.CurrentQueue = QueueAssignment
	t.touch()
	return nil
}

// TransitionTo applies a status change validated against the transition
// table and keeps the queue coupled. INBOX is always reachable. A move to
// CLOSED leaves the queue untouched.
func (t *Ticket) TransitionTo(s Status) error {
	if s == t.Status {
		return nil
	}
	if s == StatusInbox {
		t.Status = StatusInbox
		t.CurrentQueue = QueueInbox
		t.Assignee = ""
		t.touch()
		return nil
	}
	if !CanTransition(t.Status, s) {
		return &InvalidTransitionError{From: t.Status, To: s}
	}
	t.Status = s
	switch s {
	case StatusClosed, StatusTriaging:
		// No queue of their own.
	case StatusTriagePending:
		t.CurrentQueue = QueueTriage
	case StatusAssigned:
		t.CurrentQueue = QueueAssignment
	case StatusInProgress:
		t.CurrentQueue = QueueActive
	case StatusResolved:
		t.CurrentQueue = QueueResolution
	}
	t.touch()
	return nil
}

// MarkResolved records the resolution action and moves the ticket to the
// RESOLUTION stage.
func (t *Ticket) MarkResolved(action ResolveAction) error {
	if t.Status != StatusResolved && !CanTransition(t.Status, StatusResolved) {
		return &InvalidTransitionError{From: t.Status, To: StatusResolved}
	}
	if action == "" {
		action = ResolveManual
	}
	t.ResolutionAction = action
	t.Status = StatusResolved
	t.CurrentQueue = QueueResolution
	t.touch()
	return nil
}

// Close finalizes a resolved ticket. Only RESOLVED tickets can be closed
// through this path; the queue is left as-is.
func (t *Ticket) Close() error {
	if t.Status != StatusResolved {
		return &InvalidTransitionError{From: t.Status, To: StatusClosed}
	}
	t.Status = StatusClosed
	t.touch()
	return nil
}

func (t *Ticket) SetPriority(p Priority) {
	t.Priority = p
	t.touch()
}

func (t *Ticket) SetCategory(c Category) {
	t.Category = c
	t.touch()
}

func (t *Ticket) SetTitle(s string) {
	t.Title = s
	t.touch()
}

func (t *Ticket) SetDescription(s string) {
	t.Description = s
	t.touch()
}

// AddTag appends tag unless already present.
func (t *Ticket) AddTag(tag string) {
	for _, existing := range t.Tags {
		if existing == tag {
			return
		}
	}
	t.Tags = append(t.Tags, tag)
	t.touch()
}

func (t *Ticket) RemoveTag(tag string) {
	for i, existing := range t.Tags {
		if existing == tag {
			t.Tags = append(t.Tags[:i], t.Tags[i+1:]...)
			t.touch()
			return
		}
	}
}

// HasTag reports whether tag is present.
func (t *Ticket) HasTag(tag string) bool {
	for _, existing := range t.Tags {
		if existing == tag {
			return true
		}
	}
	return false
}

// MergeReasoning folds classifier or triager output into the reasoning
// map. Existing keys are overwritten; nothing is ever removed here.
func (t *Ticket) MergeReasoning(fields map[string]any) {
	if len(fields) == 0 {
		return
	}
	if t.AIReasoning == nil {
		t.AIReasoning = make(map[string]any, len(fields))
	}
	for k, v := range fields {
		t.AIReasoning[k] = v
	}
	t.touch()
}

func (t *Ticket) SetSuggestedAssignee(agentID string) {
	t.SuggestedAssignee = agentID
	t.touch()
}

// AddAutoResponse records a canned response sent on the ticket's behalf.
func (t *Ticket) AddAutoResponse(text string) {
	t.AutoResponses = append(t.AutoResponses, text)
	t.touch()
}

// ClearAIData wipes everything the classifier wrote so a re-triage starts
// from the same state a fresh ticket would.
func (t *Ticket) ClearAIData() {
	t.Category = ""
	t.Priority = PriorityMedium
	t.SuggestedAssignee = ""
	t.AIReasoning = nil
	t.Tags = nil
	t.touch()
}

// ticketWire is the canonical JSON form.
type ticketWire struct {
	ID                string          `json:"id"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
	Source            Source          `json:"source"`
	Content           json.RawMessage `json:"content"`
	Title             string          `json:"title,omitempty"`
	Description       string          `json:"description,omitempty"`
	Priority          Priority        `json:"priority"`
	Category          *Category       `json:"category"`
	Status            Status          `json:"status"`
	CurrentQueue      Queue           `json:"current_queue"`
	Assignee          *string         `json:"assignee"`
	SuggestedAssignee *string         `json:"suggested_assignee,omitempty"`
	Tags              []string        `json:"tags"`
	AIReasoning       map[string]any  `json:"ai_reasoning,omitempty"`
	AutoResponses     []string        `json:"auto_responses,omitempty"`
	ResolutionAction  ResolveAction   `json:"resolution_action,omitempty"`
}

func (t *Ticket) MarshalJSON() ([]byte, error) {
	var content json.RawMessage
	if t.Content != nil {
		raw, err := MarshalContent(t.Content)
		if err != nil {
			return nil, fmt.Errorf("ticket: marshal content: %w", err)
		}
		content = raw
	}
	w := ticketWire{
		ID:               t.ID,
		CreatedAt:        t.CreatedAt.UTC(),
		UpdatedAt:        t.UpdatedAt.UTC(),
		Source:           t.Source,
		Content:          content,
		Title:            t.Title,
		Description:      t.Description,
		Priority:         t.Priority,
		Status:           t.Status,
		CurrentQueue:     t.CurrentQueue,
		Tags:             t.Tags,
		AIReasoning:      t.AIReasoning,
		AutoResponses:    t.AutoResponses,
		ResolutionAction: t.ResolutionAction,
	}
	if w.Tags == nil {
		w.Tags = []string{}
	}
	if t.Category != "" {
		c := t.Category
		w.Category = &c
	}
	if t.Assignee != "" {
		a := t.Assignee
		w.Assignee = &a
	}
	if t.SuggestedAssignee != "" {
		s := t.SuggestedAssignee
		w.SuggestedAssignee = &s
	}
	return json.Marshal(w)
}

func (t *Ticket) UnmarshalJSON(data []byte) error {
	var w ticketWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	t.ID = w.ID
	t.CreatedAt = w.CreatedAt
	t.UpdatedAt = w.UpdatedAt
	t.Source = w.Source
	t.Title = w.Title
	t.Description = w.Description
	t.Priority = w.Priority
	t.Status = w.Status
	t.CurrentQueue = w.CurrentQueue
	t.Tags = w.Tags
	t.AIReasoning = w.AIReasoning
	t.AutoResponses = w.AutoResponses
	t.ResolutionAction = w.ResolutionAction
	if w.Category != nil {
		t.Category = *w.Category
	} else {
		t.Category = ""
	}
	if w.Assignee != nil {
		t.Assignee = *w.Assignee
	} else {
		t.Assignee = ""
	}
	if w.SuggestedAssignee != nil {
		t.SuggestedAssignee = *w.SuggestedAssignee
	} else {
		t.SuggestedAssignee = ""
	}
	if len(w.Content) > 0 && string(w.Content) != "null" {
		c, err := UnmarshalContent(w.Content)
		if err != nil {
			return err
		}
		t.Content = c
	} else {
		t.Content = nil
	}
	return nil
}
