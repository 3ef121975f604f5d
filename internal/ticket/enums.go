package ticket

import "fmt"

// Status is the lifecycle state of a ticket.
type Status string

const (
	StatusInbox         Status = "INBOX"
	StatusTriaging      Status = "TRIAGING"
	StatusTriagePending Status = "TRIAGE_PENDING"
	StatusAssigned      Status = "ASSIGNED"
	StatusInProgress    Status = "IN_PROGRESS"
	StatusResolved      Status = "RESOLVED"
	StatusClosed        Status = "CLOSED"
)

// Priority is the urgency level of a ticket.
type Priority string

const (
	PriorityLow      Priority = "LOW"
	PriorityMedium   Priority = "MEDIUM"
	PriorityHigh     Priority = "HIGH"
	PriorityCritical Priority = "CRITICAL"
)

// Category classifies what a ticket is about. The zero value means
// "not yet classified".
type Category string

const (
	CategoryBilling          Category = "BILLING"
	CategoryTechnicalSupport Category = "TECHNICAL_SUPPORT"
	CategoryFeatureRequest   Category = "FEATURE_REQUEST"
	CategoryBugReport        Category = "BUG_REPORT"
	CategoryAdmin            Category = "ADMIN"
	CategoryOther            Category = "OTHER"
)

// Queue identifies one of the five pipeline stages.
type Queue string

const (
	QueueInbox      Queue = "INBOX"
	QueueTriage     Queue = "TRIAGE"
	QueueAssignment Queue = "ASSIGNMENT"
	QueueActive     Queue = "ACTIVE"
	QueueResolution Queue = "RESOLUTION"
)

// AllQueues lists the queues in pipeline order.
var AllQueues = []Queue{QueueInbox, QueueTriage, QueueAssignment, QueueActive, QueueResolution}

// Source identifies the channel a ticket was ingested from.
type Source string

const (
	SourceEmail   Source = "EMAIL"
	SourceDiscord Source = "DISCORD"
	SourceGitHub  Source = "GITHUB"
	SourceForm    Source = "FORM"
	SourceWebhook Source = "WEBHOOK"
)

// ResolveAction records how a ticket was resolved.
type ResolveAction string

const (
	ResolveManual              ResolveAction = "MANUAL"
	ResolveFAQLink             ResolveAction = "FAQ_LINK"
	ResolveAutoResponse        ResolveAction = "AUTO_RESPONSE"
	ResolveReboot              ResolveAction = "REBOOT"
	ResolveConfigChange        ResolveAction = "CONFIG_CHANGE"
	ResolveDuplicateClose      ResolveAction = "DUPLICATE_CLOSE"
	ResolveSelfServiceRedirect ResolveAction = "SELF_SERVICE_REDIRECT"
	ResolveNone                ResolveAction = "NONE"
)

// Weight returns the numeric urgency used for queue ordering. Unknown
// priorities rank as MEDIUM.
func (p Priority) Weight() int {
	switch p {
	case PriorityLow:
		return 1
	case PriorityMedium:
		return 2
	case PriorityHigh:
		return 3
	case PriorityCritical:
		return 4
	}
	return 2
}

// validTransitions is the legal state transition table. A move to INBOX is
// additionally always legal (reset/escalation) and handled by the mutators.
var validTransitions = map[Status][]Status{
	StatusInbox:         {StatusTriaging, StatusTriagePending},
	StatusTriaging:      {StatusTriagePending, StatusAssigned, StatusResolved},
	StatusTriagePending: {StatusAssigned, StatusResolved, StatusClosed},
	StatusAssigned:      {StatusInProgress, StatusResolved, StatusInbox, StatusClosed},
	StatusInProgress:    {StatusResolved, StatusAssigned, StatusInbox, StatusClosed},
	StatusResolved:      {StatusInProgress, StatusClosed},
	StatusClosed:        {StatusInbox},
}

// queueStatus couples each queue to the status a ticket carries while in it.
// CLOSED has no queue of its own; a closed ticket keeps its last queue.
var queueStatus = map[Queue]Status{
	QueueInbox:      StatusInbox,
	QueueTriage:     StatusTriagePending,
	QueueAssignment: StatusAssigned,
	QueueActive:     StatusInProgress,
	QueueResolution: StatusResolved,
}

// QueueStatus returns the status coupled to q.
func QueueStatus(q Queue) Status {
	return queueStatus[q]
}

// CanTransition reports whether the from → to status transition is in the
// legal transition table.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusInbox, StatusTriaging, StatusTriagePending, StatusAssigned,
		StatusInProgress, StatusResolved, StatusClosed:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown status %q", s)
}

func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityCritical:
		return Priority(s), nil
	}
	return "", fmt.Errorf("unknown priority %q", s)
}

func ParseCategory(s string) (Category, error) {
	switch Category(s) {
	case CategoryBilling, CategoryTechnicalSupport, CategoryFeatureRequest,
		CategoryBugReport, CategoryAdmin, CategoryOther:
		return Category(s), nil
	}
	return "", fmt.Errorf("unknown category %q", s)
}

func ParseQueue(s string) (Queue, error) {
	switch Queue(s) {
	case QueueInbox, QueueTriage, QueueAssignment, QueueActive, QueueResolution:
		return Queue(s), nil
	}
	return "", fmt.Errorf("unknown queue %q", s)
}

func ParseSource(s string) (Source, error) {
	switch Source(s) {
	case SourceEmail, SourceDiscord, SourceGitHub, SourceForm, SourceWebhook:
		return Source(s), nil
	}
	return "", fmt.Errorf("unknown source %q", s)
}

func ParseResolveAction(s string) (ResolveAction, error) {
	switch ResolveAction(s) {
	case ResolveManual, ResolveFAQLink, ResolveAutoResponse, ResolveReboot,
		ResolveConfigChange, ResolveDuplicateClose, ResolveSelfServiceRedirect,
		ResolveNone:
		return ResolveAction(s), nil
	}
	return "", fmt.Errorf("unknown resolution action %q", s)
}
