package planner

import (
	"strings"
	"time"
)

// Priority is the urgency level of an action item.
type Priority string

// Status is the completion state of an action item.
type Status string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"

	StatusPending    Status = "PENDING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusCompleted  Status = "COMPLETED"
)

// ActionItem is one actionable follow-up extracted from a transcript.
type ActionItem struct {
	Title       string
	Description string
	DueDate     *time.Time
	Priority    Priority
	Status      Status
}

// PlanDraft is the structured output of the plan generator.
type PlanDraft struct {
	Title   string
	Summary string
	Actions []ActionItem
}

// Details is the structured output of the detail generator: a step
// breakdown of the plan, a category code, and mermaid workflow text.
// The zero value is the degraded "no enrichment" result.
type Details struct {
	Steps        []string
	CategoryCode string
	Workflow     string
}

// Model output is coerced, never rejected: unknown tokens fall back to the
// defaults below, matching case-insensitively.
//
//	priority  LOW | MEDIUM | HIGH            default MEDIUM
//	status    PENDING | IN_PROGRESS |        default PENDING
//	          COMPLETED
//	due date  RFC3339, then bare datetime,   unparseable left unset
//	          then date-only

// ParsePriority coerces a model-supplied priority token.
func ParsePriority(s string) Priority {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "LOW":
		return PriorityLow
	case "HIGH":
		return PriorityHigh
	case "MEDIUM":
		return PriorityMedium
	default:
		return PriorityMedium
	}
}

// ParseStatus coerces a model-supplied status token.
func ParseStatus(s string) Status {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "IN_PROGRESS":
		return StatusInProgress
	case "COMPLETED":
		return StatusCompleted
	case "PENDING":
		return StatusPending
	default:
		return StatusPending
	}
}

var dueDateLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseDueDate parses a model-supplied due date permissively: full
// timestamp first, then date-only. Unparseable input returns nil so the
// field is left unset rather than failing the item.
func ParseDueDate(s string) *time.Time {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "null") {
		return nil
	}

	for _, layout := range dueDateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}

	return nil
}
