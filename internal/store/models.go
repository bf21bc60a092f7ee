package store

import "time"

// Employee represents a registered user of the extension.
type Employee struct {
	ID              string
	FirstName       string
	LastName        string
	Email           string
	Position        string
	Avatar          string
	BrowserActivity string // JSON array, stored as text
	LastLogin       *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ActionPlan represents a persisted meeting plan: the summary, metadata and
// optional workflow diagram produced from one recording.
type ActionPlan struct {
	ID          string
	Title       string
	Description string
	Workflow    string // mermaid diagram text, may be empty
	Urgency     int
	Priority    string
	Status      string
	StartDate   time.Time
	EndDate     *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	EmployeeID  string
}

// Action represents one actionable item belonging to a plan, either
// extracted directly from the transcript or synthesized from the summary.
type Action struct {
	ID           string
	Title        string
	Description  string
	DueDate      *time.Time
	Code         string // category code, may be empty
	Status       string
	Priority     string
	Position     int // generation order within the plan
	CreatedAt    time.Time
	UpdatedAt    time.Time
	ActionPlanID string
}
