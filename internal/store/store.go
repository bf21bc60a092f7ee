package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS employees (
	id TEXT PRIMARY KEY,
	first_name TEXT NOT NULL,
	last_name TEXT NOT NULL,
	email TEXT NOT NULL UNIQUE,
	position TEXT NOT NULL DEFAULT '',
	avatar TEXT NOT NULL DEFAULT '',
	browser_activity TEXT NOT NULL DEFAULT '[]',
	last_login TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS action_plans (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	workflow TEXT NOT NULL DEFAULT '',
	urgency INTEGER NOT NULL DEFAULT 5,
	priority TEXT NOT NULL DEFAULT 'MEDIUM',
	status TEXT NOT NULL DEFAULT 'PENDING',
	start_date TEXT NOT NULL,
	end_date TEXT,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	employee_id TEXT NOT NULL REFERENCES employees(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	due_date TEXT,
	code TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'PENDING',
	priority TEXT NOT NULL DEFAULT 'MEDIUM',
	position INTEGER NOT NULL DEFAULT 0,
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL,
	action_plan_id TEXT NOT NULL REFERENCES action_plans(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_action_plans_employee ON action_plans(employee_id);
CREATE INDEX IF NOT EXISTS idx_actions_plan ON actions(action_plan_id);
`

// Store wraps the SQLite database holding employees, plans and actions.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path with WAL and foreign keys
// enabled.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// CreateEmployee inserts a new employee record. Missing id and timestamps
// are filled in.
func (s *Store) CreateEmployee(ctx context.Context, e *Employee) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	if e.BrowserActivity == "" {
		e.BrowserActivity = "[]"
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO employees (id, first_name, last_name, email, position, avatar,
			browser_activity, last_login, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.FirstName, e.LastName, e.Email, e.Position, e.Avatar,
		e.BrowserActivity, formatNullTime(e.LastLogin), formatTime(e.CreatedAt), formatTime(e.UpdatedAt))
	if err != nil {
		return fmt.Errorf("insert employee: %w", err)
	}
	return nil
}

// EmployeeByEmail returns the employee with the given email, or (nil, nil)
// when no such employee exists.
func (s *Store) EmployeeByEmail(ctx context.Context, email string) (*Employee, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, first_name, last_name, email, position, avatar,
			browser_activity, last_login, created_at, updated_at
		FROM employees
		WHERE email = ?
	`, email)

	var e Employee
	var lastLogin sql.NullString
	var createdAt, updatedAt string

	if err := row.Scan(&e.ID, &e.FirstName, &e.LastName, &e.Email, &e.Position,
		&e.Avatar, &e.BrowserActivity, &lastLogin, &createdAt, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan employee: %w", err)
	}

	e.LastLogin = parseNullTime(lastLogin)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updatedAt)

	return &e, nil
}

// UpdateBrowserActivity replaces the employee's browsing activity log with
// the given JSON array.
func (s *Store) UpdateBrowserActivity(ctx context.Context, employeeID, activityJSON string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE employees SET browser_activity = ?, updated_at = ? WHERE id = ?
	`, activityJSON, formatTime(time.Now().UTC()), employeeID)
	if err != nil {
		return fmt.Errorf("update browser activity: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update browser activity: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("employee %s not found", employeeID)
	}
	return nil
}

// SaveActionPlan inserts a plan and all of its actions in one transaction.
// On any error nothing is committed; readers never see a plan with a
// partial action set.
func (s *Store) SaveActionPlan(ctx context.Context, plan *ActionPlan, actions []*Action) error {
	now := time.Now().UTC()

	if plan.ID == "" {
		plan.ID = uuid.NewString()
	}
	if plan.Urgency == 0 {
		plan.Urgency = 5
	}
	if plan.Priority == "" {
		plan.Priority = "MEDIUM"
	}
	if plan.Status == "" {
		plan.Status = "PENDING"
	}
	if plan.StartDate.IsZero() {
		plan.StartDate = now
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = now
	}
	plan.UpdatedAt = now

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO action_plans (id, title, description, workflow, urgency, priority,
			status, start_date, end_date, created_at, updated_at, employee_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, plan.ID, plan.Title, plan.Description, plan.Workflow, plan.Urgency, plan.Priority,
		plan.Status, formatTime(plan.StartDate), formatNullTime(plan.EndDate),
		formatTime(plan.CreatedAt), formatTime(plan.UpdatedAt), plan.EmployeeID)
	if err != nil {
		return fmt.Errorf("insert action plan: %w", err)
	}

	for i, a := range actions {
		if a.ID == "" {
			a.ID = uuid.NewString()
		}
		if a.Status == "" {
			a.Status = "PENDING"
		}
		if a.Priority == "" {
			a.Priority = "MEDIUM"
		}
		a.Position = i
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		a.UpdatedAt = now
		a.ActionPlanID = plan.ID

		_, err = tx.ExecContext(ctx, `
			INSERT INTO actions (id, title, description, due_date, code, status,
				priority, position, created_at, updated_at, action_plan_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, a.ID, a.Title, a.Description, formatNullTime(a.DueDate), a.Code, a.Status,
			a.Priority, a.Position, formatTime(a.CreatedAt), formatTime(a.UpdatedAt), a.ActionPlanID)
		if err != nil {
			return fmt.Errorf("insert action %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}

// PlansForEmployee returns all plans for an employee, newest first.
func (s *Store) PlansForEmployee(ctx context.Context, employeeID string) ([]ActionPlan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, workflow, urgency, priority, status,
			start_date, end_date, created_at, updated_at, employee_id
		FROM action_plans
		WHERE employee_id = ?
		ORDER BY created_at DESC, id
	`, employeeID)
	if err != nil {
		return nil, fmt.Errorf("query action plans: %w", err)
	}
	defer rows.Close()

	var plans []ActionPlan
	for rows.Next() {
		var p ActionPlan
		var startDate, createdAt, updatedAt string
		var endDate sql.NullString
		if err := rows.Scan(&p.ID, &p.Title, &p.Description, &p.Workflow, &p.Urgency,
			&p.Priority, &p.Status, &startDate, &endDate, &createdAt, &updatedAt, &p.EmployeeID); err != nil {
			return nil, fmt.Errorf("scan action plan: %w", err)
		}
		p.StartDate = parseTime(startDate)
		p.EndDate = parseNullTime(endDate)
		p.CreatedAt = parseTime(createdAt)
		p.UpdatedAt = parseTime(updatedAt)
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// ActionsForPlan returns a plan's actions in generation order.
func (s *Store) ActionsForPlan(ctx context.Context, planID string) ([]Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, description, due_date, code, status, priority,
			position, created_at, updated_at, action_plan_id
		FROM actions
		WHERE action_plan_id = ?
		ORDER BY position ASC
	`, planID)
	if err != nil {
		return nil, fmt.Errorf("query actions: %w", err)
	}
	defer rows.Close()

	var actions []Action
	for rows.Next() {
		var a Action
		var dueDate sql.NullString
		var createdAt, updatedAt string
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &dueDate, &a.Code,
			&a.Status, &a.Priority, &a.Position, &createdAt, &updatedAt, &a.ActionPlanID); err != nil {
			return nil, fmt.Errorf("scan action: %w", err)
		}
		a.DueDate = parseNullTime(dueDate)
		a.CreatedAt = parseTime(createdAt)
		a.UpdatedAt = parseTime(updatedAt)
		actions = append(actions, a)
	}
	return actions, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatNullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func parseNullTime(s sql.NullString) *time.Time {
	if !s.Valid || s.String == "" {
		return nil
	}
	t := parseTime(s.String)
	return &t
}
