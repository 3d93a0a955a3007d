// Package task defines the project/task model and persistence for the
// orchestration core.
package task

import "time"

// Status represents the lifecycle state of a task. A task starts pending
// and moves exactly once to a terminal status; it never re-enters pending.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Type categorizes a task for worker routing. New types may be registered
// at runtime by the agent generator; unknown types route to the default
// code-writing worker.
type Type string

const (
	TypeRepoInit       Type = "repo_init"
	TypeDocumentation  Type = "documentation"
	TypeAPIIntegration Type = "api_integration"
	TypeCodeWriting    Type = "code_writing"

	// TypeGeneral is assigned when the planner omits a task type.
	TypeGeneral Type = "general"
)

// TestStatus is the verification outcome recorded by the tester worker.
// The no_code and generation_failed values are terminal-equivalent
// substates: the task's code could not be verified at all.
type TestStatus string

const (
	TestPass             TestStatus = "pass"
	TestFail             TestStatus = "fail"
	TestNoCode           TestStatus = "no_code"
	TestGenerationFailed TestStatus = "generation_failed"
)

// Project is a named goal owning a set of tasks. Created once and
// immutable thereafter.
type Project struct {
	ID        int64     `json:"id"`
	Goal      string    `json:"goal"`
	CreatedAt time.Time `json:"created_at"`
}

// Task is a unit of work produced by the planner and executed by a worker.
type Task struct {
	ID           int64      `json:"id"`
	ProjectID    int64      `json:"project_id"`
	Description  string     `json:"description"`
	Type         Type       `json:"task_type"`
	Dependencies []int64    `json:"dependencies,omitempty"`
	Status       Status     `json:"status"`
	Code         string     `json:"code,omitempty"`
	Output       string     `json:"output,omitempty"`
	TestStatus   TestStatus `json:"test_status,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Agent is a generated worker registration: its canonical name and the
// specification it was generated from.
type Agent struct {
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"created_at"`
}

// Filter controls which tasks are returned by List. Zero-valued
// fields do not filter.
type Filter struct {
	ProjectID int64   `json:"project_id,omitempty"`
	Status    *Status `json:"status,omitempty"`
	Type      Type    `json:"task_type,omitempty"`
}

// Store persists projects, tasks, and generated-agent registrations.
// Implementations must be safe for use from concurrent dispatch workers.
type Store interface {
	// CreateProject persists a new project and returns its assigned ID.
	CreateProject(goal string) (int64, error)

	// GetProject retrieves a project by ID.
	GetProject(id int64) (*Project, error)

	// CreateTask persists a new task and returns its assigned ID.
	// IDs are monotonically increasing within a store.
	CreateTask(t *Task) (int64, error)

	// GetTask retrieves a task by ID.
	GetTask(id int64) (*Task, error)

	// List returns tasks matching the filter, ordered by ID.
	List(filter Filter) ([]*Task, error)

	// HasTasks reports whether any tasks exist for the project.
	HasTasks(projectID int64) (bool, error)

	// FinishTask records a task's terminal outcome in a single update.
	FinishTask(id int64, code, output string, status Status) error

	// SetTestStatus records the tester worker's verdict for a task.
	SetTestStatus(id int64, ts TestStatus) error

	// LatestCompletedSource returns the most recent completed
	// code_writing or api_integration task in the project, or nil when
	// none exists.
	LatestCompletedSource(projectID int64) (*Task, error)

	// RegisterAgent records a generated agent; duplicate names are ignored.
	RegisterAgent(name, description string) error

	// GetAgent retrieves a generated-agent registration by name.
	GetAgent(name string) (*Agent, error)

	// ListAgents returns all generated-agent registrations.
	ListAgents() ([]*Agent, error)
}
