package task

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // SQLite driver
)

const schema = `
CREATE TABLE IF NOT EXISTS projects (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	goal       TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS tasks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	project_id   INTEGER NOT NULL,
	description  TEXT NOT NULL,
	task_type    TEXT NOT NULL DEFAULT 'general',
	dependencies TEXT NOT NULL DEFAULT '[]',
	status       TEXT NOT NULL DEFAULT 'pending',
	code         TEXT NOT NULL DEFAULT '',
	output       TEXT NOT NULL DEFAULT '',
	test_status  TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	updated_at   DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS agents (
	name        TEXT PRIMARY KEY,
	description TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);
`

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore persists projects and tasks in a SQLite database.
// The underlying *sql.DB is a connection pool and is safe for use from
// concurrent dispatch workers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at dbPath and ensures
// the schema exists. The caller is responsible for calling Close.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1) // prevent SQLITE_BUSY
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// Close releases the underlying database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// CreateProject persists a new project and returns its assigned ID.
func (s *SQLiteStore) CreateProject(goal string) (int64, error) {
	res, err := s.db.Exec(
		`INSERT INTO projects (goal, created_at) VALUES (?, ?)`,
		goal, time.Now().UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("insert project: %w", err)
	}
	return res.LastInsertId()
}

// GetProject retrieves a project by ID.
func (s *SQLiteStore) GetProject(id int64) (*Project, error) {
	var p Project
	err := s.db.QueryRow(
		`SELECT id, goal, created_at FROM projects WHERE id = ?`, id,
	).Scan(&p.ID, &p.Goal, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("project %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get project %d: %w", id, err)
	}
	return &p, nil
}

// CreateTask persists a new task and sets its ID, CreatedAt, and UpdatedAt.
// IDs are assigned monotonically by SQLite AUTOINCREMENT.
func (s *SQLiteStore) CreateTask(t *Task) (int64, error) {
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Type == "" {
		t.Type = TypeGeneral
	}
	deps, _ := json.Marshal(t.Dependencies)

	res, err := s.db.Exec(`
		INSERT INTO tasks
			(project_id, description, task_type, dependencies, status,
			 code, output, test_status, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		t.ProjectID, t.Description, string(t.Type), string(deps), string(t.Status),
		t.Code, t.Output, string(t.TestStatus), t.CreatedAt, t.UpdatedAt,
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	t.ID = id
	return id, nil
}

const taskColumns = `id, project_id, description, task_type, dependencies,
	status, code, output, test_status, created_at, updated_at`

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(id int64) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return t, err
}

// List returns tasks matching the filter, ordered by ID.
func (s *SQLiteStore) List(filter Filter) ([]*Task, error) {
	q := strings.Builder{}
	q.WriteString(`SELECT ` + taskColumns + ` FROM tasks WHERE 1=1`)
	args := []any{}

	if filter.ProjectID != 0 {
		q.WriteString(" AND project_id=?")
		args = append(args, filter.ProjectID)
	}
	if filter.Status != nil {
		q.WriteString(" AND status=?")
		args = append(args, string(*filter.Status))
	}
	if filter.Type != "" {
		q.WriteString(" AND task_type=?")
		args = append(args, string(filter.Type))
	}
	q.WriteString(" ORDER BY id ASC")

	rows, err := s.db.Query(q.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// HasTasks reports whether any tasks exist for the project.
func (s *SQLiteStore) HasTasks(projectID int64) (bool, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(1) FROM tasks WHERE project_id = ?`, projectID,
	).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("count tasks: %w", err)
	}
	return n > 0, nil
}

// FinishTask records a task's terminal outcome in a single update.
// Code and output are written exactly once, together with the status.
func (s *SQLiteStore) FinishTask(id int64, code, output string, status Status) error {
	res, err := s.db.Exec(`
		UPDATE tasks SET code=?, output=?, status=?, updated_at=?
		WHERE id=?`,
		code, output, string(status), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("finish task %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

// SetTestStatus records the tester worker's verdict for a task.
func (s *SQLiteStore) SetTestStatus(id int64, ts TestStatus) error {
	res, err := s.db.Exec(
		`UPDATE tasks SET test_status=?, updated_at=? WHERE id=?`,
		string(ts), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("set test status %d: %w", id, err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	return nil
}

// LatestCompletedSource returns the most recent completed code_writing or
// api_integration task in the project, or nil when none exists.
func (s *SQLiteStore) LatestCompletedSource(projectID int64) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT `+taskColumns+` FROM tasks
		WHERE project_id = ? AND status = 'completed'
		  AND task_type IN ('code_writing', 'api_integration')
		ORDER BY id DESC LIMIT 1`,
		projectID,
	)
	t, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return t, err
}

// RegisterAgent records a generated agent. Registering an existing name
// is a no-op.
func (s *SQLiteStore) RegisterAgent(name, description string) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO agents (name, description, created_at) VALUES (?,?,?)`,
		name, description, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("register agent %s: %w", name, err)
	}
	return nil
}

// GetAgent retrieves a generated-agent registration by name.
func (s *SQLiteStore) GetAgent(name string) (*Agent, error) {
	var a Agent
	err := s.db.QueryRow(
		`SELECT name, description, created_at FROM agents WHERE name = ?`, name,
	).Scan(&a.Name, &a.Description, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("agent %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get agent %s: %w", name, err)
	}
	return &a, nil
}

// ListAgents returns all generated-agent registrations ordered by name.
func (s *SQLiteStore) ListAgents() ([]*Agent, error) {
	rows, err := s.db.Query(
		`SELECT name, description, created_at FROM agents ORDER BY name ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		var a Agent
		if err := rows.Scan(&a.Name, &a.Description, &a.CreatedAt); err != nil {
			return nil, err
		}
		agents = append(agents, &a)
	}
	return agents, rows.Err()
}

// scanner abstracts sql.Row and sql.Rows for scanTask.
type scanner interface {
	Scan(dest ...any) error
}

func scanTask(s scanner) (*Task, error) {
	var t Task
	var taskType, status, testStatus, depsJSON string

	err := s.Scan(
		&t.ID, &t.ProjectID, &t.Description, &taskType, &depsJSON,
		&status, &t.Code, &t.Output, &testStatus,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.Type = Type(taskType)
	t.Status = Status(status)
	t.TestStatus = TestStatus(testStatus)
	_ = json.Unmarshal([]byte(depsJSON), &t.Dependencies)
	return &t, nil
}
