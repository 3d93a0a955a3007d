// Package planner turns a project goal into a dependency-annotated
// task list and persists it.
package planner

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gammazero/toposort"

	"github.com/metamorphhq/metamorph/cache"
	"github.com/metamorphhq/metamorph/comms"
	"github.com/metamorphhq/metamorph/provider"
	"github.com/metamorphhq/metamorph/retry"
	"github.com/metamorphhq/metamorph/task"
)

// PlanTTL is how long identical goals are served from cache; plans for
// the same goal are expected to be stable.
const PlanTTL = 86400 * time.Second

// PlannedTask is one entry of a generated plan. TaskID and Dependencies
// use plan-local 1-based numbering.
type PlannedTask struct {
	TaskID       int    `json:"task_id"`
	Description  string `json:"description"`
	Dependencies []int  `json:"dependencies"`
	TaskType     string `json:"task_type"`
}

type plan struct {
	Tasks []PlannedTask `json:"tasks"`
}

// Planner produces and stores task plans.
type Planner struct {
	gen   provider.Generator
	cache cache.Backend
	store task.Store
	bus   comms.Bus
	log   *slog.Logger

	// newBackOff builds the retry policy for the generation call;
	// overridable in tests.
	newBackOff func() backoff.BackOff
}

// New creates a Planner. cacheBackend and bus may be nil.
func New(gen provider.Generator, cacheBackend cache.Backend, store task.Store, bus comms.Bus, log *slog.Logger) *Planner {
	if log == nil {
		log = slog.Default()
	}
	return &Planner{
		gen:        gen,
		cache:      cacheBackend,
		store:      store,
		bus:        bus,
		log:        log,
		newBackOff: retry.DefaultBackOff,
	}
}

// Plan asks the generator to break goal into tasks. The retried
// generation call sits inside the cache wrapper, so a cache hit skips
// retries entirely. Malformed or cyclic plans are an error; nothing is
// cached for them.
func (p *Planner) Plan(ctx context.Context, goal string) ([]PlannedTask, error) {
	key := cache.Key("plan", goal)
	return cache.Cached(ctx, p.cache, key, PlanTTL, func() ([]PlannedTask, error) {
		raw, err := retry.DoWithBackOff(ctx, p.newBackOff(), func() (string, error) {
			return p.gen.Generate(ctx, planPrompt(goal))
		})
		if err != nil {
			return nil, fmt.Errorf("planning call: %w", err)
		}
		tasks, err := parsePlan(raw)
		if err != nil {
			p.log.Error("planner produced invalid plan", "goal", goal, "error", err)
			return nil, err
		}
		return tasks, nil
	})
}

// PlanAndStoreTasks plans once and persists every task in the returned
// order with status pending. A planning failure stores nothing. The
// serialized dependency list keeps the plan-local numbering; the
// dispatcher never dereferences it.
func (p *Planner) PlanAndStoreTasks(ctx context.Context, projectID int64, goal string) (int, error) {
	tasks, err := p.Plan(ctx, goal)
	if err != nil {
		return 0, fmt.Errorf("plan project %d: %w", projectID, err)
	}

	p.log.Info("storing generated plan", "project_id", projectID, "task_count", len(tasks))
	for _, pt := range tasks {
		deps := make([]int64, len(pt.Dependencies))
		for i, d := range pt.Dependencies {
			deps[i] = int64(d)
		}
		taskType := task.Type(pt.TaskType)
		if taskType == "" {
			taskType = task.TypeGeneral
		}
		t := &task.Task{
			ProjectID:    projectID,
			Description:  pt.Description,
			Type:         taskType,
			Dependencies: deps,
			Status:       task.StatusPending,
		}
		id, err := p.store.CreateTask(t)
		if err != nil {
			return 0, fmt.Errorf("store task %d of project %d: %w", pt.TaskID, projectID, err)
		}
		if p.bus != nil {
			p.bus.Publish(ctx, comms.Event{
				Type:      comms.EventPlanned,
				ProjectID: projectID,
				TaskID:    id,
				TaskType:  taskType,
				Status:    task.StatusPending,
			})
		}
	}
	return len(tasks), nil
}

// parsePlan decodes the generator output into a validated task list.
func parsePlan(raw string) ([]PlannedTask, error) {
	var parsed plan
	if err := json.Unmarshal([]byte(provider.StripFences(raw)), &parsed); err != nil {
		return nil, fmt.Errorf("parse plan: %w", err)
	}
	if len(parsed.Tasks) == 0 {
		return nil, fmt.Errorf("plan contains no tasks")
	}
	if err := checkAcyclic(parsed.Tasks); err != nil {
		return nil, err
	}
	return parsed.Tasks, nil
}

// checkAcyclic rejects plans whose dependency graph cannot be
// topologically sorted.
func checkAcyclic(tasks []PlannedTask) error {
	known := make(map[int]bool, len(tasks))
	for _, t := range tasks {
		known[t.TaskID] = true
	}

	var edges []toposort.Edge
	for _, t := range tasks {
		if len(t.Dependencies) == 0 {
			edges = append(edges, toposort.Edge{nil, t.TaskID})
			continue
		}
		for _, dep := range t.Dependencies {
			if dep == t.TaskID {
				return fmt.Errorf("task %d depends on itself", t.TaskID)
			}
			if !known[dep] {
				return fmt.Errorf("task %d depends on unknown task %d", t.TaskID, dep)
			}
			edges = append(edges, toposort.Edge{dep, t.TaskID})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("plan dependency cycle: %w", err)
	}
	return nil
}

func planPrompt(goal string) string {
	return fmt.Sprintf(`You are an expert software project manager. Break down the following high-level goal
into a series of specific, ordered, and actionable tasks. For each task, you must
also assign a task_type from a specific list.

The output must be a valid JSON object containing a single key "tasks", which is an array of objects.

Each object in the "tasks" array must have:
1. "task_id": A unique integer for this plan, starting from 1.
2. "description": A clear, concise command for another agent to execute.
3. "dependencies": An array of task_ids that must be completed before this task can start.
4. "task_type": The category of the task. Must be one of the following strings:
   - "repo_init": For tasks like initializing a git repository.
   - "documentation": For tasks related to writing a README.md or other documentation.
   - "api_integration": For tasks that involve fetching data from a third-party API.
   - "code_writing": For general Python code that doesn't fit other categories.

Goal: %q`, goal)
}
