// Package dispatch fans a project's pending tasks out to registered
// workers with bounded concurrency.
package dispatch

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/metamorphhq/metamorph/agent"
	"github.com/metamorphhq/metamorph/comms"
	"github.com/metamorphhq/metamorph/task"
)

// DefaultConcurrency bounds how many tasks execute at once.
const DefaultConcurrency = 4

// Result is the per-task outcome of a dispatch batch.
type Result struct {
	TaskID int64
	Type   task.Type
	Status task.Status
	Err    error
}

// Dispatcher routes pending tasks to workers. One failing task never
// aborts its siblings; Run errors only on infrastructure failure.
type Dispatcher struct {
	store       task.Store
	reg         *agent.Registry
	bus         comms.Bus
	concurrency int
	log         *slog.Logger
}

// New creates a Dispatcher. bus may be nil; concurrency <= 0 selects
// the default.
func New(store task.Store, reg *agent.Registry, bus comms.Bus, concurrency int, log *slog.Logger) *Dispatcher {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{store: store, reg: reg, bus: bus, concurrency: concurrency, log: log}
}

// Run executes every pending task of the project once and returns the
// per-task outcomes. Pending tasks are treated as ready; stored
// dependency lists are not re-checked here.
func (d *Dispatcher) Run(ctx context.Context, projectID int64) ([]Result, error) {
	if projectID <= 0 {
		// A zero project id would list every project's pending tasks.
		return nil, fmt.Errorf("invalid project id %d", projectID)
	}
	pending := task.StatusPending
	tasks, err := d.store.List(task.Filter{ProjectID: projectID, Status: &pending})
	if err != nil {
		return nil, fmt.Errorf("list pending tasks for project %d: %w", projectID, err)
	}
	if len(tasks) == 0 {
		d.log.Info("no pending tasks", "project_id", projectID)
		return nil, nil
	}

	d.log.Info("dispatching tasks", "project_id", projectID, "task_count", len(tasks), "concurrency", d.concurrency)

	results := make([]Result, len(tasks))
	g := new(errgroup.Group)
	g.SetLimit(d.concurrency)
	for i, tk := range tasks {
		g.Go(func() error {
			results[i] = d.dispatch(ctx, tk)
			return nil
		})
	}
	// Workers report failure through task state, never through the group.
	_ = g.Wait()
	return results, nil
}

// dispatch runs a single task to a terminal status. Errors escaping
// the worker, including panics, fail the task with the error text as
// its output.
func (d *Dispatcher) dispatch(ctx context.Context, tk *task.Task) Result {
	worker, ok := d.reg.Resolve(tk.Type)

	d.log.Info("dispatching task", "task_id", tk.ID, "task_type", tk.Type)
	d.publish(ctx, comms.Event{
		Type:      comms.EventDispatched,
		ProjectID: tk.ProjectID,
		TaskID:    tk.ID,
		TaskType:  tk.Type,
		Worker:    workerTag(worker),
	})

	var err error
	if !ok {
		err = fmt.Errorf("no worker registered for task type %q", tk.Type)
	} else {
		err = d.execute(ctx, worker, tk)
	}
	if err == nil {
		// A worker returning nil must have recorded a terminal status.
		if final, gerr := d.store.GetTask(tk.ID); gerr == nil && !final.Status.Terminal() {
			err = fmt.Errorf("worker %q finished without recording an outcome", workerTag(worker))
		}
	}
	if err != nil {
		d.log.Error("task dispatch failed", "task_id", tk.ID, "error", err)
		if ferr := d.store.FinishTask(tk.ID, "", "Dispatch error: "+err.Error(), task.StatusFailed); ferr != nil {
			d.log.Error("recording dispatch failure failed", "task_id", tk.ID, "error", ferr)
		}
	}

	res := Result{TaskID: tk.ID, Type: tk.Type, Status: task.StatusFailed, Err: err}
	if final, gerr := d.store.GetTask(tk.ID); gerr == nil {
		res.Status = final.Status
	}
	ev := comms.Event{
		Type:      comms.EventFinished,
		ProjectID: tk.ProjectID,
		TaskID:    tk.ID,
		TaskType:  tk.Type,
		Status:    res.Status,
		Worker:    workerTag(worker),
	}
	if err != nil {
		ev.Detail = err.Error()
	}
	d.publish(ctx, ev)
	return res
}

// execute invokes the worker, converting a panic into an error so the
// batch keeps going.
func (d *Dispatcher) execute(ctx context.Context, worker agent.Worker, tk *task.Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("worker panicked: %v", r)
		}
	}()

	req := agent.Request{TaskID: tk.ID}
	if tk.Type == task.TypeDocumentation {
		// Resolved before execution; a source completing mid-batch is
		// not picked up.
		src, serr := d.store.LatestCompletedSource(tk.ProjectID)
		if serr != nil {
			return fmt.Errorf("resolve documentation source: %w", serr)
		}
		if src != nil {
			req.SourceTaskID = src.ID
		}
	}
	return worker.Execute(ctx, req)
}

func (d *Dispatcher) publish(ctx context.Context, ev comms.Event) {
	if d.bus != nil {
		d.bus.Publish(ctx, ev)
	}
}

func workerTag(w agent.Worker) string {
	if w == nil {
		return ""
	}
	return string(w.Type())
}
