// Package agent implements the worker framework: per-type workers that
// execute planned tasks, the routing registry, and the meta-agent that
// creates new workers at runtime.
package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cenkalti/backoff/v4"

	"github.com/metamorphhq/metamorph/provider"
	"github.com/metamorphhq/metamorph/retry"
	"github.com/metamorphhq/metamorph/sandbox"
	"github.com/metamorphhq/metamorph/task"
)

// Request identifies the task a worker should execute. SourceTaskID is
// set only for documentation tasks; the dispatcher resolves it before
// submitting.
type Request struct {
	TaskID       int64
	SourceTaskID int64
}

// Worker executes tasks of a single type. Execute records the task's
// terminal status itself; a returned error means the outcome could not
// be recorded, not that the task failed.
type Worker interface {
	Type() task.Type
	Execute(ctx context.Context, req Request) error
}

// Deps bundles the collaborators shared by all workers. Log may be nil.
type Deps struct {
	Store   task.Store
	Sandbox sandbox.Runner
	Gen     provider.Generator
	Log     *slog.Logger

	// NewBackOff overrides the generation retry policy; overridable in
	// tests.
	NewBackOff func() backoff.BackOff
}

func (d Deps) logger() *slog.Logger {
	if d.Log == nil {
		return slog.Default()
	}
	return d.Log
}

func (d Deps) backOff() backoff.BackOff {
	if d.NewBackOff == nil {
		return retry.DefaultBackOff()
	}
	return d.NewBackOff()
}

// generate runs a retried generation call. Worker generation is never
// memoized: every task gets its own artifact even when descriptions
// repeat. Only the planner caches, around its own call.
func (d Deps) generate(ctx context.Context, prompt string) (string, error) {
	return retry.DoWithBackOff(ctx, d.backOff(), func() (string, error) {
		return d.Gen.Generate(ctx, prompt)
	})
}

// record persists a sandboxed execution outcome: exit code 0 completes
// the task with its stdout, anything else fails it with its stderr.
func (d Deps) record(taskID int64, code string, res sandbox.Result) error {
	status := task.StatusCompleted
	output := res.Stdout
	if res.ExitCode != 0 {
		status = task.StatusFailed
		output = res.Stderr
	}
	if err := d.Store.FinishTask(taskID, code, output, status); err != nil {
		return fmt.Errorf("finish task %d: %w", taskID, err)
	}
	d.logger().Info("task finished", "task_id", taskID, "status", status, "exit_code", res.ExitCode)
	return nil
}

// failTask marks a task failed with a diagnostic message as its output.
func (d Deps) failTask(taskID int64, msg string) error {
	if err := d.Store.FinishTask(taskID, "", msg, task.StatusFailed); err != nil {
		return fmt.Errorf("fail task %d: %w", taskID, err)
	}
	d.logger().Warn("task failed", "task_id", taskID, "reason", msg)
	return nil
}
