package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/metamorphhq/metamorph/task"
)

// Documentation generates a README for the most recent completed code
// task. It never touches the sandbox; the generated document is the
// task's output.
type Documentation struct {
	deps Deps
}

// NewDocumentation creates a Documentation worker.
func NewDocumentation(d Deps) *Documentation {
	return &Documentation{deps: d}
}

func (w *Documentation) Type() task.Type { return task.TypeDocumentation }

// Execute documents the code of req.SourceTaskID. A zero SourceTaskID
// means the dispatcher found no completed code task; the task fails
// without a generation call.
func (w *Documentation) Execute(ctx context.Context, req Request) error {
	if req.SourceTaskID == 0 {
		return w.deps.failTask(req.TaskID, "No prior code task found to document.")
	}

	src, err := w.deps.Store.GetTask(req.SourceTaskID)
	if errors.Is(err, task.ErrNotFound) {
		return w.deps.failTask(req.TaskID, "Source code not found")
	}
	if err != nil {
		return fmt.Errorf("load source task %d: %w", req.SourceTaskID, err)
	}
	if src.Code == "" {
		return w.deps.failTask(req.TaskID, "Source code not found")
	}

	w.deps.logger().Info("generating documentation", "task_id", req.TaskID, "source_task_id", src.ID)

	doc, err := w.deps.generate(ctx, documentationPrompt(src.Code))
	if err != nil {
		return w.deps.failTask(req.TaskID, "documentation generation failed: "+err.Error())
	}

	if err := w.deps.Store.FinishTask(req.TaskID, "", strings.TrimSpace(doc), task.StatusCompleted); err != nil {
		return fmt.Errorf("finish task %d: %w", req.TaskID, err)
	}
	w.deps.logger().Info("task finished", "task_id", req.TaskID, "status", task.StatusCompleted)
	return nil
}

func documentationPrompt(code string) string {
	return fmt.Sprintf(`You are a technical writer. Your task is to generate a clear and concise
README.md file in Markdown format for the following Python code.
- Explain the purpose of the code.
- Describe how to run it, if applicable.
- Document any functions and their parameters.
- Only output the raw Markdown content for the README.md file.

Code to document:
---
%s
---`, code)
}
