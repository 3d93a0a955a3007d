package agent

import (
	"context"
	"fmt"

	"github.com/metamorphhq/metamorph/provider"
	"github.com/metamorphhq/metamorph/sandbox"
	"github.com/metamorphhq/metamorph/task"
)

// CodeWriter generates a Python script for a task and executes it
// offline in the sandbox. It is the default route for unknown task
// types.
type CodeWriter struct {
	deps Deps
}

// NewCodeWriter creates a CodeWriter.
func NewCodeWriter(d Deps) *CodeWriter {
	return &CodeWriter{deps: d}
}

func (w *CodeWriter) Type() task.Type { return task.TypeCodeWriting }

func (w *CodeWriter) Execute(ctx context.Context, req Request) error {
	t, err := w.deps.Store.GetTask(req.TaskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", req.TaskID, err)
	}
	w.deps.logger().Info("writing code", "task_id", t.ID, "description", t.Description)

	raw, err := w.deps.generate(ctx, codeWriterPrompt(t.Description))
	if err != nil {
		return w.deps.failTask(t.ID, "code generation failed: "+err.Error())
	}
	code := provider.StripFences(raw)

	res := w.deps.Sandbox.Run(ctx, sandbox.Run{
		Command: "python main.py",
		Files:   map[string]string{"main.py": code},
	})
	return w.deps.record(t.ID, code, res)
}

func codeWriterPrompt(description string) string {
	return fmt.Sprintf(`You are a senior Python developer. Write a complete Python script to accomplish the following task.
- The script will be executed in a sandboxed environment with no network access.
- All of your logic must be wrapped in a main() function.
- You must include the standard if __name__ == "__main__": block to call the main() function.
- Only output the raw Python code. Do not add explanations or markdown.

Task: %q`, description)
}
