package agent

import (
	"context"
	"fmt"

	"github.com/metamorphhq/metamorph/provider"
	"github.com/metamorphhq/metamorph/sandbox"
	"github.com/metamorphhq/metamorph/task"
)

// APIIntegrator generates a requests-based Python script and executes
// it with network access enabled.
type APIIntegrator struct {
	deps Deps
}

// NewAPIIntegrator creates an APIIntegrator.
func NewAPIIntegrator(d Deps) *APIIntegrator {
	return &APIIntegrator{deps: d}
}

func (w *APIIntegrator) Type() task.Type { return task.TypeAPIIntegration }

func (w *APIIntegrator) Execute(ctx context.Context, req Request) error {
	t, err := w.deps.Store.GetTask(req.TaskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", req.TaskID, err)
	}
	w.deps.logger().Info("integrating API", "task_id", t.ID, "description", t.Description)

	raw, err := w.deps.generate(ctx, apiIntegratorPrompt(t.Description))
	if err != nil {
		return w.deps.failTask(t.ID, "code generation failed: "+err.Error())
	}
	code := provider.StripFences(raw)

	res := w.deps.Sandbox.Run(ctx, sandbox.Run{
		Command:        "pip install -q requests && python main.py",
		Files:          map[string]string{"main.py": code},
		NetworkEnabled: true,
	})
	return w.deps.record(t.ID, code, res)
}

func apiIntegratorPrompt(description string) string {
	return fmt.Sprintf(`You are an expert Python developer specializing in API integration.
Write a complete Python script to accomplish the following task.
- The script will be executed in a sandboxed environment.
- It MUST use the requests library for any HTTP calls.
- It should handle potential errors and print a clear message if the API call fails.
- All logic must be wrapped in a main() function, called by a standard if __name__ == "__main__": block.
- Only output the raw Python code.

Task: %q`, description)
}
