package agent

import (
	"context"
	"fmt"

	"github.com/metamorphhq/metamorph/provider"
	"github.com/metamorphhq/metamorph/sandbox"
	"github.com/metamorphhq/metamorph/task"
)

// Dynamic is the runtime form of a generated agent: the generic
// generate-and-run flow specialized by the agent's specification.
// Tasks routed to the agent's type tag execute through it.
type Dynamic struct {
	deps Deps
	name string
	spec string
	typ  task.Type
}

// NewDynamic creates the runtime worker for a generated agent.
func NewDynamic(d Deps, name, spec string) *Dynamic {
	return &Dynamic{deps: d, name: name, spec: spec, typ: task.Type(snakeCase(name))}
}

// Name returns the agent's canonical name.
func (w *Dynamic) Name() string { return w.name }

func (w *Dynamic) Type() task.Type { return w.typ }

func (w *Dynamic) Execute(ctx context.Context, req Request) error {
	t, err := w.deps.Store.GetTask(req.TaskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", req.TaskID, err)
	}
	w.deps.logger().Info("executing generated agent", "task_id", t.ID, "agent", w.name)

	raw, err := w.deps.generate(ctx, dynamicPrompt(w.spec, t.Description))
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

func dynamicPrompt(spec, description string) string {
	return fmt.Sprintf(`You are an autonomous agent built for a specific purpose.

Your specification:
---
%s
---

Write a complete Python script to accomplish the task below, acting within your
specification.
- All logic must be wrapped in a main() function, called by a standard if __name__ == "__main__": block.
- Only output the raw Python code. Do not add explanations or markdown.

Task: %q`, spec, description)
}
