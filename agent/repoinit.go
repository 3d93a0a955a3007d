package agent

import (
	"context"
	"fmt"

	"github.com/metamorphhq/metamorph/provider"
	"github.com/metamorphhq/metamorph/sandbox"
	"github.com/metamorphhq/metamorph/task"
)

// RepoInitializer generates a single shell command for repository
// scaffolding tasks and runs it in the sandbox. No code is stored for
// these tasks; the command's output is the only artifact.
type RepoInitializer struct {
	deps Deps
}

// NewRepoInitializer creates a RepoInitializer.
func NewRepoInitializer(d Deps) *RepoInitializer {
	return &RepoInitializer{deps: d}
}

func (w *RepoInitializer) Type() task.Type { return task.TypeRepoInit }

func (w *RepoInitializer) Execute(ctx context.Context, req Request) error {
	t, err := w.deps.Store.GetTask(req.TaskID)
	if err != nil {
		return fmt.Errorf("load task %d: %w", req.TaskID, err)
	}
	w.deps.logger().Info("initializing repo", "task_id", t.ID, "description", t.Description)

	raw, err := w.deps.generate(ctx, repoInitPrompt(t.Description))
	if err != nil {
		return w.deps.failTask(t.ID, "command generation failed: "+err.Error())
	}
	command := provider.StripBackticks(raw)

	res := w.deps.Sandbox.Run(ctx, sandbox.Run{Command: command})
	return w.deps.record(t.ID, "", res)
}

func repoInitPrompt(description string) string {
	return fmt.Sprintf(`You are an expert in shell commands and git. Based on the following task,
provide a single, executable shell command to accomplish it.
- Only output the raw shell command.
- The command will be run in the project's root directory.
- For example, if the task is "initialize a git repository and create a readme",
  a good command is "git init && echo '# New Project' > README.md".

Task: %q`, description)
}
