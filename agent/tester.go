package agent

import (
	"context"
	"fmt"

	"github.com/metamorphhq/metamorph/provider"
	"github.com/metamorphhq/metamorph/sandbox"
	"github.com/metamorphhq/metamorph/task"
)

// pytestCommand runs the suite, then dumps the report so it lands in
// the captured output, preserving pytest's exit code.
const pytestCommand = "pytest -v --junitxml=report.xml; exit_code=$?; cat report.xml; exit $exit_code"

// Tester verifies a finished task's code by generating a pytest file
// for it and running the suite in the sandbox. It records a test
// status instead of a task status and is invoked outside the dispatch
// batch.
type Tester struct {
	deps Deps
}

// NewTester creates a Tester.
func NewTester(d Deps) *Tester {
	return &Tester{deps: d}
}

// RunTests generates and runs tests for the task's stored code and
// records the verdict: pass or fail from the pytest exit code, no_code
// when the task has no code, generation_failed when no usable test
// file could be generated.
func (t *Tester) RunTests(ctx context.Context, taskID int64) (task.TestStatus, error) {
	tk, err := t.deps.Store.GetTask(taskID)
	if err != nil {
		return "", fmt.Errorf("load task %d: %w", taskID, err)
	}
	if tk.Code == "" {
		return t.verdict(taskID, task.TestNoCode)
	}

	t.deps.logger().Info("generating tests", "task_id", taskID)
	raw, err := t.deps.generate(ctx, testerPrompt(tk.Code))
	testCode := provider.StripFences(raw)
	if err != nil || testCode == "" {
		return t.verdict(taskID, task.TestGenerationFailed)
	}

	res := t.deps.Sandbox.Run(ctx, sandbox.Run{
		Command: pytestCommand,
		Files: map[string]string{
			"main.py":      tk.Code,
			"test_main.py": testCode,
		},
	})

	status := task.TestPass
	if res.ExitCode != 0 {
		status = task.TestFail
	}
	return t.verdict(taskID, status)
}

func (t *Tester) verdict(taskID int64, status task.TestStatus) (task.TestStatus, error) {
	if err := t.deps.Store.SetTestStatus(taskID, status); err != nil {
		return "", fmt.Errorf("record test status for task %d: %w", taskID, err)
	}
	t.deps.logger().Info("test verdict recorded", "task_id", taskID, "test_status", status)
	return status, nil
}

func testerPrompt(code string) string {
	return fmt.Sprintf(`You are a senior software quality assurance engineer. Your task is to write a pytest test file
for the given Python code.
- The code to be tested will be in a file named 'main.py'.
- Your test code will be in a file named 'test_main.py'.
- Inside each test function, explicitly call the main.main() function to run the code being tested.
- For the success case, test the side-effects (e.g., a file is created with the correct content).
- For the failure case, you MUST use the 'mocker' fixture from 'pytest-mock' to simulate an error.
- You MUST use the 'capsys' fixture to capture and check for the printed error message in the failure case.
- Only output the raw Python code for the 'test_main.py' file. Do not include explanations or markdown.

Code to test:
---
%s
---`, code)
}
