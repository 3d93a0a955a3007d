package agent

import (
	"context"
	"testing"

	"github.com/metamorphhq/metamorph/provider/mock"
	"github.com/metamorphhq/metamorph/sandbox"
	"github.com/metamorphhq/metamorph/task"
)

func finishWithCode(t *testing.T, store task.Store, id int64, code string) {
	t.Helper()
	if err := store.FinishTask(id, code, "", task.StatusCompleted); err != nil {
		t.Fatalf("finish task: %v", err)
	}
}

func TestTesterRecordsPass(t *testing.T) {
	gen := mock.New("def test_main():\n    main.main()")
	runner := &fakeRunner{results: []sandbox.Result{{Stdout: "1 passed", ExitCode: 0}}}
	deps, store := newDeps(t, gen, runner)
	id := createTask(t, store, task.TypeCodeWriting, "testable")
	finishWithCode(t, store, id, "def main():\n    print('hi')")

	status, err := NewTester(deps).RunTests(context.Background(), id)
	if err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if status != task.TestPass {
		t.Errorf("status = %q, want pass", status)
	}
	if got := getTask(t, store, id).TestStatus; got != task.TestPass {
		t.Errorf("stored test_status = %q, want pass", got)
	}

	run := runner.lastRun(t)
	if run.Files["main.py"] == "" || run.Files["test_main.py"] == "" {
		t.Errorf("files = %v, want main.py and test_main.py", run.Files)
	}
	if run.NetworkEnabled {
		t.Error("tests must run offline")
	}
}

func TestTesterRecordsFail(t *testing.T) {
	gen := mock.New("def test_main():\n    assert False")
	runner := &fakeRunner{results: []sandbox.Result{{Stderr: "1 failed", ExitCode: 1}}}
	deps, store := newDeps(t, gen, runner)
	id := createTask(t, store, task.TypeCodeWriting, "broken")
	finishWithCode(t, store, id, "def main():\n    raise ValueError")

	status, err := NewTester(deps).RunTests(context.Background(), id)
	if err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if status != task.TestFail {
		t.Errorf("status = %q, want fail", status)
	}
}

func TestTesterNoCode(t *testing.T) {
	gen := mock.New("should not be called")
	runner := &fakeRunner{}
	deps, store := newDeps(t, gen, runner)
	id := createTask(t, store, task.TypeRepoInit, "no code here")

	status, err := NewTester(deps).RunTests(context.Background(), id)
	if err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if status != task.TestNoCode {
		t.Errorf("status = %q, want no_code", status)
	}
	if gen.Calls() != 0 {
		t.Errorf("generator called %d times, want 0", gen.Calls())
	}
	if runner.calls() != 0 {
		t.Error("sandbox should not run without code")
	}
}

func TestTesterGenerationFailed(t *testing.T) {
	// An empty generated test file is unusable.
	gen := mock.New("")
	runner := &fakeRunner{}
	deps, store := newDeps(t, gen, runner)
	id := createTask(t, store, task.TypeCodeWriting, "untestable")
	finishWithCode(t, store, id, "def main():\n    pass")

	status, err := NewTester(deps).RunTests(context.Background(), id)
	if err != nil {
		t.Fatalf("RunTests: %v", err)
	}
	if status != task.TestGenerationFailed {
		t.Errorf("status = %q, want generation_failed", status)
	}
	if runner.calls() != 0 {
		t.Error("sandbox should not run without test code")
	}
}
