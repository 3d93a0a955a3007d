package planner

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metamorphhq/metamorph/provider/mock"
	"github.com/metamorphhq/metamorph/task"
)

const weatherPlan = `{
  "tasks": [
    {"task_id": 1, "description": "Initialize a git repository", "dependencies": [], "task_type": "repo_init"},
    {"task_id": 2, "description": "Fetch current weather from the Open-Meteo API", "dependencies": [1], "task_type": "api_integration"},
    {"task_id": 3, "description": "Write a README.md", "dependencies": [2], "task_type": "documentation"}
  ]
}`

// fakeCache is a minimal cache.Backend for planner tests.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]string)}
}

func (f *fakeCache) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.entries[key]
	return v, ok, nil
}

func (f *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = value
	return nil
}

func newTestStore(t *testing.T) *task.SQLiteStore {
	t.Helper()
	store, err := task.NewSQLiteStore(t.TempDir() + "/planner.db")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func fastBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = time.Millisecond
	return backoff.WithMaxRetries(b, 2)
}

func newTestPlanner(t *testing.T, gen *mock.Generator, store task.Store) *Planner {
	t.Helper()
	p := New(gen, newFakeCache(), store, nil, nil)
	p.newBackOff = fastBackOff
	return p
}

func TestPlan_ParsesGeneratedPlan(t *testing.T) {
	gen := mock.New(weatherPlan)
	p := newTestPlanner(t, gen, newTestStore(t))

	tasks, err := p.Plan(context.Background(), "fetch the weather")
	require.NoError(t, err)
	require.Len(t, tasks, 3)
	assert.Equal(t, "repo_init", tasks[0].TaskType)
	assert.Equal(t, []int{1}, tasks[1].Dependencies)
}

func TestPlan_StripsCodeFences(t *testing.T) {
	gen := mock.New("```json\n" + weatherPlan + "\n```")
	p := newTestPlanner(t, gen, newTestStore(t))

	tasks, err := p.Plan(context.Background(), "fetch the weather")
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
}

func TestPlan_CachedAcrossCalls(t *testing.T) {
	gen := mock.New(weatherPlan)
	p := newTestPlanner(t, gen, newTestStore(t))
	ctx := context.Background()

	_, err := p.Plan(ctx, "fetch the weather")
	require.NoError(t, err)
	_, err = p.Plan(ctx, "fetch the weather")
	require.NoError(t, err)
	assert.Equal(t, 1, gen.Calls(), "identical goal within TTL must hit the cache")
}

func TestPlan_RetriesTransientFailures(t *testing.T) {
	gen := mock.NewFailing([]error{mock.ErrScripted, mock.ErrScripted}, weatherPlan)
	p := newTestPlanner(t, gen, newTestStore(t))

	tasks, err := p.Plan(context.Background(), "fetch the weather")
	require.NoError(t, err)
	assert.Len(t, tasks, 3)
	assert.Equal(t, 3, gen.Calls())
}

func TestPlan_MalformedOutputNotRetried(t *testing.T) {
	gen := mock.New("not json at all")
	p := newTestPlanner(t, gen, newTestStore(t))

	_, err := p.Plan(context.Background(), "goal")
	require.Error(t, err)
	assert.Equal(t, 1, gen.Calls(), "validation failures must not be retried")
}

func TestPlan_RejectsCycles(t *testing.T) {
	cyclic := `{"tasks": [
		{"task_id": 1, "description": "a", "dependencies": [2], "task_type": "code_writing"},
		{"task_id": 2, "description": "b", "dependencies": [1], "task_type": "code_writing"}
	]}`
	p := newTestPlanner(t, mock.New(cyclic), newTestStore(t))

	_, err := p.Plan(context.Background(), "goal")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestPlan_RejectsSelfDependency(t *testing.T) {
	selfDep := `{"tasks": [{"task_id": 1, "description": "a", "dependencies": [1], "task_type": "code_writing"}]}`
	p := newTestPlanner(t, mock.New(selfDep), newTestStore(t))

	_, err := p.Plan(context.Background(), "goal")
	require.Error(t, err)
}

func TestPlanAndStoreTasks(t *testing.T) {
	store := newTestStore(t)
	pid, err := store.CreateProject("fetch the weather")
	require.NoError(t, err)

	p := newTestPlanner(t, mock.New(weatherPlan), store)
	n, err := p.PlanAndStoreTasks(context.Background(), pid, "fetch the weather")
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	stored, err := store.List(task.Filter{ProjectID: pid})
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for _, tk := range stored {
		assert.Equal(t, task.StatusPending, tk.Status)
	}
	assert.Equal(t, task.TypeRepoInit, stored[0].Type)
	assert.Equal(t, []int64{1}, stored[1].Dependencies)
}

func TestPlanAndStoreTasks_FailedPlanStoresNothing(t *testing.T) {
	store := newTestStore(t)
	pid, _ := store.CreateProject("goal")

	gen := mock.NewFailing([]error{mock.ErrScripted, mock.ErrScripted, mock.ErrScripted})
	p := newTestPlanner(t, gen, store)

	_, err := p.PlanAndStoreTasks(context.Background(), pid, "goal")
	require.Error(t, err)

	has, err := store.HasTasks(pid)
	require.NoError(t, err)
	assert.False(t, has, "no partial tasks may be stored on planning failure")
}

func TestPlanAndStoreTasks_DefaultsMissingType(t *testing.T) {
	noType := `{"tasks": [{"task_id": 1, "description": "do something", "dependencies": []}]}`
	store := newTestStore(t)
	pid, _ := store.CreateProject("goal")

	p := newTestPlanner(t, mock.New(noType), store)
	_, err := p.PlanAndStoreTasks(context.Background(), pid, "goal")
	require.NoError(t, err)

	stored, _ := store.List(task.Filter{ProjectID: pid})
	require.Len(t, stored, 1)
	assert.Equal(t, task.TypeGeneral, stored[0].Type)
}
