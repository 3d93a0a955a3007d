package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/metamorphhq/metamorph/task"
)

// Registry routes task types to workers. It is mutable at runtime:
// the meta-agent registers new workers as it creates them.
type Registry struct {
	mu      sync.RWMutex
	workers map[task.Type]Worker
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{workers: make(map[task.Type]Worker)}
}

// Register adds a worker to the registry.
// Returns an error if a worker for the same type is already registered.
func (r *Registry) Register(w Worker) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.workers[w.Type()]; exists {
		return fmt.Errorf("worker for type %q already registered", w.Type())
	}
	r.workers[w.Type()] = w
	return nil
}

// Resolve returns the worker for a task type. Unknown types fall back
// to the code_writing worker; false is returned only when neither is
// registered.
func (r *Registry) Resolve(t task.Type) (Worker, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if w, ok := r.workers[t]; ok {
		return w, true
	}
	w, ok := r.workers[task.TypeCodeWriting]
	return w, ok
}

// Types returns all registered task types, sorted.
func (r *Registry) Types() []task.Type {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]task.Type, 0, len(r.workers))
	for t := range r.workers {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}
