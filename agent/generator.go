package agent

import (
	"context"
	"errors"
	"fmt"
	"go/parser"
	"go/token"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"unicode"

	"github.com/fsnotify/fsnotify"

	"github.com/metamorphhq/metamorph/provider"
	"github.com/metamorphhq/metamorph/task"
)

// baseNameRe validates the generated base name before the canonical
// "Agent" suffix is appended.
var baseNameRe = regexp.MustCompile(`^[A-Z][a-zA-Z0-9]+$`)

// Generator is the meta-agent: it turns a natural-language agent
// specification into a named, source-backed worker registered in both
// the store and the routing registry.
type Generator struct {
	deps Deps
	reg  *Registry
	dir  string
}

// NewGenerator creates a Generator writing agent sources under dir.
func NewGenerator(d Deps, reg *Registry, dir string) *Generator {
	return &Generator{deps: d, reg: reg, dir: dir}
}

// CreateAgent creates a new agent from spec and returns its canonical
// name. The steps run in order: name generation and validation, code
// generation and parse validation, source file write, store
// registration, worker registration. Any failing step aborts the whole
// operation with no file and no store row left behind.
func (g *Generator) CreateAgent(ctx context.Context, spec string) (string, error) {
	name, err := g.generateName(ctx, spec)
	if err != nil {
		return "", err
	}
	g.deps.logger().Info("generated agent name", "agent", name)

	// An agent by this name already exists; keep its registration
	// instead of regenerating the source.
	if existing, err := g.deps.Store.GetAgent(name); err == nil {
		g.register(NewDynamic(g.deps, existing.Name, existing.Description))
		return name, nil
	} else if !errors.Is(err, task.ErrNotFound) {
		return "", fmt.Errorf("look up agent %s: %w", name, err)
	}

	src, err := g.generateCode(ctx, spec, name)
	if err != nil {
		return "", err
	}

	fileName := snakeCase(name) + ".go"
	fset := token.NewFileSet()
	if _, err := parser.ParseFile(fset, fileName, src, 0); err != nil {
		return "", fmt.Errorf("generated code for %s does not parse: %w", name, err)
	}

	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return "", fmt.Errorf("create agents dir: %w", err)
	}
	path := filepath.Join(g.dir, fileName)
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		return "", fmt.Errorf("write agent source: %w", err)
	}
	g.deps.logger().Info("saved agent source", "agent", name, "path", path)

	if err := g.deps.Store.RegisterAgent(name, spec); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("register agent %s: %w", name, err)
	}

	g.register(NewDynamic(g.deps, name, spec))
	return name, nil
}

// generateName asks for a base name, strips any "Agent" the generator
// adds anyway, validates it, and appends the canonical suffix.
func (g *Generator) generateName(ctx context.Context, spec string) (string, error) {
	raw, err := g.deps.generate(ctx, namingPrompt(spec))
	if err != nil {
		return "", fmt.Errorf("generate agent name: %w", err)
	}
	base := strings.TrimSpace(strings.ReplaceAll(provider.StripFences(raw), "Agent", ""))
	if !baseNameRe.MatchString(base) {
		return "", fmt.Errorf("invalid agent base name %q", base)
	}
	return base + "Agent", nil
}

func (g *Generator) generateCode(ctx context.Context, spec, name string) (string, error) {
	raw, err := g.deps.generate(ctx, codeGenPrompt(spec, name))
	if err != nil {
		return "", fmt.Errorf("generate agent code: %w", err)
	}
	// Fence stripping trims the final newline; source files keep one.
	src := provider.StripFences(raw)
	if src != "" && !strings.HasSuffix(src, "\n") {
		src += "\n"
	}
	return src, nil
}

// SyncFromStore registers a dynamic worker for every agent recorded in
// the store. Already-registered types are left as they are.
func (g *Generator) SyncFromStore() error {
	agents, err := g.deps.Store.ListAgents()
	if err != nil {
		return fmt.Errorf("list agents: %w", err)
	}
	for _, a := range agents {
		g.register(NewDynamic(g.deps, a.Name, a.Description))
	}
	return nil
}

// Watch observes the agents directory and re-syncs registrations from
// the store whenever a source file appears. It returns after starting
// the watch goroutine; ctx cancellation stops it.
func (g *Generator) Watch(ctx context.Context) error {
	if err := os.MkdirAll(g.dir, 0o755); err != nil {
		return fmt.Errorf("create agents dir: %w", err)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(g.dir); err != nil {
		watcher.Close()
		return fmt.Errorf("watch %s: %w", g.dir, err)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op.Has(fsnotify.Create) && filepath.Ext(ev.Name) == ".go" {
					if err := g.SyncFromStore(); err != nil {
						g.deps.logger().Warn("agent sync failed", "error", err)
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				g.deps.logger().Warn("agent watcher error", "error", err)
			}
		}
	}()
	return nil
}

func (g *Generator) register(w *Dynamic) {
	// A duplicate type means the worker already exists; keep it.
	if err := g.reg.Register(w); err == nil {
		g.deps.logger().Info("registered agent worker", "agent", w.Name(), "task_type", w.Type())
	}
}

// snakeCase converts PascalCase to snake_case for file names and type
// tags.
func snakeCase(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func namingPrompt(spec string) string {
	return fmt.Sprintf(`Based on the following agent specification, suggest a short, single-word PascalCase class name. For example, for 'An agent that gets the weather', a good name is 'Weather'. Only output the name. Specification: %s`, spec)
}

func codeGenPrompt(spec, name string) string {
	template := fmt.Sprintf(`package agents

import (
	"context"
	"fmt"

	"github.com/metamorphhq/metamorph/agent"
	"github.com/metamorphhq/metamorph/task"
)

// %[1]s is a generated worker.
type %[1]s struct {
	deps agent.Deps
}

func New%[1]s(d agent.Deps) *%[1]s {
	return &%[1]s{deps: d}
}

func (w *%[1]s) Type() task.Type { return task.Type(%[2]q) }

func (w *%[1]s) Execute(ctx context.Context, req agent.Request) error {
	// Generated logic goes here.
	return fmt.Errorf("not implemented")
}
`, name, snakeCase(name))

	return fmt.Sprintf(`You are an expert Go developer who creates autonomous agents. Your task is to write the
complete Go source for a new worker type based on a provided specification.

- The worker's type name MUST be: %s
- The code MUST be a single complete Go source file containing only this worker.
- The worker must implement Type() and Execute(ctx, req) as shown in the template.
- Use the store in deps to fetch task details and the sandbox to run commands if needed.
- Only output the raw Go code. Do not add explanations or markdown.

Here is the worker template to follow:
---
%s
---

Here is the specification for the new agent you must create:
---
%s
---`, name, template, spec)
}
