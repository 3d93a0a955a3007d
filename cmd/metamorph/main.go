// Command metamorph plans a project's tasks and dispatches them to
// worker agents: plan once, execute the pending batch, report.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/metamorphhq/metamorph/agent"
	"github.com/metamorphhq/metamorph/cache"
	"github.com/metamorphhq/metamorph/comms"
	"github.com/metamorphhq/metamorph/config"
	"github.com/metamorphhq/metamorph/dispatch"
	"github.com/metamorphhq/metamorph/internal/version"
	"github.com/metamorphhq/metamorph/planner"
	"github.com/metamorphhq/metamorph/provider"
	"github.com/metamorphhq/metamorph/provider/mock"
	"github.com/metamorphhq/metamorph/sandbox"
	"github.com/metamorphhq/metamorph/task"
)

var (
	configPath = flag.String("config", "metamorph.yaml", "path to config file")
	projectID  = flag.Int64("project", 0, "existing project id (0 creates a new project from -goal)")
	goal       = flag.String("goal", "", "project goal, used when creating a new project")
)

func main() {
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config %s: %v", *configPath, err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel(cfg.LogLevel),
	}))
	logger.Info("starting metamorph",
		"version", version.Version,
		"commit", version.Commit,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			log.Fatalf("Failed to create data dir %s: %v", dir, err)
		}
	}
	store, err := task.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to open task store %s: %v", cfg.DBPath, err)
	}
	defer store.Close()

	var cacheBackend cache.Backend
	if cfg.RedisURL != "" {
		redis, err := cache.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("cache unavailable, running without memoization", "error", err)
		} else {
			defer redis.Close()
			cacheBackend = redis
		}
	}

	gen, err := buildProvider(cfg.Provider)
	if err != nil {
		log.Fatalf("Failed to configure provider: %v", err)
	}

	runner := sandbox.New(sandbox.Config{
		Image:       cfg.Sandbox.Image,
		MemoryLimit: cfg.Sandbox.MemoryLimitBytes(),
		WaitTimeout: cfg.Sandbox.WaitTimeout,
	}, logger)
	defer runner.Close()

	bus := comms.NewInMemoryBus()
	unsubscribe := bus.Subscribe(func(_ context.Context, ev comms.Event) {
		logger.Debug("task event",
			"event", ev.Type,
			"task_id", ev.TaskID,
			"task_type", ev.TaskType,
			"status", ev.Status,
		)
	})
	defer unsubscribe()

	deps := agent.Deps{
		Store:   store,
		Sandbox: runner,
		Gen:     gen,
		Log:     logger,
	}
	registry := agent.NewRegistry()
	workers := []agent.Worker{
		agent.NewCodeWriter(deps),
		agent.NewAPIIntegrator(deps),
		agent.NewRepoInitializer(deps),
		agent.NewDocumentation(deps),
	}
	for _, w := range workers {
		if err := registry.Register(w); err != nil {
			log.Fatalf("Failed to register worker: %v", err)
		}
	}

	agentGen := agent.NewGenerator(deps, registry, cfg.AgentsDir)
	if err := agentGen.SyncFromStore(); err != nil {
		logger.Warn("could not sync generated agents", "error", err)
	}
	if err := agentGen.Watch(ctx); err != nil {
		logger.Warn("agent directory watcher unavailable", "error", err)
	}

	id, err := resolveProject(store, logger)
	if err != nil {
		log.Fatalf("%v", err)
	}
	project, err := store.GetProject(id)
	if err != nil {
		log.Fatalf("Failed to load project %d: %v", id, err)
	}

	hasTasks, err := store.HasTasks(id)
	if err != nil {
		log.Fatalf("Failed to check existing tasks: %v", err)
	}
	if hasTasks {
		logger.Info("tasks for this project already exist, skipping planning", "project_id", id)
	} else {
		logger.Info("planning project", "project_id", id, "goal", project.Goal)
		p := planner.New(gen, cacheBackend, store, bus, logger)
		count, err := p.PlanAndStoreTasks(ctx, id, project.Goal)
		if err != nil {
			log.Fatalf("Planning failed: %v", err)
		}
		logger.Info("plan stored", "project_id", id, "task_count", count)
	}

	d := dispatch.New(store, registry, bus, cfg.Concurrency, logger)
	results, err := d.Run(ctx, id)
	if err != nil {
		log.Fatalf("Dispatch failed: %v", err)
	}

	for _, r := range results {
		fmt.Printf("task %d (%s): %s\n", r.TaskID, r.Type, r.Status)
	}
	logger.Info("all tasks processed", "project_id", id, "task_count", len(results))
}

// loadConfig falls back to defaults when the default config file is
// absent; an explicitly named file must exist.
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) && !flagWasSet("config") {
		return config.DefaultConfig(), nil
	}
	return config.Load(path)
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

func resolveProject(store task.Store, logger *slog.Logger) (int64, error) {
	if *projectID != 0 {
		return *projectID, nil
	}
	if *goal == "" {
		return 0, fmt.Errorf("either -project or -goal is required")
	}
	id, err := store.CreateProject(*goal)
	if err != nil {
		return 0, fmt.Errorf("failed to create project: %w", err)
	}
	logger.Info("created project", "project_id", id, "goal", *goal)
	return id, nil
}

func buildProvider(pc config.ProviderConfig) (provider.Generator, error) {
	switch pc.Name {
	case "", "anthropic":
		key := pc.APIKey
		if key == "" {
			key = os.Getenv("ANTHROPIC_API_KEY")
		}
		if key == "" {
			return nil, fmt.Errorf("anthropic provider requires an API key (config or ANTHROPIC_API_KEY)")
		}
		return provider.NewAnthropic(provider.AnthropicConfig{
			APIKey:    key,
			Model:     pc.Model,
			BaseURL:   pc.BaseURL,
			MaxTokens: pc.MaxTokens,
		}), nil
	case "mock":
		return mock.New(), nil
	default:
		return nil, fmt.Errorf("unknown provider %q", pc.Name)
	}
}

func logLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
