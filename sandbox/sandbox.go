// Package sandbox runs generated artifacts inside isolated, resource-
// bounded Docker containers.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"golang.org/x/text/runes"
)

const (
	// DefaultImage is the pre-configured execution image.
	DefaultImage = "metamorph-tester"

	// DefaultMemoryLimit caps container memory at 256 MiB.
	DefaultMemoryLimit = 256 << 20

	// DefaultWaitTimeout bounds how long a command may run before the
	// container is force-removed and a timeout result returned.
	DefaultWaitTimeout = 5 * time.Minute

	workDir = "/app"
)

// Result is the captured outcome of a sandboxed command. Field names
// are part of the external contract.
type Result struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int64  `json:"exit_code"`
}

// Run describes a single sandboxed execution.
type Run struct {
	// Command is executed through /bin/sh -c inside the container.
	Command string

	// Files are materialized into the container's working directory
	// before the command starts.
	Files map[string]string

	// NetworkEnabled grants network access; containers are offline by
	// default.
	NetworkEnabled bool
}

// Runner executes sandboxed commands. Implementations never return an
// error: internal failures are reported as a Result with ExitCode -1
// and a diagnostic in Stderr.
type Runner interface {
	Run(ctx context.Context, r Run) Result
}

// Config controls the Executor.
type Config struct {
	Image       string
	MemoryLimit int64
	WaitTimeout time.Duration
}

// Executor is the Docker-backed Runner. The Docker client is established
// lazily on first use; an unreachable daemon yields synthetic failure
// results rather than errors.
type Executor struct {
	cfg Config
	log *slog.Logger

	once       sync.Once
	client     client.APIClient
	connectErr error
}

// New creates an Executor. Missing config fields take defaults.
func New(cfg Config, log *slog.Logger) *Executor {
	if cfg.Image == "" {
		cfg.Image = DefaultImage
	}
	if cfg.MemoryLimit <= 0 {
		cfg.MemoryLimit = DefaultMemoryLimit
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = DefaultWaitTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{cfg: cfg, log: log}
}

func (e *Executor) ensureClient() error {
	e.once.Do(func() {
		cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
		if err != nil {
			e.connectErr = fmt.Errorf("connect docker: %w", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := cli.Ping(ctx); err != nil {
			_ = cli.Close()
			e.connectErr = fmt.Errorf("ping docker: %w", err)
			return
		}
		e.client = cli
	})
	return e.connectErr
}

// Close releases the Docker client if one was established.
func (e *Executor) Close() error {
	if e.client != nil {
		return e.client.Close()
	}
	return nil
}

// Run executes r.Command in a fresh container with r.Files materialized
// into the working directory. It captures stdout and stderr separately
// and returns the command's exit code. The container and temporary
// directory are removed on every exit path.
func (e *Executor) Run(ctx context.Context, r Run) Result {
	if err := e.ensureClient(); err != nil {
		return errResult(err)
	}

	tempDir, err := os.MkdirTemp("", "metamorph-sandbox-*")
	if err != nil {
		return errResult(fmt.Errorf("create temp dir: %w", err))
	}
	defer os.RemoveAll(tempDir)

	if err := materialize(tempDir, r.Files); err != nil {
		return errResult(err)
	}

	name := "metamorph-" + uuid.NewString()[:8]
	created, err := e.client.ContainerCreate(ctx,
		&container.Config{
			Image:           e.cfg.Image,
			Cmd:             []string{"/bin/sh", "-c", r.Command},
			WorkingDir:      workDir,
			NetworkDisabled: !r.NetworkEnabled,
		},
		&container.HostConfig{
			Mounts: []mount.Mount{{
				Type:   mount.TypeBind,
				Source: tempDir,
				Target: workDir,
			}},
			Resources: container.Resources{Memory: e.cfg.MemoryLimit},
		},
		nil, nil, name,
	)
	if err != nil {
		return errResult(fmt.Errorf("create container: %w", err))
	}
	defer e.removeContainer(created.ID)

	if err := e.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return errResult(fmt.Errorf("start container: %w", err))
	}

	exitCode, err := e.waitForExit(ctx, created.ID)
	if err != nil {
		return errResult(err)
	}

	stdout, stderr, err := e.fetchLogs(ctx, created.ID)
	if err != nil {
		return errResult(err)
	}

	return Result{Stdout: stdout, Stderr: stderr, ExitCode: exitCode}
}

// waitForExit blocks until the container stops or the configured wait
// timeout elapses. A timed-out container is killed by the deferred
// force-remove.
func (e *Executor) waitForExit(ctx context.Context, id string) (int64, error) {
	waitCtx, cancel := context.WithTimeout(ctx, e.cfg.WaitTimeout)
	defer cancel()

	statusCh, errCh := e.client.ContainerWait(waitCtx, id, container.WaitConditionNotRunning)
	select {
	case status := <-statusCh:
		if status.Error != nil {
			return 0, fmt.Errorf("container wait: %s", status.Error.Message)
		}
		return status.StatusCode, nil
	case err := <-errCh:
		if waitCtx.Err() != nil {
			return 0, fmt.Errorf("command exceeded %s timeout", e.cfg.WaitTimeout)
		}
		return 0, fmt.Errorf("container wait: %w", err)
	}
}

// fetchLogs retrieves the stopped container's output, demultiplexes the
// stdout/stderr streams, and decodes them permissively.
func (e *Executor) fetchLogs(ctx context.Context, id string) (string, string, error) {
	logs, err := e.client.ContainerLogs(ctx, id, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		return "", "", fmt.Errorf("fetch logs: %w", err)
	}
	defer logs.Close()

	var stdoutBuf, stderrBuf bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdoutBuf, &stderrBuf, logs); err != nil {
		return "", "", fmt.Errorf("read logs: %w", err)
	}
	return decode(stdoutBuf.Bytes()), decode(stderrBuf.Bytes()), nil
}

// removeContainer force-removes the container with its own deadline so
// cleanup survives a canceled run context.
func (e *Executor) removeContainer(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		e.log.Warn("sandbox container remove failed", "container_id", id, "error", err)
	}
}

// materialize writes files into dir. Names must be plain file names;
// path traversal out of the sandbox directory is rejected.
func materialize(dir string, files map[string]string) error {
	for name, content := range files {
		if name != filepath.Base(name) {
			return fmt.Errorf("invalid sandbox file name %q", name)
		}
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// decode converts raw log bytes to a string, replacing ill-formed byte
// sequences instead of failing, and trims surrounding whitespace.
func decode(b []byte) string {
	return strings.TrimSpace(runes.ReplaceIllFormed().String(string(b)))
}

func errResult(err error) Result {
	return Result{
		Stderr:   "sandbox error: " + err.Error(),
		ExitCode: -1,
	}
}
