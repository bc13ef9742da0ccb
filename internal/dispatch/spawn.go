package dispatch

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
)

// Spawner starts the worker for a job without waiting for it.
type Spawner interface {
	Spawn(ctx context.Context, jobID string) error
}

// Runner runs one job to completion.
type Runner interface {
	Run(ctx context.Context, jobID string) error
}

// Failer marks a job failed.
type Failer interface {
	Fail(ctx context.Context, jobID, reason string) error
}

// GoroutineSpawner runs workers in the current process. A panicking worker
// fails its job instead of the process.
type GoroutineSpawner struct {
	runner Runner
	jobs   Failer
	logger *slog.Logger
	wg     sync.WaitGroup
}

// NewGoroutineSpawner creates an in-process spawner.
func NewGoroutineSpawner(runner Runner, jobs Failer, logger *slog.Logger) *GoroutineSpawner {
	if logger == nil {
		logger = slog.Default()
	}
	return &GoroutineSpawner{runner: runner, jobs: jobs, logger: logger}
}

// Spawn starts the job on its own goroutine. The worker does not inherit ctx;
// it keeps running after the request that created it returns.
func (s *GoroutineSpawner) Spawn(_ context.Context, jobID string) error {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("worker goroutine panicked", "job_id", jobID, "panic", r)
				if err := s.jobs.Fail(context.Background(), jobID, fmt.Sprintf("internal panic: %v", r)); err != nil {
					s.logger.Error("failed to record worker panic", "job_id", jobID, "error", err)
				}
			}
		}()

		if err := s.runner.Run(context.Background(), jobID); err != nil {
			s.logger.Warn("worker finished with error", "job_id", jobID, "error", err)
		}
	}()
	return nil
}

// Wait blocks until every spawned worker has returned.
func (s *GoroutineSpawner) Wait() {
	s.wg.Wait()
}

// ProcessSpawner re-executes the binary as `<exe> work --job <id>` so each
// job runs in its own process.
type ProcessSpawner struct {
	Executable string   // defaults to the running binary
	Env        []string // appended to the current environment
	Logger     *slog.Logger
}

// Spawn starts the worker process and returns once it is running. The child
// is reaped in the background.
func (p *ProcessSpawner) Spawn(_ context.Context, jobID string) error {
	exe := p.Executable
	if exe == "" {
		var err error
		if exe, err = os.Executable(); err != nil {
			return fmt.Errorf("resolve executable: %w", err)
		}
	}
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}

	cmd := p.command(exe, jobID)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start worker process: %w", err)
	}
	logger.Info("worker process started", "job_id", jobID, "pid", cmd.Process.Pid)

	go func() {
		if err := cmd.Wait(); err != nil {
			logger.Warn("worker process exited with error", "job_id", jobID, "error", err)
		}
	}()
	return nil
}

// command builds the worker invocation. On Unix the child runs in its own
// process group and outlives a Ctrl-C sent to the server.
func (p *ProcessSpawner) command(exe, jobID string) *exec.Cmd {
	cmd := exec.Command(exe, "work", "--job", jobID)
	cmd.Env = append(os.Environ(), p.Env...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.SysProcAttr = detachedProcAttr()
	return cmd
}
