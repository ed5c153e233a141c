// Package launcher hands rendered task prompts to external workers. The
// orchestrator has no visibility into how a worker executes; a launcher only
// starts it.
package launcher

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/zulandar/junction/internal/logging"
	"go.uber.org/zap"
)

// Environment variables passed to exec workers.
const (
	EnvSessionID = "JUNCTION_SESSION_ID"
	EnvTaskID    = "JUNCTION_TASK_ID"
	EnvRole      = "JUNCTION_ROLE"
)

// Assignment is everything a worker is told about its task.
type Assignment struct {
	SessionID string
	TaskID    string
	Role      string
	Prompt    string
}

// Launcher starts a worker for an assignment. Launch must not wait for the
// worker to finish; completion arrives separately.
type Launcher interface {
	Launch(ctx context.Context, a Assignment) error
}

// Func adapts a function to the Launcher interface.
type Func func(ctx context.Context, a Assignment) error

// Launch calls f.
func (f Func) Launch(ctx context.Context, a Assignment) error { return f(ctx, a) }

// Noop accepts every assignment and starts nothing. Workers are expected to
// be driven by some other mechanism that reads the task table.
type Noop struct{}

// Launch does nothing.
func (Noop) Launch(context.Context, Assignment) error { return nil }

// ExecOpts configures an Exec launcher.
type ExecOpts struct {
	Command string
	Args    []string
	Dir     string
	Logger  *zap.Logger
	// OnExit is called from the reaper goroutine when a worker process
	// exits. err is nil on a zero exit status.
	OnExit func(a Assignment, err error)
}

// Exec spawns one process per assignment with the prompt on stdin and the
// task identity in the environment. The worker reports completion itself,
// typically via `junction complete`.
type Exec struct {
	opts   ExecOpts
	logger *zap.Logger
	wg     sync.WaitGroup
}

// NewExec creates an Exec launcher.
func NewExec(opts ExecOpts) (*Exec, error) {
	if strings.TrimSpace(opts.Command) == "" {
		return nil, fmt.Errorf("launcher: command is required")
	}
	return &Exec{opts: opts, logger: logging.OrNop(opts.Logger)}, nil
}

// BuildCommand constructs the exec.Cmd for an assignment. Exported for testing.
func (e *Exec) BuildCommand(a Assignment) *exec.Cmd {
	cmd := exec.Command(e.opts.Command, e.opts.Args...)
	cmd.Dir = e.opts.Dir
	cmd.Env = append(os.Environ(),
		EnvSessionID+"="+a.SessionID,
		EnvTaskID+"="+a.TaskID,
		EnvRole+"="+a.Role,
	)
	cmd.Stdin = strings.NewReader(a.Prompt)
	return cmd
}

// Launch starts the worker process and returns once it is running.
func (e *Exec) Launch(ctx context.Context, a Assignment) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	cmd := e.BuildCommand(a)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("launcher: start %s: %w", e.opts.Command, err)
	}
	e.logger.Debug("worker started",
		zap.String("session_id", a.SessionID),
		zap.String("task_id", a.TaskID),
		zap.String("role", a.Role),
		zap.Int("pid", cmd.Process.Pid))

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		err := cmd.Wait()
		if err != nil {
			e.logger.Warn("worker exited with error",
				zap.String("task_id", a.TaskID), zap.Error(err))
		}
		if e.opts.OnExit != nil {
			e.opts.OnExit(a, err)
		}
	}()
	return nil
}

// Wait blocks until every started worker has exited.
func (e *Exec) Wait() {
	e.wg.Wait()
}
