// Package exec runs external commands, mainly test suites inside
// worktrees.
package exec

import (
	"context"
	"errors"
	"os/exec"
	"time"
)

// Result captures the outcome of one command run.
type Result struct {
	// Output is the combined stdout and stderr.
	Output []byte
	// ExitCode is the process exit code. -1 when the process never
	// ran or was killed.
	ExitCode int
	// Duration is the wall-clock run time.
	Duration time.Duration
	// TimedOut is true when the context deadline killed the process.
	TimedOut bool
}

// OK returns true if the command exited zero.
func (r Result) OK() bool {
	return r.ExitCode == 0 && !r.TimedOut
}

// CommandRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type CommandRunner interface {
	// Run executes a command and returns its result. The working
	// directory is set to workDir if non-empty. A non-zero exit is
	// reported in the Result, not as an error; the error covers
	// failures to run the command at all.
	Run(ctx context.Context, workDir string, name string, args ...string) (Result, error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, workDir string, command string) (Result, error)
}

// ExecRunner implements CommandRunner using os/exec.
type ExecRunner struct{}

// NewRunner creates a new ExecRunner.
func NewRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes a command and returns its result.
func (r *ExecRunner) Run(ctx context.Context, workDir string, name string, args ...string) (Result, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	if workDir != "" {
		cmd.Dir = workDir
	}

	start := time.Now()
	out, err := cmd.CombinedOutput()
	res := Result{
		Output:   out,
		ExitCode: -1,
		Duration: time.Since(start),
	}

	if ctx.Err() != nil {
		res.TimedOut = errors.Is(ctx.Err(), context.DeadlineExceeded)
		return res, nil
	}
	if err == nil {
		res.ExitCode = 0
		return res, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		res.ExitCode = exitErr.ExitCode()
		return res, nil
	}
	return res, err
}

// RunShell executes a shell command through "sh -c".
func (r *ExecRunner) RunShell(ctx context.Context, workDir string, command string) (Result, error) {
	return r.Run(ctx, workDir, "sh", "-c", command)
}

// Verify ExecRunner implements CommandRunner at compile time.
var _ CommandRunner = (*ExecRunner)(nil)
