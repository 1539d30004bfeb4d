// Package proc runs child processes for the shell-backed transports.
//
// Runner is the seam the pwsh backend and SSH sessions use; tests replace it
// with a fake. ExecRunner is the os/exec implementation.
package proc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// ErrStart is returned when a process could not be started.
var ErrStart = errors.New("start process")

// DefaultWaitDelay bounds how long output pipes are drained after a
// cancelled process is killed.
const DefaultWaitDelay = 2 * time.Second

// Command describes one process invocation.
type Command struct {
	Name  string
	Args  []string
	Stdin []byte
	// Env entries are appended to the inherited environment.
	Env []string
}

// String renders the command line for logs. Stdin is not included.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Result holds the captured output of a finished process.
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// StderrText returns stderr trimmed of surrounding whitespace.
func (r Result) StderrText() string {
	return strings.TrimSpace(string(r.Stderr))
}

// Runner runs a command to completion. A non-zero exit code is reported in
// Result, not as an error; an error means the process could not be started
// or was killed.
type Runner interface {
	Run(ctx context.Context, cmd Command) (Result, error)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, cmd Command) (Result, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, cmd Command) (Result, error) {
	return f(ctx, cmd)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	// Dir is the working directory; empty means the current one.
	Dir string
	// WaitDelay overrides DefaultWaitDelay.
	WaitDelay time.Duration
}

// Run implements Runner. The process is killed when ctx is cancelled.
func (r ExecRunner) Run(ctx context.Context, c Command) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = r.Dir
	cmd.WaitDelay = DefaultWaitDelay
	if r.WaitDelay > 0 {
		cmd.WaitDelay = r.WaitDelay
	}
	if len(c.Env) > 0 {
		cmd.Env = append(cmd.Environ(), c.Env...)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if c.Stdin != nil {
		cmd.Stdin = bytes.NewReader(c.Stdin)
	}

	if err := cmd.Start(); err != nil {
		return Result{}, fmt.Errorf("%w %s: %w", ErrStart, c.Name, err)
	}

	err := cmd.Wait()
	res := Result{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, fmt.Errorf("%s: %w", c.Name, ctxErr)
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
	case errors.As(err, &exitErr):
		res.ExitCode = exitErr.ExitCode()
		if res.ExitCode < 0 {
			return res, fmt.Errorf("%s: %w", c.Name, err)
		}
	default:
		return res, fmt.Errorf("%s: %w", c.Name, err)
	}
	return res, nil
}
