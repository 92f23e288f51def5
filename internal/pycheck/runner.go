// Package pycheck runs the target project's Python tooling and parses what it
// prints: flake8, mypy and pytest output, plus a built-in structural check of
// Python sources.
package pycheck

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Output is the combined output and exit status of a command.
type Output struct {
	Text     string
	ExitCode int
	TimedOut bool
}

// OK reports a zero exit within the deadline.
func (o Output) OK() bool {
	return o.ExitCode == 0 && !o.TimedOut
}

// CommandRunner runs project commands. The returned error is reserved for
// commands that could not be started; non-zero exits are reported in Output.
type CommandRunner interface {
	Run(ctx context.Context, dir, stdin string, args ...string) (Output, error)
}

// ExecRunner runs commands as local subprocesses.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner creates an ExecRunner with the given per-command timeout.
func NewExecRunner(timeout time.Duration) *ExecRunner {
	return &ExecRunner{Timeout: timeout}
}

// Run executes args in dir, feeding stdin when non-empty.
func (r *ExecRunner) Run(ctx context.Context, dir, stdin string, args ...string) (Output, error) {
	if len(args) == 0 {
		return Output{}, fmt.Errorf("no command specified")
	}
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}
	cmd.WaitDelay = 2 * time.Second
	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	out := Output{Text: buf.String()}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		out.TimedOut = true
		out.ExitCode = -1
		return out, nil
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("failed to run %s: %w", args[0], err)
	}
	return out, nil
}

// MockRunner is a test double for CommandRunner.
type MockRunner struct {
	// RunFunc is called when Run is invoked. If nil, Run returns a
	// successful empty Output.
	RunFunc func(ctx context.Context, dir, stdin string, args ...string) (Output, error)
}

// Run calls the mock function if set.
func (m *MockRunner) Run(ctx context.Context, dir, stdin string, args ...string) (Output, error) {
	if m.RunFunc != nil {
		return m.RunFunc(ctx, dir, stdin, args...)
	}
	return Output{}, nil
}
