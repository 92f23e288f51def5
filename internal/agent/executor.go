package agent

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// Executor runs the agent CLI. This abstraction allows for testing with
// mock executors.
type Executor interface {
	// Execute runs args[0] with the remaining arguments in dir. onLine is
	// called for every line of stdout and stderr.
	Execute(ctx context.Context, dir string, args []string, onLine func(string)) error
}

// ExitError reports a non-zero exit of the agent process.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("agent exited with code %d", e.Code)
}

// LocalExecutor runs the agent as a local subprocess.
type LocalExecutor struct {
	// Env is appended to the current environment.
	Env []string
	// WaitDelay bounds how long output draining may continue after the
	// process is killed.
	WaitDelay time.Duration
}

// NewLocalExecutor creates a new LocalExecutor with default settings.
func NewLocalExecutor() *LocalExecutor {
	return &LocalExecutor{WaitDelay: 5 * time.Second}
}

// Execute runs the command, streaming output to onLine. Cancelling ctx kills
// the whole process group.
func (e *LocalExecutor) Execute(ctx context.Context, dir string, args []string, onLine func(string)) error {
	if len(args) == 0 {
		return fmt.Errorf("no command specified")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), e.Env...)
	cmd.Stdin = nil
	setProcessGroup(cmd)
	cmd.WaitDelay = e.WaitDelay

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start agent: %w", err)
	}

	var mu sync.Mutex
	emit := func(line string) {
		if onLine == nil {
			return
		}
		mu.Lock()
		defer mu.Unlock()
		onLine(line)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scan(stdout, emit)
	}()
	go func() {
		defer wg.Done()
		scan(stderr, emit)
	}()
	wg.Wait()

	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if waitErr != nil {
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return fmt.Errorf("agent failed: %w", waitErr)
	}
	return nil
}

func scan(r io.Reader, emit func(string)) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 64*1024)
	scanner.Buffer(buf, 10*1024*1024)
	for scanner.Scan() {
		emit(scanner.Text())
	}
}

// MockExecutor is a test double for Executor.
type MockExecutor struct {
	// ExecuteFunc is called when Execute is invoked.
	// If nil, Execute returns nil.
	ExecuteFunc func(ctx context.Context, dir string, args []string, onLine func(string)) error

	mu    sync.Mutex
	calls [][]string
}

// Execute records the call and invokes the mock function if set.
func (m *MockExecutor) Execute(ctx context.Context, dir string, args []string, onLine func(string)) error {
	m.mu.Lock()
	m.calls = append(m.calls, append([]string(nil), args...))
	m.mu.Unlock()

	if m.ExecuteFunc != nil {
		return m.ExecuteFunc(ctx, dir, args, onLine)
	}
	return nil
}

// Calls returns the argument lists of every Execute call.
func (m *MockExecutor) Calls() [][]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]string, len(m.calls))
	copy(out, m.calls)
	return out
}
