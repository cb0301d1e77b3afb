package sysctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// DefaultCommandTimeout bounds a single host command.
const DefaultCommandTimeout = 15 * time.Second

// Runner executes host commands. Run waits for completion and returns
// combined output; Start launches a command without waiting, for GUI
// applications that keep running.
type Runner interface {
	Run(ctx context.Context, name string, args ...string) (string, error)
	Start(name string, args ...string) error
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct {
	Timeout time.Duration
	Dir     string
}

// Run executes name with args and returns trimmed combined output. A
// non-zero exit is an error carrying the command's output.
func (r ExecRunner) Run(ctx context.Context, name string, args ...string) (string, error) {
	timeout := r.Timeout
	if timeout <= 0 {
		timeout = DefaultCommandTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = r.Dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	err := cmd.Run()
	output := strings.TrimSpace(out.String())
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return output, fmt.Errorf("%s timed out after %s", name, timeout)
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && output != "" {
			return output, fmt.Errorf("%s: %s", name, output)
		}
		return output, fmt.Errorf("%s: %w", name, err)
	}
	return output, nil
}

// Start launches name detached from the caller and reaps it in the
// background.
func (r ExecRunner) Start(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	cmd.Dir = r.Dir
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
