package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/zjy-dev/covfit/internal/logger"
)

// TestCase is a candidate test as seen by a runner.
type TestCase struct {
	ID   string   `json:"id" yaml:"id"`
	Args []string `json:"args,omitempty" yaml:"args,omitempty"`
}

// Runner executes a candidate test and returns its recorded result.
// Bounding non-terminating tests is the runner's job; ctx carries the deadline.
type Runner interface {
	Run(ctx context.Context, tc TestCase) (*Result, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, tc TestCase) (*Result, error)

// Run calls f.
func (f RunnerFunc) Run(ctx context.Context, tc TestCase) (*Result, error) {
	return f(ctx, tc)
}

// CommandRunner runs an instrumented test harness as a child process.
// The harness is invoked as Command Args... tc.Args... and must print the JSON
// form of a Result on stdout.
type CommandRunner struct {
	Command string
	Args    []string
}

// NewCommandRunner creates a CommandRunner.
func NewCommandRunner(command string, args ...string) *CommandRunner {
	return &CommandRunner{Command: command, Args: args}
}

// Run executes the harness for tc.
func (r *CommandRunner) Run(ctx context.Context, tc TestCase) (*Result, error) {
	args := append(append([]string{}, r.Args...), tc.Args...)
	cmd := exec.CommandContext(ctx, r.Command, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, fmt.Errorf("test %s: %w", tc.ID, ctxErr)
	}

	// A test that throws still exits non-zero after printing its trace, so only
	// failures to start the process are fatal here.
	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("failed to run test %s: %w", tc.ID, err)
		}
		exitCode = exitErr.ExitCode()
	}

	res := NewResult()
	if err := json.Unmarshal(stdout.Bytes(), res); err != nil {
		return nil, fmt.Errorf("test %s produced no trace (exit %d, stderr %q): %w",
			tc.ID, exitCode, strings.TrimSpace(stderr.String()), err)
	}
	if exitCode != 0 {
		logger.Debug("[Runner] Test %s exited with code %d", tc.ID, exitCode)
	}
	return res, nil
}
