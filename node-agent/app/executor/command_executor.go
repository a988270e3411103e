package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"time"
)

// maxOutputBytes bounds the captured stdout and stderr of one command
const maxOutputBytes = 64 * 1024

// ExecutionResult represents command execution result
type ExecutionResult struct {
	ExitCode  int    `json:"exitCode"`
	Stdout    string `json:"stdout"`
	Stderr    string `json:"stderr"`
	Truncated bool   `json:"truncated,omitempty"`
}

// CommandRunner runs an external program
type CommandRunner interface {
	Execute(ctx context.Context, name string, args []string, dir string) (*ExecutionResult, error)
}

// Executor executes commands with a timeout
type Executor struct {
	timeout time.Duration
}

// NewExecutor creates a new command executor
func NewExecutor(timeout time.Duration) *Executor {
	return &Executor{timeout: timeout}
}

// Execute runs name with args in dir. A non-zero exit is reported in the result, not as an error;
// errors mean the program could not run or was killed by the timeout.
func (e *Executor) Execute(ctx context.Context, name string, args []string, dir string) (*ExecutionResult, error) {
	execCtx := ctx
	if e.timeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	command := exec.CommandContext(execCtx, name, args...)
	command.Dir = dir
	// children that inherit the output pipes must not outlive the kill
	command.WaitDelay = time.Second

	stdout := &cappedBuffer{limit: maxOutputBytes}
	stderr := &cappedBuffer{limit: maxOutputBytes}
	command.Stdout = stdout
	command.Stderr = stderr

	err := command.Run()
	result := &ExecutionResult{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		Truncated: stdout.truncated || stderr.truncated,
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && execCtx.Err() == nil {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		if execCtx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("%s timed out after %s", name, e.timeout)
		}
		return result, fmt.Errorf("execution failed: %w", err)
	}
	return result, nil
}

// cappedBuffer keeps the first limit bytes and drops the rest
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room < len(p) {
		if room > 0 {
			b.buf.Write(p[:room])
		}
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
