package sandbox

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"

	"sentra/internal/domain"
)

const (
	defaultExecTimeout   = 30 * time.Second
	defaultMaxOutputSize = 64 * 1024
)

// ShellExecutor runs commands through sh -c so pipes, redirects and quoting
// behave as a user expects. It enforces the hard timeout and the output cap;
// policy decisions belong to the manager.
type ShellExecutor struct{}

func NewShellExecutor() *ShellExecutor { return &ShellExecutor{} }

func (s *ShellExecutor) Execute(ctx context.Context, req domain.ExecRequest) domain.ExecResult {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultExecTimeout
	}
	maxOutput := req.MaxOutputSize
	if maxOutput <= 0 {
		maxOutput = defaultMaxOutputSize
	}

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, "sh", "-c", req.Command)
	cmd.Dir = req.Cwd
	cmd.Env = req.Env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	data := domain.ExecData{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: duration,
		TimedOut: errors.Is(execCtx.Err(), context.DeadlineExceeded),
	}

	if len(data.Stdout) > maxOutput {
		data.Stdout = data.Stdout[:maxOutput]
		data.Truncated = true
	}
	if len(data.Stderr) > maxOutput {
		data.Stderr = data.Stderr[:maxOutput]
		data.Truncated = true
	}

	if runErr == nil {
		return domain.ExecResult{Success: true, Data: data}
	}

	var exitErr *exec.ExitError
	switch {
	case data.TimedOut:
		data.ExitCode = -1
		return domain.ExecResult{Data: data, Error: "execution timed out"}
	case errors.Is(execCtx.Err(), context.Canceled):
		data.ExitCode = -1
		return domain.ExecResult{Data: data, Error: "execution cancelled"}
	case errors.As(runErr, &exitErr):
		data.ExitCode = exitErr.ExitCode()
		return domain.ExecResult{Data: data, Error: runErr.Error()}
	default:
		data.ExitCode = -1
		return domain.ExecResult{Data: data, Error: "failed to start: " + runErr.Error()}
	}
}
