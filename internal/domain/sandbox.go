package domain

import (
	"context"
	"time"
)

// SandboxLevel names a preset bundle of resource and policy limits.
type SandboxLevel string

const (
	LevelNone     SandboxLevel = "none"
	LevelLight    SandboxLevel = "light"
	LevelMedium   SandboxLevel = "medium"
	LevelStrict   SandboxLevel = "strict"
	LevelIsolated SandboxLevel = "isolated"
)

// SandboxConfig is the effective policy an execution runs under.
// BlockedPaths always takes precedence over AllowedPaths.
type SandboxConfig struct {
	Level               SandboxLevel  `json:"level"`
	MaxExecutionTime    time.Duration `json:"maxExecutionTime"`
	MaxMemory           int64         `json:"maxMemory"` // bytes; 0 = unlimited
	MaxOutputSize       int           `json:"maxOutputSize"`
	AllowedPaths        []string      `json:"allowedPaths"`
	ReadOnlyPaths       []string      `json:"readOnlyPaths"`
	BlockedPaths        []string      `json:"blockedPaths"`
	AllowNetwork        bool          `json:"allowNetwork"`
	AllowSubprocess     bool          `json:"allowSubprocess"`
	AllowEnvVars        bool          `json:"allowEnvVars"`
	BlockedEnvVars      []string      `json:"blockedEnvVars"`
	RequireConfirmation bool          `json:"requireConfirmation"`
}

// ViolationType classifies a post-hoc limit breach.
type ViolationType string

const (
	ViolationTimeExceeded   ViolationType = "time_exceeded"
	ViolationOutputExceeded ViolationType = "output_exceeded"
	ViolationPathBlocked    ViolationType = "path_blocked"
)

// SandboxViolation records a breach observed during or after execution.
// Distinct from a pre-execution block, which prevents execution entirely.
type SandboxViolation struct {
	Type      ViolationType  `json:"type"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ExecData carries the raw process outcome from the underlying executor.
type ExecData struct {
	Stdout    string        `json:"stdout"`
	Stderr    string        `json:"stderr"`
	ExitCode  int           `json:"exitCode"`
	Duration  time.Duration `json:"duration"`
	Truncated bool          `json:"truncated"`
	TimedOut  bool          `json:"timedOut"`
}

// ExecResult is what the executor returns. Expected failures (non-zero exit,
// timeout) live in Data/Error, not in a Go error.
type ExecResult struct {
	Success bool     `json:"success"`
	Data    ExecData `json:"data"`
	Error   string   `json:"error,omitempty"`
}

// ExecRequest is the executor contract: the executor enforces the hard
// timeout and output cap itself.
type ExecRequest struct {
	Command       string
	Cwd           string
	Timeout       time.Duration
	MaxOutputSize int
	Env           []string
	SessionID     string
	Source        string
}

// Executor runs a command under bounded resources. It is treated as a black
// box by the sandbox manager.
type Executor interface {
	Execute(ctx context.Context, req ExecRequest) ExecResult
}

// SandboxResult is the outcome of a mediated execution.
type SandboxResult struct {
	ID         string             `json:"id"`
	Command    string             `json:"command"`
	Level      SandboxLevel       `json:"level"`
	Success    bool               `json:"success"`
	Confirmed  bool               `json:"confirmed"`
	Blocked    bool               `json:"blocked"`
	Reason     string             `json:"reason,omitempty"`
	Data       ExecData           `json:"data"`
	Violations []SandboxViolation `json:"violations,omitempty"`
}

// RiskLevel is the command-safety classifier's tier.
type RiskLevel string

const (
	RiskLow     RiskLevel = "low"
	RiskMedium  RiskLevel = "medium"
	RiskHigh    RiskLevel = "high"
	RiskBlocked RiskLevel = "blocked"
)

// CommandSafety is the classifier verdict for a shell command string.
type CommandSafety struct {
	Allowed              bool      `json:"allowed"`
	Reason               string    `json:"reason,omitempty"`
	RiskLevel            RiskLevel `json:"riskLevel"`
	RequiresConfirmation bool      `json:"requiresConfirmation"`
}
