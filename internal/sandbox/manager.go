package sandbox

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"sentra/internal/audit"
	"sentra/internal/classifier"
	"sentra/internal/domain"
	"sentra/internal/metrics"

	"github.com/google/uuid"
)

const confirmationTimeout = 30 * time.Second

// passthroughEnvVars survive filtering when AllowEnvVars is off.
var passthroughEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "TEMP": true, "TMP": true, "TMPDIR": true,
	"LANG": true, "TERM": true, "USER": true, "SHELL": true,
}

// Config is the manager's own policy on top of the level presets.
type Config struct {
	Level               domain.SandboxLevel
	AllowedPaths        []string
	BlockedPaths        []string
	ConfirmationTimeout time.Duration
}

// ExecuteOptions describe one mediated execution.
type ExecuteOptions struct {
	SandboxLevel     domain.SandboxLevel // per-call level override; empty uses the manager level
	SkipConfirmation bool                // trusted callers bypass the confirmation gate
	Cwd              string
	Timeout          time.Duration
	Env              []string // extra environment entries appended after policy filtering
	Source           string
	SessionID        string
}

type pendingConfirmation struct {
	command string
	ch      chan bool
}

type activeExecution struct {
	command string
	cancel  context.CancelFunc
	started time.Time
}

// Manager mediates every command execution: classification, policy, user
// confirmation, bounded execution and the audit trail.
type Manager struct {
	executor   domain.Executor
	classifier *classifier.Classifier
	sink       domain.AuditSink
	bus        domain.EventBus
	logger     *slog.Logger

	mu      sync.Mutex
	cfg     Config
	pending map[string]*pendingConfirmation
	active  map[string]*activeExecution
	closed  bool
}

func NewManager(cfg Config, executor domain.Executor, cls *classifier.Classifier, sink domain.AuditSink, bus domain.EventBus, logger *slog.Logger) *Manager {
	if cfg.Level == "" || !KnownLevel(cfg.Level) {
		cfg.Level = domain.LevelMedium
	}
	if cfg.ConfirmationTimeout <= 0 {
		cfg.ConfirmationTimeout = confirmationTimeout
	}
	if executor == nil {
		executor = NewShellExecutor()
	}
	return &Manager{
		executor:   executor,
		classifier: cls,
		sink:       sink,
		bus:        bus,
		logger:     logger,
		cfg:        cfg,
		pending:    make(map[string]*pendingConfirmation),
		active:     make(map[string]*activeExecution),
	}
}

// Execute runs a command through the full mediation pipeline. Policy refusals
// come back as a blocked SandboxResult, not an error; only infrastructure
// failures error.
func (m *Manager) Execute(ctx context.Context, command string, opts ExecuteOptions) (domain.SandboxResult, error) {
	if opts.SandboxLevel != "" && !KnownLevel(opts.SandboxLevel) {
		return domain.SandboxResult{Command: command}, fmt.Errorf("unknown sandbox level %q", opts.SandboxLevel)
	}
	id := uuid.NewString()
	policy, level := m.effectivePolicy(opts.SandboxLevel)

	res := domain.SandboxResult{ID: id, Command: command, Level: level}

	// 1. Classification gate.
	safety := m.classifier.Classify(ctx, command, opts.Source, opts.SessionID)
	if !safety.Allowed {
		res.Blocked = true
		res.Reason = safety.Reason
		m.finish(ctx, res, opts, "blocked")
		return res, nil
	}

	// 2. Working directory policy.
	cwd := opts.Cwd
	if cwd == "" {
		cwd, _ = os.Getwd()
	}
	if dec := CheckPath(policy, cwd, false); !dec.Allowed {
		res.Blocked = true
		res.Reason = "working directory refused: " + dec.Reason
		m.finish(ctx, res, opts, "blocked")
		return res, nil
	}

	// 3. Confirmation gate. SkipConfirmation is the sanctioned bypass for
	// callers that have already obtained consent through their own UI.
	needsConfirmation := safety.RequiresConfirmation ||
		(policy.RequireConfirmation && safety.RiskLevel != domain.RiskLow)
	if needsConfirmation && !opts.SkipConfirmation {
		confirmed, err := m.awaitConfirmation(ctx, id, command, safety, opts)
		if err != nil {
			return res, err
		}
		if !confirmed {
			res.Blocked = true
			res.Reason = "execution not confirmed"
			m.finish(ctx, res, opts, "denied")
			return res, nil
		}
		res.Confirmed = true
	}

	// 4. Bounded execution.
	timeout := policy.MaxExecutionTime
	if opts.Timeout > 0 && opts.Timeout < timeout {
		timeout = opts.Timeout
	}

	execCtx, cancel := context.WithCancel(ctx)
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		cancel()
		return res, fmt.Errorf("sandbox manager is shut down")
	}
	m.active[id] = &activeExecution{command: command, cancel: cancel, started: time.Now()}
	m.mu.Unlock()
	metrics.ActiveExecutions.Inc()

	execRes := m.executor.Execute(execCtx, domain.ExecRequest{
		Command:       command,
		Cwd:           cwd,
		Timeout:       timeout,
		MaxOutputSize: policy.MaxOutputSize,
		Env:           append(filterEnv(policy), opts.Env...),
		SessionID:     opts.SessionID,
		Source:        opts.Source,
	})

	m.mu.Lock()
	delete(m.active, id)
	m.mu.Unlock()
	metrics.ActiveExecutions.Dec()
	cancel()

	res.Data = execRes.Data
	res.Violations = collectViolations(policy, execRes.Data, timeout)
	// A limit violation negates success even when the process exited 0.
	res.Success = execRes.Success && len(res.Violations) == 0
	if !execRes.Success {
		res.Reason = execRes.Error
	} else if len(res.Violations) > 0 {
		res.Reason = res.Violations[0].Message
	}

	metrics.ExecutionDuration.Observe(execRes.Data.Duration.Seconds())
	m.finish(ctx, res, opts, outcomeLabel(res))
	return res, nil
}

// awaitConfirmation publishes a confirmation request and blocks until the
// first of: confirm, reject, timeout, context cancellation. One resolution
// only; late answers find no pending slot and are ignored.
func (m *Manager) awaitConfirmation(ctx context.Context, id, command string, safety domain.CommandSafety, opts ExecuteOptions) (bool, error) {
	p := &pendingConfirmation{command: command, ch: make(chan bool, 1)}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false, fmt.Errorf("sandbox manager is shut down")
	}
	m.pending[id] = p
	timeout := m.cfg.ConfirmationTimeout
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(domain.Event{
			Type:        domain.EventConfirmationRequired,
			Timestamp:   time.Now(),
			ExecutionID: id,
			Payload: map[string]any{
				"command":        command,
				"riskLevel":      string(safety.RiskLevel),
				"reason":         safety.Reason,
				"timeoutSeconds": int(timeout / time.Second),
				"source":         opts.Source,
			},
		})
	}
	m.logger.Info("awaiting confirmation", "executionId", id, "command", command)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case confirmed := <-p.ch:
		return confirmed, nil
	case <-timer.C:
		m.removePending(id)
		m.logger.Warn("confirmation timed out", "executionId", id)
		return false, nil
	case <-ctx.Done():
		m.removePending(id)
		return false, ctx.Err()
	}
}

// ConfirmExecution resolves a pending confirmation. The pending slot is
// removed under the lock before the send, so a concurrent timeout cannot
// double-resolve.
func (m *Manager) ConfirmExecution(id string, confirmed bool) bool {
	m.mu.Lock()
	p, ok := m.pending[id]
	if ok {
		delete(m.pending, id)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	p.ch <- confirmed
	return true
}

// CancelExecution cancels a running execution or rejects a pending one.
func (m *Manager) CancelExecution(id string) bool {
	m.mu.Lock()
	if p, ok := m.pending[id]; ok {
		delete(m.pending, id)
		m.mu.Unlock()
		p.ch <- false
		m.publishCancelled(id)
		return true
	}
	a, ok := m.active[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	a.cancel()
	m.publishCancelled(id)
	return true
}

func (m *Manager) publishCancelled(id string) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(domain.Event{
		Type:        domain.EventExecutionCancelled,
		Timestamp:   time.Now(),
		ExecutionID: id,
	})
}

// SetLevel changes the active sandbox level.
func (m *Manager) SetLevel(level domain.SandboxLevel) error {
	if !KnownLevel(level) {
		return fmt.Errorf("unknown sandbox level %q", level)
	}
	m.mu.Lock()
	old := m.cfg.Level
	m.cfg.Level = level
	m.mu.Unlock()

	m.logger.Info("sandbox level changed", "from", old, "to", level)
	if m.bus != nil {
		m.bus.Publish(domain.Event{
			Type:      domain.EventLevelChanged,
			Timestamp: time.Now(),
			Payload:   map[string]any{"from": string(old), "to": string(level)},
		})
	}
	return nil
}

// Level returns the active sandbox level.
func (m *Manager) Level() domain.SandboxLevel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg.Level
}

// SetPaths replaces the manager-level path policy.
func (m *Manager) SetPaths(allowed, blocked []string) {
	m.mu.Lock()
	m.cfg.AllowedPaths = append([]string(nil), allowed...)
	m.cfg.BlockedPaths = append([]string(nil), blocked...)
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(domain.Event{
			Type:      domain.EventConfigChanged,
			Timestamp: time.Now(),
			Payload:   map[string]any{"allowedPaths": allowed, "blockedPaths": blocked},
		})
	}
}

// CheckPathAccess applies the effective policy to a path.
func (m *Manager) CheckPathAccess(path string, write bool) PathDecision {
	policy, _ := m.effectivePolicy("")
	return CheckPath(policy, path, write)
}

// Pending returns the ids of executions waiting on confirmation.
func (m *Manager) Pending() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	ids := make([]string, 0, len(m.pending))
	for id := range m.pending {
		ids = append(ids, id)
	}
	return ids
}

// Shutdown rejects pending confirmations and cancels active executions.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	m.closed = true
	pending := m.pending
	active := m.active
	m.pending = make(map[string]*pendingConfirmation)
	m.active = make(map[string]*activeExecution)
	m.mu.Unlock()

	for id, p := range pending {
		p.ch <- false
		m.logger.Info("pending confirmation rejected on shutdown", "executionId", id)
	}
	for id, a := range active {
		a.cancel()
		m.logger.Info("active execution cancelled on shutdown", "executionId", id)
	}
}

// effectivePolicy merges the level preset with manager path overrides. A
// non-empty override replaces the manager level for this call only.
func (m *Manager) effectivePolicy(override domain.SandboxLevel) (domain.SandboxConfig, domain.SandboxLevel) {
	m.mu.Lock()
	cfg := m.cfg
	m.mu.Unlock()

	if override != "" && KnownLevel(override) {
		cfg.Level = override
	}
	policy := PresetFor(cfg.Level)
	policy.AllowedPaths = append(policy.AllowedPaths, cfg.AllowedPaths...)
	policy.BlockedPaths = append(policy.BlockedPaths, cfg.BlockedPaths...)
	return policy, cfg.Level
}

func (m *Manager) removePending(id string) {
	m.mu.Lock()
	delete(m.pending, id)
	m.mu.Unlock()
}

func (m *Manager) finish(ctx context.Context, res domain.SandboxResult, opts ExecuteOptions, outcome string) {
	metrics.ExecutionsTotal.WithLabelValues(outcome).Inc()
	if m.sink != nil {
		m.sink.Log(ctx, audit.SandboxExecutionEntry(res, opts.Source, opts.SessionID))
	}
	if m.bus != nil {
		m.bus.Publish(domain.Event{
			Type:        domain.EventExecutionComplete,
			Timestamp:   time.Now(),
			ExecutionID: res.ID,
			Payload: map[string]any{
				"success":  res.Success,
				"blocked":  res.Blocked,
				"exitCode": res.Data.ExitCode,
				"outcome":  outcome,
			},
		})
	}
}

func outcomeLabel(res domain.SandboxResult) string {
	switch {
	case res.Blocked:
		return "blocked"
	case res.Data.TimedOut:
		return "timeout"
	case res.Success:
		return "success"
	default:
		return "failure"
	}
}

// filterEnv builds the child environment under the policy. With AllowEnvVars
// off only the passthrough set survives; otherwise everything except names
// matching a blocked fragment.
func filterEnv(policy domain.SandboxConfig) []string {
	var out []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if !policy.AllowEnvVars {
			if passthroughEnvVars[strings.ToUpper(name)] {
				out = append(out, kv)
			}
			continue
		}
		if blockedEnvName(name, policy.BlockedEnvVars) {
			continue
		}
		out = append(out, kv)
	}
	return out
}

func blockedEnvName(name string, blocked []string) bool {
	upper := strings.ToUpper(name)
	for _, frag := range blocked {
		if strings.Contains(upper, strings.ToUpper(frag)) {
			return true
		}
	}
	return false
}

// collectViolations records post-hoc limit breaches for the audit trail. The
// measured duration and output size are compared against the limits directly;
// the executor's flags alone are not trusted.
func collectViolations(policy domain.SandboxConfig, data domain.ExecData, timeLimit time.Duration) []domain.SandboxViolation {
	var violations []domain.SandboxViolation
	now := time.Now()
	if data.TimedOut || (timeLimit > 0 && data.Duration > timeLimit) {
		violations = append(violations, domain.SandboxViolation{
			Type:    domain.ViolationTimeExceeded,
			Message: "execution exceeded the time limit",
			Details: map[string]any{
				"limitSeconds":    timeLimit.Seconds(),
				"durationSeconds": data.Duration.Seconds(),
			},
			Timestamp: now,
		})
	}
	output := len(data.Stdout) + len(data.Stderr)
	if data.Truncated || (policy.MaxOutputSize > 0 && output > policy.MaxOutputSize) {
		violations = append(violations, domain.SandboxViolation{
			Type:    domain.ViolationOutputExceeded,
			Message: "output exceeded the size limit",
			Details: map[string]any{
				"limitBytes":  policy.MaxOutputSize,
				"outputBytes": output,
			},
			Timestamp: now,
		})
	}
	return violations
}
