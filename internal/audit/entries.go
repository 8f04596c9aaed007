package audit

import (
	"fmt"

	"sentra/internal/domain"
)

// Entry builders encode the category/severity conventions for the
// security-relevant events the core produces. Callers pass the result to an
// AuditSink; the sink owns ids, timestamps, sequence and the hash chain.

func InputValidationEntry(res domain.ValidationResult, vctx, source, sessionID string) domain.AuditEntry {
	ctx := map[string]any{
		"context":     vctx,
		"threatLevel": string(res.ThreatLevel),
		"threatCount": len(res.Threats),
	}
	// Attach the sanitized value only when sanitization changed something.
	if res.Sanitized != res.Original {
		ctx["sanitized"] = res.Sanitized
	}
	return domain.AuditEntry{
		Category:  domain.CategoryValidation,
		Severity:  severityForLevel(res.ThreatLevel),
		Message:   fmt.Sprintf("input validation: %d threat(s), level %s", len(res.Threats), res.ThreatLevel),
		Action:    "input_validation",
		Allowed:   res.Safe,
		Source:    source,
		SessionID: sessionID,
		Context:   ctx,
	}
}

func PromptInjectionEntry(input string, t domain.DetectedThreat, source, sessionID string) domain.AuditEntry {
	return domain.AuditEntry{
		Category:  domain.CategoryValidation,
		Severity:  domain.AuditCritical,
		Message:   "prompt injection pattern matched: " + t.Description,
		Action:    "prompt_injection",
		Allowed:   false,
		Reason:    t.Description,
		Source:    source,
		SessionID: sessionID,
		Context: map[string]any{
			"pattern": t.Pattern,
			"start":   t.Location.Start,
			"end":     t.Location.End,
		},
	}
}

func CommandClassificationEntry(command string, safety domain.CommandSafety, source, sessionID string) domain.AuditEntry {
	sev := domain.AuditInfo
	if safety.RiskLevel == domain.RiskHigh {
		sev = domain.AuditWarning
	}
	if safety.RiskLevel == domain.RiskBlocked {
		sev = domain.AuditError
	}
	return domain.AuditEntry{
		Category:  domain.CategoryCommand,
		Severity:  sev,
		Message:   fmt.Sprintf("command classified %s: %s", safety.RiskLevel, command),
		Action:    "command_classification",
		Allowed:   safety.Allowed,
		Reason:    safety.Reason,
		Source:    source,
		SessionID: sessionID,
		Context: map[string]any{
			"riskLevel":            string(safety.RiskLevel),
			"requiresConfirmation": safety.RequiresConfirmation,
		},
	}
}

func SandboxExecutionEntry(res domain.SandboxResult, source, sessionID string) domain.AuditEntry {
	sev := domain.AuditInfo
	if res.Blocked || len(res.Violations) > 0 {
		sev = domain.AuditWarning
	}
	violationTypes := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		violationTypes = append(violationTypes, string(v.Type))
	}
	return domain.AuditEntry{
		Category:   domain.CategorySandbox,
		Severity:   sev,
		Message:    fmt.Sprintf("sandbox execution %s: %s", outcome(res), res.Command),
		Action:     "sandbox_execution",
		Allowed:    !res.Blocked,
		Reason:     res.Reason,
		Source:     source,
		SessionID:  sessionID,
		DurationMS: res.Data.Duration.Milliseconds(),
		Context: map[string]any{
			"executionId": res.ID,
			"level":       string(res.Level),
			"exitCode":    res.Data.ExitCode,
			"confirmed":   res.Confirmed,
			"violations":  violationTypes,
		},
	}
}

func CredentialEntry(action, name string, allowed bool, reason string) domain.AuditEntry {
	sev := domain.AuditInfo
	if !allowed {
		sev = domain.AuditWarning
	}
	return domain.AuditEntry{
		Category: domain.CategoryCredential,
		Severity: sev,
		Message:  fmt.Sprintf("credential %s: %s", action, name),
		Action:   action,
		Allowed:  allowed,
		Reason:   reason,
		Source:   "keystore",
	}
}

func severityForLevel(l domain.ThreatLevel) domain.AuditSeverity {
	switch l {
	case domain.ThreatLevelCritical:
		return domain.AuditCritical
	case domain.ThreatLevelHigh:
		return domain.AuditError
	case domain.ThreatLevelMedium:
		return domain.AuditWarning
	default:
		return domain.AuditInfo
	}
}

func outcome(res domain.SandboxResult) string {
	switch {
	case res.Blocked:
		return "blocked"
	case !res.Success && res.Data.TimedOut:
		return "timed out"
	case !res.Success:
		return "failed"
	default:
		return "completed"
	}
}
