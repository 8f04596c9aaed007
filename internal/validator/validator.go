package validator

import (
	"context"
	"log/slog"
	"unicode"
	"unicode/utf8"

	"sentra/internal/audit"
	"sentra/internal/domain"
	"sentra/internal/metrics"
)

// Config controls the validation pipeline.
type Config struct {
	MaxInputLength    int
	BlockOnThreat     bool
	BlockThreshold    domain.ThreatLevel
	SanitizeInput     bool
	LogAllValidations bool
}

// DefaultConfig mirrors the shipped defaults.
func DefaultConfig() Config {
	return Config{
		MaxInputLength: 10000,
		BlockOnThreat:  true,
		BlockThreshold: domain.ThreatLevelMedium,
		SanitizeInput:  true,
	}
}

// Options describe one validation call.
type Options struct {
	Source    string
	SessionID string
	Context   domain.ValidationContext
}

// Validator runs the detector pipeline over untrusted input. Detection is
// total: it always returns a result and never errors, even on garbage input.
type Validator struct {
	cfg      Config
	patterns *PatternSet
	sink     domain.AuditSink
	logger   *slog.Logger
}

func New(cfg Config, patterns *PatternSet, sink domain.AuditSink, logger *slog.Logger) *Validator {
	if cfg.MaxInputLength <= 0 {
		cfg.MaxInputLength = 10000
	}
	if cfg.BlockThreshold.Rank() < 0 {
		cfg.BlockThreshold = domain.ThreatLevelMedium
	}
	if patterns == nil {
		patterns = DefaultPatternSet()
	}
	return &Validator{cfg: cfg, patterns: patterns, sink: sink, logger: logger}
}

// Validate runs the full pipeline and returns the classification. Threats
// found are forwarded to the audit sink as a side effect.
func (v *Validator) Validate(ctx context.Context, input string, opts Options) domain.ValidationResult {
	if opts.Context == "" {
		opts.Context = domain.ContextText
	}

	var threats []domain.DetectedThreat

	// 1. Length check.
	if len(input) > v.cfg.MaxInputLength {
		threats = append(threats, domain.DetectedThreat{
			Type:        domain.ThreatEncodingAttack,
			Pattern:     "excessive_length",
			Location:    domain.Span{Start: v.cfg.MaxInputLength, End: len(input)},
			Severity:    domain.SeverityWarning,
			Description: "input exceeds maximum length",
		})
	}

	// 2. Prompt injection. Each match is independently audited.
	for _, t := range matchRules(input, v.patterns.promptInjection) {
		threats = append(threats, t)
		if v.sink != nil {
			v.sink.Log(ctx, audit.PromptInjectionEntry(input, t, opts.Source, opts.SessionID))
		}
	}

	// 3. Command injection.
	if opts.Context == domain.ContextCommand || opts.Context == domain.ContextText {
		threats = append(threats, matchRules(input, v.patterns.commandBlocked)...)
		threats = append(threats, matchRules(input, v.patterns.commandHeuristic)...)
	}

	// 4. Path traversal.
	if opts.Context == domain.ContextFilePath || opts.Context == domain.ContextCommand {
		threats = append(threats, matchRules(input, v.patterns.pathTraversal)...)
	}

	// 5. Encoding / unicode exploits, regardless of context.
	threats = append(threats, detectUnicode(input)...)

	// 6. Shell metacharacters, command context only.
	if opts.Context == domain.ContextCommand {
		threats = append(threats, detectMetachars(input)...)
	}

	// 7. Custom rules.
	threats = append(threats, matchRules(input, v.patterns.custom)...)

	level := threatLevel(threats)
	shouldBlock := v.cfg.BlockOnThreat && level.Rank() >= v.cfg.BlockThreshold.Rank()
	safe := len(threats) == 0 || !shouldBlock

	sanitized := input
	if v.cfg.SanitizeInput && len(threats) > 0 {
		sanitized = sanitize(input, threats, opts.Context, v.cfg.MaxInputLength)
	}

	result := domain.ValidationResult{
		Safe:        safe,
		Original:    input,
		Sanitized:   sanitized,
		Threats:     threats,
		ThreatLevel: level,
	}

	metrics.ValidationsTotal.WithLabelValues(string(level)).Inc()
	for _, t := range threats {
		metrics.ThreatsDetectedTotal.WithLabelValues(string(t.Type)).Inc()
	}

	if v.sink != nil && (len(threats) > 0 || v.cfg.LogAllValidations) {
		v.sink.Log(ctx, audit.InputValidationEntry(result, string(opts.Context), opts.Source, opts.SessionID))
	}

	return result
}

// ValidateVoiceCommand validates transcribed voice input.
func (v *Validator) ValidateVoiceCommand(ctx context.Context, input string, source, sessionID string) domain.ValidationResult {
	return v.Validate(ctx, input, Options{Source: source, SessionID: sessionID, Context: domain.ContextVoice})
}

// ValidateFilePath validates a path before it is handed to a tool.
func (v *Validator) ValidateFilePath(ctx context.Context, path string, source, sessionID string) domain.ValidationResult {
	return v.Validate(ctx, path, Options{Source: source, SessionID: sessionID, Context: domain.ContextFilePath})
}

// ValidateCommandString validates a shell command string.
func (v *Validator) ValidateCommandString(ctx context.Context, command string, source, sessionID string) domain.ValidationResult {
	return v.Validate(ctx, command, Options{Source: source, SessionID: sessionID, Context: domain.ContextCommand})
}

// QuickCheck is a side-effect-free prescreen for hot paths. It runs only the
// highest-value detectors and reports whether the input passes them. No
// threat objects are built and nothing is audited.
func (v *Validator) QuickCheck(input string) bool {
	if len(input) > v.cfg.MaxInputLength {
		return false
	}
	for _, r := range v.patterns.promptInjection {
		if r.re.MatchString(input) {
			return false
		}
	}
	for _, r := range v.patterns.commandBlocked {
		if r.re.MatchString(input) {
			return false
		}
	}
	for _, r := range v.patterns.pathTraversal {
		if r.re.MatchString(input) {
			return false
		}
	}
	for _, r := range input {
		if isBidiOverride(r) {
			return false
		}
	}
	return true
}

func matchRules(input string, rules []compiledRule) []domain.DetectedThreat {
	var threats []domain.DetectedThreat
	for _, rule := range rules {
		for _, loc := range rule.re.FindAllStringIndex(input, -1) {
			threats = append(threats, domain.DetectedThreat{
				Type:        rule.Type,
				Pattern:     rule.Pattern,
				Location:    domain.Span{Start: loc[0], End: loc[1]},
				Severity:    rule.Severity,
				Description: rule.Description,
			})
		}
	}
	return threats
}

func isBidiOverride(r rune) bool {
	return (r >= 0x202A && r <= 0x202E) || (r >= 0x2066 && r <= 0x2069) || r == 0x200E || r == 0x200F
}

func isZeroWidth(r rune) bool {
	return (r >= 0x200B && r <= 0x200D) || r == 0xFEFF
}

func isCyrillic(r rune) bool {
	return r >= 0x0400 && r <= 0x04FF
}

// detectUnicode scans runes for control characters, bidi overrides,
// zero-width characters and Cyrillic homograph lookalikes.
func detectUnicode(input string) []domain.DetectedThreat {
	var threats []domain.DetectedThreat

	hasLatin := false
	for _, r := range input {
		if (r >= 'A' && r <= 'Z') || (r >= 'a' && r <= 'z') {
			hasLatin = true
			break
		}
	}

	for i, r := range input {
		end := i + utf8.RuneLen(r)
		switch {
		case isBidiOverride(r):
			// Bidi overrides can visually hide malicious text.
			threats = append(threats, domain.DetectedThreat{
				Type:        domain.ThreatUnicodeExploit,
				Pattern:     "bidi_override",
				Location:    domain.Span{Start: i, End: end},
				Severity:    domain.SeverityCritical,
				Description: "bidirectional override character",
			})
		case isZeroWidth(r):
			threats = append(threats, domain.DetectedThreat{
				Type:        domain.ThreatUnicodeExploit,
				Pattern:     "zero_width",
				Location:    domain.Span{Start: i, End: end},
				Severity:    domain.SeverityWarning,
				Description: "zero-width character",
			})
		case isCyrillic(r) && hasLatin:
			threats = append(threats, domain.DetectedThreat{
				Type:        domain.ThreatUnicodeExploit,
				Pattern:     "homograph",
				Location:    domain.Span{Start: i, End: end},
				Severity:    domain.SeverityWarning,
				Description: "Cyrillic lookalike in latin text",
			})
		case unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t':
			threats = append(threats, domain.DetectedThreat{
				Type:        domain.ThreatEncodingAttack,
				Pattern:     "control_char",
				Location:    domain.Span{Start: i, End: end},
				Severity:    domain.SeverityWarning,
				Description: "control character",
			})
		}
	}
	return threats
}

// detectMetachars produces one threat per metacharacter occurrence.
func detectMetachars(input string) []domain.DetectedThreat {
	var threats []domain.DetectedThreat
	for i, r := range input {
		if _, ok := shellMetachars[r]; !ok {
			continue
		}
		threats = append(threats, domain.DetectedThreat{
			Type:        domain.ThreatShellMetachar,
			Pattern:     string(r),
			Location:    domain.Span{Start: i, End: i + utf8.RuneLen(r)},
			Severity:    domain.SeverityWarning,
			Description: "shell metacharacter",
		})
	}
	return threats
}

// threatLevel derives the overall level from the max threat severity.
// The low branch is kept for the threats-present-but-below-warning case even
// though the current severity set cannot reach it; downstream threshold
// comparisons depend on the exact shape of this mapping.
func threatLevel(threats []domain.DetectedThreat) domain.ThreatLevel {
	if len(threats) == 0 {
		return domain.ThreatLevelNone
	}
	max := domain.SeverityInfo
	for _, t := range threats {
		if t.Severity.Rank() > max.Rank() {
			max = t.Severity
		}
	}
	switch max {
	case domain.SeverityBlocked:
		return domain.ThreatLevelCritical
	case domain.SeverityCritical:
		return domain.ThreatLevelHigh
	case domain.SeverityWarning:
		return domain.ThreatLevelMedium
	default:
		return domain.ThreatLevelLow
	}
}
