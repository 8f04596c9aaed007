package domain

// ThreatType identifies the class of attack a detector matched.
type ThreatType string

const (
	ThreatPromptInjection  ThreatType = "prompt_injection"
	ThreatJailbreakAttempt ThreatType = "jailbreak_attempt"
	ThreatCommandInjection ThreatType = "command_injection"
	ThreatPathTraversal    ThreatType = "path_traversal"
	ThreatShellMetachar    ThreatType = "shell_metachar"
	ThreatEncodingAttack   ThreatType = "encoding_attack"
	ThreatUnicodeExploit   ThreatType = "unicode_exploit"
)

// Severity is the per-threat severity assigned by a detector.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
	SeverityBlocked  Severity = "blocked"
)

// Rank orders severities for threshold comparisons. Unknown severities rank
// below info so malformed input degrades to "no match" instead of blocking.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 0
	case SeverityWarning:
		return 1
	case SeverityCritical:
		return 2
	case SeverityBlocked:
		return 3
	default:
		return -1
	}
}

// ThreatLevel is the overall classification of a validated input.
type ThreatLevel string

const (
	ThreatLevelNone     ThreatLevel = "none"
	ThreatLevelLow      ThreatLevel = "low"
	ThreatLevelMedium   ThreatLevel = "medium"
	ThreatLevelHigh     ThreatLevel = "high"
	ThreatLevelCritical ThreatLevel = "critical"
)

func (l ThreatLevel) Rank() int {
	switch l {
	case ThreatLevelNone:
		return 0
	case ThreatLevelLow:
		return 1
	case ThreatLevelMedium:
		return 2
	case ThreatLevelHigh:
		return 3
	case ThreatLevelCritical:
		return 4
	default:
		return -1
	}
}

// Span marks the [Start, End) byte range of a match within the input.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// DetectedThreat is a single finding produced by a validator detector.
// Immutable once created; embedded in validation results and audit context.
type DetectedThreat struct {
	Type        ThreatType `json:"type"`
	Pattern     string     `json:"pattern"`
	Location    Span       `json:"location"`
	Severity    Severity   `json:"severity"`
	Description string     `json:"description"`
}

// ValidationContext tells the validator where the input came from, which
// decides which detectors run.
type ValidationContext string

const (
	ContextVoice    ValidationContext = "voice"
	ContextText     ValidationContext = "text"
	ContextCommand  ValidationContext = "command"
	ContextFilePath ValidationContext = "file_path"
)

// ValidationResult is the outcome of running the full detector pipeline.
type ValidationResult struct {
	Safe        bool             `json:"safe"`
	Original    string           `json:"original"`
	Sanitized   string           `json:"sanitized"`
	Threats     []DetectedThreat `json:"threats"`
	ThreatLevel ThreatLevel      `json:"threatLevel"`
}
