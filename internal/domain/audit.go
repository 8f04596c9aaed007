package domain

import (
	"context"
	"time"
)

type AuditCategory string

const (
	CategoryValidation AuditCategory = "validation"
	CategoryCommand    AuditCategory = "command"
	CategorySandbox    AuditCategory = "sandbox"
	CategoryCredential AuditCategory = "credential"
	CategoryIntegrity  AuditCategory = "integrity"
	CategoryAlert      AuditCategory = "alert"
	CategorySystem     AuditCategory = "system"
)

type AuditSeverity string

const (
	AuditInfo     AuditSeverity = "info"
	AuditWarning  AuditSeverity = "warning"
	AuditError    AuditSeverity = "error"
	AuditCritical AuditSeverity = "critical"
)

// AuditEntry is one link in the hash chain. Hash covers the canonical JSON of
// the entry with Hash cleared, concatenated with PreviousHash. Entries are
// append-only; they are never mutated after the hash is set.
type AuditEntry struct {
	ID           string         `json:"id"`
	Timestamp    time.Time      `json:"timestamp"`
	Sequence     uint64         `json:"sequence"`
	Category     AuditCategory  `json:"category"`
	Severity     AuditSeverity  `json:"severity"`
	Message      string         `json:"message"`
	Action       string         `json:"action"`
	Allowed      bool           `json:"allowed"`
	Reason       string         `json:"reason,omitempty"`
	Source       string         `json:"source"`
	SessionID    string         `json:"sessionId,omitempty"`
	DurationMS   int64          `json:"durationMs,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	PreviousHash string         `json:"previousHash"`
	Hash         string         `json:"hash"`
}

// AuditSink receives security-relevant events. Implementations must never
// propagate logging failures to the caller; they report them on a fallback
// channel instead.
type AuditSink interface {
	Log(ctx context.Context, e AuditEntry)
}

// PatternKind selects the evaluation strategy for a suspicious pattern.
type PatternKind string

const (
	PatternThreshold PatternKind = "threshold"
	PatternSequence  PatternKind = "sequence"
	PatternAnomaly   PatternKind = "anomaly"
	PatternCustom    PatternKind = "custom"
)

// PatternThresholdSpec counts matching entries inside a sliding window.
type PatternThresholdSpec struct {
	Count         int `json:"count"`
	WindowSeconds int `json:"windowSeconds"`
}

// SuspiciousPattern is a declarative rule evaluated against every incoming
// audit entry. After firing it stays silent for CooldownSeconds.
type SuspiciousPattern struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Kind      PatternKind          `json:"type"`
	Enabled   bool                 `json:"enabled"`
	Category  AuditCategory        `json:"category,omitempty"`
	Severity  AuditSeverity        `json:"severity,omitempty"`
	Allowed   *bool                `json:"allowed,omitempty"`
	Threshold PatternThresholdSpec `json:"threshold,omitempty"`
	Sequence  []string             `json:"sequence,omitempty"`
	Actions   []string             `json:"actions"` // log | notify | webhook | block_session | email
	Cooldown  int                  `json:"cooldownSeconds"`
}

// PatternAlert is raised when a suspicious pattern triggers.
type PatternAlert struct {
	ID          string    `json:"id"`
	PatternID   string    `json:"patternId"`
	PatternName string    `json:"patternName"`
	Timestamp   time.Time `json:"timestamp"`
	Count       int       `json:"count"`
	Message     string    `json:"message"`
	EntryIDs    []string  `json:"entryIds,omitempty"`
	Actions     []string  `json:"actions"`
}
