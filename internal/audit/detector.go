package audit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sentra/internal/domain"

	"github.com/google/uuid"
)

// Detector matches the entry stream against suspicious-activity patterns.
// It holds per-pattern sliding windows and cooldowns; Observe is called from
// the logger's append path and must stay cheap.
type Detector struct {
	logger *slog.Logger

	mu       sync.Mutex
	patterns []domain.SuspiciousPattern
	state    map[string]*patternState
}

type patternState struct {
	window    []windowHit // threshold: entries inside the window
	seqIndex  int         // sequence: next action expected
	lastFired time.Time
}

type windowHit struct {
	at time.Time
	id string
}

func NewDetector(patterns []domain.SuspiciousPattern, logger *slog.Logger) *Detector {
	d := &Detector{
		logger: logger,
		state:  make(map[string]*patternState),
	}
	d.SetPatterns(patterns)
	return d
}

// SetPatterns replaces the active pattern set and resets accumulated state.
func (d *Detector) SetPatterns(patterns []domain.SuspiciousPattern) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.patterns = patterns
	d.state = make(map[string]*patternState)
	for _, p := range patterns {
		d.state[p.ID] = &patternState{}
	}
}

// Observe feeds one entry to every enabled pattern and returns any alerts it
// fired. Alert entries themselves are never observed; a pattern matching on
// its own output would feed back into itself.
func (d *Detector) Observe(e domain.AuditEntry) []domain.PatternAlert {
	if e.Category == domain.CategoryAlert {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	var alerts []domain.PatternAlert
	for _, p := range d.patterns {
		if !p.Enabled || !matches(p, e) {
			continue
		}
		st := d.state[p.ID]
		if st == nil {
			st = &patternState{}
			d.state[p.ID] = st
		}
		if alert, fired := d.observeOne(p, st, e); fired {
			alerts = append(alerts, alert)
		}
	}
	return alerts
}

func (d *Detector) observeOne(p domain.SuspiciousPattern, st *patternState, e domain.AuditEntry) (domain.PatternAlert, bool) {
	switch p.Kind {
	case domain.PatternThreshold:
		return d.observeThreshold(p, st, e)
	case domain.PatternSequence:
		return d.observeSequence(p, st, e)
	default:
		// anomaly and custom kinds are declared but have no in-core
		// evaluator; they are for external consumers of the alert stream.
		return domain.PatternAlert{}, false
	}
}

func (d *Detector) observeThreshold(p domain.SuspiciousPattern, st *patternState, e domain.AuditEntry) (domain.PatternAlert, bool) {
	if p.Threshold.Count <= 0 {
		return domain.PatternAlert{}, false
	}
	now := e.Timestamp
	window := time.Duration(p.Threshold.WindowSeconds) * time.Second

	st.window = append(st.window, windowHit{at: now, id: e.ID})
	cutoff := now.Add(-window)
	kept := st.window[:0]
	for _, h := range st.window {
		if h.at.After(cutoff) {
			kept = append(kept, h)
		}
	}
	st.window = kept

	if len(st.window) < p.Threshold.Count {
		return domain.PatternAlert{}, false
	}
	if p.Cooldown > 0 && !st.lastFired.IsZero() && now.Sub(st.lastFired) < time.Duration(p.Cooldown)*time.Second {
		return domain.PatternAlert{}, false
	}
	st.lastFired = now

	ids := make([]string, len(st.window))
	for i, h := range st.window {
		ids[i] = h.id
	}
	count := len(st.window)
	st.window = st.window[:0]

	return domain.PatternAlert{
		ID:          uuid.NewString(),
		PatternID:   p.ID,
		PatternName: p.Name,
		Timestamp:   now,
		Count:       count,
		Message:     fmt.Sprintf("%s: %d matching entries within %ds", p.Name, count, p.Threshold.WindowSeconds),
		EntryIDs:    ids,
		Actions:     p.Actions,
	}, true
}

func (d *Detector) observeSequence(p domain.SuspiciousPattern, st *patternState, e domain.AuditEntry) (domain.PatternAlert, bool) {
	if len(p.Sequence) == 0 {
		return domain.PatternAlert{}, false
	}
	if e.Action != p.Sequence[st.seqIndex] {
		// Restart; the first step may match immediately.
		st.seqIndex = 0
		if e.Action != p.Sequence[0] {
			return domain.PatternAlert{}, false
		}
	}
	st.seqIndex++
	if st.seqIndex < len(p.Sequence) {
		return domain.PatternAlert{}, false
	}
	st.seqIndex = 0

	now := e.Timestamp
	if p.Cooldown > 0 && !st.lastFired.IsZero() && now.Sub(st.lastFired) < time.Duration(p.Cooldown)*time.Second {
		return domain.PatternAlert{}, false
	}
	st.lastFired = now

	return domain.PatternAlert{
		ID:          uuid.NewString(),
		PatternID:   p.ID,
		PatternName: p.Name,
		Timestamp:   now,
		Count:       len(p.Sequence),
		Message:     fmt.Sprintf("%s: action sequence completed", p.Name),
		EntryIDs:    []string{e.ID},
		Actions:     p.Actions,
	}, true
}

// matches applies the pattern's entry filters.
func matches(p domain.SuspiciousPattern, e domain.AuditEntry) bool {
	if p.Category != "" && e.Category != p.Category {
		return false
	}
	if p.Severity != "" && e.Severity != p.Severity {
		return false
	}
	if p.Allowed != nil && e.Allowed != *p.Allowed {
		return false
	}
	return true
}

// DefaultPatterns is the shipped suspicious-activity pattern set.
func DefaultPatterns() []domain.SuspiciousPattern {
	denied := false
	return []domain.SuspiciousPattern{
		{
			ID:        "repeated-blocked-commands",
			Name:      "repeated blocked commands",
			Kind:      domain.PatternThreshold,
			Enabled:   true,
			Category:  domain.CategoryCommand,
			Allowed:   &denied,
			Threshold: domain.PatternThresholdSpec{Count: 3, WindowSeconds: 60},
			Actions:   []string{"log", "notify"},
			Cooldown:  300,
		},
		{
			ID:        "prompt-injection-burst",
			Name:      "prompt injection burst",
			Kind:      domain.PatternThreshold,
			Enabled:   true,
			Category:  domain.CategoryValidation,
			Severity:  domain.AuditCritical,
			Threshold: domain.PatternThresholdSpec{Count: 5, WindowSeconds: 120},
			Actions:   []string{"log", "notify"},
			Cooldown:  300,
		},
		{
			ID:        "sandbox-violation-streak",
			Name:      "sandbox violation streak",
			Kind:      domain.PatternThreshold,
			Enabled:   true,
			Category:  domain.CategorySandbox,
			Severity:  domain.AuditWarning,
			Threshold: domain.PatternThresholdSpec{Count: 5, WindowSeconds: 300},
			Actions:   []string{"log"},
			Cooldown:  600,
		},
		{
			ID:        "credential-probe",
			Name:      "credential access denied repeatedly",
			Kind:      domain.PatternThreshold,
			Enabled:   true,
			Category:  domain.CategoryCredential,
			Allowed:   &denied,
			Threshold: domain.PatternThresholdSpec{Count: 5, WindowSeconds: 60},
			Actions:   []string{"log", "notify"},
			Cooldown:  300,
		},
	}
}
