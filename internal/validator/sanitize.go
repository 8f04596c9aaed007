package validator

import (
	"sort"
	"strings"

	"sentra/internal/domain"
)

// sanitize applies a per-type rule for every detected threat. Threats are
// processed in descending start order so earlier offsets stay valid while
// later spans are removed or rewritten. Unknown types are excised.
func sanitize(input string, threats []domain.DetectedThreat, vctx domain.ValidationContext, maxLen int) string {
	sorted := make([]domain.DetectedThreat, len(threats))
	copy(sorted, threats)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Location.Start > sorted[j].Location.Start
	})

	out := input
	for _, t := range sorted {
		start, end := clampSpan(t.Location, len(out))
		if start >= end {
			continue
		}
		switch t.Type {
		case domain.ThreatShellMetachar:
			// Escape in place, command context only.
			if vctx != domain.ContextCommand {
				continue
			}
			r := []rune(out[start:end])
			if len(r) == 1 {
				if esc, ok := shellMetachars[r[0]]; ok {
					out = out[:start] + esc + out[end:]
				}
			}
		case domain.ThreatEncodingAttack:
			if t.Pattern == "excessive_length" {
				if len(out) > maxLen {
					out = out[:maxLen]
				}
				continue
			}
			out = out[:start] + out[end:]
		default:
			// prompt_injection, jailbreak_attempt, command_injection,
			// path_traversal, unicode_exploit: excise the matched span.
			out = out[:start] + out[end:]
		}
	}
	return strings.TrimSpace(out)
}

func clampSpan(s domain.Span, n int) (int, int) {
	start, end := s.Start, s.End
	if start < 0 {
		start = 0
	}
	if end > n {
		end = n
	}
	if start > n {
		start = n
	}
	return start, end
}
