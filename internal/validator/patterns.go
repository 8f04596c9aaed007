package validator

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sentra/internal/domain"

	"gopkg.in/yaml.v3"
)

// Rule is a declarative threat pattern. Tables of rules are data, not code:
// they can be tested exhaustively and extended from rule files without
// touching the detector pipeline.
type Rule struct {
	Pattern     string            `json:"pattern" yaml:"pattern"`
	Type        domain.ThreatType `json:"type" yaml:"type"`
	Severity    domain.Severity   `json:"severity" yaml:"severity"`
	Description string            `json:"description" yaml:"description"`
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// PatternSet holds the compiled detector tables. Built once at startup and
// treated as read-only afterwards.
type PatternSet struct {
	promptInjection  []compiledRule
	commandBlocked   []compiledRule
	commandHeuristic []compiledRule
	pathTraversal    []compiledRule
	custom           []compiledRule
}

// DefaultPatternSet compiles the built-in tables.
func DefaultPatternSet() *PatternSet {
	return &PatternSet{
		promptInjection:  mustCompile(promptInjectionRules),
		commandBlocked:   mustCompile(commandBlockedRules),
		commandHeuristic: mustCompile(commandHeuristicRules),
		pathTraversal:    mustCompile(pathTraversalRules),
	}
}

// AddCustom compiles caller-supplied rules and appends them to the set.
func (ps *PatternSet) AddCustom(rules []Rule) error {
	compiled, err := compileRules(rules)
	if err != nil {
		return err
	}
	ps.custom = append(ps.custom, compiled...)
	return nil
}

// ruleFile is the schema of a YAML rule file.
type ruleFile struct {
	Rules []Rule `yaml:"rules"`
}

// LoadRulesDir reads custom rules from *.yaml/*.yml files in dir.
// Unreadable or malformed files are skipped with a warning, not fatal.
func LoadRulesDir(dir string, logger *slog.Logger) []Rule {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		logger.Debug("rules directory does not exist, skipping", "dir", dir)
		return nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("cannot read rules dir", "dir", dir, "err", err)
		return nil
	}

	var rules []Rule
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if !strings.HasSuffix(name, ".yaml") && !strings.HasSuffix(name, ".yml") {
			continue
		}

		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			logger.Warn("cannot read rule file", "path", path, "err", err)
			continue
		}

		var rf ruleFile
		if err := yaml.Unmarshal(data, &rf); err != nil {
			logger.Warn("cannot parse rule file", "path", path, "err", err)
			continue
		}

		logger.Info("loaded custom threat rules", "path", path, "count", len(rf.Rules))
		rules = append(rules, rf.Rules...)
	}
	return rules
}

func compileRules(rules []Rule) ([]compiledRule, error) {
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern %q: %w", r.Pattern, err)
		}
		compiled = append(compiled, compiledRule{Rule: r, re: re})
	}
	return compiled, nil
}

func mustCompile(rules []Rule) []compiledRule {
	compiled, err := compileRules(rules)
	if err != nil {
		panic(err)
	}
	return compiled
}

var promptInjectionRules = []Rule{
	{Pattern: `(?i)ignore\s+(all\s+)?previous\s+(instructions|prompts|rules|context)`, Type: domain.ThreatPromptInjection, Severity: domain.SeverityCritical, Description: "instruction override attempt"},
	{Pattern: `(?i)disregard\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions|context|messages)`, Type: domain.ThreatPromptInjection, Severity: domain.SeverityCritical, Description: "instruction override attempt"},
	{Pattern: `(?i)forget\s+(everything|all|what)\s+(you|above|i)`, Type: domain.ThreatPromptInjection, Severity: domain.SeverityCritical, Description: "context reset attempt"},
	{Pattern: `(?i)you\s+are\s+now\s+(a|an|in)\b`, Type: domain.ThreatPromptInjection, Severity: domain.SeverityCritical, Description: "role reassignment attempt"},
	{Pattern: `(?i)pretend\s+(to\s+be|you\s+are|you're)`, Type: domain.ThreatPromptInjection, Severity: domain.SeverityCritical, Description: "role-play coercion"},
	{Pattern: `(?i)act\s+as\s+(if\s+you|a\s+different|an?\s+unrestricted)`, Type: domain.ThreatPromptInjection, Severity: domain.SeverityCritical, Description: "role-play coercion"},
	{Pattern: `(?i)(reveal|show|print|repeat|output)\s+(your\s+|the\s+)?(system\s+prompt|initial\s+instructions|hidden\s+instructions)`, Type: domain.ThreatPromptInjection, Severity: domain.SeverityCritical, Description: "system prompt exfiltration"},
	{Pattern: `(?i)new\s+instructions?\s*:`, Type: domain.ThreatPromptInjection, Severity: domain.SeverityCritical, Description: "instruction injection"},
	{Pattern: `(?i)override\s+(safety|security)\s+(rules|protocols|settings|checks)`, Type: domain.ThreatPromptInjection, Severity: domain.SeverityCritical, Description: "safety override attempt"},
	{Pattern: `(?i)\bDAN\s+mode\b`, Type: domain.ThreatJailbreakAttempt, Severity: domain.SeverityCritical, Description: "known jailbreak persona"},
	{Pattern: `(?i)\bjailbreak\b`, Type: domain.ThreatJailbreakAttempt, Severity: domain.SeverityCritical, Description: "jailbreak keyword"},
	{Pattern: `(?i)developer\s+mode\s+(enabled|activated)`, Type: domain.ThreatJailbreakAttempt, Severity: domain.SeverityCritical, Description: "known jailbreak persona"},
}

var commandBlockedRules = []Rule{
	{Pattern: `rm\s+-rf\s+/(\s|$)`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityBlocked, Description: "recursive delete of filesystem root"},
	{Pattern: `rm\s+-rf\s+/\*`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityBlocked, Description: "recursive delete of filesystem root"},
	{Pattern: `:\(\)\s*\{\s*:\|:&\s*\}\s*;\s*:`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityBlocked, Description: "fork bomb"},
	{Pattern: `\bmkfs(\.\w+)?\b`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityBlocked, Description: "filesystem format"},
	{Pattern: `dd\s+if=\S+\s+of=/dev/(sd|hd|nvme|disk)`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityBlocked, Description: "raw disk overwrite"},
	{Pattern: `>\s*/dev/(sd|hd|nvme|disk)`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityBlocked, Description: "raw device redirect"},
	{Pattern: `chmod\s+-R\s+777\s+/(\s|$)`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityBlocked, Description: "world-writable filesystem root"},
	{Pattern: `mv\s+/\S*\s+/dev/null`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityBlocked, Description: "move to /dev/null"},
	{Pattern: `(curl|wget)\s+[^|;]*\|\s*(ba|z|fi)?sh`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityBlocked, Description: "pipe remote script to shell"},
}

var commandHeuristicRules = []Rule{
	{Pattern: `&&`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityCritical, Description: "command chaining (&&)"},
	{Pattern: `\|\|`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityCritical, Description: "command chaining (||)"},
	{Pattern: `;`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityCritical, Description: "command chaining (;)"},
	{Pattern: "`[^`]*`", Type: domain.ThreatCommandInjection, Severity: domain.SeverityCritical, Description: "backtick command substitution"},
	{Pattern: `\$\([^)]*\)`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityCritical, Description: "command substitution $()"},
	{Pattern: `\$\{[^}]*\}`, Type: domain.ThreatCommandInjection, Severity: domain.SeverityCritical, Description: "variable expansion ${}"},
}

var pathTraversalRules = []Rule{
	{Pattern: `\.\./`, Type: domain.ThreatPathTraversal, Severity: domain.SeverityCritical, Description: "relative traversal ../"},
	{Pattern: `\.\.\\`, Type: domain.ThreatPathTraversal, Severity: domain.SeverityCritical, Description: `relative traversal ..\`},
	{Pattern: `(?i)%2e%2e%2f`, Type: domain.ThreatPathTraversal, Severity: domain.SeverityCritical, Description: "URL-encoded traversal"},
	{Pattern: `(?i)%2e%2e/`, Type: domain.ThreatPathTraversal, Severity: domain.SeverityCritical, Description: "URL-encoded traversal"},
	{Pattern: `(?i)\.\.%2f`, Type: domain.ThreatPathTraversal, Severity: domain.SeverityCritical, Description: "URL-encoded traversal"},
	{Pattern: `(?i)%252e%252e%252f`, Type: domain.ThreatPathTraversal, Severity: domain.SeverityCritical, Description: "double-encoded traversal"},
	{Pattern: `/etc/(passwd|shadow|sudoers)`, Type: domain.ThreatPathTraversal, Severity: domain.SeverityCritical, Description: "system credential file"},
	{Pattern: `(^|[/\\])\.ssh([/\\]|$)`, Type: domain.ThreatPathTraversal, Severity: domain.SeverityCritical, Description: "ssh key directory"},
	{Pattern: `(?i)\.aws[/\\]credentials`, Type: domain.ThreatPathTraversal, Severity: domain.SeverityCritical, Description: "cloud credential file"},
}

// shellMetachars is the fixed metacharacter set scanned in command context.
var shellMetachars = map[rune]string{
	'|':  `\|`,
	'&':  `\&`,
	';':  `\;`,
	'$':  `\$`,
	'`':  "\\`",
	'(':  `\(`,
	')':  `\)`,
	'<':  `\<`,
	'>':  `\>`,
	'{':  `\{`,
	'}':  `\}`,
	'[':  `\[`,
	']':  `\]`,
	'"':  `\"`,
	'\'': `\'`,
	'\\': `\\`,
	'\n': " ",
	'\r': " ",
	'\t': " ",
}
