// Package classifier assigns a risk tier to shell commands before they reach
// the sandbox. It is a policy gate, not a parser: substring and regex checks
// over the raw command line, tuned to catch what a voice assistant is likely
// to be tricked into running.
package classifier

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"sentra/internal/audit"
	"sentra/internal/domain"
	"sentra/internal/metrics"
)

// blockedFragments are refused outright, no confirmation offered. Matching
// is on normalized whitespace so flag spacing does not dodge the check.
var blockedFragments = []string{
	"rm -rf /*",
	"rm -rf ~",
	":(){ :|:& };:",
	"mkfs",
	"dd if=/dev/zero of=/dev/",
	"dd of=/dev/sd",
	"> /dev/sda",
	">/dev/sda",
	"chmod -r 777 /",
	"chown -r nobody /",
	"mv / /dev/null",
	"wget -o- | sh",
	"history -c",
	"shred /dev/",
}

// pipeToShell catches fetch-and-execute: any downloader piped into an
// interpreter. Classified as blocked regardless of the URL.
var pipeToShell = regexp.MustCompile(`(?i)\b(curl|wget|fetch)\b[^|;&]*\|\s*(sudo\s+)?(ba|z|da|k)?sh\b`)

// highRiskPatterns escalate to high + confirmation regardless of the base
// command's tier: dangerous flag combinations on otherwise routine tools.
// Matched against the normalized (lowercase, single-space) command line.
var highRiskPatterns = []struct {
	re     *regexp.Regexp
	reason string
}{
	{regexp.MustCompile(`\bgit push\b.* (--force|-f)\b`), "force push rewrites remote history"},
	{regexp.MustCompile(`\bgit reset --hard\b`), "hard reset discards local changes"},
	{regexp.MustCompile(`\bchmod (-[a-z]+ )*[0-7]{3,4} (/|~)`), "permission change on a system or home path"},
	{regexp.MustCompile(`> ?/dev/(sd|hd|nvme|vd|disk|mmcblk|mem)`), "redirect into a device node"},
}

// safeBases run without ceremony when they are the entire base command.
var safeBases = map[string]bool{
	"ls": true, "pwd": true, "echo": true, "cat": true, "head": true,
	"tail": true, "wc": true, "date": true, "whoami": true, "uname": true,
	"which": true, "env": true, "printenv": true, "df": true, "du": true,
	"ps": true, "uptime": true, "id": true, "hostname": true, "file": true,
	"stat": true, "basename": true, "dirname": true, "sort": true,
	"uniq": true, "tr": true, "cut": true, "grep": true, "find": true,
}

// highRiskBases are allowed but always require confirmation.
var highRiskBases = map[string]bool{
	"rm": true, "rmdir": true, "dd": true, "chmod": true, "chown": true,
	"kill": true, "killall": true, "pkill": true, "shutdown": true,
	"reboot": true, "sudo": true, "su": true, "mkfs": true, "fdisk": true,
	"mount": true, "umount": true, "systemctl": true, "launchctl": true,
	"crontab": true, "passwd": true, "userdel": true, "useradd": true,
}

// mediumBases mutate state but are routine.
var mediumBases = map[string]bool{
	"cp": true, "mv": true, "mkdir": true, "touch": true, "ln": true,
	"git": true, "npm": true, "pip": true, "pip3": true, "go": true,
	"make": true, "cargo": true, "brew": true, "apt": true, "apt-get": true,
	"curl": true, "wget": true, "tar": true, "zip": true, "unzip": true,
	"docker": true, "kubectl": true, "ssh": true, "scp": true, "rsync": true,
}

// Classifier is stateless apart from its sink; safe to share.
type Classifier struct {
	sink   domain.AuditSink
	logger *slog.Logger
}

func New(sink domain.AuditSink, logger *slog.Logger) *Classifier {
	return &Classifier{sink: sink, logger: logger}
}

// Classify assigns the risk tier for a command. The decision and its reason
// are always audited; the caller enforces the confirmation requirement.
func (c *Classifier) Classify(ctx context.Context, command, source, sessionID string) domain.CommandSafety {
	safety := c.classify(command)

	metrics.CommandsClassifiedTotal.WithLabelValues(string(safety.RiskLevel)).Inc()
	if !safety.Allowed {
		c.logger.Warn("command blocked", "command", command, "reason", safety.Reason)
	}
	if c.sink != nil {
		c.sink.Log(ctx, audit.CommandClassificationEntry(command, safety, source, sessionID))
	}
	return safety
}

func (c *Classifier) classify(command string) domain.CommandSafety {
	normalized := strings.ToLower(strings.Join(strings.Fields(command), " "))
	if normalized == "" {
		return domain.CommandSafety{
			Allowed:   false,
			Reason:    "empty command",
			RiskLevel: domain.RiskBlocked,
		}
	}

	for _, frag := range blockedFragments {
		if strings.Contains(normalized, frag) {
			return domain.CommandSafety{
				Allowed:   false,
				Reason:    "destructive pattern: " + frag,
				RiskLevel: domain.RiskBlocked,
			}
		}
	}

	if pipeToShell.MatchString(command) {
		return domain.CommandSafety{
			Allowed:   false,
			Reason:    "remote content piped into a shell",
			RiskLevel: domain.RiskBlocked,
		}
	}

	for _, p := range highRiskPatterns {
		if p.re.MatchString(normalized) {
			return domain.CommandSafety{
				Allowed:              true,
				Reason:               p.reason,
				RiskLevel:            domain.RiskHigh,
				RequiresConfirmation: true,
			}
		}
	}

	base := baseCommand(command)

	// Compound commands are judged by their riskiest segment, so a safe
	// base does not shortcut when the line chains further commands.
	compound := strings.ContainsAny(command, "|;&")

	if safeBases[base] && !compound {
		return domain.CommandSafety{
			Allowed:   true,
			Reason:    "read-only command",
			RiskLevel: domain.RiskLow,
		}
	}

	if highRiskBases[base] || containsHighRiskSegment(command) {
		return domain.CommandSafety{
			Allowed:              true,
			Reason:               "destructive capability, confirmation required",
			RiskLevel:            domain.RiskHigh,
			RequiresConfirmation: true,
		}
	}

	if mediumBases[base] {
		return domain.CommandSafety{
			Allowed:   true,
			Reason:    "state-changing command",
			RiskLevel: domain.RiskMedium,
		}
	}

	// Unknown commands default to medium: runnable, but inside the sandbox
	// policy and without the fast path.
	return domain.CommandSafety{
		Allowed:   true,
		Reason:    "unrecognized command",
		RiskLevel: domain.RiskMedium,
	}
}

// baseCommand extracts the executable name of the first segment, stripping
// any leading path and env assignments.
func baseCommand(command string) string {
	fields := strings.Fields(command)
	for _, f := range fields {
		if strings.Contains(f, "=") && !strings.HasPrefix(f, "/") {
			continue // VAR=value prefix
		}
		f = strings.ToLower(f)
		if i := strings.LastIndexByte(f, '/'); i >= 0 {
			f = f[i+1:]
		}
		return f
	}
	return ""
}

// containsHighRiskSegment scans pipeline/chain segments past the first one.
func containsHighRiskSegment(command string) bool {
	segments := regexp.MustCompile(`[|;&]+`).Split(command, -1)
	for _, seg := range segments {
		if highRiskBases[baseCommand(seg)] {
			return true
		}
	}
	return false
}
