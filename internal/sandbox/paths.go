package sandbox

import (
	"os"
	"path/filepath"
	"strings"

	"sentra/internal/domain"
)

// PathDecision explains an access check.
type PathDecision struct {
	Allowed bool
	Reason  string
}

// CheckPath decides whether the policy permits access to path. Precedence:
// blocked always wins; read-only qualifies for reads only; an empty allowed
// list means "anywhere not blocked" for reads and writes alike.
func CheckPath(cfg domain.SandboxConfig, path string, write bool) PathDecision {
	abs := normalizePath(path)

	for _, blocked := range cfg.BlockedPaths {
		if underPath(abs, normalizePath(blocked)) {
			return PathDecision{Allowed: false, Reason: "path is blocked: " + blocked}
		}
	}

	if write {
		for _, ro := range cfg.ReadOnlyPaths {
			if underPath(abs, normalizePath(ro)) {
				return PathDecision{Allowed: false, Reason: "path is read-only: " + ro}
			}
		}
		if len(cfg.AllowedPaths) == 0 {
			return PathDecision{Allowed: true, Reason: "no write restriction configured"}
		}
		for _, allowed := range cfg.AllowedPaths {
			if underPath(abs, normalizePath(allowed)) {
				return PathDecision{Allowed: true, Reason: "within allowed path: " + allowed}
			}
		}
		return PathDecision{Allowed: false, Reason: "path is outside allowed paths"}
	}

	if len(cfg.AllowedPaths) == 0 {
		return PathDecision{Allowed: true, Reason: "no read restriction configured"}
	}
	for _, allowed := range cfg.AllowedPaths {
		if underPath(abs, normalizePath(allowed)) {
			return PathDecision{Allowed: true, Reason: "within allowed path: " + allowed}
		}
	}
	for _, ro := range cfg.ReadOnlyPaths {
		if underPath(abs, normalizePath(ro)) {
			return PathDecision{Allowed: true, Reason: "within read-only path: " + ro}
		}
	}
	return PathDecision{Allowed: false, Reason: "path is outside allowed paths"}
}

// normalizePath expands ~ and cleans to an absolute, comparable form.
func normalizePath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return filepath.Clean(abs)
}

// underPath reports whether p equals root or lies beneath it. Comparison is
// on cleaned separators so "/etc2" never matches "/etc".
func underPath(p, root string) bool {
	if p == root {
		return true
	}
	rel, err := filepath.Rel(root, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) && !filepath.IsAbs(rel)
}
