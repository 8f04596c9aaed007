package sandbox

import (
	"time"

	"sentra/internal/domain"
)

// Presets tighten monotonically from none to isolated: each level grants at
// most what the level below it grants.
var presets = map[domain.SandboxLevel]domain.SandboxConfig{
	domain.LevelNone: {
		Level:            domain.LevelNone,
		MaxExecutionTime: 5 * time.Minute,
		MaxOutputSize:    10 * 1024 * 1024,
		AllowNetwork:     true,
		AllowSubprocess:  true,
		AllowEnvVars:     true,
	},
	domain.LevelLight: {
		Level:            domain.LevelLight,
		MaxExecutionTime: 2 * time.Minute,
		MaxOutputSize:    5 * 1024 * 1024,
		AllowNetwork:     true,
		AllowSubprocess:  true,
		AllowEnvVars:     true,
		BlockedEnvVars:   []string{"KEY", "TOKEN", "SECRET", "PASSWORD", "CREDENTIAL"},
		BlockedPaths:     systemPaths,
	},
	domain.LevelMedium: {
		Level:               domain.LevelMedium,
		MaxExecutionTime:    60 * time.Second,
		MaxMemory:           512 * 1024 * 1024,
		MaxOutputSize:       1024 * 1024,
		AllowNetwork:        true,
		AllowSubprocess:     true,
		AllowEnvVars:        false,
		BlockedEnvVars:      []string{"KEY", "TOKEN", "SECRET", "PASSWORD", "CREDENTIAL"},
		BlockedPaths:        append([]string{}, append(systemPaths, sensitiveUserPaths...)...),
		RequireConfirmation: true,
	},
	domain.LevelStrict: {
		Level:               domain.LevelStrict,
		MaxExecutionTime:    30 * time.Second,
		MaxMemory:           256 * 1024 * 1024,
		MaxOutputSize:       256 * 1024,
		AllowNetwork:        false,
		AllowSubprocess:     false,
		AllowEnvVars:        false,
		BlockedEnvVars:      []string{"KEY", "TOKEN", "SECRET", "PASSWORD", "CREDENTIAL"},
		BlockedPaths:        append([]string{}, append(systemPaths, sensitiveUserPaths...)...),
		ReadOnlyPaths:       []string{"/usr", "/opt"},
		RequireConfirmation: true,
	},
	domain.LevelIsolated: {
		Level:               domain.LevelIsolated,
		MaxExecutionTime:    10 * time.Second,
		MaxMemory:           128 * 1024 * 1024,
		MaxOutputSize:       64 * 1024,
		AllowNetwork:        false,
		AllowSubprocess:     false,
		AllowEnvVars:        false,
		BlockedEnvVars:      []string{"KEY", "TOKEN", "SECRET", "PASSWORD", "CREDENTIAL"},
		BlockedPaths:        append([]string{}, append(systemPaths, sensitiveUserPaths...)...),
		ReadOnlyPaths:       []string{"/usr", "/opt"},
		RequireConfirmation: true,
	},
}

var systemPaths = []string{
	"/etc", "/boot", "/sys", "/proc",
	"/System", "/Library/LaunchDaemons",
	"C:\\Windows", "C:\\Program Files",
}

var sensitiveUserPaths = []string{
	"~/.ssh", "~/.aws", "~/.gnupg", "~/.config/gcloud", "~/.kube",
}

// PresetFor returns a copy of the preset for the level; unknown levels get
// medium.
func PresetFor(level domain.SandboxLevel) domain.SandboxConfig {
	p, ok := presets[level]
	if !ok {
		p = presets[domain.LevelMedium]
	}
	cfg := p
	cfg.AllowedPaths = append([]string(nil), p.AllowedPaths...)
	cfg.ReadOnlyPaths = append([]string(nil), p.ReadOnlyPaths...)
	cfg.BlockedPaths = append([]string(nil), p.BlockedPaths...)
	cfg.BlockedEnvVars = append([]string(nil), p.BlockedEnvVars...)
	return cfg
}

// KnownLevel reports whether level names a preset.
func KnownLevel(level domain.SandboxLevel) bool {
	_, ok := presets[level]
	return ok
}
