package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"sentra/internal/domain"
)

// Config is the root configuration for the security core.
type Config struct {
	General   GeneralConfig   `json:"general"`
	Validator ValidatorConfig `json:"validator"`
	Sandbox   SandboxConfig   `json:"sandbox"`
	Audit     AuditConfig     `json:"audit"`
	Keystore  KeystoreConfig  `json:"keystore"`
	Server    ServerConfig    `json:"server"`
	Alerts    AlertsConfig    `json:"alerts"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"` // "debug" | "info" | "warn" | "error"
	LogFile  string `json:"logFile,omitempty"`
}

type ValidatorConfig struct {
	MaxInputLength    int    `json:"maxInputLength"`
	BlockOnThreat     bool   `json:"blockOnThreat"`
	BlockThreshold    string `json:"blockThreshold"` // "low" | "medium" | "high" | "critical"
	SanitizeInput     bool   `json:"sanitizeInput"`
	LogAllValidations bool   `json:"logAllValidations"`
	RulesDir          string `json:"rulesDir,omitempty"` // extra YAML threat rules
}

type SandboxConfig struct {
	Level                      string   `json:"level"` // none | light | medium | strict | isolated
	AllowedPaths               []string `json:"allowedPaths,omitempty"`
	BlockedPaths               []string `json:"blockedPaths,omitempty"`
	ConfirmationTimeoutSeconds int      `json:"confirmationTimeoutSeconds"`
}

type AuditConfig struct {
	Dir                  string `json:"dir"`
	BufferSize           int    `json:"bufferSize"`
	FlushIntervalSeconds int    `json:"flushIntervalSeconds"`
	MaxFileSizeBytes     int64  `json:"maxFileSizeBytes"`
	IndexEnabled         bool   `json:"indexEnabled"`
	IndexPath            string `json:"indexPath,omitempty"`
	WatchIntegrity       bool   `json:"watchIntegrity"`
	RetentionDays        int    `json:"retentionDays"`
	RetentionMaxFiles    int    `json:"retentionMaxFiles"`
	ArchiveOnPrune       bool   `json:"archiveOnPrune"`
}

type KeystoreConfig struct {
	Dir     string `json:"dir"`
	EnvFile string `json:"envFile,omitempty"` // source for `sentra keys migrate`
}

type ServerConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	Path    string `json:"path"`
}

type AlertsConfig struct {
	SlackWebhookURL string `json:"slackWebhookUrl,omitempty"`
}

// DefaultConfigDir returns the default config directory (~/.sentra).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sentra"
	}
	return filepath.Join(home, ".sentra")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = expandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}

	cfg.General.DataDir = expandPath(cfg.General.DataDir)
	cfg.General.LogFile = expandPath(cfg.General.LogFile)
	cfg.Audit.Dir = expandPath(cfg.Audit.Dir)
	cfg.Audit.IndexPath = expandPath(cfg.Audit.IndexPath)
	cfg.Keystore.Dir = expandPath(cfg.Keystore.Dir)
	cfg.Keystore.EnvFile = expandPath(cfg.Keystore.EnvFile)
	cfg.Validator.RulesDir = expandPath(cfg.Validator.RulesDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	path = expandPath(path)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// 0600: the config may carry a webhook URL.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	if cfg.Validator.MaxInputLength < 1 {
		errs = append(errs, "validator.maxInputLength must be >= 1")
	}
	switch cfg.Validator.BlockThreshold {
	case "", "low", "medium", "high", "critical":
		// valid
	default:
		errs = append(errs, "validator.blockThreshold must be one of: low, medium, high, critical")
	}

	switch domain.SandboxLevel(cfg.Sandbox.Level) {
	case domain.LevelNone, domain.LevelLight, domain.LevelMedium, domain.LevelStrict, domain.LevelIsolated:
		// valid
	default:
		errs = append(errs, "sandbox.level must be one of: none, light, medium, strict, isolated")
	}
	if cfg.Sandbox.ConfirmationTimeoutSeconds < 1 {
		errs = append(errs, "sandbox.confirmationTimeoutSeconds must be >= 1")
	}

	if cfg.Audit.BufferSize < 1 {
		errs = append(errs, "audit.bufferSize must be >= 1")
	}
	if cfg.Audit.FlushIntervalSeconds < 1 {
		errs = append(errs, "audit.flushIntervalSeconds must be >= 1")
	}
	if cfg.Audit.MaxFileSizeBytes < 1024 {
		errs = append(errs, "audit.maxFileSizeBytes must be >= 1024")
	}
	if cfg.Audit.RetentionDays < 0 {
		errs = append(errs, "audit.retentionDays must be >= 0")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

func expandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
