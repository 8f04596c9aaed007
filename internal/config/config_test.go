package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- ExpandEnvVars ---

func TestExpandEnvVars_SimpleSubstitution(t *testing.T) {
	t.Setenv("SENTRA_TEST_VAR", "hello")
	got := ExpandEnvVars("value is ${SENTRA_TEST_VAR}")
	if got != "value is hello" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_DefaultValue(t *testing.T) {
	os.Unsetenv("SENTRA_UNSET_VAR")
	got := ExpandEnvVars("${SENTRA_UNSET_VAR:-fallback}")
	if got != "fallback" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_SetVarOverridesDefault(t *testing.T) {
	t.Setenv("SENTRA_TEST_VAR", "actual")
	got := ExpandEnvVars("${SENTRA_TEST_VAR:-fallback}")
	if got != "actual" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_MultipleVars(t *testing.T) {
	t.Setenv("SENTRA_A", "1")
	t.Setenv("SENTRA_B", "2")
	got := ExpandEnvVars("${SENTRA_A}/${SENTRA_B}")
	if got != "1/2" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_UnsetVarNoDefault_KeepsOriginal(t *testing.T) {
	os.Unsetenv("SENTRA_UNSET_VAR")
	got := ExpandEnvVars("${SENTRA_UNSET_VAR}")
	if got != "${SENTRA_UNSET_VAR}" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_EmptyVarUsesDefault(t *testing.T) {
	t.Setenv("SENTRA_EMPTY_VAR", "")
	got := ExpandEnvVars("${SENTRA_EMPTY_VAR:-dflt}")
	if got != "dflt" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_NoVarsInInput(t *testing.T) {
	got := ExpandEnvVars("plain text")
	if got != "plain text" {
		t.Errorf("got %q", got)
	}
}

func TestExpandEnvVars_DollarSignWithoutBraces(t *testing.T) {
	got := ExpandEnvVars("cost is $5 and $HOME stays")
	if got != "cost is $5 and $HOME stays" {
		t.Errorf("got %q", got)
	}
}

// --- Load / Save ---

func TestLoadSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := Defaults()
	cfg.Sandbox.Level = "strict"
	cfg.Server.Port = 9900
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Sandbox.Level != "strict" || loaded.Server.Port != 9900 {
		t.Fatalf("round trip lost values: %+v", loaded)
	}
}

func TestLoad_ExpandsEnvVarsInFile(t *testing.T) {
	t.Setenv("SENTRA_TEST_LEVEL", "isolated")
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"sandbox": {"level": "${SENTRA_TEST_LEVEL}"}}`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sandbox.Level != "isolated" {
		t.Fatalf("env var not expanded: %q", cfg.Sandbox.Level)
	}
}

func TestLoad_MissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.json")); err == nil {
		t.Fatal("missing file must error")
	}
}

func TestLoad_PartialFileFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"general": {"logLevel": "debug"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.General.LogLevel != "debug" {
		t.Fatalf("explicit value lost: %q", cfg.General.LogLevel)
	}
	defaults := Defaults()
	if cfg.Audit.BufferSize != defaults.Audit.BufferSize {
		t.Fatalf("unset field did not default: %d", cfg.Audit.BufferSize)
	}
}

func TestLoad_RejectsInvalidConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"sandbox": {"level": "extreme"}}`), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("invalid sandbox level must be rejected")
	}
}

// --- Validate ---

func TestValidate_DefaultsAreValid(t *testing.T) {
	if err := Validate(Defaults()); err != nil {
		t.Fatalf("defaults must validate: %v", err)
	}
}

func TestValidate_Rejections(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad log level", func(c *Config) { c.General.LogLevel = "verbose" }},
		{"zero input length", func(c *Config) { c.Validator.MaxInputLength = 0 }},
		{"bad block threshold", func(c *Config) { c.Validator.BlockThreshold = "severe" }},
		{"bad sandbox level", func(c *Config) { c.Sandbox.Level = "extreme" }},
		{"zero confirmation timeout", func(c *Config) { c.Sandbox.ConfirmationTimeoutSeconds = 0 }},
		{"zero buffer size", func(c *Config) { c.Audit.BufferSize = 0 }},
		{"tiny max file size", func(c *Config) { c.Audit.MaxFileSizeBytes = 100 }},
		{"negative retention", func(c *Config) { c.Audit.RetentionDays = -1 }},
		{"port out of range", func(c *Config) { c.Server.Port = 70000 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			if err := Validate(cfg); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

// --- Accessors ---

func TestGetByPath(t *testing.T) {
	cfg := Defaults()
	cfg.Sandbox.Level = "medium"

	v, err := GetByPath(cfg, "sandbox.level")
	if err != nil {
		t.Fatalf("GetByPath: %v", err)
	}
	if v != "medium" {
		t.Fatalf("got %v", v)
	}

	if _, err := GetByPath(cfg, "sandbox.nonexistent"); err == nil {
		t.Fatal("unknown key must error")
	}
}

func TestSetByPath_CoercesTypes(t *testing.T) {
	cfg := Defaults()

	if err := SetByPath(cfg, "server.port", "9001"); err != nil {
		t.Fatalf("SetByPath: %v", err)
	}
	if cfg.Server.Port != 9001 {
		t.Fatalf("int coercion failed: %d", cfg.Server.Port)
	}

	if err := SetByPath(cfg, "validator.blockOnThreat", "false"); err != nil {
		t.Fatalf("SetByPath: %v", err)
	}
	if cfg.Validator.BlockOnThreat {
		t.Fatal("bool coercion failed")
	}
}

func TestSetByPath_ValidatesResult(t *testing.T) {
	cfg := Defaults()
	if err := SetByPath(cfg, "sandbox.level", "extreme"); err == nil {
		t.Fatal("invalid value must be rejected")
	}
}

func TestSanitize_MasksWebhookURL(t *testing.T) {
	cfg := Defaults()
	cfg.Alerts.SlackWebhookURL = "https://hooks.slack.com/services/T000/B000/secretsecret"

	clean := Sanitize(cfg)
	if clean.Alerts.SlackWebhookURL == cfg.Alerts.SlackWebhookURL {
		t.Fatal("webhook URL not masked")
	}
	if !strings.Contains(clean.Alerts.SlackWebhookURL, "****") {
		t.Fatalf("unexpected mask: %q", clean.Alerts.SlackWebhookURL)
	}
	// Original untouched.
	if !strings.Contains(cfg.Alerts.SlackWebhookURL, "hooks.slack.com") {
		t.Fatal("Sanitize must not mutate its input")
	}
}

func TestListPaths_FlattensConfig(t *testing.T) {
	paths := ListPaths(Defaults())
	if len(paths) == 0 {
		t.Fatal("no paths returned")
	}
	if _, ok := paths["sandbox.level"]; !ok {
		t.Fatal("expected sandbox.level in the flattened paths")
	}
	if _, ok := paths["audit.bufferSize"]; !ok {
		t.Fatal("expected audit.bufferSize in the flattened paths")
	}
}
