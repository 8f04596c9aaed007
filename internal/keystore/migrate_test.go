package keystore

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeEnvFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	return path
}

// --- MigrateEnv ---

func TestMigrateEnv_MovesSecretsAndRedactsLines(t *testing.T) {
	s := newFallbackStore(t)
	envPath := writeEnvFile(t, strings.Join([]string{
		"# app config",
		"OPENAI_API_KEY=sk-abc123",
		"export SLACK_TOKEN=\"xoxb-456\"",
		"LOG_LEVEL=debug",
		"",
	}, "\n"))

	res, err := s.MigrateEnv(envPath)
	if err != nil {
		t.Fatalf("MigrateEnv: %v", err)
	}
	if res.AlreadyDone {
		t.Fatal("first run must not report already done")
	}
	if len(res.Migrated) != 2 {
		t.Fatalf("expected 2 migrated, got %v", res.Migrated)
	}
	if len(res.Skipped) != 1 || res.Skipped[0] != "LOG_LEVEL" {
		t.Fatalf("plain config must be skipped, got %v", res.Skipped)
	}

	for name, want := range map[string]string{
		"OPENAI_API_KEY": "sk-abc123",
		"SLACK_TOKEN":    "xoxb-456",
	} {
		value, ok, err := s.GetKey(name)
		if err != nil || !ok || value != want {
			t.Fatalf("%s not migrated: ok=%v value=%q err=%v", name, ok, value, err)
		}
	}

	rewritten, _ := os.ReadFile(envPath)
	text := string(rewritten)
	if strings.Contains(text, "sk-abc123") || strings.Contains(text, "xoxb-456") {
		t.Fatal("secret value survived in the env file")
	}
	if !strings.Contains(text, "# OPENAI_API_KEY=<migrated to sentra keystore>") {
		t.Fatalf("migrated line not commented out:\n%s", text)
	}
	if !strings.Contains(text, "LOG_LEVEL=debug") {
		t.Fatal("non-secret line must be left alone")
	}
}

func TestMigrateEnv_WritesBackup(t *testing.T) {
	s := newFallbackStore(t)
	original := "MY_API_KEY=secret\n"
	envPath := writeEnvFile(t, original)

	res, err := s.MigrateEnv(envPath)
	if err != nil {
		t.Fatalf("MigrateEnv: %v", err)
	}
	if res.BackupPath != envPath+envBackupSuffix {
		t.Fatalf("unexpected backup path %q", res.BackupPath)
	}
	backup, err := os.ReadFile(res.BackupPath)
	if err != nil {
		t.Fatalf("read backup: %v", err)
	}
	if string(backup) != original {
		t.Fatal("backup must hold the pre-migration content")
	}
}

func TestMigrateEnv_Idempotent(t *testing.T) {
	s := newFallbackStore(t)
	envPath := writeEnvFile(t, "MY_API_KEY=secret\n")

	if _, err := s.MigrateEnv(envPath); err != nil {
		t.Fatalf("first MigrateEnv: %v", err)
	}
	res, err := s.MigrateEnv(envPath)
	if err != nil {
		t.Fatalf("second MigrateEnv: %v", err)
	}
	if !res.AlreadyDone {
		t.Fatal("second run must report already done")
	}
	if len(res.Migrated) != 0 {
		t.Fatalf("second run migrated keys: %v", res.Migrated)
	}
}

func TestMigrateEnv_MissingFileCountsAsDone(t *testing.T) {
	s := newFallbackStore(t)
	envPath := filepath.Join(t.TempDir(), ".env")

	res, err := s.MigrateEnv(envPath)
	if err != nil {
		t.Fatalf("MigrateEnv: %v", err)
	}
	if res.AlreadyDone || len(res.Migrated) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	// The no-op run is still recorded.
	res, err = s.MigrateEnv(envPath)
	if err != nil {
		t.Fatalf("MigrateEnv (repeat): %v", err)
	}
	if !res.AlreadyDone {
		t.Fatal("missing-file migration must be recorded as complete")
	}
}

// --- RollbackEnv ---

func TestRollbackEnv_RestoresFileAndState(t *testing.T) {
	s := newFallbackStore(t)
	original := "MY_TOKEN=abc\nLOG_LEVEL=info\n"
	envPath := writeEnvFile(t, original)

	if _, err := s.MigrateEnv(envPath); err != nil {
		t.Fatalf("MigrateEnv: %v", err)
	}
	if err := s.RollbackEnv(envPath); err != nil {
		t.Fatalf("RollbackEnv: %v", err)
	}

	restored, _ := os.ReadFile(envPath)
	if string(restored) != original {
		t.Fatalf("env file not restored:\n%s", restored)
	}

	// The migration record is cleared, so migration can run again.
	res, err := s.MigrateEnv(envPath)
	if err != nil {
		t.Fatalf("MigrateEnv after rollback: %v", err)
	}
	if res.AlreadyDone {
		t.Fatal("rollback must clear the migration record")
	}
}

func TestRollbackEnv_NoBackupErrors(t *testing.T) {
	s := newFallbackStore(t)
	if err := s.RollbackEnv(filepath.Join(t.TempDir(), ".env")); err == nil {
		t.Fatal("rollback without a backup must fail")
	}
}

// --- Line parsing ---

func TestParseEnvLine(t *testing.T) {
	cases := []struct {
		line  string
		name  string
		value string
		ok    bool
	}{
		{"FOO=bar", "FOO", "bar", true},
		{"export FOO=bar", "FOO", "bar", true},
		{`FOO="quoted value"`, "FOO", "quoted value", true},
		{"FOO='single'", "FOO", "single", true},
		{"  FOO = bar  ", "FOO", "bar", true},
		{"# comment", "", "", false},
		{"", "", "", false},
		{"no equals sign", "", "", false},
		{"EMPTY=", "", "", false},
	}
	for _, tc := range cases {
		name, value, ok := parseEnvLine(tc.line)
		if ok != tc.ok || name != tc.name || value != tc.value {
			t.Errorf("parseEnvLine(%q) = (%q, %q, %v), want (%q, %q, %v)",
				tc.line, name, value, ok, tc.name, tc.value, tc.ok)
		}
	}
}

func TestIsSecretEnvName(t *testing.T) {
	secrets := []string{"OPENAI_API_KEY", "anthropic_api_key", "DB_PASSWORD", "GH_TOKEN", "AWS_SECRET"}
	for _, name := range secrets {
		if !isSecretEnvName(name) {
			t.Errorf("%s should be treated as a secret", name)
		}
	}
	plain := []string{"LOG_LEVEL", "PORT", "KEYBOARD_LAYOUT", "TOKENIZER"}
	for _, name := range plain {
		if isSecretEnvName(name) {
			t.Errorf("%s should not be treated as a secret", name)
		}
	}
}
