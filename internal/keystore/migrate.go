package keystore

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	migrationStateFile = "migration.json"
	migrationVersion   = 1
	envBackupSuffix    = ".sentra-backup"
)

// migrationState records a completed .env migration so it never runs twice.
type migrationState struct {
	Version    int       `json:"version"`
	MigratedAt time.Time `json:"migratedAt"`
	EnvPath    string    `json:"envPath"`
	Keys       []string  `json:"keys"`
}

// MigrationResult summarizes a MigrateEnv run.
type MigrationResult struct {
	AlreadyDone bool
	Migrated    []string
	Skipped     []string
	BackupPath  string
}

// secretEnvNames marks which .env variables are secrets worth moving. Plain
// configuration stays in the file.
var secretEnvSuffixes = []string{
	"_KEY", "_TOKEN", "_SECRET", "_PASSWORD", "_CREDENTIAL", "_API_KEY",
}

func isSecretEnvName(name string) bool {
	upper := strings.ToUpper(name)
	for _, suffix := range secretEnvSuffixes {
		if strings.HasSuffix(upper, suffix) {
			return true
		}
	}
	return upper == "OPENAI_API_KEY" || upper == "ANTHROPIC_API_KEY"
}

// MigrateEnv moves secret values from a .env file into the store. The file
// is backed up first, then migrated lines are commented out with the value
// redacted. Idempotent: a recorded completed migration is not repeated.
func (s *Store) MigrateEnv(envPath string) (MigrationResult, error) {
	var res MigrationResult

	state, err := s.loadMigrationState()
	if err != nil {
		return res, err
	}
	if state != nil && state.Version >= migrationVersion {
		res.AlreadyDone = true
		return res, nil
	}

	data, err := os.ReadFile(envPath)
	if os.IsNotExist(err) {
		// Nothing to migrate counts as done.
		return res, s.saveMigrationState(migrationState{
			Version: migrationVersion, MigratedAt: time.Now().UTC(), EnvPath: envPath,
		})
	}
	if err != nil {
		return res, fmt.Errorf("read env file: %w", err)
	}

	backup := envPath + envBackupSuffix
	if err := os.WriteFile(backup, data, 0o600); err != nil {
		return res, fmt.Errorf("write env backup: %w", err)
	}
	res.BackupPath = backup

	lines := strings.Split(string(data), "\n")
	for i, line := range lines {
		name, value, ok := parseEnvLine(line)
		if !ok {
			continue
		}
		if !isSecretEnvName(name) {
			res.Skipped = append(res.Skipped, name)
			continue
		}
		if err := s.SetKey(name, value); err != nil {
			return res, fmt.Errorf("migrate %s: %w", name, err)
		}
		lines[i] = "# " + name + "=<migrated to sentra keystore>"
		res.Migrated = append(res.Migrated, name)
	}

	if err := os.WriteFile(envPath, []byte(strings.Join(lines, "\n")), 0o600); err != nil {
		return res, fmt.Errorf("rewrite env file: %w", err)
	}

	if err := s.saveMigrationState(migrationState{
		Version:    migrationVersion,
		MigratedAt: time.Now().UTC(),
		EnvPath:    envPath,
		Keys:       res.Migrated,
	}); err != nil {
		return res, err
	}
	s.audit("credential_migrate", fmt.Sprintf("%d keys from %s", len(res.Migrated), envPath), true, "")
	return res, nil
}

// RollbackEnv restores the pre-migration .env from its backup and clears the
// migration record. Stored keys are left in place.
func (s *Store) RollbackEnv(envPath string) error {
	backup := envPath + envBackupSuffix
	data, err := os.ReadFile(backup)
	if err != nil {
		return fmt.Errorf("read env backup: %w", err)
	}
	if err := os.WriteFile(envPath, data, 0o600); err != nil {
		return fmt.Errorf("restore env file: %w", err)
	}
	if err := os.Remove(filepath.Join(s.dir, migrationStateFile)); err != nil && !os.IsNotExist(err) {
		return err
	}
	s.audit("credential_rollback", envPath, true, "")
	return nil
}

// parseEnvLine handles NAME=value with optional export prefix and quoting.
func parseEnvLine(line string) (string, string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return "", "", false
	}
	trimmed = strings.TrimPrefix(trimmed, "export ")
	name, value, ok := strings.Cut(trimmed, "=")
	if !ok {
		return "", "", false
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)
	value = strings.Trim(value, `"'`)
	if name == "" || value == "" {
		return "", "", false
	}
	return name, value, true
}

func (s *Store) loadMigrationState() (*migrationState, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, migrationStateFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read migration state: %w", err)
	}
	var state migrationState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("parse migration state: %w", err)
	}
	return &state, nil
}

func (s *Store) saveMigrationState(state migrationState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, migrationStateFile), data, 0o600)
}
