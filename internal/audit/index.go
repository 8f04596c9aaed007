package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"sentra/internal/domain"

	_ "modernc.org/sqlite"
)

// Index mirrors log entries and alerts into SQLite for queries. The JSONL
// files remain the source of truth for the hash chain; the index is a
// convenience and can be rebuilt from them at any time.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewIndex(dbPath string, logger *slog.Logger) (*Index, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("cannot create index directory %s: %w", dir, err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("cannot open index database: %w", err)
	}

	// Single connection for SQLite.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ix := &Index{db: db, logger: logger}
	if err := ix.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("index migration failed: %w", err)
	}
	return ix, nil
}

func (ix *Index) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS audit_entries (
		id           TEXT PRIMARY KEY,
		seq          INTEGER NOT NULL,
		timestamp    DATETIME NOT NULL,
		category     TEXT NOT NULL,
		severity     TEXT NOT NULL,
		action       TEXT NOT NULL,
		allowed      INTEGER NOT NULL,
		message      TEXT,
		reason       TEXT,
		source       TEXT,
		session_id   TEXT,
		duration_ms  INTEGER DEFAULT 0,
		context      TEXT,
		prev_hash    TEXT,
		hash         TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_entries_time ON audit_entries(timestamp);
	CREATE INDEX IF NOT EXISTS idx_entries_cat ON audit_entries(category, severity);
	CREATE INDEX IF NOT EXISTS idx_entries_session ON audit_entries(session_id);

	CREATE TABLE IF NOT EXISTS pattern_alerts (
		id           TEXT PRIMARY KEY,
		pattern_id   TEXT NOT NULL,
		pattern_name TEXT NOT NULL,
		timestamp    DATETIME NOT NULL,
		count        INTEGER NOT NULL,
		message      TEXT,
		entry_ids    TEXT,
		actions      TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_alerts_time ON pattern_alerts(timestamp);
	`
	_, err := ix.db.Exec(schema)
	return err
}

func (ix *Index) InsertEntry(ctx context.Context, e domain.AuditEntry) error {
	var contextJSON []byte
	if e.Context != nil {
		var err error
		contextJSON, err = json.Marshal(e.Context)
		if err != nil {
			return fmt.Errorf("serialize entry context: %w", err)
		}
	}
	_, err := ix.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO audit_entries
			(id, seq, timestamp, category, severity, action, allowed,
			 message, reason, source, session_id, duration_ms, context, prev_hash, hash)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Sequence, e.Timestamp.UTC(), string(e.Category), string(e.Severity),
		e.Action, e.Allowed, e.Message, e.Reason, e.Source, e.SessionID,
		e.DurationMS, string(contextJSON), e.PreviousHash, e.Hash,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (ix *Index) InsertAlert(ctx context.Context, a domain.PatternAlert) error {
	_, err := ix.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO pattern_alerts
			(id, pattern_id, pattern_name, timestamp, count, message, entry_ids, actions)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.PatternID, a.PatternName, a.Timestamp.UTC(), a.Count,
		a.Message, strings.Join(a.EntryIDs, ","), strings.Join(a.Actions, ","),
	)
	if err != nil {
		return fmt.Errorf("insert pattern alert: %w", err)
	}
	return nil
}

// RecentEntries returns the newest entries, optionally filtered by category.
func (ix *Index) RecentEntries(ctx context.Context, category domain.AuditCategory, limit int) ([]domain.AuditEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, seq, timestamp, category, severity, action, allowed,
		       message, reason, source, session_id, duration_ms, context, prev_hash, hash
		FROM audit_entries`
	args := []any{}
	if category != "" {
		query += " WHERE category = ?"
		args = append(args, string(category))
	}
	query += " ORDER BY seq DESC LIMIT ?"
	args = append(args, limit)

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var cat, sev, contextJSON string
		var ts time.Time
		if err := rows.Scan(&e.ID, &e.Sequence, &ts, &cat, &sev, &e.Action, &e.Allowed,
			&e.Message, &e.Reason, &e.Source, &e.SessionID, &e.DurationMS,
			&contextJSON, &e.PreviousHash, &e.Hash); err != nil {
			return entries, err
		}
		e.Timestamp = ts
		e.Category = domain.AuditCategory(cat)
		e.Severity = domain.AuditSeverity(sev)
		if contextJSON != "" {
			if err := json.Unmarshal([]byte(contextJSON), &e.Context); err != nil {
				ix.logger.Warn("unreadable entry context in index", "id", e.ID, "err", err)
			}
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// RecentAlerts returns the newest pattern alerts.
func (ix *Index) RecentAlerts(ctx context.Context, limit int) ([]domain.PatternAlert, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := ix.db.QueryContext(ctx, `
		SELECT id, pattern_id, pattern_name, timestamp, count, message, entry_ids, actions
		FROM pattern_alerts ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query pattern alerts: %w", err)
	}
	defer rows.Close()

	var alerts []domain.PatternAlert
	for rows.Next() {
		var a domain.PatternAlert
		var ts time.Time
		var entryIDs, actions string
		if err := rows.Scan(&a.ID, &a.PatternID, &a.PatternName, &ts, &a.Count,
			&a.Message, &entryIDs, &actions); err != nil {
			return alerts, err
		}
		a.Timestamp = ts
		if entryIDs != "" {
			a.EntryIDs = strings.Split(entryIDs, ",")
		}
		if actions != "" {
			a.Actions = strings.Split(actions, ",")
		}
		alerts = append(alerts, a)
	}
	return alerts, rows.Err()
}

func (ix *Index) Close() error {
	return ix.db.Close()
}
