package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sentra/internal/domain"
)

func newTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := NewIndex(filepath.Join(t.TempDir(), "index.db"), testLogger())
	if err != nil {
		t.Fatalf("NewIndex: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func indexedEntry(id string, seq uint64, category domain.AuditCategory) domain.AuditEntry {
	return domain.AuditEntry{
		ID:        id,
		Timestamp: time.Date(2026, 8, 1, 12, 0, int(seq), 0, time.UTC),
		Sequence:  seq,
		Category:  category,
		Severity:  domain.AuditInfo,
		Message:   "indexed " + id,
		Action:    "test",
		Allowed:   true,
		Source:    "test",
		Hash:      "hash-" + id,
	}
}

func TestIndex_EntryRoundTrip(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	e := indexedEntry("e1", 0, domain.CategoryCommand)
	e.Context = map[string]any{"command": "ls"}
	if err := ix.InsertEntry(ctx, e); err != nil {
		t.Fatalf("InsertEntry: %v", err)
	}

	got, err := ix.RecentEntries(ctx, "", 10)
	if err != nil {
		t.Fatalf("RecentEntries: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(got))
	}
	if got[0].ID != "e1" || got[0].Message != "indexed e1" || !got[0].Allowed {
		t.Fatalf("entry mangled: %+v", got[0])
	}
	if got[0].Context["command"] != "ls" {
		t.Fatalf("context lost: %+v", got[0].Context)
	}
}

func TestIndex_DuplicateInsertIgnored(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	e := indexedEntry("dup", 0, domain.CategoryCommand)
	if err := ix.InsertEntry(ctx, e); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := ix.InsertEntry(ctx, e); err != nil {
		t.Fatalf("duplicate insert must be ignored, not fail: %v", err)
	}

	got, _ := ix.RecentEntries(ctx, "", 10)
	if len(got) != 1 {
		t.Fatalf("duplicate row inserted: %d entries", len(got))
	}
}

func TestIndex_RecentEntriesFilterAndOrder(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	ix.InsertEntry(ctx, indexedEntry("a", 0, domain.CategoryCommand))
	ix.InsertEntry(ctx, indexedEntry("b", 1, domain.CategoryValidation))
	ix.InsertEntry(ctx, indexedEntry("c", 2, domain.CategoryCommand))

	got, err := ix.RecentEntries(ctx, domain.CategoryCommand, 10)
	if err != nil {
		t.Fatalf("RecentEntries: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("category filter failed: %d entries", len(got))
	}
	// Newest first.
	if got[0].ID != "c" || got[1].ID != "a" {
		t.Fatalf("wrong order: %s, %s", got[0].ID, got[1].ID)
	}

	limited, _ := ix.RecentEntries(ctx, "", 2)
	if len(limited) != 2 || limited[0].ID != "c" {
		t.Fatalf("limit not applied: %+v", limited)
	}
}

func TestIndex_AlertRoundTrip(t *testing.T) {
	ix := newTestIndex(t)
	ctx := context.Background()

	a := domain.PatternAlert{
		ID:          "alert-1",
		PatternID:   "burst",
		PatternName: "denied burst",
		Timestamp:   time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Count:       3,
		Message:     "3 hits in 60s",
		EntryIDs:    []string{"e1", "e2", "e3"},
		Actions:     []string{"log", "notify"},
	}
	if err := ix.InsertAlert(ctx, a); err != nil {
		t.Fatalf("InsertAlert: %v", err)
	}

	got, err := ix.RecentAlerts(ctx, 10)
	if err != nil {
		t.Fatalf("RecentAlerts: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 alert, got %d", len(got))
	}
	if got[0].PatternID != "burst" || got[0].Count != 3 {
		t.Fatalf("alert mangled: %+v", got[0])
	}
	if len(got[0].EntryIDs) != 3 || got[0].EntryIDs[2] != "e3" {
		t.Fatalf("entry IDs lost: %+v", got[0].EntryIDs)
	}
	if len(got[0].Actions) != 2 {
		t.Fatalf("actions lost: %+v", got[0].Actions)
	}
}
