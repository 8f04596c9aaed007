package audit

import (
	"testing"
	"time"

	"sentra/internal/domain"
)

func chainOf(t *testing.T, n int) []domain.AuditEntry {
	t.Helper()
	entries := make([]domain.AuditEntry, 0, n)
	prev := genesisHash
	for i := 0; i < n; i++ {
		e := domain.AuditEntry{
			ID:           "entry-" + string(rune('a'+i)),
			Timestamp:    time.Date(2026, 8, 1, 12, 0, i, 0, time.UTC),
			Sequence:     uint64(i),
			Category:     domain.CategoryCommand,
			Severity:     domain.AuditInfo,
			Message:      "test entry",
			Action:       "test",
			Allowed:      true,
			Source:       "test",
			PreviousHash: prev,
		}
		h, err := ComputeHash(e)
		if err != nil {
			t.Fatalf("ComputeHash: %v", err)
		}
		e.Hash = h
		prev = h
		entries = append(entries, e)
	}
	return entries
}

func TestVerify_EmptyChainValid(t *testing.T) {
	res := Verify(nil)
	if !res.Valid || res.BrokenAt != -1 {
		t.Fatalf("empty chain must verify: %+v", res)
	}
}

func TestVerify_IntactChain(t *testing.T) {
	res := Verify(chainOf(t, 10))
	if !res.Valid {
		t.Fatalf("intact chain failed: %+v", res)
	}
	if res.Entries != 10 {
		t.Fatalf("expected 10 entries, got %d", res.Entries)
	}
}

func TestVerify_TamperedFieldDetected(t *testing.T) {
	entries := chainOf(t, 5)
	entries[2].Allowed = false // rewrite a recorded decision

	res := Verify(entries)
	if res.Valid {
		t.Fatal("tampered entry not detected")
	}
	if res.BrokenAt != 2 {
		t.Fatalf("expected break at 2, got %d (%s)", res.BrokenAt, res.Reason)
	}
}

func TestVerify_RemovedEntryDetected(t *testing.T) {
	entries := chainOf(t, 5)
	entries = append(entries[:2], entries[3:]...) // drop entry 2

	res := Verify(entries)
	if res.Valid {
		t.Fatal("removed entry not detected")
	}
	if res.BrokenAt != 2 {
		t.Fatalf("expected break at 2, got %d", res.BrokenAt)
	}
}

func TestVerify_ReorderedEntriesDetected(t *testing.T) {
	entries := chainOf(t, 4)
	entries[1], entries[2] = entries[2], entries[1]

	if res := Verify(entries); res.Valid {
		t.Fatal("reordered entries not detected")
	}
}

func TestComputeHash_IgnoresStoredHash(t *testing.T) {
	e := chainOf(t, 1)[0]
	h1, err := ComputeHash(e)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	e.Hash = "something else"
	h2, err := ComputeHash(e)
	if err != nil {
		t.Fatalf("ComputeHash: %v", err)
	}
	if h1 != h2 {
		t.Fatal("hash must not depend on the stored hash field")
	}
}

func TestComputeHash_CoversPreviousHash(t *testing.T) {
	e := chainOf(t, 1)[0]
	h1, _ := ComputeHash(e)
	e.PreviousHash = "deadbeef"
	h2, _ := ComputeHash(e)
	if h1 == h2 {
		t.Fatal("hash must change when the previous hash changes")
	}
}
