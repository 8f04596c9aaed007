package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"sentra/internal/domain"
)

// genesisHash is the previous-hash value of the first entry in a chain.
const genesisHash = ""

// ComputeHash returns the chain hash for an entry: sha256 over the canonical
// JSON of the entry with Hash cleared, concatenated with PreviousHash.
// encoding/json sorts map keys, which makes the serialization stable.
func ComputeHash(e domain.AuditEntry) (string, error) {
	e.Hash = ""
	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("serialize entry %s: %w", e.ID, err)
	}
	sum := sha256.Sum256(append(payload, []byte(e.PreviousHash)...))
	return hex.EncodeToString(sum[:]), nil
}

// VerifyResult reports a chain replay.
type VerifyResult struct {
	Valid    bool   `json:"valid"`
	Entries  int    `json:"entries"`
	BrokenAt int    `json:"brokenAt"` // -1 when valid
	Reason   string `json:"reason,omitempty"`
}

// Verify replays the chain from the first retained entry and confirms every
// stored hash recomputes identically. A broken link at index k makes all
// entries after k unverifiable; it does not prove which entry was altered.
func Verify(entries []domain.AuditEntry) VerifyResult {
	prev := genesisHash
	for i, e := range entries {
		if e.PreviousHash != prev {
			return VerifyResult{
				Valid:    false,
				Entries:  len(entries),
				BrokenAt: i,
				Reason:   fmt.Sprintf("entry %d: previous hash mismatch", i),
			}
		}
		h, err := ComputeHash(e)
		if err != nil {
			return VerifyResult{
				Valid:    false,
				Entries:  len(entries),
				BrokenAt: i,
				Reason:   fmt.Sprintf("entry %d: %v", i, err),
			}
		}
		if h != e.Hash {
			return VerifyResult{
				Valid:    false,
				Entries:  len(entries),
				BrokenAt: i,
				Reason:   fmt.Sprintf("entry %d: stored hash does not recompute", i),
			}
		}
		prev = e.Hash
	}
	return VerifyResult{Valid: true, Entries: len(entries), BrokenAt: -1}
}
