package sandbox

import (
	"testing"

	"sentra/internal/domain"
)

func policy(allowed, readOnly, blocked []string) domain.SandboxConfig {
	return domain.SandboxConfig{
		AllowedPaths:  allowed,
		ReadOnlyPaths: readOnly,
		BlockedPaths:  blocked,
	}
}

// --- Precedence: blocked wins ---

func TestCheckPath_BlockedBeatsAllowed(t *testing.T) {
	cfg := policy([]string{"/data"}, nil, []string{"/data/secrets"})

	if d := CheckPath(cfg, "/data/secrets/key.pem", false); d.Allowed {
		t.Fatalf("blocked must beat allowed: %+v", d)
	}
	if d := CheckPath(cfg, "/data/public/file.txt", false); !d.Allowed {
		t.Fatalf("sibling path should be allowed: %+v", d)
	}
}

func TestCheckPath_BlockedBeatsReadOnly(t *testing.T) {
	cfg := policy(nil, []string{"/etc"}, []string{"/etc/shadow"})

	if d := CheckPath(cfg, "/etc/shadow", false); d.Allowed {
		t.Fatalf("blocked must beat read-only: %+v", d)
	}
}

// --- Read-only semantics ---

func TestCheckPath_ReadOnlyAllowsReadDeniesWrite(t *testing.T) {
	cfg := policy([]string{"/work"}, []string{"/ref"}, nil)

	if d := CheckPath(cfg, "/ref/docs/a.txt", false); !d.Allowed {
		t.Fatalf("read from read-only path should pass: %+v", d)
	}
	if d := CheckPath(cfg, "/ref/docs/a.txt", true); d.Allowed {
		t.Fatalf("write to read-only path must fail: %+v", d)
	}
}

// --- Empty allowed list ---

func TestCheckPath_EmptyAllowedMeansAnywhereNotBlocked(t *testing.T) {
	cfg := policy(nil, nil, []string{"/etc"})

	if d := CheckPath(cfg, "/home/user/notes.txt", true); !d.Allowed {
		t.Fatalf("no allowed list: writes anywhere not blocked: %+v", d)
	}
	if d := CheckPath(cfg, "/etc/hosts", false); d.Allowed {
		t.Fatalf("blocked path must still deny: %+v", d)
	}
}

// --- Allowed list restricts ---

func TestCheckPath_OutsideAllowedDenied(t *testing.T) {
	cfg := policy([]string{"/work"}, nil, nil)

	if d := CheckPath(cfg, "/home/user/other.txt", true); d.Allowed {
		t.Fatalf("write outside allowed must fail: %+v", d)
	}
	if d := CheckPath(cfg, "/work/sub/deep/file", true); !d.Allowed {
		t.Fatalf("write under allowed must pass: %+v", d)
	}
}

// --- Prefix safety ---

func TestCheckPath_SiblingPrefixDoesNotMatch(t *testing.T) {
	cfg := policy(nil, nil, []string{"/etc"})

	if d := CheckPath(cfg, "/etcetera/file", false); !d.Allowed {
		t.Fatalf("/etcetera is not under /etc: %+v", d)
	}
}

// --- Preset monotonicity ---

func TestPresets_TightenMonotonically(t *testing.T) {
	order := []domain.SandboxLevel{
		domain.LevelNone, domain.LevelLight, domain.LevelMedium,
		domain.LevelStrict, domain.LevelIsolated,
	}
	for i := 1; i < len(order); i++ {
		prev, cur := PresetFor(order[i-1]), PresetFor(order[i])
		if cur.MaxExecutionTime > prev.MaxExecutionTime {
			t.Errorf("%s allows more time than %s", order[i], order[i-1])
		}
		if cur.MaxOutputSize > prev.MaxOutputSize {
			t.Errorf("%s allows more output than %s", order[i], order[i-1])
		}
		if cur.AllowNetwork && !prev.AllowNetwork {
			t.Errorf("%s grants network that %s denies", order[i], order[i-1])
		}
		if cur.AllowSubprocess && !prev.AllowSubprocess {
			t.Errorf("%s grants subprocess that %s denies", order[i], order[i-1])
		}
		if len(cur.BlockedPaths) < len(prev.BlockedPaths) {
			t.Errorf("%s blocks fewer paths than %s", order[i], order[i-1])
		}
	}
}

func TestPresetFor_UnknownFallsBackToMedium(t *testing.T) {
	got := PresetFor(domain.SandboxLevel("bogus"))
	if got.MaxExecutionTime != PresetFor(domain.LevelMedium).MaxExecutionTime {
		t.Fatalf("unknown level should use the medium preset")
	}
}
