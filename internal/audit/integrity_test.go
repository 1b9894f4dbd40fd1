package audit

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/agentgate/agentgate/pkg/types"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func wrapN(t *testing.T, c *IntegrityChain, n int) []types.AuditEvent {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	out := make([]types.AuditEvent, 0, n)
	for i := 0; i < n; i++ {
		ev := types.AuditEvent{
			EventID:   string(rune('a' + i)),
			Timestamp: base.Add(time.Duration(i) * time.Second),
			Type:      types.EventAccessGranted,
			Severity:  types.SeverityInfo,
			UserID:    "agent",
			Details:   map[string]any{"n": i},
		}
		wrapped, err := c.Wrap(ev)
		if err != nil {
			t.Fatalf("Wrap: %v", err)
		}
		out = append(out, wrapped)
	}
	return out
}

func TestNewIntegrityChainKeyLength(t *testing.T) {
	if _, err := NewIntegrityChain([]byte("short")); err == nil {
		t.Error("short key accepted")
	}
	if _, err := NewIntegrityChain(testKey); err != nil {
		t.Errorf("32-byte key rejected: %v", err)
	}
}

func TestVerifyRoundtrip(t *testing.T) {
	c, err := NewIntegrityChain(testKey)
	if err != nil {
		t.Fatal(err)
	}
	events := wrapN(t, c, 6)
	if err := Verify(testKey, events); err != nil {
		t.Errorf("Verify on untampered chain: %v", err)
	}
}

func TestVerifyDetectsModifiedEvent(t *testing.T) {
	c, _ := NewIntegrityChain(testKey)
	events := wrapN(t, c, 4)
	events[2].UserID = "attacker"

	err := Verify(testKey, events)
	if err == nil {
		t.Fatal("Verify accepted a modified event")
	}
	if !strings.Contains(err.Error(), "entry hash mismatch") {
		t.Errorf("err = %v, want entry hash mismatch", err)
	}
}

func TestVerifyDetectsDeletedEvent(t *testing.T) {
	c, _ := NewIntegrityChain(testKey)
	events := wrapN(t, c, 5)
	// Remove one from the middle: the sequence gap must be reported.
	tampered := append(events[:2:2], events[3:]...)

	err := Verify(testKey, tampered)
	if err == nil {
		t.Fatal("Verify accepted a chain with a deleted event")
	}
	if !strings.Contains(err.Error(), "sequence gap") {
		t.Errorf("err = %v, want sequence gap", err)
	}
}

func TestVerifyWindowMidChain(t *testing.T) {
	c, _ := NewIntegrityChain(testKey)
	events := wrapN(t, c, 8)
	// Verification may anchor on any suffix of the chain.
	if err := Verify(testKey, events[3:]); err != nil {
		t.Errorf("Verify on mid-chain window: %v", err)
	}
}

func TestVerifyWrongKey(t *testing.T) {
	c, _ := NewIntegrityChain(testKey)
	events := wrapN(t, c, 3)
	other := []byte("ffffffffffffffffffffffffffffffff")
	if err := Verify(other, events); err == nil {
		t.Error("Verify accepted events under a different key")
	}
}

func TestRestoreContinuesChain(t *testing.T) {
	c1, _ := NewIntegrityChain(testKey)
	first := wrapN(t, c1, 3)
	state := c1.State()

	c2, _ := NewIntegrityChain(testKey)
	c2.Restore(state)
	ev := types.AuditEvent{
		EventID:   "z",
		Timestamp: time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC),
		Type:      types.EventSystemStart,
		Severity:  types.SeverityInfo,
	}
	wrapped, err := c2.Wrap(ev)
	if err != nil {
		t.Fatal(err)
	}
	if wrapped.Integrity.Sequence != 4 {
		t.Errorf("sequence after restore = %d, want 4", wrapped.Integrity.Sequence)
	}

	if err := Verify(testKey, append(first, wrapped)); err != nil {
		t.Errorf("restored chain does not verify: %v", err)
	}
}

func TestLoadKeySources(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "hmac.key")
	if err := os.WriteFile(keyFile, []byte(string(testKey)+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	got, err := LoadKey(keyFile, "")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(testKey) {
		t.Errorf("file key = %q, want trimmed key", got)
	}

	t.Setenv("AGENTGATE_TEST_HMAC_KEY", string(testKey))
	got, err = LoadKey("", "AGENTGATE_TEST_HMAC_KEY")
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string(testKey) {
		t.Errorf("env key = %q", got)
	}

	if _, err := LoadKey("", ""); err == nil {
		t.Error("LoadKey with no source should fail")
	}
	if _, err := LoadKey(filepath.Join(dir, "missing"), ""); err == nil {
		t.Error("LoadKey with missing file should fail")
	}
}

func TestResumeChainSpansProcessLifetimes(t *testing.T) {
	first, err := NewIntegrityChain(testKey)
	if err != nil {
		t.Fatal(err)
	}
	trail := wrapN(t, first, 3)

	// A fresh chain over the stored trail must continue, not restart.
	second, err := ResumeChain(testKey, trail)
	if err != nil {
		t.Fatal(err)
	}
	trail = append(trail, wrapN(t, second, 2)...)

	sort.Slice(trail, func(i, j int) bool {
		return trail[i].Integrity.Sequence < trail[j].Integrity.Sequence
	})
	for i, ev := range trail {
		if got := ev.Integrity.Sequence; got != int64(i+1) {
			t.Fatalf("event %d sequence = %d, want %d", i, got, i+1)
		}
	}
	if err := Verify(testKey, trail); err != nil {
		t.Errorf("Verify across lifetimes: %v", err)
	}
}

func TestResumeChainEmptyTrailStartsFresh(t *testing.T) {
	c, err := ResumeChain(testKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	events := wrapN(t, c, 1)
	if events[0].Integrity.Sequence != 1 {
		t.Errorf("sequence = %d, want 1", events[0].Integrity.Sequence)
	}
	if events[0].Integrity.PrevHash != "" {
		t.Errorf("prev_hash = %q, want empty", events[0].Integrity.PrevHash)
	}
}
