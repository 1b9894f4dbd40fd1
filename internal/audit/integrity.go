package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/agentgate/agentgate/pkg/types"
)

// MinKeyLength is the minimum accepted key length for HMAC-SHA256.
const MinKeyLength = 32

// IntegrityChain maintains HMAC chain state for tamper-evident audit
// logging. Each event's hash depends on the previous event's hash, so
// any mutation or deletion breaks verification from that point on.
type IntegrityChain struct {
	mu       sync.Mutex
	key      []byte
	sequence int64
	prevHash string
}

// NewIntegrityChain creates a chain from an HMAC key.
func NewIntegrityChain(key []byte) (*IntegrityChain, error) {
	if len(key) < MinKeyLength {
		return nil, fmt.Errorf("key too short: got %d bytes, need at least %d", len(key), MinKeyLength)
	}
	return &IntegrityChain{key: key}, nil
}

// LoadKey loads an HMAC key from a file path or an environment
// variable, in that order of preference.
func LoadKey(keyFile, keyEnv string) ([]byte, error) {
	if keyFile != "" {
		data, err := os.ReadFile(keyFile)
		if err != nil {
			return nil, fmt.Errorf("read key file %q: %w", keyFile, err)
		}
		key := strings.TrimSpace(string(data))
		if key == "" {
			return nil, fmt.Errorf("key file %q is empty", keyFile)
		}
		return []byte(key), nil
	}
	if keyEnv != "" {
		key := os.Getenv(keyEnv)
		if key == "" {
			return nil, fmt.Errorf("environment variable %q is empty or not set", keyEnv)
		}
		return []byte(key), nil
	}
	return nil, errors.New("no key source specified: provide key_file or key_env")
}

// Wrap returns a copy of ev with integrity metadata attached and
// advances the chain.
func (c *IntegrityChain) Wrap(ev types.AuditEvent) (types.AuditEvent, error) {
	canonical, err := canonicalEventJSON(ev)
	if err != nil {
		return ev, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.sequence++
	entryHash := computeHash(c.key, c.sequence, c.prevHash, canonical)
	ev.Integrity = &types.IntegrityMetadata{
		Sequence:  c.sequence,
		PrevHash:  c.prevHash,
		EntryHash: entryHash,
	}
	c.prevHash = entryHash
	return ev, nil
}

// ChainState is the current chain position, persisted so the chain can
// continue across restarts.
type ChainState struct {
	Sequence int64  `json:"sequence"`
	PrevHash string `json:"prev_hash"`
}

// State returns the current chain position.
func (c *IntegrityChain) State() ChainState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ChainState{Sequence: c.sequence, PrevHash: c.prevHash}
}

// Restore resumes the chain after a restart. Call before wrapping new
// events.
func (c *IntegrityChain) Restore(state ChainState) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sequence = state.Sequence
	c.prevHash = state.PrevHash
}

// ResumeChain builds a chain that continues from the highest-sequence
// chained event in events, so links stay unbroken across restarts.
// With no chained events the chain starts fresh at sequence 1.
func ResumeChain(key []byte, events []types.AuditEvent) (*IntegrityChain, error) {
	c, err := NewIntegrityChain(key)
	if err != nil {
		return nil, err
	}
	var last *types.IntegrityMetadata
	for i := range events {
		im := events[i].Integrity
		if im != nil && (last == nil || im.Sequence > last.Sequence) {
			last = im
		}
	}
	if last != nil {
		c.Restore(ChainState{Sequence: last.Sequence, PrevHash: last.EntryHash})
	}
	return c, nil
}

// Verify checks a run of events in chain order against key. Events
// without integrity metadata are rejected. Returns the index of the
// first broken link.
func Verify(key []byte, events []types.AuditEvent) error {
	if len(key) < MinKeyLength {
		return fmt.Errorf("key too short: got %d bytes, need at least %d", len(key), MinKeyLength)
	}

	prevHash := ""
	var prevSeq int64
	for i, ev := range events {
		meta := ev.Integrity
		if meta == nil {
			return fmt.Errorf("event %d (%s): missing integrity metadata", i, ev.EventID)
		}
		if i == 0 {
			// A verification window may start mid-chain; anchor on
			// the first event's own back-pointer.
			prevHash = meta.PrevHash
			prevSeq = meta.Sequence - 1
		}
		if meta.Sequence != prevSeq+1 {
			return fmt.Errorf("event %d (%s): sequence gap: got %d, want %d", i, ev.EventID, meta.Sequence, prevSeq+1)
		}
		if meta.PrevHash != prevHash {
			return fmt.Errorf("event %d (%s): chain break: prev_hash mismatch", i, ev.EventID)
		}
		canonical, err := canonicalEventJSON(ev)
		if err != nil {
			return fmt.Errorf("event %d (%s): %w", i, ev.EventID, err)
		}
		want := computeHash(key, meta.Sequence, meta.PrevHash, canonical)
		if !hmac.Equal([]byte(want), []byte(meta.EntryHash)) {
			return fmt.Errorf("event %d (%s): entry hash mismatch: event was modified", i, ev.EventID)
		}
		prevHash = meta.EntryHash
		prevSeq = meta.Sequence
	}
	return nil
}

// canonicalEventJSON produces deterministic bytes for hashing: the
// event without its integrity field, round-tripped through a map so
// keys are sorted and JSON number representation is uniform between
// write and verify.
func canonicalEventJSON(ev types.AuditEvent) ([]byte, error) {
	ev.Integrity = nil
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("canonicalize event: %w", err)
	}
	return json.Marshal(m)
}

// computeHash computes HMAC-SHA256 over sequence|prev_hash|payload.
func computeHash(key []byte, sequence int64, prevHash string, payload []byte) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(strconv.FormatInt(sequence, 10)))
	h.Write([]byte("|"))
	h.Write([]byte(prevHash))
	h.Write([]byte("|"))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}
