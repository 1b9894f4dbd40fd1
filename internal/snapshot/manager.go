// Package snapshot captures content-addressed copies of a file tree
// and restores them on rollback.
package snapshot

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"

	"github.com/agentgate/agentgate/pkg/errdefs"
)

const (
	manifestFile = "manifest.json"
	blobDir      = "blobs"
)

// Snapshot is an immutable capture of the target tree. The manifest
// maps relative paths to content hashes; file bytes live in the
// snapshot's blob directory keyed by hash.
type Snapshot struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Manifest  map[string]string `json:"manifest"`
	Metadata  map[string]any    `json:"metadata,omitempty"`
}

// Options configures a Manager.
type Options struct {
	// Root is the tree to capture and restore.
	Root string
	// Dir is the snapshot storage directory; excluded from captures.
	Dir string
	// Retention keeps at most this many snapshots; 0 keeps all.
	Retention int
	// Logger for operational lines; nil means slog.Default().
	Logger *slog.Logger
}

// Manager creates and restores snapshots of one target tree. Create
// and Rollback perform blocking file I/O and serialize on an internal
// mutex; run them off latency-sensitive control loops.
type Manager struct {
	root      string
	dir       string
	retention int
	log       *slog.Logger

	mu sync.Mutex
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Root == "" || opts.Dir == "" {
		return nil, fmt.Errorf("snapshot: root and dir are required")
	}
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("snapshot: resolve root: %w", err)
	}
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: resolve dir: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: mkdir storage: %w", err)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Manager{root: root, dir: dir, retention: opts.Retention, log: log}, nil
}

// Create walks the target tree, hashes every regular file, copies the
// bytes into the snapshot's blob store, and persists the manifest.
func (m *Manager) Create(metadata map[string]any) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := &Snapshot{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC(),
		Manifest:  map[string]string{},
		Metadata:  metadata,
	}
	snapDir := filepath.Join(m.dir, snap.ID)
	blobs := filepath.Join(snapDir, blobDir)
	if err := os.MkdirAll(blobs, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: mkdir %s: %w", snap.ID, err)
	}

	err := filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Never capture our own storage.
			if samePath(path, m.dir) {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", rel, err)
		}
		hash := contentHash(data)
		blobPath := filepath.Join(blobs, hash)
		if _, err := os.Stat(blobPath); os.IsNotExist(err) {
			if err := os.WriteFile(blobPath, data, 0o644); err != nil {
				return fmt.Errorf("write blob for %s: %w", rel, err)
			}
		}
		snap.Manifest[filepath.ToSlash(rel)] = hash
		return nil
	})
	if err != nil {
		os.RemoveAll(snapDir)
		return nil, fmt.Errorf("snapshot: capture: %w", err)
	}

	raw, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		os.RemoveAll(snapDir)
		return nil, fmt.Errorf("snapshot: marshal manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(snapDir, manifestFile), raw, 0o644); err != nil {
		os.RemoveAll(snapDir)
		return nil, fmt.Errorf("snapshot: write manifest: %w", err)
	}

	m.log.Info("snapshot created", "id", snap.ID, "files", len(snap.Manifest))
	m.pruneLocked()
	return snap, nil
}

// Rollback restores the tree to the snapshot: files on disk but absent
// from the manifest are deleted, then every manifest entry is restored
// from its blob. A missing blob fails the whole rollback with the
// unrestorable path; files already restored are left in place.
func (m *Manager) Rollback(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap, err := m.load(id)
	if err != nil {
		return err
	}
	blobs := filepath.Join(m.dir, snap.ID, blobDir)

	// Delete extraneous files first so the tree ends up exactly equal
	// to the capture.
	err = filepath.WalkDir(m.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if samePath(path, m.dir) {
				return filepath.SkipDir
			}
			return nil
		}
		rel, err := filepath.Rel(m.root, path)
		if err != nil {
			return err
		}
		if _, ok := snap.Manifest[filepath.ToSlash(rel)]; !ok {
			return os.Remove(path)
		}
		return nil
	})
	if err != nil {
		return errdefs.Rollback("", fmt.Sprintf("delete extraneous files: %v", err))
	}

	// Deterministic restore order keeps partial-failure behavior
	// reproducible.
	paths := make([]string, 0, len(snap.Manifest))
	for rel := range snap.Manifest {
		paths = append(paths, rel)
	}
	sort.Strings(paths)

	for _, rel := range paths {
		hash := snap.Manifest[rel]
		data, err := os.ReadFile(filepath.Join(blobs, hash))
		if err != nil {
			return errdefs.Rollback(rel, fmt.Sprintf("backup blob %s missing or unreadable: %v", hash, err)).
				WithHint("restore from an older snapshot or recover the blob from backup storage")
		}
		dst := filepath.Join(m.root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return errdefs.Rollback(rel, fmt.Sprintf("recreate parent directory: %v", err))
		}
		if err := os.WriteFile(dst, data, 0o644); err != nil {
			return errdefs.Rollback(rel, fmt.Sprintf("restore file: %v", err))
		}
	}

	m.log.Info("rollback complete", "id", snap.ID, "files", len(snap.Manifest))
	return nil
}

// Get loads one snapshot by id.
func (m *Manager) Get(id string) (*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.load(id)
}

// List returns all snapshots in creation order.
func (m *Manager) List() ([]*Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

// Latest returns the most recent snapshot, or nil when none exist.
func (m *Manager) Latest() (*Snapshot, error) {
	snaps, err := m.List()
	if err != nil {
		return nil, err
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	return snaps[len(snaps)-1], nil
}

// Delete removes a snapshot and its blobs.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.load(id); err != nil {
		return err
	}
	return os.RemoveAll(filepath.Join(m.dir, id))
}

func (m *Manager) load(id string) (*Snapshot, error) {
	if strings.ContainsAny(id, `/\`) {
		return nil, fmt.Errorf("snapshot: invalid id %q", id)
	}
	raw, err := os.ReadFile(filepath.Join(m.dir, id, manifestFile))
	if err != nil {
		return nil, fmt.Errorf("snapshot: load %s: %w", id, err)
	}
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("snapshot: parse manifest %s: %w", id, err)
	}
	return &snap, nil
}

func (m *Manager) listLocked() ([]*Snapshot, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		return nil, fmt.Errorf("snapshot: read storage dir: %w", err)
	}
	var snaps []*Snapshot
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		snap, err := m.load(e.Name())
		if err != nil {
			// Half-written snapshot dirs are skipped, not fatal.
			continue
		}
		snaps = append(snaps, snap)
	}
	sort.Slice(snaps, func(i, j int) bool { return snaps[i].Timestamp.Before(snaps[j].Timestamp) })
	return snaps, nil
}

func (m *Manager) pruneLocked() {
	if m.retention <= 0 {
		return
	}
	snaps, err := m.listLocked()
	if err != nil {
		m.log.Warn("snapshot: prune list failed", "error", err)
		return
	}
	for len(snaps) > m.retention {
		victim := snaps[0]
		snaps = snaps[1:]
		if err := os.RemoveAll(filepath.Join(m.dir, victim.ID)); err != nil {
			m.log.Warn("snapshot: prune failed", "id", victim.ID, "error", err)
			continue
		}
		m.log.Info("snapshot pruned", "id", victim.ID)
	}
}

// contentHash is a fast non-cryptographic hash; collisions are an
// accepted risk at this layer, tamper-evidence belongs to the audit
// chain.
func contentHash(data []byte) string {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], xxhash.Sum64(data))
	return hex.EncodeToString(b[:])
}

func samePath(a, b string) bool {
	return filepath.Clean(a) == filepath.Clean(b)
}
