// Package segment persists audit events as rotating, append-only JSONL
// segment files. Segment filenames embed a sortable timestamp so the
// set of segments has a total order across restarts.
package segment

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agentgate/agentgate/pkg/types"
)

const (
	filePrefix = "audit_"
	fileSuffix = ".jsonl"

	// stampLayout sorts lexicographically and has nanosecond
	// precision so forced rotations in the same second stay ordered.
	stampLayout = "20060102T150405.000000000"
)

// Store is the JSONL segment backend. One file is active at a time; a
// new segment starts when the active segment plus the next event's
// serialized size would exceed maxBytes, or when rotation is forced.
type Store struct {
	dir      string
	maxBytes int64

	mu   sync.Mutex
	file *os.File
	size int64
}

// New opens (or creates) the segment directory and starts a fresh
// active segment. maxSizeMB <= 0 defaults to 10 MB.
func New(dir string, maxSizeMB int) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("segment dir is empty")
	}
	if maxSizeMB <= 0 {
		maxSizeMB = 10
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir audit dir: %w", err)
	}

	s := &Store{dir: dir, maxBytes: int64(maxSizeMB) * 1024 * 1024}
	if err := s.openSegmentLocked(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) openSegmentLocked() error {
	name := filePrefix + time.Now().UTC().Format(stampLayout) + fileSuffix
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open segment: %w", err)
	}
	s.file = f
	s.size = 0
	return nil
}

// AppendEvent writes one event as a single line and flushes it to
// stable storage before returning. Durability over batching.
func (s *Store) AppendEvent(_ context.Context, ev types.AuditEvent) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	line := append(b, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("segment store closed")
	}
	if s.size > 0 && s.size+int64(len(line)) > s.maxBytes {
		if err := s.rotateLocked(); err != nil {
			return err
		}
	}
	n, err := s.file.Write(line)
	if err != nil {
		return fmt.Errorf("write segment: %w", err)
	}
	s.size += int64(n)
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync segment: %w", err)
	}
	return nil
}

// Rotate forces a new segment.
func (s *Store) Rotate() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return fmt.Errorf("segment store closed")
	}
	return s.rotateLocked()
}

func (s *Store) rotateLocked() error {
	if err := s.file.Close(); err != nil {
		return fmt.Errorf("close segment for rotate: %w", err)
	}
	return s.openSegmentLocked()
}

// QueryEvents scans every segment in chronological order, applies the
// filters, and deduplicates by event_id (at-least-once emission is
// deduplicated on read). Corrupt lines are skipped, not fatal.
func (s *Store) QueryEvents(_ context.Context, q types.EventQuery) ([]types.AuditEvent, error) {
	segments, err := s.Segments()
	if err != nil {
		return nil, err
	}

	var out []types.AuditEvent
	seen := make(map[string]struct{})
	skipped := q.Offset

	for _, path := range segments {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open segment %q: %w", path, err)
		}
		sc := bufio.NewScanner(f)
		sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
		for sc.Scan() {
			line := strings.TrimSpace(sc.Text())
			if line == "" {
				continue
			}
			var ev types.AuditEvent
			if err := json.Unmarshal([]byte(line), &ev); err != nil {
				continue
			}
			if ev.EventID == "" {
				continue
			}
			if _, dup := seen[ev.EventID]; dup {
				continue
			}
			if !q.Matches(ev) {
				continue
			}
			seen[ev.EventID] = struct{}{}
			if skipped > 0 {
				skipped--
				continue
			}
			out = append(out, ev)
			if q.Limit > 0 && len(out) >= q.Limit {
				f.Close()
				return out, nil
			}
		}
		if err := sc.Err(); err != nil {
			f.Close()
			return nil, fmt.Errorf("scan segment %q: %w", path, err)
		}
		f.Close()
	}
	return out, nil
}

// ReadAll scans a segment directory without opening it for append,
// for offline inspection and integrity verification. Events come back
// in write order, deduplicated by event_id.
func ReadAll(dir string) ([]types.AuditEvent, error) {
	s := &Store{dir: dir}
	return s.QueryEvents(context.Background(), types.EventQuery{})
}

// Segments lists all segment file paths in creation order.
func (s *Store) Segments() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read audit dir: %w", err)
	}
	var paths []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		paths = append(paths, filepath.Join(s.dir, name))
	}
	sort.Strings(paths)
	return paths, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
