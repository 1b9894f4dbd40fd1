// Package recovery implements per-error-kind automatic recovery with
// bounded, exponentially backed-off retries.
package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/agentgate/agentgate/pkg/errdefs"
	"github.com/agentgate/agentgate/pkg/types"
)

// Recorder receives one audit event per recovery attempt.
type Recorder interface {
	Record(ev types.AuditEvent) error
}

// Strategy attempts to clear the condition behind err so the failed
// operation can be retried. Returning an error aborts further
// attempts.
type Strategy func(ctx context.Context, attempt int, err *errdefs.Error) error

// Options configures a Manager.
type Options struct {
	// MaxAttempts bounds retries per Recover call; 0 means 3.
	MaxAttempts int
	// BackoffBase is the first retry delay, doubled per attempt;
	// 0 means one second.
	BackoffBase time.Duration
	// ScratchDir is cleared by the resource strategy; empty disables
	// scratch cleanup.
	ScratchDir string
	// Audit receives recovery_attempt events; nil disables auditing.
	Audit Recorder
	// Logger for operational lines; nil means slog.Default().
	Logger *slog.Logger
}

// Manager looks up a recovery strategy by error kind and drives
// bounded retries. Constraint violations (operation, access) and
// rollback failures are never auto-recovered: they always propagate
// for human or policy-level review.
type Manager struct {
	maxAttempts int
	backoffBase time.Duration
	audit       Recorder
	log         *slog.Logger

	strategies map[errdefs.Kind]Strategy
}

func NewManager(opts Options) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = 3
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		maxAttempts: opts.MaxAttempts,
		backoffBase: opts.BackoffBase,
		audit:       opts.Audit,
		log:         log,
		strategies:  map[errdefs.Kind]Strategy{},
	}
	m.strategies[errdefs.KindResource] = resourceStrategy(opts.ScratchDir, log)
	return m
}

// RegisterStrategy installs or replaces the strategy for one kind.
func (m *Manager) RegisterStrategy(kind errdefs.Kind, s Strategy) {
	m.strategies[kind] = s
}

// Recoverable reports whether err's kind has a registered strategy.
func (m *Manager) Recoverable(err error) bool {
	_, ok := m.strategies[errdefs.KindOf(err)]
	return ok
}

// Recover retries op after running the kind's strategy, backing off
// exponentially between attempts. Returns nil once op succeeds, a
// recovery error when the kind has no strategy or attempts are
// exhausted, and ctx.Err() on cancellation.
func (m *Manager) Recover(ctx context.Context, cause error, op func() error) error {
	var e *errdefs.Error
	if cause == nil || !errors.As(cause, &e) {
		return errdefs.Recovery("not a control-plane error", cause)
	}
	strategy, ok := m.strategies[e.Kind]
	if !ok {
		m.record(e.Kind, 0, false, "no automatic recovery for this error kind")
		return errdefs.Recovery(fmt.Sprintf("no automatic recovery for %s errors", e.Kind), cause).
			WithHint("manual intervention required")
	}

	lastErr := cause
	for attempt := 1; attempt <= m.maxAttempts; attempt++ {
		if err := sleepCtx(ctx, m.backoff(attempt)); err != nil {
			return err
		}
		if err := strategy(ctx, attempt, e); err != nil {
			m.record(e.Kind, attempt, false, err.Error())
			return errdefs.Recovery("recovery strategy failed", err)
		}
		if err := op(); err != nil {
			m.record(e.Kind, attempt, false, err.Error())
			m.log.Warn("recovery attempt failed", "kind", e.Kind, "attempt", attempt, "error", err)
			lastErr = err
			continue
		}
		m.record(e.Kind, attempt, true, "")
		m.log.Info("recovered", "kind", e.Kind, "attempt", attempt)
		return nil
	}
	return errdefs.Recovery(fmt.Sprintf("exhausted %d recovery attempts", m.maxAttempts), lastErr)
}

func (m *Manager) backoff(attempt int) time.Duration {
	d := m.backoffBase
	for i := 1; i < attempt; i++ {
		d *= 2
	}
	return d
}

func (m *Manager) record(kind errdefs.Kind, attempt int, ok bool, reason string) {
	if m.audit == nil {
		return
	}
	severity := types.SeverityInfo
	if !ok {
		severity = types.SeverityWarning
	}
	details := map[string]any{"kind": string(kind), "attempt": attempt, "recovered": ok}
	if reason != "" {
		details["reason"] = reason
	}
	if err := m.audit.Record(types.AuditEvent{
		Type:     types.EventRecoveryAttempt,
		Severity: severity,
		Details:  details,
	}); err != nil {
		m.log.Error("recovery: audit record failed", "error", err)
	}
}

// resourceStrategy frees memory and clears scratch space.
func resourceStrategy(scratchDir string, log *slog.Logger) Strategy {
	return func(_ context.Context, _ int, _ *errdefs.Error) error {
		runtime.GC()
		if scratchDir == "" {
			return nil
		}
		entries, err := os.ReadDir(scratchDir)
		if err != nil {
			return fmt.Errorf("read scratch dir: %w", err)
		}
		for _, entry := range entries {
			if err := os.RemoveAll(filepath.Join(scratchDir, entry.Name())); err != nil {
				log.Warn("recovery: scratch cleanup failed", "entry", entry.Name(), "error", err)
			}
		}
		return nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
