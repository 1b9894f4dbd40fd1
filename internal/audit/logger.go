// Package audit provides the asynchronous audit logger and the
// HMAC-based tamper-evidence chain for the audit trail.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/types"
	"github.com/google/uuid"
)

// DefaultQueueSize bounds the in-memory event queue.
const DefaultQueueSize = 1024

type entry struct {
	ev    types.AuditEvent
	flush chan struct{} // non-nil for flush markers
}

// Logger enqueues events onto a bounded queue drained by a single
// background worker, which appends each event to the store and flushes
// immediately. If the queue is full, Record blocks the caller rather
// than dropping the event: auditability takes precedence over caller
// latency.
type Logger struct {
	store store.EventStore
	chain *IntegrityChain
	log   *slog.Logger

	mu     sync.Mutex
	queue  chan entry
	closed bool

	wg sync.WaitGroup
}

// Options configures a Logger.
type Options struct {
	// QueueSize bounds the pending queue; 0 means DefaultQueueSize.
	QueueSize int
	// Chain, when set, wraps every event with integrity metadata.
	Chain *IntegrityChain
	// Logger receives operational (not audit) log lines; nil means
	// slog.Default().
	Logger *slog.Logger
}

// NewLogger starts the drain worker.
func NewLogger(st store.EventStore, opts Options) *Logger {
	size := opts.QueueSize
	if size <= 0 {
		size = DefaultQueueSize
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	l := &Logger{
		store: st,
		chain: opts.Chain,
		log:   log,
		queue: make(chan entry, size),
	}
	l.wg.Add(1)
	go l.drain()
	return l
}

func (l *Logger) drain() {
	defer l.wg.Done()
	for e := range l.queue {
		if e.flush != nil {
			close(e.flush)
			continue
		}
		ev := e.ev
		if l.chain != nil {
			wrapped, err := l.chain.Wrap(ev)
			if err != nil {
				l.log.Error("audit: integrity wrap failed", "event_id", ev.EventID, "error", err)
			} else {
				ev = wrapped
			}
		}
		if err := l.store.AppendEvent(context.Background(), ev); err != nil {
			l.log.Error("audit: append failed", "event_id", ev.EventID, "error", err)
		}
	}
}

// Record enqueues one event, assigning an event ID and timestamp when
// missing. Blocks under backpressure. Returns an error only after
// Close.
func (l *Logger) Record(ev types.AuditEvent) error {
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.Severity == "" {
		ev.Severity = types.SeverityInfo
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("audit logger closed")
	}
	// Timestamp under the lock so enqueue order matches timestamp
	// order; the single consumer then persists in non-decreasing
	// timestamp order. The send also happens under the lock so Close
	// cannot close the channel between the check and the send.
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	l.queue <- entry{ev: ev}
	l.mu.Unlock()
	return nil
}

// Event is a convenience constructor used by the orchestrator and the
// monitor path.
func (l *Logger) Event(evType string, severity types.Severity, userID string, details map[string]any) error {
	return l.Record(types.AuditEvent{
		Type:     evType,
		Severity: severity,
		UserID:   userID,
		Details:  details,
	})
}

// Flush blocks until every event enqueued before the call has been
// handed to the store.
func (l *Logger) Flush() error {
	done := make(chan struct{})

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return fmt.Errorf("audit logger closed")
	}
	l.queue <- entry{flush: done}
	l.mu.Unlock()

	<-done
	return nil
}

// Close drains pending events and stops the worker. The store itself
// is not closed; its owner closes it.
func (l *Logger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	close(l.queue)
	l.mu.Unlock()

	l.wg.Wait()
	return nil
}
