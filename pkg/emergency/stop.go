// Package emergency implements the process-wide kill switch consulted
// by every other control-plane component.
package emergency

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Event records one stop transition.
type Event struct {
	Kind      string         `json:"kind"` // "trigger" or "reset"
	Reason    string         `json:"reason"`
	Context   map[string]any `json:"context,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Handler is invoked synchronously on every transition. A panicking
// handler is isolated and logged; it never prevents the transition.
type Handler func(Event)

// Status is a point-in-time view of the stop for health endpoints.
type Status struct {
	Active     bool       `json:"active"`
	EventCount int        `json:"event_count"`
	LastEvent  *Event     `json:"last_event,omitempty"`
	ActiveAt   *time.Time `json:"active_at,omitempty"`
}

// Stop is the kill switch. Exactly one instance exists per process; it
// is constructed explicitly and passed by reference, never reached
// through a hidden global. Created inactive; toggled by Trigger/Reset.
type Stop struct {
	active atomic.Bool

	mu       sync.Mutex
	events   []Event
	handlers []Handler
	activeAt time.Time

	logger *slog.Logger
}

// New creates an inactive stop. logger may be nil.
func New(logger *slog.Logger) *Stop {
	if logger == nil {
		logger = slog.Default()
	}
	return &Stop{logger: logger}
}

// AddHandler registers a transition handler. Handlers are not
// persisted across restarts.
func (s *Stop) AddHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// Trigger activates the stop. Re-triggering while active is a no-op
// and returns false.
func (s *Stop) Trigger(reason string, context map[string]any) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active.Load() {
		return false
	}

	ev := Event{
		Kind:      "trigger",
		Reason:    reason,
		Context:   context,
		Timestamp: time.Now().UTC(),
	}
	s.active.Store(true)
	s.activeAt = ev.Timestamp
	s.events = append(s.events, ev)
	s.notifyLocked(ev)

	s.logger.Error("emergency stop triggered", "reason", reason)
	return true
}

// Reset deactivates the stop. Resetting while inactive is a no-op and
// returns false.
func (s *Stop) Reset(user, reason string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active.Load() {
		return false
	}

	ev := Event{
		Kind:      "reset",
		Reason:    reason,
		Context:   map[string]any{"user": user},
		Timestamp: time.Now().UTC(),
	}
	s.active.Store(false)
	s.activeAt = time.Time{}
	s.events = append(s.events, ev)
	s.notifyLocked(ev)

	s.logger.Info("emergency stop reset", "user", user, "reason", reason)
	return true
}

// notifyLocked runs every handler synchronously, isolating panics so a
// broken handler cannot prevent the transition from completing.
func (s *Stop) notifyLocked(ev Event) {
	for _, h := range s.handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					s.logger.Error("emergency handler panicked", "kind", ev.Kind, "panic", r)
				}
			}()
			h(ev)
		}()
	}
}

// IsActive is the cheap read used as the first gate on every proposed
// operation.
func (s *Stop) IsActive() bool { return s.active.Load() }

// Status returns the current state for health checks.
func (s *Stop) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{Active: s.active.Load(), EventCount: len(s.events)}
	if n := len(s.events); n > 0 {
		last := s.events[n-1]
		st.LastEvent = &last
	}
	if !s.activeAt.IsZero() {
		at := s.activeAt
		st.ActiveAt = &at
	}
	return st
}

// History returns up to limit most recent transition events, oldest
// first. limit <= 0 returns everything.
func (s *Stop) History(limit int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.events
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	out := make([]Event, len(events))
	copy(out, events)
	return out
}
