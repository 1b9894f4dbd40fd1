package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Collector provides a minimal Prometheus-compatible metrics exporter.
type Collector struct {
	startedAt time.Time

	decisionsAllowed atomic.Uint64
	decisionsDenied  atomic.Uint64
	rateLimited      atomic.Uint64
	emergencyStops   atomic.Uint64
	rollbacks        atomic.Uint64

	eventsTotal atomic.Uint64
	byType      sync.Map // string -> *atomic.Uint64
}

func New() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

func (c *Collector) IncDecision(allowed bool) {
	if c == nil {
		return
	}
	if allowed {
		c.decisionsAllowed.Add(1)
	} else {
		c.decisionsDenied.Add(1)
	}
}

func (c *Collector) IncRateLimited() {
	if c == nil {
		return
	}
	c.rateLimited.Add(1)
}

func (c *Collector) IncEmergencyStop() {
	if c == nil {
		return
	}
	c.emergencyStops.Add(1)
}

func (c *Collector) IncRollback() {
	if c == nil {
		return
	}
	c.rollbacks.Add(1)
}

func (c *Collector) IncEvent(eventType string) {
	if c == nil {
		return
	}
	c.eventsTotal.Add(1)
	if eventType == "" {
		eventType = "unknown"
	}
	ptr, _ := c.byType.LoadOrStore(eventType, &atomic.Uint64{})
	ptr.(*atomic.Uint64).Add(1)
}

type HandlerOptions struct {
	EmergencyActive func() bool
	SnapshotCount   func() int
}

func (c *Collector) Handler(opts HandlerOptions) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")
		fmt.Fprint(w, "# HELP agentgate_up Whether the agentgate server is running.\n")
		fmt.Fprint(w, "# TYPE agentgate_up gauge\n")
		fmt.Fprint(w, "agentgate_up 1\n")

		fmt.Fprint(w, "# HELP agentgate_decisions_total Authorization decisions by outcome.\n")
		fmt.Fprint(w, "# TYPE agentgate_decisions_total counter\n")
		fmt.Fprintf(w, "agentgate_decisions_total{outcome=\"allow\"} %d\n", c.decisionsAllowed.Load())
		fmt.Fprintf(w, "agentgate_decisions_total{outcome=\"deny\"} %d\n", c.decisionsDenied.Load())

		fmt.Fprint(w, "# HELP agentgate_rate_limited_total Operations denied by the rate limiter.\n")
		fmt.Fprint(w, "# TYPE agentgate_rate_limited_total counter\n")
		fmt.Fprintf(w, "agentgate_rate_limited_total %d\n", c.rateLimited.Load())

		fmt.Fprint(w, "# HELP agentgate_emergency_stops_total Emergency stop activations.\n")
		fmt.Fprint(w, "# TYPE agentgate_emergency_stops_total counter\n")
		fmt.Fprintf(w, "agentgate_emergency_stops_total %d\n", c.emergencyStops.Load())

		fmt.Fprint(w, "# HELP agentgate_rollbacks_total Snapshot rollbacks executed.\n")
		fmt.Fprint(w, "# TYPE agentgate_rollbacks_total counter\n")
		fmt.Fprintf(w, "agentgate_rollbacks_total %d\n", c.rollbacks.Load())

		fmt.Fprint(w, "# HELP agentgate_audit_events_total Total audit events appended.\n")
		fmt.Fprint(w, "# TYPE agentgate_audit_events_total counter\n")
		fmt.Fprintf(w, "agentgate_audit_events_total %d\n", c.eventsTotal.Load())

		types := snapshotKeys(&c.byType)
		if len(types) > 0 {
			fmt.Fprint(w, "# HELP agentgate_audit_events_by_type_total Audit events appended by type.\n")
			fmt.Fprint(w, "# TYPE agentgate_audit_events_by_type_total counter\n")
			for _, t := range types {
				ptr, _ := c.byType.Load(t)
				n := uint64(0)
				if ptr != nil {
					n = ptr.(*atomic.Uint64).Load()
				}
				fmt.Fprintf(w, "agentgate_audit_events_by_type_total{type=%q} %d\n", escapeLabelValue(t), n)
			}
		}

		if opts.EmergencyActive != nil {
			active := 0
			if opts.EmergencyActive() {
				active = 1
			}
			fmt.Fprint(w, "# HELP agentgate_emergency_active Whether the emergency stop is active.\n")
			fmt.Fprint(w, "# TYPE agentgate_emergency_active gauge\n")
			fmt.Fprintf(w, "agentgate_emergency_active %d\n", active)
		}

		if opts.SnapshotCount != nil {
			fmt.Fprint(w, "# HELP agentgate_snapshots Snapshots currently retained.\n")
			fmt.Fprint(w, "# TYPE agentgate_snapshots gauge\n")
			fmt.Fprintf(w, "agentgate_snapshots %d\n", opts.SnapshotCount())
		}
	})
}

func snapshotKeys(m *sync.Map) []string {
	var out []string
	m.Range(func(k, _ any) bool {
		if s, ok := k.(string); ok {
			out = append(out, s)
		}
		return true
	})
	sort.Strings(out)
	return out
}

func escapeLabelValue(v string) string {
	// Prometheus text format label escaping for " and \ and newlines.
	v = strings.ReplaceAll(v, "\\", "\\\\")
	v = strings.ReplaceAll(v, "\n", "\\n")
	v = strings.ReplaceAll(v, "\"", "\\\"")
	return v
}
