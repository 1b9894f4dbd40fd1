package monitor

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agentgate/agentgate/pkg/types"
)

const (
	// defaultHistoryWindow bounds per-resource sample retention.
	defaultHistoryWindow = time.Hour

	// shortWindow is the rolling average used to cross-check soft
	// breaches on non-CPU resources so a single sample cannot flap.
	shortWindow = 5 * time.Second

	// actionBuffer sizes the outbound action channel.
	actionBuffer = 64
)

// Action is a control escalation produced by a limit breach. Delivered
// over a channel so a slow consumer can never stall the sample loop.
type Action struct {
	Action    types.ControlAction `json:"action"`
	Resource  types.ResourceType  `json:"resource"`
	Value     float64             `json:"value"`
	Limit     float64             `json:"limit"`
	Severity  types.Severity      `json:"severity"`
	Timestamp time.Time           `json:"timestamp"`
}

// Options configures a Monitor.
type Options struct {
	// Interval between samples; 0 means one second.
	Interval time.Duration
	// HistoryWindow bounds retained samples; 0 means one hour.
	HistoryWindow time.Duration
	// Limits to evaluate on every tick.
	Limits []types.ResourceLimit
	// Sample is the reading source; required.
	Sample SampleFunc
	// Logger for operational lines; nil means slog.Default().
	Logger *slog.Logger
}

// Monitor runs a cancellable background loop that samples resources,
// keeps a bounded history, and emits Actions on limit breaches. Hard
// breaches fire on the instantaneous value; soft breaches on non-CPU
// resources are cross-checked against a short rolling average.
type Monitor struct {
	interval      time.Duration
	historyWindow time.Duration
	limits        map[types.ResourceType]types.ResourceLimit
	sample        SampleFunc
	log           *slog.Logger

	actions chan Action
	dropped atomic.Uint64

	mu      sync.Mutex
	history map[types.ResourceType][]types.ResourceSample
	running bool
	done    chan struct{}

	wg sync.WaitGroup
}

func New(opts Options) (*Monitor, error) {
	if opts.Sample == nil {
		return nil, fmt.Errorf("monitor: sample source is required")
	}
	if opts.Interval <= 0 {
		opts.Interval = time.Second
	}
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = defaultHistoryWindow
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}

	limits := make(map[types.ResourceType]types.ResourceLimit, len(opts.Limits))
	for _, l := range opts.Limits {
		limits[l.Resource] = l
	}
	return &Monitor{
		interval:      opts.Interval,
		historyWindow: opts.HistoryWindow,
		limits:        limits,
		sample:        opts.Sample,
		log:           log,
		actions:       make(chan Action, actionBuffer),
		history:       make(map[types.ResourceType][]types.ResourceSample),
	}, nil
}

// Actions is the stream of escalations. The channel is never closed;
// consumers select against their own shutdown signal.
func (m *Monitor) Actions() <-chan Action { return m.actions }

// Dropped reports how many actions were discarded because the channel
// was full.
func (m *Monitor) Dropped() uint64 { return m.dropped.Load() }

// Start launches the sample loop. Idempotent while running.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.wg.Add(1)
	go m.loop(done)
}

// Stop cancels the loop and joins it before returning.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.done)
	m.mu.Unlock()

	m.wg.Wait()
}

func (m *Monitor) loop(done chan struct{}) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.tick()
		}
	}
}

func (m *Monitor) tick() {
	samples, err := m.sample()
	if err != nil {
		m.log.Error("monitor: sample failed", "error", err)
		return
	}
	for _, s := range samples {
		m.record(s)
		m.evaluate(s)
	}
}

func (m *Monitor) record(s types.ResourceSample) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := append(m.history[s.Resource], s)
	cutoff := s.Timestamp.Add(-m.historyWindow)
	i := 0
	for i < len(hist) && hist[i].Timestamp.Before(cutoff) {
		i++
	}
	m.history[s.Resource] = hist[i:]
}

func (m *Monitor) evaluate(s types.ResourceSample) {
	limit, ok := m.limits[s.Resource]
	if !ok {
		return
	}

	switch {
	case limit.HardLimit > 0 && s.Value > limit.HardLimit:
		// Instantaneous, no averaging: reaction latency matters more
		// than flap suppression for hard breaches.
		m.dispatch(Action{
			Action:    limit.Action,
			Resource:  s.Resource,
			Value:     s.Value,
			Limit:     limit.HardLimit,
			Severity:  types.SeverityCritical,
			Timestamp: s.Timestamp,
		})
	case limit.SoftLimit > 0 && s.Value > limit.SoftLimit:
		if s.Resource != types.ResourceCPU && m.shortAverage(s.Resource, s.Timestamp) <= limit.SoftLimit {
			return
		}
		m.dispatch(Action{
			Action:    types.ActionWarn,
			Resource:  s.Resource,
			Value:     s.Value,
			Limit:     limit.SoftLimit,
			Severity:  types.SeverityWarning,
			Timestamp: s.Timestamp,
		})
	}
}

func (m *Monitor) shortAverage(r types.ResourceType, now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := now.Add(-shortWindow)
	sum, n := 0.0, 0
	for _, s := range m.history[r] {
		if s.Timestamp.Before(cutoff) {
			continue
		}
		sum += s.Value
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

func (m *Monitor) dispatch(a Action) {
	select {
	case m.actions <- a:
	default:
		m.dropped.Add(1)
		m.log.Warn("monitor: action channel full, dropping",
			"action", a.Action, "resource", a.Resource, "dropped_total", m.dropped.Load())
	}
}

// GetUsageHistory returns samples for one resource over the trailing
// number of minutes, oldest first.
func (m *Monitor) GetUsageHistory(r types.ResourceType, minutes int) []types.ResourceSample {
	cutoff := time.Now().UTC().Add(-time.Duration(minutes) * time.Minute)
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []types.ResourceSample
	for _, s := range m.history[r] {
		if !s.Timestamp.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
