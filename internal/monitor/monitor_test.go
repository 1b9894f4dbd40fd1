package monitor

import (
	"testing"
	"time"

	"github.com/agentgate/agentgate/pkg/types"
	"github.com/stretchr/testify/require"
)

func limits() []types.ResourceLimit {
	return []types.ResourceLimit{
		{Resource: types.ResourceCPU, SoftLimit: 70, HardLimit: 90, Action: types.ActionThrottle},
		{Resource: types.ResourceMemory, SoftLimit: 400, HardLimit: 512, Action: types.ActionTerminate},
	}
}

func newTestMonitor(t *testing.T, sample SampleFunc) *Monitor {
	t.Helper()
	m, err := New(Options{
		Interval: 5 * time.Millisecond,
		Limits:   limits(),
		Sample:   sample,
	})
	require.NoError(t, err)
	return m
}

func drainOne(t *testing.T, m *Monitor) Action {
	t.Helper()
	select {
	case a := <-m.Actions():
		return a
	case <-time.After(time.Second):
		t.Fatal("no action dispatched")
		return Action{}
	}
}

func TestHardBreachDispatchesImmediately(t *testing.T) {
	m := newTestMonitor(t, func() ([]types.ResourceSample, error) {
		return []types.ResourceSample{
			{Resource: types.ResourceCPU, Value: 95, Timestamp: time.Now().UTC()},
		}, nil
	})
	m.Start()
	defer m.Stop()

	a := drainOne(t, m)
	require.Equal(t, types.ActionThrottle, a.Action)
	require.Equal(t, types.ResourceCPU, a.Resource)
	require.Equal(t, types.SeverityCritical, a.Severity)
	require.Equal(t, float64(90), a.Limit)
}

func TestSoftBreachWarnsOnCPU(t *testing.T) {
	m := newTestMonitor(t, func() ([]types.ResourceSample, error) {
		return []types.ResourceSample{
			{Resource: types.ResourceCPU, Value: 75, Timestamp: time.Now().UTC()},
		}, nil
	})
	m.Start()
	defer m.Stop()

	a := drainOne(t, m)
	require.Equal(t, types.ActionWarn, a.Action)
	require.Equal(t, types.SeverityWarning, a.Severity)
}

func TestSoftBreachOnMemoryNeedsSustainedAverage(t *testing.T) {
	// One spike above soft among low samples: the rolling average stays
	// under the limit, so no warning fires.
	calls := 0
	m := newTestMonitor(t, func() ([]types.ResourceSample, error) {
		calls++
		v := 100.0
		if calls == 3 {
			v = 450
		}
		return []types.ResourceSample{
			{Resource: types.ResourceMemory, Value: v, Timestamp: time.Now().UTC()},
		}, nil
	})
	m.Start()
	time.Sleep(100 * time.Millisecond)
	m.Stop()

	select {
	case a := <-m.Actions():
		t.Fatalf("unexpected action for a single spike: %+v", a)
	default:
	}
}

func TestSoftBreachOnMemorySustainedWarns(t *testing.T) {
	m := newTestMonitor(t, func() ([]types.ResourceSample, error) {
		return []types.ResourceSample{
			{Resource: types.ResourceMemory, Value: 450, Timestamp: time.Now().UTC()},
		}, nil
	})
	m.Start()
	defer m.Stop()

	a := drainOne(t, m)
	require.Equal(t, types.ActionWarn, a.Action)
	require.Equal(t, types.ResourceMemory, a.Resource)
}

func TestStopJoinsLoop(t *testing.T) {
	ticks := make(chan struct{}, 1024)
	m := newTestMonitor(t, func() ([]types.ResourceSample, error) {
		ticks <- struct{}{}
		return nil, nil
	})
	m.Start()
	<-ticks
	m.Stop()

	n := len(ticks)
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, n, len(ticks), "loop still sampling after Stop")

	// Start/Stop are idempotent.
	m.Stop()
	m.Start()
	m.Stop()
}

func TestHistoryBoundedAndQueryable(t *testing.T) {
	m, err := New(Options{
		Interval:      time.Hour, // loop never ticks; we feed directly
		HistoryWindow: time.Minute,
		Sample:        func() ([]types.ResourceSample, error) { return nil, nil },
	})
	require.NoError(t, err)

	now := time.Now().UTC()
	// Old sample beyond the window plus two fresh ones.
	m.record(types.ResourceSample{Resource: types.ResourceDisk, Value: 1, Timestamp: now.Add(-2 * time.Minute)})
	m.record(types.ResourceSample{Resource: types.ResourceDisk, Value: 2, Timestamp: now.Add(-10 * time.Second)})
	m.record(types.ResourceSample{Resource: types.ResourceDisk, Value: 3, Timestamp: now})

	hist := m.GetUsageHistory(types.ResourceDisk, 5)
	require.Len(t, hist, 2)
	require.Equal(t, float64(2), hist[0].Value)
	require.Equal(t, float64(3), hist[1].Value)
}

func TestDispatchDropsWhenChannelFull(t *testing.T) {
	m := newTestMonitor(t, func() ([]types.ResourceSample, error) { return nil, nil })
	for i := 0; i < actionBuffer+10; i++ {
		m.dispatch(Action{Action: types.ActionWarn, Resource: types.ResourceCPU})
	}
	require.Equal(t, uint64(10), m.Dropped())
}

func TestRateDeltaGuards(t *testing.T) {
	now := time.Now()
	require.Equal(t, 0.0, rateMBs(100, 0, now, time.Time{}), "first sample has no baseline")
	require.Equal(t, 0.0, rateMBs(100, 200, now, now.Add(-time.Second)), "counter reset")
	require.Equal(t, 0.0, rateMBs(200, 100, now, now), "non-positive elapsed")
	require.InDelta(t, 1.0, rateMBs(2*1024*1024, 1024*1024, now, now.Add(-time.Second)), 1e-9)
}
