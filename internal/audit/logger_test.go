package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentgate/agentgate/internal/store/segment"
	"github.com/agentgate/agentgate/pkg/types"
)

func TestConcurrentDurability(t *testing.T) {
	st, err := segment.New(t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	l := NewLogger(st, Options{QueueSize: 16})

	const callers = 8
	const perCaller = 25
	var wg sync.WaitGroup
	for c := 0; c < callers; c++ {
		wg.Add(1)
		go func(c int) {
			defer wg.Done()
			for i := 0; i < perCaller; i++ {
				err := l.Event(types.EventAccessGranted, types.SeverityInfo, "agent", map[string]any{"caller": c, "n": i})
				if err != nil {
					t.Errorf("Event: %v", err)
				}
			}
		}(c)
	}
	wg.Wait()

	if err := l.Flush(); err != nil {
		t.Fatal(err)
	}

	got, err := st.QueryEvents(context.Background(), types.EventQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != callers*perCaller {
		t.Fatalf("got %d events, want %d", len(got), callers*perCaller)
	}

	ids := make(map[string]struct{}, len(got))
	for i, ev := range got {
		if _, dup := ids[ev.EventID]; dup {
			t.Errorf("duplicate event_id %s", ev.EventID)
		}
		ids[ev.EventID] = struct{}{}
		if i > 0 && got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("timestamp regression at index %d", i)
		}
	}
	_ = l.Close()
}

func TestCloseDrainsPending(t *testing.T) {
	st, err := segment.New(t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	l := NewLogger(st, Options{QueueSize: 64})
	for i := 0; i < 20; i++ {
		if err := l.Event(types.EventSystemStart, types.SeverityInfo, "", nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := st.QueryEvents(context.Background(), types.EventQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 20 {
		t.Errorf("got %d events after Close, want 20", len(got))
	}

	if err := l.Event(types.EventSystemStop, types.SeverityInfo, "", nil); err == nil {
		t.Error("Record after Close should fail")
	}
}

func TestChainWrapping(t *testing.T) {
	st, err := segment.New(t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	key := []byte("0123456789abcdef0123456789abcdef")
	chain, err := NewIntegrityChain(key)
	if err != nil {
		t.Fatal(err)
	}

	l := NewLogger(st, Options{Chain: chain})
	for i := 0; i < 5; i++ {
		if err := l.Event(types.EventAccessDenied, types.SeverityWarning, "agent", nil); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	got, err := st.QueryEvents(context.Background(), types.EventQuery{})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 5 {
		t.Fatalf("got %d events, want 5", len(got))
	}
	for i, ev := range got {
		if ev.Integrity == nil {
			t.Fatalf("event %d missing integrity metadata", i)
		}
		if ev.Integrity.Sequence != int64(i+1) {
			t.Errorf("event %d sequence = %d, want %d", i, ev.Integrity.Sequence, i+1)
		}
	}
	if err := Verify(key, got); err != nil {
		t.Errorf("Verify failed on untampered trail: %v", err)
	}
}

func TestEventDefaults(t *testing.T) {
	st, err := segment.New(t.TempDir(), 10)
	if err != nil {
		t.Fatal(err)
	}
	defer st.Close()

	l := NewLogger(st, Options{})
	before := time.Now().UTC()
	if err := l.Record(types.AuditEvent{Type: types.EventConfigChange}); err != nil {
		t.Fatal(err)
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	got, _ := st.QueryEvents(context.Background(), types.EventQuery{})
	if len(got) != 1 {
		t.Fatalf("got %d events, want 1", len(got))
	}
	ev := got[0]
	if ev.EventID == "" {
		t.Error("event_id not assigned")
	}
	if ev.Severity != types.SeverityInfo {
		t.Errorf("severity = %q, want default info", ev.Severity)
	}
	if ev.Timestamp.Before(before.Add(-time.Second)) {
		t.Errorf("timestamp not assigned: %v", ev.Timestamp)
	}
}
