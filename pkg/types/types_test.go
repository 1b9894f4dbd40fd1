package types

import (
	"testing"
	"time"
)

func TestEventQueryMatches(t *testing.T) {
	base := time.Date(2026, 1, 2, 12, 0, 0, 0, time.UTC)
	ev := AuditEvent{
		EventID:   "e1",
		Timestamp: base,
		Type:      EventAccessDenied,
		Severity:  SeverityWarning,
		UserID:    "agent",
	}

	if !(EventQuery{}).Matches(ev) {
		t.Error("empty query should match")
	}

	before := base.Add(-time.Minute)
	after := base.Add(time.Minute)
	cases := []struct {
		name string
		q    EventQuery
		want bool
	}{
		{"since before", EventQuery{Since: &before}, true},
		{"since after", EventQuery{Since: &after}, false},
		{"until after", EventQuery{Until: &after}, true},
		{"until before", EventQuery{Until: &before}, false},
		{"type match", EventQuery{Types: []string{EventAccessGranted, EventAccessDenied}}, true},
		{"type mismatch", EventQuery{Types: []string{EventAccessGranted}}, false},
		{"user match", EventQuery{UserID: "agent"}, true},
		{"user mismatch", EventQuery{UserID: "other"}, false},
		{"severity match", EventQuery{Severity: SeverityWarning}, true},
		{"severity mismatch", EventQuery{Severity: SeverityCritical}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.q.Matches(ev); got != tc.want {
				t.Errorf("Matches = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestHasPermissions(t *testing.T) {
	op := OperationContext{Permissions: []string{"fs:read", "fs:write"}}
	if !op.HasPermissions(nil) {
		t.Error("empty requirement should pass")
	}
	if !op.HasPermissions([]string{"fs:read"}) {
		t.Error("held permission rejected")
	}
	if op.HasPermissions([]string{"fs:read", "net:dial"}) {
		t.Error("missing permission accepted")
	}
}
