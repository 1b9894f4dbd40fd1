package audit

import (
	"context"
	"time"

	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/types"
)

// Summary aggregates activity over a time range.
type Summary struct {
	TotalEvents           int            `json:"total_events"`
	ByType                map[string]int `json:"by_type"`
	BySeverity            map[string]int `json:"by_severity"`
	ByUser                map[string]int `json:"by_user"`
	DenialRate            float64        `json:"access_denied_rate"`
	ValidationFailureRate float64        `json:"validation_failure_rate"`
}

// Anomaly flags a suspicious pattern in the recent audit trail.
type Anomaly struct {
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

// Anomaly detection thresholds.
const (
	denialRateThreshold = 0.2
	violationThreshold  = 5
)

// Analyzer runs reporting queries over an event store.
type Analyzer struct {
	store store.EventStore
}

func NewAnalyzer(st store.EventStore) *Analyzer {
	return &Analyzer{store: st}
}

// ActivitySummary summarizes events between start and end.
func (a *Analyzer) ActivitySummary(ctx context.Context, start, end time.Time) (*Summary, error) {
	events, err := a.store.QueryEvents(ctx, types.EventQuery{Since: &start, Until: &end})
	if err != nil {
		return nil, err
	}
	return summarize(events), nil
}

// DetectAnomalies scans the trailing window for high denial rates and
// repeated security violations.
func (a *Analyzer) DetectAnomalies(ctx context.Context, window time.Duration) ([]Anomaly, error) {
	end := time.Now().UTC()
	start := end.Add(-window)
	events, err := a.store.QueryEvents(ctx, types.EventQuery{Since: &start, Until: &end})
	if err != nil {
		return nil, err
	}

	var anomalies []Anomaly
	s := summarize(events)
	if s.DenialRate > denialRateThreshold {
		anomalies = append(anomalies, Anomaly{
			Type:      "high_denial_rate",
			Value:     s.DenialRate,
			Threshold: denialRateThreshold,
		})
	}
	violations := 0
	for _, ev := range events {
		if ev.Type == types.EventSecurityViolation {
			violations++
		}
	}
	if violations > violationThreshold {
		anomalies = append(anomalies, Anomaly{
			Type:      "repeated_violations",
			Value:     float64(violations),
			Threshold: violationThreshold,
		})
	}
	return anomalies, nil
}

func summarize(events []types.AuditEvent) *Summary {
	s := &Summary{
		TotalEvents: len(events),
		ByType:      map[string]int{},
		BySeverity:  map[string]int{},
		ByUser:      map[string]int{},
	}
	granted, denied := 0, 0
	valOK, valFail := 0, 0
	for _, ev := range events {
		s.ByType[ev.Type]++
		s.BySeverity[string(ev.Severity)]++
		if ev.UserID != "" {
			s.ByUser[ev.UserID]++
		}
		switch ev.Type {
		case types.EventAccessGranted:
			granted++
		case types.EventAccessDenied:
			denied++
		case types.EventValidationSuccess:
			valOK++
		case types.EventValidationFailure:
			valFail++
		}
	}
	if granted+denied > 0 {
		s.DenialRate = float64(denied) / float64(granted+denied)
	}
	if valOK+valFail > 0 {
		s.ValidationFailureRate = float64(valFail) / float64(valOK+valFail)
	}
	return s
}
