// Package control ties the safety components together: every proposed
// operation passes through the emergency stop, the rate limiter, and
// the constraint engine, and every decision is audited.
package control

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/agentgate/agentgate/internal/audit"
	"github.com/agentgate/agentgate/internal/constraint"
	"github.com/agentgate/agentgate/internal/metrics"
	"github.com/agentgate/agentgate/internal/monitor"
	"github.com/agentgate/agentgate/internal/snapshot"
	"github.com/agentgate/agentgate/pkg/emergency"
	"github.com/agentgate/agentgate/pkg/ratelimit"
	"github.com/agentgate/agentgate/pkg/types"
)

// Options wires an Orchestrator. Stop, Limiter, Engine, and Audit are
// required; Monitor and Snapshots enable the background escalation
// path; Metrics may be nil.
type Options struct {
	Stop      *emergency.Stop
	Limiter   *ratelimit.Limiter
	Engine    *constraint.Engine
	Audit     *audit.Logger
	Monitor   *monitor.Monitor
	Snapshots *snapshot.Manager
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

// Orchestrator is the single entry point collaborators call before an
// agent action. It owns no state of its own; all state lives in the
// components it coordinates.
type Orchestrator struct {
	stop      *emergency.Stop
	limiter   *ratelimit.Limiter
	engine    *constraint.Engine
	audit     *audit.Logger
	monitor   *monitor.Monitor
	snapshots *snapshot.Manager
	metrics   *metrics.Collector
	log       *slog.Logger
}

func New(opts Options) (*Orchestrator, error) {
	if opts.Stop == nil || opts.Limiter == nil || opts.Engine == nil || opts.Audit == nil {
		return nil, fmt.Errorf("control: stop, limiter, engine, and audit are required")
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		stop:      opts.Stop,
		limiter:   opts.Limiter,
		engine:    opts.Engine,
		audit:     opts.Audit,
		monitor:   opts.Monitor,
		snapshots: opts.Snapshots,
		metrics:   opts.Metrics,
		log:       log,
	}, nil
}

// Authorize gates one proposed operation. Gate order is fixed: the
// emergency stop first (unconditional deny while active), then
// rate-limit admission, then constraint validation.
func (o *Orchestrator) Authorize(ctx context.Context, op types.OperationContext) types.Decision {
	now := time.Now().UTC()

	if o.stop.IsActive() {
		o.metrics.IncDecision(false)
		o.recordDecision(op, types.EventAccessDenied, types.SeverityCritical, map[string]any{
			"gate":   "emergency",
			"reason": "emergency stop active",
		})
		return types.Decision{
			Allow:     false,
			Reasons:   []string{"emergency stop active"},
			Timestamp: now,
		}
	}

	if !o.limiter.TryAcquire() {
		wait := o.limiter.WaitTime()
		o.metrics.IncDecision(false)
		o.metrics.IncRateLimited()
		o.recordDecision(op, types.EventRateLimited, types.SeverityWarning, map[string]any{
			"gate":         "ratelimit",
			"wait_seconds": wait.Seconds(),
		})
		return types.Decision{
			Allow:     false,
			Reasons:   []string{fmt.Sprintf("rate limit exceeded, retry in %.1fs", wait.Seconds())},
			Timestamp: now,
		}
	}

	result := o.engine.Validate(op)
	if !result.Valid {
		o.metrics.IncDecision(false)
		o.recordDecision(op, types.EventValidationFailure, types.SeverityWarning, map[string]any{
			"gate":   "constraints",
			"errors": result.Errors,
		})
		o.recordDecision(op, types.EventAccessDenied, types.SeverityWarning, map[string]any{
			"gate":    "constraints",
			"reasons": result.Errors,
		})
		return types.Decision{
			Allow:     false,
			Reasons:   result.Errors,
			Warnings:  result.Warnings,
			Timestamp: now,
		}
	}

	o.metrics.IncDecision(true)
	o.recordDecision(op, types.EventValidationSuccess, types.SeverityInfo, map[string]any{
		"gate":     "constraints",
		"warnings": result.Warnings,
	})
	o.recordDecision(op, types.EventAccessGranted, types.SeverityInfo, map[string]any{
		"warnings": result.Warnings,
	})
	return types.Decision{
		Allow:     true,
		Warnings:  result.Warnings,
		Timestamp: now,
	}
}

// Run consumes monitor escalations until ctx is cancelled. WARN and
// THROTTLE are audited only; SUSPEND and TERMINATE trip the emergency
// stop; ROLLBACK restores the latest snapshot. Call in its own
// goroutine.
func (o *Orchestrator) Run(ctx context.Context) {
	if o.monitor == nil {
		return
	}
	actions := o.monitor.Actions()
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-actions:
			o.handleAction(a)
		}
	}
}

func (o *Orchestrator) handleAction(a monitor.Action) {
	evType := types.EventResourceWarning
	if a.Severity == types.SeverityCritical {
		evType = types.EventResourceBreach
	}
	o.auditEvent(evType, a.Severity, map[string]any{
		"action":   string(a.Action),
		"resource": string(a.Resource),
		"value":    a.Value,
		"limit":    a.Limit,
	})

	switch a.Action {
	case types.ActionWarn, types.ActionThrottle:
		// Audited above; throttling is enforced by the rate limiter on
		// the admission path.
	case types.ActionSuspend, types.ActionTerminate:
		reason := fmt.Sprintf("%s breach: %s %.2f over limit %.2f", a.Action, a.Resource, a.Value, a.Limit)
		if o.stop.Trigger(reason, map[string]any{"resource": string(a.Resource)}) {
			o.metrics.IncEmergencyStop()
			o.auditEvent(types.EventEmergencyStop, types.SeverityCritical, map[string]any{
				"reason": reason,
			})
		}
	case types.ActionRollback:
		o.rollbackLatest(a)
	default:
		o.log.Warn("control: unknown action", "action", a.Action)
	}
}

func (o *Orchestrator) rollbackLatest(a monitor.Action) {
	if o.snapshots == nil {
		o.log.Error("control: rollback requested but no snapshot manager configured")
		return
	}
	latest, err := o.snapshots.Latest()
	if err != nil || latest == nil {
		o.auditEvent(types.EventRollbackFailed, types.SeverityError, map[string]any{
			"reason": "no snapshot available",
		})
		return
	}

	o.auditEvent(types.EventRollbackStarted, types.SeverityWarning, map[string]any{
		"snapshot_id": latest.ID,
		"trigger":     string(a.Resource),
	})
	if err := o.snapshots.Rollback(latest.ID); err != nil {
		o.auditEvent(types.EventRollbackFailed, types.SeverityError, map[string]any{
			"snapshot_id": latest.ID,
			"error":       err.Error(),
		})
		o.log.Error("control: rollback failed", "snapshot_id", latest.ID, "error", err)
		return
	}
	o.metrics.IncRollback()
	o.auditEvent(types.EventRollbackComplete, types.SeverityInfo, map[string]any{
		"snapshot_id": latest.ID,
	})
}

// TriggerEmergency trips the stop on behalf of a caller and audits the
// transition. Returns false when the stop was already active.
func (o *Orchestrator) TriggerEmergency(reason string, context map[string]any) bool {
	if !o.stop.Trigger(reason, context) {
		return false
	}
	o.metrics.IncEmergencyStop()
	o.auditEvent(types.EventEmergencyStop, types.SeverityCritical, map[string]any{"reason": reason})
	return true
}

// ResetEmergency clears the stop and audits the transition. Returns
// false when the stop was not active.
func (o *Orchestrator) ResetEmergency(user, reason string) bool {
	if !o.stop.Reset(user, reason) {
		return false
	}
	o.auditEvent(types.EventEmergencyReset, types.SeverityWarning, map[string]any{
		"user":   user,
		"reason": reason,
	})
	return true
}

func (o *Orchestrator) recordDecision(op types.OperationContext, evType string, severity types.Severity, details map[string]any) {
	if err := o.audit.Record(types.AuditEvent{
		Type:         evType,
		Severity:     severity,
		UserID:       op.UserID,
		ResourcePath: op.TargetPath,
		Operation:    string(op.Operation),
		Details:      details,
	}); err != nil {
		o.log.Error("control: audit record failed", "type", evType, "error", err)
	}
}

func (o *Orchestrator) auditEvent(evType string, severity types.Severity, details map[string]any) {
	if err := o.audit.Event(evType, severity, "", details); err != nil {
		o.log.Error("control: audit record failed", "type", evType, "error", err)
	}
}
