// Package types defines the shared data model of the control plane:
// operation contexts, decisions, resource samples and limits, and the
// audit event wire format.
package types

import "time"

// OperationType classifies a proposed agent operation.
type OperationType string

const (
	OpRead   OperationType = "read"
	OpWrite  OperationType = "write"
	OpDelete OperationType = "delete"
	OpModify OperationType = "modify"
)

// ControlAction is the escalation response dispatched when a resource
// limit is breached.
type ControlAction string

const (
	ActionWarn      ControlAction = "warn"
	ActionThrottle  ControlAction = "throttle"
	ActionSuspend   ControlAction = "suspend"
	ActionTerminate ControlAction = "terminate"
	ActionRollback  ControlAction = "rollback"
)

// ResourceType identifies a monitored resource.
type ResourceType string

const (
	ResourceCPU     ResourceType = "cpu"
	ResourceMemory  ResourceType = "memory"
	ResourceDisk    ResourceType = "disk"
	ResourceNetwork ResourceType = "network"
)

// ModifiedFile describes one file touched by a proposed operation.
type ModifiedFile struct {
	Path string `json:"path"`
	Size int64  `json:"size"`
}

// OperationContext is the proposed action submitted for authorization.
// It is created per action, never mutated, and discarded after
// validation; only its audit projection is persisted.
type OperationContext struct {
	Operation     OperationType  `json:"operation"`
	TargetPath    string         `json:"target_path"`
	Content       string         `json:"content,omitempty"`
	FileSize      int64          `json:"file_size,omitempty"`
	UserID        string         `json:"user_id"`
	Permissions   []string       `json:"permissions,omitempty"`
	ModifiedFiles []ModifiedFile `json:"modified_files,omitempty"`
}

// HasPermissions reports whether the context carries every permission
// in required.
func (c OperationContext) HasPermissions(required []string) bool {
	if len(required) == 0 {
		return true
	}
	held := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		held[p] = struct{}{}
	}
	for _, r := range required {
		if _, ok := held[r]; !ok {
			return false
		}
	}
	return true
}

// Decision is the outcome of an authorization request.
type Decision struct {
	Allow     bool      `json:"allow"`
	Reasons   []string  `json:"reasons,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ValidationResult aggregates the outcome of running every registered
// constraint against one operation context. Never mutated after
// construction.
type ValidationResult struct {
	Valid     bool      `json:"valid"`
	Errors    []string  `json:"errors,omitempty"`
	Warnings  []string  `json:"warnings,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ResourceSample is one monitor reading for one resource type.
type ResourceSample struct {
	Resource  ResourceType `json:"resource"`
	Value     float64      `json:"value"`
	Timestamp time.Time    `json:"timestamp"`
}

// ResourceLimit configures thresholds for one resource type. Loaded
// once at startup and read-only during monitoring.
type ResourceLimit struct {
	Resource      ResourceType  `json:"resource" yaml:"resource"`
	SoftLimit     float64       `json:"soft_limit" yaml:"soft_limit"`
	HardLimit     float64       `json:"hard_limit" yaml:"hard_limit"`
	WindowSeconds int           `json:"window_seconds" yaml:"window_seconds"`
	Action        ControlAction `json:"action" yaml:"action"`
}

// Severity levels for audit events.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// Audit event types emitted by the control plane.
const (
	EventSystemStart       = "system_start"
	EventSystemStop        = "system_stop"
	EventConfigChange      = "config_change"
	EventAccessGranted     = "access_granted"
	EventAccessDenied      = "access_denied"
	EventValidationSuccess = "validation_success"
	EventValidationFailure = "validation_failure"
	EventRateLimited       = "rate_limited"
	EventResourceWarning   = "resource_warning"
	EventResourceBreach    = "resource_breach"
	EventEmergencyStop     = "emergency_stop"
	EventEmergencyReset    = "emergency_reset"
	EventSnapshotCreated   = "snapshot_created"
	EventRollbackStarted   = "rollback_started"
	EventRollbackComplete  = "rollback_complete"
	EventRollbackFailed    = "rollback_failed"
	EventRecoveryAttempt   = "recovery_attempt"
	EventSecurityViolation = "security_violation"
)

// IntegrityMetadata carries the tamper-evidence chain fields for an
// audit event.
type IntegrityMetadata struct {
	Sequence  int64  `json:"sequence"`
	PrevHash  string `json:"prev_hash"`
	EntryHash string `json:"entry_hash"`
}

// AuditEvent is an immutable, durably persisted record of a
// control-plane decision or state transition. Append-only once
// written; deduplicated by EventID on read.
type AuditEvent struct {
	EventID       string             `json:"event_id"`
	Timestamp     time.Time          `json:"timestamp"`
	Type          string             `json:"type"`
	Severity      Severity           `json:"severity"`
	UserID        string             `json:"user_id,omitempty"`
	TokenID       string             `json:"token_id,omitempty"`
	ResourcePath  string             `json:"resource_path,omitempty"`
	Operation     string             `json:"operation,omitempty"`
	Details       map[string]any     `json:"details,omitempty"`
	Metadata      map[string]any     `json:"metadata,omitempty"`
	ParentEventID string             `json:"parent_event_id,omitempty"`
	Integrity     *IntegrityMetadata `json:"integrity,omitempty"`
}

// EventQuery filters a chronological scan of the audit trail.
type EventQuery struct {
	Since    *time.Time
	Until    *time.Time
	Types    []string
	UserID   string
	Severity Severity

	Limit  int
	Offset int
}

// Matches reports whether ev passes every filter in q. Limit and
// Offset are applied by the store, not here.
func (q EventQuery) Matches(ev AuditEvent) bool {
	if q.Since != nil && ev.Timestamp.Before(*q.Since) {
		return false
	}
	if q.Until != nil && ev.Timestamp.After(*q.Until) {
		return false
	}
	if len(q.Types) > 0 {
		found := false
		for _, t := range q.Types {
			if ev.Type == t {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if q.UserID != "" && ev.UserID != q.UserID {
		return false
	}
	if q.Severity != "" && ev.Severity != q.Severity {
		return false
	}
	return true
}
