// Package errdefs defines the typed error taxonomy of the control
// plane. Every error carries a machine-readable code, structured
// details, and an optional recovery hint.
package errdefs

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the closed set of error categories. Constraint violations
// (resource, operation, access) are fatal to the single proposed
// operation and are never retried automatically.
type Kind string

const (
	KindResource  Kind = "resource"
	KindOperation Kind = "operation"
	KindAccess    Kind = "access"
	KindRollback  Kind = "rollback"
	KindRecovery  Kind = "recovery"
	KindConfig    Kind = "config"
)

// Error is the concrete error type for all control-plane failures.
type Error struct {
	Kind         Kind
	Code         string
	Message      string
	Details      map[string]any
	RecoveryHint string
	Timestamp    time.Time

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithCause attaches an underlying error.
func (e *Error) WithCause(cause error) *Error {
	e.cause = cause
	return e
}

// WithHint attaches a recovery hint.
func (e *Error) WithHint(hint string) *Error {
	e.RecoveryHint = hint
	return e
}

func newError(kind Kind, code, message string, details map[string]any) *Error {
	if details == nil {
		details = map[string]any{}
	}
	return &Error{
		Kind:      kind,
		Code:      code,
		Message:   message,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
}

// Resource reports a resource constraint violation.
func Resource(message string, details map[string]any) *Error {
	return newError(KindResource, "RESOURCE_EXHAUSTED", message, details)
}

// Operation reports an operation constraint violation.
func Operation(message string, details map[string]any) *Error {
	return newError(KindOperation, "OPERATION_VIOLATION", message, details)
}

// Access reports an access constraint violation.
func Access(message string, details map[string]any) *Error {
	return newError(KindAccess, "ACCESS_VIOLATION", message, details)
}

// Rollback reports a snapshot restore failure. Path names the entry
// that could not be restored.
func Rollback(path, message string) *Error {
	return newError(KindRollback, "ROLLBACK_FAILED", message, map[string]any{"path": path})
}

// Recovery wraps a failed automatic-recovery attempt.
func Recovery(message string, cause error) *Error {
	e := newError(KindRecovery, "RECOVERY_FAILED", message, nil)
	e.cause = cause
	return e
}

// Config reports invalid configuration.
func Config(message string, details map[string]any) *Error {
	return newError(KindConfig, "CONFIG_ERROR", message, details)
}

// KindOf returns the Kind of err, or "" if err is not a control-plane
// error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsResource reports whether err is a resource constraint violation.
func IsResource(err error) bool { return KindOf(err) == KindResource }

// IsOperation reports whether err is an operation constraint violation.
func IsOperation(err error) bool { return KindOf(err) == KindOperation }

// IsAccess reports whether err is an access constraint violation.
func IsAccess(err error) bool { return KindOf(err) == KindAccess }

// IsRollback reports whether err is a snapshot restore failure.
func IsRollback(err error) bool { return KindOf(err) == KindRollback }

// RollbackPath returns the unrestorable path carried by a rollback
// error, or "".
func RollbackPath(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Kind == KindRollback {
		if p, ok := e.Details["path"].(string); ok {
			return p
		}
	}
	return ""
}
