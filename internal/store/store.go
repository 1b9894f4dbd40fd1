// Package store defines the audit event persistence abstraction.
// Backends are append-only; events are deduplicated by event_id on
// read.
package store

import (
	"context"

	"github.com/agentgate/agentgate/pkg/types"
)

type EventStore interface {
	AppendEvent(ctx context.Context, ev types.AuditEvent) error
	QueryEvents(ctx context.Context, q types.EventQuery) ([]types.AuditEvent, error)
	Close() error
}
