// Package composite fans audit events out to multiple backends. The
// primary backend (JSONL segments) is the durable source of truth;
// secondary backends (sqlite index, exporters) receive best-effort
// copies. Queries go to the query backend when one is configured,
// falling back to the primary's segment scan.
package composite

import (
	"context"

	"github.com/agentgate/agentgate/internal/store"
	"github.com/agentgate/agentgate/pkg/types"
)

type Store struct {
	primary store.EventStore
	query   store.EventStore
	others  []store.EventStore
}

// New builds a composite store. query may be nil, in which case the
// primary serves queries. others receive appends only.
func New(primary, query store.EventStore, others ...store.EventStore) *Store {
	return &Store{primary: primary, query: query, others: others}
}

func (s *Store) AppendEvent(ctx context.Context, ev types.AuditEvent) error {
	var firstErr error
	if err := s.primary.AppendEvent(ctx, ev); err != nil {
		firstErr = err
	}
	if s.query != nil {
		if err := s.query.AppendEvent(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, o := range s.others {
		if err := o.AppendEvent(ctx, ev); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (s *Store) QueryEvents(ctx context.Context, q types.EventQuery) ([]types.AuditEvent, error) {
	if s.query != nil {
		return s.query.QueryEvents(ctx, q)
	}
	return s.primary.QueryEvents(ctx, q)
}

func (s *Store) Close() error {
	var firstErr error
	if err := s.primary.Close(); err != nil {
		firstErr = err
	}
	if s.query != nil {
		if err := s.query.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	for _, o := range s.others {
		if err := o.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
