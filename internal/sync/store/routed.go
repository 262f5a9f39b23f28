package store

import (
	"context"

	"evv/internal/sync/models"
)

// Routed sends each record type to the store that owns it. Types without a
// route use the fallback.
type Routed struct {
	fallback DocumentStore
	routes   map[models.RecordType]DocumentStore
}

func NewRouted(fallback DocumentStore, routes map[models.RecordType]DocumentStore) *Routed {
	r := &Routed{fallback: fallback, routes: make(map[models.RecordType]DocumentStore, len(routes))}
	for t, s := range routes {
		if s != nil {
			r.routes[t] = s
		}
	}
	return r
}

func (r *Routed) For(recordType models.RecordType) DocumentStore {
	if s, ok := r.routes[recordType]; ok {
		return s
	}
	return r.fallback
}

func (r *Routed) Get(ctx context.Context, recordType models.RecordType, recordID string) (*models.Record, error) {
	return r.For(recordType).Get(ctx, recordType, recordID)
}

func (r *Routed) Create(ctx context.Context, record *models.Record) error {
	return r.For(record.Type).Create(ctx, record)
}

func (r *Routed) CompareAndSwap(ctx context.Context, record *models.Record, expectedVersion int64) error {
	return r.For(record.Type).CompareAndSwap(ctx, record, expectedVersion)
}
