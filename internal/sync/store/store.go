// Package store persists synced documents and the per-device sync history.
package store

import (
	"context"

	"evv/internal/sync/models"
)

// DocumentStore holds the server copy of every synced record.
type DocumentStore interface {
	Get(ctx context.Context, recordType models.RecordType, recordID string) (*models.Record, error)
	// Create inserts the first server copy at version 1. Returns
	// sentinel.ErrAlreadyUsed when a copy already exists.
	Create(ctx context.Context, record *models.Record) error
	// CompareAndSwap replaces the server copy only if its version still equals
	// expectedVersion, then sets record.Version to expectedVersion+1. Returns
	// sentinel.ErrConflict when another writer got there first.
	CompareAndSwap(ctx context.Context, record *models.Record, expectedVersion int64) error
}

// HistoryStore is the append-only log of reconciliation outcomes.
type HistoryStore interface {
	Append(ctx context.Context, entry models.HistoryEntry) error
	// ListByDevice returns the device's most recent entries, newest first.
	ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.HistoryEntry, error)
}
