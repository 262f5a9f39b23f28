// Package store persists EVV records, time entries and geofences.
//
// Stores are pure I/O. Lifecycle rules live in the models and the capture
// service; stores only enforce the uniqueness and version conditions that
// make concurrent writers safe.
package store

import (
	"context"
	"time"

	"evv/internal/evv/models"
	id "evv/pkg/domain"
)

// RecordStore persists EVV records.
type RecordStore interface {
	// Create inserts a new record. Returns sentinel.ErrAlreadyUsed when the
	// visit already has a record.
	Create(ctx context.Context, record *models.EVVRecord) error
	FindByID(ctx context.Context, recordID id.RecordID) (*models.EVVRecord, error)
	FindByVisitID(ctx context.Context, visitID id.VisitID) (*models.EVVRecord, error)
	// Update writes record if the stored version still equals record.Version,
	// then increments record.Version. Returns sentinel.ErrConflict otherwise.
	Update(ctx context.Context, record *models.EVVRecord) error
}

// TimeEntryStore is an append-only log of clock events.
type TimeEntryStore interface {
	Append(ctx context.Context, entry *models.TimeEntry) error
	FindByID(ctx context.Context, entryID id.TimeEntryID) (*models.TimeEntry, error)
	ListByVisit(ctx context.Context, visitID id.VisitID) ([]*models.TimeEntry, error)
	ListByRecord(ctx context.Context, recordID id.RecordID) ([]*models.TimeEntry, error)
	// LinkRecord sets the parent record once. Returns sentinel.ErrInvalidState
	// when the entry is already linked to a different record.
	LinkRecord(ctx context.Context, entryID id.TimeEntryID, recordID id.RecordID) error
	// SaveOverride persists the override marker and status. Captured fields
	// are never rewritten.
	SaveOverride(ctx context.Context, entry *models.TimeEntry) error
}

// GeofenceStore persists verification boundaries keyed by address.
type GeofenceStore interface {
	FindByID(ctx context.Context, geofenceID id.GeofenceID) (*models.Geofence, error)
	FindByAddressKey(ctx context.Context, addressKey string) (*models.Geofence, error)
	// Create returns sentinel.ErrAlreadyUsed when another writer created a
	// geofence for the same address first.
	Create(ctx context.Context, geofence *models.Geofence) error
	// RecordVerification applies a counter delta atomically and returns the
	// updated geofence.
	RecordVerification(ctx context.Context, geofenceID id.GeofenceID, delta models.VerificationDelta, now time.Time) (*models.Geofence, error)
}

// Stores groups the stores handed to a transaction.
type Stores struct {
	Records   RecordStore
	Entries   TimeEntryStore
	Geofences GeofenceStore
}

// TxRunner serializes work for one key (a visit ID) without blocking
// unrelated visits.
type TxRunner interface {
	RunInTx(ctx context.Context, key string, fn func(ctx context.Context, stores Stores) error) error
}
