package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"evv/internal/evv/models"
	id "evv/pkg/domain"
	"evv/pkg/platform/sentinel"
)

// MemoryRecordStore keeps records in memory, unique by visit.
type MemoryRecordStore struct {
	mu      sync.RWMutex
	records map[id.RecordID]*models.EVVRecord
	byVisit map[id.VisitID]id.RecordID
}

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{
		records: make(map[id.RecordID]*models.EVVRecord),
		byVisit: make(map[id.VisitID]id.RecordID),
	}
}

func (s *MemoryRecordStore) Create(_ context.Context, record *models.EVVRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byVisit[record.VisitID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if _, exists := s.records[record.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	if record.Version == 0 {
		record.Version = 1
	}
	s.records[record.ID] = record.Clone()
	s.byVisit[record.VisitID] = record.ID
	return nil
}

func (s *MemoryRecordStore) FindByID(_ context.Context, recordID id.RecordID) (*models.EVVRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.records[recordID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryRecordStore) FindByVisitID(_ context.Context, visitID id.VisitID) (*models.EVVRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	recordID, ok := s.byVisit[visitID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return s.records[recordID].Clone(), nil
}

func (s *MemoryRecordStore) Update(_ context.Context, record *models.EVVRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.records[record.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != record.Version {
		return sentinel.ErrConflict
	}
	record.Version++
	s.records[record.ID] = record.Clone()
	return nil
}

func (s *MemoryRecordStore) remove(recordID id.RecordID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.records[recordID]; ok {
		delete(s.byVisit, r.VisitID)
		delete(s.records, recordID)
	}
}

func (s *MemoryRecordStore) restore(record *models.EVVRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.ID] = record.Clone()
	s.byVisit[record.VisitID] = record.ID
}

// MemoryTimeEntryStore is an in-memory append-only entry log.
type MemoryTimeEntryStore struct {
	mu      sync.RWMutex
	entries map[id.TimeEntryID]*models.TimeEntry
	byVisit map[id.VisitID][]id.TimeEntryID
}

func NewMemoryTimeEntryStore() *MemoryTimeEntryStore {
	return &MemoryTimeEntryStore{
		entries: make(map[id.TimeEntryID]*models.TimeEntry),
		byVisit: make(map[id.VisitID][]id.TimeEntryID),
	}
}

func (s *MemoryTimeEntryStore) Append(_ context.Context, entry *models.TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.entries[entry.ID]; exists {
		return sentinel.ErrAlreadyUsed
	}
	s.entries[entry.ID] = entry.Clone()
	s.byVisit[entry.VisitID] = append(s.byVisit[entry.VisitID], entry.ID)
	return nil
}

func (s *MemoryTimeEntryStore) FindByID(_ context.Context, entryID id.TimeEntryID) (*models.TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[entryID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return e.Clone(), nil
}

func (s *MemoryTimeEntryStore) ListByVisit(_ context.Context, visitID id.VisitID) ([]*models.TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*models.TimeEntry, 0, len(s.byVisit[visitID]))
	for _, entryID := range s.byVisit[visitID] {
		out = append(out, s.entries[entryID].Clone())
	}
	return out, nil
}

func (s *MemoryTimeEntryStore) ListByRecord(_ context.Context, recordID id.RecordID) ([]*models.TimeEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.TimeEntry
	for _, e := range s.entries {
		if e.RecordID == recordID {
			out = append(out, e.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].RecordedAt.Before(out[j].RecordedAt)
	})
	return out, nil
}

func (s *MemoryTimeEntryStore) LinkRecord(_ context.Context, entryID id.TimeEntryID, recordID id.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if !e.RecordID.IsNil() && e.RecordID != recordID {
		return sentinel.ErrInvalidState
	}
	e.RecordID = recordID
	return nil
}

func (s *MemoryTimeEntryStore) SaveOverride(_ context.Context, entry *models.TimeEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entry.ID]
	if !ok {
		return sentinel.ErrNotFound
	}
	if e.Status == models.EntryOverridden {
		return sentinel.ErrInvalidState
	}
	updated := e.Clone()
	updated.Status = entry.Status
	updated.Verification = entry.Verification
	if entry.Override != nil {
		o := *entry.Override
		updated.Override = &o
	}
	s.entries[entry.ID] = updated
	return nil
}

func (s *MemoryTimeEntryStore) remove(entryID id.TimeEntryID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[entryID]
	if !ok {
		return
	}
	delete(s.entries, entryID)
	ids := s.byVisit[e.VisitID]
	for i, v := range ids {
		if v == entryID {
			s.byVisit[e.VisitID] = append(ids[:i:i], ids[i+1:]...)
			break
		}
	}
}

func (s *MemoryTimeEntryStore) restore(entry *models.TimeEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[entry.ID] = entry.Clone()
}

// MemoryGeofenceStore holds geofences keyed by id and address.
type MemoryGeofenceStore struct {
	mu        sync.Mutex
	geofences map[id.GeofenceID]*models.Geofence
	byAddress map[string]id.GeofenceID
}

func NewMemoryGeofenceStore() *MemoryGeofenceStore {
	return &MemoryGeofenceStore{
		geofences: make(map[id.GeofenceID]*models.Geofence),
		byAddress: make(map[string]id.GeofenceID),
	}
}

func (s *MemoryGeofenceStore) FindByID(_ context.Context, geofenceID id.GeofenceID) (*models.Geofence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.geofences[geofenceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *g
	return &c, nil
}

func (s *MemoryGeofenceStore) FindByAddressKey(_ context.Context, addressKey string) (*models.Geofence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	geofenceID, ok := s.byAddress[addressKey]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	c := *s.geofences[geofenceID]
	return &c, nil
}

func (s *MemoryGeofenceStore) Create(_ context.Context, geofence *models.Geofence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byAddress[geofence.AddressKey]; exists {
		return sentinel.ErrAlreadyUsed
	}
	c := *geofence
	s.geofences[geofence.ID] = &c
	s.byAddress[geofence.AddressKey] = geofence.ID
	return nil
}

func (s *MemoryGeofenceStore) RecordVerification(_ context.Context, geofenceID id.GeofenceID, delta models.VerificationDelta, now time.Time) (*models.Geofence, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.geofences[geofenceID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	g.ApplyVerification(delta, now)
	c := *g
	return &c, nil
}
