package store

import (
	"context"
	"sync"

	"evv/internal/sync/models"
	"evv/pkg/platform/sentinel"
)

type docKey struct {
	recordType models.RecordType
	recordID   string
}

type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[docKey]*models.Record
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[docKey]*models.Record)}
}

func (s *MemoryDocumentStore) Get(_ context.Context, recordType models.RecordType, recordID string) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[docKey{recordType, recordID}]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryDocumentStore) Create(_ context.Context, record *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey{record.Type, record.ID}
	if _, ok := s.docs[key]; ok {
		return sentinel.ErrAlreadyUsed
	}
	record.Version = 1
	s.docs[key] = record.Clone()
	return nil
}

func (s *MemoryDocumentStore) CompareAndSwap(_ context.Context, record *models.Record, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := docKey{record.Type, record.ID}
	current, ok := s.docs[key]
	if !ok {
		return sentinel.ErrNotFound
	}
	if current.Version != expectedVersion {
		return sentinel.ErrConflict
	}
	record.Version = expectedVersion + 1
	s.docs[key] = record.Clone()
	return nil
}

type MemoryHistoryStore struct {
	mu      sync.RWMutex
	entries []models.HistoryEntry
}

func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{}
}

func (s *MemoryHistoryStore) Append(_ context.Context, entry models.HistoryEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, entry)
	return nil
}

func (s *MemoryHistoryStore) ListByDevice(_ context.Context, deviceID string, limit int) ([]models.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.HistoryEntry{}
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].DeviceID != deviceID {
			continue
		}
		out = append(out, s.entries[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}
