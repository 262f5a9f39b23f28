package memory

import (
	"context"
	"sync"

	audit "evv/pkg/platform/audit"
)

// InMemoryStore keeps events per subject in append order. Like the
// PostgreSQL store, a repeated event ID is ignored. The zero value is ready
// to use.
type InMemoryStore struct {
	mu        sync.RWMutex
	bySubject map[string][]audit.Event
	seen      map[string]struct{}
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{}
}

func (s *InMemoryStore) Append(_ context.Context, event audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.bySubject == nil {
		s.bySubject = make(map[string][]audit.Event)
		s.seen = make(map[string]struct{})
	}
	if event.ID != "" {
		if _, dup := s.seen[event.ID]; dup {
			return nil
		}
		s.seen[event.ID] = struct{}{}
	}
	s.bySubject[event.Subject] = append(s.bySubject[event.Subject], event)
	return nil
}

// ListBySubject returns events for a subject, oldest first.
func (s *InMemoryStore) ListBySubject(_ context.Context, subject string) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Event{}, s.bySubject[subject]...), nil
}
