package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"evv/internal/sync/models"
	"evv/pkg/platform/sentinel"
)

func TestMemoryDocumentStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryDocumentStore()
	rec := &models.Record{
		Type:       models.RecordTypeVisit,
		ID:         "visit-1",
		Version:    9,
		ModifiedAt: time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC),
		Fields:     map[string]any{"notes": "arrived"},
	}

	_, err := s.Get(ctx, models.RecordTypeVisit, "visit-1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)

	require.NoError(t, s.Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Version)
	assert.ErrorIs(t, s.Create(ctx, rec), sentinel.ErrAlreadyUsed)

	loaded, err := s.Get(ctx, models.RecordTypeVisit, "visit-1")
	require.NoError(t, err)
	loaded.Fields["notes"] = "mutated"
	again, err := s.Get(ctx, models.RecordTypeVisit, "visit-1")
	require.NoError(t, err)
	assert.Equal(t, "arrived", again.Fields["notes"], "callers get copies")

	_, err = s.Get(ctx, models.RecordTypeTask, "visit-1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound, "type is part of the key")

	require.NoError(t, s.CompareAndSwap(ctx, loaded, 1))
	assert.Equal(t, int64(2), loaded.Version)
	assert.ErrorIs(t, s.CompareAndSwap(ctx, loaded, 1), sentinel.ErrConflict)

	missing := &models.Record{Type: models.RecordTypeTask, ID: "task-1"}
	assert.ErrorIs(t, s.CompareAndSwap(ctx, missing, 1), sentinel.ErrNotFound)
}

func TestMemoryHistoryStore(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryHistoryStore()
	for i, device := range []string{"tablet-7", "phone-2", "tablet-7", "tablet-7"} {
		require.NoError(t, s.Append(ctx, models.HistoryEntry{
			ID:       string(rune('a' + i)),
			DeviceID: device,
			Outcome:  models.OutcomeApplied,
		}))
	}

	all, err := s.ListByDevice(ctx, "tablet-7", 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "d", all[0].ID, "newest first")

	limited, err := s.ListByDevice(ctx, "tablet-7", 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := s.ListByDevice(ctx, "unknown", 5)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestRoutedDocumentStore(t *testing.T) {
	ctx := context.Background()
	fallback := NewMemoryDocumentStore()
	visits := NewMemoryDocumentStore()
	s := NewRouted(fallback, map[models.RecordType]DocumentStore{
		models.RecordTypeVisit: visits,
		models.RecordTypeTask:  nil,
	})

	visit := &models.Record{Type: models.RecordTypeVisit, ID: "visit-1", Fields: map[string]any{}}
	task := &models.Record{Type: models.RecordTypeTask, ID: "task-1", Fields: map[string]any{}}
	require.NoError(t, s.Create(ctx, visit))
	require.NoError(t, s.Create(ctx, task))

	_, err := visits.Get(ctx, models.RecordTypeVisit, "visit-1")
	assert.NoError(t, err)
	_, err = fallback.Get(ctx, models.RecordTypeVisit, "visit-1")
	assert.ErrorIs(t, err, sentinel.ErrNotFound)
	_, err = fallback.Get(ctx, models.RecordTypeTask, "task-1")
	assert.NoError(t, err, "a nil route falls back")

	require.NoError(t, s.CompareAndSwap(ctx, visit, 1))
	loaded, err := s.Get(ctx, models.RecordTypeVisit, "visit-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version)
}
