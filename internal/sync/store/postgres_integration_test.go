//go:build integration

package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"

	"evv/internal/platform/postgres"
	"evv/internal/sync/models"
	"evv/pkg/platform/sentinel"
	"evv/pkg/testutil/containers"
)

type PostgresSyncStoreSuite struct {
	suite.Suite
	ctx     context.Context
	pool    *pgxpool.Pool
	docs    *PostgresDocumentStore
	history *PostgresHistoryStore
}

func TestPostgresSyncStoreSuite(t *testing.T) {
	suite.Run(t, new(PostgresSyncStoreSuite))
}

func (s *PostgresSyncStoreSuite) SetupSuite() {
	s.ctx = context.Background()
	pg := containers.NewPostgresContainer(s.T())
	s.Require().NoError(postgres.Migrate(s.ctx, pg.DB))

	pool, err := postgres.OpenPool(s.ctx, pg.DSN)
	s.Require().NoError(err)
	s.T().Cleanup(pool.Close)
	s.pool = pool
	s.docs = NewPostgresDocumentStore(pool)
	s.history = NewPostgresHistoryStore(pool)
}

func (s *PostgresSyncStoreSuite) TestDocumentVersioning() {
	rec := &models.Record{
		Type:       models.RecordTypeEVV,
		ID:         "rec-pg-1",
		ModifiedAt: time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC),
		Fields: map[string]any{
			"clock_in_time":     "2026-03-02T14:02:00Z",
			"clock_in_latitude": 30.2672,
			"clock_out_location": map[string]any{
				"latitude":  30.2672,
				"longitude": -97.7431,
			},
		},
	}
	s.Require().NoError(s.docs.Create(s.ctx, rec))
	s.ErrorIs(s.docs.Create(s.ctx, rec.Clone()), sentinel.ErrAlreadyUsed)

	loaded, err := s.docs.Get(s.ctx, models.RecordTypeEVV, "rec-pg-1")
	s.Require().NoError(err)
	s.Equal(int64(1), loaded.Version)
	s.Equal(30.2672, loaded.Fields["clock_in_latitude"])
	s.True(rec.ModifiedAt.Equal(loaded.ModifiedAt))

	loaded.Fields["notes"] = "updated"
	s.Require().NoError(s.docs.CompareAndSwap(s.ctx, loaded, 1))
	s.Equal(int64(2), loaded.Version)
	s.ErrorIs(s.docs.CompareAndSwap(s.ctx, loaded, 1), sentinel.ErrConflict)

	missing := &models.Record{Type: models.RecordTypeTask, ID: "nope", Fields: map[string]any{}}
	s.ErrorIs(s.docs.CompareAndSwap(s.ctx, missing, 1), sentinel.ErrNotFound)

	_, err = s.docs.Get(s.ctx, models.RecordTypeTask, "nope")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresSyncStoreSuite) TestHistoryNewestFirst() {
	base := time.Date(2026, 3, 2, 16, 0, 0, 0, time.UTC)
	for i, outcome := range []models.Outcome{models.OutcomeCreated, models.OutcomeManualReview, models.OutcomeFailed} {
		s.Require().NoError(s.history.Append(s.ctx, models.HistoryEntry{
			ID:         "00000000-0000-0000-0000-00000000000" + string(rune('1'+i)),
			DeviceID:   "tablet-pg",
			RecordType: models.RecordTypeVisit,
			RecordID:   "visit-1",
			Outcome:    outcome,
			Attempts:   1,
			Detail:     map[string]any{"fields": []string{"notes"}},
			OccurredAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	entries, err := s.history.ListByDevice(s.ctx, "tablet-pg", 2)
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Equal(models.OutcomeFailed, entries[0].Outcome)
	s.Equal(models.OutcomeManualReview, entries[1].Outcome)
}
