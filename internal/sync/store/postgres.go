package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"evv/internal/sync/models"
	"evv/pkg/platform/sentinel"
)

// DB is the subset of *pgxpool.Pool the stores use.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDocumentStore keeps documents in sync_documents as JSONB.
type PostgresDocumentStore struct {
	db DB
}

func NewPostgresDocumentStore(db DB) *PostgresDocumentStore {
	return &PostgresDocumentStore{db: db}
}

func (s *PostgresDocumentStore) Get(ctx context.Context, recordType models.RecordType, recordID string) (*models.Record, error) {
	rec := &models.Record{Type: recordType, ID: recordID}
	var raw []byte
	err := s.db.QueryRow(ctx, `
		SELECT version, modified_at, fields
		FROM sync_documents
		WHERE record_type = $1 AND record_id = $2
	`, string(recordType), recordID).Scan(&rec.Version, &rec.ModifiedAt, &raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get sync document: %w", err)
	}
	if err := json.Unmarshal(raw, &rec.Fields); err != nil {
		return nil, fmt.Errorf("decode sync document fields: %w", err)
	}
	rec.ModifiedAt = rec.ModifiedAt.UTC()
	return rec, nil
}

func (s *PostgresDocumentStore) Create(ctx context.Context, record *models.Record) error {
	raw, err := marshalFields(record.Fields)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		INSERT INTO sync_documents (record_type, record_id, version, modified_at, fields)
		VALUES ($1, $2, 1, $3, $4)
		ON CONFLICT (record_type, record_id) DO NOTHING
	`, string(record.Type), record.ID, record.ModifiedAt.UTC(), raw)
	if err != nil {
		return fmt.Errorf("create sync document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return sentinel.ErrAlreadyUsed
	}
	record.Version = 1
	return nil
}

func (s *PostgresDocumentStore) CompareAndSwap(ctx context.Context, record *models.Record, expectedVersion int64) error {
	raw, err := marshalFields(record.Fields)
	if err != nil {
		return err
	}
	tag, err := s.db.Exec(ctx, `
		UPDATE sync_documents
		SET version = version + 1, modified_at = $4, fields = $5
		WHERE record_type = $1 AND record_id = $2 AND version = $3
	`, string(record.Type), record.ID, expectedVersion, record.ModifiedAt.UTC(), raw)
	if err != nil {
		return fmt.Errorf("update sync document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := s.db.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM sync_documents WHERE record_type = $1 AND record_id = $2)
		`, string(record.Type), record.ID).Scan(&exists); err != nil {
			return fmt.Errorf("check sync document: %w", err)
		}
		if !exists {
			return sentinel.ErrNotFound
		}
		return sentinel.ErrConflict
	}
	record.Version = expectedVersion + 1
	return nil
}

func marshalFields(fields map[string]any) ([]byte, error) {
	if fields == nil {
		fields = map[string]any{}
	}
	raw, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("encode sync document fields: %w", err)
	}
	return raw, nil
}

// PostgresHistoryStore appends to sync_history.
type PostgresHistoryStore struct {
	db DB
}

func NewPostgresHistoryStore(db DB) *PostgresHistoryStore {
	return &PostgresHistoryStore{db: db}
}

func (s *PostgresHistoryStore) Append(ctx context.Context, entry models.HistoryEntry) error {
	detail := entry.Detail
	if detail == nil {
		detail = map[string]any{}
	}
	raw, err := json.Marshal(detail)
	if err != nil {
		return fmt.Errorf("encode sync history detail: %w", err)
	}
	_, err = s.db.Exec(ctx, `
		INSERT INTO sync_history (id, device_id, record_type, record_id, outcome, strategy, attempts, detail, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, entry.ID, entry.DeviceID, string(entry.RecordType), entry.RecordID, string(entry.Outcome),
		entry.Strategy, entry.Attempts, raw, entry.OccurredAt.UTC())
	if err != nil {
		return fmt.Errorf("append sync history: %w", err)
	}
	return nil
}

func (s *PostgresHistoryStore) ListByDevice(ctx context.Context, deviceID string, limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id::text, device_id, record_type, record_id, outcome, strategy, attempts, detail, occurred_at
		FROM sync_history
		WHERE device_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, deviceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync history: %w", err)
	}
	defer rows.Close()

	out := []models.HistoryEntry{}
	for rows.Next() {
		var (
			e          models.HistoryEntry
			recordType string
			outcome    string
			raw        []byte
		)
		if err := rows.Scan(&e.ID, &e.DeviceID, &recordType, &e.RecordID, &outcome, &e.Strategy, &e.Attempts, &raw, &e.OccurredAt); err != nil {
			return nil, fmt.Errorf("scan sync history: %w", err)
		}
		e.RecordType = models.RecordType(recordType)
		e.Outcome = models.Outcome(outcome)
		e.OccurredAt = e.OccurredAt.UTC()
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &e.Detail); err != nil {
				return nil, fmt.Errorf("decode sync history detail: %w", err)
			}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
