package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"evv/internal/evv/models"
	id "evv/pkg/domain"
	"evv/pkg/platform/sentinel"
	txcontext "evv/pkg/platform/tx"
)

const uniqueViolation = "23505"

func execer(ctx context.Context, db *sql.DB) txcontext.Executor {
	return txcontext.Exec(ctx, db)
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// PostgresRecordStore keeps the full record as a JSONB document next to the
// columns used for lookups and version checks.
type PostgresRecordStore struct {
	db *sql.DB
}

func NewPostgresRecordStore(db *sql.DB) *PostgresRecordStore {
	return &PostgresRecordStore{db: db}
}

func (s *PostgresRecordStore) Create(ctx context.Context, record *models.EVVRecord) error {
	if record.Version == 0 {
		record.Version = 1
	}
	doc, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal evv record: %w", err)
	}
	query := `
		INSERT INTO evv_records (id, visit_id, version, record_status, recorded_at, updated_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = execer(ctx, s.db).ExecContext(ctx, query,
		record.ID.String(),
		record.VisitID.String(),
		record.Version,
		string(record.RecordStatus),
		record.RecordedAt,
		record.UpdatedAt,
		doc,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert evv record: %w", err)
	}
	return nil
}

func (s *PostgresRecordStore) FindByID(ctx context.Context, recordID id.RecordID) (*models.EVVRecord, error) {
	return s.findOne(ctx, `SELECT version, document FROM evv_records WHERE id = $1`, recordID.String())
}

func (s *PostgresRecordStore) FindByVisitID(ctx context.Context, visitID id.VisitID) (*models.EVVRecord, error) {
	return s.findOne(ctx, `SELECT version, document FROM evv_records WHERE visit_id = $1`, visitID.String())
}

func (s *PostgresRecordStore) findOne(ctx context.Context, query string, arg string) (*models.EVVRecord, error) {
	var (
		version int64
		doc     []byte
	)
	err := execer(ctx, s.db).QueryRowContext(ctx, query, arg).Scan(&version, &doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find evv record: %w", err)
	}
	var record models.EVVRecord
	if err := json.Unmarshal(doc, &record); err != nil {
		return nil, fmt.Errorf("decode evv record: %w", err)
	}
	record.Version = version
	return &record, nil
}

func (s *PostgresRecordStore) Update(ctx context.Context, record *models.EVVRecord) error {
	expected := record.Version
	next := *record
	next.Version = expected + 1
	doc, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal evv record: %w", err)
	}
	query := `
		UPDATE evv_records
		SET version = version + 1, record_status = $3, updated_at = $4, document = $5
		WHERE id = $1 AND version = $2
	`
	res, err := execer(ctx, s.db).ExecContext(ctx, query,
		record.ID.String(),
		expected,
		string(record.RecordStatus),
		record.UpdatedAt,
		doc,
	)
	if err != nil {
		return fmt.Errorf("update evv record: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update evv record rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.FindByID(ctx, record.ID); err != nil {
			return err
		}
		return sentinel.ErrConflict
	}
	record.Version = next.Version
	return nil
}

// PostgresTimeEntryStore is the append-only clock event log.
type PostgresTimeEntryStore struct {
	db *sql.DB
}

func NewPostgresTimeEntryStore(db *sql.DB) *PostgresTimeEntryStore {
	return &PostgresTimeEntryStore{db: db}
}

func (s *PostgresTimeEntryStore) Append(ctx context.Context, entry *models.TimeEntry) error {
	doc, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal time entry: %w", err)
	}
	var recordID *string
	if !entry.RecordID.IsNil() {
		rid := entry.RecordID.String()
		recordID = &rid
	}
	query := `
		INSERT INTO evv_time_entries (id, visit_id, record_id, entry_type, status, recorded_at, document)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = execer(ctx, s.db).ExecContext(ctx, query,
		entry.ID.String(),
		entry.VisitID.String(),
		recordID,
		string(entry.EntryType),
		string(entry.Status),
		entry.RecordedAt,
		doc,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return sentinel.ErrAlreadyUsed
		}
		return fmt.Errorf("insert time entry: %w", err)
	}
	return nil
}

func (s *PostgresTimeEntryStore) FindByID(ctx context.Context, entryID id.TimeEntryID) (*models.TimeEntry, error) {
	var doc []byte
	err := execer(ctx, s.db).QueryRowContext(ctx, `SELECT document FROM evv_time_entries WHERE id = $1`, entryID.String()).Scan(&doc)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find time entry: %w", err)
	}
	var entry models.TimeEntry
	if err := json.Unmarshal(doc, &entry); err != nil {
		return nil, fmt.Errorf("decode time entry: %w", err)
	}
	return &entry, nil
}

func (s *PostgresTimeEntryStore) ListByVisit(ctx context.Context, visitID id.VisitID) ([]*models.TimeEntry, error) {
	return s.list(ctx, `SELECT document FROM evv_time_entries WHERE visit_id = $1 ORDER BY recorded_at ASC, id ASC`, visitID.String())
}

func (s *PostgresTimeEntryStore) ListByRecord(ctx context.Context, recordID id.RecordID) ([]*models.TimeEntry, error) {
	return s.list(ctx, `SELECT document FROM evv_time_entries WHERE record_id = $1 ORDER BY recorded_at ASC, id ASC`, recordID.String())
}

func (s *PostgresTimeEntryStore) list(ctx context.Context, query string, arg string) ([]*models.TimeEntry, error) {
	rows, err := execer(ctx, s.db).QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("list time entries: %w", err)
	}
	defer rows.Close()

	var entries []*models.TimeEntry
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan time entry: %w", err)
		}
		var entry models.TimeEntry
		if err := json.Unmarshal(doc, &entry); err != nil {
			return nil, fmt.Errorf("decode time entry: %w", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate time entries: %w", err)
	}
	return entries, nil
}

func (s *PostgresTimeEntryStore) LinkRecord(ctx context.Context, entryID id.TimeEntryID, recordID id.RecordID) error {
	query := `
		UPDATE evv_time_entries
		SET record_id = $2, document = jsonb_set(document, '{record_id}', to_jsonb($3::text))
		WHERE id = $1 AND (record_id IS NULL OR record_id = $2)
	`
	res, err := execer(ctx, s.db).ExecContext(ctx, query, entryID.String(), recordID.String(), recordID.String())
	if err != nil {
		return fmt.Errorf("link time entry: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("link time entry rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.FindByID(ctx, entryID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

// SaveOverride only touches status, verification and override so the
// captured location and device stay as recorded.
func (s *PostgresTimeEntryStore) SaveOverride(ctx context.Context, entry *models.TimeEntry) error {
	override, err := json.Marshal(entry.Override)
	if err != nil {
		return fmt.Errorf("marshal override: %w", err)
	}
	verification, err := json.Marshal(entry.Verification)
	if err != nil {
		return fmt.Errorf("marshal verification: %w", err)
	}
	query := `
		UPDATE evv_time_entries
		SET status = $2,
			document = jsonb_set(jsonb_set(jsonb_set(document,
				'{status}', to_jsonb($2::text)),
				'{override}', $3::jsonb),
				'{verification}', $4::jsonb)
		WHERE id = $1 AND status <> 'OVERRIDDEN'
	`
	res, err := execer(ctx, s.db).ExecContext(ctx, query, entry.ID.String(), string(entry.Status), override, verification)
	if err != nil {
		return fmt.Errorf("save override: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save override rows affected: %w", err)
	}
	if rows == 0 {
		if _, err := s.FindByID(ctx, entry.ID); err != nil {
			return err
		}
		return sentinel.ErrInvalidState
	}
	return nil
}

// PostgresGeofenceStore applies counter updates with a single UPDATE so
// concurrent clock-ins at one address never lose increments.
type PostgresGeofenceStore struct {
	db *sql.DB
}

func NewPostgresGeofenceStore(db *sql.DB) *PostgresGeofenceStore {
	return &PostgresGeofenceStore{db: db}
}

const geofenceColumns = `id, address_key, center_latitude, center_longitude, radius_meters, shape,
	allowed_variance_meters, verification_count, successful_verifications, failed_verifications,
	average_accuracy, status, created_at, updated_at`

func scanGeofence(row interface{ Scan(...any) error }) (*models.Geofence, error) {
	var (
		g       models.Geofence
		rawID   string
		shape   string
		status  string
		created time.Time
		updated time.Time
	)
	err := row.Scan(&rawID, &g.AddressKey, &g.CenterLatitude, &g.CenterLongitude, &g.RadiusMeters, &shape,
		&g.AllowedVarianceMeters, &g.VerificationCount, &g.SuccessfulVerifications, &g.FailedVerifications,
		&g.AverageAccuracy, &status, &created, &updated)
	if err != nil {
		return nil, err
	}
	geofenceID, err := id.ParseGeofenceID(rawID)
	if err != nil {
		return nil, fmt.Errorf("parse geofence id: %w", err)
	}
	g.ID = geofenceID
	g.Shape = models.GeofenceShape(shape)
	g.Status = models.GeofenceStatus(status)
	g.CreatedAt = created.UTC()
	g.UpdatedAt = updated.UTC()
	return &g, nil
}

func (s *PostgresGeofenceStore) FindByID(ctx context.Context, geofenceID id.GeofenceID) (*models.Geofence, error) {
	return s.findOne(ctx, `SELECT `+geofenceColumns+` FROM evv_geofences WHERE id = $1`, geofenceID.String())
}

func (s *PostgresGeofenceStore) FindByAddressKey(ctx context.Context, addressKey string) (*models.Geofence, error) {
	return s.findOne(ctx, `SELECT `+geofenceColumns+` FROM evv_geofences WHERE address_key = $1`, addressKey)
}

func (s *PostgresGeofenceStore) findOne(ctx context.Context, query, arg string) (*models.Geofence, error) {
	g, err := scanGeofence(execer(ctx, s.db).QueryRowContext(ctx, query, arg))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find geofence: %w", err)
	}
	return g, nil
}

func (s *PostgresGeofenceStore) Create(ctx context.Context, g *models.Geofence) error {
	query := `INSERT INTO evv_geofences (` + geofenceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (address_key) DO NOTHING`
	// ON CONFLICT keeps the surrounding transaction usable for the re-read.
	res, err := execer(ctx, s.db).ExecContext(ctx, query,
		g.ID.String(), g.AddressKey, g.CenterLatitude, g.CenterLongitude, g.RadiusMeters, string(g.Shape),
		g.AllowedVarianceMeters, g.VerificationCount, g.SuccessfulVerifications, g.FailedVerifications,
		g.AverageAccuracy, string(g.Status), g.CreatedAt, g.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert geofence: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert geofence: %w", err)
	}
	if n == 0 {
		return sentinel.ErrAlreadyUsed
	}
	return nil
}

func (s *PostgresGeofenceStore) RecordVerification(ctx context.Context, geofenceID id.GeofenceID, delta models.VerificationDelta, now time.Time) (*models.Geofence, error) {
	query := `
		UPDATE evv_geofences SET
			average_accuracy = (average_accuracy * verification_count + GREATEST($2::double precision, 0)) / (verification_count + 1),
			verification_count = verification_count + 1,
			successful_verifications = successful_verifications + CASE WHEN $3 THEN 1 ELSE 0 END,
			failed_verifications = failed_verifications + CASE WHEN $3 THEN 0 ELSE 1 END,
			updated_at = $4
		WHERE id = $1
		RETURNING ` + geofenceColumns
	g, err := scanGeofence(execer(ctx, s.db).QueryRowContext(ctx, query, geofenceID.String(), delta.AccuracyMeters, delta.Passed, now))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("record geofence verification: %w", err)
	}
	return g, nil
}

// PostgresTx runs fn in a SQL transaction holding a transaction-scoped
// advisory lock on the key.
type PostgresTx struct {
	db     *sql.DB
	stores Stores
}

// NewPostgresStores builds the SQL-backed stores and their runner.
func NewPostgresStores(db *sql.DB) (Stores, *PostgresTx) {
	stores := Stores{
		Records:   NewPostgresRecordStore(db),
		Entries:   NewPostgresTimeEntryStore(db),
		Geofences: NewPostgresGeofenceStore(db),
	}
	return stores, &PostgresTx{db: db, stores: stores}
}

func (t *PostgresTx) RunInTx(ctx context.Context, key string, fn func(ctx context.Context, stores Stores) error) error {
	return txcontext.RunLocked(ctx, t.db, key, func(ctx context.Context) error {
		return fn(ctx, t.stores)
	})
}
