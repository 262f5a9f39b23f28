// Package syncdocs serves EVV records to device sync. The sync document of a
// record is the record's JSON form, the same body GET /evv-records/{id}
// returns, so a device reconciles exactly what it fetched.
//
// Reads and writes go through the capture service: visibility follows the
// caller, and the only field sync may change is caregiver_notes. Records are
// never created by sync; they open at clock-in.
package syncdocs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"evv/internal/evv/compliance"
	evvmodels "evv/internal/evv/models"
	"evv/internal/sync/models"
	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/platform/sentinel"
)

const notesField = "caregiver_notes"

// ErrOpenedByClockIn is returned for device copies of records the server
// does not know.
var ErrOpenedByClockIn = fmt.Errorf("%w: evv records are opened by clock-in; replay the queued clock event", sentinel.ErrInvalidState)

// Capture is the part of the capture service the adapter drives.
type Capture interface {
	GetRecord(ctx context.Context, recordID id.RecordID) (*evvmodels.EVVRecord, error)
	UpdateCaregiverNotes(ctx context.Context, recordID id.RecordID, expectedVersion int64, notes string) (*evvmodels.EVVRecord, error)
	EvaluateCompliance(ctx context.Context, recordID id.RecordID) (*compliance.Result, error)
}

// Records implements the sync document store and compliance evaluator for
// the evv_record type.
type Records struct {
	capture Capture
}

func New(capture Capture) (*Records, error) {
	if capture == nil {
		return nil, errors.New("capture service is required")
	}
	return &Records{capture: capture}, nil
}

func (r *Records) Get(ctx context.Context, recordType models.RecordType, recordID string) (*models.Record, error) {
	if recordType != models.RecordTypeEVV {
		return nil, sentinel.ErrNotFound
	}
	rid, err := id.ParseRecordID(recordID)
	if err != nil {
		return nil, sentinel.ErrNotFound
	}
	rec, err := r.capture.GetRecord(ctx, rid)
	if err != nil {
		return nil, storeError(err)
	}
	return Document(rec)
}

func (r *Records) Create(context.Context, *models.Record) error {
	return ErrOpenedByClockIn
}

// CompareAndSwap writes the document's caregiver notes if the record is
// still at expectedVersion, then refreshes record from the stored copy. A
// document without notes leaves them as they are. Every other field keeps
// the server value.
func (r *Records) CompareAndSwap(ctx context.Context, record *models.Record, expectedVersion int64) error {
	rid, err := id.ParseRecordID(record.ID)
	if err != nil {
		return sentinel.ErrNotFound
	}

	var stored *evvmodels.EVVRecord
	if raw, ok := record.Fields[notesField]; ok && raw != nil {
		notes, isString := raw.(string)
		if !isString {
			return dErrors.New(dErrors.CodeValidation, "caregiver_notes must be a string")
		}
		stored, err = r.capture.UpdateCaregiverNotes(ctx, rid, expectedVersion, notes)
	} else {
		stored, err = r.capture.GetRecord(ctx, rid)
		if err == nil && stored.Version != expectedVersion {
			err = sentinel.ErrConflict
		}
	}
	if err != nil {
		return storeError(err)
	}

	doc, err := Document(stored)
	if err != nil {
		return err
	}
	*record = *doc
	return nil
}

// EvaluateSynced re-runs compliance for a record sync just wrote.
func (r *Records) EvaluateSynced(ctx context.Context, recordID string) (string, []string, error) {
	rid, err := id.ParseRecordID(recordID)
	if err != nil {
		return "", nil, dErrors.New(dErrors.CodeValidation, "invalid evv record id")
	}
	res, err := r.capture.EvaluateCompliance(ctx, rid)
	if err != nil {
		return "", nil, err
	}
	return string(res.ComplianceLevel), compliance.Strings(res.Flags), nil
}

// Document renders a record as a sync document. The document version is the
// record version and its modification time is the record's last update.
func Document(rec *evvmodels.EVVRecord) (*models.Record, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode evv record: %w", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("decode evv record: %w", err)
	}
	return &models.Record{
		Type:       models.RecordTypeEVV,
		ID:         rec.ID.String(),
		Version:    rec.Version,
		ModifiedAt: rec.UpdatedAt.UTC(),
		Fields:     fields,
	}, nil
}

// storeError reports hidden and missing records alike as absent.
func storeError(err error) error {
	if dErrors.HasCode(err, dErrors.CodeNotFound) {
		return sentinel.ErrNotFound
	}
	return err
}
