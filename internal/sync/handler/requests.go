package handler

import (
	"strings"

	"evv/internal/sync/models"
	dErrors "evv/pkg/domain-errors"
)

const maxRecordsPerRequest = 500

// ReconcileRequest is a device's pending offline changes.
type ReconcileRequest struct {
	Records []*models.Record `json:"records"`
}

func (r *ReconcileRequest) Validate() error {
	if len(r.Records) == 0 {
		return dErrors.New(dErrors.CodeValidation, "records must not be empty")
	}
	if len(r.Records) > maxRecordsPerRequest {
		return dErrors.New(dErrors.CodeValidation, "too many records in one request")
	}
	for _, rec := range r.Records {
		if err := validateRecord(rec); err != nil {
			return err
		}
	}
	return nil
}

// PairRequest carries both copies of one record.
type PairRequest struct {
	Client *models.Record `json:"client"`
	Server *models.Record `json:"server"`
}

func (r *PairRequest) Validate() error {
	if r.Client == nil || r.Server == nil {
		return dErrors.New(dErrors.CodeValidation, "client and server are required")
	}
	if err := validateRecord(r.Client); err != nil {
		return err
	}
	return validateRecord(r.Server)
}

func validateRecord(rec *models.Record) error {
	if rec == nil {
		return dErrors.New(dErrors.CodeValidation, "record must not be null")
	}
	rec.ID = strings.TrimSpace(rec.ID)
	rec.Type = models.RecordType(strings.ToLower(strings.TrimSpace(string(rec.Type))))
	if rec.ID == "" || rec.Type == "" {
		return dErrors.New(dErrors.CodeValidation, "record type and id are required")
	}
	if rec.ModifiedAt.IsZero() {
		return dErrors.New(dErrors.CodeValidation, "record modified_at is required")
	}
	if rec.Fields == nil {
		rec.Fields = map[string]any{}
	}
	return nil
}
