package handler

import (
	"evv/internal/evv/compliance"
	"evv/internal/evv/geofence"
	"evv/internal/evv/models"
	"evv/internal/evv/service"
)

// RecordResponse is an EVV record plus the result of re-checking its digests.
type RecordResponse struct {
	*models.EVVRecord
	IntegrityVerified bool `json:"integrity_verified"`
}

func toRecordResponse(r *models.EVVRecord) RecordResponse {
	return RecordResponse{EVVRecord: r, IntegrityVerified: models.VerifyIntegrity(r)}
}

// ClockResponse is returned by clock-in and clock-out.
type ClockResponse struct {
	Record       RecordResponse    `json:"evv_record"`
	TimeEntry    *models.TimeEntry `json:"time_entry"`
	Verification geofence.Result   `json:"verification"`
}

func toClockResponse(res *service.ClockResult) *ClockResponse {
	return &ClockResponse{
		Record:       toRecordResponse(res.Record),
		TimeEntry:    res.Entry,
		Verification: res.Verification,
	}
}

// TimeEntriesResponse lists a record's clock events.
type TimeEntriesResponse struct {
	TimeEntries []*models.TimeEntry `json:"time_entries"`
}

// SubmitResponse is returned by aggregator submission.
type SubmitResponse struct {
	Record     RecordResponse     `json:"evv_record"`
	Compliance *compliance.Result `json:"compliance"`
}
