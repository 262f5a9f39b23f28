package service

import (
	"math"
	"strings"
	"time"

	"evv/internal/evv/geofence"
	"evv/internal/evv/models"
	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/requestcontext"
)

type ClockInRequest struct {
	VisitID  id.VisitID
	Location models.LocationSample
}

type ClockOutRequest struct {
	VisitID     id.VisitID
	Location    models.LocationSample
	Attestation *AttestationInput
}

// AttestationInput is the client's signature captured on the device. Only
// its digest is stored.
type AttestationInput struct {
	SignedBy  string
	Signature string
}

// ClockResult is returned by clock-in and clock-out.
type ClockResult struct {
	Record       *models.EVVRecord `json:"evv_record"`
	Entry        *models.TimeEntry `json:"time_entry"`
	Verification geofence.Result   `json:"verification"`
}

type OverrideRequest struct {
	EntryID id.TimeEntryID
	Reason  string
}

type StatusChangeRequest struct {
	RecordID id.RecordID
	Status   models.RecordStatus
	Reason   string
}

// actor is the authenticated caller taken from the request context.
type actor struct {
	userID      id.UserID
	role        requestcontext.Role
	caregiverID id.CaregiverID
}

func actorFrom(ctxUser id.UserID, role requestcontext.Role, caregiverID id.CaregiverID) (actor, error) {
	if ctxUser.IsNil() {
		return actor{}, dErrors.New(dErrors.CodeUnauthorized, "authentication required")
	}
	return actor{userID: ctxUser, role: role, caregiverID: caregiverID}, nil
}

// canActFor reports whether the caller may record events for caregiverID.
func (a actor) canActFor(caregiverID id.CaregiverID) bool {
	if a.role.IsSupervisory() {
		return true
	}
	return a.role == requestcontext.RoleCaregiver && !a.caregiverID.IsNil() && a.caregiverID == caregiverID
}

// normalizeSample validates a device location and pins its timestamps to UTC
// microseconds so digests survive a database round trip.
func normalizeSample(sample models.LocationSample, now time.Time, futureTolerance time.Duration) (models.LocationSample, error) {
	if !sample.Point().IsValid() {
		return sample, dErrors.New(dErrors.CodeValidation, "location coordinates are invalid")
	}
	if math.IsNaN(sample.AccuracyMeters) || math.IsInf(sample.AccuracyMeters, 0) || sample.AccuracyMeters < 0 {
		return sample, dErrors.New(dErrors.CodeValidation, "location accuracy must be a non-negative number")
	}
	sample.Method = models.LocationMethod(strings.ToUpper(strings.TrimSpace(string(sample.Method))))
	if sample.Method == "" {
		sample.Method = models.LocationMethodGPS
	}
	if !sample.Method.IsValid() {
		return sample, dErrors.New(dErrors.CodeValidation, "unknown location method: "+string(sample.Method))
	}
	if sample.CapturedAt.IsZero() {
		sample.CapturedAt = now
	}
	sample.CapturedAt = normalizeTime(sample.CapturedAt)
	if sample.CapturedAt.After(now.Add(futureTolerance)) {
		return sample, dErrors.New(dErrors.CodeValidation, "location capture time is in the future")
	}
	return sample, nil
}

func normalizeTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
