package handler

import (
	"strings"
	"time"

	"evv/internal/evv/models"
	dErrors "evv/pkg/domain-errors"
)

const maxReasonLength = 1000

// LocationRequest is the device-reported position. Coordinates are pointers
// so a missing field is distinguishable from the equator or meridian.
type LocationRequest struct {
	Latitude       *float64   `json:"latitude"`
	Longitude      *float64   `json:"longitude"`
	AccuracyMeters *float64   `json:"accuracy_meters"`
	Method         string     `json:"method,omitempty"`
	CapturedAt     *time.Time `json:"captured_at,omitempty"`
}

func (l *LocationRequest) validate() error {
	if l.Latitude == nil || l.Longitude == nil {
		return dErrors.New(dErrors.CodeValidation, "location.latitude and location.longitude are required")
	}
	if l.AccuracyMeters == nil {
		return dErrors.New(dErrors.CodeValidation, "location.accuracy_meters is required")
	}
	l.Method = strings.ToUpper(strings.TrimSpace(l.Method))
	if l.Method != "" && !models.LocationMethod(l.Method).IsValid() {
		return dErrors.New(dErrors.CodeValidation, "unknown location method: "+l.Method)
	}
	return nil
}

// Sample converts the validated request to a domain sample.
func (l *LocationRequest) Sample() models.LocationSample {
	s := models.LocationSample{
		Latitude:       *l.Latitude,
		Longitude:      *l.Longitude,
		AccuracyMeters: *l.AccuracyMeters,
		Method:         models.LocationMethod(l.Method),
	}
	if l.CapturedAt != nil {
		s.CapturedAt = *l.CapturedAt
	}
	return s
}

// ClockInRequest is the body for POST /visits/{visitID}/clock-in.
type ClockInRequest struct {
	Location LocationRequest `json:"location"`
}

// Validate implements httputil.Validatable.
func (r *ClockInRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	return r.Location.validate()
}

// AttestationRequest carries the client's signature captured at clock-out.
type AttestationRequest struct {
	SignedBy  string `json:"signed_by"`
	Signature string `json:"signature"`
}

// ClockOutRequest is the body for POST /visits/{visitID}/clock-out.
type ClockOutRequest struct {
	Location    LocationRequest     `json:"location"`
	Attestation *AttestationRequest `json:"attestation,omitempty"`
}

// Validate implements httputil.Validatable.
func (r *ClockOutRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if err := r.Location.validate(); err != nil {
		return err
	}
	if a := r.Attestation; a != nil {
		a.SignedBy = strings.TrimSpace(a.SignedBy)
		if a.SignedBy == "" || strings.TrimSpace(a.Signature) == "" {
			return dErrors.New(dErrors.CodeValidation, "attestation.signed_by and attestation.signature are required")
		}
	}
	return nil
}

// OverrideRequest is the body for POST /time-entries/{entryID}/override.
type OverrideRequest struct {
	Reason string `json:"reason"`
}

// Validate implements httputil.Validatable.
func (r *OverrideRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return dErrors.New(dErrors.CodeValidation, "reason is required")
	}
	if len(r.Reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 1000 characters")
	}
	return nil
}

// StatusRequest is the body for POST /evv-records/{recordID}/status.
type StatusRequest struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`

	parsedStatus models.RecordStatus
}

// Validate implements httputil.Validatable.
func (r *StatusRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	if len(r.Reason) > maxReasonLength {
		return dErrors.New(dErrors.CodeValidation, "reason must be at most 1000 characters")
	}
	status, err := models.ParseRecordStatus(strings.ToUpper(strings.TrimSpace(r.Status)))
	if err != nil {
		return err
	}
	r.parsedStatus = status
	r.Reason = strings.TrimSpace(r.Reason)
	return nil
}

// ParsedStatus returns the validated status.
func (r *StatusRequest) ParsedStatus() models.RecordStatus {
	return r.parsedStatus
}
