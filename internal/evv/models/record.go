package models

import (
	"time"

	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
)

// RecordStatus is the EVV record lifecycle.
//
//	PENDING -> COMPLETE -> SUBMITTED -> APPROVED | REJECTED | DISPUTED
//	COMPLETE | SUBMITTED | APPROVED | DISPUTED -> AMENDED | VOIDED
type RecordStatus string

const (
	RecordPending   RecordStatus = "PENDING"
	RecordComplete  RecordStatus = "COMPLETE"
	RecordSubmitted RecordStatus = "SUBMITTED"
	RecordApproved  RecordStatus = "APPROVED"
	RecordRejected  RecordStatus = "REJECTED"
	RecordDisputed  RecordStatus = "DISPUTED"
	RecordAmended   RecordStatus = "AMENDED"
	RecordVoided    RecordStatus = "VOIDED"
)

var recordTransitions = map[RecordStatus][]RecordStatus{
	RecordPending:   {RecordComplete, RecordVoided},
	RecordComplete:  {RecordSubmitted, RecordAmended, RecordVoided},
	RecordSubmitted: {RecordApproved, RecordRejected, RecordDisputed, RecordAmended, RecordVoided},
	RecordApproved:  {RecordAmended, RecordVoided},
	RecordDisputed:  {RecordAmended, RecordVoided},
	RecordRejected:  {RecordAmended, RecordVoided},
}

// ParseRecordStatus validates a status name.
func ParseRecordStatus(s string) (RecordStatus, error) {
	st := RecordStatus(s)
	switch st {
	case RecordPending, RecordComplete, RecordSubmitted, RecordApproved, RecordRejected,
		RecordDisputed, RecordAmended, RecordVoided:
		return st, nil
	}
	return "", dErrors.New(dErrors.CodeValidation, "unknown record status: "+s)
}

// CanTransitionTo reports whether the lifecycle allows moving to next.
func (s RecordStatus) CanTransitionTo(next RecordStatus) bool {
	for _, allowed := range recordTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type VerificationLevel string

const (
	VerificationFull      VerificationLevel = "FULL"
	VerificationPartial   VerificationLevel = "PARTIAL"
	VerificationManual    VerificationLevel = "MANUAL"
	VerificationPhone     VerificationLevel = "PHONE"
	VerificationException VerificationLevel = "EXCEPTION"
)

// Address is the service location supplied by the visit collaborator.
type Address struct {
	ID                   string   `json:"id,omitempty"`
	Line1                string   `json:"line1"`
	Line2                string   `json:"line2,omitempty"`
	City                 string   `json:"city"`
	State                string   `json:"state"`
	PostalCode           string   `json:"postal_code"`
	Latitude             *float64 `json:"latitude,omitempty"`
	Longitude            *float64 `json:"longitude,omitempty"`
	GeofenceRadiusMeters float64  `json:"geofence_radius_meters,omitempty"`
}

// Coordinates returns the resolved point, or false when the address is not geocoded.
func (a Address) Coordinates() (Point, bool) {
	if a.Latitude == nil || a.Longitude == nil {
		return Point{}, false
	}
	p := Point{Latitude: *a.Latitude, Longitude: *a.Longitude}
	return p, p.IsValid()
}

// Attestation is the client's acknowledgement captured at clock-out.
type Attestation struct {
	SignedBy      string    `json:"signed_by"`
	SignatureHash string    `json:"signature_hash"`
	SignedAt      time.Time `json:"signed_at"`
}

// EVVRecord is the unit of compliance evaluation for one visit.
//
// Invariants:
//   - Exactly one record per VisitID
//   - ClockOutTime, when set, is after ClockInTime
//   - IntegrityHash is fixed at clock-in; IntegrityChecksum is recomputed
//     whenever clock-out completes the record
//   - Version increases by one on every persisted update
type EVVRecord struct {
	ID      id.RecordID `json:"id"`
	VisitID id.VisitID  `json:"visit_id"`
	Version int64       `json:"version"`

	ServiceTypeCode string `json:"service_type_code"`
	ServiceTypeName string `json:"service_type_name"`

	ClientID         id.ClientID `json:"client_id"`
	ClientName       string      `json:"client_name"`
	ClientMedicaidID string      `json:"client_medicaid_id,omitempty"`

	CaregiverID         id.CaregiverID `json:"caregiver_id"`
	CaregiverName       string         `json:"caregiver_name"`
	CaregiverEmployeeID string         `json:"caregiver_employee_id"`
	CaregiverNPI        string         `json:"caregiver_npi,omitempty"`

	// ServiceDate is YYYY-MM-DD in the agency's local calendar.
	ServiceDate    string  `json:"service_date"`
	ServiceAddress Address `json:"service_address"`

	ClockInTime          time.Time  `json:"clock_in_time"`
	ClockOutTime         *time.Time `json:"clock_out_time,omitempty"`
	TotalDurationMinutes *int       `json:"total_duration_minutes,omitempty"`

	ClockInVerification  LocationVerification  `json:"clock_in_verification"`
	ClockOutVerification *LocationVerification `json:"clock_out_verification,omitempty"`

	GeofenceID        id.GeofenceID     `json:"geofence_id"`
	RecordStatus      RecordStatus      `json:"record_status"`
	VerificationLevel VerificationLevel `json:"verification_level"`
	// ComplianceFlags is an open set; stored as a JSON document.
	ComplianceFlags []string `json:"compliance_flags"`

	IntegrityHash     string       `json:"integrity_hash"`
	IntegrityChecksum string       `json:"integrity_checksum"`
	Attestation       *Attestation `json:"attestation,omitempty"`

	// CaregiverNotes is the only field a device may change through sync.
	CaregiverNotes string `json:"caregiver_notes,omitempty"`

	RecordedBy  id.UserID  `json:"recorded_by"`
	RecordedAt  time.Time  `json:"recorded_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	SubmittedAt *time.Time `json:"submitted_at,omitempty"`
}

// AcceptsNotes reports whether caregiver notes may still change: the record
// has not left the agency.
func (r *EVVRecord) AcceptsNotes() bool {
	return r.RecordStatus == RecordPending || r.RecordStatus == RecordComplete
}

func (r *EVVRecord) IsPending() bool {
	return r.RecordStatus == RecordPending
}

// HasClockOut reports whether the visit has been completed.
func (r *EVVRecord) HasClockOut() bool {
	return r.ClockOutTime != nil
}

// AgeDays is the whole number of days since the record was created.
func (r *EVVRecord) AgeDays(now time.Time) int {
	if now.Before(r.RecordedAt) {
		return 0
	}
	return int(now.Sub(r.RecordedAt).Hours() / 24)
}

// Complete applies clock-out to a pending record.
func (r *EVVRecord) Complete(out time.Time, verification LocationVerification, attestation *Attestation, now time.Time) error {
	if !r.IsPending() {
		return dErrors.New(dErrors.CodeInvariantViolation, "record is not pending")
	}
	if !out.After(r.ClockInTime) {
		return dErrors.New(dErrors.CodeInvariantViolation, "clock-out must be after clock-in")
	}
	minutes := int(out.Sub(r.ClockInTime).Round(time.Minute) / time.Minute)
	r.ClockOutTime = &out
	r.TotalDurationMinutes = &minutes
	r.ClockOutVerification = &verification
	r.Attestation = attestation
	r.RecordStatus = RecordComplete
	if r.VerificationLevel == VerificationFull && !verification.VerificationPassed {
		r.VerificationLevel = VerificationPartial
	}
	r.UpdatedAt = now
	r.IntegrityChecksum = ComputeChecksum(r)
	return nil
}

// Clone returns a deep copy so stores never share mutable state with callers.
func (r *EVVRecord) Clone() *EVVRecord {
	c := *r
	if r.ClockOutTime != nil {
		t := *r.ClockOutTime
		c.ClockOutTime = &t
	}
	if r.TotalDurationMinutes != nil {
		m := *r.TotalDurationMinutes
		c.TotalDurationMinutes = &m
	}
	if r.ClockOutVerification != nil {
		v := *r.ClockOutVerification
		c.ClockOutVerification = &v
	}
	if r.Attestation != nil {
		a := *r.Attestation
		c.Attestation = &a
	}
	if r.SubmittedAt != nil {
		t := *r.SubmittedAt
		c.SubmittedAt = &t
	}
	if r.ServiceAddress.Latitude != nil {
		v := *r.ServiceAddress.Latitude
		c.ServiceAddress.Latitude = &v
	}
	if r.ServiceAddress.Longitude != nil {
		v := *r.ServiceAddress.Longitude
		c.ServiceAddress.Longitude = &v
	}
	c.ComplianceFlags = append([]string(nil), r.ComplianceFlags...)
	return &c
}
