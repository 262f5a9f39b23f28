package models

import (
	"time"

	id "evv/pkg/domain"
	"evv/pkg/requestcontext"
)

type EntryType string

const (
	EntryClockIn  EntryType = "CLOCK_IN"
	EntryClockOut EntryType = "CLOCK_OUT"
	EntryPause    EntryType = "PAUSE"
	EntryResume   EntryType = "RESUME"
)

type EntryStatus string

const (
	EntryPending    EntryStatus = "PENDING"
	EntryVerified   EntryStatus = "VERIFIED"
	EntryFlagged    EntryStatus = "FLAGGED"
	EntryOverridden EntryStatus = "OVERRIDDEN"
	EntryRejected   EntryStatus = "REJECTED"
	EntrySynced     EntryStatus = "SYNCED"
)

// Override records a supervisor's manual acceptance of a failed verification.
// The entry's Verification field still holds the original failure.
type Override struct {
	OverriddenBy         id.UserID            `json:"overridden_by"`
	Reason               string               `json:"reason"`
	OverriddenAt         time.Time            `json:"overridden_at"`
	PreviousStatus       EntryStatus          `json:"previous_status"`
	OriginalVerification LocationVerification `json:"original_verification"`
}

// TimeEntry is an append-only clock event.
//
// Invariants:
//   - Only RecordID (link to the parent record) and Override/Status (manual
//     override) change after creation
//   - Hash covers the captured fields and never changes
type TimeEntry struct {
	ID           id.TimeEntryID        `json:"id"`
	VisitID      id.VisitID            `json:"visit_id"`
	RecordID     id.RecordID           `json:"record_id"`
	CaregiverID  id.CaregiverID        `json:"caregiver_id"`
	EntryType    EntryType             `json:"entry_type"`
	Location     LocationSample        `json:"location"`
	Device       requestcontext.Device `json:"device"`
	Verification LocationVerification  `json:"verification"`
	Status       EntryStatus           `json:"status"`
	Hash         string                `json:"hash"`
	RecordedBy   id.UserID             `json:"recorded_by"`
	RecordedAt   time.Time             `json:"recorded_at"`
	Override     *Override             `json:"override,omitempty"`
}

// StatusForVerification maps a verification outcome to the entry status.
func StatusForVerification(v LocationVerification) EntryStatus {
	if v.VerificationPassed {
		return EntryVerified
	}
	return EntryFlagged
}

// CanOverride reports whether a supervisor may override this entry.
func (e *TimeEntry) CanOverride() bool {
	return e.Status != EntryOverridden && e.Status != EntryRejected
}

// ApplyOverride marks the entry overridden and forces the verification to
// pass. The failed verification is preserved on the Override record and the
// geofence outcome fields are left as captured.
func (e *TimeEntry) ApplyOverride(by id.UserID, reason string, now time.Time) {
	e.Override = &Override{
		OverriddenBy:         by,
		Reason:               reason,
		OverriddenAt:         now,
		PreviousStatus:       e.Status,
		OriginalVerification: e.Verification,
	}
	e.Status = EntryOverridden
	e.Verification.VerificationPassed = true
	e.Verification.ManualOverride = true
	e.Verification.OverrideReason = reason
}

// Clone returns a copy that shares no pointers with e.
func (e *TimeEntry) Clone() *TimeEntry {
	c := *e
	if e.Override != nil {
		o := *e.Override
		c.Override = &o
	}
	return &c
}
