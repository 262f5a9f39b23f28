package models

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
)

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 7, 64)
}

func sha256Hex(parts ...string) string {
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ComputeIntegrityHash digests the record's identity, clock-in time, and
// clock-in location. It is fixed when the record is created.
func ComputeIntegrityHash(r *EVVRecord) string {
	v := r.ClockInVerification
	return sha256Hex(
		r.ID.String(),
		r.VisitID.String(),
		r.ClientID.String(),
		r.CaregiverID.String(),
		r.ServiceTypeCode,
		r.ServiceDate,
		r.ClockInTime.UTC().Format(time.RFC3339Nano),
		formatCoord(v.Latitude),
		formatCoord(v.Longitude),
		formatCoord(v.AccuracyMeters),
	)
}

// ComputeChecksum digests the full captured record with BLAKE2b-256.
// Workflow fields that legitimately change after clock-out (status, flags,
// version, submission time, caregiver notes) are excluded.
func ComputeChecksum(r *EVVRecord) string {
	c := r.Clone()
	c.Version = 0
	c.RecordStatus = ""
	c.ComplianceFlags = nil
	c.IntegrityChecksum = ""
	c.SubmittedAt = nil
	c.UpdatedAt = time.Time{}
	c.VerificationLevel = ""
	c.CaregiverNotes = ""
	c.ClockInVerification.ManualOverride = false
	c.ClockInVerification.OverrideReason = ""
	c.ClockInVerification.VerificationPassed = false
	if c.ClockOutVerification != nil {
		c.ClockOutVerification.ManualOverride = false
		c.ClockOutVerification.OverrideReason = ""
		c.ClockOutVerification.VerificationPassed = false
	}
	raw, err := json.Marshal(c)
	if err != nil {
		// Every field is a plain value; marshal cannot fail.
		panic(err)
	}
	sum := blake2b.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// VerifyIntegrity recomputes both digests and reports whether they still match.
func VerifyIntegrity(r *EVVRecord) bool {
	if r.IntegrityHash != ComputeIntegrityHash(r) {
		return false
	}
	if r.IntegrityChecksum == "" {
		return true
	}
	return r.IntegrityChecksum == ComputeChecksum(r)
}

// ComputeEntryHash digests the captured fields of a time entry.
func ComputeEntryHash(e *TimeEntry) string {
	return sha256Hex(
		e.ID.String(),
		e.VisitID.String(),
		e.CaregiverID.String(),
		string(e.EntryType),
		formatCoord(e.Location.Latitude),
		formatCoord(e.Location.Longitude),
		formatCoord(e.Location.AccuracyMeters),
		e.Location.CapturedAt.UTC().Format(time.RFC3339Nano),
		string(e.Location.Method),
		e.Device.ID,
		e.RecordedAt.UTC().Format(time.RFC3339Nano),
	)
}

// HashSignature returns the stored digest of a client signature payload.
func HashSignature(signature string) string {
	return sha256Hex(signature)
}
