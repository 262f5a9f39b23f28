package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
)

func newPendingRecord(t *testing.T, clockIn time.Time) *EVVRecord {
	t.Helper()
	r := &EVVRecord{
		ID:              id.NewRecordID(),
		VisitID:         id.NewVisitID(),
		ClientID:        id.NewClientID(),
		CaregiverID:     id.NewCaregiverID(),
		ServiceTypeCode: "T1019",
		ServiceDate:     clockIn.Format("2006-01-02"),
		ClockInTime:     clockIn,
		ClockInVerification: LocationVerification{
			Latitude: 40.7128, Longitude: -74.0060, AccuracyMeters: 8,
			ValidationType: ValidationWithinBaseRadius, VerificationPassed: true,
		},
		RecordStatus:      RecordPending,
		VerificationLevel: VerificationFull,
		RecordedAt:        clockIn,
	}
	r.IntegrityHash = ComputeIntegrityHash(r)
	return r
}

func TestRecordStatus_Transitions(t *testing.T) {
	assert.True(t, RecordPending.CanTransitionTo(RecordComplete))
	assert.True(t, RecordComplete.CanTransitionTo(RecordSubmitted))
	assert.True(t, RecordSubmitted.CanTransitionTo(RecordApproved))
	assert.False(t, RecordPending.CanTransitionTo(RecordSubmitted))
	assert.False(t, RecordComplete.CanTransitionTo(RecordPending))
	assert.False(t, RecordVoided.CanTransitionTo(RecordAmended))
}

func TestEVVRecord_Complete(t *testing.T) {
	clockIn := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	t.Run("computes duration and checksum", func(t *testing.T) {
		r := newPendingRecord(t, clockIn)
		out := clockIn.Add(2*time.Hour + 29*time.Second)

		require.NoError(t, r.Complete(out, LocationVerification{VerificationPassed: true}, nil, out))

		assert.Equal(t, RecordComplete, r.RecordStatus)
		require.NotNil(t, r.TotalDurationMinutes)
		assert.Equal(t, 120, *r.TotalDurationMinutes)
		assert.Equal(t, VerificationFull, r.VerificationLevel)
		assert.NotEmpty(t, r.IntegrityChecksum)
		assert.True(t, VerifyIntegrity(r))
	})

	t.Run("failed clock-out verification downgrades level", func(t *testing.T) {
		r := newPendingRecord(t, clockIn)
		require.NoError(t, r.Complete(clockIn.Add(time.Hour), LocationVerification{}, nil, clockIn.Add(time.Hour)))
		assert.Equal(t, VerificationPartial, r.VerificationLevel)
	})

	t.Run("rejects clock-out before clock-in", func(t *testing.T) {
		r := newPendingRecord(t, clockIn)
		err := r.Complete(clockIn.Add(-time.Minute), LocationVerification{}, nil, clockIn)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})

	t.Run("rejects completing twice", func(t *testing.T) {
		r := newPendingRecord(t, clockIn)
		require.NoError(t, r.Complete(clockIn.Add(time.Hour), LocationVerification{}, nil, clockIn))
		err := r.Complete(clockIn.Add(2*time.Hour), LocationVerification{}, nil, clockIn)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
	})
}

func TestIntegrity_DetectsTampering(t *testing.T) {
	clockIn := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	r := newPendingRecord(t, clockIn)
	require.NoError(t, r.Complete(clockIn.Add(time.Hour), LocationVerification{VerificationPassed: true}, nil, clockIn))
	require.True(t, VerifyIntegrity(r))

	t.Run("status and flags do not affect the checksum", func(t *testing.T) {
		c := r.Clone()
		c.RecordStatus = RecordSubmitted
		c.ComplianceFlags = []string{"COMPLIANT"}
		c.Version = 9
		assert.True(t, VerifyIntegrity(c))
	})

	t.Run("edited clock-in breaks the hash", func(t *testing.T) {
		c := r.Clone()
		c.ClockInTime = c.ClockInTime.Add(-15 * time.Minute)
		assert.False(t, VerifyIntegrity(c))
	})

	t.Run("edited clock-out breaks the checksum", func(t *testing.T) {
		c := r.Clone()
		later := c.ClockOutTime.Add(30 * time.Minute)
		c.ClockOutTime = &later
		assert.False(t, VerifyIntegrity(c))
	})
}

func TestGeofence_ApplyVerification(t *testing.T) {
	now := time.Now()
	g, err := NewGeofence(id.NewGeofenceID(), "addr:1 main st", Point{Latitude: 40, Longitude: -74}, 100, 0, now)
	require.NoError(t, err)

	g.ApplyVerification(VerificationDelta{Passed: true, AccuracyMeters: 10}, now)
	g.ApplyVerification(VerificationDelta{Passed: false, AccuracyMeters: 30}, now)
	g.ApplyVerification(VerificationDelta{Passed: true, AccuracyMeters: -5}, now)

	assert.Equal(t, int64(3), g.VerificationCount)
	assert.Equal(t, int64(2), g.SuccessfulVerifications)
	assert.Equal(t, int64(1), g.FailedVerifications)
	assert.InDelta(t, 40.0/3.0, g.AverageAccuracy, 1e-9)
	assert.LessOrEqual(t, g.SuccessfulVerifications+g.FailedVerifications, g.VerificationCount)
}

func TestNewGeofence_Invariants(t *testing.T) {
	now := time.Now()
	center := Point{Latitude: 40, Longitude: -74}

	_, err := NewGeofence(id.NewGeofenceID(), "k", center, 5, 0, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewGeofence(id.NewGeofenceID(), "k", center, 501, 0, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewGeofence(id.NewGeofenceID(), "k", Point{Latitude: 91}, 100, 0, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewGeofence(id.NewGeofenceID(), "", center, 100, 0, now)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))
}

func TestAddressKey(t *testing.T) {
	a := Address{Line1: " 12  Elm St ", City: "Austin", State: "TX", PostalCode: "78701"}
	b := Address{Line1: "12 elm st", City: "AUSTIN", State: "tx", PostalCode: "78701"}
	assert.Equal(t, AddressKey(a), AddressKey(b))

	a.ID = "ADDR-9"
	assert.Equal(t, "id:addr-9", AddressKey(a))
}
