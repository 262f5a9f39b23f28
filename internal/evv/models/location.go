package models

import (
	"math"
	"time"
)

// LocationMethod is how a location sample was captured.
type LocationMethod string

const (
	LocationMethodGPS         LocationMethod = "GPS"
	LocationMethodNetwork     LocationMethod = "NETWORK"
	LocationMethodFixedDevice LocationMethod = "FIXED_DEVICE"
	LocationMethodTelephony   LocationMethod = "TELEPHONY"
	LocationMethodManual      LocationMethod = "MANUAL"
)

// IsValid reports whether m is a recognized capture method.
func (m LocationMethod) IsValid() bool {
	switch m {
	case LocationMethodGPS, LocationMethodNetwork, LocationMethodFixedDevice, LocationMethodTelephony, LocationMethodManual:
		return true
	}
	return false
}

// LocationSample is an observed position. It is input only and never stored
// on its own; time entries and verifications copy the values they need.
type LocationSample struct {
	Latitude       float64        `json:"latitude"`
	Longitude      float64        `json:"longitude"`
	AccuracyMeters float64        `json:"accuracy_meters"`
	CapturedAt     time.Time      `json:"captured_at"`
	Method         LocationMethod `json:"method"`
}

// Point is a WGS84 coordinate pair.
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Point returns the sample's coordinates.
func (s LocationSample) Point() Point {
	return Point{Latitude: s.Latitude, Longitude: s.Longitude}
}

// IsValid reports whether the coordinates are finite and in range.
func (p Point) IsValid() bool {
	if math.IsNaN(p.Latitude) || math.IsNaN(p.Longitude) || math.IsInf(p.Latitude, 0) || math.IsInf(p.Longitude, 0) {
		return false
	}
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// ValidationType is the geofence tier a location fell into.
type ValidationType string

const (
	ValidationWithinBaseRadius        ValidationType = "WITHIN_BASE_RADIUS"
	ValidationWithinAccuracyAllowance ValidationType = "WITHIN_ACCURACY_ALLOWANCE"
	ValidationOutsideGeofence         ValidationType = "OUTSIDE_GEOFENCE"
	ValidationGPSAccuracyExceeded     ValidationType = "GPS_ACCURACY_EXCEEDED"
)

// WithinGeofence reports whether the tier counts as a successful verification.
func (v ValidationType) WithinGeofence() bool {
	return v == ValidationWithinBaseRadius || v == ValidationWithinAccuracyAllowance
}

// ComplianceLevel is shared by geofence and aggregate compliance outcomes.
type ComplianceLevel string

const (
	LevelCompliant    ComplianceLevel = "COMPLIANT"
	LevelWarning      ComplianceLevel = "WARNING"
	LevelViolation    ComplianceLevel = "VIOLATION"
	LevelNonCompliant ComplianceLevel = "NON_COMPLIANT"
)

// LocationVerification is the snapshot of a geofence check stored on an EVV
// record and its time entry.
type LocationVerification struct {
	Latitude              float64         `json:"latitude"`
	Longitude             float64         `json:"longitude"`
	AccuracyMeters        float64         `json:"accuracy_meters"`
	Method                LocationMethod  `json:"method"`
	CapturedAt            time.Time       `json:"captured_at"`
	GeofenceID            string          `json:"geofence_id"`
	DistanceMeters        float64         `json:"distance_meters"`
	EffectiveRadiusMeters float64         `json:"effective_radius_meters"`
	ValidationType        ValidationType  `json:"validation_type"`
	ComplianceLevel       ComplianceLevel `json:"compliance_level"`
	VerificationPassed    bool            `json:"verification_passed"`
	ManualOverride        bool            `json:"manual_override"`
	OverrideReason        string          `json:"override_reason,omitempty"`
}

// Sample returns the location that was verified.
func (v LocationVerification) Sample() LocationSample {
	return LocationSample{
		Latitude:       v.Latitude,
		Longitude:      v.Longitude,
		AccuracyMeters: v.AccuracyMeters,
		CapturedAt:     v.CapturedAt,
		Method:         v.Method,
	}
}
