package models

import (
	"strings"
	"time"

	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
)

const (
	MinGeofenceRadiusMeters = 10
	MaxGeofenceRadiusMeters = 500
)

type GeofenceShape string

const (
	ShapeCircle GeofenceShape = "CIRCLE"
	// ShapePolygon is reserved; validation treats every geofence as a circle.
	ShapePolygon GeofenceShape = "POLYGON"
)

type GeofenceStatus string

const (
	GeofenceActive    GeofenceStatus = "ACTIVE"
	GeofenceSuspended GeofenceStatus = "SUSPENDED"
	GeofenceArchived  GeofenceStatus = "ARCHIVED"
)

// Geofence is the verification boundary for one service address.
//
// Invariants:
//   - RadiusMeters is within [10, 500]
//   - SuccessfulVerifications + FailedVerifications <= VerificationCount
//   - Geofences are never deleted, only archived
type Geofence struct {
	ID                      id.GeofenceID  `json:"id"`
	AddressKey              string         `json:"address_key"`
	CenterLatitude          float64        `json:"center_latitude"`
	CenterLongitude         float64        `json:"center_longitude"`
	RadiusMeters            float64        `json:"radius_meters"`
	Shape                   GeofenceShape  `json:"shape"`
	AllowedVarianceMeters   float64        `json:"allowed_variance_meters"`
	VerificationCount       int64          `json:"verification_count"`
	SuccessfulVerifications int64          `json:"successful_verifications"`
	FailedVerifications     int64          `json:"failed_verifications"`
	AverageAccuracy         float64        `json:"average_accuracy"`
	Status                  GeofenceStatus `json:"status"`
	CreatedAt               time.Time      `json:"created_at"`
	UpdatedAt               time.Time      `json:"updated_at"`
}

// NewGeofence builds an active circular geofence centered on an address.
func NewGeofence(geofenceID id.GeofenceID, addressKey string, center Point, radius, variance float64, now time.Time) (*Geofence, error) {
	if strings.TrimSpace(addressKey) == "" {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "geofence address key is required")
	}
	if !center.IsValid() {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "geofence center coordinates are invalid")
	}
	if radius < MinGeofenceRadiusMeters || radius > MaxGeofenceRadiusMeters {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "geofence radius must be between 10 and 500 meters")
	}
	if variance < 0 {
		return nil, dErrors.New(dErrors.CodeInvariantViolation, "geofence variance must not be negative")
	}
	return &Geofence{
		ID:                    geofenceID,
		AddressKey:            addressKey,
		CenterLatitude:        center.Latitude,
		CenterLongitude:       center.Longitude,
		RadiusMeters:          radius,
		Shape:                 ShapeCircle,
		AllowedVarianceMeters: variance,
		Status:                GeofenceActive,
		CreatedAt:             now,
		UpdatedAt:             now,
	}, nil
}

// Center returns the geofence center.
func (g *Geofence) Center() Point {
	return Point{Latitude: g.CenterLatitude, Longitude: g.CenterLongitude}
}

func (g *Geofence) IsActive() bool {
	return g.Status == GeofenceActive
}

// VerificationDelta is the counter change produced by one verification attempt.
type VerificationDelta struct {
	Passed         bool
	AccuracyMeters float64
}

// ApplyVerification folds a delta into the counters and running accuracy mean.
// Stores must apply this atomically with respect to other writers.
func (g *Geofence) ApplyVerification(d VerificationDelta, now time.Time) {
	acc := d.AccuracyMeters
	if acc < 0 {
		acc = 0
	}
	g.AverageAccuracy = (g.AverageAccuracy*float64(g.VerificationCount) + acc) / float64(g.VerificationCount+1)
	g.VerificationCount++
	if d.Passed {
		g.SuccessfulVerifications++
	} else {
		g.FailedVerifications++
	}
	g.UpdatedAt = now
}

// AddressKey derives the geofence lookup key for an address. An explicit
// address id wins; otherwise the normalized postal address is used.
func AddressKey(a Address) string {
	if a.ID != "" {
		return "id:" + strings.ToLower(strings.TrimSpace(a.ID))
	}
	parts := []string{a.Line1, a.City, a.State, a.PostalCode}
	for i, p := range parts {
		parts[i] = strings.Join(strings.Fields(strings.ToLower(p)), " ")
	}
	return "addr:" + strings.Join(parts, "|")
}
