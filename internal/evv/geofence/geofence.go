// Package geofence classifies an observed location against a service
// location's verification boundary. Validation is pure; the capture service
// applies the resulting counter deltas to the stored geofence.
package geofence

import (
	"fmt"
	"math"

	"evv/internal/evv/models"
)

const (
	// EarthRadiusMeters is the IUGG mean radius.
	EarthRadiusMeters = 6371008.8

	DefaultStrictAccuracyMeters = 100.0
)

// Distance returns the great-circle distance in meters (haversine).
func Distance(a, b models.Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * EarthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// Result is the outcome of one geofence check.
type Result struct {
	DistanceMeters        float64                `json:"distance_meters"`
	EffectiveRadiusMeters float64                `json:"effective_radius_meters"`
	BaseRadiusMeters      float64                `json:"base_radius_meters"`
	AccuracyMeters        float64                `json:"accuracy_meters"`
	ComplianceLevel       models.ComplianceLevel `json:"compliance_level"`
	ValidationType        models.ValidationType  `json:"validation_type"`
	WithinGeofence        bool                   `json:"within_geofence"`
	Malformed             bool                   `json:"malformed,omitempty"`
	SuggestedAction       string                 `json:"suggested_action,omitempty"`
}

// Delta is the counter change the capture service applies for this result.
func (r Result) Delta() models.VerificationDelta {
	return models.VerificationDelta{Passed: r.WithinGeofence, AccuracyMeters: r.AccuracyMeters}
}

// Validator classifies locations. The zero value is not usable; use NewValidator.
type Validator struct {
	strictAccuracy float64
}

type Option func(*Validator)

// WithStrictAccuracy overrides the GPS accuracy ceiling (meters).
func WithStrictAccuracy(meters float64) Option {
	return func(v *Validator) {
		if meters > 0 {
			v.strictAccuracy = meters
		}
	}
}

func NewValidator(opts ...Option) *Validator {
	v := &Validator{strictAccuracy: DefaultStrictAccuracyMeters}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// StrictAccuracy returns the configured accuracy ceiling.
func (v *Validator) StrictAccuracy() float64 {
	return v.strictAccuracy
}

// Validate classifies observed against expected. Tiers are checked in order:
// malformed input, accuracy ceiling, base radius, accuracy allowance, outside.
func (v *Validator) Validate(observed models.LocationSample, expected models.Point, baseRadius, allowedVariance float64) Result {
	accuracy := observed.AccuracyMeters
	if !observed.Point().IsValid() || !expected.IsValid() || math.IsNaN(accuracy) || math.IsInf(accuracy, 0) ||
		math.IsNaN(baseRadius) || baseRadius <= 0 || math.IsNaN(allowedVariance) {
		return Result{
			BaseRadiusMeters: sanitize(baseRadius),
			ComplianceLevel:  models.LevelViolation,
			ValidationType:   models.ValidationOutsideGeofence,
			Malformed:        true,
			SuggestedAction:  "Location data is malformed; recapture location or route to supervisor review",
		}
	}

	if allowedVariance < 0 {
		allowedVariance = 0
	}
	d := Distance(observed.Point(), expected)
	effective := baseRadius + math.Max(accuracy, 0) + allowedVariance

	res := Result{
		DistanceMeters:        round2(d),
		EffectiveRadiusMeters: round2(effective),
		BaseRadiusMeters:      baseRadius,
		AccuracyMeters:        accuracy,
	}

	switch {
	case accuracy > v.strictAccuracy:
		res.ValidationType = models.ValidationGPSAccuracyExceeded
		res.ComplianceLevel = models.LevelViolation
		res.SuggestedAction = fmt.Sprintf("GPS accuracy of %.0f m exceeds the %.0f m limit; recapture location with a clearer signal or obtain supervisor verification", accuracy, v.strictAccuracy)
	case d <= baseRadius:
		res.ValidationType = models.ValidationWithinBaseRadius
		res.ComplianceLevel = models.LevelCompliant
		res.WithinGeofence = true
	case d <= effective:
		res.ValidationType = models.ValidationWithinAccuracyAllowance
		res.ComplianceLevel = models.LevelWarning
		res.WithinGeofence = true
		res.SuggestedAction = fmt.Sprintf("Location is %.0f m beyond the base radius but within GPS accuracy allowance; document the variance", d-baseRadius)
	default:
		res.ValidationType = models.ValidationOutsideGeofence
		res.ComplianceLevel = models.LevelViolation
		res.SuggestedAction = fmt.Sprintf("Location is %.0f m outside the verified boundary; supervisor review required", d-effective)
	}
	return res
}

// Verification builds the snapshot stored on the record and time entry.
func (r Result) Verification(sample models.LocationSample, geofenceID string) models.LocationVerification {
	return models.LocationVerification{
		Latitude:              sample.Latitude,
		Longitude:             sample.Longitude,
		AccuracyMeters:        sample.AccuracyMeters,
		Method:                sample.Method,
		CapturedAt:            sample.CapturedAt,
		GeofenceID:            geofenceID,
		DistanceMeters:        r.DistanceMeters,
		EffectiveRadiusMeters: r.EffectiveRadiusMeters,
		ValidationType:        r.ValidationType,
		ComplianceLevel:       r.ComplianceLevel,
		VerificationPassed:    r.WithinGeofence,
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

func sanitize(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}
