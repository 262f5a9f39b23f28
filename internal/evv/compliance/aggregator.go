// Package compliance combines the geofence, six-elements and grace-period
// checks into a single verdict for an EVV record.
package compliance

import (
	"fmt"
	"math"
	"strings"
	"time"

	"evv/internal/evv/elements"
	"evv/internal/evv/geofence"
	"evv/internal/evv/graceperiod"
	"evv/internal/evv/models"
)

// DefaultVMURAgeDays is the edit window after which corrections need a
// Visit Maintenance Unlock Request.
const DefaultVMURAgeDays = 30

// ScheduledWindow is the visit's planned start and end.
type ScheduledWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// ExpectedLocation is the registered service location and its boundary.
type ExpectedLocation struct {
	Point                 models.Point `json:"point"`
	RadiusMeters          float64      `json:"radius_meters"`
	AllowedVarianceMeters float64      `json:"allowed_variance_meters"`
}

// ExpectedFromGeofence uses a stored geofence as the expected location.
func ExpectedFromGeofence(g *models.Geofence) ExpectedLocation {
	return ExpectedLocation{
		Point:                 g.Center(),
		RadiusMeters:          g.RadiusMeters,
		AllowedVarianceMeters: g.AllowedVarianceMeters,
	}
}

// Result is the compliance verdict. It is derived on demand and never the
// source of truth.
type Result struct {
	IsCompliant     bool                   `json:"is_compliant"`
	ComplianceLevel models.ComplianceLevel `json:"compliance_level"`
	RequiresAction  bool                   `json:"requires_action"`
	Profile         string                 `json:"profile"`
	RecordAgeDays   int                    `json:"record_age_days"`
	Geofence        geofence.Result        `json:"geofence_validation"`
	Elements        elements.Result        `json:"elements_validation"`
	GracePeriod     graceperiod.Result     `json:"grace_period_validation"`
	Flags           []Flag                 `json:"flags"`
	Summary         string                 `json:"summary"`
	Recommendations []string               `json:"recommendations"`
}

func (r Result) HasFlag(f Flag) bool {
	return containsFlag(r.Flags, f)
}

// Aggregator is stateless per call and safe for concurrent use.
type Aggregator struct {
	profile      elements.Profile
	validator    *geofence.Validator
	graceMinutes int
	vmurAgeDays  int
}

type Option func(*Aggregator)

func WithProfile(p elements.Profile) Option {
	return func(a *Aggregator) {
		a.profile = p
	}
}

func WithGeofenceValidator(v *geofence.Validator) Option {
	return func(a *Aggregator) {
		if v != nil {
			a.validator = v
		}
	}
}

func WithGraceMinutes(minutes int) Option {
	return func(a *Aggregator) {
		if minutes >= 0 {
			a.graceMinutes = minutes
		}
	}
}

func WithVMURAgeDays(days int) Option {
	return func(a *Aggregator) {
		if days > 0 {
			a.vmurAgeDays = days
		}
	}
}

func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		profile:      elements.FederalMinimum(),
		validator:    geofence.NewValidator(),
		graceMinutes: graceperiod.DefaultGraceMinutes,
		vmurAgeDays:  DefaultVMURAgeDays,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Aggregator) Profile() elements.Profile {
	return a.profile
}

// VMURAgeDays is the record age after which edits require an unlock request.
func (a *Aggregator) VMURAgeDays() int {
	return a.vmurAgeDays
}

// ValidateCompliance evaluates record against its schedule and registered
// location as of now. The same inputs always produce the same result.
func (a *Aggregator) ValidateCompliance(record *models.EVVRecord, window ScheduledWindow, expected ExpectedLocation, now time.Time) Result {
	geo := a.validator.Validate(record.ClockInVerification.Sample(), expected.Point, expected.RadiusMeters, expected.AllowedVarianceMeters)
	elems := elements.Validate(ElementsInput(record), a.profile)
	grace := graceperiod.Validate(record.ClockInTime, record.ClockOutTime, window.Start, window.End, a.graceMinutes)
	age := record.AgeDays(now)

	res := Result{
		Profile:       a.profile.Name,
		RecordAgeDays: age,
		Geofence:      geo,
		Elements:      elems,
		GracePeriod:   grace,
	}

	compliant := geo.ComplianceLevel == models.LevelCompliant &&
		elems.IsValid &&
		grace.IsValid &&
		record.HasClockOut()

	var set flagSet
	if compliant {
		set.add(FlagCompliant, FlagAggregatorReady)
	} else {
		switch geo.ValidationType {
		case models.ValidationGPSAccuracyExceeded:
			set.add(FlagGPSAccuracyExceeded, FlagRequiresSupervisor)
		case models.ValidationOutsideGeofence:
			set.add(FlagGeofenceViolation, FlagRequiresSupervisor)
		case models.ValidationWithinAccuracyAllowance:
			set.add(FlagGeofenceWarning)
		}
		if !elems.AllElementsPresent {
			set.add(FlagMissingElements, FlagRequiresSupervisor)
		} else if !elems.IsValid {
			set.add(FlagInvalidElements)
		}
		if !grace.IsValid {
			set.add(FlagGracePeriodViolation)
		}
		if !record.HasClockOut() {
			set.add(FlagIncompleteVisit)
		}
		if age > a.vmurAgeDays && len(set.flags) > 0 {
			set.add(FlagRequiresVMUR)
		}
	}

	res.Flags = set.flags
	if res.Flags == nil {
		res.Flags = []Flag{}
	}
	switch {
	case res.HasFlag(FlagCompliant):
		res.ComplianceLevel = models.LevelCompliant
	case containsAny(res.Flags, nonCompliantFlags):
		res.ComplianceLevel = models.LevelNonCompliant
	default:
		res.ComplianceLevel = models.LevelWarning
	}
	res.IsCompliant = res.ComplianceLevel == models.LevelCompliant
	res.RequiresAction = containsAny(res.Flags, actionFlags)
	res.Recommendations = a.recommendations(res)
	res.Summary = a.summary(res)
	return res
}

// ElementsInput maps a record onto the six-elements input. GPS coordinates
// and method come from the clock-in capture.
func ElementsInput(r *models.EVVRecord) elements.Input {
	in := elements.Input{
		ServiceTypeCode:     r.ServiceTypeCode,
		ServiceTypeName:     r.ServiceTypeName,
		ClientMedicaidID:    r.ClientMedicaidID,
		ClientName:          r.ClientName,
		CaregiverName:       r.CaregiverName,
		CaregiverEmployeeID: r.CaregiverEmployeeID,
		CaregiverNPI:        r.CaregiverNPI,
		ServiceDate:         r.ServiceDate,
		AddressLine1:        r.ServiceAddress.Line1,
		ClockOut:            r.ClockOutTime,
	}
	if !r.ClientID.IsNil() {
		in.ClientID = r.ClientID.String()
	}
	if !r.CaregiverID.IsNil() {
		in.CaregiverID = r.CaregiverID.String()
	}
	if !r.ClockInTime.IsZero() {
		t := r.ClockInTime
		in.ClockIn = &t
	}
	v := r.ClockInVerification
	if v.Method != "" {
		lat, lon := v.Latitude, v.Longitude
		in.Latitude, in.Longitude = &lat, &lon
		in.VerificationMethod = string(v.Method)
	} else if p, ok := r.ServiceAddress.Coordinates(); ok {
		in.Latitude, in.Longitude = &p.Latitude, &p.Longitude
	}
	return in
}

func (a *Aggregator) recommendations(res Result) []string {
	recs := []string{}
	if res.IsCompliant {
		return recs
	}
	if res.HasFlag(FlagGPSAccuracyExceeded) || res.HasFlag(FlagGeofenceViolation) || res.HasFlag(FlagGeofenceWarning) {
		recs = append(recs, res.Geofence.SuggestedAction+".")
	}
	if res.HasFlag(FlagMissingElements) {
		recs = append(recs, "Supply the missing EVV elements: "+joinElements(res.Elements.MissingElements)+".")
	}
	if res.HasFlag(FlagInvalidElements) {
		recs = append(recs, "Correct the invalid EVV elements: "+joinElements(res.Elements.InvalidElements)+".")
	}
	if res.HasFlag(FlagGracePeriodViolation) {
		recs = append(recs, "Document the reason for the time variance: "+describeVariance(res.GracePeriod)+".")
	}
	if res.HasFlag(FlagIncompleteVisit) {
		recs = append(recs, "Record clock-out to complete the visit.")
	}
	if res.HasFlag(FlagRequiresVMUR) {
		recs = append(recs, fmt.Sprintf("Record is %d days old; submit a Visit Maintenance Unlock Request before making corrections.", res.RecordAgeDays))
	}
	if res.HasFlag(FlagRequiresSupervisor) {
		recs = append(recs, "Route the visit to a supervisor for review.")
	}
	return recs
}

func (a *Aggregator) summary(res Result) string {
	if res.IsCompliant {
		return fmt.Sprintf("Visit meets all EVV requirements under the %s profile and is ready for aggregator submission.", res.Profile)
	}
	issues := make([]string, 0, len(res.Flags))
	for _, f := range res.Flags {
		if f == FlagRequiresSupervisor || f == FlagRequiresVMUR {
			continue
		}
		issues = append(issues, string(f))
	}
	s := fmt.Sprintf("Visit is %s under the %s profile", res.ComplianceLevel, res.Profile)
	if len(issues) > 0 {
		s += fmt.Sprintf(" with %d issue(s): %s", len(issues), strings.Join(issues, ", "))
	}
	s += "."
	if res.RequiresAction {
		s += " Action is required before submission."
	} else {
		s += " Review is recommended before submission."
	}
	return s
}

func joinElements(elems []elements.Element) string {
	names := make([]string, len(elems))
	for i, e := range elems {
		names[i] = string(e)
	}
	return strings.Join(names, ", ")
}

func describeVariance(g graceperiod.Result) string {
	var parts []string
	if g.ClockInStatus == graceperiod.StatusViolation {
		parts = append(parts, "clock-in "+direction(g.ClockInVarianceMinutes))
	}
	if g.ClockOutStatus == graceperiod.StatusViolation && g.ClockOutVarianceMinutes != nil {
		parts = append(parts, "clock-out "+direction(*g.ClockOutVarianceMinutes))
	}
	return strings.Join(parts, " and ")
}

func direction(minutes float64) string {
	if minutes < 0 {
		return fmt.Sprintf("%.1f minutes early", math.Abs(minutes))
	}
	return fmt.Sprintf("%.1f minutes late", minutes)
}
