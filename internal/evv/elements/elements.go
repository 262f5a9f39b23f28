// Package elements checks the six federally mandated EVV data elements under
// a selectable jurisdiction profile.
package elements

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"evv/internal/evv/models"
)

type Element string

const (
	ServiceType     Element = "SERVICE_TYPE"
	Client          Element = "CLIENT"
	Caregiver       Element = "CAREGIVER"
	ServiceDate     Element = "SERVICE_DATE"
	ServiceLocation Element = "SERVICE_LOCATION"
	ServiceTime     Element = "SERVICE_TIME"
)

// All lists the elements in evaluation order.
var All = []Element{ServiceType, Client, Caregiver, ServiceDate, ServiceLocation, ServiceTime}

const (
	LevelCompliant    = "COMPLIANT"
	LevelPartial      = "PARTIAL"
	LevelNonCompliant = "NON_COMPLIANT"
)

const dateLayout = "2006-01-02"

var (
	serviceCodePattern = regexp.MustCompile(`^[A-Za-z0-9.\-]{1,20}$`)
	medicaidIDPattern  = regexp.MustCompile(`^[A-Za-z0-9]{6,14}$`)
	npiPattern         = regexp.MustCompile(`^[0-9]{10}$`)
)

// Input carries the raw element data for one visit.
type Input struct {
	ServiceTypeCode string
	ServiceTypeName string

	ClientID         string
	ClientName       string
	ClientMedicaidID string

	CaregiverID         string
	CaregiverName       string
	CaregiverEmployeeID string
	CaregiverNPI        string

	ServiceDate string

	AddressLine1       string
	Latitude           *float64
	Longitude          *float64
	VerificationMethod string

	ClockIn  *time.Time
	ClockOut *time.Time
}

// ElementResult is the outcome for one element.
//
// StateEnhanced marks an outcome that rests on a requirement the profile adds
// beyond the federal minimum: a pass that satisfied such a requirement, or a
// miss caused only by it. Failures of the federal checks are never marked,
// whatever the profile.
type ElementResult struct {
	Element           Element `json:"element"`
	IsPresent         bool    `json:"is_present"`
	IsValid           bool    `json:"is_valid"`
	ValidationMessage string  `json:"validation_message"`
	Required          bool    `json:"required"`
	StateEnhanced     bool    `json:"state_enhanced"`
	// FederalValid reports whether the element meets the federal minimum.
	FederalValid bool `json:"federal_valid"`
}

// Result aggregates the six element outcomes.
type Result struct {
	Profile            string          `json:"profile"`
	Elements           []ElementResult `json:"elements"`
	AllElementsPresent bool            `json:"all_elements_present"`
	IsValid            bool            `json:"is_valid"`
	FederalCompliant   bool            `json:"federal_compliant"`
	ComplianceLevel    string          `json:"compliance_level"`
	MissingElements    []Element       `json:"missing_elements"`
	InvalidElements    []Element       `json:"invalid_elements"`
}

// Element returns the result for e.
func (r Result) Element(e Element) (ElementResult, bool) {
	for _, er := range r.Elements {
		if er.Element == e {
			return er, true
		}
	}
	return ElementResult{}, false
}

// Validate evaluates every element independently under profile.
//
// FederalCompliant holds when every element not marked StateEnhanced is
// present and valid, so a record that misses only state additions is still
// federally compliant.
func Validate(in Input, profile Profile) Result {
	res := Result{
		Profile:          profile.Name,
		Elements:         evaluate(in, profile),
		FederalCompliant: true,
		MissingElements:  []Element{},
		InvalidElements:  []Element{},
	}
	for i := range res.Elements {
		er := &res.Elements[i]
		passed := er.IsPresent && er.IsValid
		er.FederalValid = passed || er.StateEnhanced
		if !er.StateEnhanced && !passed {
			res.FederalCompliant = false
		}
		switch {
		case !er.IsPresent:
			res.MissingElements = append(res.MissingElements, er.Element)
		case !er.IsValid:
			res.InvalidElements = append(res.InvalidElements, er.Element)
		}
	}

	res.AllElementsPresent = len(res.MissingElements) == 0
	res.IsValid = res.AllElementsPresent && len(res.InvalidElements) == 0
	switch {
	case res.IsValid:
		res.ComplianceLevel = LevelCompliant
	case res.AllElementsPresent:
		res.ComplianceLevel = LevelPartial
	default:
		res.ComplianceLevel = LevelNonCompliant
	}
	return res
}

func evaluate(in Input, p Profile) []ElementResult {
	return []ElementResult{
		serviceType(in),
		client(in, p),
		caregiver(in, p),
		serviceDate(in),
		serviceLocation(in, p),
		serviceTime(in, p),
	}
}

func present(e Element, enhanced bool) ElementResult {
	return ElementResult{Element: e, IsPresent: true, IsValid: true, Required: true, StateEnhanced: enhanced, ValidationMessage: "valid"}
}

func missing(e Element, enhanced bool, msg string) ElementResult {
	return ElementResult{Element: e, Required: true, StateEnhanced: enhanced, ValidationMessage: msg}
}

// invalid fails a federal format check.
func invalid(r ElementResult, msg string) ElementResult {
	r.IsValid = false
	r.StateEnhanced = false
	r.ValidationMessage = msg
	return r
}

func blank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func serviceType(in Input) ElementResult {
	if blank(in.ServiceTypeCode) {
		return missing(ServiceType, false, "service type code is missing")
	}
	r := present(ServiceType, false)
	if !serviceCodePattern.MatchString(strings.TrimSpace(in.ServiceTypeCode)) {
		return invalid(r, "service type code must be 1-20 letters, digits, '.' or '-'")
	}
	return r
}

func client(in Input, p Profile) ElementResult {
	if blank(in.ClientID) {
		return missing(Client, false, "client identifier is missing")
	}
	if p.RequireMedicaidID && blank(in.ClientMedicaidID) {
		return missing(Client, true, "client Medicaid ID is required by "+p.Name)
	}
	r := present(Client, p.RequireMedicaidID)
	if !blank(in.ClientMedicaidID) && !medicaidIDPattern.MatchString(strings.TrimSpace(in.ClientMedicaidID)) {
		return invalid(r, "client Medicaid ID must be 6-14 alphanumeric characters")
	}
	return r
}

func caregiver(in Input, p Profile) ElementResult {
	if blank(in.CaregiverID) || blank(in.CaregiverEmployeeID) {
		return missing(Caregiver, false, "caregiver identifier and employee ID are required")
	}
	if p.RequireNPI && blank(in.CaregiverNPI) {
		return missing(Caregiver, true, "caregiver NPI is required by "+p.Name)
	}
	r := present(Caregiver, p.RequireNPI)
	if !blank(in.CaregiverNPI) && !ValidNPI(strings.TrimSpace(in.CaregiverNPI)) {
		return invalid(r, "caregiver NPI fails the check digit")
	}
	return r
}

func serviceDate(in Input) ElementResult {
	d, err := time.Parse(dateLayout, strings.TrimSpace(in.ServiceDate))
	if err != nil {
		return missing(ServiceDate, false, "service date is missing or not YYYY-MM-DD")
	}
	r := present(ServiceDate, false)
	if in.ClockIn != nil && !in.ClockIn.IsZero() {
		// One day of slack either way covers agency-local vs UTC calendars.
		diff := in.ClockIn.UTC().Sub(d)
		if diff < -24*time.Hour || diff >= 48*time.Hour {
			return invalid(r, fmt.Sprintf("service date %s does not match clock-in date %s", in.ServiceDate, in.ClockIn.UTC().Format(dateLayout)))
		}
	}
	return r
}

func serviceLocation(in Input, p Profile) ElementResult {
	hasCoords := in.Latitude != nil && in.Longitude != nil
	if blank(in.AddressLine1) && !hasCoords {
		return missing(ServiceLocation, false, "service address or GPS coordinates are required")
	}
	r := present(ServiceLocation, p.RequireGPSAndMethod)
	if hasCoords && !(models.Point{Latitude: *in.Latitude, Longitude: *in.Longitude}).IsValid() {
		return invalid(r, "GPS coordinates are out of range")
	}
	if !blank(in.VerificationMethod) && !models.LocationMethod(strings.ToUpper(strings.TrimSpace(in.VerificationMethod))).IsValid() {
		return invalid(r, "unknown verification method "+in.VerificationMethod)
	}
	if p.RequireGPSAndMethod {
		if !hasCoords {
			return missing(ServiceLocation, true, "GPS coordinates are required by "+p.Name)
		}
		if blank(in.VerificationMethod) {
			return missing(ServiceLocation, true, "verification method is required by "+p.Name)
		}
	}
	return r
}

func serviceTime(in Input, p Profile) ElementResult {
	if in.ClockIn == nil || in.ClockIn.IsZero() {
		return missing(ServiceTime, false, "clock-in time is missing")
	}
	if p.RequireCompletedVisit && (in.ClockOut == nil || in.ClockOut.IsZero()) {
		return missing(ServiceTime, true, "clock-out time is required by "+p.Name)
	}
	r := present(ServiceTime, p.RequireCompletedVisit)
	if in.ClockOut != nil && !in.ClockOut.IsZero() && !in.ClockOut.After(*in.ClockIn) {
		return invalid(r, "clock-out must be after clock-in")
	}
	if in.ClockOut == nil {
		r.ValidationMessage = "visit in progress"
	}
	return r
}

// ValidNPI checks a National Provider Identifier: ten digits whose Luhn
// check digit is computed over the "80840" card-issuer prefix.
func ValidNPI(npi string) bool {
	if !npiPattern.MatchString(npi) {
		return false
	}
	digits := "80840" + npi
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
