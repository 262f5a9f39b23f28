package elements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ptr[T any](v T) *T { return &v }

func validInput() Input {
	in := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	out := in.Add(2 * time.Hour)
	return Input{
		ServiceTypeCode:     "T1019",
		ServiceTypeName:     "Personal Care",
		ClientID:            "client-1",
		ClientName:          "Ada Client",
		ClientMedicaidID:    "TX12345678",
		CaregiverID:         "cg-1",
		CaregiverName:       "Grace Giver",
		CaregiverEmployeeID: "E-100",
		CaregiverNPI:        "1234567893",
		ServiceDate:         "2026-03-02",
		AddressLine1:        "100 Congress Ave",
		Latitude:            ptr(30.2672),
		Longitude:           ptr(-97.7431),
		VerificationMethod:  "GPS",
		ClockIn:             &in,
		ClockOut:            &out,
	}
}

func TestValidate_FullyValidInput(t *testing.T) {
	for _, p := range []Profile{FederalMinimum(), StateEnhanced()} {
		res := Validate(validInput(), p)
		require.Len(t, res.Elements, 6)
		assert.True(t, res.AllElementsPresent, p.Name)
		assert.True(t, res.IsValid, p.Name)
		assert.True(t, res.FederalCompliant, p.Name)
		assert.Equal(t, LevelCompliant, res.ComplianceLevel)
		assert.Empty(t, res.MissingElements)
		assert.Empty(t, res.InvalidElements)
		for i, er := range res.Elements {
			assert.Equal(t, All[i], er.Element)
			assert.True(t, er.Required)
		}
	}
}

func TestValidate_RemovingAnyElementIsNonCompliant(t *testing.T) {
	removals := map[Element]func(*Input){
		ServiceType: func(in *Input) { in.ServiceTypeCode = "  " },
		Client:      func(in *Input) { in.ClientID = "" },
		Caregiver:   func(in *Input) { in.CaregiverEmployeeID = "" },
		ServiceDate: func(in *Input) { in.ServiceDate = "03/02/2026" },
		ServiceLocation: func(in *Input) {
			in.AddressLine1 = ""
			in.Latitude, in.Longitude = nil, nil
		},
		ServiceTime: func(in *Input) { in.ClockIn = nil },
	}

	for _, p := range []Profile{FederalMinimum(), StateEnhanced()} {
		for elem, remove := range removals {
			in := validInput()
			remove(&in)
			res := Validate(in, p)
			assert.False(t, res.AllElementsPresent, "%s/%s", p.Name, elem)
			assert.False(t, res.IsValid, "%s/%s", p.Name, elem)
			assert.Equal(t, LevelNonCompliant, res.ComplianceLevel, "%s/%s", p.Name, elem)
			assert.Contains(t, res.MissingElements, elem)
			assert.False(t, res.FederalCompliant)
		}
	}
}

func TestValidate_EnhancedRequirements(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*Input)
		element Element
	}{
		"medicaid id": {func(in *Input) { in.ClientMedicaidID = "" }, Client},
		"npi":         {func(in *Input) { in.CaregiverNPI = "" }, Caregiver},
		"gps":         {func(in *Input) { in.Latitude = nil }, ServiceLocation},
		"method":      {func(in *Input) { in.VerificationMethod = "" }, ServiceLocation},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)

			federal := Validate(in, FederalMinimum())
			assert.True(t, federal.IsValid)
			assert.Equal(t, LevelCompliant, federal.ComplianceLevel)

			enhanced := Validate(in, StateEnhanced())
			assert.Equal(t, LevelNonCompliant, enhanced.ComplianceLevel)
			assert.Equal(t, []Element{tc.element}, enhanced.MissingElements)
			assert.True(t, enhanced.FederalCompliant, "federal minimum still met")

			er, ok := enhanced.Element(tc.element)
			require.True(t, ok)
			assert.True(t, er.StateEnhanced)
			assert.True(t, er.FederalValid)
			assert.False(t, er.IsPresent)
		})
	}
}

func TestValidate_FederalComplianceExcusesOnlyStateAdditions(t *testing.T) {
	mutations := map[string]func(*Input){
		"no medicaid id":        func(in *Input) { in.ClientMedicaidID = "" },
		"no npi":                func(in *Input) { in.CaregiverNPI = "" },
		"no gps":                func(in *Input) { in.Latitude = nil },
		"no method":             func(in *Input) { in.VerificationMethod = "" },
		"no client":             func(in *Input) { in.ClientID = "" },
		"short medicaid id":     func(in *Input) { in.ClientMedicaidID = "123" },
		"bad npi check digit":   func(in *Input) { in.CaregiverNPI = "1234567890" },
		"no gps and bad method": func(in *Input) { in.Latitude, in.VerificationMethod = nil, "CARRIER_PIGEON" },
		"date mismatch":         func(in *Input) { in.ServiceDate = "2026-02-20" },
		"in progress":           func(in *Input) { in.ClockOut = nil },
	}

	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			mutate(&in)
			federal := Validate(in, FederalMinimum())
			enhanced := Validate(in, StateEnhanced())

			assert.Equal(t, federal.IsValid, enhanced.FederalCompliant)
			for i, er := range enhanced.Elements {
				fe := federal.Elements[i]
				assert.Equal(t, fe.IsPresent && fe.IsValid, er.FederalValid, er.Element)
				if !er.IsPresent || !er.IsValid {
					assert.Equal(t, fe.IsPresent && fe.IsValid, er.StateEnhanced, er.Element)
				}
			}
		})
	}

	t.Run("a missing client is not excused by the state profile", func(t *testing.T) {
		in := validInput()
		in.ClientID = ""
		res := Validate(in, StateEnhanced())
		er, ok := res.Element(Client)
		require.True(t, ok)
		assert.False(t, er.StateEnhanced)
		assert.False(t, er.FederalValid)
		assert.False(t, res.FederalCompliant)
	})
}

func TestValidate_InProgressVisit(t *testing.T) {
	in := validInput()
	in.ClockOut = nil

	res := Validate(in, StateEnhanced())
	assert.True(t, res.IsValid)
	er, _ := res.Element(ServiceTime)
	assert.Equal(t, "visit in progress", er.ValidationMessage)

	custom := StateEnhanced()
	custom.Name = "STATE_COMPLETED_ONLY"
	custom.RequireCompletedVisit = true
	res = Validate(in, custom)
	assert.Equal(t, []Element{ServiceTime}, res.MissingElements)
	assert.True(t, res.FederalCompliant)
}

func TestValidate_InvalidElementsArePartial(t *testing.T) {
	cases := map[string]struct {
		mutate  func(*Input)
		element Element
	}{
		"service code":   {func(in *Input) { in.ServiceTypeCode = "T1019 / hourly" }, ServiceType},
		"medicaid id":    {func(in *Input) { in.ClientMedicaidID = "123" }, Client},
		"npi check":      {func(in *Input) { in.CaregiverNPI = "1234567890" }, Caregiver},
		"date mismatch":  {func(in *Input) { in.ServiceDate = "2026-02-20" }, ServiceDate},
		"coordinates":    {func(in *Input) { in.Latitude = ptr(91.0) }, ServiceLocation},
		"unknown method": {func(in *Input) { in.VerificationMethod = "CARRIER_PIGEON" }, ServiceLocation},
		"out before in": {func(in *Input) {
			early := in.ClockIn.Add(-time.Minute)
			in.ClockOut = &early
		}, ServiceTime},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			in := validInput()
			tc.mutate(&in)
			res := Validate(in, StateEnhanced())
			assert.True(t, res.AllElementsPresent)
			assert.False(t, res.IsValid)
			assert.Equal(t, LevelPartial, res.ComplianceLevel)
			assert.Equal(t, []Element{tc.element}, res.InvalidElements)
		})
	}
}

func TestValidate_CustomProfileToggles(t *testing.T) {
	in := validInput()
	in.CaregiverNPI = ""
	in.ClientMedicaidID = ""

	onlyNPI := Profile{Name: "NPI_ONLY", RequireNPI: true}
	res := Validate(in, onlyNPI)
	assert.Equal(t, []Element{Caregiver}, res.MissingElements)
	assert.Equal(t, "NPI_ONLY", res.Profile)
}

func TestValidNPI(t *testing.T) {
	assert.True(t, ValidNPI("1234567893"))
	assert.False(t, ValidNPI("1234567890"))
	assert.False(t, ValidNPI("123456789"))
	assert.False(t, ValidNPI("12345678AB"))
}

func TestProfileByName(t *testing.T) {
	p, err := ProfileByName("state_enhanced")
	require.NoError(t, err)
	assert.Equal(t, StateEnhanced(), p)

	p, err = ProfileByName("")
	require.NoError(t, err)
	assert.Equal(t, FederalMinimum(), p)

	_, err = ProfileByName("MARS")
	assert.Error(t, err)
}
