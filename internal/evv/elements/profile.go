package elements

import (
	"strings"

	dErrors "evv/pkg/domain-errors"
)

const (
	ProfileFederalMinimum = "FEDERAL_MINIMUM"
	ProfileStateEnhanced  = "STATE_ENHANCED"
)

// Profile is a jurisdiction's requirements on top of the federal minimum.
// Each toggle is independent so new jurisdictions are configuration.
type Profile struct {
	Name                  string `json:"name"`
	RequireMedicaidID     bool   `json:"require_medicaid_id"`
	RequireNPI            bool   `json:"require_npi"`
	RequireGPSAndMethod   bool   `json:"require_gps_and_method"`
	RequireCompletedVisit bool   `json:"require_completed_visit"`
}

// FederalMinimum is the 21st Century Cures Act baseline.
func FederalMinimum() Profile {
	return Profile{Name: ProfileFederalMinimum}
}

// StateEnhanced adds payer ID, NPI, and GPS-with-method requirements.
func StateEnhanced() Profile {
	return Profile{
		Name:                ProfileStateEnhanced,
		RequireMedicaidID:   true,
		RequireNPI:          true,
		RequireGPSAndMethod: true,
	}
}

// ProfileByName resolves one of the built-in profiles.
func ProfileByName(name string) (Profile, error) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case ProfileFederalMinimum, "FEDERAL", "":
		return FederalMinimum(), nil
	case ProfileStateEnhanced, "STATE":
		return StateEnhanced(), nil
	}
	return Profile{}, dErrors.New(dErrors.CodeValidation, "unknown compliance profile: "+name)
}
