package compliance

// Flag is an open, string-keyed compliance signal. New flags can be added
// without touching stored records.
type Flag string

const (
	FlagCompliant            Flag = "COMPLIANT"
	FlagAggregatorReady      Flag = "AGGREGATOR_READY"
	FlagGPSAccuracyExceeded  Flag = "GPS_ACCURACY_EXCEEDED"
	FlagGeofenceViolation    Flag = "GEOFENCE_VIOLATION"
	FlagGeofenceWarning      Flag = "GEOFENCE_WARNING"
	FlagMissingElements      Flag = "MISSING_ELEMENTS"
	FlagInvalidElements      Flag = "INVALID_ELEMENTS"
	FlagGracePeriodViolation Flag = "GRACE_PERIOD_VIOLATION"
	FlagIncompleteVisit      Flag = "INCOMPLETE_VISIT"
	FlagRequiresSupervisor   Flag = "REQUIRES_SUPERVISOR"
	FlagRequiresVMUR         Flag = "REQUIRES_VMUR"
)

var (
	nonCompliantFlags = []Flag{FlagGeofenceViolation, FlagGPSAccuracyExceeded, FlagMissingElements, FlagGracePeriodViolation}
	actionFlags       = []Flag{FlagRequiresSupervisor, FlagRequiresVMUR, FlagGeofenceViolation, FlagGPSAccuracyExceeded, FlagMissingElements}
)

// flagSet keeps first-emission order and drops duplicates.
type flagSet struct {
	flags []Flag
}

func (s *flagSet) add(flags ...Flag) {
	for _, f := range flags {
		if !s.has(f) {
			s.flags = append(s.flags, f)
		}
	}
}

func (s *flagSet) has(f Flag) bool {
	return containsFlag(s.flags, f)
}

func containsFlag(flags []Flag, f Flag) bool {
	for _, existing := range flags {
		if existing == f {
			return true
		}
	}
	return false
}

func containsAny(flags []Flag, wanted []Flag) bool {
	for _, f := range wanted {
		if containsFlag(flags, f) {
			return true
		}
	}
	return false
}

// Strings converts flags for storage on the record.
func Strings(flags []Flag) []string {
	out := make([]string, len(flags))
	for i, f := range flags {
		out[i] = string(f)
	}
	return out
}
