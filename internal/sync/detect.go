package sync

import (
	"slices"

	"evv/internal/sync/models"
)

type Severity string

const (
	SeverityLow    Severity = "LOW"
	SeverityMedium Severity = "MEDIUM"
	SeverityHigh   Severity = "HIGH"
)

// mediumFieldThreshold is the number of differing non-critical fields above
// which a pending sync is flagged MEDIUM.
const mediumFieldThreshold = 3

// PotentialConflicts previews how contentious a sync would be so the device
// can warn before the user submits.
type PotentialConflicts struct {
	Severity       Severity `json:"severity"`
	Fields         []string `json:"fields"`
	CriticalFields []string `json:"critical_fields"`
}

// HasConflicts reports whether any field differs.
func (p PotentialConflicts) HasConflicts() bool {
	return len(p.Fields) > 0
}

// DetectPotentialConflicts compares every field of the two copies. Any
// differing critical field is HIGH; more than three differing non-critical
// fields is MEDIUM; anything else is LOW.
func (r *Resolver) DetectPotentialConflicts(client, server *models.Record) PotentialConflicts {
	client, server = client.Canonical(), server.Canonical()
	critical := criticalFields(server.Type)
	out := PotentialConflicts{
		Severity:       SeverityLow,
		Fields:         []string{},
		CriticalFields: []string{},
	}
	for _, c := range r.diff(client, server, critical) {
		out.Fields = append(out.Fields, c.Field)
		if c.Critical {
			out.CriticalFields = append(out.CriticalFields, c.Field)
		}
	}
	switch {
	case len(out.CriticalFields) > 0:
		out.Severity = SeverityHigh
	case len(out.Fields)-len(out.CriticalFields) > mediumFieldThreshold:
		out.Severity = SeverityMedium
	}
	return out
}

func criticalFields(t models.RecordType) []string {
	switch t {
	case models.RecordTypeEVV:
		return slices.Clone(evvCriticalFields)
	case models.RecordTypeVisit:
		return slices.Clone(visitCriticalFields)
	case models.RecordTypeTask:
		return slices.Clone(taskCriticalFields)
	}
	return nil
}
