package audit

import (
	"context"
	"time"

	id "evv/pkg/domain"
)

// EventCategory classifies audit events by retention and routing needs.
type EventCategory string

const (
	// CategoryCompliance covers events with regulatory significance: every
	// clock event, override and submission must be reconstructable for payers.
	CategoryCompliance EventCategory = "compliance"

	// CategorySecurity covers permission failures and manual-review escalations.
	CategorySecurity EventCategory = "security"

	// CategoryOperations covers routine activity such as compliance recomputes.
	CategoryOperations EventCategory = "operations"
)

// Event is emitted from domain logic to capture key actions. Keep it
// transport-agnostic so stores and sinks can fan out.
type Event struct {
	ID        string        `json:"id"`
	Category  EventCategory `json:"category"`
	Timestamp time.Time     `json:"timestamp"`
	// UserID is the authenticated actor.
	UserID id.UserID `json:"user_id"`
	// Subject is the primary entity acted on, usually an EVV record ID.
	Subject   string `json:"subject"`
	Action    string `json:"action"`
	VisitID   string `json:"visit_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	Decision  string `json:"decision,omitempty"`
	Reason    string `json:"reason,omitempty"`
	RequestID string `json:"request_id,omitempty"`
}

// Store persists audit events. Append must be safe for concurrent use.
type Store interface {
	Append(ctx context.Context, event Event) error
	ListBySubject(ctx context.Context, subject string) ([]Event, error)
}

type AuditEvent string

const (
	EventClockIn             AuditEvent = "clock_in_recorded"
	EventClockOut            AuditEvent = "clock_out_recorded"
	EventTimeEntryOverridden AuditEvent = "time_entry_overridden"
	EventComplianceEvaluated AuditEvent = "compliance_evaluated"
	EventRecordSubmitted     AuditEvent = "record_submitted"
	EventRecordStatusChanged AuditEvent = "record_status_changed"
	EventClockDenied         AuditEvent = "clock_event_denied"

	EventSyncResolved     AuditEvent = "sync_resolved"
	EventSyncManualReview AuditEvent = "sync_manual_review"
	EventSyncFailed       AuditEvent = "sync_failed"
)

var eventCategories = map[AuditEvent]EventCategory{
	EventClockIn:             CategoryCompliance,
	EventClockOut:            CategoryCompliance,
	EventTimeEntryOverridden: CategoryCompliance,
	EventRecordSubmitted:     CategoryCompliance,
	EventRecordStatusChanged: CategoryCompliance,

	EventClockDenied:      CategorySecurity,
	EventSyncManualReview: CategorySecurity,
	EventSyncFailed:       CategorySecurity,

	EventComplianceEvaluated: CategoryOperations,
	EventSyncResolved:        CategoryOperations,
}

// Category returns the EventCategory for this audit event.
// Unknown events default to CategoryOperations.
func (e AuditEvent) Category() EventCategory {
	if cat, ok := eventCategories[e]; ok {
		return cat
	}
	return CategoryOperations
}
