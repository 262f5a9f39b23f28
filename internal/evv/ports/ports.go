//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

// Package ports defines the collaborator contracts the capture orchestrator
// depends on. Visit, client and caregiver data live in surrounding services;
// adapters translate those services into these shapes.
//
// Lookups return sentinel.ErrNotFound when the entity does not exist and
// sentinel.ErrUnavailable when the collaborator cannot be reached.
package ports

import (
	"context"
	"time"

	"evv/internal/evv/models"
	id "evv/pkg/domain"
	"evv/pkg/platform/audit"
)

// Visit is the visit-to-EVV linkage owned by scheduling.
type Visit struct {
	ID                  id.VisitID     `json:"id"`
	ServiceTypeCode     string         `json:"service_type_code"`
	ServiceTypeName     string         `json:"service_type_name"`
	ClientID            id.ClientID    `json:"client_id"`
	AssignedCaregiverID id.CaregiverID `json:"assigned_caregiver_id"`
	ServiceDate         string         `json:"service_date"`
	ServiceAddress      models.Address `json:"service_address"`
	ScheduledStart      time.Time      `json:"scheduled_start"`
	ScheduledEnd        time.Time      `json:"scheduled_end"`
}

// Client is the service recipient's identity.
type Client struct {
	ID         id.ClientID `json:"id"`
	Name       string      `json:"name"`
	MedicaidID string      `json:"medicaid_id,omitempty"`
}

// Caregiver is the provider's identity.
type Caregiver struct {
	ID                 id.CaregiverID `json:"id"`
	Name               string         `json:"name"`
	EmployeeID         string         `json:"employee_id"`
	NationalProviderID string         `json:"national_provider_id,omitempty"`
}

// Authorization is the answer to canProvideService.
type Authorization struct {
	Authorized         bool     `json:"authorized"`
	Reason             string   `json:"reason,omitempty"`
	MissingCredentials []string `json:"missing_credentials,omitempty"`
	BlockedReasons     []string `json:"blocked_reasons,omitempty"`
}

type VisitPort interface {
	GetVisit(ctx context.Context, visitID id.VisitID) (*Visit, error)
}

type ClientPort interface {
	GetClient(ctx context.Context, clientID id.ClientID) (*Client, error)
}

type CaregiverPort interface {
	GetCaregiver(ctx context.Context, caregiverID id.CaregiverID) (*Caregiver, error)
}

// AuthorizationPort checks the caregiver's credentials and the client's
// service authorization for a service type.
type AuthorizationPort interface {
	CanProvideService(ctx context.Context, caregiverID id.CaregiverID, serviceTypeCode string, clientID id.ClientID) (*Authorization, error)
}

// AuditPort is implemented by the audit publisher.
type AuditPort interface {
	Emit(ctx context.Context, event audit.Event) error
}
