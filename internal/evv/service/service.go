// Package service is the EVV capture orchestrator. It turns clock events into
// time entries and EVV records, keeps geofence counters current, and runs the
// compliance aggregator on demand.
//
// Every mutation for a visit runs inside store.TxRunner keyed by the visit ID,
// so clock-in and clock-out for one visit are serialized while unrelated
// visits proceed in parallel.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"evv/internal/evv/compliance"
	"evv/internal/evv/geofence"
	"evv/internal/evv/metrics"
	"evv/internal/evv/ports"
	"evv/internal/evv/store"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/platform/audit"
)

const (
	DefaultCollaboratorTimeout    = 5 * time.Second
	DefaultGeofenceRadiusMeters   = 100.0
	defaultFutureCaptureTolerance = 5 * time.Minute
)

var tracer = otel.Tracer("evv/internal/evv/service")

// Service orchestrates clock-in, clock-out, overrides and compliance.
type Service struct {
	stores     store.Stores
	tx         store.TxRunner
	visits     ports.VisitPort
	clients    ports.ClientPort
	caregivers ports.CaregiverPort
	authz      ports.AuthorizationPort

	auditor    ports.AuditPort
	aggregator *compliance.Aggregator
	validator  *geofence.Validator
	metrics    *metrics.Metrics
	logger     *slog.Logger

	collaboratorTimeout    time.Duration
	defaultRadiusMeters    float64
	geofenceVariance       float64
	futureCaptureTolerance time.Duration
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

// WithAuditor sets the audit publisher. Audit events for clock events,
// overrides and status changes are written in the same transaction as the
// change, so a failed audit write rolls the change back.
func WithAuditor(a ports.AuditPort) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

func WithAggregator(a *compliance.Aggregator) Option {
	return func(s *Service) {
		if a != nil {
			s.aggregator = a
		}
	}
}

func WithGeofenceValidator(v *geofence.Validator) Option {
	return func(s *Service) {
		if v != nil {
			s.validator = v
		}
	}
}

func WithCollaboratorTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.collaboratorTimeout = d
		}
	}
}

// WithDefaultGeofenceRadius is used when an address carries no radius of its own.
func WithDefaultGeofenceRadius(meters float64) Option {
	return func(s *Service) {
		if meters > 0 {
			s.defaultRadiusMeters = meters
		}
	}
}

func WithGeofenceVariance(meters float64) Option {
	return func(s *Service) {
		if meters >= 0 {
			s.geofenceVariance = meters
		}
	}
}

// Collaborators groups the ports the orchestrator reads from.
type Collaborators struct {
	Visits        ports.VisitPort
	Clients       ports.ClientPort
	Caregivers    ports.CaregiverPort
	Authorization ports.AuthorizationPort
}

func New(stores store.Stores, tx store.TxRunner, collab Collaborators, opts ...Option) (*Service, error) {
	if stores.Records == nil || stores.Entries == nil || stores.Geofences == nil {
		return nil, errors.New("evv stores are required")
	}
	if tx == nil {
		return nil, errors.New("transaction runner is required")
	}
	if collab.Visits == nil || collab.Clients == nil || collab.Caregivers == nil || collab.Authorization == nil {
		return nil, errors.New("visit, client, caregiver and authorization collaborators are required")
	}

	s := &Service{
		stores:                 stores,
		tx:                     tx,
		visits:                 collab.Visits,
		clients:                collab.Clients,
		caregivers:             collab.Caregivers,
		authz:                  collab.Authorization,
		validator:              geofence.NewValidator(),
		collaboratorTimeout:    DefaultCollaboratorTimeout,
		defaultRadiusMeters:    DefaultGeofenceRadiusMeters,
		futureCaptureTolerance: defaultFutureCaptureTolerance,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	if s.aggregator == nil {
		s.aggregator = compliance.NewAggregator(compliance.WithGeofenceValidator(s.validator))
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

// Aggregator exposes the configured compliance aggregator.
func (s *Service) Aggregator() *compliance.Aggregator {
	return s.aggregator
}

// emitAudit records a compliance-relevant event. Only the publisher's own
// failure is returned; a missing auditor is a no-op.
func (s *Service) emitAudit(ctx context.Context, event audit.Event) error {
	if s.auditor == nil {
		return nil
	}
	if err := s.auditor.Emit(ctx, event); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit audit event",
			"action", event.Action,
			"subject", event.Subject,
			"error", err,
		)
		return err
	}
	return nil
}

// auditUnavailable aborts the surrounding transaction. Nothing was recorded,
// so the device may retry the same request.
func auditUnavailable(err error, what string) error {
	return dErrors.Wrap(err, dErrors.CodeUnavailable, what+" not recorded: audit trail unavailable")
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
