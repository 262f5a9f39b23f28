package service

import (
	"context"
	"errors"
	"slices"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"evv/internal/evv/compliance"
	"evv/internal/evv/models"
	"evv/internal/evv/store"
	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/platform/audit"
	"evv/pkg/platform/sentinel"
	"evv/pkg/requestcontext"
)

// GetRecord returns a record the caller may see: supervisors see every
// record, caregivers only their own.
func (s *Service) GetRecord(ctx context.Context, recordID id.RecordID) (*models.EVVRecord, error) {
	act, err := actorFrom(requestcontext.UserID(ctx), requestcontext.ActorRole(ctx), requestcontext.CaregiverID(ctx))
	if err != nil {
		return nil, err
	}
	record, err := s.stores.Records.FindByID(ctx, recordID)
	if err != nil {
		return nil, translateStoreError(err, "evv record")
	}
	if !act.canActFor(record.CaregiverID) {
		// Hide existence from callers who may not see it.
		return nil, dErrors.New(dErrors.CodeNotFound, "evv record not found")
	}
	return record, nil
}

// ListTimeEntries returns the record's clock events in capture order.
func (s *Service) ListTimeEntries(ctx context.Context, recordID id.RecordID) ([]*models.TimeEntry, error) {
	record, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	entries, err := s.stores.Entries.ListByRecord(ctx, record.ID)
	if err != nil {
		return nil, translateStoreError(err, "time entries")
	}
	return entries, nil
}

// EvaluateCompliance runs the aggregator against the record's visit window
// and registered geofence, then stores the resulting flags on the record.
func (s *Service) EvaluateCompliance(ctx context.Context, recordID id.RecordID) (_ *compliance.Result, err error) {
	ctx, span := tracer.Start(ctx, "evv.EvaluateCompliance", trace.WithAttributes(attribute.String("record_id", recordID.String())))
	defer func() { endSpan(span, err) }()

	record, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	res, err := s.evaluate(ctx, record)
	if err != nil {
		return nil, err
	}

	flags := compliance.Strings(res.Flags)
	if !slices.Equal(flags, record.ComplianceFlags) {
		err = s.tx.RunInTx(ctx, record.VisitID.String(), func(ctx context.Context, stores store.Stores) error {
			current, err := stores.Records.FindByID(ctx, record.ID)
			if err != nil {
				return translateStoreError(err, "evv record")
			}
			current.ComplianceFlags = flags
			current.UpdatedAt = normalizeTime(requestcontext.Now(ctx))
			if err := stores.Records.Update(ctx, current); err != nil {
				return translateStoreError(err, "evv record")
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}

	s.metrics.IncComplianceLevel(string(res.ComplianceLevel))
	if err := s.emitAudit(ctx, audit.Event{
		UserID:    requestcontext.UserID(ctx),
		Subject:   record.ID.String(),
		Action:    string(audit.EventComplianceEvaluated),
		VisitID:   record.VisitID.String(),
		Decision:  string(res.ComplianceLevel),
		Reason:    strings.Join(flags, ","),
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		s.logger.WarnContext(ctx, "compliance evaluation not audited",
			"record_id", record.ID.String(),
			"compliance_level", res.ComplianceLevel,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
	}
	return res, nil
}

func (s *Service) evaluate(ctx context.Context, record *models.EVVRecord) (*compliance.Result, error) {
	visit, err := s.lookupVisit(ctx, record.VisitID)
	if err != nil {
		return nil, err
	}

	var expected compliance.ExpectedLocation
	fence, err := s.stores.Geofences.FindByID(ctx, record.GeofenceID)
	switch {
	case err == nil:
		expected = compliance.ExpectedFromGeofence(fence)
	case errors.Is(err, sentinel.ErrNotFound):
		center, ok := record.ServiceAddress.Coordinates()
		if !ok {
			return nil, dErrors.New(dErrors.CodeNotFound, "no registered location for record")
		}
		expected = compliance.ExpectedLocation{Point: center, RadiusMeters: s.defaultRadiusMeters, AllowedVarianceMeters: s.geofenceVariance}
	default:
		return nil, translateStoreError(err, "geofence")
	}

	window := compliance.ScheduledWindow{Start: visit.ScheduledStart, End: visit.ScheduledEnd}
	res := s.aggregator.ValidateCompliance(record, window, expected, requestcontext.Now(ctx))
	return &res, nil
}

// SubmitToAggregator marks a COMPLETE record SUBMITTED. Only records that
// evaluate as aggregator ready may be submitted.
func (s *Service) SubmitToAggregator(ctx context.Context, recordID id.RecordID) (*models.EVVRecord, *compliance.Result, error) {
	act, err := actorFrom(requestcontext.UserID(ctx), requestcontext.ActorRole(ctx), requestcontext.CaregiverID(ctx))
	if err != nil {
		return nil, nil, err
	}
	if !act.role.IsSupervisory() {
		return nil, nil, dErrors.New(dErrors.CodeForbidden, "only supervisors may submit records")
	}
	record, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return nil, nil, err
	}
	if record.RecordStatus != models.RecordComplete {
		return nil, nil, dErrors.New(dErrors.CodeConflict, "only COMPLETE records can be submitted; record is "+string(record.RecordStatus))
	}
	res, err := s.evaluate(ctx, record)
	if err != nil {
		return nil, nil, err
	}
	if !res.HasFlag(compliance.FlagAggregatorReady) {
		return nil, res, dErrors.New(dErrors.CodeValidation,
			"record is not aggregator ready: "+strings.Join(compliance.Strings(res.Flags), ", "))
	}

	now := normalizeTime(requestcontext.Now(ctx))
	var submitted *models.EVVRecord
	err = s.tx.RunInTx(ctx, record.VisitID.String(), func(ctx context.Context, stores store.Stores) error {
		current, err := stores.Records.FindByID(ctx, record.ID)
		if err != nil {
			return translateStoreError(err, "evv record")
		}
		if !current.RecordStatus.CanTransitionTo(models.RecordSubmitted) {
			return dErrors.New(dErrors.CodeConflict, "record is "+string(current.RecordStatus))
		}
		current.RecordStatus = models.RecordSubmitted
		current.SubmittedAt = &now
		current.ComplianceFlags = compliance.Strings(res.Flags)
		current.UpdatedAt = now
		if err := stores.Records.Update(ctx, current); err != nil {
			return translateStoreError(err, "evv record")
		}
		if err := s.emitAudit(ctx, audit.Event{
			UserID:    act.userID,
			Subject:   current.ID.String(),
			Action:    string(audit.EventRecordSubmitted),
			VisitID:   current.VisitID.String(),
			Decision:  string(res.ComplianceLevel),
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return auditUnavailable(err, "submission")
		}
		submitted = current
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	s.logger.InfoContext(ctx, "evv record submitted",
		"record_id", submitted.ID.String(),
		"visit_id", submitted.VisitID.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return submitted, res, nil
}

const maxNotesLength = 2000

// reviewStatuses are the targets the external review workflow may set.
// COMPLETE is reached by clock-out and SUBMITTED by SubmitToAggregator.
var reviewStatuses = []models.RecordStatus{
	models.RecordApproved,
	models.RecordRejected,
	models.RecordDisputed,
	models.RecordAmended,
	models.RecordVoided,
}

// TransitionStatus applies an external review decision. Once a record is
// past the unlock age, every change except VOIDED requires a visit
// maintenance unlock request and is refused here.
func (s *Service) TransitionStatus(ctx context.Context, req StatusChangeRequest) (*models.EVVRecord, error) {
	act, err := actorFrom(requestcontext.UserID(ctx), requestcontext.ActorRole(ctx), requestcontext.CaregiverID(ctx))
	if err != nil {
		return nil, err
	}
	if !act.role.IsSupervisory() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only supervisors may change record status")
	}
	if !slices.Contains(reviewStatuses, req.Status) {
		return nil, dErrors.New(dErrors.CodeValidation, "status cannot be set directly: "+string(req.Status))
	}

	record, err := s.GetRecord(ctx, req.RecordID)
	if err != nil {
		return nil, err
	}
	now := normalizeTime(requestcontext.Now(ctx))

	err = s.tx.RunInTx(ctx, record.VisitID.String(), func(ctx context.Context, stores store.Stores) error {
		current, err := stores.Records.FindByID(ctx, record.ID)
		if err != nil {
			return translateStoreError(err, "evv record")
		}
		if req.Status != models.RecordVoided && current.AgeDays(now) >= s.aggregator.VMURAgeDays() {
			return dErrors.New(dErrors.CodeConflict, "record is past the edit window; a visit maintenance unlock request is required")
		}
		if !current.RecordStatus.CanTransitionTo(req.Status) {
			return dErrors.New(dErrors.CodeConflict,
				"cannot move record from "+string(current.RecordStatus)+" to "+string(req.Status))
		}
		previous := current.RecordStatus
		current.RecordStatus = req.Status
		current.UpdatedAt = now
		if err := stores.Records.Update(ctx, current); err != nil {
			return translateStoreError(err, "evv record")
		}
		if err := s.emitAudit(ctx, audit.Event{
			UserID:    act.userID,
			Subject:   current.ID.String(),
			Action:    string(audit.EventRecordStatusChanged),
			VisitID:   current.VisitID.String(),
			Decision:  string(previous) + "->" + string(current.RecordStatus),
			Reason:    strings.TrimSpace(req.Reason),
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return auditUnavailable(err, "status change")
		}
		record = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return record, nil
}

// UpdateCaregiverNotes stores notes a device carried back for a record that
// has not been submitted. The write is conditioned on expectedVersion; a
// record that moved on yields an error matching sentinel.ErrConflict so the
// caller can re-read and resolve again.
func (s *Service) UpdateCaregiverNotes(ctx context.Context, recordID id.RecordID, expectedVersion int64, notes string) (*models.EVVRecord, error) {
	record, err := s.GetRecord(ctx, recordID)
	if err != nil {
		return nil, err
	}
	notes = strings.TrimSpace(notes)
	if len(notes) > maxNotesLength {
		return nil, dErrors.New(dErrors.CodeValidation, "caregiver notes exceed 2000 characters")
	}

	var updated *models.EVVRecord
	err = s.tx.RunInTx(ctx, record.VisitID.String(), func(ctx context.Context, stores store.Stores) error {
		current, err := stores.Records.FindByID(ctx, record.ID)
		if err != nil {
			return translateStoreError(err, "evv record")
		}
		if current.Version != expectedVersion {
			return dErrors.Wrap(sentinel.ErrConflict, dErrors.CodeConflict, "evv record was modified concurrently; retry")
		}
		if !current.AcceptsNotes() {
			return dErrors.New(dErrors.CodeConflict, "record is "+string(current.RecordStatus)+"; notes can no longer change")
		}
		if current.CaregiverNotes == notes {
			updated = current
			return nil
		}
		current.CaregiverNotes = notes
		current.UpdatedAt = normalizeTime(requestcontext.Now(ctx))
		if err := stores.Records.Update(ctx, current); err != nil {
			if errors.Is(err, sentinel.ErrConflict) {
				return dErrors.Wrap(err, dErrors.CodeConflict, "evv record was modified concurrently; retry")
			}
			return translateStoreError(err, "evv record")
		}
		updated = current
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}
