package service

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"evv/internal/evv/models"
	"evv/internal/evv/store"
	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/platform/audit"
	"evv/pkg/platform/sentinel"
	"evv/pkg/requestcontext"
)

// ClockIn opens the EVV record for a visit.
//
// The caller must be the visit's assigned caregiver or a supervisor, and the
// caregiver must be authorized for the service. The location is verified
// against the geofence for the service address, which is created on first use.
func (s *Service) ClockIn(ctx context.Context, req ClockInRequest) (_ *ClockResult, err error) {
	ctx, span := tracer.Start(ctx, "evv.ClockIn", trace.WithAttributes(attribute.String("visit_id", req.VisitID.String())))
	defer func() { endSpan(span, err) }()
	start := time.Now()
	defer func() { s.metrics.ObserveCapture("clock_in", time.Since(start)) }()

	act, err := actorFrom(requestcontext.UserID(ctx), requestcontext.ActorRole(ctx), requestcontext.CaregiverID(ctx))
	if err != nil {
		return nil, err
	}
	if req.VisitID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "visit id is required")
	}
	now := normalizeTime(requestcontext.Now(ctx))
	sample, err := normalizeSample(req.Location, now, s.futureCaptureTolerance)
	if err != nil {
		return nil, err
	}

	visit, err := s.lookupVisit(ctx, req.VisitID)
	if err != nil {
		return nil, err
	}
	if !act.canActFor(visit.AssignedCaregiverID) {
		s.denyClockEvent(ctx, act, visit.ID, "caller is not the assigned caregiver")
		return nil, dErrors.New(dErrors.CodeForbidden, "only the assigned caregiver or a supervisor may clock in")
	}
	center, ok := visit.ServiceAddress.Coordinates()
	if !ok {
		return nil, dErrors.New(dErrors.CodeValidation, "service address has no resolved coordinates")
	}

	vc, err := s.gatherVisitContext(ctx, visit)
	if err != nil {
		return nil, err
	}
	if !vc.authorization.Authorized {
		reason := authorizationReason(vc.authorization.Reason, vc.authorization.MissingCredentials, vc.authorization.BlockedReasons)
		s.denyClockEvent(ctx, act, visit.ID, reason)
		return nil, dErrors.New(dErrors.CodeForbidden, "caregiver is not authorized for this service: "+reason)
	}

	var result *ClockResult
	err = s.tx.RunInTx(ctx, visit.ID.String(), func(ctx context.Context, stores store.Stores) error {
		existing, err := stores.Records.FindByVisitID(ctx, visit.ID)
		switch {
		case err == nil:
			return alreadyClockedError(existing)
		case !errors.Is(err, sentinel.ErrNotFound):
			return translateStoreError(err, "evv record")
		}

		fence, err := s.resolveGeofence(ctx, stores, visit.ServiceAddress, center, now)
		if err != nil {
			return err
		}
		geo := s.validator.Validate(sample, fence.Center(), fence.RadiusMeters, fence.AllowedVarianceMeters)
		if _, err := stores.Geofences.RecordVerification(ctx, fence.ID, geo.Delta(), now); err != nil {
			return translateStoreError(err, "geofence")
		}
		verification := geo.Verification(sample, fence.ID.String())

		entry := s.newEntry(ctx, act, visit.ID, visit.AssignedCaregiverID, models.EntryClockIn, sample, verification, now)
		if err := stores.Entries.Append(ctx, entry); err != nil {
			return translateStoreError(err, "time entry")
		}

		level := models.VerificationPartial
		if verification.VerificationPassed {
			level = models.VerificationFull
		}
		serviceDate := strings.TrimSpace(visit.ServiceDate)
		if serviceDate == "" {
			serviceDate = sample.CapturedAt.Format("2006-01-02")
		}
		record := &models.EVVRecord{
			ID:                  id.NewRecordID(),
			VisitID:             visit.ID,
			ServiceTypeCode:     visit.ServiceTypeCode,
			ServiceTypeName:     visit.ServiceTypeName,
			ClientID:            vc.client.ID,
			ClientName:          vc.client.Name,
			ClientMedicaidID:    vc.client.MedicaidID,
			CaregiverID:         vc.caregiver.ID,
			CaregiverName:       vc.caregiver.Name,
			CaregiverEmployeeID: vc.caregiver.EmployeeID,
			CaregiverNPI:        vc.caregiver.NationalProviderID,
			ServiceDate:         serviceDate,
			ServiceAddress:      visit.ServiceAddress,
			ClockInTime:         sample.CapturedAt,
			ClockInVerification: verification,
			GeofenceID:          fence.ID,
			RecordStatus:        models.RecordPending,
			VerificationLevel:   level,
			ComplianceFlags:     []string{},
			RecordedBy:          act.userID,
			RecordedAt:          now,
			UpdatedAt:           now,
		}
		record.IntegrityHash = models.ComputeIntegrityHash(record)
		if err := stores.Records.Create(ctx, record); err != nil {
			if errors.Is(err, sentinel.ErrAlreadyUsed) {
				return dErrors.New(dErrors.CodeConflict, "visit already clocked in")
			}
			return translateStoreError(err, "evv record")
		}
		if err := stores.Entries.LinkRecord(ctx, entry.ID, record.ID); err != nil {
			return translateStoreError(err, "time entry")
		}
		entry.RecordID = record.ID

		if err := s.emitAudit(ctx, audit.Event{
			UserID:    act.userID,
			Subject:   record.ID.String(),
			Action:    string(audit.EventClockIn),
			VisitID:   visit.ID.String(),
			DeviceID:  entry.Device.ID,
			Decision:  string(geo.ValidationType),
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return auditUnavailable(err, "clock-in")
		}
		result = &ClockResult{Record: record, Entry: entry, Verification: geo}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncClockEvent("clock_in", result.Verification.WithinGeofence)
	s.metrics.IncGeofenceOutcome(string(result.Verification.ValidationType))
	s.logger.InfoContext(ctx, "clock-in recorded",
		"visit_id", visit.ID.String(),
		"record_id", result.Record.ID.String(),
		"validation_type", result.Verification.ValidationType,
		"distance_meters", result.Verification.DistanceMeters,
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

// ClockOut completes a pending record. The location is verified against the
// geofence stored at clock-in.
func (s *Service) ClockOut(ctx context.Context, req ClockOutRequest) (_ *ClockResult, err error) {
	ctx, span := tracer.Start(ctx, "evv.ClockOut", trace.WithAttributes(attribute.String("visit_id", req.VisitID.String())))
	defer func() { endSpan(span, err) }()
	start := time.Now()
	defer func() { s.metrics.ObserveCapture("clock_out", time.Since(start)) }()

	act, err := actorFrom(requestcontext.UserID(ctx), requestcontext.ActorRole(ctx), requestcontext.CaregiverID(ctx))
	if err != nil {
		return nil, err
	}
	if req.VisitID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "visit id is required")
	}
	now := normalizeTime(requestcontext.Now(ctx))
	sample, err := normalizeSample(req.Location, now, s.futureCaptureTolerance)
	if err != nil {
		return nil, err
	}
	var attestation *models.Attestation
	if req.Attestation != nil {
		if strings.TrimSpace(req.Attestation.Signature) == "" || strings.TrimSpace(req.Attestation.SignedBy) == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "attestation requires signer and signature")
		}
		attestation = &models.Attestation{
			SignedBy:      strings.TrimSpace(req.Attestation.SignedBy),
			SignatureHash: models.HashSignature(req.Attestation.Signature),
			SignedAt:      sample.CapturedAt,
		}
	}

	var result *ClockResult
	err = s.tx.RunInTx(ctx, req.VisitID.String(), func(ctx context.Context, stores store.Stores) error {
		record, err := stores.Records.FindByVisitID(ctx, req.VisitID)
		if err != nil {
			if errors.Is(err, sentinel.ErrNotFound) {
				return dErrors.New(dErrors.CodeNotFound, "visit has not been clocked in")
			}
			return translateStoreError(err, "evv record")
		}
		if !act.canActFor(record.CaregiverID) {
			return dErrors.New(dErrors.CodeForbidden, "only the assigned caregiver or a supervisor may clock out")
		}
		if !record.IsPending() {
			return dErrors.New(dErrors.CodeConflict, "visit already clocked out")
		}
		if !sample.CapturedAt.After(record.ClockInTime) {
			return dErrors.New(dErrors.CodeValidation, "clock-out must be after clock-in")
		}

		fence, err := stores.Geofences.FindByID(ctx, record.GeofenceID)
		if err != nil {
			return translateStoreError(err, "geofence")
		}
		geo := s.validator.Validate(sample, fence.Center(), fence.RadiusMeters, fence.AllowedVarianceMeters)
		if _, err := stores.Geofences.RecordVerification(ctx, fence.ID, geo.Delta(), now); err != nil {
			return translateStoreError(err, "geofence")
		}
		verification := geo.Verification(sample, fence.ID.String())

		entry := s.newEntry(ctx, act, record.VisitID, record.CaregiverID, models.EntryClockOut, sample, verification, now)
		entry.RecordID = record.ID
		if err := stores.Entries.Append(ctx, entry); err != nil {
			return translateStoreError(err, "time entry")
		}

		if err := record.Complete(sample.CapturedAt, verification, attestation, now); err != nil {
			return dErrors.Wrap(err, dErrors.CodeValidation, "cannot complete record")
		}
		if err := stores.Records.Update(ctx, record); err != nil {
			return translateStoreError(err, "evv record")
		}

		if err := s.emitAudit(ctx, audit.Event{
			UserID:    act.userID,
			Subject:   record.ID.String(),
			Action:    string(audit.EventClockOut),
			VisitID:   record.VisitID.String(),
			DeviceID:  entry.Device.ID,
			Decision:  string(geo.ValidationType),
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return auditUnavailable(err, "clock-out")
		}
		result = &ClockResult{Record: record, Entry: entry, Verification: geo}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncClockEvent("clock_out", result.Verification.WithinGeofence)
	s.metrics.IncGeofenceOutcome(string(result.Verification.ValidationType))
	s.logger.InfoContext(ctx, "clock-out recorded",
		"visit_id", result.Record.VisitID.String(),
		"record_id", result.Record.ID.String(),
		"duration_minutes", *result.Record.TotalDurationMinutes,
		"validation_type", result.Verification.ValidationType,
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, nil
}

func (s *Service) newEntry(ctx context.Context, act actor, visitID id.VisitID, caregiverID id.CaregiverID,
	entryType models.EntryType, sample models.LocationSample, verification models.LocationVerification, now time.Time,
) *models.TimeEntry {
	entry := &models.TimeEntry{
		ID:           id.NewTimeEntryID(),
		VisitID:      visitID,
		CaregiverID:  caregiverID,
		EntryType:    entryType,
		Location:     sample,
		Device:       requestcontext.DeviceInfo(ctx),
		Verification: verification,
		Status:       models.StatusForVerification(verification),
		RecordedBy:   act.userID,
		RecordedAt:   now,
	}
	entry.Hash = models.ComputeEntryHash(entry)
	return entry
}

// resolveGeofence returns the geofence for the address, creating it on first
// use. A concurrent creator wins and its geofence is returned.
func (s *Service) resolveGeofence(ctx context.Context, stores store.Stores, addr models.Address, center models.Point, now time.Time) (*models.Geofence, error) {
	key := models.AddressKey(addr)
	fence, err := stores.Geofences.FindByAddressKey(ctx, key)
	if err == nil {
		return fence, nil
	}
	if !errors.Is(err, sentinel.ErrNotFound) {
		return nil, translateStoreError(err, "geofence")
	}

	radius := addr.GeofenceRadiusMeters
	if radius <= 0 {
		radius = s.defaultRadiusMeters
	}
	radius = math.Min(math.Max(radius, models.MinGeofenceRadiusMeters), models.MaxGeofenceRadiusMeters)
	fence, err = models.NewGeofence(id.NewGeofenceID(), key, center, radius, s.geofenceVariance, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "cannot register geofence for service address")
	}
	if err := stores.Geofences.Create(ctx, fence); err != nil {
		if !errors.Is(err, sentinel.ErrAlreadyUsed) {
			return nil, translateStoreError(err, "geofence")
		}
		existing, findErr := stores.Geofences.FindByAddressKey(ctx, key)
		if findErr != nil {
			return nil, translateStoreError(findErr, "geofence")
		}
		return existing, nil
	}
	s.logger.InfoContext(ctx, "geofence registered",
		"geofence_id", fence.ID.String(),
		"address_key", key,
		"radius_meters", radius,
	)
	return fence, nil
}

func alreadyClockedError(existing *models.EVVRecord) error {
	if existing.IsPending() {
		return dErrors.New(dErrors.CodeConflict, "visit already clocked in")
	}
	return dErrors.New(dErrors.CodeConflict, "visit already clocked out")
}

func authorizationReason(reason string, missing, blocked []string) string {
	parts := make([]string, 0, 3)
	if r := strings.TrimSpace(reason); r != "" {
		parts = append(parts, r)
	}
	if len(missing) > 0 {
		parts = append(parts, "missing credentials: "+strings.Join(missing, ", "))
	}
	if len(blocked) > 0 {
		parts = append(parts, "blocked: "+strings.Join(blocked, ", "))
	}
	if len(parts) == 0 {
		return "not authorized"
	}
	return strings.Join(parts, "; ")
}

// denyClockEvent records a refused clock event. Failures are logged only;
// the caller already returns a denial.
func (s *Service) denyClockEvent(ctx context.Context, act actor, visitID id.VisitID, reason string) {
	_ = s.emitAudit(ctx, audit.Event{
		UserID:    act.userID,
		Subject:   visitID.String(),
		Action:    string(audit.EventClockDenied),
		VisitID:   visitID.String(),
		DeviceID:  requestcontext.DeviceInfo(ctx).ID,
		Decision:  "denied",
		Reason:    reason,
		RequestID: requestcontext.RequestID(ctx),
	})
	s.logger.WarnContext(ctx, "clock event denied",
		"visit_id", visitID.String(),
		"reason", reason,
		"request_id", requestcontext.RequestID(ctx),
	)
}
