package service

import (
	"context"
	"strings"
	"time"

	"evv/internal/evv/models"
	"evv/internal/evv/store"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/platform/audit"
	"evv/pkg/requestcontext"
)

// OverrideTimeEntry lets a supervisor accept a failed verification. The entry
// becomes OVERRIDDEN with a passing verification; the failed verification is
// kept on the override record. The parent record drops to MANUAL
// verification.
func (s *Service) OverrideTimeEntry(ctx context.Context, req OverrideRequest) (*models.TimeEntry, error) {
	act, err := actorFrom(requestcontext.UserID(ctx), requestcontext.ActorRole(ctx), requestcontext.CaregiverID(ctx))
	if err != nil {
		return nil, err
	}
	if !act.role.IsSupervisory() {
		return nil, dErrors.New(dErrors.CodeForbidden, "only supervisors may override time entries")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "override reason is required")
	}
	if req.EntryID.IsNil() {
		return nil, dErrors.New(dErrors.CodeValidation, "time entry id is required")
	}

	entry, err := s.stores.Entries.FindByID(ctx, req.EntryID)
	if err != nil {
		return nil, translateStoreError(err, "time entry")
	}
	now := normalizeTime(requestcontext.Now(ctx))

	err = s.tx.RunInTx(ctx, entry.VisitID.String(), func(ctx context.Context, stores store.Stores) error {
		current, err := stores.Entries.FindByID(ctx, req.EntryID)
		if err != nil {
			return translateStoreError(err, "time entry")
		}
		if !current.CanOverride() {
			return dErrors.New(dErrors.CodeConflict, "time entry already "+strings.ToLower(string(current.Status)))
		}
		if current.Verification.VerificationPassed {
			return dErrors.New(dErrors.CodeValidation, "time entry passed verification; nothing to override")
		}

		current.ApplyOverride(act.userID, reason, now)
		if err := stores.Entries.SaveOverride(ctx, current); err != nil {
			return translateStoreError(err, "time entry")
		}

		if !current.RecordID.IsNil() {
			record, err := stores.Records.FindByID(ctx, current.RecordID)
			if err != nil {
				return translateStoreError(err, "evv record")
			}
			applyOverrideToRecord(record, current, now)
			if err := stores.Records.Update(ctx, record); err != nil {
				return translateStoreError(err, "evv record")
			}
		}

		if err := s.emitAudit(ctx, audit.Event{
			UserID:    act.userID,
			Subject:   current.RecordID.String(),
			Action:    string(audit.EventTimeEntryOverridden),
			VisitID:   current.VisitID.String(),
			Decision:  string(current.Override.PreviousStatus),
			Reason:    reason,
			RequestID: requestcontext.RequestID(ctx),
		}); err != nil {
			return auditUnavailable(err, "override")
		}
		entry = current
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.metrics.IncClockEvent("override", true)
	s.logger.InfoContext(ctx, "time entry overridden",
		"entry_id", entry.ID.String(),
		"visit_id", entry.VisitID.String(),
		"previous_status", entry.Override.PreviousStatus,
		"request_id", requestcontext.RequestID(ctx),
	)
	return entry, nil
}

// applyOverrideToRecord mirrors the entry's forced pass onto the record's
// verification snapshot for the same clock event.
func applyOverrideToRecord(record *models.EVVRecord, entry *models.TimeEntry, now time.Time) {
	mark := func(v *models.LocationVerification) {
		v.VerificationPassed = true
		v.ManualOverride = true
		v.OverrideReason = entry.Override.Reason
	}
	switch entry.EntryType {
	case models.EntryClockIn:
		mark(&record.ClockInVerification)
	case models.EntryClockOut:
		if record.ClockOutVerification != nil {
			mark(record.ClockOutVerification)
		}
	}
	record.VerificationLevel = models.VerificationManual
	record.UpdatedAt = now
}
