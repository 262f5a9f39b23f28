// Package handler exposes the capture and compliance operations over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"evv/internal/evv/compliance"
	"evv/internal/evv/models"
	"evv/internal/evv/service"
	id "evv/pkg/domain"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/platform/httputil"
	"evv/pkg/requestcontext"
)

// Service defines the capture operations the handler delegates to.
type Service interface {
	ClockIn(ctx context.Context, req service.ClockInRequest) (*service.ClockResult, error)
	ClockOut(ctx context.Context, req service.ClockOutRequest) (*service.ClockResult, error)
	OverrideTimeEntry(ctx context.Context, req service.OverrideRequest) (*models.TimeEntry, error)
	GetRecord(ctx context.Context, recordID id.RecordID) (*models.EVVRecord, error)
	ListTimeEntries(ctx context.Context, recordID id.RecordID) ([]*models.TimeEntry, error)
	EvaluateCompliance(ctx context.Context, recordID id.RecordID) (*compliance.Result, error)
	SubmitToAggregator(ctx context.Context, recordID id.RecordID) (*models.EVVRecord, *compliance.Result, error)
	TransitionStatus(ctx context.Context, req service.StatusChangeRequest) (*models.EVVRecord, error)
}

// Handler wires EVV endpoints to the capture service.
type Handler struct {
	service Service
	logger  *slog.Logger
}

// New constructs an EVV handler.
func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts the EVV endpoints. Authentication and device middleware are
// applied by the caller.
func (h *Handler) Register(r chi.Router) {
	r.Post("/visits/{visitID}/clock-in", h.HandleClockIn)
	r.Post("/visits/{visitID}/clock-out", h.HandleClockOut)
	r.Post("/time-entries/{entryID}/override", h.HandleOverride)
	r.Route("/evv-records/{recordID}", func(r chi.Router) {
		r.Get("/", h.HandleGetRecord)
		r.Get("/time-entries", h.HandleListTimeEntries)
		r.Get("/compliance", h.HandleCompliance)
		r.Post("/submit", h.HandleSubmit)
		r.Post("/status", h.HandleStatus)
	})
}

// HandleClockIn handles POST /visits/{visitID}/clock-in.
func (h *Handler) HandleClockIn(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	visitID, err := id.ParseVisitID(chi.URLParam(r, "visitID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ClockInRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	res, err := h.service.ClockIn(ctx, service.ClockInRequest{VisitID: visitID, Location: req.Location.Sample()})
	if err != nil {
		h.logFailure(ctx, "clock-in failed", err, "visit_id", visitID.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toClockResponse(res))
}

// HandleClockOut handles POST /visits/{visitID}/clock-out.
func (h *Handler) HandleClockOut(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	visitID, err := id.ParseVisitID(chi.URLParam(r, "visitID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[ClockOutRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	domainReq := service.ClockOutRequest{VisitID: visitID, Location: req.Location.Sample()}
	if req.Attestation != nil {
		domainReq.Attestation = &service.AttestationInput{
			SignedBy:  req.Attestation.SignedBy,
			Signature: req.Attestation.Signature,
		}
	}
	res, err := h.service.ClockOut(ctx, domainReq)
	if err != nil {
		h.logFailure(ctx, "clock-out failed", err, "visit_id", visitID.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toClockResponse(res))
}

// HandleOverride handles POST /time-entries/{entryID}/override.
func (h *Handler) HandleOverride(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	entryID, err := id.ParseTimeEntryID(chi.URLParam(r, "entryID"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	req, ok := httputil.DecodeAndPrepare[OverrideRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	entry, err := h.service.OverrideTimeEntry(ctx, service.OverrideRequest{EntryID: entryID, Reason: req.Reason})
	if err != nil {
		h.logFailure(ctx, "override failed", err, "entry_id", entryID.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, entry)
}

// HandleGetRecord handles GET /evv-records/{recordID}.
func (h *Handler) HandleGetRecord(w http.ResponseWriter, r *http.Request) {
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	record, err := h.service.GetRecord(r.Context(), recordID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

// HandleListTimeEntries handles GET /evv-records/{recordID}/time-entries.
func (h *Handler) HandleListTimeEntries(w http.ResponseWriter, r *http.Request) {
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	entries, err := h.service.ListTimeEntries(r.Context(), recordID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if entries == nil {
		entries = []*models.TimeEntry{}
	}
	httputil.WriteJSON(w, http.StatusOK, TimeEntriesResponse{TimeEntries: entries})
}

// HandleCompliance handles GET /evv-records/{recordID}/compliance.
func (h *Handler) HandleCompliance(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	res, err := h.service.EvaluateCompliance(ctx, recordID)
	if err != nil {
		h.logFailure(ctx, "compliance evaluation failed", err, "record_id", recordID.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleSubmit handles POST /evv-records/{recordID}/submit.
func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	record, res, err := h.service.SubmitToAggregator(ctx, recordID)
	if err != nil {
		h.logFailure(ctx, "aggregator submission refused", err, "record_id", recordID.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, SubmitResponse{Record: toRecordResponse(record), Compliance: res})
}

// HandleStatus handles POST /evv-records/{recordID}/status.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	recordID, ok := h.recordID(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[StatusRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}

	record, err := h.service.TransitionStatus(ctx, service.StatusChangeRequest{
		RecordID: recordID,
		Status:   req.ParsedStatus(),
		Reason:   req.Reason,
	})
	if err != nil {
		h.logFailure(ctx, "status change refused", err, "record_id", recordID.String())
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRecordResponse(record))
}

func (h *Handler) recordID(w http.ResponseWriter, r *http.Request) (id.RecordID, bool) {
	recordID, err := id.ParseRecordID(chi.URLParam(r, "recordID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.RecordID{}, false
	}
	return recordID, true
}

// logFailure logs client errors at warn and everything else at error.
func (h *Handler) logFailure(ctx context.Context, msg string, err error, attrs ...any) {
	attrs = append(attrs, "error", err, "request_id", requestcontext.RequestID(ctx))
	if status := httputil.StatusFor(dErrors.CodeOf(err)); status < http.StatusInternalServerError {
		h.logger.WarnContext(ctx, msg, attrs...)
		return
	}
	h.logger.ErrorContext(ctx, msg, attrs...)
}
