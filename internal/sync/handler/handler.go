// Package handler exposes offline sync reconciliation over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	syncsvc "evv/internal/sync"
	"evv/internal/sync/models"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/platform/httputil"
	"evv/pkg/requestcontext"
)

const defaultHistoryLimit = 50

type Service interface {
	Reconcile(ctx context.Context, deviceID string, batch []*models.Record) (*syncsvc.Report, error)
	History(ctx context.Context, deviceID string, limit int) ([]models.HistoryEntry, error)
	Preview(client, server *models.Record) (syncsvc.Resolution, error)
	Detect(client, server *models.Record) (syncsvc.PotentialConflicts, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Route("/sync", func(r chi.Router) {
		r.Post("/detect", h.HandleDetect)
		r.Post("/resolve", h.HandleResolve)
		r.Post("/{deviceID}/reconcile", h.HandleReconcile)
		r.Get("/{deviceID}/history", h.HandleHistory)
	})
}

// HandleReconcile handles POST /sync/{deviceID}/reconcile.
func (h *Handler) HandleReconcile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)
	deviceID := chi.URLParam(r, "deviceID")

	req, ok := httputil.DecodeAndPrepare[ReconcileRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	report, err := h.service.Reconcile(ctx, deviceID, req.Records)
	if err != nil {
		h.logger.ErrorContext(ctx, "sync reconcile failed",
			"device_id", deviceID,
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

// HandleHistory handles GET /sync/{deviceID}/history.
func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be a positive integer"))
			return
		}
		limit = n
	}
	entries, err := h.service.History(r.Context(), chi.URLParam(r, "deviceID"), limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// HandleDetect handles POST /sync/detect.
func (h *Handler) HandleDetect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[PairRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.Detect(req.Client, req.Server)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}

// HandleResolve handles POST /sync/resolve. Nothing is written.
func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[PairRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	res, err := h.service.Preview(req.Client, req.Server)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, res)
}
