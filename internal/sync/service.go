package sync

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"evv/internal/evv/metrics"
	"evv/internal/sync/models"
	"evv/internal/sync/store"
	dErrors "evv/pkg/domain-errors"
	"evv/pkg/platform/audit"
	"evv/pkg/platform/sentinel"
	"evv/pkg/requestcontext"
)

const (
	DefaultMaxAttempts     = 5
	defaultInitialInterval = 100 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
	maxBatchSize           = 500
)

var tracer = otel.Tracer("evv/internal/sync")

// Auditor is implemented by the audit publisher.
type Auditor interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Evaluator re-runs compliance on EVV records that reconciliation wrote.
type Evaluator interface {
	EvaluateSynced(ctx context.Context, recordID string) (level string, flags []string, err error)
}

// ItemResult is the outcome for one record in a batch.
type ItemResult struct {
	RecordType models.RecordType `json:"record_type"`
	RecordID   string            `json:"record_id"`
	Outcome    models.Outcome    `json:"outcome"`
	Strategy   Strategy          `json:"strategy,omitempty"`
	Attempts   int               `json:"attempts"`
	Resolution *Resolution       `json:"resolution,omitempty"`
	// Record is the server copy after reconciliation.
	Record *models.Record `json:"record,omitempty"`
	Error  string         `json:"error,omitempty"`

	// Set for EVV records the batch changed.
	ComplianceLevel string   `json:"compliance_level,omitempty"`
	ComplianceFlags []string `json:"compliance_flags,omitempty"`
}

// Report summarizes a device's reconciliation batch.
type Report struct {
	DeviceID string                 `json:"device_id"`
	Results  []ItemResult           `json:"results"`
	Summary  map[models.Outcome]int `json:"summary"`
}

// Service reconciles device batches against the document store.
type Service struct {
	docs            store.DocumentStore
	history         store.HistoryStore
	resolver        *Resolver
	auditor         Auditor
	evaluator       Evaluator
	metrics         *metrics.Metrics
	logger          *slog.Logger
	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration
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

func WithAuditor(a Auditor) Option {
	return func(s *Service) {
		s.auditor = a
	}
}

// WithEvaluator re-evaluates compliance after an EVV record is written.
func WithEvaluator(e Evaluator) Option {
	return func(s *Service) {
		s.evaluator = e
	}
}

func WithResolver(r *Resolver) Option {
	return func(s *Service) {
		if r != nil {
			s.resolver = r
		}
	}
}

// WithMaxAttempts caps how many times one record is tried.
func WithMaxAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBackoff sets the exponential retry intervals.
func WithBackoff(initial, max time.Duration) Option {
	return func(s *Service) {
		if initial > 0 {
			s.initialInterval = initial
		}
		if max >= initial {
			s.maxInterval = max
		}
	}
}

func NewService(docs store.DocumentStore, history store.HistoryStore, opts ...Option) (*Service, error) {
	if docs == nil || history == nil {
		return nil, errors.New("document and history stores are required")
	}
	s := &Service{
		docs:            docs,
		history:         history,
		resolver:        NewResolver(),
		maxAttempts:     DefaultMaxAttempts,
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s, nil
}

func (s *Service) Resolver() *Resolver {
	return s.resolver
}

// Reconcile pulls the server copy of each record in the batch, resolves it
// against the device copy, and writes the resolution conditioned on the
// server version it read. Version conflicts and transient store failures are
// retried with exponential backoff; records still failing after the last
// attempt are logged to the history and reported, never dropped.
func (s *Service) Reconcile(ctx context.Context, deviceID string, batch []*models.Record) (_ *Report, err error) {
	ctx, span := tracer.Start(ctx, "sync.Reconcile", trace.WithAttributes(
		attribute.String("device_id", deviceID),
		attribute.Int("batch_size", len(batch)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "device id is required")
	}
	if len(batch) > maxBatchSize {
		return nil, dErrors.New(dErrors.CodeValidation, "sync batch exceeds 500 records")
	}
	for i, rec := range batch {
		if rec == nil || strings.TrimSpace(string(rec.Type)) == "" || strings.TrimSpace(rec.ID) == "" {
			return nil, dErrors.New(dErrors.CodeValidation, "every record needs a type and id")
		}
		batch[i] = rec.Canonical()
		batch[i].ModifiedAt = rec.ModifiedAt.UTC()
	}

	report := &Report{
		DeviceID: deviceID,
		Results:  make([]ItemResult, 0, len(batch)),
		Summary:  map[models.Outcome]int{},
	}
	for _, rec := range batch {
		res := s.reconcileOne(ctx, rec)
		s.record(ctx, deviceID, res)
		report.Results = append(report.Results, res)
		report.Summary[res.Outcome]++
	}

	s.logger.InfoContext(ctx, "sync batch reconciled",
		"device_id", deviceID,
		"records", len(batch),
		"manual_review", report.Summary[models.OutcomeManualReview],
		"failed", report.Summary[models.OutcomeFailed],
		"request_id", requestcontext.RequestID(ctx),
	)
	return report, nil
}

func (s *Service) reconcileOne(ctx context.Context, client *models.Record) ItemResult {
	res := ItemResult{RecordType: client.Type, RecordID: client.ID}

	op := func() error {
		res = ItemResult{RecordType: client.Type, RecordID: client.ID, Attempts: res.Attempts + 1}
		server, err := s.docs.Get(ctx, client.Type, client.ID)
		if errors.Is(err, sentinel.ErrNotFound) {
			created := client.Clone()
			if err := s.docs.Create(ctx, created); err != nil {
				return retryable(err)
			}
			res.Outcome = models.OutcomeCreated
			res.Strategy = StrategyClientWins
			res.Record = created
			return nil
		}
		if err != nil {
			return retryable(err)
		}

		resolution := s.resolver.Resolve(client, server)
		res.Resolution = &resolution
		res.Strategy = resolution.Strategy
		switch {
		case resolution.RequiresManualReview:
			res.Outcome = models.OutcomeManualReview
			res.Record = server
			return nil
		case resolution.Strategy == StrategyServerWins:
			res.Outcome = models.OutcomeUnchanged
			res.Record = server
			return nil
		}

		resolved := resolution.Resolved.Clone()
		if err := s.docs.CompareAndSwap(ctx, resolved, server.Version); err != nil {
			return retryable(err)
		}
		res.Outcome = models.OutcomeApplied
		res.Record = resolved
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = s.initialInterval
	policy.MaxInterval = s.maxInterval
	policy.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(s.maxAttempts-1)), ctx)

	if err := backoff.Retry(op, b); err != nil {
		return ItemResult{
			RecordType: client.Type,
			RecordID:   client.ID,
			Outcome:    models.OutcomeFailed,
			Attempts:   res.Attempts,
			Error:      err.Error(),
		}
	}
	s.evaluate(ctx, &res)
	return res
}

// evaluate attaches the compliance outcome of a written EVV record. The
// write stands when evaluation fails; the next evaluation catches up.
func (s *Service) evaluate(ctx context.Context, res *ItemResult) {
	if s.evaluator == nil || res.RecordType != models.RecordTypeEVV {
		return
	}
	if res.Outcome != models.OutcomeApplied && res.Outcome != models.OutcomeCreated {
		return
	}
	recordID := res.RecordID
	if res.Record != nil {
		recordID = res.Record.ID
	}
	level, flags, err := s.evaluator.EvaluateSynced(ctx, recordID)
	if err != nil {
		s.logger.WarnContext(ctx, "synced evv record not re-evaluated",
			"record_id", recordID,
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return
	}
	res.ComplianceLevel = level
	res.ComplianceFlags = flags
}

// retryable passes through errors worth another attempt and marks the rest
// permanent.
func retryable(err error) error {
	if sentinel.Transient(err) {
		return err
	}
	return backoff.Permanent(err)
}

// record appends the outcome to the history log and audit trail. Failures
// here are logged; the device still gets its report.
func (s *Service) record(ctx context.Context, deviceID string, res ItemResult) {
	now := requestcontext.Now(ctx).UTC()
	entry := models.HistoryEntry{
		ID:         uuid.NewString(),
		DeviceID:   deviceID,
		RecordType: res.RecordType,
		RecordID:   res.RecordID,
		Outcome:    res.Outcome,
		Strategy:   string(res.Strategy),
		Attempts:   res.Attempts,
		OccurredAt: now,
	}
	if res.Error != "" {
		entry.Detail = map[string]any{"error": res.Error}
	}
	if res.Resolution != nil && len(res.Resolution.FieldConflicts) > 0 {
		fields := make([]string, 0, len(res.Resolution.FieldConflicts))
		for _, c := range res.Resolution.FieldConflicts {
			fields = append(fields, c.Field)
		}
		if entry.Detail == nil {
			entry.Detail = map[string]any{}
		}
		entry.Detail["fields"] = fields
		entry.Detail["reason"] = res.Resolution.Metadata["reason"]
	}
	if err := s.history.Append(ctx, entry); err != nil {
		s.logger.ErrorContext(ctx, "failed to append sync history",
			"device_id", deviceID,
			"record_id", res.RecordID,
			"error", err,
		)
	}

	action := audit.EventSyncResolved
	switch res.Outcome {
	case models.OutcomeFailed:
		action = audit.EventSyncFailed
		s.metrics.IncSyncFailure()
	case models.OutcomeManualReview:
		action = audit.EventSyncManualReview
	}
	if res.Strategy != "" {
		s.metrics.IncSyncResolution(string(res.RecordType), string(res.Strategy))
	}
	if s.auditor == nil {
		return
	}
	if err := s.auditor.Emit(ctx, audit.Event{
		UserID:    requestcontext.UserID(ctx),
		Subject:   res.RecordID,
		Action:    string(action),
		DeviceID:  deviceID,
		Decision:  string(res.Outcome),
		Reason:    res.Error,
		RequestID: requestcontext.RequestID(ctx),
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to emit sync audit event",
			"device_id", deviceID,
			"record_id", res.RecordID,
			"error", err,
		)
	}
}

// History returns the device's most recent sync outcomes.
func (s *Service) History(ctx context.Context, deviceID string, limit int) ([]models.HistoryEntry, error) {
	deviceID = strings.TrimSpace(deviceID)
	if deviceID == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "device id is required")
	}
	entries, err := s.history.ListByDevice(ctx, deviceID, limit)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load sync history")
	}
	return entries, nil
}

// Preview resolves a pair without touching the store.
func (s *Service) Preview(client, server *models.Record) (Resolution, error) {
	if err := checkPair(client, server); err != nil {
		return Resolution{}, err
	}
	return s.resolver.Resolve(client, server), nil
}

// Detect reports how far two copies have drifted without resolving them.
func (s *Service) Detect(client, server *models.Record) (PotentialConflicts, error) {
	if err := checkPair(client, server); err != nil {
		return PotentialConflicts{}, err
	}
	return s.resolver.DetectPotentialConflicts(client, server), nil
}

func checkPair(client, server *models.Record) error {
	if client == nil || server == nil {
		return dErrors.New(dErrors.CodeValidation, "client and server records are required")
	}
	if client.ID != server.ID {
		return dErrors.New(dErrors.CodeValidation, "client and server records must share an id")
	}
	return nil
}
