// Package actions routes action envelopes to the health-cost workflows.
package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/metrics"
	"github.com/mamadbah2/flockhealth/internal/service/death"
	"github.com/mamadbah2/flockhealth/internal/service/reconcile"
	"github.com/mamadbah2/flockhealth/internal/service/reporting"
	"github.com/mamadbah2/flockhealth/internal/service/treatment"
	"github.com/mamadbah2/flockhealth/internal/service/vaccine"
)

const tracerName = "github.com/mamadbah2/flockhealth/internal/service/actions"

// CostCalculator computes batch cost breakdowns.
type CostCalculator interface {
	ComputeBatchCost(ctx context.Context, batchID string) (models.CostBreakdown, error)
}

// CostExporter appends breakdowns to the cost ledger.
type CostExporter interface {
	ExportBatchCost(ctx context.Context, batchID string) (reporting.ExportResult, error)
}

// TreatmentManager drives the treatment lifecycle.
type TreatmentManager interface {
	Create(ctx context.Context, actor models.Principal, p models.CreateTreatmentPayload) (models.TreatmentRecord, error)
	Get(ctx context.Context, id string) (models.TreatmentRecord, error)
	SubmitPlan(ctx context.Context, actor models.Principal, p models.SubmitPlanPayload) (models.TreatmentRecord, error)
	AppendProgress(ctx context.Context, actor models.Principal, p models.ProgressPayload) (models.TreatmentRecord, error)
	CompleteCured(ctx context.Context, actor models.Principal, p models.CompleteCuredPayload) (models.TreatmentRecord, error)
	CompleteDied(ctx context.Context, actor models.Principal, p models.CompleteDiedPayload) (treatment.DiedResult, error)
	Discontinue(ctx context.Context, actor models.Principal, p models.DiscontinuePayload) (models.TreatmentRecord, error)
}

// DeathManager owns death record reads, corrections and cost refreshes.
type DeathManager interface {
	Get(ctx context.Context, id string) (models.DeathRecord, error)
	CorrectDiagnosis(ctx context.Context, actor models.Principal, p models.CorrectDiagnosisPayload) (models.DeathRecord, error)
	RecalculateDeathCost(ctx context.Context, p models.RecalculateDeathCostPayload) (models.DeathRecord, error)
	RecalculateAll(ctx context.Context, actor models.Principal, p models.RecalculateAllPayload) (death.BulkResult, error)
}

// ReactionTracker turns vaccine reactions into records.
type ReactionTracker interface {
	Track(ctx context.Context, actor models.Principal, p models.VaccineReactionPayload) (vaccine.Result, error)
}

// DiagnosisManager ingests and reviews diagnoses.
type DiagnosisManager interface {
	Ingest(ctx context.Context, actor models.Principal, p models.IngestDiagnosisPayload) (models.DiagnosisRecord, error)
	Record(ctx context.Context, actor models.Principal, p models.RecordDiagnosisPayload) (models.DiagnosisRecord, error)
	Review(ctx context.Context, actor models.Principal, p models.ReviewDiagnosisPayload) (models.DiagnosisRecord, error)
}

// Reconciler repairs known record inconsistencies.
type Reconciler interface {
	Run(ctx context.Context, p models.ReconcilePayload) (reconcile.Report, error)
}

// Dependencies groups the workflows the dispatcher routes to. Exporter may be
// nil when the cost ledger is not configured.
type Dependencies struct {
	Costs      CostCalculator
	Exporter   CostExporter
	Treatments TreatmentManager
	Deaths     DeathManager
	Vaccines   ReactionTracker
	Diagnoses  DiagnosisManager
	Reconciler Reconciler
}

// Service implements action dispatch.
type Service struct {
	deps     Dependencies
	validate *validator.Validate
	metrics  *metrics.Metrics
	tracer   trace.Tracer
	logger   *zap.Logger
	now      func() time.Time
}

// NewService constructs an action dispatcher.
func NewService(deps Dependencies, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		deps:     deps,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		metrics:  m,
		tracer:   otel.Tracer(tracerName),
		logger:   logger,
		now:      time.Now,
	}
}

// Dispatch authorizes and executes req, always answering with an envelope.
func (s *Service) Dispatch(ctx context.Context, actor models.Principal, req models.ActionRequest) models.ActionResponse {
	data, err := s.Handle(ctx, actor, req)
	if err != nil {
		return models.ActionResponse{
			Success: false,
			Error:   &models.ActionError{Code: string(apperrors.CodeOf(err)), Message: err.Error()},
		}
	}
	return models.ActionResponse{Success: true, Data: data}
}

// Handle authorizes and executes req, returning the raw result.
func (s *Service) Handle(ctx context.Context, actor models.Principal, req models.ActionRequest) (data any, err error) {
	ctx, span := s.tracer.Start(ctx, "actions."+string(req.Action), trace.WithAttributes(
		attribute.String("action", string(req.Action)),
		attribute.String("principal.role", string(actor.Role)),
	))
	start := s.now()
	defer func() {
		code := apperrors.CodeOf(err)
		s.metrics.ObserveAction(string(req.Action), string(code), s.now().Sub(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			s.logFailure(actor, req.Action, err)
		}
		span.End()
	}()

	s.logger.Debug("dispatching action", zap.String("action", string(req.Action)), zap.String("principal", actor.ID))

	if err := Authorize(actor, req.Action); err != nil {
		return nil, err
	}

	switch req.Action {
	case models.ActionCalculateBatchCost:
		var p models.BatchCostPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Costs.ComputeBatchCost(ctx, p.BatchID)
	case models.ActionExportBatchCost:
		var p models.BatchCostPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if s.deps.Exporter == nil {
			return nil, apperrors.StoreUnavailable("export batch cost", errors.New("cost ledger is not configured"))
		}
		return s.deps.Exporter.ExportBatchCost(ctx, p.BatchID)
	case models.ActionCreateTreatmentRecord:
		var p models.CreateTreatmentPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Treatments.Create(ctx, actor, p)
	case models.ActionGetTreatment:
		var p models.RecordIDPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Treatments.Get(ctx, p.ID)
	case models.ActionSubmitTreatmentPlan:
		var p models.SubmitPlanPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Treatments.SubmitPlan(ctx, actor, p)
	case models.ActionUpdateTreatmentProgress:
		var p models.ProgressPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Treatments.AppendProgress(ctx, actor, p)
	case models.ActionCompleteTreatmentAsCured:
		var p models.CompleteCuredPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Treatments.CompleteCured(ctx, actor, p)
	case models.ActionCompleteTreatmentAsDied:
		var p models.CompleteDiedPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Treatments.CompleteDied(ctx, actor, p)
	case models.ActionDiscontinueTreatment:
		var p models.DiscontinuePayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Treatments.Discontinue(ctx, actor, p)
	case models.ActionGetDeathRecord:
		var p models.RecordIDPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Deaths.Get(ctx, p.ID)
	case models.ActionCorrectDeathDiagnosis:
		var p models.CorrectDiagnosisPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Deaths.CorrectDiagnosis(ctx, actor, p)
	case models.ActionRecalculateDeathCost:
		var p models.RecalculateDeathCostPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Deaths.RecalculateDeathCost(ctx, p)
	case models.ActionRecalculateAllDeathCosts:
		var p models.RecalculateAllPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Deaths.RecalculateAll(ctx, actor, p)
	case models.ActionCreateTreatmentFromVaccine, models.ActionCreateDeathFromVaccine:
		var p models.VaccineReactionPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		if req.Action == models.ActionCreateDeathFromVaccine {
			p.Classification = models.ReactionDeath
		}
		return s.deps.Vaccines.Track(ctx, actor, p)
	case models.ActionIngestDiagnosis:
		var p models.IngestDiagnosisPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Diagnoses.Ingest(ctx, actor, p)
	case models.ActionRecordDiagnosis:
		var p models.RecordDiagnosisPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Diagnoses.Record(ctx, actor, p)
	case models.ActionReviewDiagnosis:
		var p models.ReviewDiagnosisPayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		return s.deps.Diagnoses.Review(ctx, actor, p)
	case models.ActionReconcileRecords:
		var p models.ReconcilePayload
		if err := s.decode(req.Payload, &p); err != nil {
			return nil, err
		}
		s.logger.Info("reconciliation requested",
			zap.String("principal", actor.ID),
			zap.String("batch_id", p.BatchID),
			zap.Bool("dry_run", p.DryRun))
		return s.deps.Reconciler.Run(ctx, p)
	default:
		return nil, apperrors.Validation("unsupported action %q", req.Action)
	}
}

// decode parses and validates an action payload. A missing payload decodes
// to the zero value so required-field validation reports it.
func (s *Service) decode(raw json.RawMessage, dst any) error {
	if len(bytes.TrimSpace(raw)) > 0 && string(bytes.TrimSpace(raw)) != "null" {
		if err := json.Unmarshal(raw, dst); err != nil {
			return apperrors.Validation("malformed payload: %v", err)
		}
	}
	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			return apperrors.Validation("%s", describe(verrs))
		}
		return apperrors.Validation("%v", err)
	}
	return nil
}

func describe(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}
		if fe.Param() != "" {
			parts = append(parts, field+" failed "+fe.Tag()+"="+fe.Param())
			continue
		}
		parts = append(parts, field+" failed "+fe.Tag())
	}
	return strings.Join(parts, "; ")
}

func (s *Service) logFailure(actor models.Principal, action models.Action, err error) {
	fields := []zap.Field{
		zap.String("action", string(action)),
		zap.String("principal", actor.ID),
		zap.String("code", string(apperrors.CodeOf(err))),
		zap.Error(err),
	}
	if apperrors.IsClientError(err) {
		s.logger.Debug("action rejected", fields...)
		return
	}
	s.logger.Error("action failed", fields...)
}
