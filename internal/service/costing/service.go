// Package costing attributes acquisition, feeding, prevention and treatment
// costs of a batch to a per-unit and per-batch figure.
package costing

import (
	"context"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/metrics"
	"github.com/mamadbah2/flockhealth/internal/repository"
)

const tracerName = "github.com/mamadbah2/flockhealth/internal/service/costing"

// Store is the read surface the aggregator needs.
type Store interface {
	GetBatch(ctx context.Context, id string) (models.Batch, error)
	ListFeedUsage(ctx context.Context, batchID string) ([]models.FeedUsageRecord, error)
	ListMaterialUsage(ctx context.Context, batchID string) ([]models.MaterialUsageRecord, error)
	ListPrevention(ctx context.Context, batchID string) ([]models.PreventionRecord, error)
	ListTreatments(ctx context.Context, filter repository.TreatmentFilter) ([]models.TreatmentRecord, error)
	ListDiagnosesByIDs(ctx context.Context, ids []string) ([]models.DiagnosisRecord, error)
}

// Calculator is what the lifecycle and correction workflows depend on.
type Calculator interface {
	ComputeBatchCost(ctx context.Context, batchID string) (models.CostBreakdown, error)
}

// Service is stateless: every call re-reads the record stores.
type Service struct {
	store   Store
	logger  *zap.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
	now     func() time.Time
}

// NewService wires a cost aggregator.
func NewService(store Store, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		logger:  logger,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
}

// usage holds the independent reads joined before totals are computed.
type usage struct {
	feed       []models.FeedUsageRecord
	material   []models.MaterialUsageRecord
	prevention []models.PreventionRecord
	treatments []models.TreatmentRecord
}

// ComputeBatchCost returns the cost breakdown for batchID. Any failed
// sub-query aborts the computation with ErrComputationFailed; an unknown
// batch yields ErrNotFound.
func (s *Service) ComputeBatchCost(ctx context.Context, batchID string) (breakdown models.CostBreakdown, err error) {
	batchID = strings.TrimSpace(batchID)
	if batchID == "" {
		return models.CostBreakdown{}, apperrors.Validation("batchId is required")
	}

	ctx, span := s.tracer.Start(ctx, "costing.ComputeBatchCost", trace.WithAttributes(attribute.String("batch.id", batchID)))
	start := s.now()
	defer func() {
		s.metrics.ObserveCostComputation(err == nil, s.now().Sub(start))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			if !apperrors.IsClientError(err) {
				s.logger.Error("batch cost computation failed", zap.String("batch_id", batchID), zap.Error(err))
			}
		}
		span.End()
	}()

	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return models.CostBreakdown{}, apperrors.ComputationFailed("load batch", err)
	}

	u, err := s.load(ctx, batchID)
	if err != nil {
		return models.CostBreakdown{}, err
	}

	live := decimal.NewFromInt(int64(batch.LiveQuantity()))

	entryUnit := decimal.NewFromFloat(batch.UnitPrice)

	breedingTotal, breedingBase := breeding(u.feed, u.material, live)
	breedingUnit := breedingTotal.Div(breedingBase)

	preventionTotal, preventionBase := prevention(u.prevention, live)
	preventionUnit := preventionTotal.Div(preventionBase)

	treatmentTotal, treatmentBase, baseFrom, err := s.treatment(ctx, u.treatments, live)
	if err != nil {
		return models.CostBreakdown{}, err
	}
	treatmentUnit := treatmentTotal.Div(treatmentBase)

	unitTotal := entryUnit.Add(breedingUnit).Add(preventionUnit).Add(treatmentUnit)
	current := batch.CurrentQuantity
	if current < 0 {
		current = 0
	}
	// Derived from the rounded unit cost so total = unit × live holds exactly.
	total := unitTotal.Round(2).Mul(decimal.NewFromInt(int64(current)))

	breakdown = models.CostBreakdown{
		BatchID:            batch.ID,
		BatchNumber:        batch.BatchNumber,
		CurrentQuantity:    current,
		EntryUnitCost:      money(entryUnit),
		BreedingCost:       money(breedingTotal),
		BreedingBase:       breedingBase.InexactFloat64(),
		BreedingUnitCost:   money(breedingUnit),
		PreventionCost:     money(preventionTotal),
		PreventionBase:     preventionBase.InexactFloat64(),
		PreventionUnitCost: money(preventionUnit),
		TreatmentCost:      money(treatmentTotal),
		TreatmentBase:      treatmentBase.InexactFloat64(),
		TreatmentBaseFrom:  baseFrom,
		TreatmentUnitCost:  money(treatmentUnit),
		TotalUnitCost:      money(unitTotal),
		TotalCost:          money(total),
	}

	s.logger.Debug("batch cost computed",
		zap.String("batch_id", batchID),
		zap.Float64("total_unit_cost", breakdown.TotalUnitCost),
		zap.Float64("total_cost", breakdown.TotalCost))

	return breakdown, nil
}

// load reads the independent collections concurrently.
func (s *Service) load(ctx context.Context, batchID string) (usage, error) {
	var u usage
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		recs, err := s.store.ListFeedUsage(gctx, batchID)
		if err != nil {
			return apperrors.ComputationFailed("load feed usage", err)
		}
		u.feed = recs
		return nil
	})
	g.Go(func() error {
		recs, err := s.store.ListMaterialUsage(gctx, batchID)
		if err != nil {
			return apperrors.ComputationFailed("load material usage", err)
		}
		u.material = recs
		return nil
	})
	g.Go(func() error {
		recs, err := s.store.ListPrevention(gctx, batchID)
		if err != nil {
			return apperrors.ComputationFailed("load prevention records", err)
		}
		u.prevention = recs
		return nil
	})
	g.Go(func() error {
		recs, err := s.store.ListTreatments(gctx, repository.TreatmentFilter{BatchID: batchID})
		if err != nil {
			return apperrors.ComputationFailed("load treatment records", err)
		}
		u.treatments = recs
		return nil
	})

	if err := g.Wait(); err != nil {
		return usage{}, err
	}
	return u, nil
}

func breeding(feed []models.FeedUsageRecord, material []models.MaterialUsageRecord, live decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	total, base := decimal.Zero, decimal.Zero
	for _, r := range feed {
		if r.IsDeleted {
			continue
		}
		total = total.Add(decimal.NewFromFloat(r.TotalCost))
		base = base.Add(decimal.NewFromFloat(r.AllocationCount()))
	}
	for _, r := range material {
		if r.IsDeleted {
			continue
		}
		total = total.Add(decimal.NewFromFloat(r.TotalCost))
		base = base.Add(decimal.NewFromFloat(r.AllocationCount()))
	}
	if !base.IsPositive() {
		base = live
	}
	return total, base
}

func prevention(records []models.PreventionRecord, live decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	total, base := decimal.Zero, decimal.Zero
	for _, r := range records {
		if r.IsDeleted {
			continue
		}
		total = total.Add(decimal.NewFromFloat(r.Cost()))
		if r.TargetCount > 0 {
			base = base.Add(decimal.NewFromInt(int64(r.TargetCount)))
		}
	}
	if !base.IsPositive() {
		base = live
	}
	return total, base
}

// treatment sums treatment costs, falling back through the historical cost
// shapes for records not yet normalized, and picks the allocation base:
// the contributing records' affected counts, then the affected counts of the
// diagnoses they reference, then the live quantity.
func (s *Service) treatment(ctx context.Context, records []models.TreatmentRecord, live decimal.Decimal) (decimal.Decimal, decimal.Decimal, string, error) {
	total := decimal.Zero
	affected := 0
	var diagnosisIDs []string

	for _, r := range records {
		if r.IsDeleted {
			continue
		}
		cost, _ := r.ResolveLegacyCost()
		if cost <= 0 {
			continue
		}
		total = total.Add(decimal.NewFromFloat(cost))
		if r.AffectedCount > 0 {
			affected += r.AffectedCount
		}
		if r.DiagnosisID != "" {
			diagnosisIDs = append(diagnosisIDs, r.DiagnosisID)
		}
	}

	if affected > 0 {
		return total, decimal.NewFromInt(int64(affected)), models.BaseFromAffectedCount, nil
	}

	if len(diagnosisIDs) > 0 {
		diagnoses, err := s.store.ListDiagnosesByIDs(ctx, diagnosisIDs)
		if err != nil {
			return decimal.Zero, decimal.Zero, "", apperrors.ComputationFailed("load referenced diagnoses", err)
		}
		fromDiagnoses := 0
		for _, d := range diagnoses {
			if d.AffectedCount > 0 {
				fromDiagnoses += d.AffectedCount
			}
		}
		if fromDiagnoses > 0 {
			return total, decimal.NewFromInt(int64(fromDiagnoses)), models.BaseFromDiagnosis, nil
		}
	}

	return total, live, models.BaseFromLiveQuantity, nil
}

func money(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}
