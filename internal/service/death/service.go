// Package death implements human review of death causes and the cost
// snapshot refresh for death records.
package death

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/service/costing"
)

// bulkConcurrency caps how many batches are recomputed at once.
const bulkConcurrency = 4

// Store is the persistence surface of the correction workflow.
type Store interface {
	ListBatchIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
	GetDeathRecord(ctx context.Context, id string) (models.DeathRecord, error)
	ListDeathRecords(ctx context.Context, batchIDs []string) ([]models.DeathRecord, error)
	AppendCorrection(ctx context.Context, id string, ev models.CorrectionEvent) (models.DeathRecord, error)
	UpdateCostSnapshot(ctx context.Context, id string, snap models.DeathCostSnapshot) error
}

// Exporter receives every breakdown computed by the bulk recompute.
type Exporter interface {
	ExportBreakdown(ctx context.Context, breakdown models.CostBreakdown) error
}

// RecordResult is the outcome of refreshing one death record.
type RecordResult struct {
	DeathRecordID string  `json:"deathRecordId"`
	BatchID       string  `json:"batchId"`
	Success       bool    `json:"success"`
	TotalLoss     float64 `json:"totalLoss,omitempty"`
	Code          string  `json:"code,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// BulkResult enumerates per-record outcomes of a bulk recompute.
type BulkResult struct {
	Batches  int            `json:"batches"`
	Updated  int            `json:"updated"`
	Failed   int            `json:"failed"`
	Exported int            `json:"exported"`
	Results  []RecordResult `json:"results"`
}

// Service implements the death correction workflow.
type Service struct {
	store    Store
	costs    costing.Calculator
	exporter Exporter
	logger   *zap.Logger
	now      func() time.Time
	newID    func() string
}

// NewService constructs the workflow. exporter may be nil.
func NewService(store Store, costs costing.Calculator, exporter Exporter, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		costs:    costs,
		exporter: exporter,
		logger:   logger,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

// Get returns a death record.
func (s *Service) Get(ctx context.Context, id string) (models.DeathRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.DeathRecord{}, apperrors.Validation("death record id is required")
	}
	return s.store.GetDeathRecord(ctx, id)
}

// CorrectDiagnosis confirms or overrides the suggested cause of death. Each
// review is appended to the record's correction history; the latest one is
// the current cause.
func (s *Service) CorrectDiagnosis(ctx context.Context, actor models.Principal, p models.CorrectDiagnosisPayload) (models.DeathRecord, error) {
	rec, err := s.Get(ctx, p.DeathRecordID)
	if err != nil {
		return models.DeathRecord{}, err
	}

	ev, err := s.correctionEvent(rec, actor, p)
	if err != nil {
		return models.DeathRecord{}, err
	}

	updated, err := s.store.AppendCorrection(ctx, rec.ID, ev)
	if err != nil {
		return models.DeathRecord{}, err
	}

	s.logger.Info("death diagnosis reviewed",
		zap.String("death_record_id", rec.ID),
		zap.String("correction_type", string(ev.CorrectionType)),
		zap.Int("accuracy_rating", ev.AccuracyRating),
		zap.Int("corrections", len(updated.Corrections)),
		zap.String("corrected_by", actor.ID))

	if p.RecalculateCost {
		return s.refresh(ctx, updated)
	}
	return updated, nil
}

func (s *Service) correctionEvent(rec models.DeathRecord, actor models.Principal, p models.CorrectDiagnosisPayload) (models.CorrectionEvent, error) {
	ev := models.CorrectionEvent{
		ID:               s.newID(),
		PreviousCause:    rec.CurrentCause(),
		CorrectionReason: strings.TrimSpace(p.CorrectionReason),
		CorrectedBy:      actor.ID,
		CorrectedAt:      s.now().UTC(),
		AccuracyRating:   p.AIAccuracyRating,
	}

	if p.IsConfirmed {
		if p.CorrectionType != "" && p.CorrectionType != models.CorrectionConfirmed {
			return models.CorrectionEvent{}, apperrors.Validation("correctionType %q contradicts isConfirmed", p.CorrectionType)
		}
		ev.CorrectionType = models.CorrectionConfirmed
		ev.CorrectedCause = rec.DeathCause
		if ev.AccuracyRating == 0 {
			ev.AccuracyRating = models.MaxAccuracyRating
		}
	} else {
		if p.CorrectionType != "" && p.CorrectionType != models.CorrectionCorrected {
			return models.CorrectionEvent{}, apperrors.Validation("correctionType %q requires isConfirmed", p.CorrectionType)
		}
		ev.CorrectionType = models.CorrectionCorrected
		ev.CorrectedCause = strings.TrimSpace(p.CorrectedCause)
		if ev.CorrectedCause == "" {
			return models.CorrectionEvent{}, apperrors.Validation("correctedCause is required")
		}
		if sameCause(ev.CorrectedCause, rec.DeathCause) {
			return models.CorrectionEvent{}, apperrors.Validation("correctedCause must differ from the original cause")
		}
		if ev.CorrectionReason == "" {
			return models.CorrectionEvent{}, apperrors.Validation("correctionReason is required")
		}
	}

	if ev.AccuracyRating < 1 || ev.AccuracyRating > models.MaxAccuracyRating {
		return models.CorrectionEvent{}, apperrors.Validation("aiAccuracyRating must be between 1 and %d", models.MaxAccuracyRating)
	}
	return ev, nil
}

// RecalculateDeathCost refreshes one record's cost snapshot.
func (s *Service) RecalculateDeathCost(ctx context.Context, p models.RecalculateDeathCostPayload) (models.DeathRecord, error) {
	rec, err := s.Get(ctx, p.DeathRecordID)
	if err != nil {
		return models.DeathRecord{}, err
	}
	return s.refresh(ctx, rec)
}

func (s *Service) refresh(ctx context.Context, rec models.DeathRecord) (models.DeathRecord, error) {
	breakdown, err := s.costs.ComputeBatchCost(ctx, rec.BatchID)
	if err != nil {
		return models.DeathRecord{}, err
	}
	snap := breakdown.SnapshotFor(rec.DeathCount, s.now().UTC())
	if err := s.store.UpdateCostSnapshot(ctx, rec.ID, snap); err != nil {
		return models.DeathRecord{}, err
	}
	rec.CostSnapshot = &snap
	rec.UpdatedAt = snap.CalculatedAt
	return rec, nil
}

// RecalculateAll refreshes the snapshots of every death record in one batch,
// or in every batch the caller owns. The cost is computed once per batch and
// failures are reported per record.
func (s *Service) RecalculateAll(ctx context.Context, actor models.Principal, p models.RecalculateAllPayload) (BulkResult, error) {
	batchIDs, err := s.scope(ctx, actor, strings.TrimSpace(p.BatchID))
	if err != nil {
		return BulkResult{}, err
	}
	if len(batchIDs) == 0 {
		return BulkResult{Results: []RecordResult{}}, nil
	}

	records, err := s.store.ListDeathRecords(ctx, batchIDs)
	if err != nil {
		return BulkResult{}, err
	}

	grouped := make(map[string][]models.DeathRecord)
	var order []string
	for _, rec := range records {
		if _, seen := grouped[rec.BatchID]; !seen {
			order = append(order, rec.BatchID)
		}
		grouped[rec.BatchID] = append(grouped[rec.BatchID], rec)
	}
	sort.Strings(order)

	perBatch := make([][]RecordResult, len(order))
	exported := make([]bool, len(order))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(bulkConcurrency)
	for i, batchID := range order {
		g.Go(func() error {
			perBatch[i], exported[i] = s.recalculateBatch(gctx, batchID, grouped[batchID])
			return nil
		})
	}
	_ = g.Wait()

	result := BulkResult{Batches: len(order), Results: make([]RecordResult, 0, len(records))}
	for i := range order {
		for _, r := range perBatch[i] {
			if r.Success {
				result.Updated++
			} else {
				result.Failed++
			}
			result.Results = append(result.Results, r)
		}
		if exported[i] {
			result.Exported++
		}
	}

	s.logger.Info("death cost snapshots recalculated",
		zap.String("requested_by", actor.ID),
		zap.Int("batches", result.Batches),
		zap.Int("updated", result.Updated),
		zap.Int("failed", result.Failed))

	return result, nil
}

func (s *Service) scope(ctx context.Context, actor models.Principal, batchID string) ([]string, error) {
	if batchID != "" {
		return []string{batchID}, nil
	}
	if actor.ID == "" {
		return nil, apperrors.Validation("batchId is required without a caller identity")
	}
	return s.store.ListBatchIDsByOwner(ctx, actor.ID)
}

func (s *Service) recalculateBatch(ctx context.Context, batchID string, records []models.DeathRecord) ([]RecordResult, bool) {
	results := make([]RecordResult, 0, len(records))

	breakdown, err := s.costs.ComputeBatchCost(ctx, batchID)
	if err != nil {
		s.logger.Warn("batch cost unavailable for death records",
			zap.String("batch_id", batchID), zap.Int("records", len(records)), zap.Error(err))
		for _, rec := range records {
			results = append(results, failed(rec, err))
		}
		return results, false
	}

	at := s.now().UTC()
	for _, rec := range records {
		snap := breakdown.SnapshotFor(rec.DeathCount, at)
		if err := s.store.UpdateCostSnapshot(ctx, rec.ID, snap); err != nil {
			s.logger.Warn("death cost snapshot not updated",
				zap.String("death_record_id", rec.ID), zap.Error(err))
			results = append(results, failed(rec, err))
			continue
		}
		results = append(results, RecordResult{
			DeathRecordID: rec.ID,
			BatchID:       rec.BatchID,
			Success:       true,
			TotalLoss:     snap.TotalLoss,
		})
	}

	if s.exporter == nil {
		return results, false
	}
	if err := s.exporter.ExportBreakdown(ctx, breakdown); err != nil {
		s.logger.Warn("batch cost export failed", zap.String("batch_id", batchID), zap.Error(err))
		return results, false
	}
	return results, true
}

func failed(rec models.DeathRecord, err error) RecordResult {
	return RecordResult{
		DeathRecordID: rec.ID,
		BatchID:       rec.BatchID,
		Code:          string(apperrors.CodeOf(err)),
		Error:         err.Error(),
	}
}

func sameCause(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
