// Package reporting appends computed batch costs to the spreadsheet ledger.
package reporting

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	repo "github.com/mamadbah2/flockhealth/internal/repository/sheets"
	"github.com/mamadbah2/flockhealth/internal/service/costing"
)

const (
	timestampLayout = time.RFC3339
	costLedgerRange = "BatchCosts!A:P"

	// batch id column and first/last monetary columns of a ledger row
	batchColumn      = 1
	firstValueColumn = 3
	lastValueColumn  = 15
)

// ExportResult reports whether a breakdown was appended to the ledger.
type ExportResult struct {
	Breakdown models.CostBreakdown `json:"breakdown"`
	Exported  bool                 `json:"exported"`
	Reason    string               `json:"reason,omitempty"`
}

// Service exports cost breakdowns to the spreadsheet ledger.
type Service struct {
	repo   repo.Repository
	costs  costing.Calculator
	logger *zap.Logger
	now    func() time.Time
}

// NewService wires a new reporting service instance.
func NewService(repository repo.Repository, costs costing.Calculator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{repo: repository, costs: costs, logger: logger, now: time.Now}
}

// ExportBatchCost computes the current breakdown of a batch and appends it to
// the ledger unless the latest row for that batch already holds the same figures.
func (s *Service) ExportBatchCost(ctx context.Context, batchID string) (ExportResult, error) {
	breakdown, err := s.costs.ComputeBatchCost(ctx, batchID)
	if err != nil {
		return ExportResult{}, err
	}

	unchanged, err := s.unchanged(ctx, breakdown)
	if err != nil {
		return ExportResult{}, err
	}
	if unchanged {
		return ExportResult{Breakdown: breakdown, Reason: "ledger already holds these figures"}, nil
	}

	if err := s.append(ctx, breakdown); err != nil {
		return ExportResult{}, err
	}
	return ExportResult{Breakdown: breakdown, Exported: true}, nil
}

// ExportBreakdown appends an already computed breakdown.
func (s *Service) ExportBreakdown(ctx context.Context, breakdown models.CostBreakdown) error {
	unchanged, err := s.unchanged(ctx, breakdown)
	if err != nil {
		return err
	}
	if unchanged {
		return nil
	}
	return s.append(ctx, breakdown)
}

func (s *Service) append(ctx context.Context, b models.CostBreakdown) error {
	if err := s.repo.WriteRow(ctx, costLedgerRange, Row(b, s.now().UTC())); err != nil {
		return fmt.Errorf("export batch %s cost: %w", b.BatchID, err)
	}
	s.logger.Info("batch cost exported",
		zap.String("batch_id", b.BatchID),
		zap.Float64("total_unit_cost", b.TotalUnitCost),
		zap.Float64("total_cost", b.TotalCost))
	return nil
}

// unchanged compares the breakdown with the most recent ledger row for its batch.
func (s *Service) unchanged(ctx context.Context, b models.CostBreakdown) (bool, error) {
	rows, err := s.repo.ReadRange(ctx, costLedgerRange)
	if err != nil {
		return false, fmt.Errorf("load cost ledger: %w", err)
	}

	want := Row(b, time.Time{})
	for i := len(rows) - 1; i >= 0; i-- {
		row := rows[i]
		if len(row) <= lastValueColumn || fmt.Sprint(row[batchColumn]) != b.BatchID {
			continue
		}
		for col := firstValueColumn; col <= lastValueColumn; col++ {
			got, err := parseFloat(row[col])
			if err != nil {
				s.logger.Debug("skip ledger cell with invalid number", zap.Any("value", row[col]), zap.Error(err))
				return false, nil
			}
			if math.Abs(got-want[col].(float64)) > 0.005 {
				return false, nil
			}
		}
		return true, nil
	}
	return false, nil
}

// Row lays out a breakdown as a ledger row.
func Row(b models.CostBreakdown, at time.Time) []any {
	return []any{
		at.Format(timestampLayout),
		b.BatchID,
		b.BatchNumber,
		float64(b.CurrentQuantity),
		b.EntryUnitCost,
		b.BreedingCost,
		b.BreedingBase,
		b.BreedingUnitCost,
		b.PreventionCost,
		b.PreventionBase,
		b.PreventionUnitCost,
		b.TreatmentCost,
		b.TreatmentBase,
		b.TreatmentUnitCost,
		b.TotalUnitCost,
		b.TotalCost,
	}
}

func parseFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	}
	str := strings.TrimSpace(fmt.Sprint(value))
	if str == "" {
		return 0, apperrors.Validation("empty numeric value")
	}
	return strconv.ParseFloat(str, 64)
}
