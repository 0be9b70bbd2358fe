// Package reconcile finds and repairs known cross-record inconsistencies.
// Every repair is idempotent, and a dry run reports without writing.
package reconcile

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/metrics"
	"github.com/mamadbah2/flockhealth/internal/repository"
	"github.com/mamadbah2/flockhealth/internal/service/costing"
	"github.com/mamadbah2/flockhealth/internal/service/treatment"
)

// Repair kinds.
const (
	KindUnflaggedDiagnosis  = "unflagged_diagnosis"
	KindMissingCreatedBy    = "missing_created_by"
	KindMissingDeathRecord  = "missing_death_record"
	KindUnlinkedDeathRecord = "unlinked_death_record"
	KindLegacyCost          = "legacy_cost"
)

// Store is the persistence surface of the reconciliation pass.
type Store interface {
	GetBatch(ctx context.Context, id string) (models.Batch, error)
	ListDiagnosesByIDs(ctx context.Context, ids []string) ([]models.DiagnosisRecord, error)
	MarkDiagnosisTreated(ctx context.Context, diagnosisID, treatmentID string, at time.Time) error
	ListTreatments(ctx context.Context, filter repository.TreatmentFilter) ([]models.TreatmentRecord, error)
	ReplaceTreatment(ctx context.Context, rec models.TreatmentRecord, expectedVersion int) error
	GetDeathRecord(ctx context.Context, id string) (models.DeathRecord, error)
	FindDeathRecordByTreatment(ctx context.Context, treatmentID string) (models.DeathRecord, error)
	InsertDeathRecord(ctx context.Context, rec models.DeathRecord) error
}

// Finding is one inconsistency and what was done about it.
type Finding struct {
	Kind     string `json:"kind"`
	RecordID string `json:"recordId"`
	BatchID  string `json:"batchId,omitempty"`
	Detail   string `json:"detail"`
	Applied  bool   `json:"applied"`
	Error    string `json:"error,omitempty"`
}

// Report summarizes a pass.
type Report struct {
	DryRun     bool           `json:"dryRun"`
	BatchID    string         `json:"batchId,omitempty"`
	Scanned    int            `json:"scanned"`
	Findings   []Finding      `json:"findings"`
	Counts     map[string]int `json:"counts"`
	StartedAt  time.Time      `json:"startedAt"`
	FinishedAt time.Time      `json:"finishedAt"`
}

func (r *Report) add(f Finding) {
	r.Findings = append(r.Findings, f)
	r.Counts[f.Kind]++
}

// Service runs reconciliation passes.
type Service struct {
	store   Store
	costs   costing.Calculator
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// NewService constructs the reconciler.
func NewService(store Store, costs costing.Calculator, m *metrics.Metrics, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:   store,
		costs:   costs,
		metrics: m,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// pass carries per-run caches.
type pass struct {
	report *Report
	owners map[string]string
	costs  map[string]costResult
}

type costResult struct {
	breakdown models.CostBreakdown
	err       error
}

// Run scans treatment records (of one batch, or all of them) and repairs what
// it finds. Only a failure to list the records fails the call; individual
// repair failures are reported in the findings.
func (s *Service) Run(ctx context.Context, p models.ReconcilePayload) (Report, error) {
	batchID := strings.TrimSpace(p.BatchID)
	report := Report{
		DryRun:    p.DryRun,
		BatchID:   batchID,
		Findings:  []Finding{},
		Counts:    map[string]int{},
		StartedAt: s.now().UTC(),
	}

	treatments, err := s.store.ListTreatments(ctx, repository.TreatmentFilter{BatchID: batchID})
	if err != nil {
		return Report{}, err
	}
	report.Scanned = len(treatments)

	ps := &pass{report: &report, owners: map[string]string{}, costs: map[string]costResult{}}
	for i := range treatments {
		if err := ctx.Err(); err != nil {
			return Report{}, err
		}
		treatments[i] = s.reconcileTreatment(ctx, ps, treatments[i], p.DryRun)
	}
	s.reconcileDiagnoses(ctx, ps, treatments, p.DryRun)

	report.FinishedAt = s.now().UTC()
	for _, f := range report.Findings {
		s.metrics.ObserveRepair(f.Kind, f.Applied)
	}
	s.logger.Info("reconciliation pass finished",
		zap.Bool("dry_run", p.DryRun),
		zap.String("batch_id", batchID),
		zap.Int("scanned", report.Scanned),
		zap.Int("findings", len(report.Findings)),
		zap.Any("counts", report.Counts))

	return report, nil
}

// reconcileTreatment repairs one record's own fields in a single conditional
// write, then creates its missing death record. It returns the record as it
// now stands.
func (s *Service) reconcileTreatment(ctx context.Context, ps *pass, rec models.TreatmentRecord, dryRun bool) models.TreatmentRecord {
	patched := rec.Clone()
	var pending []Finding

	if strings.TrimSpace(rec.CreatedBy) == "" {
		owner, err := s.owner(ctx, ps, rec.BatchID)
		f := Finding{Kind: KindMissingCreatedBy, RecordID: rec.ID, BatchID: rec.BatchID, Detail: "createdBy filled from batch owner " + owner}
		switch {
		case err != nil:
			f.Detail = "batch owner unavailable"
			f.Error = err.Error()
			ps.report.add(f)
		case owner == "":
			f.Detail = "batch has no owner to attribute"
			ps.report.add(f)
		default:
			patched.CreatedBy = owner
			pending = append(pending, f)
		}
	}

	if rec.HasLegacyCost() {
		value, source := rec.ResolveLegacyCost()
		patched.CostInfo.TotalCost = value
		patched.Legacy = models.LegacyCost{}
		pending = append(pending, Finding{Kind: KindLegacyCost, RecordID: rec.ID, BatchID: rec.BatchID, Detail: "costInfo.totalCost set from " + source})
	}

	var needDeath bool
	if rec.Status() == models.TreatmentDied {
		existing, err := s.deathRecordFor(ctx, rec)
		switch {
		case err == nil && existing.ID != rec.DeathRecordID:
			patched.DeathRecordID = existing.ID
			pending = append(pending, Finding{Kind: KindUnlinkedDeathRecord, RecordID: rec.ID, BatchID: rec.BatchID, Detail: "linked death record " + existing.ID})
		case err == nil:
		case errors.Is(err, apperrors.ErrNotFound):
			needDeath = true
			if patched.DeathRecordID == "" {
				patched.DeathRecordID = s.newID()
			}
		default:
			ps.report.add(Finding{Kind: KindMissingDeathRecord, RecordID: rec.ID, BatchID: rec.BatchID, Detail: "death record lookup failed", Error: err.Error()})
		}
	}

	if dryRun {
		for _, f := range pending {
			ps.report.add(f)
		}
		if needDeath {
			ps.report.add(Finding{Kind: KindMissingDeathRecord, RecordID: rec.ID, BatchID: rec.BatchID, Detail: "died treatment has no death record"})
		}
		return rec
	}

	current := rec
	if len(pending) > 0 || patched.DeathRecordID != rec.DeathRecordID {
		patched.Version = rec.Version + 1
		patched.UpdatedAt = s.now().UTC()
		if err := s.store.ReplaceTreatment(ctx, patched, rec.Version); err != nil {
			for _, f := range pending {
				f.Error = err.Error()
				ps.report.add(f)
			}
			if needDeath {
				ps.report.add(Finding{Kind: KindMissingDeathRecord, RecordID: rec.ID, BatchID: rec.BatchID, Detail: "treatment update failed; death record not created", Error: err.Error()})
			}
			return rec
		}
		for _, f := range pending {
			f.Applied = true
			ps.report.add(f)
		}
		current = patched
	}

	if needDeath {
		ps.report.add(s.createDeathRecord(ctx, ps, current))
	}
	return current
}

func (s *Service) createDeathRecord(ctx context.Context, ps *pass, rec models.TreatmentRecord) Finding {
	f := Finding{Kind: KindMissingDeathRecord, RecordID: rec.ID, BatchID: rec.BatchID, Detail: "death record " + rec.DeathRecordID + " created"}

	count := rec.Outcome.DeathCount
	if count <= 0 {
		f.Detail = "died treatment has no death count"
		return f
	}

	cost := s.batchCost(ctx, ps, rec.BatchID)
	if cost.err != nil {
		f.Detail = "batch cost unavailable; death record not created"
		f.Error = cost.err.Error()
		return f
	}

	at := s.now().UTC()
	if rec.CompletedAt != nil {
		at = rec.CompletedAt.UTC()
	}
	death := treatment.NewDeathRecord(rec.DeathRecordID, rec, count, cost.breakdown, at)
	death.CostSnapshot.CalculatedAt = s.now().UTC()
	if death.CreatedBy == "" {
		death.CreatedBy = models.SystemPrincipal.ID
	}

	if err := s.store.InsertDeathRecord(ctx, death); err != nil {
		f.Error = err.Error()
		return f
	}
	f.Applied = true
	return f
}

// reconcileDiagnoses flags diagnoses that a treatment adopted without the
// diagnosis being marked.
func (s *Service) reconcileDiagnoses(ctx context.Context, ps *pass, treatments []models.TreatmentRecord, dryRun bool) {
	adopter := map[string]models.TreatmentRecord{}
	var ids []string
	for _, t := range treatments {
		if t.DiagnosisID == "" {
			continue
		}
		if _, seen := adopter[t.DiagnosisID]; seen {
			continue
		}
		adopter[t.DiagnosisID] = t
		ids = append(ids, t.DiagnosisID)
	}
	if len(ids) == 0 {
		return
	}

	diagnoses, err := s.store.ListDiagnosesByIDs(ctx, ids)
	if err != nil {
		ps.report.add(Finding{Kind: KindUnflaggedDiagnosis, Detail: "diagnosis lookup failed", Error: err.Error()})
		return
	}

	for _, d := range diagnoses {
		if d.HasTreatment && d.TreatmentID != "" {
			continue
		}
		t := adopter[d.ID]
		f := Finding{Kind: KindUnflaggedDiagnosis, RecordID: d.ID, BatchID: d.BatchID, Detail: "hasTreatment set for treatment " + t.ID}
		if !dryRun {
			if err := s.store.MarkDiagnosisTreated(ctx, d.ID, t.ID, s.now().UTC()); err != nil {
				f.Error = err.Error()
			} else {
				f.Applied = true
			}
		}
		ps.report.add(f)
	}
}

func (s *Service) deathRecordFor(ctx context.Context, rec models.TreatmentRecord) (models.DeathRecord, error) {
	if rec.DeathRecordID != "" {
		d, err := s.store.GetDeathRecord(ctx, rec.DeathRecordID)
		if err == nil || !errors.Is(err, apperrors.ErrNotFound) {
			return d, err
		}
	}
	return s.store.FindDeathRecordByTreatment(ctx, rec.ID)
}

func (s *Service) owner(ctx context.Context, ps *pass, batchID string) (string, error) {
	if owner, ok := ps.owners[batchID]; ok {
		return owner, nil
	}
	batch, err := s.store.GetBatch(ctx, batchID)
	if err != nil {
		return "", err
	}
	ps.owners[batchID] = batch.OwnerID
	return batch.OwnerID, nil
}

func (s *Service) batchCost(ctx context.Context, ps *pass, batchID string) costResult {
	if res, ok := ps.costs[batchID]; ok {
		return res
	}
	breakdown, err := s.costs.ComputeBatchCost(ctx, batchID)
	res := costResult{breakdown: breakdown, err: err}
	ps.costs[batchID] = res
	return res
}
