// Package treatment drives a health event from diagnosis through treatment
// to a terminal outcome.
package treatment

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
	"github.com/mamadbah2/flockhealth/internal/service/costing"
)

// maxWriteAttempts bounds the reload-and-retry loop on version conflicts.
const maxWriteAttempts = 3

// Store is the persistence surface of the lifecycle manager.
type Store interface {
	GetBatch(ctx context.Context, id string) (models.Batch, error)
	GetDiagnosis(ctx context.Context, id string) (models.DiagnosisRecord, error)
	ClaimDiagnosis(ctx context.Context, diagnosisID, treatmentID string, at time.Time) error
	ReleaseDiagnosis(ctx context.Context, diagnosisID, treatmentID string, at time.Time) error
	MarkDiagnosisTreated(ctx context.Context, diagnosisID, treatmentID string, at time.Time) error
	GetTreatment(ctx context.Context, id string) (models.TreatmentRecord, error)
	InsertTreatment(ctx context.Context, rec models.TreatmentRecord) error
	ReplaceTreatment(ctx context.Context, rec models.TreatmentRecord, expectedVersion int) error
	InsertDeathRecord(ctx context.Context, rec models.DeathRecord) error
}

// DiedResult is returned when a treatment closes as died.
type DiedResult struct {
	Treatment   models.TreatmentRecord `json:"treatment"`
	DeathRecord models.DeathRecord     `json:"deathRecord"`
}

// Service implements the treatment state machine.
type Service struct {
	store   Store
	costs   costing.Calculator
	metrics *metrics.Metrics
	logger  *zap.Logger
	now     func() time.Time
	newID   func() string
}

// NewService constructs the lifecycle manager.
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

// Create opens a treatment record in the created state. When the payload
// references a diagnosis the diagnosis is claimed first so that two callers
// cannot adopt it concurrently.
func (s *Service) Create(ctx context.Context, actor models.Principal, p models.CreateTreatmentPayload) (models.TreatmentRecord, error) {
	p.BatchID = strings.TrimSpace(p.BatchID)
	p.DiagnosisID = strings.TrimSpace(p.DiagnosisID)
	p.Diagnosis = strings.TrimSpace(p.Diagnosis)
	if p.BatchID == "" {
		return models.TreatmentRecord{}, apperrors.Validation("batchId is required")
	}

	batch, err := s.store.GetBatch(ctx, p.BatchID)
	if err != nil {
		return models.TreatmentRecord{}, err
	}

	var diag *models.DiagnosisRecord
	if p.DiagnosisID != "" {
		d, err := s.store.GetDiagnosis(ctx, p.DiagnosisID)
		if err != nil {
			return models.TreatmentRecord{}, err
		}
		if d.BatchID != batch.ID {
			return models.TreatmentRecord{}, apperrors.Validation("diagnosis %s belongs to batch %s, not %s", d.ID, d.BatchID, batch.ID)
		}
		if !d.Adoptable() {
			return models.TreatmentRecord{}, apperrors.Validation("diagnosis %s is %s and cannot be adopted", d.ID, d.Status)
		}
		if d.HasTreatment {
			return models.TreatmentRecord{}, apperrors.DuplicateTreatment("diagnosis %s already adopted by treatment %s", d.ID, d.TreatmentID)
		}
		diag = &d
	}

	if diag != nil {
		if top, ok := diag.TopCandidate(); ok {
			if p.Diagnosis == "" {
				p.Diagnosis = top.Disease
			}
			if p.DiagnosisConfidence == 0 {
				p.DiagnosisConfidence = top.Confidence
			}
		}
		if p.AffectedCount == 0 {
			p.AffectedCount = diag.AffectedCount
		}
	}

	if p.Diagnosis == "" {
		return models.TreatmentRecord{}, apperrors.Validation("diagnosis is required")
	}
	if strings.TrimSpace(p.Plan.Primary) == "" && len(p.Medications) == 0 {
		return models.TreatmentRecord{}, apperrors.Validation("a treatment plan or at least one medication is required")
	}
	if err := validateMedications(p.Medications); err != nil {
		return models.TreatmentRecord{}, err
	}
	if p.AffectedCount < 0 {
		return models.TreatmentRecord{}, apperrors.Validation("affectedCount must not be negative")
	}

	now := s.now().UTC()
	rec := models.TreatmentRecord{
		ID:                  s.newID(),
		BatchID:             batch.ID,
		BatchNumber:         batch.BatchNumber,
		DiagnosisID:         p.DiagnosisID,
		Type:                p.Type,
		Diagnosis:           p.Diagnosis,
		DiagnosisConfidence: p.DiagnosisConfidence,
		AffectedCount:       p.AffectedCount,
		Plan:                p.Plan,
		Medications:         withStatus(p.Medications, models.MedicationPending, ""),
		Outcome: models.Outcome{
			Status:       models.TreatmentCreated,
			TotalTreated: p.AffectedCount,
		},
		CostInfo:           p.CostInfo.Normalize(),
		Source:             p.Source,
		StartDate:          now,
		ExpectedRecoveryAt: p.ExpectedRecoveryAt,
		CreatedBy:          actor.ID,
		CreatedAt:          now,
		UpdatedAt:          now,
		Version:            1,
	}
	if p.StartDate != nil {
		rec.StartDate = p.StartDate.UTC()
	}
	if rec.Type == "" {
		rec.Type = models.TreatmentTypeUnclassified
		if len(rec.Medications) > 0 {
			rec.Type = models.TreatmentTypeMedication
		}
	}

	if diag != nil {
		if err := s.store.ClaimDiagnosis(ctx, diag.ID, rec.ID, now); err != nil {
			return models.TreatmentRecord{}, err
		}
	}

	if err := s.store.InsertTreatment(ctx, rec); err != nil {
		if diag != nil {
			if rerr := s.store.ReleaseDiagnosis(ctx, diag.ID, rec.ID, s.now().UTC()); rerr != nil {
				s.logger.Error("failed to release diagnosis claim",
					zap.String("diagnosis_id", diag.ID), zap.String("treatment_id", rec.ID), zap.Error(rerr))
			}
		}
		return models.TreatmentRecord{}, err
	}

	s.metrics.ObserveTransition(string(models.TreatmentCreated))
	s.logger.Info("treatment record created",
		zap.String("treatment_id", rec.ID),
		zap.String("batch_id", rec.BatchID),
		zap.String("diagnosis_id", rec.DiagnosisID),
		zap.String("created_by", rec.CreatedBy))

	return rec, nil
}

// Get returns a treatment record.
func (s *Service) Get(ctx context.Context, id string) (models.TreatmentRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return models.TreatmentRecord{}, apperrors.Validation("treatment id is required")
	}
	return s.store.GetTreatment(ctx, id)
}

// SubmitPlan sets the plan and medications and moves the record to ongoing.
// Resubmitting while ongoing revises the plan.
func (s *Service) SubmitPlan(ctx context.Context, actor models.Principal, p models.SubmitPlanPayload) (models.TreatmentRecord, error) {
	if err := validateMedications(p.Medications); err != nil {
		return models.TreatmentRecord{}, err
	}

	rec, err := s.mutate(ctx, p.TreatmentID, func(rec *models.TreatmentRecord) error {
		if st := rec.Status(); st != models.TreatmentCreated && st != models.TreatmentOngoing {
			return apperrors.InvalidTransition("treatment %s is %s; plan can no longer change", rec.ID, st)
		}
		if strings.TrimSpace(p.Plan.Primary) != "" {
			rec.Plan = p.Plan
		}
		if len(p.Medications) > 0 {
			rec.Medications = withStatus(p.Medications, models.MedicationActive, "")
		} else {
			rec.Medications = withStatus(rec.Medications, models.MedicationActive, models.MedicationPending)
		}
		if strings.TrimSpace(rec.Plan.Primary) == "" && len(rec.Medications) == 0 {
			return apperrors.Validation("a treatment plan or at least one medication is required")
		}
		if p.CostInfo != nil {
			rec.CostInfo = p.CostInfo.Normalize()
		}
		if p.ExpectedRecoveryAt != nil {
			rec.ExpectedRecoveryAt = p.ExpectedRecoveryAt
		}
		rec.Outcome.Status = models.TreatmentOngoing
		return nil
	})
	if err != nil {
		return models.TreatmentRecord{}, err
	}

	s.metrics.ObserveTransition(string(models.TreatmentOngoing))
	s.logger.Info("treatment plan submitted", zap.String("treatment_id", rec.ID), zap.String("operator", actor.ID))
	return rec, nil
}

// AppendProgress records a follow-up observation. The status is unchanged.
func (s *Service) AppendProgress(ctx context.Context, actor models.Principal, p models.ProgressPayload) (models.TreatmentRecord, error) {
	if strings.TrimSpace(p.Symptoms) == "" {
		return models.TreatmentRecord{}, apperrors.Validation("symptoms are required")
	}
	if p.AppetiteRating < 0 || p.AppetiteRating > 5 {
		return models.TreatmentRecord{}, apperrors.Validation("appetiteRating must be between 0 and 5")
	}

	return s.mutate(ctx, p.TreatmentID, func(rec *models.TreatmentRecord) error {
		if st := rec.Status(); st.Terminal() {
			return apperrors.InvalidTransition("treatment %s is %s; progress can no longer be recorded", rec.ID, st)
		}
		date := s.now().UTC()
		if p.Date != nil {
			date = p.Date.UTC()
		}
		day := p.DayIndex
		if day <= 0 {
			day = dayIndex(rec.StartDate, date)
		}
		rec.Progress = append(rec.Progress, models.ProgressEntry{
			Date:           date,
			DayIndex:       day,
			Symptoms:       strings.TrimSpace(p.Symptoms),
			Vitals:         p.Vitals,
			AppetiteRating: p.AppetiteRating,
			Operator:       actor.ID,
		})
		return nil
	})
}

// CompleteCured closes the record as cured. The cured, improved and death
// counts together may not exceed the number treated.
func (s *Service) CompleteCured(ctx context.Context, actor models.Principal, p models.CompleteCuredPayload) (models.TreatmentRecord, error) {
	if p.CuredCount <= 0 {
		return models.TreatmentRecord{}, apperrors.Validation("curedCount must be greater than zero")
	}
	if p.ImprovedCount < 0 || p.TotalTreated < 0 {
		return models.TreatmentRecord{}, apperrors.Validation("counts must not be negative")
	}

	rec, err := s.mutate(ctx, p.TreatmentID, func(rec *models.TreatmentRecord) error {
		if err := completable(rec); err != nil {
			return err
		}
		total := treatedCount(rec, p.TotalTreated)
		if total <= 0 {
			return apperrors.Validation("totalTreated is required when the record has no affected count")
		}
		accounted := p.CuredCount + p.ImprovedCount + rec.Outcome.DeathCount
		if accounted > total {
			return apperrors.Validation("cured (%d) + improved (%d) + died (%d) exceeds total treated (%d)",
				p.CuredCount, p.ImprovedCount, rec.Outcome.DeathCount, total)
		}
		at := s.now().UTC()
		rec.Outcome.Status = models.TreatmentCured
		rec.Outcome.CuredCount = p.CuredCount
		rec.Outcome.ImprovedCount = p.ImprovedCount
		rec.Outcome.TotalTreated = total
		if notes := strings.TrimSpace(p.Notes); notes != "" {
			rec.Outcome.Reason = notes
		}
		rec.Medications = closeMedications(rec.Medications, models.MedicationCompleted, at)
		rec.CompletedAt = &at
		return nil
	})
	if err != nil {
		return models.TreatmentRecord{}, err
	}

	s.metrics.ObserveTransition(string(models.TreatmentCured))
	s.logger.Info("treatment completed as cured",
		zap.String("treatment_id", rec.ID),
		zap.Int("cured", rec.Outcome.CuredCount),
		zap.Int("total_treated", rec.Outcome.TotalTreated),
		zap.String("operator", actor.ID))
	return rec, nil
}

// CompleteDied closes the record as died and writes the death record with a
// cost snapshot. The batch cost is computed before anything is written so a
// failed computation leaves the treatment untouched. Flagging the source
// diagnosis afterwards is best-effort and left to reconciliation on failure.
func (s *Service) CompleteDied(ctx context.Context, actor models.Principal, p models.CompleteDiedPayload) (DiedResult, error) {
	if p.DiedCount <= 0 {
		return DiedResult{}, apperrors.Validation("diedCount must be greater than zero")
	}

	current, err := s.Get(ctx, p.TreatmentID)
	if err != nil {
		return DiedResult{}, err
	}
	if err := completable(&current); err != nil {
		return DiedResult{}, err
	}

	breakdown, err := s.costs.ComputeBatchCost(ctx, current.BatchID)
	if err != nil {
		return DiedResult{}, err
	}

	deathID := s.newID()
	rec, err := s.mutate(ctx, current.ID, func(rec *models.TreatmentRecord) error {
		if err := completable(rec); err != nil {
			return err
		}
		total := treatedCount(rec, 0)
		if total > 0 && rec.Outcome.Accounted()+p.DiedCount > total {
			return apperrors.Validation("died (%d) + already accounted (%d) exceeds total treated (%d)",
				p.DiedCount, rec.Outcome.Accounted(), total)
		}
		at := s.now().UTC()
		rec.Outcome.Status = models.TreatmentDied
		rec.Outcome.DeathCount += p.DiedCount
		rec.Outcome.TotalTreated = max(total, rec.Outcome.Accounted())
		rec.Medications = closeMedications(rec.Medications, models.MedicationStopped, at)
		rec.DeathRecordID = deathID
		rec.CompletedAt = &at
		return nil
	})
	if err != nil {
		return DiedResult{}, err
	}

	now := s.now().UTC()
	death := NewDeathRecord(deathID, rec, p.DiedCount, breakdown, now)
	if p.DeathDate != nil {
		death.DeathDate = p.DeathDate.UTC()
	}
	if cause := strings.TrimSpace(p.DeathCause); cause != "" {
		death.DeathCause = cause
	}
	death.Autopsy = p.Autopsy
	death.CreatedBy = actor.ID

	if err := s.store.InsertDeathRecord(ctx, death); err != nil {
		s.logger.Error("treatment closed as died but death record write failed",
			zap.String("treatment_id", rec.ID), zap.String("death_record_id", deathID), zap.Error(err))
		return DiedResult{}, err
	}

	if rec.DiagnosisID != "" {
		if err := s.store.MarkDiagnosisTreated(ctx, rec.DiagnosisID, rec.ID, now); err != nil {
			s.logger.Warn("diagnosis flag not updated; left for reconciliation",
				zap.String("diagnosis_id", rec.DiagnosisID), zap.String("treatment_id", rec.ID), zap.Error(err))
		}
	}

	s.metrics.ObserveTransition(string(models.TreatmentDied))
	s.logger.Info("treatment completed as died",
		zap.String("treatment_id", rec.ID),
		zap.String("death_record_id", death.ID),
		zap.Int("died", p.DiedCount),
		zap.String("operator", actor.ID))

	return DiedResult{Treatment: rec, DeathRecord: death}, nil
}

// Discontinue abandons an ongoing treatment.
func (s *Service) Discontinue(ctx context.Context, actor models.Principal, p models.DiscontinuePayload) (models.TreatmentRecord, error) {
	reason := strings.TrimSpace(p.Reason)
	if reason == "" {
		return models.TreatmentRecord{}, apperrors.Validation("reason is required")
	}

	rec, err := s.mutate(ctx, p.TreatmentID, func(rec *models.TreatmentRecord) error {
		if st := rec.Status(); st != models.TreatmentOngoing {
			return apperrors.InvalidTransition("treatment %s is %s; only ongoing treatments can be discontinued", rec.ID, st)
		}
		at := s.now().UTC()
		rec.Outcome.Status = models.TreatmentDiscontinued
		rec.Outcome.Reason = reason
		rec.Medications = closeMedications(rec.Medications, models.MedicationStopped, at)
		rec.CompletedAt = &at
		return nil
	})
	if err != nil {
		return models.TreatmentRecord{}, err
	}

	s.metrics.ObserveTransition(string(models.TreatmentDiscontinued))
	s.logger.Info("treatment discontinued", zap.String("treatment_id", rec.ID), zap.String("operator", actor.ID))
	return rec, nil
}

// mutate applies fn to the latest version of the record and writes it back
// conditionally, reloading when another writer got there first.
func (s *Service) mutate(ctx context.Context, id string, fn func(rec *models.TreatmentRecord) error) (models.TreatmentRecord, error) {
	for attempt := 1; ; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return models.TreatmentRecord{}, err
		}
		next := current.Clone()
		if err := fn(&next); err != nil {
			return models.TreatmentRecord{}, err
		}
		next.Version = current.Version + 1
		next.UpdatedAt = s.now().UTC()

		err = s.store.ReplaceTreatment(ctx, next, current.Version)
		if err == nil {
			return next, nil
		}
		if !errors.Is(err, apperrors.ErrConflict) || attempt >= maxWriteAttempts {
			return models.TreatmentRecord{}, err
		}
		s.logger.Debug("treatment write conflict, retrying", zap.String("treatment_id", id), zap.Int("attempt", attempt))
	}
}

// NewDeathRecord builds the death record handed off from a died treatment.
func NewDeathRecord(id string, rec models.TreatmentRecord, count int, breakdown models.CostBreakdown, at time.Time) models.DeathRecord {
	snap := breakdown.SnapshotFor(count, at)
	var source *models.SourceRef
	if rec.Source != nil {
		src := *rec.Source
		source = &src
	}
	return models.DeathRecord{
		ID:            id,
		BatchID:       rec.BatchID,
		BatchNumber:   rec.BatchNumber,
		DeathDate:     at,
		DeathCount:    count,
		DeathCause:    rec.Diagnosis,
		DiagnosisID:   rec.DiagnosisID,
		TreatmentID:   rec.ID,
		Source:        source,
		TreatmentCost: treatmentCost(rec),
		CostSnapshot:  &snap,
		CreatedBy:     rec.CreatedBy,
		CreatedAt:     at,
		UpdatedAt:     at,
	}
}

func treatmentCost(rec models.TreatmentRecord) float64 {
	cost, _ := rec.ResolveLegacyCost()
	return cost
}

func completable(rec *models.TreatmentRecord) error {
	st := rec.Status()
	if st.Terminal() {
		return apperrors.InvalidTransition("treatment %s is already %s", rec.ID, st)
	}
	if st == models.TreatmentCreated && strings.TrimSpace(rec.Plan.Primary) == "" && len(rec.Medications) == 0 {
		return apperrors.Validation("treatment %s has neither a plan nor medications", rec.ID)
	}
	return nil
}

func treatedCount(rec *models.TreatmentRecord, requested int) int {
	switch {
	case requested > 0:
		return requested
	case rec.Outcome.TotalTreated > 0:
		return rec.Outcome.TotalTreated
	default:
		return rec.AffectedCount
	}
}

func validateMedications(meds []models.Medication) error {
	for i, m := range meds {
		if strings.TrimSpace(m.Name) == "" {
			return apperrors.Validation("medications[%d].name is required", i)
		}
		if m.StartDate != nil && m.EndDate != nil && m.EndDate.Before(*m.StartDate) {
			return apperrors.Validation("medications[%d] ends before it starts", i)
		}
	}
	return nil
}

// withStatus copies meds, setting status on entries whose status is empty or
// equal to from.
func withStatus(meds []models.Medication, status, from models.MedicationStatus) []models.Medication {
	out := make([]models.Medication, len(meds))
	for i, m := range meds {
		if m.Status == "" || (from != "" && m.Status == from) {
			m.Status = status
		}
		out[i] = m
	}
	return out
}

func closeMedications(meds []models.Medication, status models.MedicationStatus, at time.Time) []models.Medication {
	for i := range meds {
		switch meds[i].Status {
		case models.MedicationCompleted, models.MedicationStopped:
			continue
		}
		meds[i].Status = status
		if meds[i].EndDate == nil {
			end := at
			meds[i].EndDate = &end
		}
	}
	return meds
}

func dayIndex(start, at time.Time) int {
	if start.IsZero() || at.Before(start) {
		return 1
	}
	return int(at.Sub(start).Hours()/24) + 1
}
