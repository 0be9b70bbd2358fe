// Package vaccine turns adverse reactions recorded against a vaccination
// into downstream treatment or death records.
package vaccine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/service/costing"
)

const defaultDiagnosis = "post-vaccination reaction"

// Store is the persistence surface of the tracker.
type Store interface {
	GetPrevention(ctx context.Context, id string) (models.PreventionRecord, error)
	InsertDeathRecord(ctx context.Context, rec models.DeathRecord) error
}

// TreatmentCreator opens treatment records through the lifecycle manager.
type TreatmentCreator interface {
	Create(ctx context.Context, actor models.Principal, p models.CreateTreatmentPayload) (models.TreatmentRecord, error)
}

// Result carries whichever record the reaction produced.
type Result struct {
	Classification models.ReactionClassification `json:"classification"`
	Treatment      *models.TreatmentRecord       `json:"treatment,omitempty"`
	DeathRecord    *models.DeathRecord           `json:"deathRecord,omitempty"`
}

// Service is a thin factory; lifecycle is owned by the treatment service.
type Service struct {
	store      Store
	treatments TreatmentCreator
	costs      costing.Calculator
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// NewService constructs the tracker.
func NewService(store Store, treatments TreatmentCreator, costs costing.Calculator, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		treatments: treatments,
		costs:      costs,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Track creates a treatment for an abnormal reaction (the default) or a
// death record when the reaction was fatal.
func (s *Service) Track(ctx context.Context, actor models.Principal, p models.VaccineReactionPayload) (Result, error) {
	vacc, err := s.vaccination(ctx, p)
	if err != nil {
		return Result{}, err
	}

	diagnosis := strings.TrimSpace(p.Diagnosis)
	if diagnosis == "" {
		diagnosis = fmt.Sprintf("%s (%s)", defaultDiagnosis, vacc.Vaccine.Name)
	}
	source := &models.SourceRef{VaccinationID: vacc.ID, VaccineName: vacc.Vaccine.Name}

	switch p.Classification {
	case "", models.ReactionAbnormal:
		rec, err := s.treatment(ctx, actor, vacc, diagnosis, source, p)
		if err != nil {
			return Result{}, err
		}
		return Result{Classification: models.ReactionAbnormal, Treatment: &rec}, nil
	case models.ReactionDeath:
		rec, err := s.death(ctx, actor, vacc, diagnosis, source, p)
		if err != nil {
			return Result{}, err
		}
		return Result{Classification: models.ReactionDeath, DeathRecord: &rec}, nil
	default:
		return Result{}, apperrors.Validation("unknown classification %q", p.Classification)
	}
}

func (s *Service) vaccination(ctx context.Context, p models.VaccineReactionPayload) (models.PreventionRecord, error) {
	id := strings.TrimSpace(p.VaccineRecordID)
	if id == "" {
		return models.PreventionRecord{}, apperrors.Validation("vaccineRecordId is required")
	}
	if p.AffectedCount <= 0 {
		return models.PreventionRecord{}, apperrors.Validation("affectedCount must be greater than zero")
	}

	vacc, err := s.store.GetPrevention(ctx, id)
	if err != nil {
		return models.PreventionRecord{}, err
	}
	if !vacc.IsVaccination() {
		return models.PreventionRecord{}, apperrors.Validation("prevention record %s is not a vaccination", vacc.ID)
	}
	if batchID := strings.TrimSpace(p.BatchID); batchID != "" && batchID != vacc.BatchID {
		return models.PreventionRecord{}, apperrors.Validation("vaccination %s belongs to batch %s, not %s", vacc.ID, vacc.BatchID, batchID)
	}

	doses := vacc.Vaccine.DoseCount
	if doses <= 0 {
		doses = vacc.TargetCount
	}
	if p.AffectedCount > doses {
		return models.PreventionRecord{}, apperrors.Validation("affectedCount %d exceeds the %d doses recorded on vaccination %s", p.AffectedCount, doses, vacc.ID)
	}
	return vacc, nil
}

func (s *Service) treatment(ctx context.Context, actor models.Principal, vacc models.PreventionRecord, diagnosis string, source *models.SourceRef, p models.VaccineReactionPayload) (models.TreatmentRecord, error) {
	plan := strings.TrimSpace(p.Notes)
	if plan == "" {
		plan = "monitor and provide supportive care after " + vacc.Vaccine.Name
	}

	rec, err := s.treatments.Create(ctx, actor, models.CreateTreatmentPayload{
		BatchID:       vacc.BatchID,
		Type:          models.TreatmentTypeVaccineCare,
		Diagnosis:     diagnosis,
		AffectedCount: p.AffectedCount,
		Plan:          models.TreatmentPlan{Primary: plan},
		Source:        source,
	})
	if err != nil {
		return models.TreatmentRecord{}, err
	}

	s.logger.Info("treatment opened from vaccine reaction",
		zap.String("vaccination_id", vacc.ID),
		zap.String("treatment_id", rec.ID),
		zap.Int("affected", p.AffectedCount))
	return rec, nil
}

func (s *Service) death(ctx context.Context, actor models.Principal, vacc models.PreventionRecord, cause string, source *models.SourceRef, p models.VaccineReactionPayload) (models.DeathRecord, error) {
	breakdown, err := s.costs.ComputeBatchCost(ctx, vacc.BatchID)
	if err != nil {
		return models.DeathRecord{}, err
	}

	now := s.now().UTC()
	snap := breakdown.SnapshotFor(p.AffectedCount, now)
	rec := models.DeathRecord{
		ID:           s.newID(),
		BatchID:      vacc.BatchID,
		BatchNumber:  breakdown.BatchNumber,
		DeathDate:    now,
		DeathCount:   p.AffectedCount,
		DeathCause:   cause,
		Source:       source,
		CostSnapshot: &snap,
		CreatedBy:    actor.ID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if notes := strings.TrimSpace(p.Notes); notes != "" {
		rec.Autopsy = &models.AutopsyFindings{Notes: notes}
	}
	if rec.BatchNumber == "" {
		rec.BatchNumber = vacc.BatchNumber
	}

	if err := s.store.InsertDeathRecord(ctx, rec); err != nil {
		return models.DeathRecord{}, err
	}

	s.logger.Info("death recorded from vaccine reaction",
		zap.String("vaccination_id", vacc.ID),
		zap.String("death_record_id", rec.ID),
		zap.Int("deaths", rec.DeathCount))
	return rec, nil
}
