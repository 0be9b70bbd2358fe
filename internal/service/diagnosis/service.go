// Package diagnosis stores candidate diagnoses, either pulled from the
// external classifier or entered by hand, and records their review.
package diagnosis

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/pkg/clients/classifier"
)

// Store is the persistence surface of diagnosis intake.
type Store interface {
	GetBatch(ctx context.Context, id string) (models.Batch, error)
	GetDiagnosis(ctx context.Context, id string) (models.DiagnosisRecord, error)
	InsertDiagnosis(ctx context.Context, rec models.DiagnosisRecord) error
	UpdateDiagnosisStatus(ctx context.Context, id string, from []models.DiagnosisStatus, to models.DiagnosisStatus, reviewer string, at time.Time) (models.DiagnosisRecord, error)
}

// reviewable lists the statuses each review decision may leave from. An
// adopted diagnosis can still be confirmed but no longer rejected.
var reviewable = map[models.DiagnosisStatus][]models.DiagnosisStatus{
	models.DiagnosisConfirmed: {models.DiagnosisPendingConfirmation, models.DiagnosisAdopted},
	models.DiagnosisRejected:  {models.DiagnosisPendingConfirmation},
	models.DiagnosisDeleted:   {models.DiagnosisPendingConfirmation},
}

// Service implements diagnosis intake.
type Service struct {
	store      Store
	classifier classifier.Client
	logger     *zap.Logger
	now        func() time.Time
	newID      func() string
}

// NewService wires the intake service. classifierClient may be nil when the
// classifier is not configured; ingestion then fails validation.
func NewService(store Store, classifierClient classifier.Client, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:      store,
		classifier: classifierClient,
		logger:     logger,
		now:        time.Now,
		newID:      uuid.NewString,
	}
}

// Ingest stores a classifier result as a pending diagnosis. Ingesting the
// same classification twice returns the existing record.
func (s *Service) Ingest(ctx context.Context, actor models.Principal, p models.IngestDiagnosisPayload) (models.DiagnosisRecord, error) {
	if s.classifier == nil {
		return models.DiagnosisRecord{}, apperrors.Validation("diagnosis classifier is not configured")
	}
	batchID := strings.TrimSpace(p.BatchID)
	classificationID := strings.TrimSpace(p.ClassificationID)
	if batchID == "" || classificationID == "" {
		return models.DiagnosisRecord{}, apperrors.Validation("batchId and classificationId are required")
	}
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return models.DiagnosisRecord{}, err
	}

	result, err := s.classifier.GetClassification(ctx, classificationID)
	if err != nil {
		return models.DiagnosisRecord{}, err
	}
	if result.BatchID != "" && result.BatchID != batchID {
		return models.DiagnosisRecord{}, apperrors.Validation("classification %s was made for batch %s", classificationID, result.BatchID)
	}

	candidates := make([]models.DiseaseCandidate, 0, len(result.Candidates))
	for _, c := range result.Candidates {
		candidates = append(candidates, models.DiseaseCandidate{Disease: c.Disease, Confidence: c.Confidence})
	}

	now := s.now().UTC()
	rec := models.DiagnosisRecord{
		ID:               classificationRecordID(classificationID),
		BatchID:          batchID,
		Source:           models.DiagnosisSourceClassifier,
		ClassificationID: classificationID,
		Symptoms:         result.Symptoms,
		Candidates:       candidates,
		AffectedCount:    result.AffectedCount,
		Status:           models.DiagnosisPendingConfirmation,
		CreatedBy:        actor.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if err := validate(rec); err != nil {
		return models.DiagnosisRecord{}, err
	}

	if err := s.store.InsertDiagnosis(ctx, rec); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			return s.store.GetDiagnosis(ctx, rec.ID)
		}
		return models.DiagnosisRecord{}, err
	}

	s.logger.Info("classifier diagnosis ingested",
		zap.String("diagnosis_id", rec.ID),
		zap.String("classification_id", classificationID),
		zap.String("batch_id", batchID))
	return rec, nil
}

// Record stores a manually entered diagnosis awaiting review.
func (s *Service) Record(ctx context.Context, actor models.Principal, p models.RecordDiagnosisPayload) (models.DiagnosisRecord, error) {
	batchID := strings.TrimSpace(p.BatchID)
	if batchID == "" {
		return models.DiagnosisRecord{}, apperrors.Validation("batchId is required")
	}
	if _, err := s.store.GetBatch(ctx, batchID); err != nil {
		return models.DiagnosisRecord{}, err
	}

	now := s.now().UTC()
	rec := models.DiagnosisRecord{
		ID:            s.newID(),
		BatchID:       batchID,
		Source:        models.DiagnosisSourceManual,
		Symptoms:      p.Symptoms,
		Candidates:    p.Candidates,
		AffectedCount: p.AffectedCount,
		Status:        models.DiagnosisPendingConfirmation,
		CreatedBy:     actor.ID,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := validate(rec); err != nil {
		return models.DiagnosisRecord{}, err
	}
	if err := s.store.InsertDiagnosis(ctx, rec); err != nil {
		return models.DiagnosisRecord{}, err
	}

	s.logger.Info("manual diagnosis recorded", zap.String("diagnosis_id", rec.ID), zap.String("batch_id", batchID))
	return rec, nil
}

// Review confirms, rejects or deletes a diagnosis.
func (s *Service) Review(ctx context.Context, actor models.Principal, p models.ReviewDiagnosisPayload) (models.DiagnosisRecord, error) {
	id := strings.TrimSpace(p.DiagnosisID)
	if id == "" {
		return models.DiagnosisRecord{}, apperrors.Validation("diagnosisId is required")
	}
	from, ok := reviewable[p.Decision]
	if !ok {
		return models.DiagnosisRecord{}, apperrors.Validation("decision must be confirmed, rejected or deleted")
	}

	rec, err := s.store.UpdateDiagnosisStatus(ctx, id, from, p.Decision, actor.ID, s.now().UTC())
	if err != nil {
		return models.DiagnosisRecord{}, err
	}

	s.logger.Info("diagnosis reviewed",
		zap.String("diagnosis_id", rec.ID),
		zap.String("decision", string(p.Decision)),
		zap.String("reviewer", actor.ID))
	return rec, nil
}

func validate(rec models.DiagnosisRecord) error {
	if len(rec.Candidates) == 0 {
		return apperrors.Validation("at least one disease candidate is required")
	}
	for i, c := range rec.Candidates {
		if strings.TrimSpace(c.Disease) == "" {
			return apperrors.Validation("candidates[%d].disease is required", i)
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			return apperrors.Validation("candidates[%d].confidence must be within [0,1]", i)
		}
	}
	if rec.AffectedCount < 0 {
		return apperrors.Validation("affectedCount must not be negative")
	}
	return nil
}

// classificationRecordID derives a stable record id so repeated ingestion of
// one classification maps onto the same diagnosis.
func classificationRecordID(classificationID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("classification:"+classificationID)).String()
}
