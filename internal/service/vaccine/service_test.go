package vaccine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/repository/memory"
	"github.com/mamadbah2/flockhealth/internal/service/costing"
	"github.com/mamadbah2/flockhealth/internal/service/treatment"
)

var worker = models.Principal{ID: "emp-7", Role: models.RoleEmployee}

func setup(t *testing.T) (*memory.Store, *Service) {
	t.Helper()
	store := memory.NewStore()
	store.PutBatch(models.Batch{ID: "B1", BatchNumber: "2025-07", CurrentQuantity: 200, UnitPrice: 1.5})
	store.PutPrevention(models.PreventionRecord{
		ID:          "V1",
		BatchID:     "B1",
		BatchNumber: "2025-07",
		Type:        models.PreventionVaccine,
		TargetCount: 200,
		Vaccine:     &models.VaccineInfo{Name: "HB1", DoseCount: 200},
		CostInfo:    &models.CostInfo{TotalCost: 100},
	})
	store.PutPrevention(models.PreventionRecord{ID: "DIS1", BatchID: "B1", Type: models.PreventionDisinfection, TargetCount: 200})

	costs := costing.NewService(store, nil, nil)
	svc := NewService(store, treatment.NewService(store, costs, nil, nil), costs, nil)
	svc.now = func() time.Time { return time.Date(2025, 7, 14, 6, 0, 0, 0, time.UTC) }
	svc.newID = func() string { return "death-1" }
	return store, svc
}

func TestTrack_AbnormalReactionOpensTreatment(t *testing.T) {
	store, svc := setup(t)

	res, err := svc.Track(context.Background(), worker, models.VaccineReactionPayload{VaccineRecordID: "V1", BatchID: "B1", AffectedCount: 15})
	require.NoError(t, err)
	require.NotNil(t, res.Treatment)
	assert.Nil(t, res.DeathRecord)
	assert.Equal(t, models.ReactionAbnormal, res.Classification)

	rec := *res.Treatment
	assert.Equal(t, "B1", rec.BatchID)
	assert.Equal(t, "2025-07", rec.BatchNumber)
	assert.Equal(t, models.TreatmentTypeVaccineCare, rec.Type)
	assert.Equal(t, "post-vaccination reaction (HB1)", rec.Diagnosis)
	assert.Equal(t, 15, rec.AffectedCount)
	assert.Equal(t, models.TreatmentCreated, rec.Status())
	require.NotNil(t, rec.Source)
	assert.Equal(t, "V1", rec.Source.VaccinationID)
	assert.Equal(t, "HB1", rec.Source.VaccineName)
	assert.Equal(t, "emp-7", rec.CreatedBy)

	stored, err := store.GetTreatment(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Source, stored.Source)
}

func TestTrack_FatalReactionWritesDeathRecord(t *testing.T) {
	store, svc := setup(t)

	res, err := svc.Track(context.Background(), worker, models.VaccineReactionPayload{
		VaccineRecordID: "V1",
		AffectedCount:   4,
		Diagnosis:       "anaphylaxis",
		Classification:  models.ReactionDeath,
	})
	require.NoError(t, err)
	require.NotNil(t, res.DeathRecord)
	assert.Nil(t, res.Treatment)

	death, err := store.GetDeathRecord(context.Background(), "death-1")
	require.NoError(t, err)
	assert.Equal(t, 4, death.DeathCount)
	assert.Equal(t, "anaphylaxis", death.DeathCause)
	assert.Equal(t, "2025-07", death.BatchNumber)
	require.NotNil(t, death.Source)
	assert.Equal(t, "V1", death.Source.VaccinationID)
	require.NotNil(t, death.CostSnapshot)
	// 1.50 entry + 100 spread over both prevention events (400 birds)
	assert.Equal(t, 1.75, death.CostSnapshot.TotalUnitCost)
	assert.Equal(t, 7.0, death.CostSnapshot.TotalLoss)
}

func TestTrack_Validation(t *testing.T) {
	tests := []struct {
		name    string
		payload models.VaccineReactionPayload
		wantErr error
	}{
		{"count over doses", models.VaccineReactionPayload{VaccineRecordID: "V1", AffectedCount: 201}, apperrors.ErrValidation},
		{"zero count", models.VaccineReactionPayload{VaccineRecordID: "V1"}, apperrors.ErrValidation},
		{"not a vaccination", models.VaccineReactionPayload{VaccineRecordID: "DIS1", AffectedCount: 1}, apperrors.ErrValidation},
		{"batch mismatch", models.VaccineReactionPayload{VaccineRecordID: "V1", BatchID: "B2", AffectedCount: 1}, apperrors.ErrValidation},
		{"unknown vaccination", models.VaccineReactionPayload{VaccineRecordID: "V9", AffectedCount: 1}, apperrors.ErrNotFound},
		{"unknown classification", models.VaccineReactionPayload{VaccineRecordID: "V1", AffectedCount: 1, Classification: "mild"}, apperrors.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store, svc := setup(t)
			_, err := svc.Track(context.Background(), worker, tc.payload)
			assert.ErrorIs(t, err, tc.wantErr)
			assert.Equal(t, 0, store.Calls("InsertTreatment"))
			assert.Equal(t, 0, store.Calls("InsertDeathRecord"))
		})
	}
}

func TestTrack_DoseCountBoundary(t *testing.T) {
	_, svc := setup(t)
	_, err := svc.Track(context.Background(), worker, models.VaccineReactionPayload{VaccineRecordID: "V1", AffectedCount: 200})
	assert.NoError(t, err)
}

func TestTrack_CostFailureWritesNothing(t *testing.T) {
	store, svc := setup(t)
	store.FailOn("ListTreatments", errors.New("cursor killed"))

	_, err := svc.Track(context.Background(), worker, models.VaccineReactionPayload{VaccineRecordID: "V1", AffectedCount: 2, Classification: models.ReactionDeath})
	assert.ErrorIs(t, err, apperrors.ErrComputationFailed)
	assert.Equal(t, 0, store.Calls("InsertDeathRecord"))
}
