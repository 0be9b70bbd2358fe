package costing

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/repository/memory"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func intPtr(v int) *int { return &v }

func newService(store *memory.Store) *Service {
	return NewService(store, nil, nil)
}

func TestComputeBatchCost_NoRecordsUsesAcquisitionPrice(t *testing.T) {
	store := memory.NewStore()
	store.PutBatch(models.Batch{ID: "B1", EntryQuantity: 100, CurrentQuantity: 90, UnitPrice: 5.00})

	got, err := newService(store).ComputeBatchCost(context.Background(), "B1")
	require.NoError(t, err)

	assert.Equal(t, 5.00, got.EntryUnitCost)
	assert.Equal(t, 0.00, got.BreedingUnitCost)
	assert.Equal(t, 0.00, got.PreventionUnitCost)
	assert.Equal(t, 0.00, got.TreatmentUnitCost)
	assert.Equal(t, 5.00, got.TotalUnitCost)
	assert.Equal(t, 450.00, got.TotalCost)
	assert.Equal(t, 90.0, got.BreedingBase)
	assert.Equal(t, 90.0, got.PreventionBase)
	assert.Equal(t, 90.0, got.TreatmentBase)
	assert.Equal(t, models.BaseFromLiveQuantity, got.TreatmentBaseFrom)
}

func TestComputeBatchCost_EmptyBatchClampsBases(t *testing.T) {
	store := memory.NewStore()
	store.PutBatch(models.Batch{ID: "B0", EntryQuantity: 10, CurrentQuantity: 0, UnitPrice: 3.25})

	got, err := newService(store).ComputeBatchCost(context.Background(), "B0")
	require.NoError(t, err)

	assert.Equal(t, 3.25, got.TotalUnitCost)
	assert.Equal(t, 0.0, got.TotalCost)
	assert.Equal(t, 1.0, got.BreedingBase)
	assert.Equal(t, 1.0, got.PreventionBase)
	assert.Equal(t, 1.0, got.TreatmentBase)
}

func TestComputeBatchCost_FeedCountIsIndependentOfLiveQuantity(t *testing.T) {
	store := memory.NewStore()
	store.PutBatch(models.Batch{ID: "B2", EntryQuantity: 100, CurrentQuantity: 80})
	store.PutFeedUsage(models.FeedUsageRecord{ID: "f1", BatchID: "B2", TotalCost: 200, FeedCount: intPtr(50)})

	got, err := newService(store).ComputeBatchCost(context.Background(), "B2")
	require.NoError(t, err)

	assert.Equal(t, 200.0, got.BreedingCost)
	assert.Equal(t, 50.0, got.BreedingBase)
	assert.Equal(t, 4.00, got.BreedingUnitCost)
}

func TestComputeBatchCost_BreedingBaseFallbacks(t *testing.T) {
	store := memory.NewStore()
	store.PutBatch(models.Batch{ID: "B3", CurrentQuantity: 40})
	store.PutFeedUsage(models.FeedUsageRecord{ID: "f1", BatchID: "B3", TotalCost: 100, Quantity: 10})
	store.PutMaterialUsage(models.MaterialUsageRecord{ID: "m1", BatchID: "B3", TotalCost: 50, UsageCount: intPtr(20), Quantity: 999})
	store.PutFeedUsage(models.FeedUsageRecord{ID: "f2", BatchID: "B3", TotalCost: 1000, FeedCount: intPtr(1), IsDeleted: true})
	store.PutFeedUsage(models.FeedUsageRecord{ID: "f3", BatchID: "other", TotalCost: 1000, FeedCount: intPtr(1)})

	got, err := newService(store).ComputeBatchCost(context.Background(), "B3")
	require.NoError(t, err)

	assert.Equal(t, 150.0, got.BreedingCost)
	assert.Equal(t, 30.0, got.BreedingBase)
	assert.Equal(t, 5.00, got.BreedingUnitCost)
}

func TestComputeBatchCost_UsageWithoutCountsFallsBackToLiveQuantity(t *testing.T) {
	store := memory.NewStore()
	store.PutBatch(models.Batch{ID: "B4", CurrentQuantity: 25})
	store.PutFeedUsage(models.FeedUsageRecord{ID: "f1", BatchID: "B4", TotalCost: 100})

	got, err := newService(store).ComputeBatchCost(context.Background(), "B4")
	require.NoError(t, err)

	assert.Equal(t, 25.0, got.BreedingBase)
	assert.Equal(t, 4.00, got.BreedingUnitCost)
}

func TestComputeBatchCost_Prevention(t *testing.T) {
	store := memory.NewStore()
	store.PutBatch(models.Batch{ID: "B5", CurrentQuantity: 100, UnitPrice: 2})
	store.PutPrevention(models.PreventionRecord{ID: "p1", BatchID: "B5", TargetCount: 100, CostInfo: &models.CostInfo{TotalCost: 30}})
	store.PutPrevention(models.PreventionRecord{ID: "p2", BatchID: "B5", TargetCount: 50, CostInfo: &models.CostInfo{MedicationCost: 10, VeterinaryCost: 5}})
	store.PutPrevention(models.PreventionRecord{ID: "p3", BatchID: "B5", TargetCount: 50})
	store.PutPrevention(models.PreventionRecord{ID: "p4", BatchID: "B5", TargetCount: 1000, CostInfo: &models.CostInfo{TotalCost: 999}, IsDeleted: true})

	got, err := newService(store).ComputeBatchCost(context.Background(), "B5")
	require.NoError(t, err)

	assert.Equal(t, 45.0, got.PreventionCost)
	assert.Equal(t, 200.0, got.PreventionBase)
	assert.Equal(t, 0.23, got.PreventionUnitCost)
	assert.Equal(t, 2.23, got.TotalUnitCost)
	assert.Equal(t, 223.0, got.TotalCost)
}

func TestComputeBatchCost_TreatmentBase(t *testing.T) {
	tests := []struct {
		name      string
		records   []models.TreatmentRecord
		diagnoses []models.DiagnosisRecord
		wantBase  float64
		wantFrom  string
		wantCost  float64
	}{
		{
			name: "affected counts of contributing records",
			records: []models.TreatmentRecord{
				{ID: "t1", BatchID: "B", AffectedCount: 10, CostInfo: models.CostInfo{TotalCost: 60}},
				{ID: "t2", BatchID: "B", AffectedCount: 20, CostInfo: models.CostInfo{MedicationCost: 30}},
				{ID: "t3", BatchID: "B", AffectedCount: 500},
			},
			wantBase: 30,
			wantFrom: models.BaseFromAffectedCount,
			wantCost: 90,
		},
		{
			name: "referenced diagnoses when no affected counts",
			records: []models.TreatmentRecord{
				{ID: "t1", BatchID: "B", DiagnosisID: "d1", CostInfo: models.CostInfo{TotalCost: 60}},
				{ID: "t2", BatchID: "B", DiagnosisID: "d1", CostInfo: models.CostInfo{TotalCost: 60}},
			},
			diagnoses: []models.DiagnosisRecord{{ID: "d1", BatchID: "B", AffectedCount: 12}},
			wantBase:  12,
			wantFrom:  models.BaseFromDiagnosis,
			wantCost:  120,
		},
		{
			name: "live quantity when nothing else is known",
			records: []models.TreatmentRecord{
				{ID: "t1", BatchID: "B", DiagnosisID: "d-missing", CostInfo: models.CostInfo{TotalCost: 80}},
			},
			wantBase: 40,
			wantFrom: models.BaseFromLiveQuantity,
			wantCost: 80,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewStore()
			store.PutBatch(models.Batch{ID: "B", CurrentQuantity: 40})
			for _, r := range tc.records {
				store.PutTreatment(r)
			}
			for _, d := range tc.diagnoses {
				store.PutDiagnosis(d)
			}

			got, err := newService(store).ComputeBatchCost(context.Background(), "B")
			require.NoError(t, err)

			assert.Equal(t, tc.wantBase, got.TreatmentBase)
			assert.Equal(t, tc.wantFrom, got.TreatmentBaseFrom)
			assert.Equal(t, tc.wantCost, got.TreatmentCost)
			assert.Equal(t, models.Round2(tc.wantCost/tc.wantBase), got.TreatmentUnitCost)
		})
	}
}

func TestComputeBatchCost_TreatmentLegacyShapes(t *testing.T) {
	completed := models.Outcome{Status: models.TreatmentCured, CuredCount: 10, TotalTreated: 10}
	stats := &models.LegacyMedicationStats{TotalMedicationCost: 20}

	tests := []struct {
		name     string
		record   models.TreatmentRecord
		wantCost float64
	}{
		{
			name:     "cost info wins over legacy fields",
			record:   models.TreatmentRecord{CostInfo: models.CostInfo{TotalCost: 40}, Legacy: models.LegacyCost{TotalCost: 99, Amount: 77}},
			wantCost: 40,
		},
		{
			name:     "medication statistic on completed medication record",
			record:   models.TreatmentRecord{Type: models.TreatmentTypeMedication, Outcome: completed, Legacy: models.LegacyCost{MedicationStats: stats, TotalCost: 99}},
			wantCost: 20,
		},
		{
			name:     "medication statistic ignored while ongoing",
			record:   models.TreatmentRecord{Type: models.TreatmentTypeMedication, Outcome: models.Outcome{Status: models.TreatmentOngoing}, Legacy: models.LegacyCost{MedicationStats: stats, TotalCost: 50}},
			wantCost: 50,
		},
		{
			name:     "root level total",
			record:   models.TreatmentRecord{Legacy: models.LegacyCost{TotalCost: 50, Amount: 30}},
			wantCost: 50,
		},
		{
			name:     "generic amount",
			record:   models.TreatmentRecord{Legacy: models.LegacyCost{Amount: 30}},
			wantCost: 30,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			store := memory.NewStore()
			store.PutBatch(models.Batch{ID: "B", CurrentQuantity: 40})
			rec := tc.record
			rec.ID, rec.BatchID, rec.AffectedCount = "t", "B", 10
			store.PutTreatment(rec)

			got, err := newService(store).ComputeBatchCost(context.Background(), "B")
			require.NoError(t, err)

			assert.Equal(t, tc.wantCost, got.TreatmentCost)
			assert.Equal(t, 10.0, got.TreatmentBase)
			assert.Equal(t, models.BaseFromAffectedCount, got.TreatmentBaseFrom)
		})
	}

	t.Run("mixed shapes are summed", func(t *testing.T) {
		store := memory.NewStore()
		store.PutBatch(models.Batch{ID: "B", CurrentQuantity: 40})
		store.PutTreatment(models.TreatmentRecord{ID: "t1", BatchID: "B", AffectedCount: 10, Legacy: models.LegacyCost{TotalCost: 50}})
		store.PutTreatment(models.TreatmentRecord{ID: "t2", BatchID: "B", AffectedCount: 10, Legacy: models.LegacyCost{Amount: 30}})
		store.PutTreatment(models.TreatmentRecord{ID: "t3", BatchID: "B", AffectedCount: 10, Type: models.TreatmentTypeMedication, Outcome: completed, Legacy: models.LegacyCost{MedicationStats: stats}})

		got, err := newService(store).ComputeBatchCost(context.Background(), "B")
		require.NoError(t, err)

		assert.Equal(t, 100.0, got.TreatmentCost)
		assert.Equal(t, 30.0, got.TreatmentBase)
		assert.Equal(t, 3.33, got.TreatmentUnitCost)
	})
}

func TestComputeBatchCost_TotalIsUnitTimesLiveQuantity(t *testing.T) {
	cases := []struct {
		live  int
		price float64
		feed  float64
		count int
	}{
		{live: 3, price: 1.111, feed: 10, count: 3},
		{live: 97, price: 4.99, feed: 123.45, count: 7},
		{live: 1000, price: 0.35, feed: 1, count: 3},
	}
	for _, c := range cases {
		store := memory.NewStore()
		store.PutBatch(models.Batch{ID: "B", CurrentQuantity: c.live, UnitPrice: c.price})
		store.PutFeedUsage(models.FeedUsageRecord{ID: "f", BatchID: "B", TotalCost: c.feed, FeedCount: intPtr(c.count)})

		got, err := newService(store).ComputeBatchCost(context.Background(), "B")
		require.NoError(t, err)

		assert.Equal(t, models.Round2(got.TotalUnitCost*float64(c.live)), got.TotalCost, "live=%d", c.live)
	}
}

func TestComputeBatchCost_Idempotent(t *testing.T) {
	store := memory.NewStore()
	store.PutBatch(models.Batch{ID: "B", CurrentQuantity: 33, UnitPrice: 7.5})
	store.PutFeedUsage(models.FeedUsageRecord{ID: "f", BatchID: "B", TotalCost: 99.99, FeedCount: intPtr(33)})
	store.PutTreatment(models.TreatmentRecord{ID: "t", BatchID: "B", AffectedCount: 5, CostInfo: models.CostInfo{TotalCost: 12}})

	svc := newService(store)
	first, err := svc.ComputeBatchCost(context.Background(), "B")
	require.NoError(t, err)
	second, err := svc.ComputeBatchCost(context.Background(), "B")
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestComputeBatchCost_Errors(t *testing.T) {
	t.Run("missing id", func(t *testing.T) {
		_, err := newService(memory.NewStore()).ComputeBatchCost(context.Background(), "  ")
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})

	t.Run("unknown batch", func(t *testing.T) {
		_, err := newService(memory.NewStore()).ComputeBatchCost(context.Background(), "nope")
		assert.ErrorIs(t, err, apperrors.ErrNotFound)
	})

	for _, op := range []string{"ListFeedUsage", "ListMaterialUsage", "ListPrevention", "ListTreatments"} {
		t.Run("store failure in "+op, func(t *testing.T) {
			store := memory.NewStore()
			store.PutBatch(models.Batch{ID: "B", CurrentQuantity: 10})
			store.FailOn(op, errors.New("connection reset"))

			got, err := newService(store).ComputeBatchCost(context.Background(), "B")
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrComputationFailed)
			assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
			assert.Equal(t, apperrors.CodeComputationFailed, apperrors.CodeOf(err))
			assert.Contains(t, err.Error(), "connection reset")
			assert.Equal(t, models.CostBreakdown{}, got)
		})
	}

	t.Run("diagnosis lookup failure", func(t *testing.T) {
		store := memory.NewStore()
		store.PutBatch(models.Batch{ID: "B", CurrentQuantity: 10})
		store.PutTreatment(models.TreatmentRecord{ID: "t", BatchID: "B", DiagnosisID: "d", CostInfo: models.CostInfo{TotalCost: 5}})
		store.FailOn("ListDiagnosesByIDs", errors.New("timeout"))

		_, err := newService(store).ComputeBatchCost(context.Background(), "B")
		assert.ErrorIs(t, err, apperrors.ErrComputationFailed)
	})
}
