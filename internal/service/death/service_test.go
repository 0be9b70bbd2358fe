package death

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/repository/memory"
	"github.com/mamadbah2/flockhealth/internal/service/costing"
)

var (
	fixedNow = time.Date(2025, 4, 2, 9, 30, 0, 0, time.UTC)
	owner    = models.Principal{ID: "owner-1", Role: models.RoleOwner}
)

type recordingExporter struct {
	mu      sync.Mutex
	batches []string
	err     error
}

func (e *recordingExporter) ExportBreakdown(_ context.Context, b models.CostBreakdown) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.batches = append(e.batches, b.BatchID)
	return e.err
}

func newService(t *testing.T, store *memory.Store, exporter Exporter) *Service {
	t.Helper()
	svc := NewService(store, costing.NewService(store, nil, nil), exporter, nil)
	svc.now = func() time.Time { return fixedNow }
	seq := 0
	svc.newID = func() string {
		seq++
		return fmt.Sprintf("ev-%d", seq)
	}
	return svc
}

func seedDeath(t *testing.T, store *memory.Store, rec models.DeathRecord) {
	t.Helper()
	require.NoError(t, store.InsertDeathRecord(context.Background(), rec))
}

func TestCorrectDiagnosis(t *testing.T) {
	ctx := context.Background()

	setup := func(t *testing.T) (*memory.Store, *Service) {
		store := memory.NewStore()
		store.PutBatch(models.Batch{ID: "B1", CurrentQuantity: 50, UnitPrice: 4})
		seedDeath(t, store, models.DeathRecord{ID: "DR1", BatchID: "B1", DeathCount: 2, DeathCause: "Newcastle disease"})
		return store, newService(t, store, nil)
	}

	t.Run("confirmation keeps the cause and defaults the rating", func(t *testing.T) {
		_, svc := setup(t)
		rec, err := svc.CorrectDiagnosis(ctx, owner, models.CorrectDiagnosisPayload{DeathRecordID: "DR1", IsConfirmed: true})
		require.NoError(t, err)

		assert.True(t, rec.IsCorrected)
		assert.Equal(t, rec.DeathCause, rec.CorrectedCause)
		assert.Equal(t, 5, rec.AIAccuracyRating)
		assert.Equal(t, models.CorrectionConfirmed, rec.CorrectionType)
		assert.Equal(t, "owner-1", rec.CorrectedBy)
		require.NotNil(t, rec.CorrectedAt)
		assert.Equal(t, fixedNow, *rec.CorrectedAt)
		require.Len(t, rec.Corrections, 1)
	})

	t.Run("override requires a reason", func(t *testing.T) {
		store, svc := setup(t)
		_, err := svc.CorrectDiagnosis(ctx, owner, models.CorrectDiagnosisPayload{
			DeathRecordID:    "DR1",
			CorrectedCause:   "heat stress",
			AIAccuracyRating: 2,
		})
		assert.ErrorIs(t, err, apperrors.ErrValidation)
		assert.Equal(t, 0, store.Calls("AppendCorrection"))
	})

	t.Run("history is appended across corrections", func(t *testing.T) {
		_, svc := setup(t)
		_, err := svc.CorrectDiagnosis(ctx, owner, models.CorrectDiagnosisPayload{
			DeathRecordID: "DR1", CorrectedCause: "heat stress", CorrectionReason: "temperature logs", AIAccuracyRating: 2,
		})
		require.NoError(t, err)
		rec, err := svc.CorrectDiagnosis(ctx, owner, models.CorrectDiagnosisPayload{
			DeathRecordID: "DR1", CorrectedCause: "ammonia toxicity", CorrectionReason: "lab result", AIAccuracyRating: 1,
		})
		require.NoError(t, err)

		require.Len(t, rec.Corrections, 2)
		assert.Equal(t, "Newcastle disease", rec.Corrections[0].PreviousCause)
		assert.Equal(t, "heat stress", rec.Corrections[0].CorrectedCause)
		assert.Equal(t, "temperature logs", rec.Corrections[0].CorrectionReason)
		assert.Equal(t, "heat stress", rec.Corrections[1].PreviousCause)
		assert.Equal(t, "ammonia toxicity", rec.CurrentCause())
		assert.Equal(t, "ammonia toxicity", rec.CorrectedCause)
		assert.Equal(t, "lab result", rec.CorrectionReason)
		assert.Equal(t, "Newcastle disease", rec.DeathCause)
	})

	t.Run("recalculates the snapshot on request", func(t *testing.T) {
		store, svc := setup(t)
		rec, err := svc.CorrectDiagnosis(ctx, owner, models.CorrectDiagnosisPayload{DeathRecordID: "DR1", IsConfirmed: true, AIAccuracyRating: 4, RecalculateCost: true})
		require.NoError(t, err)
		assert.Equal(t, 4, rec.AIAccuracyRating)
		require.NotNil(t, rec.CostSnapshot)
		assert.Equal(t, 8.0, rec.CostSnapshot.TotalLoss)

		stored, err := store.GetDeathRecord(ctx, "DR1")
		require.NoError(t, err)
		require.NotNil(t, stored.CostSnapshot)
		assert.Equal(t, 8.0, stored.CostSnapshot.TotalLoss)
		assert.Len(t, stored.Corrections, 1)
	})

	tests := []struct {
		name    string
		payload models.CorrectDiagnosisPayload
		wantErr error
	}{
		{"unknown record", models.CorrectDiagnosisPayload{DeathRecordID: "nope", IsConfirmed: true}, apperrors.ErrNotFound},
		{"missing id", models.CorrectDiagnosisPayload{IsConfirmed: true}, apperrors.ErrValidation},
		{"same cause", models.CorrectDiagnosisPayload{DeathRecordID: "DR1", CorrectedCause: " newcastle DISEASE ", CorrectionReason: "r", AIAccuracyRating: 3}, apperrors.ErrValidation},
		{"empty corrected cause", models.CorrectDiagnosisPayload{DeathRecordID: "DR1", CorrectionReason: "r", AIAccuracyRating: 3}, apperrors.ErrValidation},
		{"missing rating on override", models.CorrectDiagnosisPayload{DeathRecordID: "DR1", CorrectedCause: "x", CorrectionReason: "r"}, apperrors.ErrValidation},
		{"rating out of range", models.CorrectDiagnosisPayload{DeathRecordID: "DR1", IsConfirmed: true, AIAccuracyRating: 6}, apperrors.ErrValidation},
		{"contradicting type", models.CorrectDiagnosisPayload{DeathRecordID: "DR1", IsConfirmed: true, CorrectionType: models.CorrectionCorrected}, apperrors.ErrValidation},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, svc := setup(t)
			_, err := svc.CorrectDiagnosis(ctx, owner, tc.payload)
			assert.ErrorIs(t, err, tc.wantErr)
		})
	}
}

func TestRecalculateDeathCost(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	store.PutBatch(models.Batch{ID: "B1", CurrentQuantity: 20, UnitPrice: 3})
	seedDeath(t, store, models.DeathRecord{ID: "DR1", BatchID: "B1", DeathCount: 4, CostSnapshot: &models.DeathCostSnapshot{TotalLoss: 1}})
	svc := newService(t, store, nil)

	store.PutFeedUsage(models.FeedUsageRecord{ID: "f1", BatchID: "B1", TotalCost: 40})

	rec, err := svc.RecalculateDeathCost(ctx, models.RecalculateDeathCostPayload{DeathRecordID: "DR1"})
	require.NoError(t, err)
	require.NotNil(t, rec.CostSnapshot)
	assert.Equal(t, 5.0, rec.CostSnapshot.TotalUnitCost)
	assert.Equal(t, 20.0, rec.CostSnapshot.TotalLoss)
	assert.Equal(t, fixedNow, rec.CostSnapshot.CalculatedAt)

	store.FailOn("ListFeedUsage", errors.New("down"))
	_, err = svc.RecalculateDeathCost(ctx, models.RecalculateDeathCostPayload{DeathRecordID: "DR1"})
	assert.ErrorIs(t, err, apperrors.ErrComputationFailed)

	stored, err := store.GetDeathRecord(ctx, "DR1")
	require.NoError(t, err)
	assert.Equal(t, 20.0, stored.CostSnapshot.TotalLoss)
}

func TestRecalculateAll(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T) *memory.Store {
		store := memory.NewStore()
		store.PutBatch(models.Batch{ID: "B1", OwnerID: "owner-1", CurrentQuantity: 10, UnitPrice: 2})
		store.PutBatch(models.Batch{ID: "B2", OwnerID: "owner-1", CurrentQuantity: 10, UnitPrice: 3})
		store.PutBatch(models.Batch{ID: "B3", OwnerID: "someone-else", CurrentQuantity: 10, UnitPrice: 9})
		seedDeath(t, store, models.DeathRecord{ID: "a", BatchID: "B1", DeathCount: 1})
		seedDeath(t, store, models.DeathRecord{ID: "b", BatchID: "B1", DeathCount: 2})
		seedDeath(t, store, models.DeathRecord{ID: "c", BatchID: "B1", DeathCount: 3})
		seedDeath(t, store, models.DeathRecord{ID: "d", BatchID: "B2", DeathCount: 1})
		seedDeath(t, store, models.DeathRecord{ID: "e", BatchID: "B3", DeathCount: 1})
		return store
	}

	t.Run("computes once per batch for the caller's batches", func(t *testing.T) {
		store := seed(t)
		exporter := &recordingExporter{}
		svc := newService(t, store, exporter)

		res, err := svc.RecalculateAll(ctx, owner, models.RecalculateAllPayload{})
		require.NoError(t, err)

		assert.Equal(t, 2, res.Batches)
		assert.Equal(t, 4, res.Updated)
		assert.Equal(t, 0, res.Failed)
		assert.Equal(t, 2, res.Exported)
		assert.Equal(t, 2, store.Calls("GetBatch"))
		assert.ElementsMatch(t, []string{"B1", "B2"}, exporter.batches)

		c, err := store.GetDeathRecord(ctx, "c")
		require.NoError(t, err)
		assert.Equal(t, 6.0, c.CostSnapshot.TotalLoss)

		e, err := store.GetDeathRecord(ctx, "e")
		require.NoError(t, err)
		assert.Nil(t, e.CostSnapshot)
	})

	t.Run("single batch scope", func(t *testing.T) {
		store := seed(t)
		res, err := newService(t, store, nil).RecalculateAll(ctx, owner, models.RecalculateAllPayload{BatchID: "B2"})
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.Equal(t, "d", res.Results[0].DeathRecordID)
		assert.Equal(t, 3.0, res.Results[0].TotalLoss)
		assert.Equal(t, 0, res.Exported)
	})

	t.Run("write failures are reported per record", func(t *testing.T) {
		store := seed(t)
		seedDeath(t, store, models.DeathRecord{ID: "orphan", BatchID: "B-gone", DeathCount: 1})
		store.PutBatch(models.Batch{ID: "B-gone", OwnerID: "owner-1"})
		svc := newService(t, store, &recordingExporter{err: errors.New("quota")})
		store.FailOn("UpdateCostSnapshot", errors.New("write timeout"))

		res, err := svc.RecalculateAll(ctx, owner, models.RecalculateAllPayload{})
		require.NoError(t, err)
		assert.Equal(t, 5, res.Failed)
		assert.Equal(t, 0, res.Updated)
		assert.Equal(t, 0, res.Exported)
		for _, r := range res.Results {
			assert.False(t, r.Success)
			assert.Equal(t, string(apperrors.CodeStoreUnavailable), r.Code)
			assert.Contains(t, r.Error, "write timeout")
		}
	})

	t.Run("missing batch fails only its records", func(t *testing.T) {
		store := seed(t)
		seedDeath(t, store, models.DeathRecord{ID: "orphan", BatchID: "B-missing", DeathCount: 1})
		svc := newService(t, store, nil)

		res, err := svc.RecalculateAll(ctx, owner, models.RecalculateAllPayload{BatchID: "B-missing"})
		require.NoError(t, err)
		require.Len(t, res.Results, 1)
		assert.False(t, res.Results[0].Success)
		assert.Equal(t, string(apperrors.CodeNotFound), res.Results[0].Code)

		res, err = svc.RecalculateAll(ctx, owner, models.RecalculateAllPayload{BatchID: "B1"})
		require.NoError(t, err)
		assert.Equal(t, 3, res.Updated)
	})

	t.Run("no batches owned", func(t *testing.T) {
		store := seed(t)
		res, err := newService(t, store, nil).RecalculateAll(ctx, models.Principal{ID: "nobody"}, models.RecalculateAllPayload{})
		require.NoError(t, err)
		assert.Empty(t, res.Results)
		assert.Equal(t, 0, res.Batches)
	})

	t.Run("listing failure fails the traversal", func(t *testing.T) {
		store := seed(t)
		store.FailOn("ListDeathRecords", errors.New("down"))
		_, err := newService(t, store, nil).RecalculateAll(ctx, owner, models.RecalculateAllPayload{})
		assert.ErrorIs(t, err, apperrors.ErrStoreUnavailable)
	})
}
