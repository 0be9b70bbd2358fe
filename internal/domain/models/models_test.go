package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCostInfo_Normalize(t *testing.T) {
	assert.Equal(t, 30.0, CostInfo{MedicationCost: 10, VeterinaryCost: 15, SupportiveCost: 3, OtherCost: 2}.Normalize().TotalCost)
	assert.Equal(t, 12.0, CostInfo{MedicationCost: 10, TotalCost: 12}.Normalize().TotalCost)
	assert.Zero(t, CostInfo{}.Normalize().TotalCost)
}

func TestTreatmentRecord_ResolveLegacyCost(t *testing.T) {
	tests := []struct {
		name    string
		rec     TreatmentRecord
		want    float64
		wantSrc string
	}{
		{
			name:    "normalized cost wins",
			rec:     TreatmentRecord{CostInfo: CostInfo{MedicationCost: 40}, Legacy: LegacyCost{TotalCost: 99}},
			want:    40,
			wantSrc: "cost_info",
		},
		{
			name: "medication statistic on completed medication record",
			rec: TreatmentRecord{
				Type:    TreatmentTypeMedication,
				Outcome: Outcome{Status: TreatmentCured},
				Legacy:  LegacyCost{MedicationStats: &LegacyMedicationStats{TotalMedicationCost: 75}, TotalCost: 60},
			},
			want:    75,
			wantSrc: "treatment_stats",
		},
		{
			name: "statistic ignored while ongoing",
			rec: TreatmentRecord{
				Type:    TreatmentTypeMedication,
				Outcome: Outcome{Status: TreatmentOngoing},
				Legacy:  LegacyCost{MedicationStats: &LegacyMedicationStats{TotalMedicationCost: 75}, TotalCost: 60},
			},
			want:    60,
			wantSrc: "total_cost",
		},
		{
			name:    "statistic ignored on other types",
			rec:     TreatmentRecord{Type: TreatmentTypeIsolation, Outcome: Outcome{Status: TreatmentDied}, Legacy: LegacyCost{MedicationStats: &LegacyMedicationStats{TotalMedicationCost: 75}, Amount: 5}},
			want:    5,
			wantSrc: "amount",
		},
		{
			name:    "zero values skipped",
			rec:     TreatmentRecord{Legacy: LegacyCost{TotalCost: 0, Amount: 8}},
			want:    8,
			wantSrc: "amount",
		},
		{name: "nothing recorded", rec: TreatmentRecord{}, want: 0, wantSrc: ""},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, src := tc.rec.ResolveLegacyCost()
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.wantSrc, src)
		})
	}
}

func TestTreatmentRecord_HasLegacyCost(t *testing.T) {
	assert.True(t, TreatmentRecord{Legacy: LegacyCost{Amount: 3}}.HasLegacyCost())
	assert.False(t, TreatmentRecord{CostInfo: CostInfo{TotalCost: 3}, Legacy: LegacyCost{Amount: 3}}.HasLegacyCost())
	assert.False(t, TreatmentRecord{CostInfo: CostInfo{OtherCost: 3}}.HasLegacyCost())
	assert.False(t, TreatmentRecord{}.HasLegacyCost())
}

func TestTreatmentRecord_StatusAndClone(t *testing.T) {
	rec := TreatmentRecord{Medications: []Medication{{Name: "amprolium"}}, Source: &SourceRef{VaccinationID: "V1"}}
	assert.Equal(t, TreatmentCreated, rec.Status())
	assert.False(t, rec.Status().Terminal())

	clone := rec.Clone()
	clone.Medications[0].Name = "changed"
	clone.Source.VaccinationID = "V2"
	assert.Equal(t, "amprolium", rec.Medications[0].Name)
	assert.Equal(t, "V1", rec.Source.VaccinationID)

	for _, s := range []TreatmentStatus{TreatmentCured, TreatmentDied, TreatmentDiscontinued} {
		assert.True(t, s.Terminal(), s)
	}
	assert.Equal(t, 6, Outcome{CuredCount: 3, ImprovedCount: 2, DeathCount: 1}.Accounted())
}

func TestDeathRecord_ApplyCorrection(t *testing.T) {
	at := time.Date(2025, 7, 21, 9, 0, 0, 0, time.UTC)
	rec := DeathRecord{ID: "D1", DeathCause: "coccidiosis"}
	assert.Equal(t, "coccidiosis", rec.CurrentCause())

	rec.ApplyCorrection(CorrectionEvent{ID: "c1", PreviousCause: "coccidiosis", CorrectedCause: "necrotic enteritis", CorrectionType: CorrectionCorrected, AccuracyRating: 2, CorrectedBy: "vet-1", CorrectedAt: at})
	rec.ApplyCorrection(CorrectionEvent{ID: "c2", PreviousCause: "necrotic enteritis", CorrectedCause: "necrotic enteritis", CorrectionType: CorrectionConfirmed, AccuracyRating: 5, CorrectedBy: "vet-2", CorrectedAt: at.Add(time.Hour)})

	require.Len(t, rec.Corrections, 2)
	assert.Equal(t, "coccidiosis", rec.DeathCause)
	assert.True(t, rec.IsCorrected)
	assert.Equal(t, CorrectionConfirmed, rec.CorrectionType)
	assert.Equal(t, 5, rec.AIAccuracyRating)
	assert.Equal(t, "vet-2", rec.CorrectedBy)
	require.NotNil(t, rec.CorrectedAt)
	assert.Equal(t, at.Add(time.Hour), *rec.CorrectedAt)
	assert.Equal(t, "necrotic enteritis", rec.CurrentCause())

	clone := rec.Clone()
	clone.Corrections[0].CorrectedCause = "other"
	assert.Equal(t, "necrotic enteritis", rec.Corrections[0].CorrectedCause)
}

func TestDeathRecord_CurrentCauseFromProjection(t *testing.T) {
	rec := DeathRecord{DeathCause: "unknown", IsCorrected: true, CorrectedCause: "heat stress"}
	assert.Equal(t, "heat stress", rec.CurrentCause())
}

func TestCostBreakdown_SnapshotFor(t *testing.T) {
	at := time.Date(2025, 7, 21, 0, 0, 0, 0, time.UTC)
	b := CostBreakdown{EntryUnitCost: 2, BreedingUnitCost: 0.33, PreventionUnitCost: 1.17, TreatmentUnitCost: 1, TotalUnitCost: 4.5}

	snap := b.SnapshotFor(3, at)
	assert.Equal(t, 6.0, snap.EntryCost)
	assert.Equal(t, 0.99, snap.BreedingCost)
	assert.Equal(t, 3.51, snap.PreventionCost)
	assert.Equal(t, 3.0, snap.TreatmentCost)
	assert.Equal(t, 13.5, snap.TotalLoss)
	assert.Equal(t, 4.5, snap.TotalUnitCost)
	assert.Equal(t, at, snap.CalculatedAt)
}

func TestRound2(t *testing.T) {
	tests := map[float64]float64{
		2.345:  2.35,
		-2.345: -2.35,
		0.225:  0.23,
		1.004:  1,
		7:      7,
	}
	for in, want := range tests {
		assert.Equal(t, want, Round2(in), "Round2(%v)", in)
	}
}

func TestDiagnosisRecord(t *testing.T) {
	d := DiagnosisRecord{Candidates: []DiseaseCandidate{{"coccidiosis", 0.4}, {"newcastle", 0.8}, {"ib", 0.8}}}
	top, ok := d.TopCandidate()
	require.True(t, ok)
	assert.Equal(t, "newcastle", top.Disease)

	_, ok = DiagnosisRecord{}.TopCandidate()
	assert.False(t, ok)

	assert.True(t, DiagnosisRecord{Status: DiagnosisPendingConfirmation}.Adoptable())
	assert.True(t, DiagnosisRecord{Status: DiagnosisConfirmed}.Adoptable())
	assert.False(t, DiagnosisRecord{Status: DiagnosisRejected}.Adoptable())
	assert.False(t, DiagnosisRecord{Status: DiagnosisDeleted}.Adoptable())
}

func TestBatch_LiveQuantity(t *testing.T) {
	assert.Equal(t, 1, Batch{CurrentQuantity: 0}.LiveQuantity())
	assert.Equal(t, 1, Batch{CurrentQuantity: -4}.LiveQuantity())
	assert.Equal(t, 250, Batch{CurrentQuantity: 250}.LiveQuantity())
}
