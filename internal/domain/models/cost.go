package models

import "time"

// CostBreakdown is the per-unit and per-batch cost attribution for a batch.
// Monetary values are rounded to 2 decimals; bases are the allocation
// denominators actually used.
type CostBreakdown struct {
	BatchID         string `json:"batchId"`
	BatchNumber     string `json:"batchNumber,omitempty"`
	CurrentQuantity int    `json:"currentQuantity"`

	EntryUnitCost float64 `json:"entryUnitCost"`

	BreedingCost     float64 `json:"breedingCost"`
	BreedingBase     float64 `json:"breedingBase"`
	BreedingUnitCost float64 `json:"breedingUnitCost"`

	PreventionCost     float64 `json:"preventionCost"`
	PreventionBase     float64 `json:"preventionBase"`
	PreventionUnitCost float64 `json:"preventionUnitCost"`

	TreatmentCost     float64 `json:"treatmentCost"`
	TreatmentBase     float64 `json:"treatmentBase"`
	TreatmentBaseFrom string  `json:"treatmentBaseFrom"`
	TreatmentUnitCost float64 `json:"treatmentUnitCost"`

	TotalUnitCost float64 `json:"totalUnitCost"`
	TotalCost     float64 `json:"totalCost"`
}

// Treatment allocation base sources.
const (
	BaseFromAffectedCount = "affected_count"
	BaseFromDiagnosis     = "diagnosis"
	BaseFromLiveQuantity  = "live_quantity"
)

// SnapshotFor projects the breakdown onto a death record of deathCount birds.
func (c CostBreakdown) SnapshotFor(deathCount int, at time.Time) DeathCostSnapshot {
	n := float64(deathCount)
	return DeathCostSnapshot{
		EntryUnitCost:      c.EntryUnitCost,
		BreedingUnitCost:   c.BreedingUnitCost,
		PreventionUnitCost: c.PreventionUnitCost,
		TreatmentUnitCost:  c.TreatmentUnitCost,
		TotalUnitCost:      c.TotalUnitCost,
		EntryCost:          round2(c.EntryUnitCost * n),
		BreedingCost:       round2(c.BreedingUnitCost * n),
		PreventionCost:     round2(c.PreventionUnitCost * n),
		TreatmentCost:      round2(c.TreatmentUnitCost * n),
		TotalLoss:          round2(c.TotalUnitCost * n),
		CalculatedAt:       at,
	}
}
