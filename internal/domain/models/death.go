package models

import "time"

// CorrectionType classifies a human review of a suggested cause of death.
type CorrectionType string

const (
	CorrectionConfirmed CorrectionType = "confirmed"
	CorrectionCorrected CorrectionType = "corrected"
)

// MaxAccuracyRating is the top of the 1-5 accuracy scale.
const MaxAccuracyRating = 5

// CorrectionEvent is one immutable review of a death record's cause.
type CorrectionEvent struct {
	ID               string         `bson:"id" json:"id"`
	PreviousCause    string         `bson:"previous_cause" json:"previousCause"`
	CorrectedCause   string         `bson:"corrected_cause" json:"correctedCause"`
	CorrectionReason string         `bson:"correction_reason,omitempty" json:"correctionReason,omitempty"`
	CorrectionType   CorrectionType `bson:"correction_type" json:"correctionType"`
	AccuracyRating   int            `bson:"accuracy_rating" json:"aiAccuracyRating"`
	CorrectedBy      string         `bson:"corrected_by" json:"correctedBy"`
	CorrectedAt      time.Time      `bson:"corrected_at" json:"correctedAt"`
}

// AutopsyFindings are structured necropsy observations.
type AutopsyFindings struct {
	Lesions   []string `bson:"lesions,omitempty" json:"lesions,omitempty"`
	Organs    []string `bson:"organs,omitempty" json:"organs,omitempty"`
	Notes     string   `bson:"notes,omitempty" json:"notes,omitempty"`
	ImageKeys []string `bson:"image_keys,omitempty" json:"imageKeys,omitempty"`
}

// DeathCostSnapshot is the cost breakdown captured when the death record was
// written or last explicitly recomputed.
type DeathCostSnapshot struct {
	EntryUnitCost      float64   `bson:"entry_unit_cost" json:"entryUnitCost"`
	BreedingUnitCost   float64   `bson:"breeding_unit_cost" json:"breedingUnitCost"`
	PreventionUnitCost float64   `bson:"prevention_unit_cost" json:"preventionUnitCost"`
	TreatmentUnitCost  float64   `bson:"treatment_unit_cost" json:"treatmentUnitCost"`
	TotalUnitCost      float64   `bson:"total_unit_cost" json:"totalUnitCost"`
	EntryCost          float64   `bson:"entry_cost" json:"entryCost"`
	BreedingCost       float64   `bson:"breeding_cost" json:"breedingCost"`
	PreventionCost     float64   `bson:"prevention_cost" json:"preventionCost"`
	TreatmentCost      float64   `bson:"treatment_cost" json:"treatmentCost"`
	TotalLoss          float64   `bson:"total_loss" json:"totalLoss"`
	CalculatedAt       time.Time `bson:"calculated_at" json:"calculatedAt"`
}

// DeathRecord records birds lost from a batch.
type DeathRecord struct {
	ID               string             `bson:"_id" json:"id"`
	BatchID          string             `bson:"batch_id" json:"batchId"`
	BatchNumber      string             `bson:"batch_number,omitempty" json:"batchNumber,omitempty"`
	DeathDate        time.Time          `bson:"death_date" json:"deathDate"`
	DeathCount       int                `bson:"death_count" json:"deathCount"`
	DeathCause       string             `bson:"death_cause" json:"deathCause"`
	DiagnosisID      string             `bson:"diagnosis_id,omitempty" json:"diagnosisId,omitempty"`
	TreatmentID      string             `bson:"treatment_id,omitempty" json:"treatmentId,omitempty"`
	Source           *SourceRef         `bson:"source,omitempty" json:"source,omitempty"`
	Autopsy          *AutopsyFindings   `bson:"autopsy,omitempty" json:"autopsy,omitempty"`
	TreatmentCost    float64            `bson:"treatment_cost" json:"treatmentCost"`
	CostSnapshot     *DeathCostSnapshot `bson:"cost_snapshot,omitempty" json:"costSnapshot,omitempty"`
	IsCorrected      bool               `bson:"is_corrected" json:"isCorrected"`
	CorrectedCause   string             `bson:"corrected_cause,omitempty" json:"correctedCause,omitempty"`
	CorrectionReason string             `bson:"correction_reason,omitempty" json:"correctionReason,omitempty"`
	CorrectionType   CorrectionType     `bson:"correction_type,omitempty" json:"correctionType,omitempty"`
	AIAccuracyRating int                `bson:"ai_accuracy_rating,omitempty" json:"aiAccuracyRating,omitempty"`
	CorrectedBy      string             `bson:"corrected_by,omitempty" json:"correctedBy,omitempty"`
	CorrectedAt      *time.Time         `bson:"corrected_at,omitempty" json:"correctedAt,omitempty"`
	Corrections      []CorrectionEvent  `bson:"corrections,omitempty" json:"corrections,omitempty"`
	CreatedBy        string             `bson:"created_by,omitempty" json:"createdBy,omitempty"`
	CreatedAt        time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updatedAt"`
}

// CurrentCause is the latest reviewed cause, falling back to the original.
func (d DeathRecord) CurrentCause() string {
	if n := len(d.Corrections); n > 0 {
		return d.Corrections[n-1].CorrectedCause
	}
	if d.IsCorrected && d.CorrectedCause != "" {
		return d.CorrectedCause
	}
	return d.DeathCause
}

// ApplyCorrection appends the event and projects it onto the single-slot
// correction fields kept for existing readers.
func (d *DeathRecord) ApplyCorrection(ev CorrectionEvent) {
	d.Corrections = append(d.Corrections, ev)
	at := ev.CorrectedAt
	d.IsCorrected = true
	d.CorrectedCause = ev.CorrectedCause
	d.CorrectionReason = ev.CorrectionReason
	d.CorrectionType = ev.CorrectionType
	d.AIAccuracyRating = ev.AccuracyRating
	d.CorrectedBy = ev.CorrectedBy
	d.CorrectedAt = &at
	d.UpdatedAt = at
}

// Clone returns a deep copy.
func (d DeathRecord) Clone() DeathRecord {
	out := d
	out.Corrections = append([]CorrectionEvent(nil), d.Corrections...)
	if d.CostSnapshot != nil {
		snap := *d.CostSnapshot
		out.CostSnapshot = &snap
	}
	if d.Source != nil {
		src := *d.Source
		out.Source = &src
	}
	if d.Autopsy != nil {
		a := *d.Autopsy
		a.Lesions = append([]string(nil), d.Autopsy.Lesions...)
		a.Organs = append([]string(nil), d.Autopsy.Organs...)
		a.ImageKeys = append([]string(nil), d.Autopsy.ImageKeys...)
		out.Autopsy = &a
	}
	if d.CorrectedAt != nil {
		at := *d.CorrectedAt
		out.CorrectedAt = &at
	}
	return out
}
