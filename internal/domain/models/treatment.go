package models

import "time"

// TreatmentStatus is the lifecycle state of a treatment record.
type TreatmentStatus string

const (
	TreatmentCreated      TreatmentStatus = "created"
	TreatmentOngoing      TreatmentStatus = "ongoing"
	TreatmentCured        TreatmentStatus = "cured"
	TreatmentDied         TreatmentStatus = "died"
	TreatmentDiscontinued TreatmentStatus = "discontinued"
)

// Terminal reports whether no further transition is permitted from s.
func (s TreatmentStatus) Terminal() bool {
	switch s {
	case TreatmentCured, TreatmentDied, TreatmentDiscontinued:
		return true
	}
	return false
}

// TreatmentType classifies how the treatment came about.
type TreatmentType string

const (
	TreatmentTypeMedication   TreatmentType = "medication"
	TreatmentTypeIsolation    TreatmentType = "isolation"
	TreatmentTypeSupportive   TreatmentType = "supportive"
	TreatmentTypeVaccineCare  TreatmentType = "vaccine_reaction"
	TreatmentTypeUnclassified TreatmentType = "other"
)

// MedicationStatus tracks a single medication within a plan.
type MedicationStatus string

const (
	MedicationPending   MedicationStatus = "pending"
	MedicationActive    MedicationStatus = "active"
	MedicationCompleted MedicationStatus = "completed"
	MedicationStopped   MedicationStatus = "stopped"
)

// Medication is one drug administered under a treatment plan.
type Medication struct {
	Name      string           `bson:"name" json:"name" validate:"required"`
	Dosage    string           `bson:"dosage" json:"dosage"`
	Route     string           `bson:"route,omitempty" json:"route,omitempty"`
	Frequency string           `bson:"frequency,omitempty" json:"frequency,omitempty"`
	StartDate *time.Time       `bson:"start_date,omitempty" json:"startDate,omitempty"`
	EndDate   *time.Time       `bson:"end_date,omitempty" json:"endDate,omitempty"`
	Status    MedicationStatus `bson:"status" json:"status"`
}

// TreatmentPlan describes the intended course of care.
type TreatmentPlan struct {
	Primary          string   `bson:"primary" json:"primary"`
	Secondary        []string `bson:"secondary,omitempty" json:"secondary,omitempty"`
	DurationDays     int      `bson:"duration_days,omitempty" json:"durationDays,omitempty"`
	FollowUpSchedule []string `bson:"follow_up_schedule,omitempty" json:"followUpSchedule,omitempty"`
}

// Vitals are optional measurements taken during a progress check.
type Vitals struct {
	TemperatureC *float64 `bson:"temperature_c,omitempty" json:"temperatureC,omitempty"`
	WeightKg     *float64 `bson:"weight_kg,omitempty" json:"weightKg,omitempty"`
}

// ProgressEntry records one follow-up observation.
type ProgressEntry struct {
	Date           time.Time `bson:"date" json:"date"`
	DayIndex       int       `bson:"day_index" json:"dayIndex"`
	Symptoms       string    `bson:"symptoms" json:"symptoms"`
	Vitals         *Vitals   `bson:"vitals,omitempty" json:"vitals,omitempty"`
	AppetiteRating int       `bson:"appetite_rating,omitempty" json:"appetiteRating,omitempty"`
	Operator       string    `bson:"operator" json:"operator"`
}

// Outcome summarizes the result of a treatment. CuredCount, ImprovedCount and
// DeathCount together never exceed TotalTreated.
type Outcome struct {
	Status        TreatmentStatus `bson:"status" json:"status"`
	CuredCount    int             `bson:"cured_count" json:"curedCount"`
	ImprovedCount int             `bson:"improved_count" json:"improvedCount"`
	DeathCount    int             `bson:"death_count" json:"deathCount"`
	TotalTreated  int             `bson:"total_treated" json:"totalTreated"`
	Reason        string          `bson:"reason,omitempty" json:"reason,omitempty"`
}

// Accounted is the number of treated birds already assigned an outcome.
func (o Outcome) Accounted() int {
	return o.CuredCount + o.ImprovedCount + o.DeathCount
}

// SourceRef links a record back to the event that produced it.
type SourceRef struct {
	VaccinationID string `bson:"vaccination_id,omitempty" json:"vaccinationId,omitempty"`
	VaccineName   string `bson:"vaccine_name,omitempty" json:"vaccineName,omitempty"`
}

// LegacyCost holds the historical cost shapes found on old treatment
// documents. It is only read by the cost normalization migration.
type LegacyCost struct {
	MedicationStats *LegacyMedicationStats `bson:"treatment_stats,omitempty" json:"-"`
	TotalCost       float64                `bson:"total_cost,omitempty" json:"-"`
	Amount          float64                `bson:"amount,omitempty" json:"-"`
}

// LegacyMedicationStats is the statistic block older medication records kept.
type LegacyMedicationStats struct {
	TotalMedicationCost float64 `bson:"total_medication_cost" json:"-"`
}

// TreatmentRecord tracks a health event from diagnosis through outcome.
type TreatmentRecord struct {
	ID                  string          `bson:"_id" json:"id"`
	BatchID             string          `bson:"batch_id" json:"batchId"`
	BatchNumber         string          `bson:"batch_number,omitempty" json:"batchNumber,omitempty"`
	DiagnosisID         string          `bson:"diagnosis_id,omitempty" json:"diagnosisId,omitempty"`
	Type                TreatmentType   `bson:"type" json:"type"`
	Diagnosis           string          `bson:"diagnosis" json:"diagnosis"`
	DiagnosisConfidence float64         `bson:"diagnosis_confidence,omitempty" json:"diagnosisConfidence,omitempty"`
	AffectedCount       int             `bson:"affected_count" json:"affectedCount"`
	Plan                TreatmentPlan   `bson:"plan" json:"plan"`
	Medications         []Medication    `bson:"medications" json:"medications"`
	Progress            []ProgressEntry `bson:"progress" json:"progress"`
	Outcome             Outcome         `bson:"outcome" json:"outcome"`
	CostInfo            CostInfo        `bson:"cost_info" json:"costInfo"`
	Legacy              LegacyCost      `bson:",inline" json:"-"`
	Source              *SourceRef      `bson:"source,omitempty" json:"source,omitempty"`
	StartDate           time.Time       `bson:"start_date" json:"startDate"`
	ExpectedRecoveryAt  *time.Time      `bson:"expected_recovery_at,omitempty" json:"expectedRecoveryAt,omitempty"`
	DeathRecordID       string          `bson:"death_record_id,omitempty" json:"deathRecordId,omitempty"`
	CompletedAt         *time.Time      `bson:"completed_at,omitempty" json:"completedAt,omitempty"`
	IsDeleted           bool            `bson:"is_deleted" json:"isDeleted"`
	CreatedBy           string          `bson:"created_by,omitempty" json:"createdBy,omitempty"`
	CreatedAt           time.Time       `bson:"created_at" json:"createdAt"`
	UpdatedAt           time.Time       `bson:"updated_at" json:"updatedAt"`
	Version             int             `bson:"version" json:"version"`
}

// Status is shorthand for the outcome status.
func (t TreatmentRecord) Status() TreatmentStatus {
	if t.Outcome.Status == "" {
		return TreatmentCreated
	}
	return t.Outcome.Status
}

// ResolveLegacyCost walks the historical cost shapes in priority order and
// returns the first present, non-zero value: the normalized cost info, the
// medication statistic on completed medication records, the root-level total,
// then the generic amount.
func (t TreatmentRecord) ResolveLegacyCost() (float64, string) {
	if total := t.CostInfo.Normalize().TotalCost; total > 0 {
		return total, "cost_info"
	}
	if t.Type == TreatmentTypeMedication && t.Status().Terminal() && t.Legacy.MedicationStats != nil {
		if v := t.Legacy.MedicationStats.TotalMedicationCost; v > 0 {
			return v, "treatment_stats"
		}
	}
	if t.Legacy.TotalCost > 0 {
		return t.Legacy.TotalCost, "total_cost"
	}
	if t.Legacy.Amount > 0 {
		return t.Legacy.Amount, "amount"
	}
	return 0, ""
}

// HasLegacyCost reports whether the record still needs cost normalization.
func (t TreatmentRecord) HasLegacyCost() bool {
	if t.CostInfo.TotalCost > 0 {
		return false
	}
	_, src := t.ResolveLegacyCost()
	return src != "" && src != "cost_info"
}

// Clone returns a deep copy so callers can mutate slices safely.
func (t TreatmentRecord) Clone() TreatmentRecord {
	out := t
	out.Medications = append([]Medication(nil), t.Medications...)
	out.Progress = append([]ProgressEntry(nil), t.Progress...)
	out.Plan.Secondary = append([]string(nil), t.Plan.Secondary...)
	out.Plan.FollowUpSchedule = append([]string(nil), t.Plan.FollowUpSchedule...)
	if t.Source != nil {
		src := *t.Source
		out.Source = &src
	}
	if t.Legacy.MedicationStats != nil {
		stats := *t.Legacy.MedicationStats
		out.Legacy.MedicationStats = &stats
	}
	return out
}
