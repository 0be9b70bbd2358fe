package models

import (
	"encoding/json"
	"time"
)

// Action names the operation requested through the action envelope.
type Action string

const (
	ActionCalculateBatchCost         Action = "calculate_batch_cost"
	ActionExportBatchCost            Action = "export_batch_cost"
	ActionCreateTreatmentRecord      Action = "create_treatment_record"
	ActionGetTreatment               Action = "get_treatment"
	ActionSubmitTreatmentPlan        Action = "submit_treatment_plan"
	ActionUpdateTreatmentProgress    Action = "update_treatment_progress"
	ActionCompleteTreatmentAsCured   Action = "complete_treatment_as_cured"
	ActionCompleteTreatmentAsDied    Action = "complete_treatment_as_died"
	ActionDiscontinueTreatment       Action = "discontinue_treatment"
	ActionGetDeathRecord             Action = "get_death_record"
	ActionCorrectDeathDiagnosis      Action = "correct_death_diagnosis"
	ActionRecalculateDeathCost       Action = "recalculate_death_cost"
	ActionRecalculateAllDeathCosts   Action = "recalculate_all_death_costs"
	ActionCreateTreatmentFromVaccine Action = "create_treatment_from_vaccine"
	ActionCreateDeathFromVaccine     Action = "create_death_from_vaccine"
	ActionIngestDiagnosis            Action = "ingest_diagnosis"
	ActionRecordDiagnosis            Action = "record_diagnosis"
	ActionReviewDiagnosis            Action = "review_diagnosis"
	ActionReconcileRecords           Action = "reconcile_records"
)

// ActionRequest is the envelope every call arrives in.
type ActionRequest struct {
	Action  Action          `json:"action" binding:"required"`
	Payload json.RawMessage `json:"payload"`
}

// ActionError is the caller-facing error body.
type ActionError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ActionResponse is the envelope every call returns.
type ActionResponse struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ActionError `json:"error,omitempty"`
}

// BatchCostPayload targets calculate_batch_cost and export_batch_cost.
type BatchCostPayload struct {
	BatchID string `json:"batchId" validate:"required"`
}

// CreateTreatmentPayload creates a treatment record, optionally adopting a diagnosis.
type CreateTreatmentPayload struct {
	BatchID             string        `json:"batchId" validate:"required"`
	DiagnosisID         string        `json:"diagnosisId"`
	Type                TreatmentType `json:"treatmentType"`
	Diagnosis           string        `json:"diagnosis"`
	DiagnosisConfidence float64       `json:"diagnosisConfidence" validate:"gte=0,lte=1"`
	AffectedCount       int           `json:"affectedCount" validate:"gte=0"`
	Plan                TreatmentPlan `json:"treatmentPlan"`
	Medications         []Medication  `json:"medications" validate:"dive"`
	CostInfo            CostInfo      `json:"costInfo"`
	StartDate           *time.Time    `json:"startDate"`
	ExpectedRecoveryAt  *time.Time    `json:"expectedRecoveryDate"`
	Source              *SourceRef    `json:"-"`
}

// SubmitPlanPayload sets or revises a treatment plan.
type SubmitPlanPayload struct {
	TreatmentID        string        `json:"treatmentId" validate:"required"`
	Plan               TreatmentPlan `json:"treatmentPlan"`
	Medications        []Medication  `json:"medications" validate:"dive"`
	CostInfo           *CostInfo     `json:"costInfo"`
	ExpectedRecoveryAt *time.Time    `json:"expectedRecoveryDate"`
}

// ProgressPayload appends a progress entry.
type ProgressPayload struct {
	TreatmentID    string     `json:"treatmentId" validate:"required"`
	Date           *time.Time `json:"date"`
	DayIndex       int        `json:"dayIndex" validate:"gte=0"`
	Symptoms       string     `json:"symptoms" validate:"required"`
	Vitals         *Vitals    `json:"vitals"`
	AppetiteRating int        `json:"appetiteRating" validate:"gte=0,lte=5"`
}

// CompleteCuredPayload closes a treatment as cured.
type CompleteCuredPayload struct {
	TreatmentID   string `json:"treatmentId" validate:"required"`
	CuredCount    int    `json:"curedCount" validate:"gte=0"`
	ImprovedCount int    `json:"improvedCount" validate:"gte=0"`
	TotalTreated  int    `json:"totalTreated" validate:"gte=0"`
	Notes         string `json:"notes"`
}

// CompleteDiedPayload closes a treatment as died and hands off to a death record.
type CompleteDiedPayload struct {
	TreatmentID string           `json:"treatmentId" validate:"required"`
	DiedCount   int              `json:"diedCount" validate:"gte=0"`
	DeathDate   *time.Time       `json:"deathDate"`
	DeathCause  string           `json:"deathCause"`
	Autopsy     *AutopsyFindings `json:"autopsy"`
}

// DiscontinuePayload abandons an ongoing treatment.
type DiscontinuePayload struct {
	TreatmentID string `json:"treatmentId" validate:"required"`
	Reason      string `json:"reason" validate:"required"`
}

// RecordIDPayload addresses a single record by id.
type RecordIDPayload struct {
	ID string `json:"id" validate:"required"`
}

// CorrectDiagnosisPayload reviews a death record's suggested cause.
type CorrectDiagnosisPayload struct {
	DeathRecordID    string         `json:"deathRecordId" validate:"required"`
	CorrectedCause   string         `json:"correctedCause"`
	CorrectionReason string         `json:"correctionReason"`
	CorrectionType   CorrectionType `json:"correctionType"`
	AIAccuracyRating int            `json:"aiAccuracyRating" validate:"gte=0,lte=5"`
	IsConfirmed      bool           `json:"isConfirmed"`
	RecalculateCost  bool           `json:"recalculateCost"`
}

// RecalculateDeathCostPayload refreshes one death record's snapshot.
type RecalculateDeathCostPayload struct {
	DeathRecordID string `json:"deathRecordId" validate:"required"`
}

// RecalculateAllPayload refreshes snapshots for one batch or every batch the caller owns.
type RecalculateAllPayload struct {
	BatchID string `json:"batchId"`
}

// ReactionClassification selects what a vaccine reaction produces.
type ReactionClassification string

const (
	ReactionAbnormal ReactionClassification = "abnormal_reaction"
	ReactionDeath    ReactionClassification = "death"
)

// VaccineReactionPayload creates a downstream record from a vaccination.
type VaccineReactionPayload struct {
	VaccineRecordID string                 `json:"vaccineRecordId" validate:"required"`
	BatchID         string                 `json:"batchId"`
	AffectedCount   int                    `json:"affectedCount" validate:"gt=0"`
	Diagnosis       string                 `json:"diagnosis"`
	Classification  ReactionClassification `json:"classification" validate:"omitempty,oneof=abnormal_reaction death"`
	Notes           string                 `json:"notes"`
}

// IngestDiagnosisPayload pulls a classifier result into a diagnosis record.
type IngestDiagnosisPayload struct {
	BatchID          string `json:"batchId" validate:"required"`
	ClassificationID string `json:"classificationId" validate:"required"`
}

// RecordDiagnosisPayload stores a manually entered diagnosis.
type RecordDiagnosisPayload struct {
	BatchID       string             `json:"batchId" validate:"required"`
	Candidates    []DiseaseCandidate `json:"candidates" validate:"required,min=1"`
	Symptoms      []string           `json:"symptoms"`
	AffectedCount int                `json:"affectedCount" validate:"gte=0"`
}

// ReviewDiagnosisPayload confirms, rejects or deletes a pending diagnosis.
type ReviewDiagnosisPayload struct {
	DiagnosisID string          `json:"diagnosisId" validate:"required"`
	Decision    DiagnosisStatus `json:"decision" validate:"required,oneof=confirmed rejected deleted"`
}

// ReconcilePayload scopes a reconciliation pass.
type ReconcilePayload struct {
	BatchID string `json:"batchId"`
	DryRun  bool   `json:"dryRun"`
}
