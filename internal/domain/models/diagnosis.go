package models

import "time"

// DiagnosisStatus is the review state of a diagnosis record.
type DiagnosisStatus string

const (
	DiagnosisPendingConfirmation DiagnosisStatus = "pending_confirmation"
	DiagnosisAdopted             DiagnosisStatus = "adopted"
	DiagnosisConfirmed           DiagnosisStatus = "confirmed"
	DiagnosisRejected            DiagnosisStatus = "rejected"
	DiagnosisDeleted             DiagnosisStatus = "deleted"
)

// DiagnosisSource tells whether a diagnosis came from the classifier or a person.
type DiagnosisSource string

const (
	DiagnosisSourceClassifier DiagnosisSource = "classifier"
	DiagnosisSourceManual     DiagnosisSource = "manual"
)

// DiseaseCandidate is one candidate disease with its confidence in [0,1].
type DiseaseCandidate struct {
	Disease    string  `bson:"disease" json:"disease"`
	Confidence float64 `bson:"confidence" json:"confidence"`
}

// DiagnosisRecord is a candidate diagnosis for a batch.
type DiagnosisRecord struct {
	ID               string             `bson:"_id" json:"id"`
	BatchID          string             `bson:"batch_id" json:"batchId"`
	Source           DiagnosisSource    `bson:"source" json:"source"`
	ClassificationID string             `bson:"classification_id,omitempty" json:"classificationId,omitempty"`
	Symptoms         []string           `bson:"symptoms,omitempty" json:"symptoms,omitempty"`
	Candidates       []DiseaseCandidate `bson:"candidates" json:"candidates"`
	AffectedCount    int                `bson:"affected_count" json:"affectedCount"`
	Status           DiagnosisStatus    `bson:"status" json:"status"`
	HasTreatment     bool               `bson:"has_treatment" json:"hasTreatment"`
	TreatmentID      string             `bson:"treatment_id,omitempty" json:"treatmentId,omitempty"`
	ReviewedBy       string             `bson:"reviewed_by,omitempty" json:"reviewedBy,omitempty"`
	ReviewedAt       *time.Time         `bson:"reviewed_at,omitempty" json:"reviewedAt,omitempty"`
	CreatedBy        string             `bson:"created_by,omitempty" json:"createdBy,omitempty"`
	CreatedAt        time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt        time.Time          `bson:"updated_at" json:"updatedAt"`
}

// TopCandidate returns the highest-confidence candidate, if any.
func (d DiagnosisRecord) TopCandidate() (DiseaseCandidate, bool) {
	if len(d.Candidates) == 0 {
		return DiseaseCandidate{}, false
	}
	best := d.Candidates[0]
	for _, c := range d.Candidates[1:] {
		if c.Confidence > best.Confidence {
			best = c
		}
	}
	return best, true
}

// Adoptable reports whether a treatment may still be created from this diagnosis.
func (d DiagnosisRecord) Adoptable() bool {
	return d.Status != DiagnosisRejected && d.Status != DiagnosisDeleted
}
