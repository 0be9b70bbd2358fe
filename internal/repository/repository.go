// Package repository declares the record-store contracts shared by the Mongo
// and in-memory implementations.
package repository

import (
	"context"
	"time"

	"github.com/mamadbah2/flockhealth/internal/domain/models"
)

// BatchReader reads batches owned by the production module.
type BatchReader interface {
	GetBatch(ctx context.Context, id string) (models.Batch, error)
	ListBatchIDsByOwner(ctx context.Context, ownerID string) ([]string, error)
}

// UsageReader reads feed and material usage for a batch. Soft-deleted records
// are excluded.
type UsageReader interface {
	ListFeedUsage(ctx context.Context, batchID string) ([]models.FeedUsageRecord, error)
	ListMaterialUsage(ctx context.Context, batchID string) ([]models.MaterialUsageRecord, error)
}

// PreventionReader reads prevention and vaccination records.
type PreventionReader interface {
	GetPrevention(ctx context.Context, id string) (models.PreventionRecord, error)
	ListPrevention(ctx context.Context, batchID string) ([]models.PreventionRecord, error)
}

// DiagnosisStore persists diagnosis records.
type DiagnosisStore interface {
	GetDiagnosis(ctx context.Context, id string) (models.DiagnosisRecord, error)
	ListDiagnosesByIDs(ctx context.Context, ids []string) ([]models.DiagnosisRecord, error)
	InsertDiagnosis(ctx context.Context, rec models.DiagnosisRecord) error
	// ClaimDiagnosis atomically links an unadopted diagnosis to treatmentID.
	// It fails with ErrDuplicateTreatment when another treatment holds it.
	ClaimDiagnosis(ctx context.Context, diagnosisID, treatmentID string, at time.Time) error
	// ReleaseDiagnosis undoes a claim held by treatmentID.
	ReleaseDiagnosis(ctx context.Context, diagnosisID, treatmentID string, at time.Time) error
	// MarkDiagnosisTreated sets hasTreatment and the treatment link; idempotent.
	MarkDiagnosisTreated(ctx context.Context, diagnosisID, treatmentID string, at time.Time) error
	// UpdateDiagnosisStatus moves a diagnosis to `to` only when its status is in `from`.
	UpdateDiagnosisStatus(ctx context.Context, id string, from []models.DiagnosisStatus, to models.DiagnosisStatus, reviewer string, at time.Time) (models.DiagnosisRecord, error)
}

// TreatmentFilter narrows treatment listings. Zero values match everything.
type TreatmentFilter struct {
	BatchID  string
	Statuses []models.TreatmentStatus
}

// TreatmentStore persists treatment records.
type TreatmentStore interface {
	GetTreatment(ctx context.Context, id string) (models.TreatmentRecord, error)
	ListTreatments(ctx context.Context, filter TreatmentFilter) ([]models.TreatmentRecord, error)
	InsertTreatment(ctx context.Context, rec models.TreatmentRecord) error
	// ReplaceTreatment writes rec when the stored version equals
	// expectedVersion, failing with ErrConflict otherwise.
	ReplaceTreatment(ctx context.Context, rec models.TreatmentRecord, expectedVersion int) error
}

// DeathStore persists death records.
type DeathStore interface {
	GetDeathRecord(ctx context.Context, id string) (models.DeathRecord, error)
	FindDeathRecordByTreatment(ctx context.Context, treatmentID string) (models.DeathRecord, error)
	ListDeathRecords(ctx context.Context, batchIDs []string) ([]models.DeathRecord, error)
	InsertDeathRecord(ctx context.Context, rec models.DeathRecord) error
	// AppendCorrection pushes the event and updates the latest-correction
	// projection in a single write, returning the updated record.
	AppendCorrection(ctx context.Context, id string, ev models.CorrectionEvent) (models.DeathRecord, error)
	UpdateCostSnapshot(ctx context.Context, id string, snap models.DeathCostSnapshot) error
}

// Store is the full set of record stores.
type Store interface {
	BatchReader
	UsageReader
	PreventionReader
	DiagnosisStore
	TreatmentStore
	DeathStore
}
