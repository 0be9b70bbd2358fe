// Package memory provides an in-process record store used for local runs and
// as the fake behind service tests. It mirrors the Mongo store's conditional
// update semantics.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/repository"
)

var _ repository.Store = (*Store)(nil)

// Store keeps every collection in maps guarded by a single lock.
type Store struct {
	mu         sync.RWMutex
	batches    map[string]models.Batch
	feed       map[string]models.FeedUsageRecord
	material   map[string]models.MaterialUsageRecord
	prevention map[string]models.PreventionRecord
	diagnoses  map[string]models.DiagnosisRecord
	treatments map[string]models.TreatmentRecord
	deaths     map[string]models.DeathRecord

	failures map[string]error
	calls    map[string]int
}

// NewStore returns an empty store.
func NewStore() *Store {
	return &Store{
		batches:    make(map[string]models.Batch),
		feed:       make(map[string]models.FeedUsageRecord),
		material:   make(map[string]models.MaterialUsageRecord),
		prevention: make(map[string]models.PreventionRecord),
		diagnoses:  make(map[string]models.DiagnosisRecord),
		treatments: make(map[string]models.TreatmentRecord),
		deaths:     make(map[string]models.DeathRecord),
		failures:   make(map[string]error),
		calls:      make(map[string]int),
	}
}

// FailOn makes every subsequent call to op return err. A nil err clears it.
func (s *Store) FailOn(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.failures, op)
		return
	}
	s.failures[op] = err
}

// Calls returns how many times op was invoked.
func (s *Store) Calls(op string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[op]
}

// enter records the call and returns any injected failure. Callers hold mu.
func (s *Store) enter(op string) error {
	s.calls[op]++
	if err, ok := s.failures[op]; ok {
		return apperrors.StoreUnavailable(op, err)
	}
	return nil
}

// PutBatch seeds a batch.
func (s *Store) PutBatch(b models.Batch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.batches[b.ID] = b
}

// PutFeedUsage seeds a feed usage record.
func (s *Store) PutFeedUsage(r models.FeedUsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feed[r.ID] = r
}

// PutMaterialUsage seeds a material usage record.
func (s *Store) PutMaterialUsage(r models.MaterialUsageRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.material[r.ID] = r
}

// PutPrevention seeds a prevention or vaccination record.
func (s *Store) PutPrevention(r models.PreventionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prevention[r.ID] = r
}

// PutTreatment seeds a treatment record as-is, bypassing version checks.
func (s *Store) PutTreatment(r models.TreatmentRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.treatments[r.ID] = r.Clone()
}

// PutDiagnosis seeds a diagnosis record.
func (s *Store) PutDiagnosis(r models.DiagnosisRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.diagnoses[r.ID] = r
}

// GetBatch returns a copy of the stored batch.
func (s *Store) GetBatch(_ context.Context, id string) (models.Batch, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetBatch"); err != nil {
		return models.Batch{}, err
	}
	b, ok := s.batches[id]
	if !ok {
		return models.Batch{}, apperrors.NotFound("batch %s", id)
	}
	return b, nil
}

// ListBatchIDsByOwner returns owned batch ids in sorted order.
func (s *Store) ListBatchIDsByOwner(_ context.Context, ownerID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListBatchIDsByOwner"); err != nil {
		return nil, err
	}
	var ids []string
	for id, b := range s.batches {
		if b.OwnerID == ownerID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// ListFeedUsage returns the non-deleted feed usage records of a batch.
func (s *Store) ListFeedUsage(_ context.Context, batchID string) ([]models.FeedUsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListFeedUsage"); err != nil {
		return nil, err
	}
	var out []models.FeedUsageRecord
	for _, r := range s.feed {
		if r.BatchID == batchID && !r.IsDeleted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListMaterialUsage returns the non-deleted material usage records of a batch.
func (s *Store) ListMaterialUsage(_ context.Context, batchID string) ([]models.MaterialUsageRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListMaterialUsage"); err != nil {
		return nil, err
	}
	var out []models.MaterialUsageRecord
	for _, r := range s.material {
		if r.BatchID == batchID && !r.IsDeleted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetPrevention loads a prevention or vaccination record by id.
func (s *Store) GetPrevention(_ context.Context, id string) (models.PreventionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetPrevention"); err != nil {
		return models.PreventionRecord{}, err
	}
	r, ok := s.prevention[id]
	if !ok || r.IsDeleted {
		return models.PreventionRecord{}, apperrors.NotFound("prevention record %s", id)
	}
	return r, nil
}

// ListPrevention returns the non-deleted prevention records of a batch.
func (s *Store) ListPrevention(_ context.Context, batchID string) ([]models.PreventionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListPrevention"); err != nil {
		return nil, err
	}
	var out []models.PreventionRecord
	for _, r := range s.prevention {
		if r.BatchID == batchID && !r.IsDeleted {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// GetDiagnosis loads a diagnosis record by id.
func (s *Store) GetDiagnosis(_ context.Context, id string) (models.DiagnosisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetDiagnosis"); err != nil {
		return models.DiagnosisRecord{}, err
	}
	d, ok := s.diagnoses[id]
	if !ok {
		return models.DiagnosisRecord{}, apperrors.NotFound("diagnosis %s", id)
	}
	return d, nil
}

// ListDiagnosesByIDs fetches the diagnoses referenced by treatments.
func (s *Store) ListDiagnosesByIDs(_ context.Context, ids []string) ([]models.DiagnosisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListDiagnosesByIDs"); err != nil {
		return nil, err
	}
	var out []models.DiagnosisRecord
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if d, ok := s.diagnoses[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

// InsertDiagnosis saves a new diagnosis record.
func (s *Store) InsertDiagnosis(_ context.Context, rec models.DiagnosisRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertDiagnosis"); err != nil {
		return err
	}
	if _, exists := s.diagnoses[rec.ID]; exists {
		return apperrors.Conflict("diagnosis %s already exists", rec.ID)
	}
	s.diagnoses[rec.ID] = rec
	return nil
}

// ClaimDiagnosis moves a pending diagnosis to adopted and keeps reviewed statuses.
func (s *Store) ClaimDiagnosis(_ context.Context, diagnosisID, treatmentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ClaimDiagnosis"); err != nil {
		return err
	}
	d, ok := s.diagnoses[diagnosisID]
	if !ok {
		return apperrors.NotFound("diagnosis %s", diagnosisID)
	}
	if d.HasTreatment && d.TreatmentID != treatmentID {
		return apperrors.DuplicateTreatment("diagnosis %s already adopted by treatment %s", diagnosisID, d.TreatmentID)
	}
	d.HasTreatment = true
	d.TreatmentID = treatmentID
	if d.Status == models.DiagnosisPendingConfirmation || d.Status == "" {
		d.Status = models.DiagnosisAdopted
	}
	d.UpdatedAt = at
	s.diagnoses[diagnosisID] = d
	return nil
}

// ReleaseDiagnosis is a no-op unless treatmentID holds the claim.
func (s *Store) ReleaseDiagnosis(_ context.Context, diagnosisID, treatmentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ReleaseDiagnosis"); err != nil {
		return err
	}
	d, ok := s.diagnoses[diagnosisID]
	if !ok || d.TreatmentID != treatmentID {
		return nil
	}
	d.HasTreatment = false
	d.TreatmentID = ""
	if d.Status == models.DiagnosisAdopted {
		d.Status = models.DiagnosisPendingConfirmation
	}
	d.UpdatedAt = at
	s.diagnoses[diagnosisID] = d
	return nil
}

// MarkDiagnosisTreated flags a diagnosis as having a treatment. It is idempotent.
func (s *Store) MarkDiagnosisTreated(_ context.Context, diagnosisID, treatmentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("MarkDiagnosisTreated"); err != nil {
		return err
	}
	d, ok := s.diagnoses[diagnosisID]
	if !ok {
		return apperrors.NotFound("diagnosis %s", diagnosisID)
	}
	d.HasTreatment = true
	d.TreatmentID = treatmentID
	if d.Status == models.DiagnosisPendingConfirmation || d.Status == "" {
		d.Status = models.DiagnosisAdopted
	}
	d.UpdatedAt = at
	s.diagnoses[diagnosisID] = d
	return nil
}

// UpdateDiagnosisStatus moves a diagnosis to status to when its current status is in from.
func (s *Store) UpdateDiagnosisStatus(_ context.Context, id string, from []models.DiagnosisStatus, to models.DiagnosisStatus, reviewer string, at time.Time) (models.DiagnosisRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateDiagnosisStatus"); err != nil {
		return models.DiagnosisRecord{}, err
	}
	d, ok := s.diagnoses[id]
	if !ok {
		return models.DiagnosisRecord{}, apperrors.NotFound("diagnosis %s", id)
	}
	allowed := false
	for _, st := range from {
		if d.Status == st {
			allowed = true
			break
		}
	}
	if !allowed {
		return models.DiagnosisRecord{}, apperrors.InvalidTransition("diagnosis %s is %s", id, d.Status)
	}
	d.Status = to
	d.ReviewedBy = reviewer
	reviewed := at
	d.ReviewedAt = &reviewed
	d.UpdatedAt = at
	s.diagnoses[id] = d
	return d, nil
}

// GetTreatment loads a treatment record by id.
func (s *Store) GetTreatment(_ context.Context, id string) (models.TreatmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetTreatment"); err != nil {
		return models.TreatmentRecord{}, err
	}
	t, ok := s.treatments[id]
	if !ok || t.IsDeleted {
		return models.TreatmentRecord{}, apperrors.NotFound("treatment %s", id)
	}
	return t.Clone(), nil
}

// ListTreatments returns the treatments matching filter, ordered by id.
func (s *Store) ListTreatments(_ context.Context, filter repository.TreatmentFilter) ([]models.TreatmentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListTreatments"); err != nil {
		return nil, err
	}
	var out []models.TreatmentRecord
	for _, t := range s.treatments {
		if t.IsDeleted {
			continue
		}
		if filter.BatchID != "" && t.BatchID != filter.BatchID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, t.Status()) {
			continue
		}
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertTreatment saves a new treatment record.
func (s *Store) InsertTreatment(_ context.Context, rec models.TreatmentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertTreatment"); err != nil {
		return err
	}
	if _, exists := s.treatments[rec.ID]; exists {
		return apperrors.Conflict("treatment %s already exists", rec.ID)
	}
	s.treatments[rec.ID] = rec.Clone()
	return nil
}

// ReplaceTreatment bumps the version on success and returns Conflict on a stale version.
func (s *Store) ReplaceTreatment(_ context.Context, rec models.TreatmentRecord, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ReplaceTreatment"); err != nil {
		return err
	}
	cur, ok := s.treatments[rec.ID]
	if !ok {
		return apperrors.NotFound("treatment %s", rec.ID)
	}
	if cur.Version != expectedVersion {
		return apperrors.Conflict("treatment %s changed (version %d, expected %d)", rec.ID, cur.Version, expectedVersion)
	}
	s.treatments[rec.ID] = rec.Clone()
	return nil
}

// GetDeathRecord loads a death record by id.
func (s *Store) GetDeathRecord(_ context.Context, id string) (models.DeathRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("GetDeathRecord"); err != nil {
		return models.DeathRecord{}, err
	}
	d, ok := s.deaths[id]
	if !ok {
		return models.DeathRecord{}, apperrors.NotFound("death record %s", id)
	}
	return d.Clone(), nil
}

// FindDeathRecordByTreatment returns the death record spawned by a treatment.
func (s *Store) FindDeathRecordByTreatment(_ context.Context, treatmentID string) (models.DeathRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("FindDeathRecordByTreatment"); err != nil {
		return models.DeathRecord{}, err
	}
	for _, d := range s.deaths {
		if d.TreatmentID == treatmentID {
			return d.Clone(), nil
		}
	}
	return models.DeathRecord{}, apperrors.NotFound("death record for treatment %s", treatmentID)
}

// ListDeathRecords returns the death records of the given batches.
func (s *Store) ListDeathRecords(_ context.Context, batchIDs []string) ([]models.DeathRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("ListDeathRecords"); err != nil {
		return nil, err
	}
	want := make(map[string]struct{}, len(batchIDs))
	for _, id := range batchIDs {
		want[id] = struct{}{}
	}
	var out []models.DeathRecord
	for _, d := range s.deaths {
		if _, ok := want[d.BatchID]; ok {
			out = append(out, d.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// InsertDeathRecord saves a new death record.
func (s *Store) InsertDeathRecord(_ context.Context, rec models.DeathRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("InsertDeathRecord"); err != nil {
		return err
	}
	if _, exists := s.deaths[rec.ID]; exists {
		return apperrors.Conflict("death record %s already exists", rec.ID)
	}
	s.deaths[rec.ID] = rec.Clone()
	return nil
}

// AppendCorrection pushes a correction event and refreshes the latest-correction fields.
func (s *Store) AppendCorrection(_ context.Context, id string, ev models.CorrectionEvent) (models.DeathRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("AppendCorrection"); err != nil {
		return models.DeathRecord{}, err
	}
	d, ok := s.deaths[id]
	if !ok {
		return models.DeathRecord{}, apperrors.NotFound("death record %s", id)
	}
	d = d.Clone()
	d.ApplyCorrection(ev)
	s.deaths[id] = d
	return d.Clone(), nil
}

// UpdateCostSnapshot replaces the cost snapshot of a death record.
func (s *Store) UpdateCostSnapshot(_ context.Context, id string, snap models.DeathCostSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enter("UpdateCostSnapshot"); err != nil {
		return err
	}
	d, ok := s.deaths[id]
	if !ok {
		return apperrors.NotFound("death record %s", id)
	}
	d.CostSnapshot = &snap
	d.UpdatedAt = snap.CalculatedAt
	s.deaths[id] = d
	return nil
}

func containsStatus(list []models.TreatmentStatus, st models.TreatmentStatus) bool {
	for _, s := range list {
		if s == st {
			return true
		}
	}
	return false
}
