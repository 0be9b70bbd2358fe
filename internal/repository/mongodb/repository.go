package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/mamadbah2/flockhealth/internal/apperrors"
	"github.com/mamadbah2/flockhealth/internal/domain/models"
	"github.com/mamadbah2/flockhealth/internal/repository"
)

const (
	collBatches    = "batches"
	collFeed       = "feed_usage_records"
	collMaterial   = "material_usage_records"
	collPrevention = "prevention_records"
	collDiagnoses  = "diagnosis_records"
	collTreatments = "treatment_records"
	collDeaths     = "death_records"
)

var _ repository.Store = (*MongoDBRepository)(nil)

// MongoDBRepository implements the record stores on MongoDB. Every mutation
// is a single-document write; preconditions are expressed in the filter.
type MongoDBRepository struct {
	client *mongo.Client
	db     *mongo.Database
	logger *zap.Logger
}

// NewMongoDBRepository creates a new MongoDB repository.
func NewMongoDBRepository(ctx context.Context, uri string, dbName string, logger *zap.Logger) (*MongoDBRepository, error) {
	clientOptions := options.Client().ApplyURI(uri)
	client, err := mongo.Connect(ctx, clientOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to mongodb: %w", err)
	}

	// Ping the database to verify connection
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping mongodb: %w", err)
	}

	return NewWithDatabase(client, client.Database(dbName), logger), nil
}

// NewWithDatabase wraps an already connected database handle.
func NewWithDatabase(client *mongo.Client, db *mongo.Database, logger *zap.Logger) *MongoDBRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MongoDBRepository{client: client, db: db, logger: logger}
}

// EnsureIndexes creates the lookup indexes the services rely on.
func (r *MongoDBRepository) EnsureIndexes(ctx context.Context) error {
	byBatch := mongo.IndexModel{Keys: bson.D{{Key: "batch_id", Value: 1}}}
	specs := map[string][]mongo.IndexModel{
		collBatches:    {{Keys: bson.D{{Key: "owner_id", Value: 1}}}},
		collFeed:       {byBatch},
		collMaterial:   {byBatch},
		collPrevention: {byBatch},
		collTreatments: {byBatch, {Keys: bson.D{{Key: "diagnosis_id", Value: 1}}}},
		collDeaths:     {byBatch, {Keys: bson.D{{Key: "treatment_id", Value: 1}}}},
	}
	for coll, idx := range specs {
		if _, err := r.db.Collection(coll).Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("create indexes on %s: %w", coll, err)
		}
	}
	return nil
}

// Close closes the MongoDB connection.
func (r *MongoDBRepository) Close(ctx context.Context) error {
	if r.client == nil {
		return nil
	}
	return r.client.Disconnect(ctx)
}

// GetBatch loads a batch by id.
func (r *MongoDBRepository) GetBatch(ctx context.Context, id string) (models.Batch, error) {
	var b models.Batch
	if err := r.findOne(ctx, collBatches, bson.M{"_id": id}, &b); err != nil {
		return models.Batch{}, r.notFound(err, "batch %s", id)
	}
	return b, nil
}

// ListBatchIDsByOwner returns the ids of every batch owned by ownerID.
func (r *MongoDBRepository) ListBatchIDsByOwner(ctx context.Context, ownerID string) ([]string, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}})
	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := r.findAll(ctx, collBatches, bson.M{"owner_id": ownerID}, &rows, opts); err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// ListFeedUsage returns the non-deleted feed usage records of a batch.
func (r *MongoDBRepository) ListFeedUsage(ctx context.Context, batchID string) ([]models.FeedUsageRecord, error) {
	var out []models.FeedUsageRecord
	err := r.findAll(ctx, collFeed, liveInBatch(batchID), &out, byID())
	return out, err
}

// ListMaterialUsage returns the non-deleted material usage records of a batch.
func (r *MongoDBRepository) ListMaterialUsage(ctx context.Context, batchID string) ([]models.MaterialUsageRecord, error) {
	var out []models.MaterialUsageRecord
	err := r.findAll(ctx, collMaterial, liveInBatch(batchID), &out, byID())
	return out, err
}

// GetPrevention loads a prevention or vaccination record by id.
func (r *MongoDBRepository) GetPrevention(ctx context.Context, id string) (models.PreventionRecord, error) {
	var p models.PreventionRecord
	filter := bson.M{"_id": id, "is_deleted": bson.M{"$ne": true}}
	if err := r.findOne(ctx, collPrevention, filter, &p); err != nil {
		return models.PreventionRecord{}, r.notFound(err, "prevention record %s", id)
	}
	return p, nil
}

// ListPrevention returns the non-deleted prevention records of a batch.
func (r *MongoDBRepository) ListPrevention(ctx context.Context, batchID string) ([]models.PreventionRecord, error) {
	var out []models.PreventionRecord
	err := r.findAll(ctx, collPrevention, liveInBatch(batchID), &out, byID())
	return out, err
}

// GetDiagnosis loads a diagnosis record by id.
func (r *MongoDBRepository) GetDiagnosis(ctx context.Context, id string) (models.DiagnosisRecord, error) {
	var d models.DiagnosisRecord
	if err := r.findOne(ctx, collDiagnoses, bson.M{"_id": id}, &d); err != nil {
		return models.DiagnosisRecord{}, r.notFound(err, "diagnosis %s", id)
	}
	return d, nil
}

// ListDiagnosesByIDs fetches the diagnoses referenced by treatments.
func (r *MongoDBRepository) ListDiagnosesByIDs(ctx context.Context, ids []string) ([]models.DiagnosisRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var out []models.DiagnosisRecord
	err := r.findAll(ctx, collDiagnoses, bson.M{"_id": bson.M{"$in": ids}}, &out, byID())
	return out, err
}

// InsertDiagnosis saves a new diagnosis record.
func (r *MongoDBRepository) InsertDiagnosis(ctx context.Context, rec models.DiagnosisRecord) error {
	return r.insert(ctx, collDiagnoses, rec, "diagnosis "+rec.ID)
}

// ClaimDiagnosis links a diagnosis to treatmentID unless another treatment already holds it.
func (r *MongoDBRepository) ClaimDiagnosis(ctx context.Context, diagnosisID, treatmentID string, at time.Time) error {
	filter := bson.M{
		"_id": diagnosisID,
		"$or": bson.A{
			bson.M{"has_treatment": bson.M{"$ne": true}},
			bson.M{"treatment_id": treatmentID},
		},
	}
	// Pipeline update so only a pending diagnosis is moved to adopted.
	update := mongo.Pipeline{{{Key: "$set", Value: bson.M{
		"has_treatment": true,
		"treatment_id":  treatmentID,
		"status":        statusSwap(bson.A{models.DiagnosisPendingConfirmation, ""}, models.DiagnosisAdopted),
		"updated_at":    at,
	}}}}
	res, err := r.db.Collection(collDiagnoses).UpdateOne(ctx, filter, update)
	if err != nil {
		return apperrors.StoreUnavailable("claim diagnosis", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	current, err := r.GetDiagnosis(ctx, diagnosisID)
	if err != nil {
		return err
	}
	return apperrors.DuplicateTreatment("diagnosis %s already adopted by treatment %s", diagnosisID, current.TreatmentID)
}

// ReleaseDiagnosis undoes a claim held by treatmentID.
func (r *MongoDBRepository) ReleaseDiagnosis(ctx context.Context, diagnosisID, treatmentID string, at time.Time) error {
	filter := bson.M{"_id": diagnosisID, "treatment_id": treatmentID}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"has_treatment": false,
			"status":        statusSwap(bson.A{models.DiagnosisAdopted}, models.DiagnosisPendingConfirmation),
			"updated_at":    at,
		}}},
		{{Key: "$unset", Value: "treatment_id"}},
	}
	if _, err := r.db.Collection(collDiagnoses).UpdateOne(ctx, filter, update); err != nil {
		return apperrors.StoreUnavailable("release diagnosis", err)
	}
	return nil
}

// statusSwap is an aggregation expression that yields to when the current
// status is one of from and keeps the current status otherwise.
func statusSwap(from bson.A, to models.DiagnosisStatus) bson.M {
	current := bson.M{"$ifNull": bson.A{"$status", ""}}
	return bson.M{"$cond": bson.A{bson.M{"$in": bson.A{current, from}}, to, current}}
}

// MarkDiagnosisTreated flags a diagnosis as having a treatment. It is idempotent.
func (r *MongoDBRepository) MarkDiagnosisTreated(ctx context.Context, diagnosisID, treatmentID string, at time.Time) error {
	coll := r.db.Collection(collDiagnoses)
	res, err := coll.UpdateOne(ctx, bson.M{"_id": diagnosisID}, bson.M{"$set": bson.M{
		"has_treatment": true,
		"treatment_id":  treatmentID,
		"updated_at":    at,
	}})
	if err != nil {
		return apperrors.StoreUnavailable("mark diagnosis treated", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("diagnosis %s", diagnosisID)
	}
	pending := bson.M{"_id": diagnosisID, "status": bson.M{"$in": bson.A{models.DiagnosisPendingConfirmation, ""}}}
	if _, err := coll.UpdateOne(ctx, pending, bson.M{"$set": bson.M{"status": models.DiagnosisAdopted}}); err != nil {
		return apperrors.StoreUnavailable("mark diagnosis adopted", err)
	}
	return nil
}

// UpdateDiagnosisStatus moves a diagnosis to status to when its current status is in from.
func (r *MongoDBRepository) UpdateDiagnosisStatus(ctx context.Context, id string, from []models.DiagnosisStatus, to models.DiagnosisStatus, reviewer string, at time.Time) (models.DiagnosisRecord, error) {
	filter := bson.M{"_id": id, "status": bson.M{"$in": from}}
	update := bson.M{"$set": bson.M{"status": to, "reviewed_by": reviewer, "reviewed_at": at, "updated_at": at}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var out models.DiagnosisRecord
	err := r.db.Collection(collDiagnoses).FindOneAndUpdate(ctx, filter, update, opts).Decode(&out)
	if err == nil {
		return out, nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return models.DiagnosisRecord{}, apperrors.StoreUnavailable("update diagnosis status", err)
	}
	current, err := r.GetDiagnosis(ctx, id)
	if err != nil {
		return models.DiagnosisRecord{}, err
	}
	return models.DiagnosisRecord{}, apperrors.InvalidTransition("diagnosis %s is %s", id, current.Status)
}

// GetTreatment loads a treatment record by id.
func (r *MongoDBRepository) GetTreatment(ctx context.Context, id string) (models.TreatmentRecord, error) {
	var t models.TreatmentRecord
	filter := bson.M{"_id": id, "is_deleted": bson.M{"$ne": true}}
	if err := r.findOne(ctx, collTreatments, filter, &t); err != nil {
		return models.TreatmentRecord{}, r.notFound(err, "treatment %s", id)
	}
	return t, nil
}

// ListTreatments returns the treatments matching filter, ordered by id.
func (r *MongoDBRepository) ListTreatments(ctx context.Context, filter repository.TreatmentFilter) ([]models.TreatmentRecord, error) {
	q := bson.M{"is_deleted": bson.M{"$ne": true}}
	if filter.BatchID != "" {
		q["batch_id"] = filter.BatchID
	}
	if len(filter.Statuses) > 0 {
		q["outcome.status"] = bson.M{"$in": filter.Statuses}
	}
	var out []models.TreatmentRecord
	err := r.findAll(ctx, collTreatments, q, &out, byID())
	return out, err
}

// InsertTreatment saves a new treatment record.
func (r *MongoDBRepository) InsertTreatment(ctx context.Context, rec models.TreatmentRecord) error {
	return r.insert(ctx, collTreatments, rec, "treatment "+rec.ID)
}

// ReplaceTreatment overwrites a treatment when its stored version is still expectedVersion.
func (r *MongoDBRepository) ReplaceTreatment(ctx context.Context, rec models.TreatmentRecord, expectedVersion int) error {
	filter := bson.M{"_id": rec.ID, "version": expectedVersion}
	res, err := r.db.Collection(collTreatments).ReplaceOne(ctx, filter, rec)
	if err != nil {
		return apperrors.StoreUnavailable("replace treatment", err)
	}
	if res.MatchedCount == 1 {
		return nil
	}
	if _, err := r.GetTreatment(ctx, rec.ID); err != nil {
		return err
	}
	return apperrors.Conflict("treatment %s changed since version %d", rec.ID, expectedVersion)
}

// GetDeathRecord loads a death record by id.
func (r *MongoDBRepository) GetDeathRecord(ctx context.Context, id string) (models.DeathRecord, error) {
	var d models.DeathRecord
	if err := r.findOne(ctx, collDeaths, bson.M{"_id": id}, &d); err != nil {
		return models.DeathRecord{}, r.notFound(err, "death record %s", id)
	}
	return d, nil
}

// FindDeathRecordByTreatment returns the death record spawned by a treatment.
func (r *MongoDBRepository) FindDeathRecordByTreatment(ctx context.Context, treatmentID string) (models.DeathRecord, error) {
	var d models.DeathRecord
	if err := r.findOne(ctx, collDeaths, bson.M{"treatment_id": treatmentID}, &d); err != nil {
		return models.DeathRecord{}, r.notFound(err, "death record for treatment %s", treatmentID)
	}
	return d, nil
}

// ListDeathRecords returns the death records of the given batches.
func (r *MongoDBRepository) ListDeathRecords(ctx context.Context, batchIDs []string) ([]models.DeathRecord, error) {
	if len(batchIDs) == 0 {
		return nil, nil
	}
	var out []models.DeathRecord
	err := r.findAll(ctx, collDeaths, bson.M{"batch_id": bson.M{"$in": batchIDs}}, &out, byID())
	return out, err
}

// InsertDeathRecord saves a new death record.
func (r *MongoDBRepository) InsertDeathRecord(ctx context.Context, rec models.DeathRecord) error {
	return r.insert(ctx, collDeaths, rec, "death record "+rec.ID)
}

// AppendCorrection pushes a correction event and refreshes the latest-correction fields.
func (r *MongoDBRepository) AppendCorrection(ctx context.Context, id string, ev models.CorrectionEvent) (models.DeathRecord, error) {
	update := bson.M{
		"$push": bson.M{"corrections": ev},
		"$set": bson.M{
			"is_corrected":       true,
			"corrected_cause":    ev.CorrectedCause,
			"correction_reason":  ev.CorrectionReason,
			"correction_type":    ev.CorrectionType,
			"ai_accuracy_rating": ev.AccuracyRating,
			"corrected_by":       ev.CorrectedBy,
			"corrected_at":       ev.CorrectedAt,
			"updated_at":         ev.CorrectedAt,
		},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var out models.DeathRecord
	err := r.db.Collection(collDeaths).FindOneAndUpdate(ctx, bson.M{"_id": id}, update, opts).Decode(&out)
	if err != nil {
		return models.DeathRecord{}, r.notFound(err, "death record %s", id)
	}
	return out, nil
}

// UpdateCostSnapshot replaces the cost snapshot of a death record.
func (r *MongoDBRepository) UpdateCostSnapshot(ctx context.Context, id string, snap models.DeathCostSnapshot) error {
	update := bson.M{"$set": bson.M{"cost_snapshot": snap, "updated_at": snap.CalculatedAt}}
	res, err := r.db.Collection(collDeaths).UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return apperrors.StoreUnavailable("update cost snapshot", err)
	}
	if res.MatchedCount == 0 {
		return apperrors.NotFound("death record %s", id)
	}
	return nil
}

func (r *MongoDBRepository) findOne(ctx context.Context, coll string, filter bson.M, out any) error {
	return r.db.Collection(coll).FindOne(ctx, filter).Decode(out)
}

func (r *MongoDBRepository) findAll(ctx context.Context, coll string, filter bson.M, out any, opts ...*options.FindOptions) error {
	cursor, err := r.db.Collection(coll).Find(ctx, filter, opts...)
	if err != nil {
		return apperrors.StoreUnavailable("find "+coll, err)
	}
	if err := cursor.All(ctx, out); err != nil {
		return apperrors.StoreUnavailable("decode "+coll, err)
	}
	return nil
}

func (r *MongoDBRepository) insert(ctx context.Context, coll string, doc any, label string) error {
	if _, err := r.db.Collection(coll).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return apperrors.Conflict("%s already exists", label)
		}
		return apperrors.StoreUnavailable("insert "+label, err)
	}
	r.logger.Debug("document inserted", zap.String("collection", coll), zap.String("record", label))
	return nil
}

func (r *MongoDBRepository) notFound(err error, format string, args ...any) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return apperrors.NotFound(format, args...)
	}
	return apperrors.StoreUnavailable(fmt.Sprintf(format, args...), err)
}

func liveInBatch(batchID string) bson.M {
	return bson.M{"batch_id": batchID, "is_deleted": bson.M{"$ne": true}}
}

func byID() *options.FindOptions {
	return options.Find().SetSort(bson.D{{Key: "_id", Value: 1}})
}
