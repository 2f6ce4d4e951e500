package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

const collectionWorkers = "workers"

// WorkerRepository implements ports.WorkerRepository using MongoDB. Every
// mutation is a single-document conditional update.
type WorkerRepository struct {
	col *mongo.Collection
}

func NewWorkerRepository(db *mongo.Database) *WorkerRepository {
	return &WorkerRepository{col: db.Collection(collectionWorkers)}
}

func (r *WorkerRepository) Create(ctx context.Context, w *domain.Worker) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if _, err := r.col.InsertOne(ctx, fromDomain(w)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.ErrWorkerExists
		}
		return fmt.Errorf("insert worker: %w", err)
	}
	return nil
}

func (r *WorkerRepository) FindByID(ctx context.Context, id string) (*domain.Worker, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	var d workerDoc
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&d); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domain.ErrWorkerNotFound
		}
		return nil, fmt.Errorf("find worker: %w", err)
	}
	return d.toDomain(), nil
}

// updateByID applies update to one worker and maps a miss to ErrWorkerNotFound.
func (r *WorkerRepository) updateByID(ctx context.Context, id string, update bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	res, err := r.col.UpdateOne(ctx, bson.M{"_id": id}, update)
	if err != nil {
		return fmt.Errorf("update worker: %w", err)
	}
	if res.MatchedCount == 0 {
		return domain.ErrWorkerNotFound
	}
	return nil
}

func (r *WorkerRepository) MarkConnected(ctx context.Context, id, ip string, at time.Time) error {
	at = at.UTC()
	return r.updateByID(ctx, id, bson.M{"$set": bson.M{
		"is_connected":      true,
		"last_connected_at": at,
		"last_seen_at":      at,
		"last_ip":           ip,
		"updated_at":        at,
	}})
}

func (r *WorkerRepository) MarkDisconnected(ctx context.Context, id string, at time.Time) error {
	at = at.UTC()
	return r.updateByID(ctx, id, bson.M{"$set": bson.M{
		"is_connected":         false,
		"last_disconnected_at": at,
		"updated_at":           at,
	}})
}

func (r *WorkerRepository) Touch(ctx context.Context, id string, at time.Time) error {
	return r.updateByID(ctx, id, bson.M{"$set": bson.M{
		"is_connected": true,
		"last_seen_at": at.UTC(),
	}})
}

func (r *WorkerRepository) SetPendingCredential(ctx context.Context, id string, p domain.PendingCredential) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "pending_token_hash": bson.M{"$exists": false}}
	update := bson.M{"$set": bson.M{
		"pending_token_hash": p.Hash,
		"pending_expires_at": p.ExpiresAt.UTC(),
		"pending_created_at": p.CreatedAt.UTC(),
		"updated_at":         p.CreatedAt.UTC(),
	}}
	res, err := r.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return fmt.Errorf("set pending credential: %w", err)
	}
	if res.MatchedCount == 0 {
		return r.missReason(ctx, id, domain.ErrRotationInFlight)
	}
	return nil
}

func (r *WorkerRepository) PromotePendingCredential(ctx context.Context, id string, at time.Time) (*domain.Worker, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := bson.M{"_id": id, "pending_token_hash": bson.M{"$exists": true}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "token_hash", Value: "$pending_token_hash"},
			{Key: "token_expires_at", Value: "$pending_expires_at"},
			{Key: "status", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$status", string(domain.WorkerUpdateRequired)}}},
				string(domain.WorkerActive),
				"$status",
			}}}},
			{Key: "renewal_retry_count", Value: 0},
			{Key: "updated_at", Value: at.UTC()},
		}}},
		{{Key: "$unset", Value: bson.A{
			"pending_token_hash", "pending_expires_at", "pending_created_at",
			"renewal_failure_reason", "renewal_failed_at",
		}}},
	}
	return r.findAndUpdate(ctx, id, filter, update, domain.ErrNoPendingCredential)
}

func (r *WorkerRepository) RecordRenewalFailure(ctx context.Context, id, reason string, at time.Time) (*domain.Worker, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.D{
			{Key: "status", Value: bson.D{{Key: "$cond", Value: bson.A{
				bson.D{{Key: "$eq", Value: bson.A{"$status", string(domain.WorkerRevoked)}}},
				string(domain.WorkerRevoked),
				string(domain.WorkerUpdateRequired),
			}}}},
			// Worker-supplied text: $literal keeps a leading "$" from being
			// read as a field path.
			{Key: "renewal_failure_reason", Value: bson.D{{Key: "$literal", Value: reason}}},
			{Key: "renewal_failed_at", Value: at.UTC()},
			{Key: "renewal_retry_count", Value: bson.D{{Key: "$add", Value: bson.A{
				bson.D{{Key: "$ifNull", Value: bson.A{"$renewal_retry_count", 0}}}, 1,
			}}}},
			{Key: "updated_at", Value: at.UTC()},
		}}},
	}
	return r.findAndUpdate(ctx, id, bson.M{"_id": id}, update, domain.ErrWorkerNotFound)
}

func (r *WorkerRepository) findAndUpdate(ctx context.Context, id string, filter bson.M, update any, miss error) (*domain.Worker, error) {
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var d workerDoc
	err := r.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&d)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, r.missReason(ctx, id, miss)
	}
	if err != nil {
		return nil, fmt.Errorf("update worker: %w", err)
	}
	return d.toDomain(), nil
}

// missReason tells a missing worker apart from a failed condition.
func (r *WorkerRepository) missReason(ctx context.Context, id string, conditionErr error) error {
	n, err := r.col.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return fmt.Errorf("count worker: %w", err)
	}
	if n == 0 {
		return domain.ErrWorkerNotFound
	}
	return conditionErr
}

// staleFilter matches connected workers with no activity since cutoff.
func staleFilter(cutoff time.Time) bson.M {
	cutoff = cutoff.UTC()
	return bson.M{
		"is_connected": true,
		"$and": bson.A{
			bson.M{"$or": bson.A{bson.M{"last_seen_at": bson.M{"$lt": cutoff}}, bson.M{"last_seen_at": nil}}},
			bson.M{"$or": bson.A{bson.M{"last_connected_at": bson.M{"$lt": cutoff}}, bson.M{"last_connected_at": nil}}},
		},
	}
}

func (r *WorkerRepository) FindStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	opts := options.Find().
		SetProjection(bson.M{"_id": 1}).
		SetSort(bson.D{{Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := r.col.Find(ctx, staleFilter(cutoff), opts)
	if err != nil {
		return nil, fmt.Errorf("find stale workers: %w", err)
	}
	defer cur.Close(ctx)

	var rows []struct {
		ID string `bson:"_id"`
	}
	if err := cur.All(ctx, &rows); err != nil {
		return nil, fmt.Errorf("decode stale workers: %w", err)
	}
	ids := make([]string, len(rows))
	for i, row := range rows {
		ids[i] = row.ID
	}
	return ids, nil
}

func (r *WorkerRepository) DisconnectIfStale(ctx context.Context, id string, cutoff, at time.Time) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	filter := staleFilter(cutoff)
	filter["_id"] = id
	res, err := r.col.UpdateOne(ctx, filter, bson.M{"$set": bson.M{
		"is_connected":         false,
		"last_disconnected_at": at.UTC(),
		"updated_at":           at.UTC(),
	}})
	if err != nil {
		return false, fmt.Errorf("disconnect stale worker: %w", err)
	}
	return res.ModifiedCount > 0, nil
}

// EnsureIndexes creates the index the reaper's stale scan relies on.
func (r *WorkerRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{Keys: bson.D{{Key: "is_connected", Value: 1}, {Key: "last_seen_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}}},
	}
	_, err := r.col.Indexes().CreateMany(ctx, indexes)
	return err
}
