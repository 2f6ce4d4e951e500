package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

const collectionAudit = "credential_audit"

// AuditRepository implements ports.AuditRepository. Documents are inserted
// and never updated.
type AuditRepository struct {
	col *mongo.Collection
}

func NewAuditRepository(db *mongo.Database) *AuditRepository {
	return &AuditRepository{col: db.Collection(collectionAudit)}
}

func (r *AuditRepository) Append(ctx context.Context, e *domain.AuditEntry) error {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	doc := bson.M{
		"_id":        e.ID,
		"worker_id":  e.WorkerID,
		"event":      string(e.Event),
		"token_hash": e.TokenHash,
		"at":         e.At.UTC(),
	}
	if e.IPAddress != "" {
		doc["ip_address"] = e.IPAddress
	}
	if len(e.Metadata) > 0 {
		doc["metadata"] = e.Metadata
	}
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *AuditRepository) EnsureIndexes(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	_, err := r.col.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "worker_id", Value: 1}, {Key: "at", Value: -1}},
	})
	return err
}
