package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

const (
	collectionMetrics = "worker_metrics"

	codeNamespaceExists = 48
)

type sampleDoc struct {
	WorkerID     string    `bson:"worker_id"`
	Timestamp    time.Time `bson:"timestamp"`
	Memory       float64   `bson:"memory"`
	CPU          float64   `bson:"cpu"`
	Rate         float64   `bson:"rate"`
	EngineStatus string    `bson:"engine_status,omitempty"`
	PowerProfile string    `bson:"power_profile,omitempty"`
	BatchSize    *int      `bson:"batch_size,omitempty"`
	ThreadCount  *int      `bson:"thread_count,omitempty"`
}

// TelemetryRepository implements ports.TelemetryRepository over a MongoDB
// time-series collection.
type TelemetryRepository struct {
	db  *mongo.Database
	col *mongo.Collection
}

func NewTelemetryRepository(db *mongo.Database) *TelemetryRepository {
	return &TelemetryRepository{db: db, col: db.Collection(collectionMetrics)}
}

// EnsureCollection creates the time-series collection on first start.
func (r *TelemetryRepository) EnsureCollection(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	ts := options.TimeSeries().
		SetTimeField("timestamp").
		SetMetaField("worker_id").
		SetGranularity("seconds")
	err := r.db.CreateCollection(ctx, collectionMetrics, options.CreateCollection().SetTimeSeriesOptions(ts))
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == codeNamespaceExists {
		return nil
	}
	return err
}

// InsertSamples writes the batch with one ordered InsertMany. Samples are
// validated before they get here, so a partial write means the server
// failed mid-batch.
func (r *TelemetryRepository) InsertSamples(ctx context.Context, samples []domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	docs := make([]any, len(samples))
	for i, s := range samples {
		docs[i] = sampleDoc{
			WorkerID:     s.WorkerID,
			Timestamp:    s.Timestamp.UTC(),
			Memory:       s.Memory,
			CPU:          s.CPU,
			Rate:         s.Rate,
			EngineStatus: s.EngineStatus,
			PowerProfile: s.PowerProfile,
			BatchSize:    s.BatchSize,
			ThreadCount:  s.ThreadCount,
		}
	}
	if _, err := r.col.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert samples: %w", err)
	}
	return nil
}
