package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// TelemetryRepository implements ports.TelemetryRepository. A batch is
// written in one transaction.
type TelemetryRepository struct {
	db *sql.DB
}

func NewTelemetryRepository(db *sql.DB) *TelemetryRepository {
	return &TelemetryRepository{db: db}
}

func (r *TelemetryRepository) InsertSamples(ctx context.Context, samples []domain.Sample) error {
	if len(samples) == 0 {
		return nil
	}
	query := `INSERT INTO worker_metrics (worker_id, ts, memory, cpu, rate, engine_status, power_profile, batch_size, thread_count)
              VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''), $8, $9)`

	err := withTx(ctx, r.db, func(ctx context.Context, tx DBTX) error {
		for _, s := range samples {
			_, err := tx.ExecContext(ctx, query,
				s.WorkerID, s.Timestamp, s.Memory, s.CPU, s.Rate,
				s.EngineStatus, s.PowerProfile, nullInt(s.BatchSize), nullInt(s.ThreadCount))
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("insert samples: %w", err)
	}
	return nil
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}
