package ports

import (
	"context"
	"encoding/json"
)

// TelemetryService validates and persists worker telemetry. Both operations
// return the number of samples written.
type TelemetryService interface {
	IngestOne(ctx context.Context, workerID string, raw []byte) (int, error)
	IngestBatch(ctx context.Context, workerID string, raw json.RawMessage) (int, error)
}
