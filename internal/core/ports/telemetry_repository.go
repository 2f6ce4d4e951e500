package ports

import (
	"context"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// TelemetryRepository persists validated samples. InsertSamples writes the
// whole slice or nothing.
type TelemetryRepository interface {
	InsertSamples(ctx context.Context, samples []domain.Sample) error
}
