package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/core/telemetry"
	"github.com/walletfleet/fleet-gateway/internal/metrics"
	"github.com/walletfleet/fleet-gateway/internal/pkg/clock"
)

type telemetryService struct {
	repo     ports.TelemetryRepository
	clock    clock.Clock
	maxBatch int
	log      zerolog.Logger
}

// NewTelemetryService returns a TelemetryService implementation. maxBatch
// <= 0 uses telemetry.DefaultMaxBatch.
func NewTelemetryService(repo ports.TelemetryRepository, clk clock.Clock, maxBatch int, log zerolog.Logger) ports.TelemetryService {
	if maxBatch <= 0 {
		maxBatch = telemetry.DefaultMaxBatch
	}
	return &telemetryService{repo: repo, clock: clk, maxBatch: maxBatch, log: log}
}

func (s *telemetryService) IngestOne(ctx context.Context, workerID string, raw []byte) (int, error) {
	r, err := telemetry.DecodeSample(raw)
	if err != nil {
		metrics.TelemetrySamplesTotal.WithLabelValues("rejected").Inc()
		return 0, err
	}
	return s.store(ctx, []domain.Sample{r.Sample(workerID, s.clock.Now())})
}

// IngestBatch writes every sample in raw or none of them. All samples in a
// batch share one server timestamp.
func (s *telemetryService) IngestBatch(ctx context.Context, workerID string, raw json.RawMessage) (int, error) {
	readings, err := telemetry.DecodeBatch(raw, s.maxBatch)
	if err != nil {
		metrics.TelemetrySamplesTotal.WithLabelValues("rejected").Inc()
		return 0, err
	}
	now := s.clock.Now()
	samples := make([]domain.Sample, len(readings))
	for i, r := range readings {
		samples[i] = r.Sample(workerID, now)
	}
	return s.store(ctx, samples)
}

func (s *telemetryService) store(ctx context.Context, samples []domain.Sample) (int, error) {
	if err := s.repo.InsertSamples(ctx, samples); err != nil {
		metrics.TelemetrySamplesTotal.WithLabelValues("store_error").Add(float64(len(samples)))
		return 0, fmt.Errorf("ingest telemetry: %w", err)
	}
	metrics.TelemetrySamplesTotal.WithLabelValues("accepted").Add(float64(len(samples)))
	s.log.Debug().Str("worker_id", samples[0].WorkerID).Int("count", len(samples)).Msg("telemetry stored")
	return len(samples), nil
}
