// Package db selects and opens the durable store named by configuration.
package db

import (
	"context"
	"fmt"

	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/db/memory"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/db/mongo"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/db/postgres"
)

const (
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverMemory   = "memory"
)

type Config struct {
	Driver      string
	Mongo       mongo.Config
	PostgresDSN string
}

// Store is the driver-independent view of an opened store.
type Store struct {
	Workers   ports.WorkerRepository
	Audit     ports.AuditRepository
	Telemetry ports.TelemetryRepository
	Pinger    ports.Pinger

	closeFn func(ctx context.Context) error
}

func (s *Store) Close(ctx context.Context) error {
	if s.closeFn == nil {
		return nil
	}
	return s.closeFn(ctx)
}

// Open connects to the configured driver and prepares its schema.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	switch cfg.Driver {
	case DriverMongo, "":
		s, err := mongo.Open(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		return &Store{Workers: s.Workers, Audit: s.Audit, Telemetry: s.Telemetry, Pinger: s, closeFn: s.Close}, nil
	case DriverPostgres:
		s, err := postgres.Open(ctx, cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return &Store{Workers: s.Workers, Audit: s.Audit, Telemetry: s.Telemetry, Pinger: s, closeFn: s.Close}, nil
	case DriverMemory:
		return FromMemory(memory.New()), nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// FromMemory wraps an in-process store.
func FromMemory(m *memory.Store) *Store {
	return &Store{Workers: m, Audit: m, Telemetry: m, Pinger: m}
}
