package ports

import (
	"context"
	"time"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// WorkerRepository defines the durable operations the protocol performs on
// worker records. Every mutation is a single conditional write so that
// concurrent actors, reapers and restarted processes reconcile through the
// store rather than through shared memory.
type WorkerRepository interface {
	Create(ctx context.Context, w *domain.Worker) error
	// FindByID returns domain.ErrWorkerNotFound for unknown identities.
	FindByID(ctx context.Context, id string) (*domain.Worker, error)

	MarkConnected(ctx context.Context, id, ip string, at time.Time) error
	MarkDisconnected(ctx context.Context, id string, at time.Time) error
	// Touch refreshes last_seen_at and re-asserts the connection flag.
	Touch(ctx context.Context, id string, at time.Time) error

	// SetPendingCredential stores a successor credential only when none is
	// pending; otherwise it returns domain.ErrRotationInFlight.
	SetPendingCredential(ctx context.Context, id string, pending domain.PendingCredential) error
	// PromotePendingCredential makes the pending credential current, clears
	// failure bookkeeping and returns the updated record.
	// Returns domain.ErrNoPendingCredential when nothing is pending.
	PromotePendingCredential(ctx context.Context, id string, at time.Time) (*domain.Worker, error)
	// RecordRenewalFailure marks the worker update_required (unless revoked),
	// stores the reason and increments the retry counter. Pending fields are
	// left untouched.
	RecordRenewalFailure(ctx context.Context, id, reason string, at time.Time) (*domain.Worker, error)

	// FindStale lists connected workers whose last activity predates cutoff.
	FindStale(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
	// DisconnectIfStale clears the connection flag only if the worker is
	// still stale relative to cutoff. Reports whether a write happened.
	DisconnectIfStale(ctx context.Context, id string, cutoff, at time.Time) (bool, error)
}
