package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
)

// auditor appends credential events. Audit failures never fail the operation
// that produced them; they are logged and dropped.
type auditor struct {
	repo ports.AuditRepository
	log  zerolog.Logger
}

func (a auditor) record(ctx context.Context, e domain.AuditEntry) {
	e.ID = uuid.NewString()
	if err := a.repo.Append(ctx, &e); err != nil {
		a.log.Warn().Err(err).
			Str("worker_id", e.WorkerID).
			Str("event", string(e.Event)).
			Msg("failed to append audit entry")
	}
}
