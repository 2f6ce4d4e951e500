package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// AuditRepository implements ports.AuditRepository over credential_audit_log.
type AuditRepository struct {
	db DBTX
}

func NewAuditRepository(db DBTX) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) Append(ctx context.Context, e *domain.AuditEntry) error {
	var metadata []byte
	if len(e.Metadata) > 0 {
		b, err := json.Marshal(e.Metadata)
		if err != nil {
			return fmt.Errorf("encode audit metadata: %w", err)
		}
		metadata = b
	}

	query := `INSERT INTO credential_audit_log (id, worker_id, event, token_hash, at, ip_address, metadata)
              VALUES ($1, $2, $3, NULLIF($4, ''), $5, NULLIF($6, ''), $7)`

	_, err := r.db.ExecContext(ctx, query, e.ID, e.WorkerID, string(e.Event), e.TokenHash, e.At, e.IPAddress, metadata)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}
