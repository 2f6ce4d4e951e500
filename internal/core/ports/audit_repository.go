package ports

import (
	"context"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// AuditRepository appends to the credential audit log. The log is
// append-only.
type AuditRepository interface {
	Append(ctx context.Context, entry *domain.AuditEntry) error
}
