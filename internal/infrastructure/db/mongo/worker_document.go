package mongo

import (
	"time"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// workerDoc is the persisted shape of a worker. Optional timestamps are
// pointers so that "never happened" is stored as a missing field rather
// than the zero time.
type workerDoc struct {
	ID             string    `bson:"_id"`
	Name           string    `bson:"name"`
	TokenHash      string    `bson:"token_hash"`
	TokenExpiresAt time.Time `bson:"token_expires_at"`

	PendingTokenHash string     `bson:"pending_token_hash,omitempty"`
	PendingExpiresAt *time.Time `bson:"pending_expires_at,omitempty"`
	PendingCreatedAt *time.Time `bson:"pending_created_at,omitempty"`

	Status             string     `bson:"status"`
	Connected          bool       `bson:"is_connected"`
	LastConnectedAt    *time.Time `bson:"last_connected_at,omitempty"`
	LastDisconnectedAt *time.Time `bson:"last_disconnected_at,omitempty"`
	LastSeenAt         *time.Time `bson:"last_seen_at,omitempty"`
	LastIP             string     `bson:"last_ip,omitempty"`

	RenewalFailureReason string     `bson:"renewal_failure_reason,omitempty"`
	RenewalFailedAt      *time.Time `bson:"renewal_failed_at,omitempty"`
	RenewalRetryCount    int        `bson:"renewal_retry_count"`

	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func timeVal(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return t.UTC()
}

func fromDomain(w *domain.Worker) workerDoc {
	d := workerDoc{
		ID:                   w.ID,
		Name:                 w.Name,
		TokenHash:            w.TokenHash,
		TokenExpiresAt:       w.TokenExpiresAt.UTC(),
		Status:               string(w.Status),
		Connected:            w.Connected,
		LastConnectedAt:      timePtr(w.LastConnectedAt),
		LastDisconnectedAt:   timePtr(w.LastDisconnectedAt),
		LastSeenAt:           timePtr(w.LastSeenAt),
		LastIP:               w.LastIP,
		RenewalFailureReason: w.RenewalFailureReason,
		RenewalFailedAt:      timePtr(w.RenewalFailedAt),
		RenewalRetryCount:    w.RenewalRetryCount,
		CreatedAt:            w.CreatedAt.UTC(),
		UpdatedAt:            w.UpdatedAt.UTC(),
	}
	if w.HasPending() {
		d.PendingTokenHash = w.Pending.Hash
		d.PendingExpiresAt = timePtr(w.Pending.ExpiresAt)
		d.PendingCreatedAt = timePtr(w.Pending.CreatedAt)
	}
	return d
}

func (d workerDoc) toDomain() *domain.Worker {
	w := &domain.Worker{
		ID:                   d.ID,
		Name:                 d.Name,
		TokenHash:            d.TokenHash,
		TokenExpiresAt:       d.TokenExpiresAt.UTC(),
		Status:               domain.WorkerStatus(d.Status),
		Connected:            d.Connected,
		LastConnectedAt:      timeVal(d.LastConnectedAt),
		LastDisconnectedAt:   timeVal(d.LastDisconnectedAt),
		LastSeenAt:           timeVal(d.LastSeenAt),
		LastIP:               d.LastIP,
		RenewalFailureReason: d.RenewalFailureReason,
		RenewalFailedAt:      timeVal(d.RenewalFailedAt),
		RenewalRetryCount:    d.RenewalRetryCount,
		CreatedAt:            d.CreatedAt.UTC(),
		UpdatedAt:            d.UpdatedAt.UTC(),
	}
	if d.PendingTokenHash != "" {
		w.Pending = &domain.PendingCredential{
			Hash:      d.PendingTokenHash,
			ExpiresAt: timeVal(d.PendingExpiresAt),
			CreatedAt: timeVal(d.PendingCreatedAt),
		}
	}
	return w
}
