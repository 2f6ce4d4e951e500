package ports

import (
	"context"
	"time"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// Renewal carries a freshly minted successor token. The plaintext exists only
// here and in the one token_renewal push that delivers it.
type Renewal struct {
	Token     string
	ExpiresAt time.Time
}

// RotationService drives the token renewal protocol for one worker record.
type RotationService interface {
	// Check mints a pending credential when the current one is close to
	// expiry and none is in flight. It returns nil when nothing was issued.
	Check(ctx context.Context, w *domain.Worker) (*Renewal, error)
	// Acknowledge applies the worker's answer to a token_renewal push.
	Acknowledge(ctx context.Context, w *domain.Worker, success bool, reason string) (*domain.Worker, error)
}
