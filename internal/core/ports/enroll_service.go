package ports

import (
	"context"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// Enrollment is a newly created worker and its first plaintext token, which
// is never retrievable again.
type Enrollment struct {
	Worker *domain.Worker
	Token  string
}

type EnrollService interface {
	Enroll(ctx context.Context, name string) (*Enrollment, error)
}
