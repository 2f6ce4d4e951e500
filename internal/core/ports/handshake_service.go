package ports

import (
	"context"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// CredentialSlot names which stored credential a presented token matched.
type CredentialSlot string

const (
	SlotCurrent CredentialSlot = "current"
	SlotPending CredentialSlot = "pending"
)

// AuthInput is the DTO passed from the session layer to HandshakeService.
type AuthInput struct {
	WorkerID   string
	Token      string
	RemoteAddr string
	// LiveSession is true when this process already holds an authenticated,
	// ready transport for WorkerID.
	LiveSession bool
}

type AuthResult struct {
	Worker *domain.Worker
	Slot   CredentialSlot
	// Reconciled is true when a stale durable connection flag was cleared
	// before authenticating.
	Reconciled bool
}

// HandshakeService validates a worker's claimed identity and credential
// against durable storage and records the connection.
type HandshakeService interface {
	Authenticate(ctx context.Context, in AuthInput) (*AuthResult, error)
}
