package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/core/credential"
	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/pkg/clock"
)

type handshakeService struct {
	workers ports.WorkerRepository
	audit   auditor
	codec   *credential.Codec
	clock   clock.Clock
	log     zerolog.Logger
}

// NewHandshakeService returns a HandshakeService implementation.
func NewHandshakeService(
	workers ports.WorkerRepository,
	audit ports.AuditRepository,
	codec *credential.Codec,
	clk clock.Clock,
	log zerolog.Logger,
) ports.HandshakeService {
	return &handshakeService{
		workers: workers,
		audit:   auditor{repo: audit, log: log},
		codec:   codec,
		clock:   clk,
		log:     log,
	}
}

// CheckAuthFormat performs the storage-free checks on an auth request.
func CheckAuthFormat(workerID, token string) error {
	if strings.TrimSpace(workerID) == "" || token == "" {
		return domain.ErrMissingFields
	}
	if !credential.ValidWorkerID(workerID) || !credential.ValidFormat(token) {
		return domain.ErrInvalidTokenFormat
	}
	return nil
}

// Authenticate runs the handshake steps in order; the first failing step
// decides the returned error.
func (s *handshakeService) Authenticate(ctx context.Context, in ports.AuthInput) (*ports.AuthResult, error) {
	// Lexical checks, no storage access.
	if err := CheckAuthFormat(in.WorkerID, in.Token); err != nil {
		return nil, err
	}

	// Identity.
	w, err := s.workers.FindByID(ctx, in.WorkerID)
	if err != nil {
		return nil, fmt.Errorf("authenticate: %w", err)
	}

	// Reconcile the durable flag against this process' live session.
	res := &ports.AuthResult{}
	if w.Connected {
		if in.LiveSession {
			return nil, domain.ErrAlreadyConnected
		}
		now := s.clock.Now()
		if err := s.workers.MarkDisconnected(ctx, w.ID, now); err != nil {
			return nil, fmt.Errorf("authenticate: clear stale flag: %w", err)
		}
		w.Connected = false
		w.LastDisconnectedAt = now
		res.Reconciled = true
		s.log.Info().Str("worker_id", w.ID).Msg("cleared stale connection flag")
	}

	// Revocation.
	if w.IsRevoked() {
		return nil, domain.ErrWorkerRevoked
	}

	// Credential: both slots are always compared.
	matchCurrent := s.codec.Matches(w.TokenHash, in.Token)
	matchPending := false
	if w.Pending != nil {
		matchPending = s.codec.Matches(w.Pending.Hash, in.Token)
	}

	now := s.clock.Now()
	switch {
	case matchCurrent:
		res.Slot = ports.SlotCurrent
		// Expiry of the matched credential.
		if !now.Before(w.TokenExpiresAt) {
			return nil, domain.ErrCredentialExpired
		}
	case matchPending:
		res.Slot = ports.SlotPending
		if !now.Before(w.Pending.ExpiresAt) {
			return nil, domain.ErrCredentialExpired
		}
	default:
		return nil, domain.ErrCredentialMismatch
	}

	// Record the connection.
	if err := s.workers.MarkConnected(ctx, w.ID, in.RemoteAddr, now); err != nil {
		return nil, fmt.Errorf("authenticate: mark connected: %w", err)
	}
	w.Connected = true
	w.LastConnectedAt = now
	w.LastSeenAt = now
	w.LastIP = in.RemoteAddr

	hash := w.TokenHash
	if res.Slot == ports.SlotPending {
		hash = w.Pending.Hash
	}
	s.audit.record(ctx, domain.AuditEntry{
		WorkerID:  w.ID,
		Event:     domain.AuditConnected,
		TokenHash: hash,
		At:        now,
		IPAddress: in.RemoteAddr,
		Metadata:  map[string]string{"credential": string(res.Slot)},
	})

	res.Worker = w
	return res, nil
}
