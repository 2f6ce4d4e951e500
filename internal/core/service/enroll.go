package service

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/core/credential"
	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/pkg/clock"
)

type enrollService struct {
	workers  ports.WorkerRepository
	audit    auditor
	codec    *credential.Codec
	clock    clock.Clock
	validity time.Duration
	log      zerolog.Logger
}

// NewEnrollService returns an EnrollService implementation. validity <= 0
// uses domain.CredentialValidity.
func NewEnrollService(
	workers ports.WorkerRepository,
	audit ports.AuditRepository,
	codec *credential.Codec,
	clk clock.Clock,
	validity time.Duration,
	log zerolog.Logger,
) ports.EnrollService {
	if validity <= 0 {
		validity = domain.CredentialValidity
	}
	return &enrollService{
		workers:  workers,
		audit:    auditor{repo: audit, log: log},
		codec:    codec,
		clock:    clk,
		validity: validity,
		log:      log,
	}
}

// Enroll creates a worker record with a fresh identity and first token.
func (s *enrollService) Enroll(ctx context.Context, name string) (*ports.Enrollment, error) {
	name = strings.TrimSpace(name)
	if n := utf8.RuneCountInString(name); n < domain.NameMinLength || n > domain.NameMaxLength {
		return nil, fmt.Errorf("%w: must be %d-%d characters", domain.ErrInvalidName, domain.NameMinLength, domain.NameMaxLength)
	}

	token, err := s.codec.NewToken()
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}
	hash, err := s.codec.Hash(token)
	if err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}

	now := s.clock.Now()
	w := &domain.Worker{
		ID:             credential.NewWorkerID(),
		Name:           name,
		TokenHash:      hash,
		TokenExpiresAt: now.Add(s.validity),
		Status:         domain.WorkerActive,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.workers.Create(ctx, w); err != nil {
		return nil, fmt.Errorf("enroll: %w", err)
	}

	s.audit.record(ctx, domain.AuditEntry{
		WorkerID:  w.ID,
		Event:     domain.AuditCreated,
		TokenHash: hash,
		At:        now,
		Metadata:  map[string]string{"name": name},
	})
	s.log.Info().Str("worker_id", w.ID).Str("name", name).Msg("worker enrolled")

	return &ports.Enrollment{Worker: w, Token: token}, nil
}
