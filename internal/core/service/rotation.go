package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/core/credential"
	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/metrics"
	"github.com/walletfleet/fleet-gateway/internal/pkg/clock"
)

const (
	// DefaultAckTimeout is how long a pending credential may wait for the
	// worker's acknowledgment before the rotation is recorded as failed.
	DefaultAckTimeout = 24 * time.Hour

	reasonAckTimeout     = "renewal acknowledgment timeout"
	reasonWorkerReported = "worker reported renewal failure"
	maxReasonLen         = 256
)

// RotationPolicy holds the rotation timings. Zero fields take the defaults.
type RotationPolicy struct {
	Validity   time.Duration
	Threshold  time.Duration
	AckTimeout time.Duration
}

func (p RotationPolicy) withDefaults() RotationPolicy {
	if p.Validity <= 0 {
		p.Validity = domain.CredentialValidity
	}
	if p.Threshold <= 0 {
		p.Threshold = domain.RenewalThreshold
	}
	if p.AckTimeout <= 0 {
		p.AckTimeout = DefaultAckTimeout
	}
	return p
}

type rotationService struct {
	workers ports.WorkerRepository
	audit   auditor
	codec   *credential.Codec
	clock   clock.Clock
	policy  RotationPolicy
	log     zerolog.Logger
}

// NewRotationService returns a RotationService implementation.
func NewRotationService(
	workers ports.WorkerRepository,
	audit ports.AuditRepository,
	codec *credential.Codec,
	clk clock.Clock,
	policy RotationPolicy,
	log zerolog.Logger,
) ports.RotationService {
	return &rotationService{
		workers: workers,
		audit:   auditor{repo: audit, log: log},
		codec:   codec,
		clock:   clk,
		policy:  policy.withDefaults(),
		log:     log,
	}
}

func (s *rotationService) Check(ctx context.Context, w *domain.Worker) (*ports.Renewal, error) {
	now := s.clock.Now()

	if w.HasPending() {
		s.checkAckTimeout(ctx, w, now)
		return nil, nil
	}
	if w.IsRevoked() || !w.NeedsRenewal(now, s.policy.Threshold) {
		return nil, nil
	}

	token, err := s.codec.NewToken()
	if err != nil {
		return nil, fmt.Errorf("rotate: %w", err)
	}
	hash, err := s.codec.Hash(token)
	if err != nil {
		return nil, fmt.Errorf("rotate: %w", err)
	}
	pending := domain.PendingCredential{
		Hash:      hash,
		ExpiresAt: now.Add(s.policy.Validity),
		CreatedAt: now,
	}

	// Conditional write: a concurrent check that won the race is not an error.
	if err := s.workers.SetPendingCredential(ctx, w.ID, pending); err != nil {
		if errors.Is(err, domain.ErrRotationInFlight) {
			return nil, nil
		}
		return nil, fmt.Errorf("rotate: %w", err)
	}

	s.audit.record(ctx, domain.AuditEntry{
		WorkerID:  w.ID,
		Event:     domain.AuditRenewalAttempt,
		TokenHash: hash,
		At:        now,
		Metadata:  map[string]string{"expires_at": pending.ExpiresAt.Format(time.RFC3339)},
	})
	metrics.TokenRotationsTotal.WithLabelValues("issued").Inc()
	s.log.Info().Str("worker_id", w.ID).Time("expires_at", pending.ExpiresAt).Msg("pending credential issued")

	return &ports.Renewal{Token: token, ExpiresAt: pending.ExpiresAt}, nil
}

// checkAckTimeout records a failure once for a pending credential that was
// never acknowledged. The worker keeps authenticating with either token.
func (s *rotationService) checkAckTimeout(ctx context.Context, w *domain.Worker, now time.Time) {
	if w.Status != domain.WorkerActive || now.Sub(w.Pending.CreatedAt) < s.policy.AckTimeout {
		return
	}
	updated, err := s.workers.RecordRenewalFailure(ctx, w.ID, reasonAckTimeout, now)
	if err != nil {
		s.log.Warn().Err(err).Str("worker_id", w.ID).Msg("failed to record renewal ack timeout")
		return
	}
	s.audit.record(ctx, domain.AuditEntry{
		WorkerID:  w.ID,
		Event:     domain.AuditRenewalFailed,
		TokenHash: w.Pending.Hash,
		At:        now,
		Metadata: map[string]string{
			"reason":      reasonAckTimeout,
			"retry_count": strconv.Itoa(updated.RenewalRetryCount),
		},
	})
	metrics.TokenRotationsTotal.WithLabelValues("ack_timeout").Inc()
	s.log.Warn().Str("worker_id", w.ID).Msg("renewal acknowledgment timed out")
}

func (s *rotationService) Acknowledge(ctx context.Context, w *domain.Worker, success bool, reason string) (*domain.Worker, error) {
	if !w.HasPending() {
		return nil, domain.ErrNoPendingCredential
	}
	now := s.clock.Now()

	if success {
		updated, err := s.workers.PromotePendingCredential(ctx, w.ID, now)
		if err != nil {
			return nil, fmt.Errorf("acknowledge renewal: %w", err)
		}
		s.audit.record(ctx, domain.AuditEntry{
			WorkerID:  w.ID,
			Event:     domain.AuditRenewed,
			TokenHash: updated.TokenHash,
			At:        now,
		})
		metrics.TokenRotationsTotal.WithLabelValues("renewed").Inc()
		s.log.Info().Str("worker_id", w.ID).Msg("pending credential promoted")
		return updated, nil
	}

	if reason == "" {
		reason = reasonWorkerReported
	}
	reason = truncateReason(reason)
	updated, err := s.workers.RecordRenewalFailure(ctx, w.ID, reason, now)
	if err != nil {
		return nil, fmt.Errorf("acknowledge renewal: %w", err)
	}
	s.audit.record(ctx, domain.AuditEntry{
		WorkerID:  w.ID,
		Event:     domain.AuditRenewalFailed,
		TokenHash: w.Pending.Hash,
		At:        now,
		Metadata: map[string]string{
			"reason":      reason,
			"retry_count": strconv.Itoa(updated.RenewalRetryCount),
		},
	})
	metrics.TokenRotationsTotal.WithLabelValues("failed").Inc()
	s.log.Warn().Str("worker_id", w.ID).Str("reason", reason).Int("retry_count", updated.RenewalRetryCount).Msg("renewal failed")
	return updated, nil
}

// truncateReason caps reason at maxReasonLen bytes without splitting a rune.
func truncateReason(reason string) string {
	if len(reason) <= maxReasonLen {
		return reason
	}
	n := maxReasonLen
	for n > 0 && !utf8.RuneStart(reason[n]) {
		n--
	}
	return reason[:n]
}
