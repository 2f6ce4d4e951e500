package service

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/metrics"
	"github.com/walletfleet/fleet-gateway/internal/pkg/clock"
)

const (
	DefaultReapInterval = time.Minute
	reapPageSize        = 200
)

// Reaper clears connection flags left behind by sessions that ended without a
// clean close, typically because the process holding them crashed. It works
// purely against the store and never consults live actors.
type Reaper struct {
	workers    ports.WorkerRepository
	clock      clock.Clock
	staleAfter time.Duration
	pageSize   int
	log        zerolog.Logger
}

// NewReaper builds a Reaper. staleAfter <= 0 uses domain.StaleAfter.
func NewReaper(workers ports.WorkerRepository, clk clock.Clock, staleAfter time.Duration, log zerolog.Logger) *Reaper {
	if staleAfter <= 0 {
		staleAfter = domain.StaleAfter
	}
	return &Reaper{
		workers:    workers,
		clock:      clk,
		staleAfter: staleAfter,
		pageSize:   reapPageSize,
		log:        log.With().Str("component", "reaper").Logger(),
	}
}

// Sweep performs one pass and returns how many workers it disconnected.
// Every write is conditional on the worker still being stale, so a sweep is
// idempotent and may race with live authentication.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.clock.Now()
	cutoff := now.Add(-r.staleAfter)

	reaped := 0
	for {
		ids, err := r.workers.FindStale(ctx, cutoff, r.pageSize)
		if err != nil {
			metrics.ReaperRunsTotal.WithLabelValues("error").Inc()
			return reaped, fmt.Errorf("reap: find stale: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		progressed := false
		for _, id := range ids {
			ok, err := r.workers.DisconnectIfStale(ctx, id, cutoff, now)
			if err != nil {
				metrics.ReaperRunsTotal.WithLabelValues("error").Inc()
				return reaped, fmt.Errorf("reap %s: %w", id, err)
			}
			if ok {
				reaped++
				progressed = true
				r.log.Info().Str("worker_id", id).Msg("stale connection cleared")
			}
		}
		// Each page is re-queried from the top; stop when a page is short or
		// produced no writes, so a row that stays stale can't spin the loop.
		if len(ids) < r.pageSize || !progressed {
			break
		}
	}

	metrics.ReaperRunsTotal.WithLabelValues("ok").Inc()
	metrics.ReaperReapedTotal.Add(float64(reaped))
	return reaped, nil
}

// Run sweeps every interval until ctx is cancelled. Errors are logged and the
// next tick tries again.
func (r *Reaper) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultReapInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	r.log.Info().Dur("interval", interval).Dur("stale_after", r.staleAfter).Msg("reaper started")
	for {
		select {
		case <-ctx.Done():
			r.log.Info().Msg("reaper stopped")
			return
		case <-ticker.C:
			n, err := r.Sweep(ctx)
			if err != nil {
				r.log.Error().Err(err).Msg("sweep failed")
				continue
			}
			if n > 0 {
				r.log.Info().Int("reaped", n).Msg("sweep complete")
			}
		}
	}
}
