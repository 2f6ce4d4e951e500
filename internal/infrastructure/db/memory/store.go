// Package memory is an in-process implementation of the gateway's durable
// store ports. It backs tests and single-node development runs
// (STORE_DRIVER=memory); state is lost on restart.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
)

// Store implements ports.WorkerRepository, ports.AuditRepository,
// ports.TelemetryRepository and ports.Pinger.
type Store struct {
	mu      sync.RWMutex
	workers map[string]*domain.Worker
	audit   []domain.AuditEntry
	samples []domain.Sample
}

func New() *Store {
	return &Store{workers: make(map[string]*domain.Worker)}
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Create(_ context.Context, w *domain.Worker) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.workers[w.ID]; ok {
		return fmt.Errorf("create worker %s: %w", w.ID, domain.ErrWorkerExists)
	}
	s.workers[w.ID] = w.Clone()
	return nil
}

func (s *Store) FindByID(_ context.Context, id string) (*domain.Worker, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	return w.Clone(), nil
}

// update applies fn to the stored record under the write lock.
func (s *Store) update(id string, fn func(w *domain.Worker) error) (*domain.Worker, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	if err := fn(w); err != nil {
		return nil, err
	}
	return w.Clone(), nil
}

func (s *Store) MarkConnected(_ context.Context, id, ip string, at time.Time) error {
	_, err := s.update(id, func(w *domain.Worker) error {
		w.Connected = true
		w.LastConnectedAt = at
		w.LastSeenAt = at
		w.LastIP = ip
		w.UpdatedAt = at
		return nil
	})
	return err
}

func (s *Store) MarkDisconnected(_ context.Context, id string, at time.Time) error {
	_, err := s.update(id, func(w *domain.Worker) error {
		w.Connected = false
		w.LastDisconnectedAt = at
		w.UpdatedAt = at
		return nil
	})
	return err
}

func (s *Store) Touch(_ context.Context, id string, at time.Time) error {
	_, err := s.update(id, func(w *domain.Worker) error {
		w.Connected = true
		w.LastSeenAt = at
		return nil
	})
	return err
}

func (s *Store) SetPendingCredential(_ context.Context, id string, p domain.PendingCredential) error {
	_, err := s.update(id, func(w *domain.Worker) error {
		if w.HasPending() {
			return domain.ErrRotationInFlight
		}
		pending := p
		w.Pending = &pending
		w.UpdatedAt = p.CreatedAt
		return nil
	})
	return err
}

func (s *Store) PromotePendingCredential(_ context.Context, id string, at time.Time) (*domain.Worker, error) {
	return s.update(id, func(w *domain.Worker) error {
		if !w.HasPending() {
			return domain.ErrNoPendingCredential
		}
		w.TokenHash = w.Pending.Hash
		w.TokenExpiresAt = w.Pending.ExpiresAt
		w.Pending = nil
		if w.Status == domain.WorkerUpdateRequired {
			w.Status = domain.WorkerActive
		}
		w.RenewalFailureReason = ""
		w.RenewalFailedAt = time.Time{}
		w.RenewalRetryCount = 0
		w.UpdatedAt = at
		return nil
	})
}

func (s *Store) RecordRenewalFailure(_ context.Context, id, reason string, at time.Time) (*domain.Worker, error) {
	return s.update(id, func(w *domain.Worker) error {
		if w.Status != domain.WorkerRevoked {
			w.Status = domain.WorkerUpdateRequired
		}
		w.RenewalFailureReason = reason
		w.RenewalFailedAt = at
		w.RenewalRetryCount++
		w.UpdatedAt = at
		return nil
	})
}

func (s *Store) FindStale(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0)
	for id, w := range s.workers {
		if w.IsStale(cutoff) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (s *Store) DisconnectIfStale(_ context.Context, id string, cutoff, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok || !w.IsStale(cutoff) {
		return false, nil
	}
	w.Connected = false
	w.LastDisconnectedAt = at
	w.UpdatedAt = at
	return true, nil
}

func (s *Store) Append(_ context.Context, e *domain.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry := *e
	if e.Metadata != nil {
		entry.Metadata = make(map[string]string, len(e.Metadata))
		for k, v := range e.Metadata {
			entry.Metadata[k] = v
		}
	}
	s.audit = append(s.audit, entry)
	return nil
}

func (s *Store) InsertSamples(_ context.Context, samples []domain.Sample) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, smp := range samples {
		if _, ok := s.workers[smp.WorkerID]; !ok {
			return fmt.Errorf("insert samples: %w", domain.ErrWorkerNotFound)
		}
	}
	s.samples = append(s.samples, samples...)
	return nil
}

// Put stores w as-is, replacing any existing record. Test helper.
func (s *Store) Put(w *domain.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = w.Clone()
}

// SetStatus changes a worker's lifecycle status out of band, the way an
// operator would.
func (s *Store) SetStatus(id string, status domain.WorkerStatus) error {
	_, err := s.update(id, func(w *domain.Worker) error {
		w.Status = status
		return nil
	})
	return err
}

// Delete removes a worker record and its samples.
func (s *Store) Delete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workers, id)
	kept := s.samples[:0]
	for _, smp := range s.samples {
		if smp.WorkerID != id {
			kept = append(kept, smp)
		}
	}
	s.samples = kept
}

// AuditEntries returns a copy of the audit log for workerID, oldest first.
func (s *Store) AuditEntries(workerID string) []domain.AuditEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.AuditEntry
	for _, e := range s.audit {
		if e.WorkerID == workerID {
			out = append(out, e)
		}
	}
	return out
}

// Samples returns a copy of the stored samples for workerID.
func (s *Store) Samples(workerID string) []domain.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Sample
	for _, smp := range s.samples {
		if smp.WorkerID == workerID {
			out = append(out, smp)
		}
	}
	return out
}
