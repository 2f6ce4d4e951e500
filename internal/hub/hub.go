// Package hub owns live worker sessions. Each worker identity is served by
// exactly one actor goroutine that serializes every event for that identity:
// handshakes, inbound messages, outward sends and status queries. The
// single-connection rule therefore needs no locks beyond the registry map.
package hub

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/core/protocol"
	"github.com/walletfleet/fleet-gateway/internal/pkg/clock"
)

const (
	DefaultAuthTimeout   = 10 * time.Second
	DefaultTouchInterval = time.Minute
	DefaultStoreTimeout  = 5 * time.Second
	DefaultMailbox       = 16
)

// Conn is a transport the hub can read from.
type Conn interface {
	ports.Transport
	// Read blocks for the next inbound message. It returns
	// ports.ErrTransportTimeout or a context error when ctx ends first.
	Read(ctx context.Context) ([]byte, error)
}

// Config holds the session timings. Zero fields take the defaults.
type Config struct {
	AuthTimeout   time.Duration
	TouchInterval time.Duration
	StoreTimeout  time.Duration
	Mailbox       int
}

func (c Config) withDefaults() Config {
	if c.AuthTimeout <= 0 {
		c.AuthTimeout = DefaultAuthTimeout
	}
	if c.TouchInterval <= 0 {
		c.TouchInterval = DefaultTouchInterval
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = DefaultStoreTimeout
	}
	if c.Mailbox <= 0 {
		c.Mailbox = DefaultMailbox
	}
	return c
}

// Deps are the collaborators every actor uses.
type Deps struct {
	Workers   ports.WorkerRepository
	Handshake ports.HandshakeService
	Rotation  ports.RotationService
	Telemetry ports.TelemetryService
	Clock     clock.Clock
}

type Hub struct {
	deps Deps
	cfg  Config
	reg  *registry
	log  zerolog.Logger

	mu       sync.Mutex
	closing  bool
	stopping chan struct{}
	sessions sync.WaitGroup
}

func New(deps Deps, cfg Config, log zerolog.Logger) *Hub {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	h := &Hub{
		deps: deps,
		cfg:  cfg.withDefaults(),
		log:  log.With().Str("component", "hub").Logger(),

		stopping: make(chan struct{}),
	}
	h.reg = newRegistry(h.newActor)
	return h
}

// Snapshot describes a worker's connection as seen by this process.
type Snapshot struct {
	WorkerID       string              `json:"worker_id"`
	Connected      bool                `json:"connected"`
	RemoteAddr     string              `json:"remote_addr,omitempty"`
	ConnectedSince time.Time           `json:"connected_since,omitempty"`
	Name           string              `json:"name,omitempty"`
	Status         domain.WorkerStatus `json:"status,omitempty"`
	TokenExpiresAt time.Time           `json:"token_expires_at,omitempty"`
	PendingRenewal bool                `json:"pending_renewal"`
	LastSeenAt     time.Time           `json:"last_seen_at,omitempty"`
}

func snapshotOf(id string, w *domain.Worker) Snapshot {
	s := Snapshot{WorkerID: id}
	if w != nil {
		s.Name = w.Name
		s.Status = w.Status
		s.TokenExpiresAt = w.TokenExpiresAt
		s.PendingRenewal = w.HasPending()
		s.LastSeenAt = w.LastSeenAt
	}
	return s
}

// Send delivers payload to the worker's live transport. It returns
// domain.ErrNotConnected when no authenticated session exists here.
func (h *Hub) Send(ctx context.Context, workerID string, payload json.RawMessage) error {
	a := h.reg.lookup(workerID)
	if a == nil {
		return domain.ErrNotConnected
	}
	defer h.reg.release(a)

	var sendErr error
	err := a.call(ctx, func() {
		if a.live == nil || !a.live.conn.Ready() {
			sendErr = domain.ErrNotConnected
			return
		}
		sendErr = a.live.conn.Send(ctx, payload)
	})
	if err != nil {
		return fmt.Errorf("send to %s: %w", workerID, err)
	}
	return sendErr
}

// Status returns the connection snapshot for workerID. Workers without an
// actor are reported from the store as not connected.
func (h *Hub) Status(ctx context.Context, workerID string) (Snapshot, error) {
	if a := h.reg.lookup(workerID); a != nil {
		defer h.reg.release(a)
		var snap Snapshot
		err := a.call(ctx, func() {
			snap = snapshotOf(workerID, a.profile)
			if a.live != nil && a.live.conn.Ready() {
				snap.Connected = true
				snap.RemoteAddr = a.live.conn.RemoteAddr()
				snap.ConnectedSince = a.live.since
			}
		})
		if err == nil {
			return snap, nil
		}
		if !errors.Is(err, errActorStopped) {
			return Snapshot{}, err
		}
	}

	w, err := h.deps.Workers.FindByID(ctx, workerID)
	if err != nil {
		return Snapshot{}, err
	}
	return snapshotOf(workerID, w), nil
}

// Shutdown closes every live transport with 1001 and waits, bounded by ctx,
// for the sessions to unwind through their detach path. Transports handed to
// Serve afterwards are closed immediately.
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.Lock()
	if !h.closing {
		h.closing = true
		close(h.stopping)
	}
	h.mu.Unlock()

	for _, a := range h.reg.all() {
		_ = a.call(ctx, func() {
			if a.live != nil {
				_ = a.live.conn.Close(protocol.CloseGoingAway, "server shutting down")
			}
		})
		h.reg.release(a)
	}

	done := make(chan struct{})
	go func() {
		h.sessions.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		h.log.Warn().Err(ctx.Err()).Msg("sessions still open at shutdown")
	}
}

// track registers a session with the shutdown wait group. It reports false
// once Shutdown has started.
func (h *Hub) track() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closing {
		return false
	}
	h.sessions.Add(1)
	return true
}
