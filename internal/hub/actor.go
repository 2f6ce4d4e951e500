package hub

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/core/protocol"
	"github.com/walletfleet/fleet-gateway/internal/metrics"
)

var errActorStopped = errors.New("actor stopped")

// session is one transport attached to an actor.
type session struct {
	conn  Conn
	since time.Time
}

// actor serializes all work for one worker identity. Fields below the
// mailbox are touched only from the run goroutine.
type actor struct {
	id      string
	hub     *Hub
	log     zerolog.Logger
	mailbox chan func()
	quit    chan struct{}
	done    chan struct{}
	refs    int // guarded by registry.mu

	profile   *domain.Worker
	live      *session
	lastTouch time.Time
}

func (h *Hub) newActor(id string) *actor {
	return &actor{
		id:      id,
		hub:     h,
		log:     h.log.With().Str("worker_id", id).Logger(),
		mailbox: make(chan func(), h.cfg.Mailbox),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (a *actor) run() {
	defer close(a.done)
	a.initialize()
	for {
		select {
		case job := <-a.mailbox:
			a.exec(job)
		case <-a.quit:
			return
		}
	}
}

// initialize loads the persisted record before any mailbox item runs. A
// failure leaves the cache empty; every message reloads the record anyway.
func (a *actor) initialize() {
	ctx, cancel := context.WithTimeout(context.Background(), a.hub.cfg.StoreTimeout)
	defer cancel()
	w, err := a.hub.deps.Workers.FindByID(ctx, a.id)
	if err != nil {
		if !errors.Is(err, domain.ErrWorkerNotFound) {
			a.log.Warn().Err(err).Msg("failed to load worker profile")
		}
		return
	}
	a.profile = w
}

func (a *actor) exec(job func()) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error().Interface("panic", r).Msg("actor job panicked")
		}
	}()
	job()
}

// call runs fn on the actor goroutine and waits for it to finish. Once fn is
// enqueued the wait ignores ctx, so a dispatched job is never abandoned
// half way.
func (a *actor) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	job := func() {
		defer close(done)
		fn()
	}
	select {
	case a.mailbox <- job:
	case <-a.done:
		return errActorStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-a.done:
		return errActorStopped
	}
}

// storeCtx bounds a durable write. The write survives cancellation of the
// transport's context.
func (a *actor) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), a.hub.cfg.StoreTimeout)
}

// authenticate runs the handshake for s. It reports whether s is now the
// live session; on false the transport has already been answered and closed.
func (a *actor) authenticate(ctx context.Context, s *session, req protocol.AuthRequest) bool {
	if ctx.Err() != nil {
		a.rejectAuth(s, context.DeadlineExceeded)
		return false
	}

	liveReady := a.live != nil && a.live.conn.Ready()
	if a.live != nil && !liveReady {
		// The old transport died without its session noticing yet.
		a.live = nil
		metrics.ConnectionsActive.Dec()
	}

	hctx, cancel := context.WithTimeout(ctx, a.hub.cfg.StoreTimeout)
	defer cancel()
	res, err := a.hub.deps.Handshake.Authenticate(hctx, ports.AuthInput{
		WorkerID:    a.id,
		Token:       req.Token,
		RemoteAddr:  s.conn.RemoteAddr(),
		LiveSession: liveReady,
	})
	if err != nil {
		a.rejectAuth(s, err)
		return false
	}

	if a.live != nil {
		// The durable flag was cleared under a live session (by the reaper
		// or another process); the new transport takes over.
		old := a.live
		_ = old.conn.Send(ctx, protocol.NewError(protocol.CodeSuperseded, "a newer connection authenticated for this worker"))
		_ = old.conn.Close(protocol.ClosePolicy, "superseded")
		a.live = nil
		metrics.ConnectionsActive.Dec()
		a.log.Warn().Str("old_addr", old.conn.RemoteAddr()).Msg("live session superseded")
	}

	now := a.hub.deps.Clock.Now()
	s.since = now
	a.live = s
	a.profile = res.Worker
	a.lastTouch = now
	metrics.ConnectionsActive.Inc()
	metrics.AuthAttemptsTotal.WithLabelValues("ok").Inc()

	w := res.Worker
	if err := s.conn.Send(ctx, protocol.NewAuthOK(w.ID, w.Name, w.TokenExpiresAt, now)); err != nil {
		a.log.Warn().Err(err).Msg("failed to send auth_ok")
		return false
	}
	a.log.Info().
		Str("remote_addr", s.conn.RemoteAddr()).
		Str("credential", string(res.Slot)).
		Bool("reconciled", res.Reconciled).
		Msg("worker authenticated")

	sctx, scancel := a.storeCtx(ctx)
	defer scancel()
	a.rotate(sctx, s, w)
	return true
}

func (a *actor) rejectAuth(s *session, err error) {
	code, closeCode := authErrorCode(err)
	metrics.AuthAttemptsTotal.WithLabelValues(code).Inc()

	msg := err.Error()
	if closeCode == protocol.CloseInternalError {
		msg = "authentication temporarily unavailable"
		a.log.Error().Err(err).Msg("handshake failed")
	} else {
		a.log.Info().Str("code", code).Str("remote_addr", s.conn.RemoteAddr()).Msg("handshake rejected")
	}
	_ = s.conn.Send(context.Background(), protocol.NewAuthError(code, msg))
	_ = s.conn.Close(closeCode, code)
}

func authErrorCode(err error) (code string, closeCode int) {
	switch {
	case errors.Is(err, domain.ErrMissingFields):
		return protocol.CodeMissingFields, protocol.ClosePolicy
	case errors.Is(err, domain.ErrInvalidTokenFormat):
		return protocol.CodeInvalidFormat, protocol.ClosePolicy
	case errors.Is(err, domain.ErrWorkerNotFound):
		return protocol.CodeNotFound, protocol.ClosePolicy
	case errors.Is(err, domain.ErrAlreadyConnected):
		return protocol.CodeAlreadyConnected, protocol.ClosePolicy
	case errors.Is(err, domain.ErrWorkerRevoked):
		return protocol.CodeRevoked, protocol.ClosePolicy
	case errors.Is(err, domain.ErrCredentialMismatch):
		return protocol.CodeInvalidToken, protocol.ClosePolicy
	case errors.Is(err, domain.ErrCredentialExpired):
		return protocol.CodeTokenExpired, protocol.ClosePolicy
	case errors.Is(err, context.DeadlineExceeded):
		return protocol.CodeAuthTimeout, protocol.ClosePolicy
	default:
		return protocol.CodeInternal, protocol.CloseInternalError
	}
}

// handle processes one message from an authenticated session. It reports
// whether the session should keep reading.
func (a *actor) handle(ctx context.Context, s *session, raw []byte) bool {
	if a.live != s {
		return false
	}
	sctx, cancel := a.storeCtx(ctx)
	defer cancel()

	// Status is re-read on every message so revocation needs no reconnect.
	w, err := a.hub.deps.Workers.FindByID(sctx, a.id)
	switch {
	case errors.Is(err, domain.ErrWorkerNotFound):
		a.revoke(sctx, s, "worker deleted")
		return false
	case err != nil:
		a.log.Error().Err(err).Msg("failed to reload worker")
		a.reply(ctx, s, protocol.NewError(protocol.CodeInternal, "temporarily unavailable"))
		return true
	case w.IsRevoked():
		a.revoke(sctx, s, "worker revoked")
		return false
	}
	a.profile = w

	typ, err := protocol.DecodeType(raw)
	if err != nil {
		a.reply(ctx, s, protocol.NewError(protocol.CodeInvalidMessage, "message must be a JSON object with a type"))
		return true
	}
	start := time.Now()
	defer func() {
		metrics.MessageHandleDuration.WithLabelValues(metricType(typ)).Observe(time.Since(start).Seconds())
	}()

	switch typ {
	case protocol.TypeMetrics:
		n, err := a.hub.deps.Telemetry.IngestOne(sctx, a.id, raw)
		a.replyIngest(ctx, s, n, err, false)
	case protocol.TypeMetricsBatch:
		var batch protocol.MetricsBatch
		if err := json.Unmarshal(raw, &batch); err != nil {
			a.reply(ctx, s, protocol.NewMetricsError(protocol.CodeInvalidBatch, "metrics must be an array"))
			break
		}
		n, err := a.hub.deps.Telemetry.IngestBatch(sctx, a.id, batch.Metrics)
		a.replyIngest(ctx, s, n, err, true)
	case protocol.TypeRenewalAck:
		if updated := a.acknowledge(ctx, sctx, s, w, raw); updated != nil {
			w = updated
			a.profile = updated
		}
	case protocol.TypeAuth:
		a.reply(ctx, s, protocol.NewError(protocol.CodeAlreadyAuthenticated, "session is already authenticated"))
	default:
		a.reply(ctx, s, protocol.NewError(protocol.CodeUnknownType, "unknown message type"))
	}

	a.touch(sctx, w)
	a.rotate(sctx, s, w)
	return true
}

func (a *actor) replyIngest(ctx context.Context, s *session, n int, err error, batch bool) {
	switch {
	case err == nil:
		if !batch {
			n = 0
		}
		a.reply(ctx, s, protocol.NewMetricsAck(n))
	case errors.Is(err, domain.ErrInvalidBatch):
		a.reply(ctx, s, protocol.NewMetricsError(protocol.CodeInvalidBatch, err.Error()))
	case errors.Is(err, domain.ErrInvalidSample):
		a.reply(ctx, s, protocol.NewMetricsError(protocol.CodeInvalidMetrics, err.Error()))
	default:
		a.log.Error().Err(err).Msg("failed to store telemetry")
		a.reply(ctx, s, protocol.NewMetricsError(protocol.CodeStorageError, "failed to store telemetry"))
	}
}

func (a *actor) acknowledge(ctx, sctx context.Context, s *session, w *domain.Worker, raw []byte) *domain.Worker {
	var ack protocol.RenewalAck
	if err := json.Unmarshal(raw, &ack); err != nil || ack.Success == nil {
		a.reply(ctx, s, protocol.NewError(protocol.CodeInvalidMessage, "token_renewal_ack requires a boolean success field"))
		return nil
	}
	updated, err := a.hub.deps.Rotation.Acknowledge(sctx, w, *ack.Success, ack.Error)
	switch {
	case errors.Is(err, domain.ErrNoPendingCredential):
		a.reply(ctx, s, protocol.NewError(protocol.CodeNoPendingRenewal, "no token renewal is pending"))
		return nil
	case err != nil:
		a.log.Error().Err(err).Msg("failed to apply renewal ack")
		a.reply(ctx, s, protocol.NewError(protocol.CodeInternal, "failed to apply renewal acknowledgment"))
		return nil
	}
	return updated
}

// touch refreshes last_seen_at at most once per touch interval, and at once
// when the durable flag was cleared under this live session.
func (a *actor) touch(ctx context.Context, w *domain.Worker) {
	now := a.hub.deps.Clock.Now()
	if w.Connected && now.Sub(a.lastTouch) < a.hub.cfg.TouchInterval {
		return
	}
	if err := a.hub.deps.Workers.Touch(ctx, a.id, now); err != nil {
		a.log.Warn().Err(err).Msg("failed to refresh last_seen_at")
		return
	}
	a.lastTouch = now
}

// rotate runs the renewal check and pushes a freshly issued token.
func (a *actor) rotate(ctx context.Context, s *session, w *domain.Worker) {
	r, err := a.hub.deps.Rotation.Check(ctx, w)
	if err != nil {
		a.log.Error().Err(err).Msg("rotation check failed")
		return
	}
	if r == nil {
		return
	}
	if err := s.conn.Send(ctx, protocol.NewTokenRenewal(r.Token, r.ExpiresAt)); err != nil {
		a.log.Warn().Err(err).Msg("failed to push token_renewal")
	}
}

func (a *actor) revoke(ctx context.Context, s *session, reason string) {
	_ = s.conn.Send(ctx, protocol.NewRevoked(reason))
	_ = s.conn.Close(protocol.ClosePolicy, reason)
	a.live = nil
	metrics.ConnectionsActive.Dec()
	if err := a.hub.deps.Workers.MarkDisconnected(ctx, a.id, a.hub.deps.Clock.Now()); err != nil && !errors.Is(err, domain.ErrWorkerNotFound) {
		a.log.Warn().Err(err).Msg("failed to clear connection flag")
	}
	a.log.Info().Str("reason", reason).Msg("session revoked")
}

// detach runs when s's read loop ends. Only the live session clears the
// durable flag; a superseded or rejected session leaves it alone.
func (a *actor) detach(ctx context.Context, s *session) {
	if a.live != s {
		return
	}
	a.live = nil
	metrics.ConnectionsActive.Dec()
	_ = s.conn.Close(protocol.CloseNormal, "")

	sctx, cancel := a.storeCtx(ctx)
	defer cancel()
	if err := a.hub.deps.Workers.MarkDisconnected(sctx, a.id, a.hub.deps.Clock.Now()); err != nil && !errors.Is(err, domain.ErrWorkerNotFound) {
		a.log.Warn().Err(err).Msg("failed to clear connection flag")
	}
	a.log.Info().Msg("worker disconnected")
}

func (a *actor) reply(ctx context.Context, s *session, msg any) {
	if err := s.conn.Send(ctx, msg); err != nil {
		a.log.Debug().Err(err).Msg("reply failed")
	}
}

// metricType bounds label cardinality to the known message types.
func metricType(t string) string {
	switch t {
	case protocol.TypeMetrics, protocol.TypeMetricsBatch, protocol.TypeRenewalAck, protocol.TypeAuth:
		return t
	default:
		return "other"
	}
}
