package hub

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/core/protocol"
	"github.com/walletfleet/fleet-gateway/internal/core/service"
	"github.com/walletfleet/fleet-gateway/internal/metrics"
)

// Serve drives one transport from its first message until it closes. It
// returns when the transport is done; the caller owns nothing afterwards.
func (h *Hub) Serve(ctx context.Context, conn Conn) {
	if !h.track() {
		_ = conn.Close(protocol.CloseGoingAway, "server shutting down")
		return
	}
	defer h.sessions.Done()

	log := h.log.With().Str("remote_addr", conn.RemoteAddr()).Logger()

	raw, err := h.readFirst(ctx, conn)
	if err != nil {
		switch {
		case errors.Is(err, errHubStopping):
			_ = conn.Close(protocol.CloseGoingAway, "server shutting down")
		case isTimeout(err) && ctx.Err() == nil:
			h.refuse(conn, protocol.CodeAuthTimeout, "no auth message received")
		default:
			_ = conn.Close(protocol.CloseNormal, "")
		}
		return
	}

	// The handshake must complete within AuthTimeout of the first message.
	authCtx, cancel := context.WithTimeout(ctx, h.cfg.AuthTimeout)
	defer cancel()

	req, ok := h.decodeAuth(conn, raw)
	if !ok {
		return
	}

	a := h.reg.acquire(req.WorkerID)
	defer h.reg.release(a)

	s := &session{conn: conn}
	defer func() {
		_ = a.call(context.Background(), func() { a.detach(ctx, s) })
	}()

	var authed bool
	if err := a.call(authCtx, func() { authed = a.authenticate(authCtx, s, req) }); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			h.refuse(conn, protocol.CodeAuthTimeout, "authentication timed out")
		} else {
			_ = conn.Close(protocol.CloseInternalError, protocol.CodeInternal)
		}
		return
	}
	if !authed {
		return
	}

	for {
		raw, err := conn.Read(ctx)
		if err != nil {
			if !errors.Is(err, context.Canceled) {
				log.Debug().Err(err).Str("worker_id", req.WorkerID).Msg("transport read ended")
			}
			return
		}
		keep := false
		if err := a.call(ctx, func() { keep = a.handle(ctx, s, raw) }); err != nil || !keep {
			return
		}
	}
}

// decodeAuth applies the storage-free checks to the first message and
// refuses the transport when they fail.
func (h *Hub) decodeAuth(conn Conn, raw []byte) (protocol.AuthRequest, bool) {
	var req protocol.AuthRequest

	typ, err := protocol.DecodeType(raw)
	if err != nil {
		h.refuse(conn, protocol.CodeInvalidMessage, "message must be a JSON object with a type")
		return req, false
	}
	if typ != protocol.TypeAuth {
		h.refuse(conn, protocol.CodeAuthRequired, "first message must be auth")
		return req, false
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		h.refuse(conn, protocol.CodeInvalidFormat, "malformed auth message")
		return req, false
	}
	if err := service.CheckAuthFormat(req.WorkerID, req.Token); err != nil {
		code := protocol.CodeInvalidFormat
		if errors.Is(err, domain.ErrMissingFields) {
			code = protocol.CodeMissingFields
		}
		h.refuse(conn, code, err.Error())
		return req, false
	}
	return req, true
}

func (h *Hub) refuse(conn Conn, code, message string) {
	metrics.AuthAttemptsTotal.WithLabelValues(code).Inc()
	h.log.Info().Str("remote_addr", conn.RemoteAddr()).Str("code", code).Msg("transport refused before authentication")
	_ = conn.Send(context.Background(), protocol.NewAuthError(code, message))
	_ = conn.Close(protocol.ClosePolicy, code)
}

var errHubStopping = errors.New("hub stopping")

// readFirst waits up to AuthTimeout for the opening message. Shutdown cuts
// the wait short.
func (h *Hub) readFirst(ctx context.Context, conn Conn) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.AuthTimeout)
	defer cancel()
	stopped := make(chan struct{})
	go func() {
		select {
		case <-h.stopping:
			close(stopped)
			cancel()
		case <-ctx.Done():
		}
	}()

	raw, err := conn.Read(ctx)
	if err != nil {
		select {
		case <-stopped:
			return nil, errHubStopping
		default:
		}
	}
	return raw, err
}

func isTimeout(err error) bool {
	return errors.Is(err, ports.ErrTransportTimeout) || errors.Is(err, context.DeadlineExceeded)
}
