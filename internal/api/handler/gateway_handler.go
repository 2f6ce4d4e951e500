package handler

import (
	"context"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/hub"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/ws"
)

// SessionServer runs one worker session to completion.
type SessionServer interface {
	Serve(ctx context.Context, conn hub.Conn)
}

// GatewayHandler upgrades worker connections and hands them to the hub.
type GatewayHandler struct {
	upgrader *ws.Upgrader
	server   SessionServer
	log      zerolog.Logger
}

func NewGatewayHandler(upgrader *ws.Upgrader, server SessionServer, log zerolog.Logger) *GatewayHandler {
	return &GatewayHandler{
		upgrader: upgrader,
		server:   server,
		log:      log.With().Str("component", "gateway").Logger(),
	}
}

// Connect serves GET /ws. It blocks for the lifetime of the session.
func (h *GatewayHandler) Connect(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), c.RealIP())
	if err != nil {
		// The upgrader has already answered the request.
		h.log.Debug().Err(err).Str("remote_addr", c.RealIP()).Msg("upgrade refused")
		return nil
	}
	h.server.Serve(c.Request().Context(), conn)
	return nil
}
