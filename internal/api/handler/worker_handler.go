package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/hub"
)

// maxCommandBytes caps an operator message body.
const maxCommandBytes = 64 << 10

// WorkerGateway is the hub surface the operator API uses.
type WorkerGateway interface {
	Send(ctx context.Context, workerID string, payload json.RawMessage) error
	Status(ctx context.Context, workerID string) (hub.Snapshot, error)
}

// CommandPublisher fans a message out to other gateway instances.
type CommandPublisher interface {
	Publish(ctx context.Context, workerID string, payload json.RawMessage) error
}

type WorkerHandler struct {
	gateway WorkerGateway
	relay   CommandPublisher
}

// NewWorkerHandler builds the operator handler. relay may be nil, in which
// case messages for workers not connected here fail with 409.
func NewWorkerHandler(gateway WorkerGateway, relay CommandPublisher) *WorkerHandler {
	return &WorkerHandler{gateway: gateway, relay: relay}
}

func (h *WorkerHandler) bindWorker(c echo.Context) (string, error) {
	var p workerParam
	if err := (&echo.DefaultBinder{}).BindPathParams(c, &p); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, "invalid worker id")
	}
	if err := c.Validate(&p); err != nil {
		return "", echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return p.ID, nil
}

// Connection reports whether a worker holds a live session on this instance.
//
//	GET /v1/workers/:id/connection
func (h *WorkerHandler) Connection(c echo.Context) error {
	id, err := h.bindWorker(c)
	if err != nil {
		return err
	}
	snap, err := h.gateway.Status(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, snap)
}

// SendMessage delivers the request body, a JSON object, to the worker.
//
//	POST /v1/workers/:id/messages
func (h *WorkerHandler) SendMessage(c echo.Context) error {
	id, err := h.bindWorker(c)
	if err != nil {
		return err
	}
	payload, err := readObject(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx := c.Request().Context()
	err = h.gateway.Send(ctx, id, payload)
	switch {
	case err == nil:
		return c.JSON(http.StatusAccepted, sendResponse{WorkerID: id, Delivery: deliveryDirect})
	case errors.Is(err, domain.ErrNotConnected) && h.relay != nil:
		if err := h.relay.Publish(ctx, id, payload); err != nil {
			return fmt.Errorf("relay message: %w", err)
		}
		return c.JSON(http.StatusAccepted, sendResponse{WorkerID: id, Delivery: deliveryRelayed})
	default:
		return err
	}
}

func readObject(r io.Reader) (json.RawMessage, error) {
	body, err := io.ReadAll(io.LimitReader(r, maxCommandBytes+1))
	if err != nil {
		return nil, errors.New("unreadable body")
	}
	if len(body) > maxCommandBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", maxCommandBytes)
	}
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' || !json.Valid(body) {
		return nil, errors.New("body must be a JSON object")
	}
	return json.RawMessage(body), nil
}
