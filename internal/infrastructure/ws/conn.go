// Package ws adapts gorilla/websocket connections to the hub's transport
// interface: JSON text frames, a read size limit, ping/pong keepalive,
// serialized writes and idempotent close.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/walletfleet/fleet-gateway/internal/core/ports"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10

	// RFC 6455 limits a close frame payload to 125 bytes, two of which
	// carry the code.
	maxCloseReason = 123

	DefaultMaxMessageBytes = 64 << 10
)

var ErrClosed = errors.New("websocket closed")

// Upgrader turns HTTP requests into Conns.
type Upgrader struct {
	up       websocket.Upgrader
	maxBytes int64
}

// NewUpgrader builds an Upgrader. maxMessageBytes <= 0 uses
// DefaultMaxMessageBytes. A nil checkOrigin accepts every origin; workers are
// not browsers.
func NewUpgrader(maxMessageBytes int64, checkOrigin func(*http.Request) bool) *Upgrader {
	if maxMessageBytes <= 0 {
		maxMessageBytes = DefaultMaxMessageBytes
	}
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}
	return &Upgrader{
		up: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		maxBytes: maxMessageBytes,
	}
}

// Upgrade completes the WebSocket handshake. On failure the upgrader has
// already written an HTTP error response.
func (u *Upgrader) Upgrade(w http.ResponseWriter, r *http.Request, remoteAddr string) (*Conn, error) {
	c, err := u.up.Upgrade(w, r, nil)
	if err != nil {
		return nil, fmt.Errorf("websocket upgrade: %w", err)
	}
	return Wrap(c, remoteAddr, u.maxBytes), nil
}

// Conn is a server-side WebSocket implementing hub.Conn.
type Conn struct {
	ws   *websocket.Conn
	addr string

	writeMu   sync.Mutex
	closeOnce sync.Once
	broken    atomic.Bool
	done      chan struct{}
}

// Wrap takes ownership of c and starts its keepalive pinger.
func Wrap(c *websocket.Conn, remoteAddr string, maxMessageBytes int64) *Conn {
	if remoteAddr == "" {
		remoteAddr = c.RemoteAddr().String()
	}
	c.SetReadLimit(maxMessageBytes)
	c.SetPongHandler(func(string) error {
		return c.SetReadDeadline(time.Now().Add(pongWait))
	})
	conn := &Conn{ws: c, addr: remoteAddr, done: make(chan struct{})}
	go conn.keepalive()
	return conn
}

func (c *Conn) RemoteAddr() string { return c.addr }

func (c *Conn) Ready() bool { return !c.broken.Load() }

// Read returns the next data frame. After a timeout or cancellation no
// further frames can be read, but the connection still accepts writes so the
// caller can explain why it is closing. Any other read error leaves the
// connection unusable.
func (c *Conn) Read(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(pongWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetReadDeadline(deadline)
	// Pongs push the deadline out again; cancellation must still win.
	stop := context.AfterFunc(ctx, func() { _ = c.ws.SetReadDeadline(time.Now()) })
	defer stop()

	_, data, err := c.ws.ReadMessage()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, ports.ErrTransportTimeout
		}
		c.broken.Store(true)
		return nil, err
	}
	return data, nil
}

// Send writes msg as one JSON text frame.
func (c *Conn) Send(ctx context.Context, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode frame: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.broken.Load() {
		return ErrClosed
	}
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = c.ws.SetWriteDeadline(deadline)
	if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
		c.broken.Store(true)
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close sends a close frame and tears down the socket. Only the first call
// has any effect.
func (c *Conn) Close(code int, reason string) error {
	var err error
	c.closeOnce.Do(func() {
		if len(reason) > maxCloseReason {
			n := maxCloseReason
			for n > 0 && !utf8.RuneStart(reason[n]) {
				n--
			}
			reason = reason[:n]
		}
		c.broken.Store(true)
		close(c.done)

		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

func (c *Conn) keepalive() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				c.broken.Store(true)
				return
			}
		}
	}
}
