package ports

import (
	"context"
	"errors"
)

// ErrTransportTimeout is returned by a transport read whose deadline passed.
var ErrTransportTimeout = errors.New("transport read timeout")

// Transport is the server side of one bidirectional message link.
type Transport interface {
	// Send encodes msg as JSON and writes it as one message.
	Send(ctx context.Context, msg any) error
	// Close sends a close frame with code and reason and releases the link.
	// Calling Close more than once is a no-op.
	Close(code int, reason string) error
	RemoteAddr() string
	// Ready reports whether the link can still carry messages.
	Ready() bool
}

// Pinger is implemented by dependencies checked by the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}
