package hub

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"
)

var errFakeClosed = errors.New("fake transport closed")

// fakeConn is an in-memory transport. Tests push inbound frames with push
// and read outbound frames with expect.
type fakeConn struct {
	addr string
	in   chan []byte
	out  chan []byte

	mu          sync.Mutex
	closed      bool
	closeCode   int
	closeReason string
	closedCh    chan struct{}

	served chan struct{}
}

func newFakeConn(addr string) *fakeConn {
	return &fakeConn{
		addr:     addr,
		in:       make(chan []byte, 16),
		out:      make(chan []byte, 64),
		closedCh: make(chan struct{}),
		served:   make(chan struct{}),
	}
}

func (c *fakeConn) Read(ctx context.Context) ([]byte, error) {
	select {
	case m, ok := <-c.in:
		if !ok {
			return nil, io.EOF
		}
		return m, nil
	case <-c.closedCh:
		return nil, errFakeClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *fakeConn) Send(_ context.Context, msg any) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errFakeClosed
	}
	c.out <- b
	return nil
}

func (c *fakeConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.closeCode = code
	c.closeReason = reason
	close(c.closedCh)
	return nil
}

func (c *fakeConn) RemoteAddr() string { return c.addr }

func (c *fakeConn) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *fakeConn) closeInfo() (int, string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCode, c.closeReason
}

// push sends a client frame.
func (c *fakeConn) push(t *testing.T, v any) {
	t.Helper()
	var b []byte
	switch m := v.(type) {
	case string:
		b = []byte(m)
	default:
		var err error
		if b, err = json.Marshal(v); err != nil {
			t.Fatalf("marshal frame: %v", err)
		}
	}
	c.in <- b
}

// hangUp simulates the client closing its side.
func (c *fakeConn) hangUp() { close(c.in) }

type frame map[string]any

func (f frame) typ() string  { s, _ := f["type"].(string); return s }
func (f frame) code() string { s, _ := f["code"].(string); return s }

// expect waits for the next server frame and checks its type.
func (c *fakeConn) expect(t *testing.T, typ string) frame {
	t.Helper()
	select {
	case b := <-c.out:
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode server frame %s: %v", b, err)
		}
		if f.typ() != typ {
			t.Fatalf("expected %q frame, got %s", typ, b)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q frame", typ)
		return nil
	}
}

// next waits for any server frame.
func (c *fakeConn) next(t *testing.T) frame {
	t.Helper()
	select {
	case b := <-c.out:
		var f frame
		if err := json.Unmarshal(b, &f); err != nil {
			t.Fatalf("decode server frame %s: %v", b, err)
		}
		return f
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a server frame")
		return nil
	}
}

// expectSilence asserts no frame arrives for a short while.
func (c *fakeConn) expectSilence(t *testing.T) {
	t.Helper()
	select {
	case b := <-c.out:
		t.Fatalf("unexpected server frame %s", b)
	case <-time.After(50 * time.Millisecond):
	}
}

func (c *fakeConn) waitServed(t *testing.T) {
	t.Helper()
	select {
	case <-c.served:
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
}
