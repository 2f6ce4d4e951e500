package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/walletfleet/fleet-gateway/internal/core/credential"
	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/core/protocol"
	"github.com/walletfleet/fleet-gateway/internal/core/service"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/db/memory"
	"github.com/walletfleet/fleet-gateway/internal/pkg/clock"
)

var epoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

// countingWorkers counts reads so tests can assert on storage access.
type countingWorkers struct {
	ports.WorkerRepository
	finds atomic.Int32
}

func (c *countingWorkers) FindByID(ctx context.Context, id string) (*domain.Worker, error) {
	c.finds.Add(1)
	return c.WorkerRepository.FindByID(ctx, id)
}

type harness struct {
	store   *memory.Store
	workers *countingWorkers
	clock   *clock.Fake
	codec   *credential.Codec
	hub     *Hub
	ctx     context.Context
}

func newHarness(t *testing.T, cfg Config) *harness {
	t.Helper()
	store := memory.New()
	workers := &countingWorkers{WorkerRepository: store}
	clk := clock.NewFake(epoch)
	codec := credential.NewCodec(bcrypt.MinCost)
	log := zerolog.Nop()

	h := New(Deps{
		Workers:   workers,
		Handshake: service.NewHandshakeService(workers, store, codec, clk, log),
		Rotation:  service.NewRotationService(workers, store, codec, clk, service.RotationPolicy{}, log),
		Telemetry: service.NewTelemetryService(store, clk, 0, log),
		Clock:     clk,
	}, cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return &harness{store: store, workers: workers, clock: clk, codec: codec, hub: h, ctx: ctx}
}

// seed stores an active worker whose token expires in expiresIn.
func (h *harness) seed(t *testing.T, id string, expiresIn time.Duration) string {
	t.Helper()
	tok, hash := h.mint(t)
	h.store.Put(&domain.Worker{
		ID: id, Name: "rig-" + id, TokenHash: hash,
		TokenExpiresAt: epoch.Add(expiresIn), Status: domain.WorkerActive,
		CreatedAt: epoch, UpdatedAt: epoch,
	})
	return tok
}

func (h *harness) mint(t *testing.T) (string, string) {
	t.Helper()
	tok, err := h.codec.NewToken()
	if err != nil {
		t.Fatal(err)
	}
	hash, err := h.codec.Hash(tok)
	if err != nil {
		t.Fatal(err)
	}
	return tok, hash
}

// open starts Serve on a fresh transport without sending anything.
func (h *harness) open(addr string) *fakeConn {
	c := newFakeConn(addr)
	go func() {
		defer close(c.served)
		h.hub.Serve(h.ctx, c)
	}()
	return c
}

// dial opens a transport and sends the auth frame.
func (h *harness) dial(t *testing.T, id, token string) *fakeConn {
	t.Helper()
	c := h.open("10.0.0." + id)
	c.push(t, map[string]string{"type": "auth", "worker_id": id, "token": token})
	return c
}

// login dials and expects auth_ok.
func (h *harness) login(t *testing.T, id, token string) *fakeConn {
	t.Helper()
	c := h.dial(t, id, token)
	c.expect(t, protocol.TypeAuthOK)
	return c
}

func (h *harness) worker(t *testing.T, id string) *domain.Worker {
	t.Helper()
	w, err := h.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find %s: %v", id, err)
	}
	return w
}

func (h *harness) countEvents(id string, ev domain.AuditEvent) int {
	n := 0
	for _, e := range h.store.AuditEntries(id) {
		if e.Event == ev {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

const metricsFrame = `{"type":"metrics","memory":256,"cpu":12.5,"rate":40}`

// ---------------------------------------------------------------------------
// Handshake
// ---------------------------------------------------------------------------

func TestServe_AuthSuccessAndDisconnect(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)

	c := h.dial(t, "1", tok)
	ok := c.expect(t, protocol.TypeAuthOK)
	if ok["worker_id"] != "1" || ok["name"] != "rig-1" || ok["token_expires_at"] == nil || ok["server_time"] == nil {
		t.Errorf("unexpected auth_ok: %v", ok)
	}
	if w := h.worker(t, "1"); !w.Connected || w.LastIP != "10.0.0.1" {
		t.Fatalf("connection not recorded: %+v", w)
	}

	c.hangUp()
	c.waitServed(t)
	if h.worker(t, "1").Connected {
		t.Error("connection flag must be cleared on close")
	}
	waitFor(t, "actor teardown", func() bool { return h.hub.reg.len() == 0 })
}

func TestServe_FirstMessageMustBeAuth(t *testing.T) {
	h := newHarness(t, Config{})
	h.seed(t, "1", 30*24*time.Hour)

	c := h.open("10.0.0.1")
	c.push(t, metricsFrame)
	f := c.expect(t, protocol.TypeAuthError)
	if f.code() != protocol.CodeAuthRequired {
		t.Errorf("expected auth_required, got %v", f)
	}
	c.waitServed(t)
	if code, _ := c.closeInfo(); code != protocol.ClosePolicy {
		t.Errorf("expected close 1008, got %d", code)
	}
}

func TestServe_FormatErrorsSkipStorage(t *testing.T) {
	h := newHarness(t, Config{})
	h.seed(t, "1", 30*24*time.Hour)

	cases := []struct {
		frame string
		code  string
	}{
		{`{"type":"auth","worker_id":"1","token":"letmein"}`, protocol.CodeInvalidFormat},
		{`{"type":"auth","worker_id":"1"}`, protocol.CodeMissingFields},
		{`{"type":"auth","token":"wk1_` + strings.Repeat("a", 43) + `"}`, protocol.CodeMissingFields},
		{`{"type":"auth","worker_id":7,"token":"x"}`, protocol.CodeInvalidFormat},
		{`garbage`, protocol.CodeInvalidMessage},
	}
	for _, tc := range cases {
		c := h.open("10.0.0.9")
		c.push(t, tc.frame)
		if f := c.expect(t, protocol.TypeAuthError); f.code() != tc.code {
			t.Errorf("%s: expected %s, got %v", tc.frame, tc.code, f)
		}
		c.waitServed(t)
	}
	if n := h.workers.finds.Load(); n != 0 {
		t.Errorf("format errors must not touch storage, saw %d reads", n)
	}
	if h.hub.reg.len() != 0 {
		t.Error("format errors must not create actors")
	}
}

func TestServe_AuthTimeout(t *testing.T) {
	h := newHarness(t, Config{AuthTimeout: 30 * time.Millisecond})

	c := h.open("10.0.0.1")
	f := c.expect(t, protocol.TypeAuthError)
	if f.code() != protocol.CodeAuthTimeout {
		t.Errorf("expected auth_timeout, got %v", f)
	}
	c.waitServed(t)
	if code, _ := c.closeInfo(); code != protocol.ClosePolicy {
		t.Errorf("expected close 1008, got %d", code)
	}
}

func TestServe_RejectionsClosePolicy(t *testing.T) {
	h := newHarness(t, Config{})
	h.seed(t, "1", 30*24*time.Hour)
	other, _ := h.mint(t)

	c := h.dial(t, "1", other)
	if f := c.expect(t, protocol.TypeAuthError); f.code() != protocol.CodeInvalidToken {
		t.Errorf("expected invalid_token, got %v", f)
	}
	c.waitServed(t)
	if code, _ := c.closeInfo(); code != protocol.ClosePolicy {
		t.Errorf("expected close 1008, got %d", code)
	}

	c = h.dial(t, "9", other)
	if f := c.expect(t, protocol.TypeAuthError); f.code() != protocol.CodeNotFound {
		t.Errorf("expected not_found, got %v", f)
	}
	c.waitServed(t)
}

// ---------------------------------------------------------------------------
// Single-connection invariant
// ---------------------------------------------------------------------------

func TestServe_SingleConnectionInvariant(t *testing.T) {
	for round := 0; round < 10; round++ {
		h := newHarness(t, Config{})
		tok := h.seed(t, "1", 30*24*time.Hour)

		conns := []*fakeConn{h.open("10.0.0.1"), h.open("10.0.0.2")}
		var wg sync.WaitGroup
		for _, c := range conns {
			wg.Add(1)
			go func(c *fakeConn) {
				defer wg.Done()
				c.push(t, map[string]string{"type": "auth", "worker_id": "1", "token": tok})
			}(c)
		}
		wg.Wait()

		oks, conflicts := 0, 0
		for _, c := range conns {
			f := c.next(t)
			switch {
			case f.typ() == protocol.TypeAuthOK:
				oks++
			case f.typ() == protocol.TypeAuthError && f.code() == protocol.CodeAlreadyConnected:
				conflicts++
			default:
				t.Fatalf("unexpected frame %v", f)
			}
		}
		if oks != 1 || conflicts != 1 {
			t.Fatalf("round %d: expected one auth_ok and one already_connected, got %d/%d", round, oks, conflicts)
		}
		live := 0
		for _, c := range conns {
			if c.Ready() {
				live++
			}
		}
		if live != 1 {
			t.Fatalf("round %d: expected the winner to stay open, %d open", round, live)
		}
	}
}

func TestServe_ConflictLeavesExistingSessionUndisturbed(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)
	first := h.login(t, "1", tok)

	second := h.dial(t, "1", tok)
	if f := second.expect(t, protocol.TypeAuthError); f.code() != protocol.CodeAlreadyConnected {
		t.Fatalf("expected already_connected, got %v", f)
	}
	second.waitServed(t)

	first.push(t, metricsFrame)
	first.expect(t, protocol.TypeMetricsAck)
	if !h.worker(t, "1").Connected {
		t.Error("rejected duplicate must not clear the flag")
	}
}

func TestServe_StaleFlagWithoutLiveSessionIsReconciled(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)
	// Left behind by a crashed process.
	_ = h.store.MarkConnected(context.Background(), "1", "10.9.9.9", epoch.Add(-time.Hour))

	h.login(t, "1", tok)
	if w := h.worker(t, "1"); !w.Connected || w.LastIP != "10.0.0.1" {
		t.Errorf("unexpected record: %+v", w)
	}
}

func TestServe_NewSessionSupersedesWhenFlagCleared(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)
	old := h.login(t, "1", tok)

	// The reaper cleared the flag under the live session.
	_ = h.store.MarkDisconnected(context.Background(), "1", epoch)

	fresh := h.login(t, "1", tok)
	if f := old.expect(t, protocol.TypeError); f.code() != protocol.CodeSuperseded {
		t.Errorf("expected superseded, got %v", f)
	}
	old.waitServed(t)
	if code, _ := old.closeInfo(); code != protocol.ClosePolicy {
		t.Errorf("expected close 1008, got %d", code)
	}
	if !h.worker(t, "1").Connected {
		t.Error("superseded session must not clear the new session's flag")
	}

	fresh.push(t, metricsFrame)
	fresh.expect(t, protocol.TypeMetricsAck)
}

// ---------------------------------------------------------------------------
// Authenticated messages
// ---------------------------------------------------------------------------

func TestServe_MessageDispatch(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)
	c := h.login(t, "1", tok)

	c.push(t, metricsFrame)
	if f := c.expect(t, protocol.TypeMetricsAck); f["received"] != true {
		t.Errorf("unexpected ack: %v", f)
	}

	c.push(t, `{"type":"metrics","memory":1,"cpu":250,"rate":1}`)
	if f := c.expect(t, protocol.TypeMetricsError); f.code() != protocol.CodeInvalidMetrics {
		t.Errorf("expected invalid_metrics, got %v", f)
	}

	c.push(t, `{"type":"auth","worker_id":"1","token":"`+tok+`"}`)
	if f := c.expect(t, protocol.TypeError); f.code() != protocol.CodeAlreadyAuthenticated {
		t.Errorf("expected already_authenticated, got %v", f)
	}

	c.push(t, `{"type":"reboot"}`)
	if f := c.expect(t, protocol.TypeError); f.code() != protocol.CodeUnknownType {
		t.Errorf("expected unknown_type, got %v", f)
	}

	c.push(t, `{"type":"token_renewal_ack","success":true}`)
	if f := c.expect(t, protocol.TypeError); f.code() != protocol.CodeNoPendingRenewal {
		t.Errorf("expected no_pending_renewal, got %v", f)
	}

	c.push(t, `{"type":"token_renewal_ack"}`)
	if f := c.expect(t, protocol.TypeError); f.code() != protocol.CodeInvalidMessage {
		t.Errorf("expected invalid_message, got %v", f)
	}

	// Still authenticated after every error above.
	c.push(t, metricsFrame)
	c.expect(t, protocol.TypeMetricsAck)
	if n := len(h.store.Samples("1")); n != 2 {
		t.Errorf("expected 2 stored samples, got %d", n)
	}
}

func TestServe_BatchAtomicity(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)
	c := h.login(t, "1", tok)

	c.push(t, `{"type":"metrics_batch","metrics":[{"memory":1,"cpu":1,"rate":1},{"memory":1,"cpu":1,"rate":1},{"memory":1,"cpu":"hot","rate":1}]}`)
	if f := c.expect(t, protocol.TypeMetricsError); f.code() != protocol.CodeInvalidBatch {
		t.Errorf("expected invalid_batch, got %v", f)
	}
	if n := len(h.store.Samples("1")); n != 0 {
		t.Fatalf("expected zero rows, got %d", n)
	}

	c.push(t, `{"type":"metrics_batch","metrics":{}}`)
	c.expect(t, protocol.TypeMetricsError)

	c.push(t, `{"type":"metrics_batch","metrics":[{"memory":1,"cpu":1,"rate":1},{"memory":2,"cpu":2,"rate":2}]}`)
	if f := c.expect(t, protocol.TypeMetricsAck); f["count"] != float64(2) {
		t.Errorf("unexpected ack: %v", f)
	}
	if n := len(h.store.Samples("1")); n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}
}

func TestServe_RevocationWithoutReconnect(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)
	c := h.login(t, "1", tok)

	c.push(t, metricsFrame)
	c.expect(t, protocol.TypeMetricsAck)

	_ = h.store.SetStatus("1", domain.WorkerRevoked)
	c.push(t, metricsFrame)
	if f := c.expect(t, protocol.TypeRevoked); f["reason"] == "" {
		t.Errorf("revoked frame needs a reason: %v", f)
	}
	c.waitServed(t)

	if code, _ := c.closeInfo(); code != protocol.ClosePolicy {
		t.Errorf("expected close 1008, got %d", code)
	}
	if n := len(h.store.Samples("1")); n != 1 {
		t.Errorf("no telemetry may be accepted after revocation, got %d rows", n)
	}
	if h.worker(t, "1").Connected {
		t.Error("revocation must clear the connection flag")
	}

	again := h.dial(t, "1", tok)
	if f := again.expect(t, protocol.TypeAuthError); f.code() != protocol.CodeRevoked {
		t.Errorf("expected revoked on reconnect, got %v", f)
	}
}

func TestServe_DeletedWorkerIsRevoked(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)
	c := h.login(t, "1", tok)

	h.store.Delete("1")
	c.push(t, metricsFrame)
	if f := c.expect(t, protocol.TypeRevoked); f["reason"] != "worker deleted" {
		t.Errorf("unexpected revoked frame: %v", f)
	}
	c.waitServed(t)
}

func TestServe_TouchReassertsClearedFlag(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)
	c := h.login(t, "1", tok)

	_ = h.store.MarkDisconnected(context.Background(), "1", epoch)
	h.clock.Advance(10 * time.Second)
	c.push(t, metricsFrame)
	c.expect(t, protocol.TypeMetricsAck)

	// Status queues behind the message, so the touch has happened.
	if _, err := h.hub.Status(context.Background(), "1"); err != nil {
		t.Fatal(err)
	}
	w := h.worker(t, "1")
	if !w.Connected || !w.LastSeenAt.Equal(epoch.Add(10*time.Second)) {
		t.Errorf("flag not re-asserted: %+v", w)
	}
}

func TestServe_TouchIsThrottled(t *testing.T) {
	h := newHarness(t, Config{TouchInterval: time.Minute})
	tok := h.seed(t, "1", 30*24*time.Hour)
	c := h.login(t, "1", tok)

	h.clock.Advance(30 * time.Second)
	c.push(t, metricsFrame)
	c.expect(t, protocol.TypeMetricsAck)
	_, _ = h.hub.Status(context.Background(), "1")
	if got := h.worker(t, "1").LastSeenAt; !got.Equal(epoch) {
		t.Errorf("touch inside the interval must be skipped, last_seen_at=%v", got)
	}

	h.clock.Advance(31 * time.Second)
	c.push(t, metricsFrame)
	c.expect(t, protocol.TypeMetricsAck)
	_, _ = h.hub.Status(context.Background(), "1")
	if got := h.worker(t, "1").LastSeenAt; !got.Equal(epoch.Add(61 * time.Second)) {
		t.Errorf("expected last_seen_at to advance, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Rotation
// ---------------------------------------------------------------------------

func TestServe_RotationIdempotence(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 3*24*time.Hour)
	c := h.login(t, "1", tok)
	c.expect(t, protocol.TypeTokenRenewal)

	for i := 0; i < 5; i++ {
		c.push(t, metricsFrame)
		c.expect(t, protocol.TypeMetricsAck)
	}
	c.expectSilence(t)

	if n := h.countEvents("1", domain.AuditRenewalAttempt); n != 1 {
		t.Errorf("expected one renewal_attempt, got %d", n)
	}
}

func TestServe_DualCredentialAcceptance(t *testing.T) {
	h := newHarness(t, Config{})
	t1 := h.seed(t, "1", 3*24*time.Hour)
	c := h.login(t, "1", t1)
	t2 := c.expect(t, protocol.TypeTokenRenewal)["new_token"].(string)
	c.hangUp()
	c.waitServed(t)

	c = h.login(t, "1", t1)
	c.expectSilence(t) // pending already in flight
	c.hangUp()
	c.waitServed(t)

	c = h.login(t, "1", t2)
	c.hangUp()
	c.waitServed(t)

	t3, _ := h.mint(t)
	c = h.dial(t, "1", t3)
	if f := c.expect(t, protocol.TypeAuthError); f.code() != protocol.CodeInvalidToken {
		t.Errorf("expected invalid_token for an unrelated token, got %v", f)
	}
}

func TestServe_RenewalFailureKeepsSession(t *testing.T) {
	h := newHarness(t, Config{})
	t1 := h.seed(t, "1", 3*24*time.Hour)
	c := h.login(t, "1", t1)
	c.expect(t, protocol.TypeTokenRenewal)

	c.push(t, `{"type":"token_renewal_ack","success":false,"error":"keystore locked"}`)
	c.push(t, metricsFrame)
	c.expect(t, protocol.TypeMetricsAck)

	w := h.worker(t, "1")
	if w.Status != domain.WorkerUpdateRequired || w.RenewalRetryCount != 1 || w.RenewalFailureReason != "keystore locked" {
		t.Errorf("failure not recorded: %+v", w)
	}
	if !w.HasPending() {
		t.Error("pending credential must survive a failed ack")
	}
	c.expectSilence(t)
}

func TestServe_EndToEndRotation(t *testing.T) {
	h := newHarness(t, Config{})
	t1 := h.seed(t, "w1", 3*24*time.Hour)

	c := h.login(t, "w1", t1)
	renewal := c.expect(t, protocol.TypeTokenRenewal)
	t2 := renewal["new_token"].(string)
	exp, err := time.Parse(time.RFC3339, renewal["expires_at"].(string))
	if err != nil || !exp.Equal(epoch.Add(domain.CredentialValidity)) {
		t.Fatalf("unexpected expires_at %v (%v)", renewal["expires_at"], err)
	}

	c.push(t, `{"type":"token_renewal_ack","success":true}`)
	c.push(t, metricsFrame)
	c.expect(t, protocol.TypeMetricsAck)
	c.expectSilence(t)
	c.hangUp()
	c.waitServed(t)

	c = h.dial(t, "w1", t1)
	if f := c.expect(t, protocol.TypeAuthError); f.code() != protocol.CodeInvalidToken {
		t.Fatalf("old token must fail after promotion, got %v", f)
	}
	c.waitServed(t)

	c = h.login(t, "w1", t2)
	c.expectSilence(t)

	if n := h.countEvents("w1", domain.AuditRenewed); n != 1 {
		t.Errorf("expected one renewed entry, got %d", n)
	}
}

// ---------------------------------------------------------------------------
// Outward operations
// ---------------------------------------------------------------------------

func TestHub_SendAndStatus(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)
	h.seed(t, "2", 30*24*time.Hour)

	if err := h.hub.Send(context.Background(), "1", json.RawMessage(`{"type":"x"}`)); !errors.Is(err, domain.ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected before auth, got %v", err)
	}

	c := h.login(t, "1", tok)
	if err := h.hub.Send(context.Background(), "1", json.RawMessage(`{"type":"start_engine","threads":4}`)); err != nil {
		t.Fatalf("send: %v", err)
	}
	if f := c.expect(t, "start_engine"); f["threads"] != float64(4) {
		t.Errorf("payload not delivered verbatim: %v", f)
	}

	snap, err := h.hub.Status(context.Background(), "1")
	if err != nil {
		t.Fatal(err)
	}
	if !snap.Connected || snap.RemoteAddr != "10.0.0.1" || snap.Name != "rig-1" || snap.Status != domain.WorkerActive {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	snap, err = h.hub.Status(context.Background(), "2")
	if err != nil || snap.Connected || snap.Name != "rig-2" {
		t.Errorf("offline worker snapshot: %+v, %v", snap, err)
	}
	if _, err := h.hub.Status(context.Background(), "nope"); !errors.Is(err, domain.ErrWorkerNotFound) {
		t.Errorf("expected ErrWorkerNotFound, got %v", err)
	}

	c.hangUp()
	c.waitServed(t)
	if snap, _ := h.hub.Status(context.Background(), "1"); snap.Connected {
		t.Error("snapshot must report disconnected after close")
	}
}

func TestHub_Shutdown(t *testing.T) {
	h := newHarness(t, Config{})
	tok := h.seed(t, "1", 30*24*time.Hour)
	c := h.login(t, "1", tok)

	h.hub.Shutdown(context.Background())
	// Shutdown returns only after the session has detached.
	if h.worker(t, "1").Connected {
		t.Error("shutdown must clear the connection flag before returning")
	}
	c.waitServed(t)
	if code, _ := c.closeInfo(); code != protocol.CloseGoingAway {
		t.Errorf("expected close 1001, got %d", code)
	}

	late := h.open("10.0.0.9")
	late.waitServed(t)
	if code, _ := late.closeInfo(); code != protocol.CloseGoingAway {
		t.Errorf("transport served after shutdown: expected close 1001, got %d", code)
	}
}

func TestHub_ShutdownDoesNotWaitForUnauthenticated(t *testing.T) {
	h := newHarness(t, Config{AuthTimeout: time.Minute})
	c := h.open("10.0.0.7")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	start := time.Now()
	h.hub.Shutdown(ctx)
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("shutdown waited %s for a transport that never authenticated", elapsed)
	}

	c.waitServed(t)
	if code, _ := c.closeInfo(); code != protocol.CloseGoingAway {
		t.Errorf("expected close 1001, got %d", code)
	}
	if len(c.out) != 0 {
		t.Errorf("expected no frames, got %d", len(c.out))
	}
}
