package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/walletfleet/fleet-gateway/internal/core/credential"
	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/db/memory"
	"github.com/walletfleet/fleet-gateway/internal/pkg/clock"
)

// ---------------------------------------------------------------------------
// Shared fixture: in-memory store, fake clock, cheap bcrypt.
// ---------------------------------------------------------------------------

var epoch = time.Date(2026, 6, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	store *memory.Store
	clock *clock.Fake
	codec *credential.Codec
}

func newFixture() *fixture {
	return &fixture{
		store: memory.New(),
		clock: clock.NewFake(epoch),
		codec: credential.NewCodec(bcrypt.MinCost),
	}
}

// seedWorker stores an active worker whose current token expires in
// expiresIn and returns that token.
func (f *fixture) seedWorker(t *testing.T, id string, expiresIn time.Duration) string {
	t.Helper()
	tok, hash := f.mint(t)
	f.store.Put(&domain.Worker{
		ID:             id,
		Name:           "rig-" + id,
		TokenHash:      hash,
		TokenExpiresAt: f.clock.Now().Add(expiresIn),
		Status:         domain.WorkerActive,
		CreatedAt:      f.clock.Now(),
		UpdatedAt:      f.clock.Now(),
	})
	return tok
}

func (f *fixture) mint(t *testing.T) (token, hash string) {
	t.Helper()
	tok, err := f.codec.NewToken()
	if err != nil {
		t.Fatalf("new token: %v", err)
	}
	h, err := f.codec.Hash(tok)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	return tok, h
}

func (f *fixture) worker(t *testing.T, id string) *domain.Worker {
	t.Helper()
	w, err := f.store.FindByID(context.Background(), id)
	if err != nil {
		t.Fatalf("find %s: %v", id, err)
	}
	return w
}

func (f *fixture) events(id string) []domain.AuditEvent {
	var out []domain.AuditEvent
	for _, e := range f.store.AuditEntries(id) {
		out = append(out, e.Event)
	}
	return out
}

// ---------------------------------------------------------------------------
// Stubs
// ---------------------------------------------------------------------------

type failingAudit struct{ calls int }

func (a *failingAudit) Append(context.Context, *domain.AuditEntry) error {
	a.calls++
	return errors.New("audit unavailable")
}

type failingTelemetryRepo struct{}

func (failingTelemetryRepo) InsertSamples(context.Context, []domain.Sample) error {
	return errors.New("connection reset")
}
