package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/core/credential"
	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
)

func TestEnroll(t *testing.T) {
	f := newFixture()
	svc := NewEnrollService(f.store, f.store, f.codec, f.clock, 0, zerolog.Nop())

	e, err := svc.Enroll(context.Background(), "  rig-alpha  ")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !credential.ValidFormat(e.Token) {
		t.Errorf("malformed first token %q", e.Token)
	}

	w := f.worker(t, e.Worker.ID)
	if w.Name != "rig-alpha" || w.Status != domain.WorkerActive || !w.TokenExpiresAt.Equal(epoch.Add(domain.CredentialValidity)) {
		t.Errorf("unexpected record: %+v", w)
	}
	if got := f.events(w.ID); len(got) != 1 || got[0] != domain.AuditCreated {
		t.Errorf("unexpected audit events: %v", got)
	}

	// The first token authenticates.
	hs := NewHandshakeService(f.store, f.store, f.codec, f.clock, zerolog.Nop())
	if _, err := hs.Authenticate(context.Background(), ports.AuthInput{WorkerID: w.ID, Token: e.Token}); err != nil {
		t.Fatalf("enrolled token rejected: %v", err)
	}
}

func TestEnroll_InvalidName(t *testing.T) {
	f := newFixture()
	svc := NewEnrollService(f.store, f.store, f.codec, f.clock, 0, zerolog.Nop())

	for _, name := range []string{"", "ab", "   ab  ", strings.Repeat("n", 101)} {
		if _, err := svc.Enroll(context.Background(), name); !errors.Is(err, domain.ErrInvalidName) {
			t.Errorf("Enroll(%q): expected ErrInvalidName, got %v", name, err)
		}
	}
}
