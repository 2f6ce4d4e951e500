package db

import (
	"context"
	"testing"
)

func TestOpen_Memory(t *testing.T) {
	s, err := Open(context.Background(), Config{Driver: DriverMemory})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Workers == nil || s.Audit == nil || s.Telemetry == nil || s.Pinger == nil {
		t.Fatalf("expected all repositories wired, got %+v", s)
	}
	if err := s.Pinger.Ping(context.Background()); err != nil {
		t.Errorf("ping: %v", err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Errorf("close: %v", err)
	}
}

func TestOpen_UnknownDriver(t *testing.T) {
	if _, err := Open(context.Background(), Config{Driver: "cassandra"}); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}
