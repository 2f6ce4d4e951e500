package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestSweep_ReapsOnlyStale(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.seedWorker(t, "six", time.Hour)
	f.seedWorker(t, "four", time.Hour)
	f.seedWorker(t, "idle", time.Hour)
	_ = f.store.MarkConnected(ctx, "six", "", epoch.Add(-6*time.Minute))
	_ = f.store.MarkConnected(ctx, "four", "", epoch.Add(-4*time.Minute))

	r := NewReaper(f.store, f.clock, 0, zerolog.Nop())
	n, err := r.Sweep(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 reaped, got %d", n)
	}
	if w := f.worker(t, "six"); w.Connected || !w.LastDisconnectedAt.Equal(epoch) {
		t.Errorf("six-minute worker not reaped: %+v", w)
	}
	if !f.worker(t, "four").Connected {
		t.Error("four-minute worker must be untouched")
	}

	// Idempotent.
	if n, _ := r.Sweep(ctx); n != 0 {
		t.Errorf("second sweep reaped %d", n)
	}
}

func TestSweep_UsesLastSeen(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	f.seedWorker(t, "w1", time.Hour)
	_ = f.store.MarkConnected(ctx, "w1", "", epoch.Add(-time.Hour))
	_ = f.store.Touch(ctx, "w1", epoch.Add(-time.Minute))

	n, _ := NewReaper(f.store, f.clock, 0, zerolog.Nop()).Sweep(ctx)
	if n != 0 || !f.worker(t, "w1").Connected {
		t.Fatal("a recently seen session must not be reaped")
	}
}

func TestSweep_Pages(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	for i := 0; i < 7; i++ {
		id := fmt.Sprintf("w%d", i)
		f.seedWorker(t, id, time.Hour)
		_ = f.store.MarkConnected(ctx, id, "", epoch.Add(-time.Hour))
	}

	r := NewReaper(f.store, f.clock, 0, zerolog.Nop())
	r.pageSize = 3
	n, err := r.Sweep(ctx)
	if err != nil || n != 7 {
		t.Fatalf("expected 7 reaped across pages, got %d, %v", n, err)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewReaper(f.store, f.clock, 0, zerolog.Nop()).Run(ctx, time.Millisecond)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
