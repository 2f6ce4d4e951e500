// gateway serves the worker fleet: WebSocket sessions on /ws, operator
// endpoints under /v1, health probes and Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/walletfleet/fleet-gateway/internal/app"
	"github.com/walletfleet/fleet-gateway/internal/pkg/config"
	"github.com/walletfleet/fleet-gateway/pkg/logger"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gateway: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	log := logger.Init(logger.Options{
		Level:   cfg.LogLevel,
		Pretty:  !cfg.IsProduction(),
		Service: "fleet-gateway",
	})

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}

	gw, err := app.New(ctx, cfg, store, log)
	if err != nil {
		_ = store.Close(context.Background())
		return err
	}
	return gw.Run(ctx)
}
