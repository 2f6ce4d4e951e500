package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/walletfleet/fleet-gateway/internal/app"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/db/redis"
	"github.com/walletfleet/fleet-gateway/internal/pkg/clock"
	"github.com/walletfleet/fleet-gateway/internal/pkg/config"
)

func reap(ctx context.Context, cfg *config.Config, args []string, out io.Writer, log zerolog.Logger) error {
	flags := pflag.NewFlagSet("reap", pflag.ContinueOnError)
	staleAfter := flags.Duration("stale-after", cfg.Reaper.StaleAfter, "silence after which a connection flag is cleared")
	if err := flags.Parse(args); err != nil {
		return err
	}
	cfg.Reaper.StaleAfter = *staleAfter

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close(context.Background())

	svc := app.NewServices(cfg, store, clock.Real(), log)
	n, err := svc.Reaper.Sweep(ctx)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "reaped %d stale connection(s)\n", n)
	return err
}

type enrollOutput struct {
	WorkerID       string `json:"worker_id"`
	Name           string `json:"name"`
	Token          string `json:"token"`
	TokenExpiresAt string `json:"token_expires_at"`
}

func enroll(ctx context.Context, cfg *config.Config, args []string, out io.Writer, log zerolog.Logger) error {
	flags := pflag.NewFlagSet("enroll", pflag.ContinueOnError)
	name := flags.String("name", "", "display name for the new worker (3-100 characters)")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *name == "" {
		return errors.New("enroll: --name is required")
	}

	store, err := app.OpenStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close(context.Background())

	svc := app.NewServices(cfg, store, clock.Real(), log)
	enr, err := svc.Enroll.Enroll(ctx, *name)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(enrollOutput{
		WorkerID:       enr.Worker.ID,
		Name:           enr.Worker.Name,
		Token:          enr.Token,
		TokenExpiresAt: enr.Worker.TokenExpiresAt.Format(time.RFC3339),
	})
}

func send(ctx context.Context, cfg *config.Config, args []string, out io.Writer, log zerolog.Logger) error {
	flags := pflag.NewFlagSet("send", pflag.ContinueOnError)
	worker := flags.String("worker", "", "target worker id")
	payload := flags.String("payload", "", "JSON object to deliver")
	channel := flags.String("channel", cfg.Redis.Channel, "relay channel")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if *worker == "" || *payload == "" {
		return errors.New("send: --worker and --payload are required")
	}

	client, err := redis.Connect(ctx, redis.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
	if err != nil {
		return err
	}
	defer client.Close()

	relay := redis.NewRelay(client, *channel, log)
	if err := relay.Publish(ctx, *worker, json.RawMessage(*payload)); err != nil {
		return err
	}
	_, err = fmt.Fprintf(out, "published to %s\n", *channel)
	return err
}
