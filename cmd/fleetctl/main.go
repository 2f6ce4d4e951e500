// fleetctl runs one-shot operator tasks against the gateway's store and
// relay:
//
//	fleetctl reap                          clear stale connection flags once
//	fleetctl enroll --name NAME            create a worker and print its first token
//	fleetctl send --worker ID --payload J  publish a message on the Redis relay
//
// Configuration comes from the same environment variables as the gateway.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/walletfleet/fleet-gateway/internal/pkg/config"
	"github.com/walletfleet/fleet-gateway/pkg/logger"
)

var errUsage = errors.New("usage: fleetctl <reap|enroll|send> [flags]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdout)
	stop()
	if err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "fleetctl: %v\n", err)
		os.Exit(2)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	log := logger.New(logger.Options{Level: cfg.LogLevel, Pretty: true, Output: os.Stderr, Service: "fleetctl"})

	switch args[0] {
	case "reap":
		return reap(ctx, cfg, args[1:], out, log)
	case "enroll":
		return enroll(ctx, cfg, args[1:], out, log)
	case "send":
		return send(ctx, cfg, args[1:], out, log)
	default:
		return fmt.Errorf("unknown command %q: %w", args[0], errUsage)
	}
}
