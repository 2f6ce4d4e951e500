package redis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/queue"
	"github.com/walletfleet/fleet-gateway/internal/metrics"
)

// DefaultRelayChannel is the pub/sub channel other processes publish
// worker commands on.
const DefaultRelayChannel = "fleet:worker-commands"

const relayShards = 8

// Command is one relayed point-to-point message.
type Command struct {
	WorkerID string          `json:"worker_id"`
	Payload  json.RawMessage `json:"payload"`
}

// Sender delivers a payload to a live worker session.
type Sender interface {
	Send(ctx context.Context, workerID string, payload json.RawMessage) error
}

// Relay bridges the Redis channel to the hub. Delivery is best effort: a
// command for a worker without a live session on this instance is dropped.
type Relay struct {
	client  *redis.Client
	channel string
	log     zerolog.Logger
}

func NewRelay(client *redis.Client, channel string, log zerolog.Logger) *Relay {
	if channel == "" {
		channel = DefaultRelayChannel
	}
	return &Relay{
		client:  client,
		channel: channel,
		log:     log.With().Str("component", "relay").Str("channel", channel).Logger(),
	}
}

// Publish sends a command to every gateway listening on the channel.
func (r *Relay) Publish(ctx context.Context, workerID string, payload json.RawMessage) error {
	cmd, err := encodeCommand(workerID, payload)
	if err != nil {
		return err
	}
	if err := r.client.Publish(ctx, r.channel, cmd).Err(); err != nil {
		return fmt.Errorf("relay publish: %w", err)
	}
	return nil
}

// Listen consumes the channel until ctx ends. Commands are delivered in
// parallel across workers and in publish order for any one worker.
func (r *Relay) Listen(ctx context.Context, sender Sender) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("relay subscribe: %w", err)
	}
	r.log.Info().Msg("relay listening")

	d := queue.NewDispatcher(relayShards,
		func(cmd Command) string { return cmd.WorkerID },
		func(ctx context.Context, cmd Command) { r.deliver(ctx, sender, cmd) },
	)
	ctx, cancel := context.WithCancel(ctx)
	d.Start(ctx)
	defer d.Wait()
	defer cancel()

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return errors.New("relay: subscription closed")
			}
			cmd, ok := r.decode([]byte(msg.Payload))
			if !ok {
				continue
			}
			if err := d.Enqueue(ctx, cmd); err != nil {
				return nil
			}
		}
	}
}

func (r *Relay) decode(raw []byte) (Command, bool) {
	cmd, err := decodeCommand(raw)
	if err != nil {
		metrics.RelayCommandsTotal.WithLabelValues("invalid").Inc()
		r.log.Warn().Err(err).Msg("dropping relayed command")
		return Command{}, false
	}
	return cmd, true
}

func (r *Relay) deliver(ctx context.Context, sender Sender, cmd Command) {
	log := r.log.With().Str("worker_id", cmd.WorkerID).Logger()
	switch err := sender.Send(ctx, cmd.WorkerID, cmd.Payload); {
	case err == nil:
		metrics.RelayCommandsTotal.WithLabelValues("delivered").Inc()
		log.Debug().Msg("relayed command delivered")
	case errors.Is(err, domain.ErrNotConnected):
		metrics.RelayCommandsTotal.WithLabelValues("not_connected").Inc()
		log.Debug().Msg("relayed command target not connected here")
	default:
		metrics.RelayCommandsTotal.WithLabelValues("error").Inc()
		log.Warn().Err(err).Msg("relayed command delivery failed")
	}
}

func encodeCommand(workerID string, payload json.RawMessage) ([]byte, error) {
	if workerID == "" {
		return nil, errors.New("relay: worker_id is required")
	}
	if !isObject(payload) {
		return nil, errors.New("relay: payload must be a JSON object")
	}
	return json.Marshal(Command{WorkerID: workerID, Payload: payload})
}

func decodeCommand(raw []byte) (Command, error) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		return Command{}, fmt.Errorf("relay: malformed command: %w", err)
	}
	if cmd.WorkerID == "" {
		return Command{}, errors.New("relay: worker_id is required")
	}
	if !isObject(cmd.Payload) {
		return Command{}, errors.New("relay: payload must be a JSON object")
	}
	return cmd, nil
}

func isObject(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) > 0 && raw[0] == '{' && json.Valid(raw)
}
