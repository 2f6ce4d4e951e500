// Package app assembles the gateway from configuration: store, services,
// hub, HTTP router, reaper and Redis relay.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/api"
	"github.com/walletfleet/fleet-gateway/internal/api/handler"
	"github.com/walletfleet/fleet-gateway/internal/core/credential"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/core/service"
	"github.com/walletfleet/fleet-gateway/internal/hub"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/db"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/db/mongo"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/db/redis"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/ws"
	"github.com/walletfleet/fleet-gateway/internal/pkg/clock"
	"github.com/walletfleet/fleet-gateway/internal/pkg/config"
)

const shutdownTimeout = 15 * time.Second

// OpenStore opens the durable store selected by cfg.
func OpenStore(ctx context.Context, cfg *config.Config) (*db.Store, error) {
	return db.Open(ctx, db.Config{
		Driver: cfg.Store.Driver,
		Mongo: mongo.Config{
			URI:      cfg.Store.MongoURI,
			Database: cfg.Store.MongoDatabase,
		},
		PostgresDSN: cfg.Store.PostgresDSN,
	})
}

// Services are the protocol services built over one store.
type Services struct {
	Handshake ports.HandshakeService
	Rotation  ports.RotationService
	Telemetry ports.TelemetryService
	Enroll    ports.EnrollService
	Reaper    *service.Reaper
}

func NewServices(cfg *config.Config, store *db.Store, clk clock.Clock, log zerolog.Logger) *Services {
	codec := credential.NewCodec(cfg.Gateway.BcryptCost)
	return &Services{
		Handshake: service.NewHandshakeService(store.Workers, store.Audit, codec, clk,
			log.With().Str("component", "handshake").Logger()),
		Rotation: service.NewRotationService(store.Workers, store.Audit, codec, clk, service.RotationPolicy{
			Validity:   cfg.Rotation.Validity,
			Threshold:  cfg.Rotation.Threshold,
			AckTimeout: cfg.Rotation.AckTimeout,
		}, log.With().Str("component", "rotation").Logger()),
		Telemetry: service.NewTelemetryService(store.Telemetry, clk, cfg.Gateway.MaxBatchSize,
			log.With().Str("component", "telemetry").Logger()),
		Enroll: service.NewEnrollService(store.Workers, store.Audit, codec, clk, cfg.Rotation.Validity,
			log.With().Str("component", "enroll").Logger()),
		Reaper: service.NewReaper(store.Workers, clk, cfg.Reaper.StaleAfter,
			log.With().Str("component", "reaper").Logger()),
	}
}

// App is a fully wired gateway process.
type App struct {
	cfg      *config.Config
	log      zerolog.Logger
	store    *db.Store
	redis    *goredis.Client
	relay    *redis.Relay
	services *Services
	hub      *hub.Hub
	echo     *echo.Echo
}

// New wires the gateway over an opened store. Redis is connected only when
// enabled.
func New(ctx context.Context, cfg *config.Config, store *db.Store, log zerolog.Logger) (*App, error) {
	clk := clock.Real()
	a := &App{
		cfg:      cfg,
		log:      log,
		store:    store,
		services: NewServices(cfg, store, clk, log),
	}

	a.hub = hub.New(hub.Deps{
		Workers:   store.Workers,
		Handshake: a.services.Handshake,
		Rotation:  a.services.Rotation,
		Telemetry: a.services.Telemetry,
		Clock:     clk,
	}, hub.Config{
		AuthTimeout:   cfg.Gateway.AuthTimeout,
		TouchInterval: cfg.Gateway.TouchInterval,
		StoreTimeout:  cfg.Store.Timeout,
		Mailbox:       cfg.Gateway.Mailbox,
	}, log)

	checks := map[string]ports.Pinger{"store": store.Pinger}
	var relay handler.CommandPublisher
	if cfg.Redis.Enabled {
		client, err := redis.Connect(ctx, redis.Config{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		if err != nil {
			return nil, err
		}
		a.redis = client
		a.relay = redis.NewRelay(client, cfg.Redis.Channel, log)
		checks["redis"] = redis.Pinger{Client: client}
		relay = a.relay
	}

	a.echo = api.NewRouter(api.RouterDeps{
		Gateway:   a.hub,
		Upgrader:  ws.NewUpgrader(cfg.Gateway.MaxMessageBytes, nil),
		Relay:     relay,
		Checks:    checks,
		JWTSecret: cfg.JWTSecret,
		Log:       log,
	})
	return a, nil
}

// Handler exposes the HTTP router.
func (a *App) Handler() http.Handler { return a.echo }

// Run serves until ctx is cancelled, then shuts down in order: stop
// accepting, close live sessions, stop background loops, close stores.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	if a.cfg.Reaper.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a.services.Reaper.Run(ctx, a.cfg.Reaper.Interval)
		}()
	}
	if a.relay != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := a.relay.Listen(ctx, a.hub); err != nil {
				a.log.Error().Err(err).Msg("relay stopped")
			}
		}()
	}

	serveErr := make(chan error, 1)
	go func() {
		addr := ":" + a.cfg.Port
		a.log.Info().Str("addr", addr).Str("store", a.cfg.Store.Driver).Msg("gateway listening")
		if err := a.echo.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
	case err, ok := <-serveErr:
		if ok {
			runErr = fmt.Errorf("http server: %w", err)
		}
	}

	a.log.Info().Msg("shutting down")
	shutdownCtx, done := context.WithTimeout(context.Background(), shutdownTimeout)
	defer done()

	if err := a.echo.Shutdown(shutdownCtx); err != nil {
		a.log.Warn().Err(err).Msg("http shutdown")
	}
	a.hub.Shutdown(shutdownCtx)
	cancel()
	wg.Wait()

	a.Close(shutdownCtx)
	return runErr
}

// Close releases external connections.
func (a *App) Close(ctx context.Context) {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("redis close")
		}
	}
	if err := a.store.Close(ctx); err != nil {
		a.log.Warn().Err(err).Msg("store close")
	}
}
