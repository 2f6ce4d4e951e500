package api

import (
	"github.com/labstack/echo-contrib/echoprometheus"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/walletfleet/fleet-gateway/internal/api/handler"
	"github.com/walletfleet/fleet-gateway/internal/api/middleware"
	"github.com/walletfleet/fleet-gateway/internal/core/domain"
	"github.com/walletfleet/fleet-gateway/internal/core/ports"
	"github.com/walletfleet/fleet-gateway/internal/infrastructure/ws"
)

// Gateway is the hub as seen by the HTTP layer.
type Gateway interface {
	handler.SessionServer
	handler.WorkerGateway
}

// RouterDeps carries everything NewRouter wires.
type RouterDeps struct {
	Gateway  Gateway
	Upgrader *ws.Upgrader
	// Relay is optional; without it operator messages reach only workers
	// connected to this instance.
	Relay     handler.CommandPublisher
	Checks    map[string]ports.Pinger
	JWTSecret string
	// Registerer receives the HTTP metrics. Nil uses the default registry.
	Registerer prometheus.Registerer
	Log        zerolog.Logger
}

// NewRouter builds and returns the Echo instance with all routes registered.
func NewRouter(d RouterDeps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = handler.NewValidator()
	e.HTTPErrorHandler = NewHTTPErrorHandler(d.Log)

	// --- Global middleware ---
	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.RequestID())
	e.Use(requestLogger(d.Log))
	e.Use(echoprometheus.NewMiddlewareWithConfig(echoprometheus.MiddlewareConfig{
		Subsystem:  "http",
		Registerer: d.Registerer,
		Skipper: func(c echo.Context) bool {
			return c.Path() == "/metrics"
		},
	}))

	// --- Worker sessions ---
	gatewayHandler := handler.NewGatewayHandler(d.Upgrader, d.Gateway, d.Log)
	e.GET("/ws", gatewayHandler.Connect)

	// --- Operator API ---
	workerHandler := handler.NewWorkerHandler(d.Gateway, d.Relay)
	v1 := e.Group("/v1", middleware.Auth(d.JWTSecret), middleware.RBAC(domain.RoleAdmin))
	v1.GET("/workers/:id/connection", workerHandler.Connection)
	v1.POST("/workers/:id/messages", workerHandler.SendMessage)

	// --- Health probes and metrics (no auth required) ---
	healthHandler := handler.NewHealthHandler()
	readinessHandler := handler.NewReadinessHandler(d.Checks)

	e.GET("/health", healthHandler.Liveness)           // liveness: is the process alive?
	e.GET("/health/ready", readinessHandler.Readiness) // readiness: are dependencies up?
	e.GET("/metrics", echoprometheus.NewHandler())

	return e
}

// requestLogger writes one zerolog entry per request.
func requestLogger(log zerolog.Logger) echo.MiddlewareFunc {
	log = log.With().Str("component", "http").Logger()
	return echomiddleware.RequestLoggerWithConfig(echomiddleware.RequestLoggerConfig{
		LogMethod:    true,
		LogURI:       true,
		LogStatus:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		HandleError:  true,
		LogValuesFunc: func(_ echo.Context, v echomiddleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil {
				ev = log.Warn().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("request")
			return nil
		},
	})
}
