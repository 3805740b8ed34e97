package http

import (
	"context"
	"net/http"
	"time"

	"github.com/fleetdeck/bridge-dispatch/internal/config"
	"github.com/fleetdeck/bridge-dispatch/internal/http/middleware"
	"github.com/fleetdeck/bridge-dispatch/internal/logger"
	"github.com/fleetdeck/bridge-dispatch/internal/repository"
	"github.com/fleetdeck/bridge-dispatch/internal/service/dispatch"
	"github.com/fleetdeck/bridge-dispatch/internal/vault"
	echo "github.com/labstack/echo/v4"
	echoMid "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Server struct{ e *echo.Echo }

// Deps are the shared components the serve command wires up.
type Deps struct {
	Dispatch    *dispatch.Service
	Connections repository.ConnectionsRepository
	Deliveries  repository.DeliveriesRepository
	Reports     repository.CHDeliveriesRepository
	Vault       *vault.Client
	Redis       *redis.Client
}

func NewServer(cfg config.Config, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.Use(echoMid.Recover(), echoMid.Logger())

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// health
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	authMW := middleware.APIKeyMiddleware(cfg.Auth.APIKey)
	rlMW := middleware.RateLimitMiddleware(middleware.RateLimitConfig{
		Redis:          deps.Redis,
		RPS:            cfg.RateLimit.RPS,
		KeyPrefix:      "rl:dispatch:",
		Window:         time.Second,
		RetryAfterHint: true,
	})

	v1 := e.Group("/v1", authMW)
	v1.POST("/dispatch/enqueue", enqueueHandler(deps.Dispatch), rlMW)
	v1.POST("/dispatch/drain", drainHandler(deps.Dispatch))
	v1.GET("/deliveries", listDeliveriesHandler(deps.Deliveries))
	v1.PUT("/connections/:id/credentials", storeCredentialsHandler(deps.Connections, deps.Vault))
	if deps.Reports != nil {
		v1.GET("/reports/deliveries", listDeliveryReportsHandler(deps.Reports))
	}

	return &Server{e: e}
}

func (s *Server) Start(addr string) error {
	logger.Log.Info("http: listening", zap.String("addr", addr))
	return s.e.Start(addr)
}
func (s *Server) Shutdown(ctx context.Context) error { return s.e.Shutdown(ctx) }
