package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fleetdeck/bridge-dispatch/internal/config"
	"github.com/fleetdeck/bridge-dispatch/internal/db"
	"github.com/fleetdeck/bridge-dispatch/internal/events"
	httpSrv "github.com/fleetdeck/bridge-dispatch/internal/http"
	"github.com/fleetdeck/bridge-dispatch/internal/logger"
	"github.com/fleetdeck/bridge-dispatch/internal/metrics"
	"github.com/fleetdeck/bridge-dispatch/internal/repository"
	"github.com/fleetdeck/bridge-dispatch/internal/runtime"
	"github.com/fleetdeck/bridge-dispatch/internal/service/dispatch"
	"github.com/fleetdeck/bridge-dispatch/internal/vault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dispatch HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		logger.Init(cfg.LogLevel)
		defer logger.Sync()

		metrics.MustRegister(prometheus.DefaultRegisterer)

		mysqlDB, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
			MaxOpenConns:    cfg.MySQL.MaxOpenConns,
			MaxIdleConns:    cfg.MySQL.MaxIdleConns,
			ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
			PingTimeout:     cfg.MySQL.PingTimeout,
		})
		if err != nil {
			return fmt.Errorf("mysql connect: %w", err)
		}
		defer mysqlDB.Close()

		var redisClient *redis.Client
		if cfg.Redis.Addr != "" {
			redisClient, err = db.NewRedisClient(db.RedisOpts{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer redisClient.Close()
		}

		// read-side reports are optional; skip when no DSN configured
		var reports repository.CHDeliveriesRepository
		if cfg.ClickHouse.DSN != "" {
			chDB, err := db.NewClickHouseConnection(db.ClickHouseOpts{
				DSN:             cfg.ClickHouse.DSN,
				MaxOpenConns:    cfg.ClickHouse.MaxOpenConns,
				MaxIdleConns:    cfg.ClickHouse.MaxIdleConns,
				ConnMaxLifetime: cfg.ClickHouse.ConnMaxLifetime,
				PingTimeout:     cfg.ClickHouse.PingTimeout,
			})
			if err != nil {
				logger.Log.Warn("clickhouse unavailable, reports disabled", zap.Error(err))
			} else {
				defer chDB.Close()
				reports = repository.NewCHDeliveriesRepository(chDB)
			}
		}

		publisher, closer := newPublisher(cfg, redisClient)
		if closer != nil {
			defer closer()
		}

		registry := runtime.NewRegistry()
		registry.Register(runtime.DefaultID, runtime.NewOpenclaw(cfg.Gateway))

		vaultClient := vault.New(cfg.Vault)
		connectionsRepo := repository.NewConnectionsRepository(mysqlDB)
		deliveriesRepo := repository.NewDeliveriesRepository(mysqlDB)

		svc := dispatch.New(connectionsRepo, deliveriesRepo, registry, vaultClient, publisher, cfg.Dispatch)

		srv := httpSrv.NewServer(cfg, httpSrv.Deps{
			Dispatch:    svc,
			Connections: connectionsRepo,
			Deliveries:  deliveriesRepo,
			Reports:     reports,
			Vault:       vaultClient,
			Redis:       redisClient,
		})

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start(cfg.HTTP.Addr) }()

		select {
		case err := <-errCh:
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

// newPublisher selects the realtime event sink from config.
func newPublisher(cfg config.Config, redisClient *redis.Client) (events.Publisher, func() error) {
	switch cfg.Events.Sink {
	case "kafka":
		p := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		return p, p.Close
	case "redis":
		if redisClient != nil {
			return events.NewRedisPublisher(redisClient, cfg.Events.Channel), nil
		}
	}
	return events.Nop{}, nil
}
