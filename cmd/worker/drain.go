package worker

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
	"github.com/fleetdeck/bridge-dispatch/internal/logger"
	"github.com/fleetdeck/bridge-dispatch/internal/metrics"
	"github.com/fleetdeck/bridge-dispatch/internal/repository"
	"github.com/fleetdeck/bridge-dispatch/internal/runtime"
	"github.com/fleetdeck/bridge-dispatch/internal/service/dispatch"
	"github.com/fleetdeck/bridge-dispatch/internal/vault"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var drainCmd = &cobra.Command{
	Use:   "drain",
	Short: "Poll and drain due deliveries on an interval",
	RunE:  runDrain,
}

// runDrain ticks the resilient drain until shutdown. Overlap with route-
// triggered drains is expected; the per-row claim keeps them from double
// dispatching.
func runDrain(cmd *cobra.Command, args []string) error {
	cfgPath, _ := cmd.Root().PersistentFlags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Init(cfg.LogLevel)
	defer logger.Sync()

	metrics.MustRegister(prometheus.DefaultRegisterer)

	dbx, err := db.NewMySQLConnection(cfg.MySQL.DSN, db.MySQLOpts{
		MaxOpenConns:    cfg.MySQL.MaxOpenConns,
		MaxIdleConns:    cfg.MySQL.MaxIdleConns,
		ConnMaxLifetime: cfg.MySQL.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.MySQL.ConnMaxIdleTime,
		PingTimeout:     cfg.MySQL.PingTimeout,
	})
	if err != nil {
		return fmt.Errorf("mysql connect: %w", err)
	}
	defer dbx.Close()

	var publisher events.Publisher = events.Nop{}
	switch cfg.Events.Sink {
	case "kafka":
		kp := events.NewKafkaPublisher(cfg.Events.Brokers, cfg.Events.Topic)
		defer kp.Close()
		publisher = kp
	case "redis":
		if cfg.Redis.Addr != "" {
			rdb, err := db.NewRedisClient(db.RedisOpts{
				Addr:        cfg.Redis.Addr,
				Password:    cfg.Redis.Password,
				DB:          cfg.Redis.DB,
				DialTimeout: cfg.Redis.DialTimeout,
			})
			if err != nil {
				return fmt.Errorf("redis connect: %w", err)
			}
			defer rdb.Close()
			publisher = events.NewRedisPublisher(rdb, cfg.Events.Channel)
		}
	}

	registry := runtime.NewRegistry()
	registry.Register(runtime.DefaultID, runtime.NewOpenclaw(cfg.Gateway))

	svc := dispatch.New(
		repository.NewConnectionsRepository(dbx),
		repository.NewDeliveriesRepository(dbx),
		registry,
		vault.New(cfg.Vault),
		publisher,
		cfg.Dispatch,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("drain worker started",
		zap.Duration("interval", cfg.Dispatch.PollInterval),
		zap.Int("limit", cfg.Dispatch.DrainLimit))

	tick := time.NewTicker(cfg.Dispatch.PollInterval)
	defer tick.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Log.Info("drain worker stopped")
			return nil
		case <-tick.C:
			n := svc.DrainSafe(ctx, dispatch.DrainInput{Limit: cfg.Dispatch.DrainLimit})
			if n > 0 {
				logger.Log.Info("drained deliveries", zap.Int("completed", n))
			}
		}
	}
}
