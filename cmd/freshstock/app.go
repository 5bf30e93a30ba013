package main

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/warp/freshstock/config"
	"github.com/warp/freshstock/ledger"
	"github.com/warp/freshstock/locker"
	"github.com/warp/freshstock/logging"
	"github.com/warp/freshstock/metrics"
	"github.com/warp/freshstock/store/sqlstore"
)

// app holds the wired dependencies shared by the commands.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	store   *sqlstore.Store
	redis   *redis.Client
	metrics *metrics.Recorder
	engine  *ledger.Engine
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	log := logging.New(cfg.Logger.Level, cfg.Logger.Human)

	store, err := sqlstore.Open(sqlstore.Config{
		Driver:          cfg.Database.Driver,
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	a := &app{cfg: cfg, log: log, store: store}

	var lk ledger.Locker = locker.NewMemory()
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := a.redis.Ping(pingCtx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("connect redis %s: %w", cfg.Redis.Addr, err)
		}
		lk = locker.NewRedis(a.redis, locker.RedisConfig{TTL: cfg.Redis.LockTTL}).
			WithLogger(log.With().Str("component", "locker").Logger())
		log.Info().Str("addr", cfg.Redis.Addr).Msg("using redis chain locks")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	a.metrics = metrics.New(reg)

	a.engine = ledger.NewEngine(store,
		ledger.WithLocker(lk),
		ledger.WithObserver(a.metrics),
		ledger.WithLogger(log.With().Str("component", "ledger").Logger()),
	)

	log.Debug().Str("driver", store.Driver()).Msg("database ready")
	return a, nil
}

func (a *app) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn().Err(err).Msg("close redis")
		}
	}
	if err := a.store.Close(); err != nil {
		a.log.Warn().Err(err).Msg("close database")
	}
}
