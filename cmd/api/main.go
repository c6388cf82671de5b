package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ozanyurt/airgrid/internal/api"
	"github.com/ozanyurt/airgrid/internal/broadcast"
	"github.com/ozanyurt/airgrid/internal/broker"
	"github.com/ozanyurt/airgrid/internal/cache/querycache"
	"github.com/ozanyurt/airgrid/internal/core/config"
	"github.com/ozanyurt/airgrid/internal/core/health"
	"github.com/ozanyurt/airgrid/internal/core/observability"
	"github.com/ozanyurt/airgrid/internal/core/server"
	"github.com/ozanyurt/airgrid/internal/logger"
	"github.com/ozanyurt/airgrid/internal/store/influx"
	"github.com/ozanyurt/airgrid/internal/ws"
)

var Version = "dev"

const (
	brokerDialTimeout    = 15 * time.Second
	brokerAcquireTimeout = 10 * time.Second
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg := config.FromEnv()

	zl := logger.Build(logger.Config{
		Level:   cfg.LogLevel,
		Console: cfg.LogConsole,
		SampleN: cfg.LogSampleN,
		Service: "api",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.SetService("api")
	observability.ExposeBuildInfo(Version)
	appLog.Info("starting api",
		"addr", cfg.HTTPAddr,
		"version", Version,
		"influx", cfg.Influx.URL,
		"rabbit", cfg.Rabbit.Host)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := influx.New(influx.Config{
		URL:              cfg.Influx.URL,
		Token:            cfg.Influx.Token,
		Org:              cfg.Influx.Org,
		Bucket:           cfg.Influx.Bucket,
		StoragePrecision: cfg.GeohashPrecision,
		RowCap:           cfg.QueryRowCap,
	}, appLog)
	defer store.Close()

	pool := broker.NewPool(broker.Dial(cfg.Rabbit.URL(), brokerDialTimeout),
		cfg.Rabbit.PoolSize, brokerAcquireTimeout, appLog)
	pool.Init()
	defer pool.Close()
	pub := broker.NewPublisher(pool, cfg.Rabbit.QueueRaw, cfg.Rabbit.ExchangeBroadcast, appLog)

	// Caching is an accelerator, not a dependency: a dead Redis only costs
	// repeat queries against the store.
	var cache *querycache.Cache
	if cfg.RedisAddr != "" {
		c, err := querycache.New(ctx, cfg.RedisAddr, cfg.CacheTTL)
		if err != nil {
			appLog.Error("query cache disabled", "addr", cfg.RedisAddr, "err", err)
		} else {
			cache = c
			defer cache.Close()
			appLog.Info("query cache enabled", "addr", cfg.RedisAddr, "ttl", cfg.CacheTTL)
		}
	}

	hub := ws.NewHub(appLog)
	defer hub.Shutdown()

	consumer := broadcast.New(broadcast.Config{
		URL:         cfg.Rabbit.URL(),
		Exchange:    cfg.Rabbit.ExchangeBroadcast,
		DialTimeout: brokerDialTimeout,
	}, appLog, hub)
	go func() {
		if err := consumer.Start(ctx); err != nil {
			appLog.Error("broadcast consumer exited", "err", err)
		}
	}()

	ready := []health.Check{
		{Name: "influxdb", Probe: store.Ping},
		{Name: "rabbitmq", Probe: pool.Ping},
	}
	if cache != nil {
		ready = append(ready, health.Check{Name: "redis", Probe: cache.Ping})
	}

	srv := api.New(api.Deps{
		Logger:    appLog,
		Store:     store,
		Publisher: pub,
		Hub:       hub,
		Cache:     cache,
		Ready:     ready,
	})

	go func() {
		if err := server.RunMetrics(ctx, cfg.MetricsAddr, appLog); err != nil {
			appLog.Error("metrics server exited", "err", err)
		}
	}()

	if err := server.Run(ctx, cfg.HTTPAddr, appLog, srv.Router()); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}
