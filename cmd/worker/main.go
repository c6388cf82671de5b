package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ozanyurt/airgrid/internal/anomaly"
	"github.com/ozanyurt/airgrid/internal/broker"
	"github.com/ozanyurt/airgrid/internal/core/config"
	"github.com/ozanyurt/airgrid/internal/core/observability"
	"github.com/ozanyurt/airgrid/internal/core/server"
	"github.com/ozanyurt/airgrid/internal/logger"
	"github.com/ozanyurt/airgrid/internal/store/influx"
	"github.com/ozanyurt/airgrid/internal/worker"
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
		Service: "worker",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	observability.SetService("worker")
	observability.ExposeBuildInfo(Version)
	appLog.Info("starting worker",
		"queue", cfg.Rabbit.QueueRaw,
		"version", Version,
		"influx", cfg.Influx.URL,
		"rabbit", cfg.Rabbit.Host,
		"prefetch", cfg.Rabbit.Prefetch)

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

	// The worker only publishes anomaly broadcasts, so a small pool suffices.
	pool := broker.NewPool(broker.Dial(cfg.Rabbit.URL(), brokerDialTimeout),
		2, brokerAcquireTimeout, appLog)
	pool.Init()
	defer pool.Close()
	pub := broker.NewPublisher(pool, cfg.Rabbit.QueueRaw, cfg.Rabbit.ExchangeBroadcast, appLog)

	det := anomaly.New(anomaly.Thresholds{
		PM25: cfg.ThresholdPM25,
		PM10: cfg.ThresholdPM10,
		NO2:  cfg.ThresholdNO2,
		SO2:  cfg.ThresholdSO2,
		O3:   cfg.ThresholdO3,
	})

	w := worker.New(worker.Config{
		URL:         cfg.Rabbit.URL(),
		Queue:       cfg.Rabbit.QueueRaw,
		Prefetch:    cfg.Rabbit.Prefetch,
		DialTimeout: brokerDialTimeout,
	}, appLog, store, det, pub)

	go func() {
		if err := server.RunMetrics(ctx, cfg.MetricsAddr, appLog); err != nil {
			appLog.Error("metrics server exited", "err", err)
		}
	}()

	if err := w.Start(ctx); err != nil {
		appLog.Error("worker exited with error", "err", err)
		return 1
	}
	appLog.Info("worker stopped")
	return 0
}
