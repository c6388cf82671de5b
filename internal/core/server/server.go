package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ozanyurt/airgrid/internal/core/health"
)

const shutdownGrace = 10 * time.Second

// Run serves handler on addr until ctx is canceled, then shuts down
// gracefully. Write timeout is generous because heatmap queries over a wide
// window can stream large bodies; websocket connections are exempt once
// hijacked.
func Run(ctx context.Context, addr string, logger *slog.Logger, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		logger.Info("http server stopped", "addr", addr)
		return nil
	case err := <-errCh:
		return err
	}
}

// RunMetrics serves the Prometheus registry and a liveness probe on addr.
// The worker has no API listener, so this is its whole HTTP surface.
func RunMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.Liveness())
	return Run(ctx, addr, logger, mux)
}
