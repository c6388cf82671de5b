package observability

import (
	"strconv"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var serviceLabel atomic.Value

func init() {
	serviceLabel.Store("airgrid")
}

// SetService names the binary (api, worker, loadgen) on every sample so one
// Prometheus can scrape all replicas.
func SetService(s string) {
	if s == "" {
		s = "airgrid"
	}
	serviceLabel.Store(s)
}

func getService() string {
	if v := serviceLabel.Load(); v != nil {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return "airgrid"
}

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "route", "status", "service"},
	)

	httpRequestDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~20s
		},
		[]string{"method", "route", "status", "service"},
	)

	upstreamLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_latency_seconds",
			Help:    "Latency of upstream calls (influx, rabbit) in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"upstream", "service"},
	)

	buildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_build_info",
			Help: "Build information for the binary.",
		},
		[]string{"version"},
	)

	cacheResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_results_total",
			Help: "Query cache results by outcome.",
		},
		[]string{"outcome", "service"},
	)

	cacheOpTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_op_total",
			Help: "Redis operations by op and status.",
		},
		[]string{"op", "status"},
	)

	cacheOpDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "redis_operation_duration_seconds",
			Help:    "Duration of Redis operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12),
		},
		[]string{"op"},
	)

	publishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "broker_publish_total",
			Help: "Broker publish attempts by destination and outcome.",
		},
		[]string{"destination", "outcome", "service"},
	)

	workerMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_messages_total",
			Help: "Raw queue messages processed by outcome.",
		},
		[]string{"outcome", "service"},
	)

	consumeLagSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_consume_lag_seconds",
			Help:    "Time between publish and consume of a raw queue message.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~160s
		},
		[]string{"service"},
	)

	anomaliesDetectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "anomalies_detected_total",
			Help: "Threshold violations detected, by pollutant.",
		},
		[]string{"parameter", "service"},
	)

	wsSubscribers = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ws_subscribers",
			Help: "Currently connected websocket subscribers.",
		},
		[]string{"service"},
	)

	wsBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ws_broadcasts_total",
			Help: "Frames fanned out to websocket subscribers.",
		},
		[]string{"frame", "service"},
	)
)

func ObserveHTTP(method, route string, status int, durationSeconds float64) {
	s := getService()
	st := strconv.Itoa(status)
	httpRequestsTotal.WithLabelValues(method, route, st, s).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route, st, s).Observe(durationSeconds)
}

func ObserveUpstreamLatency(upstream string, durationSeconds float64) {
	upstreamLatencySeconds.WithLabelValues(upstream, getService()).Observe(durationSeconds)
}

func ObserveCacheOp(op string, err error, durationSeconds float64) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	cacheOpTotal.WithLabelValues(op, status).Inc()
	cacheOpDurationSeconds.WithLabelValues(op).Observe(durationSeconds)
}

func IncCacheHit(service string) {
	if service == "" {
		service = getService()
	}
	cacheResults.WithLabelValues("hit", service).Inc()
}

func IncCacheMiss(service string) {
	if service == "" {
		service = getService()
	}
	cacheResults.WithLabelValues("miss", service).Inc()
}

func IncPublish(destination, outcome string) {
	publishTotal.WithLabelValues(destination, outcome, getService()).Inc()
}

func IncWorkerMessage(outcome string) {
	workerMessagesTotal.WithLabelValues(outcome, getService()).Inc()
}

func ObserveConsumeLag(seconds float64) {
	consumeLagSeconds.WithLabelValues(getService()).Observe(seconds)
}

func IncAnomalyDetected(parameter string) {
	anomaliesDetectedTotal.WithLabelValues(parameter, getService()).Inc()
}

func IncWSSubscribers() {
	wsSubscribers.WithLabelValues(getService()).Inc()
}

func DecWSSubscribers() {
	wsSubscribers.WithLabelValues(getService()).Dec()
}

func IncWSBroadcast(frame string) {
	wsBroadcastsTotal.WithLabelValues(frame, getService()).Inc()
}

func ExposeBuildInfo(version string) {
	if version == "" {
		version = "dev"
	}
	buildInfo.WithLabelValues(version).Set(1)
}
