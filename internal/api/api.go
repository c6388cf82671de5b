// Package api wires the HTTP surface of the pipeline: ingestion, spatial
// queries, anomaly listings and the websocket anomaly feed.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ozanyurt/airgrid/internal/cache/querycache"
	"github.com/ozanyurt/airgrid/internal/core/health"
	mw "github.com/ozanyurt/airgrid/internal/core/middleware"
	"github.com/ozanyurt/airgrid/internal/model"
	"github.com/ozanyurt/airgrid/internal/store/influx"
	"github.com/ozanyurt/airgrid/internal/ws"
)

// Store is the slice of the Influx adapter the handlers read from.
type Store interface {
	QueryRawInBBox(ctx context.Context, b model.BBox, window string) ([]model.Reading, error)
	QueryLatestCell(ctx context.Context, lat, lon float64, precision int, window string) (*model.LocatedReading, error)
	QueryHistory(ctx context.Context, prefix, parameter, window, step string) ([]model.TimeSeriesPoint, error)
	QueryAnomalies(ctx context.Context, start, end *time.Time) ([]model.Anomaly, error)
	QueryDensity(ctx context.Context, b model.BBox, window string) (*model.PollutionDensity, error)
	QueryRecentPoints(ctx context.Context, limit int, window string) ([]model.LocatedReading, error)
	Ping(ctx context.Context) error
}

// Publisher pushes validated readings and test anomalies onto the broker.
type Publisher interface {
	PublishRaw(ctx context.Context, v any) error
	PublishBroadcast(ctx context.Context, v any) error
}

type Deps struct {
	Logger    *slog.Logger
	Store     Store
	Publisher Publisher
	Hub       *ws.Hub
	Cache     *querycache.Cache // nil disables response caching
	Ready     []health.Check
}

type Server struct {
	logger *slog.Logger
	store  Store
	pub    Publisher
	hub    *ws.Hub
	cache  *querycache.Cache
	ready  []health.Check
}

func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		logger: logger,
		store:  d.Store,
		pub:    d.Publisher,
		hub:    d.Hub,
		cache:  d.Cache,
		ready:  d.Ready,
	}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(mw.Recover())
	r.Use(mw.Logging(s.logger))
	r.Use(mw.Metrics())
	r.Use(mw.CORS())

	r.Get("/", s.handleRoot)
	r.Get("/healthz", health.Liveness())
	r.Get("/readyz", health.Readiness(s.ready...))

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/air_quality/ingest", s.handleIngest)
		r.Get("/air_quality/heatmap_data", s.handleHeatmap)
		r.Get("/air_quality/points", s.handlePoints)
		r.Get("/air_quality/location", s.handleLocation)
		r.Get("/air_quality/history/coordinates/{parameter}", s.handleHistoryCoords)
		r.Get("/air_quality/history/{geohash}/{parameter}", s.handleHistoryCell)
		r.Get("/anomalies", s.handleAnomalies)
		r.Get("/pollution_density", s.handleDensity)
		r.Get("/ws/anomalies", s.handleWS)
		r.Post("/test/broadcast-anomaly", s.handleTestBroadcast)
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	status := "connected"
	if err := s.store.Ping(r.Context()); err != nil {
		status = "disconnected"
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"message":      "Welcome to the Air Quality API!",
		"store_status": status,
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	buf, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", "err", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(buf)
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]string{"error": msg})
}

// writeStoreError maps store failures onto the HTTP taxonomy. Bad input
// surfaces its reason, everything else stays in the logs.
func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, influx.ErrBadParameter):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, influx.ErrUnavailable):
		s.logger.Error("store query failed", "err", err)
		s.writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		s.logger.Error("store query failed", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// respondCached serves the rendered body for key from Redis when present,
// otherwise renders via fetch and stores the result. Cache failures degrade
// to a direct query.
func (s *Server) respondCached(w http.ResponseWriter, r *http.Request, key string, fetch func() (any, error)) {
	if body, ok, err := s.cache.Get(r.Context(), key); err != nil {
		s.logger.Warn("cache read failed", "key", key, "err", err)
	} else if ok {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
		return
	}

	v, err := fetch()
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	buf, err := json.Marshal(v)
	if err != nil {
		s.logger.Error("encode response", "err", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if err := s.cache.Set(r.Context(), key, buf); err != nil {
		s.logger.Warn("cache write failed", "key", key, "err", err)
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(buf)
}
