package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ozanyurt/airgrid/internal/aggregate"
	"github.com/ozanyurt/airgrid/internal/cache/querycache"
	"github.com/ozanyurt/airgrid/internal/model"
	"github.com/ozanyurt/airgrid/pkg/geohash"
)

func (s *Server) handleHeatmap(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	b, err := queryBBox(q)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	zoom, err := queryInt(q, "zoom", 10)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := queryWindow(q, "window", "24h")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	maxCells, err := queryInt(q, "max_cells", 0)
	if err != nil || maxCells < 0 {
		s.writeError(w, http.StatusBadRequest, "invalid max_cells")
		return
	}
	precision := precisionForZoom(zoom)

	key := querycache.Key("heatmap", fmt.Sprintf("bbox=%.6f,%.6f,%.6f,%.6f p=%d w=%s mc=%d",
		b.MinLat, b.MaxLat, b.MinLon, b.MaxLon, precision, window, maxCells))
	s.respondCached(w, r, key, func() (any, error) {
		readings, err := s.store.QueryRawInBBox(r.Context(), b, window)
		if err != nil {
			return nil, err
		}
		points := aggregate.ByGeohash(readings, precision, maxCells)
		if points == nil {
			points = []model.AggregatedPoint{}
		}
		return points, nil
	})
}

func (s *Server) handlePoints(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	limit, err := queryInt(q, "limit", 20)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if limit < 1 || limit > 100 {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("limit must be between 1 and 100, got %d", limit))
		return
	}
	window, err := queryWindow(q, "window", "1h")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	points, err := s.store.QueryRecentPoints(r.Context(), limit, window)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if points == nil {
		points = []model.LocatedReading{}
	}
	s.writeJSON(w, http.StatusOK, points)
}

func (s *Server) handleLocation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := queryFloat(q, "lat")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lon, err := queryFloat(q, "lon")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := model.ValidateLatLon(lat, lon); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	precision, err := queryPrecision(q)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := queryWindow(q, "window", "24h")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	reading, err := s.store.QueryLatestCell(r.Context(), lat, lon, precision, window)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleHistoryCell(w http.ResponseWriter, r *http.Request) {
	prefix := chi.URLParam(r, "geohash")
	if _, err := geohash.Decode(prefix); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serveHistory(w, r, prefix, chi.URLParam(r, "parameter"))
}

func (s *Server) handleHistoryCoords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	lat, err := queryFloat(q, "lat")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	lon, err := queryFloat(q, "lon")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := model.ValidateLatLon(lat, lon); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	precision, err := queryPrecision(q)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	prefix := geohash.Encode(lat, lon, precision)
	s.serveHistory(w, r, prefix, chi.URLParam(r, "parameter"))
}

func (s *Server) serveHistory(w http.ResponseWriter, r *http.Request, prefix, parameter string) {
	if !model.IsParameter(parameter) {
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown parameter: %q", parameter))
		return
	}
	q := r.URL.Query()
	window, err := queryWindow(q, "window", "24h")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	step, err := queryWindow(q, "aggregate", "10m")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := querycache.Key("history", fmt.Sprintf("%s/%s w=%s a=%s", prefix, parameter, window, step))
	s.respondCached(w, r, key, func() (any, error) {
		points, err := s.store.QueryHistory(r.Context(), prefix, parameter, window, step)
		if err != nil {
			return nil, err
		}
		if points == nil {
			points = []model.TimeSeriesPoint{}
		}
		return points, nil
	})
}

func (s *Server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var start, end *time.Time
	if raw := q.Get("start_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid start_time: %q", raw))
			return
		}
		start = &t
	}
	if raw := q.Get("end_time"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid end_time: %q", raw))
			return
		}
		end = &t
	}

	anomalies, err := s.store.QueryAnomalies(r.Context(), start, end)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if anomalies == nil {
		anomalies = []model.Anomaly{}
	}
	s.writeJSON(w, http.StatusOK, anomalies)
}

func (s *Server) handleDensity(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	b, err := queryBBox(q)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	window, err := queryWindow(q, "window", "24h")
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	key := querycache.Key("density", fmt.Sprintf("bbox=%.6f,%.6f,%.6f,%.6f w=%s",
		b.MinLat, b.MaxLat, b.MinLon, b.MaxLon, window))
	s.respondCached(w, r, key, func() (any, error) {
		return s.store.QueryDensity(r.Context(), b, window)
	})
}
