package influx

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/ozanyurt/airgrid/internal/aggregate"
	"github.com/ozanyurt/airgrid/internal/model"
	"github.com/ozanyurt/airgrid/pkg/geohash"
)

// radiusFallbackKm bounds the nearby search used when a geohash cell holds
// no recent reading.
const radiusFallbackKm = 50.0

var pollutantColumns = []string{"pm25", "pm10", "no2", "so2", "o3", "co"}

// QueryRawInBBox returns the raw readings inside the box for the window.
// Cells from the geohash cover can spill past the box edges, so results are
// always re-checked against the numeric bounds.
func (s *Store) QueryRawInBBox(ctx context.Context, b model.BBox, window string) ([]model.Reading, error) {
	cover, _ := s.coverForBBox(b)
	rows, err := s.run(ctx, fluxRawInBBox(s.bucket, b, window, cover, s.rowCap))
	if err != nil {
		return nil, fmt.Errorf("%w: bbox query: %v", ErrUnavailable, err)
	}
	out := make([]model.Reading, 0, len(rows))
	for _, rw := range rows {
		r, _, ok := readingFromRow(rw)
		if !ok {
			continue
		}
		if r.Latitude < b.MinLat || r.Latitude > b.MaxLat ||
			r.Longitude < b.MinLon || r.Longitude > b.MaxLon {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// QueryLatestCell resolves the most recent reading in the geohash cell that
// contains (lat, lon) at the given precision. When the cell is empty it
// widens to a 50 km radius search and synthesizes a reading from the
// candidates; nil means nothing was found either way.
func (s *Store) QueryLatestCell(ctx context.Context, lat, lon float64, precision int, window string) (*model.LocatedReading, error) {
	if err := model.ValidateLatLon(lat, lon); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadParameter, err)
	}
	prefix := geohash.Encode(lat, lon, precision)
	rows, err := s.run(ctx, fluxLatestInCell(s.bucket, prefix, window))
	if err != nil {
		return nil, fmt.Errorf("%w: latest cell query: %v", ErrUnavailable, err)
	}
	if len(rows) > 0 {
		if r, _, ok := readingFromRow(rows[0]); ok {
			return &model.LocatedReading{Reading: r, Geohash: prefix}, nil
		}
	}
	return s.latestNear(ctx, lat, lon, prefix, window)
}

// latestNear is the radius fallback for QueryLatestCell. The candidate set
// is fetched through a clamped bounding box and narrowed by great-circle
// distance; the synthetic result carries per-pollutant means, the query
// position, and the newest candidate timestamp.
func (s *Store) latestNear(ctx context.Context, lat, lon float64, prefix, window string) (*model.LocatedReading, error) {
	delta := radiusFallbackKm / 111.0
	b := model.BBox{
		MinLat: math.Max(lat-delta, -90),
		MaxLat: math.Min(lat+delta, 90),
		MinLon: math.Max(lon-delta, -180),
		MaxLon: math.Min(lon+delta, 180),
	}
	readings, err := s.QueryRawInBBox(ctx, b, window)
	if err != nil {
		return nil, err
	}
	var candidates []model.Reading
	for _, r := range readings {
		if geohash.Haversine(lat, lon, r.Latitude, r.Longitude) <= radiusFallbackKm {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	s.logger.Debug("cell empty, widened to radius search",
		"geohash", prefix, "candidates", len(candidates))
	return &model.LocatedReading{
		Reading: synthesizeNearby(lat, lon, candidates),
		Geohash: prefix,
	}, nil
}

func synthesizeNearby(lat, lon float64, candidates []model.Reading) model.Reading {
	out := model.Reading{Latitude: lat, Longitude: lon}
	for _, p := range pollutantColumns {
		var sum float64
		n := 0
		for i := range candidates {
			v := candidates[i].Value(p)
			if v == nil || math.IsNaN(*v) {
				continue
			}
			sum += *v
			n++
		}
		if n > 0 {
			mean := sum / float64(n)
			setField(&out, p, &mean)
		}
	}
	for i := range candidates {
		if candidates[i].Timestamp.After(out.Timestamp) {
			out.Timestamp = candidates[i].Timestamp
		}
	}
	return out
}

// QueryHistory returns the mean of one parameter per aggregation step for
// every reading whose geohash starts with prefix.
func (s *Store) QueryHistory(ctx context.Context, prefix, parameter, window, step string) ([]model.TimeSeriesPoint, error) {
	if !model.IsParameter(parameter) {
		return nil, fmt.Errorf("%w: unknown parameter %q", ErrBadParameter, parameter)
	}
	rows, err := s.run(ctx, fluxHistory(s.bucket, prefix, parameter, window, step))
	if err != nil {
		return nil, fmt.Errorf("%w: history query: %v", ErrUnavailable, err)
	}
	out := make([]model.TimeSeriesPoint, 0, len(rows))
	for _, rw := range rows {
		v, ok := toFloat(rw.values["_value"])
		if !ok || math.IsNaN(v) {
			continue
		}
		out = append(out, model.TimeSeriesPoint{Timestamp: rw.t.UTC(), Value: v})
	}
	return out, nil
}

// QueryAnomalies lists recorded anomalies, newest first. With neither bound
// the range is the last 24 hours; with only an end bound the start is
// inferred as 24 hours before it.
func (s *Store) QueryAnomalies(ctx context.Context, start, end *time.Time) ([]model.Anomaly, error) {
	rows, err := s.run(ctx, fluxAnomalies(s.bucket, start, end))
	if err != nil {
		return nil, fmt.Errorf("%w: anomaly query: %v", ErrUnavailable, err)
	}
	out := make([]model.Anomaly, 0, len(rows))
	for _, rw := range rows {
		if a, ok := anomalyFromRow(rw); ok {
			out = append(out, a)
		}
	}
	return out, nil
}

// QueryDensity aggregates a region into per-pollutant means. A nil result
// means the window held no usable readings.
func (s *Store) QueryDensity(ctx context.Context, b model.BBox, window string) (*model.PollutionDensity, error) {
	readings, err := s.QueryRawInBBox(ctx, b, window)
	if err != nil {
		return nil, err
	}
	d, diverged := aggregate.Density(readings, b.Label())
	if d.DataPointsCount == 0 {
		return nil, nil
	}
	if diverged {
		s.logger.Warn("pollutant sample counts diverge in density window", "region", d.RegionName)
	}
	return &d, nil
}

// QueryRecentPoints returns the latest reading per distinct position
// observed in the window, capped at limit.
func (s *Store) QueryRecentPoints(ctx context.Context, limit int, window string) ([]model.LocatedReading, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.run(ctx, fluxRecentPoints(s.bucket, window, limit))
	if err != nil {
		return nil, fmt.Errorf("%w: recent points query: %v", ErrUnavailable, err)
	}
	out := make([]model.LocatedReading, 0, len(rows))
	for _, rw := range rows {
		r, gh, ok := readingFromRow(rw)
		if !ok {
			continue
		}
		out = append(out, model.LocatedReading{Reading: r, Geohash: gh})
	}
	return out, nil
}

// --- row mapping ---

// readingFromRow maps a pivoted result row to a Reading plus its stored
// geohash tag. Rows without parseable coordinates are dropped.
func readingFromRow(rw row) (model.Reading, string, bool) {
	lat, ok := coordFromValue(rw.values["latitude"])
	if !ok {
		return model.Reading{}, "", false
	}
	lon, ok := coordFromValue(rw.values["longitude"])
	if !ok {
		return model.Reading{}, "", false
	}
	r := model.Reading{Latitude: lat, Longitude: lon, Timestamp: rw.t.UTC()}
	for _, p := range pollutantColumns {
		if v, ok := toFloat(rw.values[p]); ok {
			val := v
			setField(&r, p, &val)
		}
	}
	gh, _ := rw.values["geohash"].(string)
	return r, gh, true
}

// anomalyFromRow maps a pivoted anomaly row. Rows written before the id tag
// existed fall back to a timestamp-derived id.
func anomalyFromRow(rw row) (model.Anomaly, bool) {
	lat, ok := coordFromValue(rw.values["latitude"])
	if !ok {
		return model.Anomaly{}, false
	}
	lon, ok := coordFromValue(rw.values["longitude"])
	if !ok {
		return model.Anomaly{}, false
	}
	a := model.Anomaly{Latitude: lat, Longitude: lon, Timestamp: rw.t.UTC()}
	if id, ok := rw.values["id"].(string); ok && id != "" {
		a.ID = id
	} else {
		a.ID = "anomaly_" + rw.t.UTC().Format(time.RFC3339Nano)
	}
	if p, ok := rw.values["parameter"].(string); ok {
		a.Parameter = p
	}
	if v, ok := toFloat(rw.values["value"]); ok {
		a.Value = v
	}
	if d, ok := rw.values["description"].(string); ok {
		a.Description = d
	}
	return a, true
}

func setField(r *model.Reading, name string, v *float64) {
	switch name {
	case "pm25":
		r.PM25 = v
	case "pm10":
		r.PM10 = v
	case "no2":
		r.NO2 = v
	case "so2":
		r.SO2 = v
	case "o3":
		r.O3 = v
	case "co":
		r.CO = v
	}
}

// coordFromValue accepts the string tags written by this service as well as
// numeric columns from older data.
func coordFromValue(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case string:
		f, err := strconv.ParseFloat(t, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	case float64:
		return t, true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int64:
		return float64(t), true
	default:
		return 0, false
	}
}
