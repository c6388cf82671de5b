package influx

import (
	"context"
	"fmt"
	"strconv"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"

	"github.com/ozanyurt/airgrid/internal/model"
	"github.com/ozanyurt/airgrid/pkg/geohash"
)

// WriteReading persists one reading. The timestamp is normalized to UTC, the
// storage-precision geohash is attached as a tag alongside the string-form
// coordinates, and only non-null pollutants become fields. Returns false
// without error when every pollutant is null (nothing to store).
func (s *Store) WriteReading(ctx context.Context, r model.Reading) (bool, error) {
	ts := r.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	ts = ts.UTC()

	p := influxdb2.NewPointWithMeasurement(measurementReadings).
		AddTag("latitude", formatCoord(r.Latitude)).
		AddTag("longitude", formatCoord(r.Longitude)).
		AddTag("geohash", geohash.Encode(r.Latitude, r.Longitude, s.precision)).
		SetTime(ts)

	fields := 0
	for _, f := range r.Fields() {
		if f.Value != nil {
			p.AddField(f.Name, *f.Value)
			fields++
		}
	}
	if fields == 0 {
		s.logger.Warn("skipping reading with no pollutant values",
			"latitude", r.Latitude, "longitude", r.Longitude)
		return false, nil
	}

	if err := s.write(ctx, p); err != nil {
		return false, fmt.Errorf("%w: write reading: %v", ErrUnavailable, err)
	}
	return true, nil
}

// WriteAnomaly persists one anomaly with location, parameter and id as tags
// so the anomaly stream stays queryable by any of them.
func (s *Store) WriteAnomaly(ctx context.Context, a model.Anomaly) error {
	ts := a.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	p := influxdb2.NewPointWithMeasurement(measurementAnomalies).
		AddTag("latitude", formatCoord(a.Latitude)).
		AddTag("longitude", formatCoord(a.Longitude)).
		AddTag("parameter", a.Parameter).
		AddTag("id", a.ID).
		AddField("value", a.Value).
		AddField("description", a.Description).
		SetTime(ts.UTC())

	if err := s.write(ctx, p); err != nil {
		return fmt.Errorf("%w: write anomaly %s: %v", ErrUnavailable, a.ID, err)
	}
	return nil
}

// formatCoord renders a coordinate the way it arrived in JSON, shortest
// round-trip form without an exponent, so tag equality survives.
func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
