// Package model defines the domain types shared across the pipeline.
package model

import (
	"fmt"
	"regexp"
	"time"
)

// Parameters lists the pollutant parameters eligible for anomaly detection
// and history queries, in evaluation order. co is persisted when supplied
// but is not part of this whitelist.
var Parameters = []string{"pm25", "pm10", "no2", "so2", "o3"}

func IsParameter(name string) bool {
	for _, p := range Parameters {
		if p == name {
			return true
		}
	}
	return false
}

// Reading is a single persisted air-quality measurement. Pollutant fields
// are nullable; a missing pollutant is an explicit nil, never zero.
type Reading struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
	PM25      *float64  `json:"pm25"`
	PM10      *float64  `json:"pm10"`
	NO2       *float64  `json:"no2"`
	SO2       *float64  `json:"so2"`
	O3        *float64  `json:"o3"`
	CO        *float64  `json:"co,omitempty"`
}

// Field pairs a pollutant name with its (possibly nil) value.
type Field struct {
	Name  string
	Value *float64
}

// Fields returns all pollutant fields in canonical order, co last.
func (r Reading) Fields() []Field {
	return []Field{
		{"pm25", r.PM25},
		{"pm10", r.PM10},
		{"no2", r.NO2},
		{"so2", r.SO2},
		{"o3", r.O3},
		{"co", r.CO},
	}
}

// Value returns the pollutant value for a parameter name, nil when absent
// or unknown.
func (r Reading) Value(name string) *float64 {
	for _, f := range r.Fields() {
		if f.Name == name {
			return f.Value
		}
	}
	return nil
}

// HasPollutant reports whether any pollutant field is non-nil.
func (r Reading) HasPollutant() bool {
	for _, f := range r.Fields() {
		if f.Value != nil {
			return true
		}
	}
	return false
}

// LocatedReading is a Reading annotated with the geohash cell it was
// resolved from. Returned by the location and recent-points queries.
type LocatedReading struct {
	Reading
	Geohash string `json:"geohash,omitempty"`
}

// IngestRequest is the payload accepted by the ingestion endpoint. The
// timestamp is never client-supplied; the worker stamps it. Unknown JSON
// members (device_id, source, a client timestamp) are tolerated and dropped
// by the decoder.
type IngestRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
	PM25      *float64 `json:"pm25"`
	PM10      *float64 `json:"pm10"`
	NO2       *float64 `json:"no2"`
	SO2       *float64 `json:"so2"`
	O3        *float64 `json:"o3"`
	CO        *float64 `json:"co"`
}

func (q IngestRequest) Validate() error {
	if q.Latitude == nil || q.Longitude == nil {
		return fmt.Errorf("latitude and longitude are required")
	}
	if err := ValidateLatLon(*q.Latitude, *q.Longitude); err != nil {
		return err
	}
	for _, f := range []Field{
		{"pm25", q.PM25}, {"pm10", q.PM10}, {"no2", q.NO2},
		{"so2", q.SO2}, {"o3", q.O3}, {"co", q.CO},
	} {
		if f.Value != nil && *f.Value < 0 {
			return fmt.Errorf("%s must be non-negative, got %v", f.Name, *f.Value)
		}
	}
	return nil
}

// Reading builds the persisted form of the request, stamped with ts.
func (q IngestRequest) Reading(ts time.Time) Reading {
	return Reading{
		Latitude:  *q.Latitude,
		Longitude: *q.Longitude,
		Timestamp: ts.UTC(),
		PM25:      q.PM25,
		PM10:      q.PM10,
		NO2:       q.NO2,
		SO2:       q.SO2,
		O3:        q.O3,
		CO:        q.CO,
	}
}

// Anomaly is a threshold violation derived from exactly one reading.
type Anomaly struct {
	ID          string    `json:"id"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	Timestamp   time.Time `json:"timestamp"`
	Parameter   string    `json:"parameter"`
	Value       float64   `json:"value"`
	Description string    `json:"description"`
}

// AggregatedPoint is one geohash cell of a heatmap response. Averages are
// nil when no contributing reading carried that pollutant.
type AggregatedPoint struct {
	Geohash   string   `json:"geohash"`
	Latitude  float64  `json:"latitude"`
	Longitude float64  `json:"longitude"`
	AvgPM25   *float64 `json:"avg_pm25"`
	AvgPM10   *float64 `json:"avg_pm10"`
	AvgNO2    *float64 `json:"avg_no2"`
	AvgSO2    *float64 `json:"avg_so2"`
	AvgO3     *float64 `json:"avg_o3"`
	Count     int      `json:"count"`
}

// PollutionDensity is a per-bbox aggregate over a time window.
type PollutionDensity struct {
	RegionName      string   `json:"region_name"`
	AveragePM25     *float64 `json:"average_pm25"`
	AveragePM10     *float64 `json:"average_pm10"`
	AverageNO2      *float64 `json:"average_no2"`
	AverageSO2      *float64 `json:"average_so2"`
	AverageO3       *float64 `json:"average_o3"`
	DataPointsCount int      `json:"data_points_count"`
}

// TimeSeriesPoint is one aggregate bucket of a history query.
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}

// BBox is a query bounding box in degrees.
type BBox struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

// Validate enforces coordinate ranges and strict ordering on both axes; a
// degenerate box (min == max) is invalid.
func (b BBox) Validate() error {
	if b.MinLat < -90 || b.MaxLat > 90 {
		return fmt.Errorf("latitude out of range [-90, 90]")
	}
	if b.MinLon < -180 || b.MaxLon > 180 {
		return fmt.Errorf("longitude out of range [-180, 180]")
	}
	if b.MinLat >= b.MaxLat {
		return fmt.Errorf("min_lat must be strictly less than max_lat")
	}
	if b.MinLon >= b.MaxLon {
		return fmt.Errorf("min_lon must be strictly less than max_lon")
	}
	return nil
}

// Label is the human-readable region name used in density responses.
func (b BBox) Label() string {
	return fmt.Sprintf("BBox:[%.2f,%.2f to %.2f,%.2f]", b.MinLat, b.MinLon, b.MaxLat, b.MaxLon)
}

func ValidateLatLon(lat, lon float64) error {
	if lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", lat)
	}
	if lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", lon)
	}
	return nil
}

var windowRe = regexp.MustCompile(`^[0-9]+[smhdw]$`)

// ValidateWindow checks duration strings accepted by the query endpoints,
// e.g. "24h", "10m", "7d".
func ValidateWindow(s string) error {
	if !windowRe.MatchString(s) {
		return fmt.Errorf("invalid duration %q (expected forms like 30s, 10m, 24h, 7d)", s)
	}
	return nil
}
