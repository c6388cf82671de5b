// Package anomaly evaluates readings against hazardous pollutant thresholds.
package anomaly

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/ozanyurt/airgrid/internal/model"
)

// Thresholds holds the hazardous cutoffs per pollutant. A cutoff of zero
// or below disables detection for that pollutant.
type Thresholds struct {
	PM25 float64
	PM10 float64
	NO2  float64
	SO2  float64
	O3   float64
}

// DefaultThresholds mirror the WHO-derived hazardous bands the pipeline
// ships with. SO2 and O3 start disabled.
func DefaultThresholds() Thresholds {
	return Thresholds{PM25: 250, PM10: 420, NO2: 200}
}

type Detector struct {
	thresholds Thresholds
}

func New(t Thresholds) *Detector {
	return &Detector{thresholds: t}
}

// display names used in anomaly descriptions
var displayNames = map[string]string{
	"pm25": "PM2.5",
	"pm10": "PM10",
	"no2":  "NO2",
	"so2":  "SO2",
	"o3":   "O3",
}

// Check evaluates the reading's pollutants in canonical order and returns
// an anomaly for the first value strictly above its threshold, or nil.
// At most one anomaly is reported per reading.
func (d *Detector) Check(r model.Reading) *model.Anomaly {
	for _, p := range model.Parameters {
		limit := d.limit(p)
		if limit <= 0 {
			continue
		}
		v := r.Value(p)
		if v == nil || *v <= limit {
			continue
		}
		return &model.Anomaly{
			ID:          "anomaly_" + uuid.NewString(),
			Latitude:    r.Latitude,
			Longitude:   r.Longitude,
			Timestamp:   r.Timestamp,
			Parameter:   p,
			Value:       *v,
			Description: fmt.Sprintf("%s value %.1f exceeds hazardous threshold (%.1f)", displayNames[p], *v, limit),
		}
	}
	return nil
}

func (d *Detector) limit(parameter string) float64 {
	switch parameter {
	case "pm25":
		return d.thresholds.PM25
	case "pm10":
		return d.thresholds.PM10
	case "no2":
		return d.thresholds.NO2
	case "so2":
		return d.thresholds.SO2
	case "o3":
		return d.thresholds.O3
	default:
		return 0
	}
}
