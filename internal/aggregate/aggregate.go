// Package aggregate computes per-cell and per-region pollution summaries
// from raw readings.
package aggregate

import (
	"math"
	"sort"

	"github.com/ozanyurt/airgrid/internal/model"
	"github.com/ozanyurt/airgrid/pkg/geohash"
)

// cellAcc accumulates one geohash cell. Positions are averaged over every
// reading in the cell; each pollutant is averaged only over the readings
// that carry it.
type cellAcc struct {
	latSum float64
	lonSum float64
	sums   map[string]float64
	counts map[string]int
	total  int
}

func (c *cellAcc) add(r model.Reading) {
	c.latSum += r.Latitude
	c.lonSum += r.Longitude
	for _, p := range model.Parameters {
		v := r.Value(p)
		if v == nil || math.IsNaN(*v) {
			continue
		}
		c.sums[p] += *v
		c.counts[p]++
	}
	c.total++
}

func (c *cellAcc) avg(parameter string) *float64 {
	n := c.counts[parameter]
	if n == 0 {
		return nil
	}
	v := round(c.sums[parameter]/float64(n), 2)
	return &v
}

func (c *cellAcc) point(gh string) model.AggregatedPoint {
	return model.AggregatedPoint{
		Geohash:   gh,
		Latitude:  round(c.latSum/float64(c.total), 6),
		Longitude: round(c.lonSum/float64(c.total), 6),
		AvgPM25:   c.avg("pm25"),
		AvgPM10:   c.avg("pm10"),
		AvgNO2:    c.avg("no2"),
		AvgSO2:    c.avg("so2"),
		AvgO3:     c.avg("o3"),
		Count:     c.total,
	}
}

// ByGeohash groups readings into cells keyed by the geohash computed at the
// requested precision. Stored geohash tags are ignored; the cell key always
// comes from the reading's coordinates so any display precision works.
// When maxCells > 0 and more cells exist, the cells with the most readings
// are kept. The result is sorted by geohash.
func ByGeohash(readings []model.Reading, precision, maxCells int) []model.AggregatedPoint {
	cells := make(map[string]*cellAcc)
	for _, r := range readings {
		if model.ValidateLatLon(r.Latitude, r.Longitude) != nil {
			continue
		}
		gh := geohash.Encode(r.Latitude, r.Longitude, precision)
		c := cells[gh]
		if c == nil {
			c = &cellAcc{sums: map[string]float64{}, counts: map[string]int{}}
			cells[gh] = c
		}
		c.add(r)
	}

	out := make([]model.AggregatedPoint, 0, len(cells))
	for gh, c := range cells {
		out = append(out, c.point(gh))
	}

	if maxCells > 0 && len(out) > maxCells {
		sort.Slice(out, func(i, j int) bool {
			if out[i].Count != out[j].Count {
				return out[i].Count > out[j].Count
			}
			return out[i].Geohash < out[j].Geohash
		})
		out = out[:maxCells]
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Geohash < out[j].Geohash })
	return out
}

// Density summarises a region: per-pollutant means over non-null values and
// a representative count, which is the largest per-pollutant contribution.
// The second return reports whether contributing pollutants had unequal
// counts, so callers can log the divergence.
func Density(readings []model.Reading, regionName string) (model.PollutionDensity, bool) {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, r := range readings {
		for _, p := range model.Parameters {
			v := r.Value(p)
			if v == nil || math.IsNaN(*v) {
				continue
			}
			sums[p] += *v
			counts[p]++
		}
	}

	d := model.PollutionDensity{RegionName: regionName}
	maxCount := 0
	diverged := false
	for _, p := range model.Parameters {
		n := counts[p]
		if n == 0 {
			continue
		}
		avg := sums[p] / float64(n)
		switch p {
		case "pm25":
			d.AveragePM25 = &avg
		case "pm10":
			d.AveragePM10 = &avg
		case "no2":
			d.AverageNO2 = &avg
		case "so2":
			d.AverageSO2 = &avg
		case "o3":
			d.AverageO3 = &avg
		}
		if maxCount > 0 && n != maxCount {
			diverged = true
		}
		if n > maxCount {
			maxCount = n
		}
	}
	d.DataPointsCount = maxCount
	return d, diverged
}

func round(v float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(v*scale) / scale
}
