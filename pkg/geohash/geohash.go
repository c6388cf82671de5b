// Package geohash implements base-32 geohash encoding, decoding and
// bounding-box covering. The prefix-of relation between two geohashes is
// equivalent to containment of their cells, which is what makes prefix
// filtering on the storage tag work.
package geohash

import (
	"fmt"
	"math"
	"strings"
)

const alphabet = "0123456789bcdefghjkmnpqrstuvwxyz"

const (
	MinPrecision = 1
	MaxPrecision = 12
)

// Box is a geographic rectangle. Bounds are inclusive on all four sides.
type Box struct {
	MinLat float64
	MaxLat float64
	MinLon float64
	MaxLon float64
}

func (b Box) Center() (lat, lon float64) {
	return (b.MinLat + b.MaxLat) / 2, (b.MinLon + b.MaxLon) / 2
}

func (b Box) Contains(lat, lon float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lon >= b.MinLon && lon <= b.MaxLon
}

// Intersects uses closed intervals on both sides so that cells touching a
// boundary count as intersecting.
func (b Box) Intersects(o Box) bool {
	return b.MinLat <= o.MaxLat && b.MaxLat >= o.MinLat &&
		b.MinLon <= o.MaxLon && b.MaxLon >= o.MinLon
}

func ValidatePrecision(p int) error {
	if p < MinPrecision || p > MaxPrecision {
		return fmt.Errorf("invalid geohash precision %d (must be %d..%d)", p, MinPrecision, MaxPrecision)
	}
	return nil
}

// Encode returns the geohash of (lat, lon) at the given precision. Precision
// is clamped to [MinPrecision, MaxPrecision]. Bits alternate starting with
// longitude, five bits per output character.
func Encode(lat, lon float64, precision int) string {
	if precision < MinPrecision {
		precision = MinPrecision
	}
	if precision > MaxPrecision {
		precision = MaxPrecision
	}

	var (
		latLo, latHi = -90.0, 90.0
		lonLo, lonHi = -180.0, 180.0
		even         = true
		bit, idx     int
	)
	buf := make([]byte, 0, precision)
	for len(buf) < precision {
		if even {
			mid := (lonLo + lonHi) / 2
			if lon >= mid {
				idx = idx<<1 | 1
				lonLo = mid
			} else {
				idx <<= 1
				lonHi = mid
			}
		} else {
			mid := (latLo + latHi) / 2
			if lat >= mid {
				idx = idx<<1 | 1
				latLo = mid
			} else {
				idx <<= 1
				latHi = mid
			}
		}
		even = !even
		bit++
		if bit == 5 {
			buf = append(buf, alphabet[idx])
			bit, idx = 0, 0
		}
	}
	return string(buf)
}

// Decode returns the cell bounds of a geohash. Input is case-insensitive.
func Decode(gh string) (Box, error) {
	if gh == "" {
		return Box{}, fmt.Errorf("empty geohash")
	}
	if len(gh) > MaxPrecision {
		return Box{}, fmt.Errorf("geohash %q longer than %d characters", gh, MaxPrecision)
	}

	box := Box{MinLat: -90, MaxLat: 90, MinLon: -180, MaxLon: 180}
	even := true
	for _, c := range []byte(strings.ToLower(gh)) {
		idx := strings.IndexByte(alphabet, c)
		if idx < 0 {
			return Box{}, fmt.Errorf("invalid geohash character %q in %q", c, gh)
		}
		for i := 4; i >= 0; i-- {
			bit := (idx >> uint(i)) & 1
			if even {
				mid := (box.MinLon + box.MaxLon) / 2
				if bit == 1 {
					box.MinLon = mid
				} else {
					box.MaxLon = mid
				}
			} else {
				mid := (box.MinLat + box.MaxLat) / 2
				if bit == 1 {
					box.MinLat = mid
				} else {
					box.MaxLat = mid
				}
			}
			even = !even
		}
	}
	return box, nil
}

// DecodeCenter returns the center point of a geohash cell.
func DecodeCenter(gh string) (lat, lon float64, err error) {
	box, err := Decode(gh)
	if err != nil {
		return 0, 0, err
	}
	lat, lon = box.Center()
	return lat, lon, nil
}

const earthRadiusKm = 6371.0

// Haversine returns the great-circle distance between two points in
// kilometers.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	toRad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := toRad(lat2 - lat1)
	dLon := toRad(lon2 - lon1)
	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(toRad(lat1))*math.Cos(toRad(lat2))*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(a))
}
