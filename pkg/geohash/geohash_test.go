package geohash

import (
	"math"
	"strings"
	"testing"
)

func TestEncode_KnownVectors(t *testing.T) {
	cases := []struct {
		lat, lon  float64
		precision int
		want      string
	}{
		{57.64911, 10.40744, 11, "u4pruydqqvj"},
		{42.605, -5.603, 5, "ezs42"},
		{57.64911, 10.40744, 5, "u4pru"},
		{0, 0, 1, "s"},
	}
	for _, c := range cases {
		got := Encode(c.lat, c.lon, c.precision)
		if got != c.want {
			t.Fatalf("Encode(%v, %v, %d) = %q, want %q", c.lat, c.lon, c.precision, got, c.want)
		}
	}
}

func TestEncode_PrefixTruncation(t *testing.T) {
	lat, lon := 41.01, 28.98
	full := Encode(lat, lon, 12)
	for p := 1; p <= 12; p++ {
		if got := Encode(lat, lon, p); got != full[:p] {
			t.Fatalf("Encode at precision %d = %q, want prefix %q of %q", p, got, full[:p], full)
		}
	}
}

func TestEncode_PrecisionClamped(t *testing.T) {
	if got := Encode(10, 10, 0); len(got) != MinPrecision {
		t.Fatalf("expected clamp to %d characters, got %q", MinPrecision, got)
	}
	if got := Encode(10, 10, 40); len(got) != MaxPrecision {
		t.Fatalf("expected clamp to %d characters, got %q", MaxPrecision, got)
	}
}

func TestDecode_RoundTripContainment(t *testing.T) {
	points := []struct{ lat, lon float64 }{
		{41.01, 28.98},
		{36.88, 30.70},
		{-33.8688, 151.2093},
		{89.9, 179.9},
		{-89.9, -179.9},
		{0, 0},
	}
	for _, pt := range points {
		for p := 1; p <= 12; p++ {
			gh := Encode(pt.lat, pt.lon, p)
			box, err := Decode(gh)
			if err != nil {
				t.Fatalf("Decode(%q): %v", gh, err)
			}
			if !box.Contains(pt.lat, pt.lon) {
				t.Fatalf("Decode(Encode(%v, %v, %d)) = %+v does not contain the point", pt.lat, pt.lon, p, box)
			}
		}
	}
}

func TestDecode_CaseInsensitive(t *testing.T) {
	lower, err := Decode("u4pru")
	if err != nil {
		t.Fatalf("Decode lower: %v", err)
	}
	upper, err := Decode("U4PRU")
	if err != nil {
		t.Fatalf("Decode upper: %v", err)
	}
	if lower != upper {
		t.Fatalf("case-insensitive decode mismatch: %+v vs %+v", lower, upper)
	}
}

func TestDecode_InvalidInput(t *testing.T) {
	bad := []string{"", "u4pra", "u4pri", "u4!b", strings.Repeat("u", MaxPrecision+1)}
	for _, gh := range bad {
		if _, err := Decode(gh); err == nil {
			t.Fatalf("Decode(%q): expected error", gh)
		}
	}
}

func TestDecodeCenter_InsideCell(t *testing.T) {
	gh := Encode(41.01, 28.98, 7)
	lat, lon, err := DecodeCenter(gh)
	if err != nil {
		t.Fatalf("DecodeCenter: %v", err)
	}
	if Encode(lat, lon, 7) != gh {
		t.Fatalf("center (%v, %v) does not re-encode to %q", lat, lon, gh)
	}
}

func TestValidatePrecision_Bounds(t *testing.T) {
	for _, p := range []int{MinPrecision, 7, MaxPrecision} {
		if err := ValidatePrecision(p); err != nil {
			t.Fatalf("ValidatePrecision(%d): %v", p, err)
		}
	}
	for _, p := range []int{0, -1, MaxPrecision + 1} {
		if err := ValidatePrecision(p); err == nil {
			t.Fatalf("ValidatePrecision(%d): expected error", p)
		}
	}
}

func TestBox_IntersectsClosedEdges(t *testing.T) {
	a := Box{MinLat: 0, MaxLat: 10, MinLon: 0, MaxLon: 10}
	touching := Box{MinLat: 10, MaxLat: 20, MinLon: 0, MaxLon: 10}
	if !a.Intersects(touching) {
		t.Fatalf("boxes sharing an edge must intersect")
	}
	disjoint := Box{MinLat: 10.0001, MaxLat: 20, MinLon: 0, MaxLon: 10}
	if a.Intersects(disjoint) {
		t.Fatalf("disjoint boxes must not intersect")
	}
}

func TestHaversine_KnownDistances(t *testing.T) {
	if d := Haversine(41.01, 28.98, 41.01, 28.98); d != 0 {
		t.Fatalf("distance to self = %v, want 0", d)
	}
	// Istanbul to Antalya, roughly 480 km great-circle.
	d := Haversine(41.01, 28.98, 36.88, 30.70)
	if d < 460 || d > 500 {
		t.Fatalf("Istanbul-Antalya distance = %.1f km, want ~480", d)
	}
	if math.IsNaN(d) {
		t.Fatalf("distance is NaN")
	}
}
