package api

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/ozanyurt/airgrid/internal/model"
)

func queryFloat(q url.Values, name string) (float64, error) {
	raw := q.Get(name)
	if raw == "" {
		return 0, fmt.Errorf("missing required parameter: %s", name)
	}
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return f, nil
}

func queryInt(q url.Values, name string, def int) (int, error) {
	raw := q.Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return n, nil
}

func queryBBox(q url.Values) (model.BBox, error) {
	var b model.BBox
	var err error
	if b.MinLat, err = queryFloat(q, "min_lat"); err != nil {
		return b, err
	}
	if b.MaxLat, err = queryFloat(q, "max_lat"); err != nil {
		return b, err
	}
	if b.MinLon, err = queryFloat(q, "min_lon"); err != nil {
		return b, err
	}
	if b.MaxLon, err = queryFloat(q, "max_lon"); err != nil {
		return b, err
	}
	if err := b.Validate(); err != nil {
		return b, err
	}
	return b, nil
}

func queryWindow(q url.Values, name, def string) (string, error) {
	raw := q.Get(name)
	if raw == "" {
		raw = def
	}
	if err := model.ValidateWindow(raw); err != nil {
		return "", err
	}
	return raw, nil
}

func queryPrecision(q url.Values) (int, error) {
	p, err := queryInt(q, "geohash_precision", 7)
	if err != nil {
		return 0, err
	}
	if p < 2 || p > 9 {
		return 0, fmt.Errorf("geohash_precision must be between 2 and 9, got %d", p)
	}
	return p, nil
}

// precisionForZoom maps web-map zoom levels onto geohash cell sizes so a
// heatmap stays a few hundred cells regardless of how far out the client is.
func precisionForZoom(zoom int) int {
	switch {
	case zoom <= 3:
		return 2
	case zoom <= 5:
		return 3
	case zoom <= 7:
		return 4
	case zoom <= 10:
		return 5
	case zoom <= 13:
		return 6
	default:
		return 7
	}
}
