package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"github.com/ozanyurt/airgrid/internal/cache/querycache"
	"github.com/ozanyurt/airgrid/internal/model"
	"github.com/ozanyurt/airgrid/internal/store/influx"
	"github.com/ozanyurt/airgrid/internal/ws"
)

func fp(v float64) *float64 { return &v }

func TestHeatmap_AggregatesPerCell(t *testing.T) {
	ts := time.Now().UTC()
	store := &fakeStore{readings: []model.Reading{
		{Latitude: 57.64911, Longitude: 10.40744, Timestamp: ts, PM25: fp(10)},
		{Latitude: 57.64912, Longitude: 10.40745, Timestamp: ts, PM25: fp(20)},
	}}
	h := newTestServer(store, &fakePublisher{}).Router()

	rr := doRequest(t, h, http.MethodGet,
		"/api/v1/air_quality/heatmap_data?min_lat=55&max_lat=58&min_lon=9&max_lon=11", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if store.lastWindow != "24h" {
		t.Fatalf("window=%q want 24h default", store.lastWindow)
	}

	var points []model.AggregatedPoint
	if err := json.Unmarshal(rr.Body.Bytes(), &points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 1 {
		t.Fatalf("got %d cells, want 1", len(points))
	}
	p := points[0]
	if len(p.Geohash) != 5 {
		t.Fatalf("geohash %q, want precision 5 at default zoom", p.Geohash)
	}
	if p.Count != 2 || p.AvgPM25 == nil || *p.AvgPM25 != 15 {
		t.Fatalf("cell = %+v", p)
	}
}

func TestHeatmap_ZoomControlsPrecision(t *testing.T) {
	store := &fakeStore{readings: []model.Reading{
		{Latitude: 57.64911, Longitude: 10.40744, Timestamp: time.Now().UTC(), PM25: fp(10)},
	}}
	h := newTestServer(store, &fakePublisher{}).Router()

	rr := doRequest(t, h, http.MethodGet,
		"/api/v1/air_quality/heatmap_data?min_lat=55&max_lat=58&min_lon=9&max_lon=11&zoom=3", "")
	var points []model.AggregatedPoint
	if err := json.Unmarshal(rr.Body.Bytes(), &points); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(points) != 1 || len(points[0].Geohash) != 2 {
		t.Fatalf("points=%+v, want one precision-2 cell at zoom 3", points)
	}
}

func TestHeatmap_EmptyWindowIsEmptyArray(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePublisher{}).Router()
	rr := doRequest(t, h, http.MethodGet,
		"/api/v1/air_quality/heatmap_data?min_lat=55&max_lat=58&min_lon=9&max_lon=11", "")
	if body := rr.Body.String(); body != "[]" {
		t.Fatalf("body=%q want []", body)
	}
}

func TestHeatmap_ValidatesInput(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePublisher{}).Router()
	for _, target := range []string{
		"/api/v1/air_quality/heatmap_data",
		"/api/v1/air_quality/heatmap_data?min_lat=58&max_lat=55&min_lon=9&max_lon=11",
		"/api/v1/air_quality/heatmap_data?min_lat=55&max_lat=55&min_lon=9&max_lon=11",
		"/api/v1/air_quality/heatmap_data?min_lat=55&max_lat=58&min_lon=9&max_lon=11&window=24x",
		"/api/v1/air_quality/heatmap_data?min_lat=55&max_lat=58&min_lon=9&max_lon=11&zoom=high",
		"/api/v1/air_quality/heatmap_data?min_lat=55&max_lat=58&min_lon=9&max_lon=11&max_cells=-1",
	} {
		rr := doRequest(t, h, http.MethodGet, target, "")
		if rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status=%d want 400", target, rr.Code)
		}
	}
}

func TestPoints_DefaultsAndBounds(t *testing.T) {
	store := &fakeStore{}
	h := newTestServer(store, &fakePublisher{}).Router()

	rr := doRequest(t, h, http.MethodGet, "/api/v1/air_quality/points", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if store.lastLimit != 20 || store.lastWindow != "1h" {
		t.Fatalf("limit=%d window=%q, want defaults 20/1h", store.lastLimit, store.lastWindow)
	}
	if rr.Body.String() != "[]" {
		t.Fatalf("body=%q want []", rr.Body.String())
	}

	for _, target := range []string{
		"/api/v1/air_quality/points?limit=0",
		"/api/v1/air_quality/points?limit=101",
		"/api/v1/air_quality/points?limit=abc",
	} {
		if rr := doRequest(t, h, http.MethodGet, target, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status=%d want 400", target, rr.Code)
		}
	}
}

func TestPoints_ReturnsLocatedReadings(t *testing.T) {
	store := &fakeStore{points: []model.LocatedReading{
		{Reading: model.Reading{Latitude: 57, Longitude: 10, PM25: fp(12.5)}, Geohash: "u4pruyd"},
	}}
	h := newTestServer(store, &fakePublisher{}).Router()

	rr := doRequest(t, h, http.MethodGet, "/api/v1/air_quality/points?limit=5&window=2h", "")
	if store.lastLimit != 5 || store.lastWindow != "2h" {
		t.Fatalf("limit=%d window=%q", store.lastLimit, store.lastWindow)
	}
	var got []model.LocatedReading
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Geohash != "u4pruyd" {
		t.Fatalf("got=%+v", got)
	}
}

func TestLocation_NullWhenNothingFound(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePublisher{}).Router()
	rr := doRequest(t, h, http.MethodGet, "/api/v1/air_quality/location?lat=41.01&lon=28.98", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if body := rr.Body.String(); body != "null" {
		t.Fatalf("body=%q want null", body)
	}
}

func TestLocation_ReturnsReadingWithDefaults(t *testing.T) {
	store := &fakeStore{located: &model.LocatedReading{
		Reading: model.Reading{Latitude: 41.01, Longitude: 28.98, PM25: fp(25)},
		Geohash: "sxk97",
	}}
	h := newTestServer(store, &fakePublisher{}).Router()

	rr := doRequest(t, h, http.MethodGet, "/api/v1/air_quality/location?lat=41.01&lon=28.98", "")
	if store.lastPrec != 7 || store.lastWindow != "24h" {
		t.Fatalf("precision=%d window=%q, want defaults 7/24h", store.lastPrec, store.lastWindow)
	}
	var got model.LocatedReading
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Geohash != "sxk97" || got.PM25 == nil {
		t.Fatalf("got=%+v", got)
	}
}

func TestLocation_ValidatesInput(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePublisher{}).Router()
	for _, target := range []string{
		"/api/v1/air_quality/location",
		"/api/v1/air_quality/location?lat=95&lon=28.98",
		"/api/v1/air_quality/location?lat=41.01&lon=200",
		"/api/v1/air_quality/location?lat=41.01&lon=28.98&geohash_precision=1",
		"/api/v1/air_quality/location?lat=41.01&lon=28.98&geohash_precision=10",
	} {
		if rr := doRequest(t, h, http.MethodGet, target, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status=%d want 400", target, rr.Code)
		}
	}
}

func TestHistoryCell_PassesPathAndQuery(t *testing.T) {
	store := &fakeStore{history: []model.TimeSeriesPoint{
		{Timestamp: time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC), Value: 12.5},
	}}
	h := newTestServer(store, &fakePublisher{}).Router()

	rr := doRequest(t, h, http.MethodGet,
		"/api/v1/air_quality/history/u4pru/pm25?window=6h&aggregate=5m", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if store.lastPrefix != "u4pru" || store.lastParam != "pm25" ||
		store.lastWindow != "6h" || store.lastStep != "5m" {
		t.Fatalf("store saw %q/%q window=%q step=%q",
			store.lastPrefix, store.lastParam, store.lastWindow, store.lastStep)
	}
	var got []model.TimeSeriesPoint
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Value != 12.5 {
		t.Fatalf("got=%+v", got)
	}
}

func TestHistoryCell_ValidatesInput(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePublisher{}).Router()
	for _, target := range []string{
		"/api/v1/air_quality/history/u4pri/pm25",  // 'i' is not a geohash character
		"/api/v1/air_quality/history/u4pru/humid", // unknown parameter
		"/api/v1/air_quality/history/u4pru/pm25?window=bad",
		"/api/v1/air_quality/history/u4pru/pm25?aggregate=10",
	} {
		if rr := doRequest(t, h, http.MethodGet, target, ""); rr.Code != http.StatusBadRequest {
			t.Errorf("%s: status=%d want 400", target, rr.Code)
		}
	}
}

func TestHistoryCoords_EncodesPrefix(t *testing.T) {
	store := &fakeStore{}
	h := newTestServer(store, &fakePublisher{}).Router()

	rr := doRequest(t, h, http.MethodGet,
		"/api/v1/air_quality/history/coordinates/no2?lat=57.64911&lon=10.40744&geohash_precision=5", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}
	if store.lastPrefix != "u4pru" || store.lastParam != "no2" {
		t.Fatalf("store saw %q/%q, want u4pru/no2", store.lastPrefix, store.lastParam)
	}
}

func TestAnomalies_TimeRangePlumbing(t *testing.T) {
	store := &fakeStore{}
	h := newTestServer(store, &fakePublisher{}).Router()

	rr := doRequest(t, h, http.MethodGet, "/api/v1/anomalies", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if store.lastStart != nil || store.lastEnd != nil {
		t.Fatal("no bounds given, want nil/nil")
	}
	if rr.Body.String() != "[]" {
		t.Fatalf("body=%q want []", rr.Body.String())
	}

	start := "2026-02-01T10:00:00Z"
	end := "2026-02-01T16:00:00Z"
	doRequest(t, h, http.MethodGet,
		fmt.Sprintf("/api/v1/anomalies?start_time=%s&end_time=%s", start, end), "")
	if store.lastStart == nil || store.lastEnd == nil {
		t.Fatal("bounds not forwarded")
	}
	if !store.lastStart.Equal(time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)) {
		t.Fatalf("start=%v", store.lastStart)
	}

	rr = doRequest(t, h, http.MethodGet, "/api/v1/anomalies?start_time=yesterday", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status=%d want 400 for bad timestamp", rr.Code)
	}
}

func TestDensity_NullWhenNoData(t *testing.T) {
	h := newTestServer(&fakeStore{}, &fakePublisher{}).Router()
	rr := doRequest(t, h, http.MethodGet,
		"/api/v1/pollution_density?min_lat=40.9&max_lat=41.1&min_lon=28.9&max_lon=29.1", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if body := rr.Body.String(); body != "null" {
		t.Fatalf("body=%q want null", body)
	}
}

func TestDensity_ReturnsAggregate(t *testing.T) {
	store := &fakeStore{density: &model.PollutionDensity{
		RegionName:      "BBox:[40.90,28.90 to 41.10,29.10]",
		AveragePM25:     fp(25.5),
		DataPointsCount: 12,
	}}
	h := newTestServer(store, &fakePublisher{}).Router()

	rr := doRequest(t, h, http.MethodGet,
		"/api/v1/pollution_density?min_lat=40.9&max_lat=41.1&min_lon=28.9&max_lon=29.1&window=12h", "")
	if store.lastWindow != "12h" {
		t.Fatalf("window=%q", store.lastWindow)
	}
	var got model.PollutionDensity
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.DataPointsCount != 12 || got.AveragePM25 == nil {
		t.Fatalf("got=%+v", got)
	}
}

func TestStoreUnavailable_MapsTo503(t *testing.T) {
	store := &fakeStore{err: fmt.Errorf("%w: dial refused", influx.ErrUnavailable)}
	h := newTestServer(store, &fakePublisher{}).Router()

	rr := doRequest(t, h, http.MethodGet, "/api/v1/air_quality/points", "")
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status=%d want 503", rr.Code)
	}
	var body map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &body)
	if body["error"] == "" {
		t.Fatalf("body=%s", rr.Body.String())
	}
}

func TestCachedEndpoints_SecondRequestSkipsStore(t *testing.T) {
	mr := miniredis.RunT(t)
	cache, err := querycache.New(t.Context(), mr.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("querycache.New: %v", err)
	}
	t.Cleanup(func() { _ = cache.Close() })

	store := &fakeStore{readings: []model.Reading{
		{Latitude: 57.64911, Longitude: 10.40744, Timestamp: time.Now().UTC(), PM25: fp(10)},
	}}
	s := New(Deps{
		Logger:    discard(),
		Store:     store,
		Publisher: &fakePublisher{},
		Hub:       ws.NewHub(discard()),
		Cache:     cache,
	})
	h := s.Router()

	target := "/api/v1/air_quality/heatmap_data?min_lat=55&max_lat=58&min_lon=9&max_lon=11"
	first := doRequest(t, h, http.MethodGet, target, "")
	if first.Code != http.StatusOK {
		t.Fatalf("status=%d", first.Code)
	}
	if store.callCount() != 1 {
		t.Fatalf("calls=%d want 1", store.callCount())
	}

	second := doRequest(t, h, http.MethodGet, target, "")
	if second.Code != http.StatusOK {
		t.Fatalf("status=%d", second.Code)
	}
	if store.callCount() != 1 {
		t.Fatalf("calls=%d, cached request must not hit the store", store.callCount())
	}
	if first.Body.String() != second.Body.String() {
		t.Fatal("cached body differs from rendered body")
	}

	// A different window is a different key.
	doRequest(t, h, http.MethodGet, target+"&window=12h", "")
	if store.callCount() != 2 {
		t.Fatalf("calls=%d want 2 after distinct params", store.callCount())
	}
}
