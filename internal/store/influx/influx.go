// Package influx persists readings and anomalies in InfluxDB and serves the
// spatial and temporal queries behind the API. Bounding-box queries prefer a
// geohash-prefix filter computed via pkg/geohash and fall back to numeric
// tag conversion when the covering set would be too large.
package influx

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api/write"

	obs "github.com/ozanyurt/airgrid/internal/core/observability"
	"github.com/ozanyurt/airgrid/internal/model"
	"github.com/ozanyurt/airgrid/pkg/geohash"
)

const (
	measurementReadings  = "air_quality"
	measurementAnomalies = "air_quality_anomalies"

	defaultRowCap        = 10000
	defaultMaxCoverCells = 4096
	coverMemoSize        = 256
)

var (
	ErrUnavailable  = errors.New("store: influxdb unavailable")
	ErrBadParameter = errors.New("store: unknown parameter")
)

type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string

	// StoragePrecision is the geohash length tagged onto every reading.
	StoragePrecision int
	// RowCap bounds raw rows fetched per spatial query.
	RowCap int
	// MaxCoverCells bounds the prefix covering set; larger bboxes use the
	// numeric lat/lon fallback filter instead.
	MaxCoverCells int
}

// row is one pivoted Flux record.
type row struct {
	values map[string]interface{}
	t      time.Time
}

// Store is safe for concurrent use.
type Store struct {
	client    influxdb2.Client
	bucket    string
	precision int
	rowCap    int
	maxCover  int
	logger    *slog.Logger

	coverMemo *lru.Cache[string, []string]

	// seams for tests
	write func(ctx context.Context, p *write.Point) error
	run   func(ctx context.Context, flux string) ([]row, error)
}

func New(cfg Config, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.RowCap <= 0 {
		cfg.RowCap = defaultRowCap
	}
	if cfg.MaxCoverCells <= 0 {
		cfg.MaxCoverCells = defaultMaxCoverCells
	}
	if cfg.StoragePrecision <= 0 {
		cfg.StoragePrecision = 7
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token,
		influxdb2.DefaultOptions().SetPrecision(time.Millisecond))
	writeAPI := client.WriteAPIBlocking(cfg.Org, cfg.Bucket)
	queryAPI := client.QueryAPI(cfg.Org)

	memo, _ := lru.New[string, []string](coverMemoSize)

	s := &Store{
		client:    client,
		bucket:    cfg.Bucket,
		precision: cfg.StoragePrecision,
		rowCap:    cfg.RowCap,
		maxCover:  cfg.MaxCoverCells,
		logger:    logger,
		coverMemo: memo,
	}
	s.write = func(ctx context.Context, p *write.Point) error {
		start := time.Now()
		err := writeAPI.WritePoint(ctx, p)
		obs.ObserveUpstreamLatency("influx_write", time.Since(start).Seconds())
		return err
	}
	s.run = func(ctx context.Context, flux string) ([]row, error) {
		start := time.Now()
		defer func() {
			obs.ObserveUpstreamLatency("influx_query", time.Since(start).Seconds())
		}()
		res, err := queryAPI.Query(ctx, flux)
		if err != nil {
			return nil, err
		}
		var rows []row
		for res.Next() {
			rec := res.Record()
			rows = append(rows, row{values: rec.Values(), t: rec.Time()})
		}
		if err := res.Err(); err != nil {
			return nil, err
		}
		return rows, nil
	}
	return s
}

// Ping reports whether the store endpoint answers.
func (s *Store) Ping(ctx context.Context) error {
	ok, err := s.client.Ping(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return ErrUnavailable
	}
	return nil
}

func (s *Store) Close() {
	s.client.Close()
}

// StoragePrecision exposes the geohash tag length readings are written with.
func (s *Store) StoragePrecision() int {
	return s.precision
}

// coverForBBox returns the storage-precision prefixes covering the bbox.
// ok is false when the covering set would exceed the configured bound; the
// caller then uses the numeric fallback filter.
func (s *Store) coverForBBox(b model.BBox) ([]string, bool) {
	key := fmt.Sprintf("%.6f,%.6f,%.6f,%.6f@%d", b.MinLat, b.MaxLat, b.MinLon, b.MaxLon, s.precision)
	if cells, ok := s.coverMemo.Get(key); ok {
		return cells, true
	}
	cells, ok := geohash.CoverCapped(geohash.Box{
		MinLat: b.MinLat, MaxLat: b.MaxLat,
		MinLon: b.MinLon, MaxLon: b.MaxLon,
	}, s.precision, s.maxCover)
	if !ok || len(cells) == 0 {
		return nil, false
	}
	s.coverMemo.Add(key, cells)
	return cells, true
}
