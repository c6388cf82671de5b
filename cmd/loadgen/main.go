package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/ozanyurt/airgrid/internal/model"
)

type Config struct {
	TargetURL      string
	Workers        int
	Rate           float64
	Duration       time.Duration
	AnomalyChance  int
	RequestTimeout time.Duration
	SummaryPath    string
}

func loadConfig() Config {
	var cfg Config
	flag.StringVar(&cfg.TargetURL, "target", "http://localhost:8000/api/v1/air_quality/ingest", "Ingest endpoint URL")
	flag.IntVar(&cfg.Workers, "workers", runtime.NumCPU(), "Concurrent senders")
	flag.Float64Var(&cfg.Rate, "rate", 50, "Total requests per second across all workers")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "Test duration")
	flag.IntVar(&cfg.AnomalyChance, "anomaly-chance", 10, "Percent of values drawn from the hazardous band")
	flag.DurationVar(&cfg.RequestTimeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.StringVar(&cfg.SummaryPath, "out", "", "Optional JSON summary file")
	flag.Parse()
	return cfg
}

type coord struct {
	lat float64
	lon float64
}

// europeGrid covers Europe at roughly 50 km spacing, so sustained runs paint
// the whole map rather than hammering one geohash cell.
func europeGrid() []coord {
	const latMin, latMax = 35.0, 70.0
	const lonMin, lonMax = -25.0, 40.0
	const step = 0.45

	var grid []coord
	for lat := latMin; lat <= latMax; lat += step {
		for lon := lonMin; lon <= lonMax; lon += step {
			grid = append(grid, coord{lat, lon})
		}
	}
	return grid
}

type paramRange struct {
	name       string
	normalMin  float64
	normalMax  float64
	anomalyMin float64
	anomalyMax float64
}

// Normal bands sit below the detector thresholds, anomaly bands start just
// above them.
var paramRanges = []paramRange{
	{"pm25", 5, 80, 250.1, 500},
	{"pm10", 10, 150, 420.1, 800},
	{"no2", 10, 100, 200.1, 400},
	{"so2", 1, 20, 50.1, 150},
	{"o3", 20, 180, 240.1, 400},
}

func buildBody(c coord, anomalyChance int, r *rand.Rand) ([]byte, error) {
	req := model.IngestRequest{Latitude: &c.lat, Longitude: &c.lon}
	for _, pr := range paramRanges {
		lo, hi := pr.normalMin, pr.normalMax
		if r.Intn(100) < anomalyChance {
			lo, hi = pr.anomalyMin, pr.anomalyMax
		}
		v := lo + r.Float64()*(hi-lo)
		switch pr.name {
		case "pm25":
			req.PM25 = &v
		case "pm10":
			req.PM10 = &v
		case "no2":
			req.NO2 = &v
		case "so2":
			req.SO2 = &v
		case "o3":
			req.O3 = &v
		}
	}
	return json.Marshal(req)
}

type sample struct {
	Latency  time.Duration
	Status   int
	ErrorMsg string
}

type summary struct {
	StartTime     time.Time `json:"start"`
	EndTime       time.Time `json:"end"`
	DurationSec   float64   `json:"duration_sec"`
	TotalRequests int64     `json:"total"`
	AcceptedCount int64     `json:"accepted"`
	ErrorCount    int64     `json:"errors"`
	ThroughputRPS float64   `json:"throughput_rps"`
	P50Ms         float64   `json:"p50_ms"`
	P95Ms         float64   `json:"p95_ms"`
	P99Ms         float64   `json:"p99_ms"`
	Workers       int       `json:"workers"`
	TargetRate    float64   `json:"target_rate"`
	AnomalyChance int       `json:"anomaly_chance"`
	TargetURL     string    `json:"target"`
}

type aggregatedResult struct {
	total    int64
	accepted int64
	errors   int64
	latMs    []float64
}

func main() {
	cfg := loadConfig()
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Rate <= 0 {
		log.Fatalf("rate must be positive, got %v", cfg.Rate)
	}

	grid := europeGrid()
	log.Printf("loadgen start target=%s dur=%s workers=%d rate=%.1f rps anomaly=%d%% grid=%d points",
		cfg.TargetURL, cfg.Duration, cfg.Workers, cfg.Rate, cfg.AnomalyChance, len(grid))

	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			DialContext:         (&net.Dialer{Timeout: 4 * time.Second, KeepAlive: 30 * time.Second}).DialContext,
			MaxIdleConns:        1024,
			MaxIdleConnsPerHost: 256,
			IdleConnTimeout:     90 * time.Second,
		},
		Timeout: cfg.RequestTimeout,
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	samplesChan := make(chan sample, 4096)
	resultsChan := make(chan aggregatedResult, 1)
	go func() {
		var total, accepted, errorCount int64
		latencies := make([]float64, 0, 1<<20)
		for s := range samplesChan {
			total++
			if s.ErrorMsg == "" && s.Status == http.StatusAccepted {
				accepted++
				latencies = append(latencies, float64(s.Latency.Microseconds())/1000.0)
			} else {
				errorCount++
			}
		}
		resultsChan <- aggregatedResult{total: total, accepted: accepted, errors: errorCount, latMs: latencies}
	}()

	// interval per worker keeps the aggregate rate at cfg.Rate
	interval := time.Duration(float64(time.Second) * float64(cfg.Workers) / cfg.Rate)
	if interval < time.Millisecond {
		interval = time.Millisecond
	}

	seed := time.Now().UnixNano()
	startTime := time.Now()

	var wg sync.WaitGroup
	wg.Add(cfg.Workers)
	for workerID := range cfg.Workers {
		go func(id int) {
			defer wg.Done()

			rWorker := rand.New(rand.NewSource(seed + int64(id) + 1))

			// each worker cycles through its own slice of the grid
			per := len(grid) / cfg.Workers
			start := id * per
			end := start + per
			if id == cfg.Workers-1 {
				end = len(grid)
			}
			if start >= end {
				start, end = 0, len(grid)
			}
			idx := start

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}

				if idx >= end {
					idx = start
				}
				point := grid[idx]
				idx++

				body, err := buildBody(point, cfg.AnomalyChance, rWorker)
				if err != nil {
					continue
				}

				startReq := time.Now()
				req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.TargetURL, bytes.NewReader(body))
				if err != nil {
					continue
				}
				req.Header.Set("Content-Type", "application/json")
				resp, err := httpClient.Do(req)
				latency := time.Since(startReq)

				result := sample{Latency: latency}
				if err != nil {
					result.ErrorMsg = err.Error()
				} else {
					result.Status = resp.StatusCode
					_, _ = io.Copy(io.Discard, resp.Body)
					_ = resp.Body.Close()
					if resp.StatusCode != http.StatusAccepted {
						result.ErrorMsg = fmt.Sprintf("status=%d", resp.StatusCode)
					}
				}

				select {
				case samplesChan <- result:
				case <-ctx.Done():
					return
				}
			}
		}(workerID)
	}

	go func() {
		<-ctx.Done()
		wg.Wait()
		close(samplesChan)
	}()

	aggResult := <-resultsChan
	endTime := time.Now()
	elapsed := endTime.Sub(startTime).Seconds()

	sort.Float64s(aggResult.latMs)
	p50 := percentile(aggResult.latMs, 50)
	p95 := percentile(aggResult.latMs, 95)
	p99 := percentile(aggResult.latMs, 99)

	runSummary := summary{
		StartTime:     startTime.UTC(),
		EndTime:       endTime.UTC(),
		DurationSec:   elapsed,
		TotalRequests: aggResult.total,
		AcceptedCount: aggResult.accepted,
		ErrorCount:    aggResult.errors,
		ThroughputRPS: float64(aggResult.total) / elapsed,
		P50Ms:         p50,
		P95Ms:         p95,
		P99Ms:         p99,
		Workers:       cfg.Workers,
		TargetRate:    cfg.Rate,
		AnomalyChance: cfg.AnomalyChance,
		TargetURL:     cfg.TargetURL,
	}

	if cfg.SummaryPath != "" {
		jsonFile, err := os.Create(filepath.Clean(cfg.SummaryPath))
		if err != nil {
			log.Printf("open summary: %v", err)
		} else {
			enc := json.NewEncoder(jsonFile)
			enc.SetIndent("", "  ")
			_ = enc.Encode(runSummary)
			_ = jsonFile.Close()
			log.Printf("wrote %s", cfg.SummaryPath)
		}
	}

	log.Printf("done: total=%d accepted=%d err=%d thr=%.2f rps p50=%.1fms p95=%.1fms p99=%.1fms",
		aggResult.total, aggResult.accepted, aggResult.errors, runSummary.ThroughputRPS, p50, p95, p99)
}

// percentile linearly interpolates over an ascending sample.
func percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch {
	case n == 0:
		return math.NaN()
	case p <= 0:
		return sorted[0]
	case p >= 100:
		return sorted[n-1]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	if lo+1 >= n {
		return sorted[n-1]
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[lo+1]-sorted[lo])
}
